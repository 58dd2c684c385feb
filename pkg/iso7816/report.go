package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/card-decoder/pkg/tlv"
)

// SelectResult is the trace of a SELECT exchange.
type SelectResult struct {
	Trace
}

// NewSelectResult fails unless t starts with a SELECT command.
func NewSelectResult(t Trace) (*SelectResult, error) {
	if err := startsWith(t, INS_SELECT); err != nil {
		return nil, err
	}
	return &SelectResult{Trace: t}, nil
}

// Describe reports the selection, the exchange and the returned FCI.
//
//	SELECT Select by DF Name (AID), First/Only | Return FCI
//	  target: 315041592E5359532E4444463031 "1PAY.SYS.DDF01"
//	  status: Process completed, 43 bytes available
//	  then:   GET RESPONSE -> [9000] SW_NO_ERROR
//	  data:   43 bytes
//	    6F
//	      84: ...
func (r *SelectResult) Describe() string {
	cmd := r.Trace[0].Command

	var rep report
	rep.printf(0, "SELECT %s, %s | %s", SelectionMethod(cmd.P1), FileOccurrence(cmd.P2&0x03), SelectionControl(cmd.P2&0x0C))
	if len(cmd.Data) > 0 {
		rep.printf(1, "target: %X %q", cmd.Data, tlv.MakeSafeASCII(cmd.Data))
	}
	rep.exchange(r.Trace)
	return rep.String()
}

// ReadRecordResult is the trace of a READ RECORD exchange.
type ReadRecordResult struct {
	Trace
}

// NewReadRecordResult fails unless t starts with a READ RECORD command.
func NewReadRecordResult(t Trace) (*ReadRecordResult, error) {
	if err := startsWith(t, INS_READ_RECORD); err != nil {
		return nil, err
	}
	return &ReadRecordResult{Trace: t}, nil
}

// Describe reports the record asked for, the exchange and the record.
func (r *ReadRecordResult) Describe() string {
	cmd := r.Trace[0].Command
	sfi := cmd.P2 >> 3
	mode := ReadRecordMode(cmd.P2 & 0x07)

	target := "current EF"
	if sfi > 0 {
		target = fmt.Sprintf("SFI %d", sfi)
	}
	which := fmt.Sprintf("record identifier %02X", cmd.P1)
	if mode&0b100 != 0 {
		which = fmt.Sprintf("record %d", cmd.P1)
		if cmd.P1 == 0 {
			which = "current record"
		}
	}

	var rep report
	rep.printf(0, "READ RECORD %s of %s (%s)", which, target, mode)
	rep.exchange(r.Trace)
	return rep.String()
}

func startsWith(t Trace, ins InsCode) error {
	if len(t) == 0 {
		return fmt.Errorf("cannot create result from empty trace")
	}
	if got := t[0].Command.Instruction.Raw; got != ins {
		return fmt.Errorf("trace must start with %02X command (got %02X)", byte(ins), byte(got))
	}
	return nil
}

type report struct {
	lines []string
}

func (r *report) printf(indent int, format string, args ...interface{}) {
	r.lines = append(r.lines, strings.Repeat("  ", indent)+fmt.Sprintf(format, args...))
}

func (r *report) String() string {
	return strings.Join(r.lines, "\n")
}

// exchange lists the status of every transaction, then the final data as
// a TLV tree, or in hex when it does not parse.
func (r *report) exchange(t Trace) {
	for i, tx := range t {
		if tx.Response == nil {
			r.printf(1, "no response")
			return
		}
		if i == 0 {
			r.printf(1, "status: %s", tx.Response.Status.Verbose())
			continue
		}
		r.printf(1, "then:   %s -> %s", commandName(tx.Command), tx.Response.Status.Verbose())
	}

	data := t.Last().Response.Data
	if len(data) == 0 {
		r.printf(1, "no data")
		return
	}
	r.printf(1, "data:   %d bytes", len(data))

	lines, err := tlv.Lines(data)
	if err != nil {
		r.printf(2, "%X %q", data, tlv.MakeSafeASCII(data))
		return
	}
	for _, l := range lines {
		r.printf(2, "%s", l)
	}
}

func commandName(cmd *CommandAPDU) string {
	if cmd.Instruction.Raw == INS_GET_RESPONSE {
		return "GET RESPONSE"
	}
	return cmd.Instruction.Raw.String() + " again"
}
