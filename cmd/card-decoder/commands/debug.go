package commands

import (
	"encoding/hex"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// debugTextFormatter moves []byte fields out of the log line and prints
// them as hex dumps under it.
type debugTextFormatter struct {
	next log.Formatter
}

func (f *debugTextFormatter) Format(entry *log.Entry) ([]byte, error) {
	delay := make(map[string][]byte)
	data := make(log.Fields, len(entry.Data))
	for name, value := range entry.Data {
		if b, ok := value.([]byte); ok {
			delay[name] = b
			continue
		}
		data[name] = value
	}

	stripped := *entry
	stripped.Data = data
	res, err := f.next.Format(&stripped)
	if err != nil {
		return res, err
	}

	names := make([]string, 0, len(delay))
	for name := range delay {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := delay[name]
		res = append(res, fmt.Sprintf("  %s (%d bytes):\n", name, len(value))...)

		lineStart := true
		for _, c := range []byte(hex.Dump(value)) {
			if lineStart && c != '\n' {
				res = append(res, ' ', ' ', ' ', ' ')
			}
			res = append(res, c)
			lineStart = c == '\n'
		}
	}
	return res, nil
}
