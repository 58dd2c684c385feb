package iso7816

import "fmt"

// Transaction is one command and the response it got.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess is false for a missing response.
func (t *Transaction) IsSuccess() bool {
	return t.Response != nil && t.Response.Status.IsSuccess()
}

// Trace is every transaction of one logical exchange, such as a SELECT
// followed by its GET RESPONSE. The last transaction decides the outcome.
type Trace []Transaction

// Last returns the final transaction, or nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess reports whether the final transaction succeeded.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	return last != nil && last.IsSuccess()
}

// StatusError reports a logical exchange that ended with a non-success
// status word.
type StatusError StatusWord

func (e StatusError) Error() string {
	return "card returned " + StatusWord(e).Verbose()
}

// Data returns the response data of the final transaction. A failed
// exchange returns a StatusError instead.
func (t Trace) Data() ([]byte, error) {
	last := t.Last()
	if last == nil || last.Response == nil {
		return nil, fmt.Errorf("empty trace")
	}
	if !last.IsSuccess() {
		return nil, StatusError(last.Response.Status)
	}
	return last.Response.Data, nil
}
