package engine

import (
	"github.com/roach88/asyncstore/internal/ir"
)

// Continuation receives the typed result of one operation.
//
// The interface is sealed: BoolFunc, TextFunc and BinaryFunc are the only
// implementations, so a continuation of any other shape is rejected at
// compile time.
//
// Every variant receives an error next to the value. It is nil on success
// and a *RuntimeError otherwise; the value is still the reduced result
// (false, "" or nil) so callers may ignore the error.
type Continuation interface {
	resolve(id ir.CorrelationID, op ir.Op, c ir.Completion)
	fail(err error)
}

// BoolFunc receives existence and success signals.
type BoolFunc func(ok bool, err error)

// TextFunc receives text read results.
type TextFunc func(text string, err error)

// BinaryFunc receives binary read results, already decoded from their
// text transport form.
type BinaryFunc func(data []byte, err error)

func (f BoolFunc) resolve(id ir.CorrelationID, op ir.Op, c ir.Completion) {
	if f == nil {
		return
	}
	f(c.Success, completionErr(id, op, c))
}

func (f BoolFunc) fail(err error) {
	if f != nil {
		f(false, err)
	}
}

func (f TextFunc) resolve(id ir.CorrelationID, op ir.Op, c ir.Completion) {
	if f == nil {
		return
	}
	f(c.MessageText(), completionErr(id, op, c))
}

func (f TextFunc) fail(err error) {
	if f != nil {
		f("", err)
	}
}

func (f BinaryFunc) resolve(id ir.CorrelationID, op ir.Op, c ir.Completion) {
	if f == nil {
		return
	}
	if c.Message == nil {
		f(nil, completionErr(id, op, c))
		return
	}
	data, err := ir.DecodeBinary(*c.Message)
	if err != nil {
		f(nil, &RuntimeError{
			Code:    ErrCodeDecodeFailed,
			Message: "binary payload is not valid base64",
			ID:      id,
			Op:      op,
			Err:     err,
		})
		return
	}
	f(data, completionErr(id, op, c))
}

func (f BinaryFunc) fail(err error) {
	if f != nil {
		f(nil, err)
	}
}

// completionErr returns the error a continuation sees for c.
//
// A failed completion without a description is not an error: Exists
// reports absence as success=false with no error text.
func completionErr(id ir.CorrelationID, op ir.Op, c ir.Completion) error {
	if c.Success || c.Error == nil || *c.Error == "" {
		return nil
	}
	return NewBackendError(id, op, *c.Error)
}
