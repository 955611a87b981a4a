package ir

import "fmt"

// CorrelationID tags a dispatched backend call so its asynchronous completion
// can be routed back to the caller that issued it.
type CorrelationID int64

// Op identifies a backend operation kind.
type Op int

const (
	// OpOpen opens (or creates) a named store at a version.
	OpOpen Op = iota + 1
	// OpWrite stores a value under a key.
	OpWrite
	// OpRead loads the value stored under a key.
	OpRead
	// OpDelete removes a key.
	OpDelete
	// OpExists reports whether a key is present.
	OpExists
)

var opNames = map[Op]string{
	OpOpen:   "open",
	OpWrite:  "write",
	OpRead:   "read",
	OpDelete: "delete",
	OpExists: "exists",
}

// String returns the lowercase operation name.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// Completion is the decoded result of a backend operation.
//
// Message carries the text result of a read, or the base64 transport encoding
// of a binary value. It is nil for operations without a return value.
// Error is only meaningful when Success is false.
type Completion struct {
	ID      CorrelationID `json:"id"`
	Success bool          `json:"success"`
	Message *string       `json:"message,omitempty"`
	Error   *string       `json:"error,omitempty"`
}

// MessageText returns the message, or "" when absent.
func (c Completion) MessageText() string {
	if c.Message == nil {
		return ""
	}
	return *c.Message
}

// ErrorText returns the error description, or "" when absent.
func (c Completion) ErrorText() string {
	if c.Error == nil {
		return ""
	}
	return *c.Error
}

// Succeeded builds a successful completion with an optional message.
func Succeeded(id CorrelationID, message *string) Completion {
	return Completion{ID: id, Success: true, Message: message}
}

// Failed builds a failed completion. An empty description leaves Error absent.
func Failed(id CorrelationID, description string) Completion {
	c := Completion{ID: id}
	if description != "" {
		c.Error = &description
	}
	return c
}

// Text returns a pointer to s, for building Completion messages.
func Text(s string) *string {
	return &s
}

// Error descriptions shared by backends, so callers can recognise them.
const (
	ErrTextNotFound = "key not found"
	ErrTextNoStore  = "no store open"
)
