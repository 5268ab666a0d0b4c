package mutation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/panel"
)

// Error is a failed mutation. Its text is the user-facing notification.
type Error struct {
	// Op is the operation that failed.
	Op panel.Operation

	// Message is the extracted failure message.
	Message string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s Error: %s", e.Op, e.Message)
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsMutationError reports whether err is or wraps a *Error.
// Uses errors.As to handle wrapped errors.
func IsMutationError(err error) bool {
	var me *Error
	return errors.As(err, &me)
}

// PanicError wraps a value recovered from a panicking requester.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Message extracts a readable message from a failure value, in order:
// a datasource error list yields its first message, an error yields its
// text, a list yields its first element, and anything else is rendered
// as JSON.
func Message(v any) string {
	if err, ok := v.(error); ok {
		var qe datasource.QueryErrors
		if errors.As(err, &qe) && len(qe) > 0 {
			return qe[0].Message
		}
		var pe *PanicError
		if errors.As(err, &pe) {
			return Message(pe.Value)
		}
		return err.Error()
	}

	switch x := v.(type) {
	case []any:
		if len(x) > 0 {
			return elementMessage(x[0])
		}
	case []string:
		if len(x) > 0 {
			return x[0]
		}
	case []error:
		if len(x) > 0 {
			return x[0].Error()
		}
	case []datasource.QueryError:
		if len(x) > 0 {
			return x[0].Message
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func elementMessage(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Message(v)
}
