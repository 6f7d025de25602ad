package core

import (
	"errors"
	"fmt"
	"reflect"
)

// ExceptionEnvelope is a serializable description of an error, carried in status records
// and persisted retry state.
type ExceptionEnvelope struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ExceptionEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewExceptionEnvelope wraps the given error. Returns nil for a nil error.
func NewExceptionEnvelope(err error) *ExceptionEnvelope {
	if err == nil {
		return nil
	}

	var ee *ExceptionEnvelope
	if errors.As(err, &ee) {
		return &ExceptionEnvelope{Type: ee.Type, Message: ee.Message}
	}

	return &ExceptionEnvelope{
		Type:    errorType(err),
		Message: err.Error(),
	}
}

func errorType(err error) string {
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.PkgPath() == "" {
		return t.Name()
	}

	return t.PkgPath() + "." + t.Name()
}
