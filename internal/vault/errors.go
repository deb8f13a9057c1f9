package vault

import (
	"errors"
	"fmt"
)

// Sentinel errors classify every vault failure. Callers test with errors.Is.
var (
	ErrValidation = errors.New("invalid file name")
	ErrNotFound   = errors.New("file not found")
	ErrConflict   = errors.New("file already exists")
	ErrIO         = errors.New("storage failure")
)

// OpError records the operation, the file name it concerned, and the class
// of failure. Cause carries the underlying OS error for IO failures.
type OpError struct {
	Op    string
	Name  string
	Kind  error
	Cause error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

// Unwrap exposes both the classification sentinel and the cause.
func (e *OpError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Cause}
}

// Public returns a message safe to show to clients: it never includes the
// OS error, which may contain server paths.
func (e *OpError) Public() string {
	if e.Name == "" {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Name)
}

func opErr(op, name string, kind, cause error) error {
	return &OpError{Op: op, Name: name, Kind: kind, Cause: cause}
}
