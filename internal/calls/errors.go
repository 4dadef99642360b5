package calls

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound       = errors.New("calls: not found")
	ErrDuplicateID    = errors.New("calls: duplicate id")
	ErrStatusConflict = errors.New("calls: status conflict")
	ErrStorage        = errors.New("calls: storage failure")
)

// FieldError describes one violated rule on one request field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every violated field of a CallRequest, never just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "calls: invalid request: " + strings.Join(msgs, "; ")
}

// FieldNames returns the violated field names in report order.
func (e *ValidationError) FieldNames() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.Field)
	}
	return out
}

// StorageError marks a persistence failure. It matches ErrStorage with errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("calls: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
