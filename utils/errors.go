package utils

import (
	"errors"
	"fmt"
)

// Error kinds raised by the driver. Match with errors.Is.
var (
	ErrConnection   = errors.New("connection error")
	ErrProtocol     = errors.New("protocol error")
	ErrInvalidState = errors.New("invalid state")
)

// OpError ties an error kind to the operation that raised it and the
// underlying cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError wraps err as kind for op.
func NewOpError(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}
