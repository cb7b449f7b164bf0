package bounce

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a message is not text, bytes or a tree
	ErrInvalidInput = errors.New("msg must be text, bytes or a structured object")

	// ErrNotFound is returned by Registry.Get for unregistered headers
	ErrNotFound = errors.New("header not registered")

	// ErrClosed is delivered for detections submitted after Close
	ErrClosed = errors.New("detector closed")
)

// InvalidInputError records the Go type of a rejected message
type InvalidInputError struct {
	Type string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%v: got %s", ErrInvalidInput, e.Type)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

func invalidInput(msg any) error {
	return &InvalidInputError{Type: fmt.Sprintf("%T", msg)}
}
