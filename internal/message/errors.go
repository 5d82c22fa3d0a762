package message

import (
	"errors"
	"fmt"
)

var (
	ErrConnection = errors.New("message: connection error")
	ErrTimeout    = errors.New("message: timeout")
	ErrValidation = errors.New("message: validation error")

	ErrShortHeader   = errors.New("message: short length header")
	ErrShortBody     = errors.New("message: short body")
	ErrFrameTooLarge = errors.New("message: frame exceeds limit")
)

// ConnectionError reports a peer that could not be reached or dropped mid-exchange.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("message: connection %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// TimeoutError reports a reply that did not arrive before the deadline.
type TimeoutError struct {
	Addr string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("message: %s: no reply before deadline: %v", e.Addr, e.Err)
}

func (e *TimeoutError) Unwrap() error        { return e.Err }
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ValidationError reports a received body that is not a valid message.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("message: %s: %v", e.Reason, e.Err)
	}
	return "message: " + e.Reason
}

func (e *ValidationError) Unwrap() error        { return e.Err }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
