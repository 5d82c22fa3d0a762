package modbus

import (
	"errors"
	"fmt"
)

var (
	ErrConnection = errors.New("serial: connection error")
	ErrTimeout    = errors.New("serial: timeout")
	ErrChecksum   = errors.New("serial: checksum mismatch")
	ErrProtocol   = errors.New("serial: protocol error")
)

// ConnectionError reports a serial endpoint that could not be opened or written.
type ConnectionError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("serial: %s %s: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("serial: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// TimeoutError reports a response that did not arrive in full before the deadline.
type TimeoutError struct {
	Expected int
	Received int
	Err      error
}

func (e *TimeoutError) Error() string {
	if e.Received == 0 {
		return "serial: timeout: no response"
	}
	return fmt.Sprintf("serial: timeout: received %d of %d bytes", e.Received, e.Expected)
}

func (e *TimeoutError) Unwrap() error        { return e.Err }
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ChecksumError reports a frame whose trailing CRC does not match its contents.
type ChecksumError struct {
	Want uint16
	Got  uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("serial: crc mismatch: computed 0x%04X, received 0x%04X", e.Want, e.Got)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrChecksum }

// ProtocolError reports a well-formed frame that does not answer the request.
// Exception is non-zero when the device set the error bit on the function code.
type ProtocolError struct {
	Reason    string
	Exception byte
}

func (e *ProtocolError) Error() string {
	if e.Exception != 0 {
		return fmt.Sprintf("serial: %s (exception 0x%02X)", e.Reason, e.Exception)
	}
	return "serial: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
