package peripheral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Camera register map.
const (
	RegStatus     uint16 = 0
	RegTrigger    uint16 = 1
	RegPlate      uint16 = 2 // 4 registers, 8 ASCII chars
	RegConfidence uint16 = 6
	RegError      uint16 = 7
)

// Camera status register values.
const (
	StatusReady      uint16 = 0
	StatusProcessing uint16 = 1
	StatusOK         uint16 = 2
	StatusError      uint16 = 3
)

const (
	DefaultCaptureTimeout = 2 * time.Second
	pollInterval          = 100 * time.Millisecond
)

var (
	ErrCaptureFailed  = errors.New("camera: capture failed")
	ErrCaptureTimeout = errors.New("camera: capture timed out")
)

// CaptureError carries the code the camera left in its error register.
type CaptureError struct {
	Code uint16
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("camera: capture failed (code %d)", e.Code)
}

func (e *CaptureError) Is(target error) bool { return target == ErrCaptureFailed }

// RegisterBus is the register-level access the drivers need from the serial client.
type RegisterBus interface {
	ReadRegisters(ctx context.Context, slave byte, start, count uint16, retries int) ([]uint16, error)
	WriteRegisters(ctx context.Context, slave byte, start uint16, values []uint16, retries int) error
}

// Plate is a recognized license plate.
type Plate struct {
	Text       string
	Confidence int
}

// Camera drives a license plate recognition camera.
type Camera struct {
	bus     RegisterBus
	slave   byte
	retries int
	poll    time.Duration
}

func NewCamera(bus RegisterBus, slave byte, retries int) *Camera {
	return &Camera{bus: bus, slave: slave, retries: retries, poll: pollInterval}
}

// Capture triggers a recognition and waits up to timeout for a terminal status.
// The trigger register is reset on every path once it has been set.
func (c *Camera) Capture(ctx context.Context, timeout time.Duration) (Plate, error) {
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	if err := c.bus.WriteRegisters(ctx, c.slave, RegTrigger, []uint16{1}, c.retries); err != nil {
		return Plate{}, fmt.Errorf("camera 0x%02X trigger: %w", c.slave, err)
	}
	defer c.resetTrigger()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.poll)
	defer tick.Stop()

	for {
		status, err := c.bus.ReadRegisters(ctx, c.slave, RegStatus, 1, c.retries)
		if err != nil {
			return Plate{}, fmt.Errorf("camera 0x%02X status: %w", c.slave, err)
		}
		switch status[0] {
		case StatusOK:
			return c.readPlate(ctx)
		case StatusError:
			code := uint16(0)
			if regs, err := c.bus.ReadRegisters(ctx, c.slave, RegError, 1, 1); err == nil {
				code = regs[0]
			}
			return Plate{}, &CaptureError{Code: code}
		}

		select {
		case <-tick.C:
		case <-deadline.C:
			return Plate{}, ErrCaptureTimeout
		case <-ctx.Done():
			return Plate{}, ctx.Err()
		}
	}
}

func (c *Camera) readPlate(ctx context.Context) (Plate, error) {
	regs, err := c.bus.ReadRegisters(ctx, c.slave, RegPlate, 5, c.retries)
	if err != nil {
		return Plate{}, fmt.Errorf("camera 0x%02X plate: %w", c.slave, err)
	}
	return Plate{Text: DecodePlate(regs[:4]), Confidence: int(regs[4])}, nil
}

// resetTrigger runs on a fresh context so a cancelled capture still clears it.
func (c *Camera) resetTrigger() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.bus.WriteRegisters(ctx, c.slave, RegTrigger, []uint16{0}, c.retries); err != nil {
		log.Warn().Err(err).Uint8("slave", c.slave).Msg("camera trigger reset failed")
	}
}

// DecodePlate unpacks two ASCII characters per register, high byte first,
// and trims trailing NUL padding.
func DecodePlate(regs []uint16) string {
	b := make([]byte, 0, len(regs)*2)
	for _, r := range regs {
		b = append(b, byte(r>>8), byte(r))
	}
	return strings.TrimRight(string(b), "\x00")
}

// EncodePlate is the inverse of DecodePlate for up to 8 characters.
func EncodePlate(plate string) []uint16 {
	b := make([]byte, 8)
	copy(b, plate)
	regs := make([]uint16, 4)
	for i := range regs {
		regs[i] = uint16(b[i*2])<<8 | uint16(b[i*2+1])
	}
	return regs
}
