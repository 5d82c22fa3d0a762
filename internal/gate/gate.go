// Package gate drives a barrier arm through a motor output and two limit
// sensors.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"garage-control/internal/gpio"
	"garage-control/internal/metrics"
)

const (
	DefaultTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// ErrTimeout is returned when the limit sensor never asserts.
var ErrTimeout = errors.New("gate timeout")

type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Pins names the GPIO lines of one gate.
type Pins struct {
	OpenSensor  int
	CloseSensor int
	Motor       int
}

type Controller struct {
	name string
	io   gpio.Pins
	pins Pins

	op    sync.Mutex // serializes movements
	mu    sync.Mutex
	state State
}

// New configures the gate lines and derives the initial state from the
// sensors: close asserted means Closed, else open asserted means Open.
func New(name string, io gpio.Pins, pins Pins) (*Controller, error) {
	if err := io.ConfigureOutput(pins.Motor, gpio.Low); err != nil {
		return nil, fmt.Errorf("gate %s motor: %w", name, err)
	}
	for _, pin := range []int{pins.OpenSensor, pins.CloseSensor} {
		if err := io.ConfigureInput(pin); err != nil {
			return nil, fmt.Errorf("gate %s sensor %d: %w", name, pin, err)
		}
	}
	c := &Controller{name: name, io: io, pins: pins, state: Closed}
	if c.asserted(pins.CloseSensor) {
		c.state = Closed
	} else if c.asserted(pins.OpenSensor) {
		c.state = Open
	}
	return c, nil
}

func (c *Controller) Name() string { return c.name }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Present reports whether a vehicle holds the open sensor.
func (c *Controller) Present() bool {
	return c.asserted(c.pins.OpenSensor)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) asserted(pin int) bool {
	v, err := c.io.Read(pin)
	if err != nil {
		log.Warn().Err(err).Str("gate", c.name).Int("pin", pin).Msg("gate sensor read failed")
		return false
	}
	return v == gpio.High
}

// Open raises the arm. A zero timeout uses DefaultTimeout.
func (c *Controller) Open(ctx context.Context, timeout time.Duration) error {
	return c.move(ctx, "open", Open, Opening, c.pins.OpenSensor, timeout)
}

// Close lowers the arm. A zero timeout uses DefaultTimeout.
func (c *Controller) Close(ctx context.Context, timeout time.Duration) error {
	return c.move(ctx, "close", Closed, Closing, c.pins.CloseSensor, timeout)
}

// move leaves the state at the transitional value when the sensor never
// asserts; the next call retries from there.
func (c *Controller) move(ctx context.Context, action string, target, transit State, sensor int, timeout time.Duration) (err error) {
	c.op.Lock()
	defer c.op.Unlock()
	if c.State() == target {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	defer func() { metrics.RecordGate(c.name, action, err == nil) }()

	c.setState(transit)
	if err := c.io.Write(c.pins.Motor, gpio.High); err != nil {
		return fmt.Errorf("gate %s motor on: %w", c.name, err)
	}
	defer func() {
		if werr := c.io.Write(c.pins.Motor, gpio.Low); werr != nil {
			log.Error().Err(werr).Str("gate", c.name).Msg("motor off failed")
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if c.asserted(sensor) {
			c.setState(target)
			log.Info().Str("gate", c.name).Str("state", target.String()).Msg("gate moved")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			log.Warn().Str("gate", c.name).Str("action", action).Dur("timeout", timeout).Msg("gate timeout")
			return fmt.Errorf("gate %s %s: %w", c.name, action, ErrTimeout)
		case <-ticker.C:
		}
	}
}
