// Package gpio is the pin capability consumed by the node orchestrators, with
// a Linux sysfs driver and an in-memory simulation.
package gpio

import (
	"fmt"
	"strings"
	"time"
)

// Level is a digital pin value.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// Edge selects which transitions fire an interrupt.
type Edge int

const (
	Rising Edge = iota
	Falling
	Both
)

func (e Edge) matches(from, to Level) bool {
	switch e {
	case Rising:
		return from == Low && to == High
	case Falling:
		return from == High && to == Low
	default:
		return from != to
	}
}

// EdgeFunc is called with the pin and its new level.
type EdgeFunc func(pin int, level Level)

// Pins is the pin-level capability.
type Pins interface {
	ConfigureOutput(pin int, initial Level) error
	ConfigureInput(pin int) error
	Write(pin int, level Level) error
	Read(pin int) (Level, error)
	RegisterEdgeInterrupt(pin int, edge Edge, debounce time.Duration, fn EdgeFunc) error
	Cleanup() error
}

// Open selects the driver once at startup: "sim" or "sysfs".
func Open(driver string) (Pins, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sim", "mock":
		return NewSim(), nil
	case "sysfs":
		return NewSysfs("/sys/class/gpio"), nil
	default:
		return nil, fmt.Errorf("gpio driver %q not supported", driver)
	}
}
