package gpio

import (
	"fmt"
	"sync"
	"time"
)

type simPin struct {
	output bool
	level  Level
	edge   Edge
	onEdge EdgeFunc
	onOut  func(Level)
}

// Sim is an in-memory pin bank. Tests and hardware-less nodes drive inputs
// with Set; interrupts fire synchronously from Set.
type Sim struct {
	mu   sync.Mutex
	pins map[int]*simPin
}

func NewSim() *Sim {
	return &Sim{pins: make(map[int]*simPin)}
}

func (s *Sim) pin(n int) *simPin {
	p, ok := s.pins[n]
	if !ok {
		p = &simPin{}
		s.pins[n] = p
	}
	return p
}

func (s *Sim) ConfigureOutput(pin int, initial Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pin(pin)
	p.output, p.level = true, initial
	return nil
}

func (s *Sim) ConfigureInput(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin(pin).output = false
	return nil
}

func (s *Sim) Write(pin int, level Level) error {
	s.mu.Lock()
	p, ok := s.pins[pin]
	if !ok || !p.output {
		s.mu.Unlock()
		return fmt.Errorf("gpio: pin %d is not an output", pin)
	}
	p.level = level
	hook := p.onOut
	s.mu.Unlock()
	if hook != nil {
		hook(level)
	}
	return nil
}

func (s *Sim) Read(pin int) (Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return Low, fmt.Errorf("gpio: pin %d not configured", pin)
	}
	return p.level, nil
}

// RegisterEdgeInterrupt ignores debounce; simulated inputs do not bounce.
func (s *Sim) RegisterEdgeInterrupt(pin int, edge Edge, _ time.Duration, fn EdgeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok || p.output {
		return fmt.Errorf("gpio: pin %d is not an input", pin)
	}
	p.edge, p.onEdge = edge, fn
	return nil
}

func (s *Sim) Cleanup() error {
	s.mu.Lock()
	s.pins = make(map[int]*simPin)
	s.mu.Unlock()
	return nil
}

// Set drives a simulated input and fires its interrupt on a matching edge.
func (s *Sim) Set(pin int, level Level) {
	s.mu.Lock()
	p := s.pin(pin)
	from := p.level
	p.level = level
	fn, edge := p.onEdge, p.edge
	s.mu.Unlock()
	if fn != nil && edge.matches(from, level) {
		fn(pin, level)
	}
}

// OnOutput installs a hook run after every Write to pin. It lets a node
// emulate the mechanics behind an actuator.
func (s *Sim) OnOutput(pin int, fn func(Level)) {
	s.mu.Lock()
	s.pin(pin).onOut = fn
	s.mu.Unlock()
}
