package gpio

import (
	"fmt"
	"time"
)

// DefaultSettle is the delay between selecting a bay and sampling its sensor.
const DefaultSettle = 5 * time.Millisecond

// Scanner multiplexes one occupancy sensor across several bays. Bit i of the
// bay index drives address pin i; a high sensor reading means occupied.
type Scanner struct {
	pins   Pins
	addr   []int
	sensor int
	bays   int
	settle time.Duration
}

// NewScanner configures the address pins as outputs and the sensor as input.
// bays is clamped to what the address pins can select.
func NewScanner(p Pins, addr []int, sensor, bays int) (*Scanner, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("scanner needs at least one address pin")
	}
	if max := 1 << len(addr); bays <= 0 || bays > max {
		bays = max
	}
	for _, pin := range addr {
		if err := p.ConfigureOutput(pin, Low); err != nil {
			return nil, fmt.Errorf("configure address pin %d: %w", pin, err)
		}
	}
	if err := p.ConfigureInput(sensor); err != nil {
		return nil, fmt.Errorf("configure sensor pin %d: %w", sensor, err)
	}
	return &Scanner{pins: p, addr: addr, sensor: sensor, bays: bays, settle: DefaultSettle}, nil
}

func (s *Scanner) Bays() int { return s.bays }

// SetSettle changes the select-to-sample delay. Zero disables it.
func (s *Scanner) SetSettle(d time.Duration) { s.settle = d }

// Select drives the address pins for bay.
func (s *Scanner) Select(bay int) error {
	for i, pin := range s.addr {
		lvl := Low
		if bay&(1<<i) != 0 {
			lvl = High
		}
		if err := s.pins.Write(pin, lvl); err != nil {
			return fmt.Errorf("select bay %d: %w", bay, err)
		}
	}
	return nil
}

// Scan returns the occupancy of every bay.
func (s *Scanner) Scan() ([]bool, error) {
	out := make([]bool, s.bays)
	for bay := 0; bay < s.bays; bay++ {
		if err := s.Select(bay); err != nil {
			return nil, err
		}
		if s.settle > 0 {
			time.Sleep(s.settle)
		}
		v, err := s.pins.Read(s.sensor)
		if err != nil {
			return nil, fmt.Errorf("read bay %d: %w", bay, err)
		}
		out[bay] = v == High
	}
	return out, nil
}

// Free counts the unoccupied bays of a scan.
func Free(occupied []bool) int {
	n := 0
	for _, o := range occupied {
		if !o {
			n++
		}
	}
	return n
}
