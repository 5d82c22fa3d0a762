package gpio

import (
	"fmt"
	"time"

	"garage-control/internal/utils"
)

const (
	// DefaultPassageWindow bounds the gap between the two sensor edges.
	DefaultPassageWindow = 5 * time.Second
	passageDebounce      = 50 * time.Millisecond
)

// Passage detects the direction of a car crossing two beam sensors on a
// ramp. sensor1 then sensor2 within the window is a climb; the reverse is a
// descent. A lone edge expires after the window.
type Passage struct {
	sensor1, sensor2 int
	pending          *utils.TTLCache[int, time.Time]
	onPass           func(up bool)
}

func NewPassage(p Pins, sensor1, sensor2 int, window time.Duration, onPass func(up bool)) (*Passage, error) {
	if window <= 0 {
		window = DefaultPassageWindow
	}
	d := &Passage{
		sensor1: sensor1,
		sensor2: sensor2,
		pending: utils.NewTTLCache[int, time.Time](window),
		onPass:  onPass,
	}
	for _, pin := range []int{sensor1, sensor2} {
		if err := p.ConfigureInput(pin); err != nil {
			return nil, fmt.Errorf("configure passage pin %d: %w", pin, err)
		}
		if err := p.RegisterEdgeInterrupt(pin, Rising, passageDebounce, d.edge); err != nil {
			return nil, fmt.Errorf("passage interrupt on pin %d: %w", pin, err)
		}
	}
	return d, nil
}

func (d *Passage) edge(pin int, _ Level) {
	other := d.sensor2
	if pin == d.sensor2 {
		other = d.sensor1
	}
	if _, ok := d.pending.Take(other); ok {
		if d.onPass != nil {
			d.onPass(pin == d.sensor2)
		}
		return
	}
	d.pending.Set(pin, time.Now())
}
