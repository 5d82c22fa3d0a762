package node

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"garage-control/internal/gate"
	"garage-control/internal/gpio"
	"garage-control/internal/message"
)

// gateTravel is how long a simulated arm takes to reach its limit sensor.
const gateTravel = 300 * time.Millisecond

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// scanLoop scans every interval and hands each result to fn.
func scanLoop(ctx context.Context, s *gpio.Scanner, interval time.Duration, fn func(occupied []bool)) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		occupied, err := s.Scan()
		if err != nil {
			log.Error().Err(err).Msg("slot scan failed")
		} else {
			fn(occupied)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// heartbeatLoop reports liveness to the coordinator.
func heartbeatLoop(ctx context.Context, c *message.Client, node string, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if _, err := c.Send(ctx, message.NewHeartbeat(node), true); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("node", node).Msg("heartbeat not delivered")
		}
	}
}

// SimulateGate drives the limit sensors of a simulated gate when its motor
// runs, so nodes started with the sim driver behave like real hardware.
func SimulateGate(sim *gpio.Sim, gc *gate.Controller, pins gate.Pins, travel time.Duration) {
	sim.OnOutput(pins.Motor, func(l gpio.Level) {
		if l != gpio.High {
			return
		}
		opening := gc.State() == gate.Opening
		time.AfterFunc(travel, func() {
			if opening {
				sim.Set(pins.CloseSensor, gpio.Low)
				sim.Set(pins.OpenSensor, gpio.High)
				return
			}
			sim.Set(pins.OpenSensor, gpio.Low)
			sim.Set(pins.CloseSensor, gpio.High)
		})
	})
	if gc.State() == gate.Closed {
		sim.Set(pins.CloseSensor, gpio.High)
	}
}
