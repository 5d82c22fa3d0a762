package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"garage-control/internal/gpio"
	"garage-control/internal/message"
	"garage-control/internal/model"
)

// Floor runs an upper floor: slot scanning and, on floor 1, ramp passage
// detection. Every inbound message is acknowledged.
type Floor struct {
	settings Settings
	floor    model.Floor
	name     string
	scanner  *gpio.Scanner
	passage  *gpio.Passage

	central *message.Client
	server  *message.Server

	passages chan message.Direction

	mu       sync.Mutex
	lastFree []bool
}

func NewFloor(s Settings, floor model.Floor, pins gpio.Pins) (*Floor, error) {
	if floor != model.First && floor != model.Second {
		return nil, fmt.Errorf("floor node must be 1 or 2, got %d", floor)
	}
	fp := s.FloorPinsFor(floor)
	scanner, err := gpio.NewScanner(pins, fp.Addr, fp.Sensor, 0)
	if err != nil {
		return nil, fmt.Errorf("%s scanner: %w", floor.Name(), err)
	}
	f := &Floor{
		settings: s,
		floor:    floor,
		name:     floor.Name(),
		scanner:  scanner,
		central:  message.NewClient(s.Central.Addr()),
		passages: make(chan message.Direction, 16),
	}
	// Only the floor 1 ramp sensors report; floor 2 shares the same ramp.
	if floor == model.First {
		f.passage, err = gpio.NewPassage(pins, fp.Passage1, fp.Passage2, s.PassageWindow, f.onPassage)
		if err != nil {
			return nil, err
		}
	}
	f.server = message.NewServer(message.NewRouter(f.name, nil).Handle)
	return f, nil
}

func (f *Floor) Listen(addr string) error { return f.server.Listen(addr) }

func (f *Floor) Addr() string {
	if a := f.server.Addr(); a != nil {
		return a.String()
	}
	return ""
}

func (f *Floor) onPassage(up bool) {
	dir := message.Down
	if up {
		dir = message.Up
	}
	select {
	case f.passages <- dir:
	default:
		log.Warn().Str("node", f.name).Msg("passage queue full, event dropped")
	}
}

func (f *Floor) Run(ctx context.Context) error {
	if f.server.Addr() == nil {
		if err := f.Listen(f.settings.FloorEndpoint(f.floor).ListenAddr()); err != nil {
			return fmt.Errorf("%s listen: %w", f.name, err)
		}
	}
	log.Info().Str("node", f.name).Str("addr", f.Addr()).Msg("floor node started")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return scanLoop(ctx, f.scanner, f.settings.ScanInterval, func(occupied []bool) {
			if !f.changed(occupied) {
				return
			}
			free := model.Distribute(gpio.Free(occupied), f.settings.Capacity[f.floor])
			log.Info().Str("node", f.name).Int("livres", free.Total()).Msg("slots changed")
			f.send(ctx, message.NewSlotStatus(f.floor, free))
		})
	})
	eg.Go(func() error { return f.forwardPassages(ctx) })
	eg.Go(func() error { return heartbeatLoop(ctx, f.central, f.name, f.settings.HeartbeatInterval) })
	eg.Go(func() error {
		<-ctx.Done()
		f.server.Close()
		return f.central.Close()
	})
	return eg.Wait()
}

func (f *Floor) changed(occupied []bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastFree != nil && equalBools(f.lastFree, occupied) {
		return false
	}
	f.lastFree = append(f.lastFree[:0], occupied...)
	return true
}

func (f *Floor) send(ctx context.Context, m *message.Message) {
	if _, err := f.central.SendWithRetry(ctx, m, centralAttempts, true); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("node", f.name).Str("tipo", string(m.Type)).Msg("central unreachable")
	}
}

func (f *Floor) forwardPassages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case dir := <-f.passages:
			log.Info().Str("node", f.name).Str("direcao", string(dir)).Msg("ramp passage")
			f.send(ctx, message.NewPassage(dir, ""))
		}
	}
}
