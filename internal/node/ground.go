package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"garage-control/internal/gate"
	"garage-control/internal/gpio"
	"garage-control/internal/message"
	"garage-control/internal/model"
	"garage-control/internal/output"
	"garage-control/internal/peripheral"
)

const (
	// UnknownPlate is reported at the exit when the camera reads nothing.
	UnknownPlate = "DESCONHECIDO"

	presencePoll    = 500 * time.Millisecond
	centralAttempts = 3
)

// Ground runs the ground floor: both gates, the LPR cameras, the display
// board and the ground slot scanner. A nil bus runs it degraded: no plate
// capture and no board updates.
type Ground struct {
	settings Settings
	pins     gpio.Pins
	scanner  *gpio.Scanner
	entry    *gate.Controller
	exit     *gate.Controller

	entryCam *peripheral.Camera
	exitCam  *peripheral.Camera
	board    *peripheral.Board

	central *message.Client
	server  *message.Server

	mu       sync.Mutex
	lastFree []bool
}

func NewGround(s Settings, pins gpio.Pins, bus peripheral.RegisterBus) (*Ground, error) {
	scanner, err := gpio.NewScanner(pins, s.GroundPins.Addr, s.GroundPins.Sensor, 0)
	if err != nil {
		return nil, fmt.Errorf("ground scanner: %w", err)
	}
	entry, err := gate.New(string(message.EntryGate), pins, s.GroundPins.Entry)
	if err != nil {
		return nil, err
	}
	exit, err := gate.New(string(message.ExitGate), pins, s.GroundPins.Exit)
	if err != nil {
		return nil, err
	}
	g := &Ground{
		settings: s,
		pins:     pins,
		scanner:  scanner,
		entry:    entry,
		exit:     exit,
		central:  message.NewClient(s.Central.Addr()),
	}
	if bus != nil {
		g.entryCam = peripheral.NewCamera(bus, s.EntryCamera, s.SerialRetries)
		g.exitCam = peripheral.NewCamera(bus, s.ExitCamera, s.SerialRetries)
		g.board = peripheral.NewBoard(bus, s.BoardAddr, s.SerialRetries)
	} else {
		log.Warn().Msg("ground node running without serial bus: capture and board disabled")
	}
	if sim, ok := pins.(*gpio.Sim); ok {
		SimulateGate(sim, entry, s.GroundPins.Entry, gateTravel)
		SimulateGate(sim, exit, s.GroundPins.Exit, gateTravel)
	}
	g.server = message.NewServer(message.NewRouter("terreo", map[message.Type]message.HandlerFunc{
		message.GateCommand: g.handleGateCommand,
		message.BoardUpdate: g.handleBoardUpdate,
	}).Handle)
	return g, nil
}

// Degraded reports whether the serial bus is unavailable.
func (g *Ground) Degraded() bool { return g.board == nil }

func (g *Ground) Gate(name message.Gate) *gate.Controller {
	switch name {
	case message.EntryGate:
		return g.entry
	case message.ExitGate:
		return g.exit
	}
	return nil
}

func (g *Ground) Listen(addr string) error { return g.server.Listen(addr) }

func (g *Ground) Addr() string {
	if a := g.server.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Run starts the slot scan, both gate tasks, the message server and the
// heartbeat, and blocks until ctx is done.
func (g *Ground) Run(ctx context.Context) error {
	if g.server.Addr() == nil {
		if err := g.Listen(g.settings.Ground.ListenAddr()); err != nil {
			return fmt.Errorf("ground listen: %w", err)
		}
	}
	log.Info().Str("addr", g.Addr()).Str("central", g.settings.Central.Addr()).Bool("degradado", g.Degraded()).Msg("ground node started")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.scanLoop(ctx) })
	eg.Go(func() error { return g.gateLoop(ctx, g.entry, g.entryCycle) })
	eg.Go(func() error { return g.gateLoop(ctx, g.exit, g.exitCycle) })
	eg.Go(func() error { return heartbeatLoop(ctx, g.central, "terreo", g.settings.HeartbeatInterval) })
	eg.Go(func() error {
		<-ctx.Done()
		g.server.Close()
		return g.central.Close()
	})
	return eg.Wait()
}

func (g *Ground) scanLoop(ctx context.Context) error {
	return scanLoop(ctx, g.scanner, g.settings.ScanInterval, func(occupied []bool) {
		if !g.changed(occupied) {
			return
		}
		free := model.Distribute(gpio.Free(occupied), g.settings.Capacity[model.Ground])
		log.Info().Int("livres", free.Total()).Msg("ground slots changed")
		g.notify(ctx, message.NewSlotStatus(model.Ground, free))
	})
}

func (g *Ground) changed(occupied []bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastFree != nil && equalBools(g.lastFree, occupied) {
		return false
	}
	g.lastFree = append(g.lastFree[:0], occupied...)
	return true
}

func (g *Ground) notify(ctx context.Context, m *message.Message) *message.Message {
	reply, err := g.central.SendWithRetry(ctx, m, centralAttempts, true)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("tipo", string(m.Type)).Msg("central unreachable")
		}
		return nil
	}
	return reply
}

// gateLoop waits for a vehicle on the gate's presence sensor, runs cycle,
// then waits for the sensor to clear.
func (g *Ground) gateLoop(ctx context.Context, gc *gate.Controller, cycle func(context.Context)) error {
	t := time.NewTicker(presencePoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if !gc.Present() {
			continue
		}
		log.Info().Str("cancela", gc.Name()).Msg("vehicle detected")
		cycle(ctx)
		for gc.Present() {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
	}
}

func (g *Ground) capture(ctx context.Context, cam *peripheral.Camera) (string, int) {
	if cam == nil {
		return "", 0
	}
	p, err := cam.Capture(ctx, g.settings.CaptureTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("plate capture failed")
		return "", 0
	}
	return p.Text, p.Confidence
}

func (g *Ground) entryCycle(ctx context.Context) {
	plate, conf := g.capture(ctx, g.entryCam)
	switch {
	case plate == "":
		plate, conf = fmt.Sprintf("TEMP%d", time.Now().Unix()), 0
		log.Warn().Str("placa", plate).Msg("no plate read, using temporary id")
	case conf < g.settings.MinConfidence:
		log.Warn().Str("placa", plate).Int("conf", conf).Msg("low confidence read, admitting anyway")
	}

	reply := g.notify(ctx, message.NewEntry(plate, conf, model.Ground))
	if reply == nil {
		return
	}
	if !reply.OK() {
		log.Warn().Str("placa", plate).Str("motivo", reply.Reason).Msg("entry refused by central")
		return
	}
	g.letThrough(ctx, g.entry)
}

func (g *Ground) exitCycle(ctx context.Context) {
	plate, conf := g.capture(ctx, g.exitCam)
	if plate == "" {
		plate, conf = UnknownPlate, 0
		log.Warn().Msg("no plate read at exit")
	}

	reply := g.notify(ctx, message.NewExit(plate, conf))
	if reply == nil || !reply.OK() {
		return
	}
	r := output.Receipt{Plate: plate, Exit: time.Now()}
	if reply.Fare != nil {
		r.Fare = *reply.Fare
	}
	if reply.Minutes != nil {
		r.Minutes = *reply.Minutes
	}
	if reply.Entry != "" {
		if t, err := message.ParseTime(reply.Entry); err == nil {
			r.Entry = t
		}
	}
	if reply.Exit != "" {
		if t, err := message.ParseTime(reply.Exit); err == nil {
			r.Exit = t
		}
	}
	log.Info().Str("placa", plate).Int("minutos", r.Minutes).Float64("valor", r.Fare).Msg("exit billed")
	log.Info().Msg("\n" + r.String())
	g.letThrough(ctx, g.exit)
}

// letThrough opens the gate, waits for the vehicle to clear the presence
// sensor (bounded), waits the close delay and closes it.
func (g *Ground) letThrough(ctx context.Context, gc *gate.Controller) {
	if err := gc.Open(ctx, g.settings.GateTimeout); err != nil {
		log.Error().Err(err).Str("cancela", gc.Name()).Msg("gate did not open")
	}
	deadline := time.NewTimer(g.settings.PresenceTimeout)
	defer deadline.Stop()
	t := time.NewTicker(presencePoll)
	defer t.Stop()
wait:
	for gc.Present() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			break wait
		case <-t.C:
		}
	}
	if err := sleepCtx(ctx, g.settings.CloseDelay); err != nil {
		return
	}
	if err := gc.Close(ctx, g.settings.GateTimeout); err != nil {
		log.Error().Err(err).Str("cancela", gc.Name()).Msg("gate did not close")
	}
}

func (g *Ground) handleGateCommand(ctx context.Context, m *message.Message) *message.Message {
	gc := g.Gate(m.Gate)
	if gc == nil {
		return message.Reject(message.ReasonInvalidGate)
	}
	var err error
	switch m.Action {
	case message.Open:
		err = gc.Open(ctx, g.settings.GateTimeout)
	case message.Close:
		err = gc.Close(ctx, g.settings.GateTimeout)
	default:
		return message.Reject(message.ReasonInvalidAction)
	}
	if err != nil {
		log.Error().Err(err).Str("cancela", gc.Name()).Str("acao", string(m.Action)).Msg("gate command failed")
		return message.Reject(message.ReasonGateFailure)
	}
	return message.Ack()
}

func (g *Ground) handleBoardUpdate(ctx context.Context, m *message.Message) *message.Message {
	if g.board == nil {
		return message.Reject(message.ReasonSerialInactive)
	}
	if m.Board == nil {
		return message.Reject(message.ReasonInvalidMessage)
	}
	if err := g.board.Update(ctx, BoardState(*m.Board)); err != nil {
		log.Error().Err(err).Msg("board update failed")
		return message.Reject(message.ReasonSerialFailure)
	}
	return message.Ack()
}

// BoardState converts the wire payload to the display registers model.
func BoardState(d message.BoardData) peripheral.BoardState {
	var s peripheral.BoardState
	for _, f := range model.Floors {
		s.Free[f] = d.Free[f.Name()]
		s.Cars[f] = d.Cars[f.Name()]
	}
	s.Full, s.Floor1Blocked, s.Floor2Blocked = d.Full, d.Floor1Blocked, d.Floor2Blocked
	return s
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
