package node

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"garage-control/internal/config"
	"garage-control/internal/gate"
	"garage-control/internal/gpio"
	"garage-control/internal/message"
	"garage-control/internal/model"
	"garage-control/internal/modbus"
	"garage-control/internal/peripheral"
)

type recorder struct {
	mu   sync.Mutex
	msgs []*message.Message
	srv  *message.Server
}

func newRecorder(t *testing.T, reply func(*message.Message) *message.Message) *recorder {
	t.Helper()
	r := &recorder{}
	r.srv = message.NewServer(func(_ context.Context, m *message.Message) *message.Message {
		r.mu.Lock()
		r.msgs = append(r.msgs, m)
		r.mu.Unlock()
		if reply != nil {
			return reply(m)
		}
		return message.Ack()
	})
	require.NoError(t, r.srv.Listen("127.0.0.1:0"))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *recorder) endpoint(t *testing.T) Endpoint {
	host, port, err := net.SplitHostPort(r.srv.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Endpoint{Host: host, Port: p}
}

func (r *recorder) ofType(tp message.Type) []*message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*message.Message
	for _, m := range r.msgs {
		if m.Type == tp {
			out = append(out, m)
		}
	}
	return out
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	s, err := FromValues(config.New(nil))
	require.NoError(t, err)
	s.HTTPAddr = ""
	s.ScanInterval = 20 * time.Millisecond
	s.HeartbeatInterval = 0
	s.GateTimeout = 2 * time.Second
	s.PresenceTimeout = 200 * time.Millisecond
	s.CloseDelay = 0
	s.CaptureTimeout = time.Second
	return s
}

func TestSettingsDefaults(t *testing.T) {
	s := testSettings(t)
	require.Equal(t, 5000, s.Central.Port)
	require.Equal(t, 5003, s.Floor2.Port)
	require.Equal(t, byte(0x11), s.EntryCamera)
	require.Equal(t, byte(0x20), s.BoardAddr)
	require.Equal(t, "0000", s.Token)
	require.Equal(t, model.Slots{PNE: 2, Idoso: 2, Comuns: 4}, s.Capacity[model.Second])
	require.Equal(t, []int{16, 20, 21}, s.Floor1Pins.Addr)
	require.Equal(t, gate.Pins{OpenSensor: 12, CloseSensor: 25, Motor: 24}, s.GroundPins.Exit)
}

func TestSettingsValidation(t *testing.T) {
	_, err := FromValues(config.New(map[string]string{"servidor_central_port": "70000", "confianca_minima": "120"}))
	require.Error(t, err)
	_, err = FromValues(config.New(map[string]string{"modbus_retries": "x"}))
	require.Error(t, err)
}

func runCentral(t *testing.T, s Settings) (*Central, *message.Client) {
	t.Helper()
	c := NewCentral(s, nil, nil)
	require.NoError(t, c.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	client := message.NewClient(c.Addr())
	t.Cleanup(func() { _ = client.Close() })
	return c, client
}

func TestCentralEntryExitOverTCP(t *testing.T) {
	ground := newRecorder(t, nil)
	s := testSettings(t)
	s.Ground = ground.endpoint(t)
	c, client := runCentral(t, s)
	ctx := context.Background()

	reply, err := client.Send(ctx, message.NewEntry("ABC1D23", 95, model.Ground), true)
	require.NoError(t, err)
	require.True(t, reply.OK())
	require.Equal(t, "Entrada autorizada", reply.Text)

	reply, err = client.Send(ctx, message.New(message.SystemStatus), true)
	require.NoError(t, err)
	require.NotNil(t, reply.System)
	require.Equal(t, 1, reply.System.Cars["terreo"])

	reply, err = client.Send(ctx, message.NewExit("ABC1D23", 90), true)
	require.NoError(t, err)
	require.True(t, reply.OK())
	require.NotNil(t, reply.Fare)
	require.Equal(t, 1, *reply.Minutes)

	require.Eventually(t, func() bool { return len(ground.ofType(message.BoardUpdate)) > 0 }, 2*time.Second, 20*time.Millisecond)
	last := ground.ofType(message.BoardUpdate)
	require.NotNil(t, last[len(last)-1].Board)

	hist, err := c.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestCentralUnknownTypeAcked(t *testing.T) {
	s := testSettings(t)
	s.Ground = Endpoint{Host: "127.0.0.1", Port: 1}
	_, client := runCentral(t, s)
	reply, err := client.Send(context.Background(), &message.Message{Type: "desconhecido"}, true)
	require.NoError(t, err)
	require.True(t, reply.OK())
}

type journalFunc func(model.Event) error

func (f journalFunc) Handle(ev model.Event) error { return f(ev) }

func TestCentralJournalsEvents(t *testing.T) {
	var mu sync.Mutex
	var kinds []model.EventKind
	s := testSettings(t)
	s.Ground = Endpoint{Host: "127.0.0.1", Port: 1}
	c := NewCentral(s, journalFunc(func(ev model.Event) error {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
		return nil
	}), []model.VehicleRecord{{SessionID: "r", Plate: "OLD0001", EntryAt: time.Now()}})
	require.NoError(t, c.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	reply := c.Dispatch(ctx, message.NewExit("OLD0001", 80))
	require.True(t, reply.OK())
	reply = c.Dispatch(ctx, message.NewExit("NONE000", 80))
	require.Equal(t, "sem registro de entrada", reply.Text)

	// events are flushed after the reply is handed back
	_, err := c.Snapshot(ctx)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []model.EventKind{model.EventExit, model.EventAudit}, kinds)
}

func TestGroundDegradedBoardUpdate(t *testing.T) {
	s := testSettings(t)
	g, err := NewGround(s, gpio.NewSim(), nil)
	require.NoError(t, err)
	require.True(t, g.Degraded())

	reply := g.handleBoardUpdate(context.Background(), message.NewBoardUpdate(message.BoardData{}))
	require.Equal(t, message.ReasonSerialInactive, reply.Reason)
}

func TestGroundGateCommands(t *testing.T) {
	s := testSettings(t)
	g, err := NewGround(s, gpio.NewSim(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.Equal(t, message.ReasonInvalidGate, g.handleGateCommand(ctx, message.NewGateCommand("lateral", message.Open)).Reason)
	require.Equal(t, message.ReasonInvalidAction, g.handleGateCommand(ctx, message.NewGateCommand(message.EntryGate, "girar")).Reason)

	require.True(t, g.handleGateCommand(ctx, message.NewGateCommand(message.ExitGate, message.Open)).OK())
	require.Equal(t, gate.Open, g.Gate(message.ExitGate).State())
	require.True(t, g.handleGateCommand(ctx, message.NewGateCommand(message.ExitGate, message.Close)).OK())
	require.Equal(t, gate.Closed, g.Gate(message.ExitGate).State())
}

func TestGroundBoardUpdateWritesDisplay(t *testing.T) {
	s := testSettings(t)
	emu := peripheral.NewBoardEmulator(s.BoardAddr)
	clientSide, deviceSide := net.Pipe()
	srv := modbus.NewServer(s.Token, emu.Device)
	go func() { _ = srv.Serve(deviceSide) }()
	bus := modbus.NewClient(clientSide, s.Token, 200*time.Millisecond)
	bus.SetBackoff(time.Millisecond)
	t.Cleanup(func() {
		_ = bus.Close()
		_ = deviceSide.Close()
	})

	g, err := NewGround(s, gpio.NewSim(), bus)
	require.NoError(t, err)
	d := message.BoardData{
		Free:          map[string]model.Slots{"andar1": {PNE: 1, Comuns: 3}},
		Cars:          map[string]int{"terreo": 2},
		Floor2Blocked: true,
	}
	require.True(t, g.handleBoardUpdate(context.Background(), message.NewBoardUpdate(d)).OK())

	st, err := emu.State()
	require.NoError(t, err)
	require.Equal(t, model.Slots{PNE: 1, Comuns: 3}, st.Free[model.First])
	require.Equal(t, 2, st.Cars[model.Ground])
	require.True(t, st.Floor2Blocked)
	require.False(t, st.Full)
}

func TestGroundFailuresCarryReason(t *testing.T) {
	s := testSettings(t)
	clientSide, deviceSide := net.Pipe()
	require.NoError(t, deviceSide.Close())
	bus := modbus.NewClient(clientSide, s.Token, 50*time.Millisecond)
	bus.SetBackoff(time.Millisecond)
	t.Cleanup(func() { _ = bus.Close() })

	g, err := NewGround(s, gpio.NewSim(), bus)
	require.NoError(t, err)

	reply := g.handleBoardUpdate(context.Background(), message.NewBoardUpdate(message.BoardData{}))
	require.Equal(t, message.StatusError, reply.Status)
	require.Equal(t, message.ReasonSerialFailure, reply.Reason)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply = g.handleGateCommand(ctx, message.NewGateCommand(message.EntryGate, message.Open))
	require.Equal(t, message.ReasonGateFailure, reply.Reason)
}

func TestCentralUnavailableReason(t *testing.T) {
	s := testSettings(t)
	c := NewCentral(s, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply := c.Dispatch(ctx, message.NewEntry("ABC1234", 90, model.Ground))
	require.Equal(t, message.ReasonUnavailable, reply.Reason)

	close(c.done)
	reply = c.Dispatch(context.Background(), message.NewEntry("ABC1234", 90, model.Ground))
	require.Equal(t, message.ReasonUnavailable, reply.Reason)
}

func TestGroundEntryCycleUsesTemporaryPlate(t *testing.T) {
	central := newRecorder(t, nil)
	s := testSettings(t)
	s.Central = central.endpoint(t)
	sim := gpio.NewSim()
	g, err := NewGround(s, sim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.central.Close() })

	g.entryCycle(context.Background())

	entries := central.ofType(message.EntryOk)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Plate, "TEMP")
	require.Zero(t, entries[0].Confidence)
	require.Equal(t, gate.Closed, g.Gate(message.EntryGate).State())
}

func TestGroundEntryRefusedKeepsGateClosed(t *testing.T) {
	central := newRecorder(t, func(*message.Message) *message.Message { return message.Reject(message.ReasonFull) })
	s := testSettings(t)
	s.Central = central.endpoint(t)
	sim := gpio.NewSim()
	g, err := NewGround(s, sim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.central.Close() })

	g.entryCycle(context.Background())
	require.Equal(t, gate.Closed, g.Gate(message.EntryGate).State())
	motor, _ := sim.Read(s.GroundPins.Entry.Motor)
	require.Equal(t, gpio.Low, motor)
}

func TestFloorReportsSlotsAndPassage(t *testing.T) {
	central := newRecorder(t, nil)
	s := testSettings(t)
	s.Central = central.endpoint(t)
	sim := gpio.NewSim()
	f, err := NewFloor(s, model.First, sim)
	require.NoError(t, err)
	require.NoError(t, f.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return len(central.ofType(message.SlotStatus)) == 1 }, 2*time.Second, 10*time.Millisecond)
	st := central.ofType(message.SlotStatus)[0]
	require.Equal(t, 1, st.Floor)
	require.Equal(t, 8, st.Free.Merge(model.Slots{}).Total())

	sim.Set(s.Floor1Pins.Passage1, gpio.High)
	sim.Set(s.Floor1Pins.Passage2, gpio.High)
	require.Eventually(t, func() bool { return len(central.ofType(message.FloorPassage)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, message.Up, central.ofType(message.FloorPassage)[0].Direction)

	client := message.NewClient(f.Addr())
	defer client.Close()
	reply, err := client.Send(ctx, message.NewGateCommand(message.EntryGate, message.Open), true)
	require.NoError(t, err)
	require.True(t, reply.OK())
}

func TestNewFloorRejectsGround(t *testing.T) {
	_, err := NewFloor(testSettings(t), model.Ground, gpio.NewSim())
	require.Error(t, err)
}
