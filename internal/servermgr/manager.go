// Package servermgr runs emulated peripheral buses: both LPR cameras and the
// display board answer on each configured endpoint.
package servermgr

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"garage-control/internal/modbus"
	"garage-control/internal/peripheral"
	"garage-control/internal/utils"
)

// Bus is the emulated device set behind one endpoint.
type Bus struct {
	Entry *peripheral.CameraEmulator
	Exit  *peripheral.CameraEmulator
	Board *peripheral.BoardEmulator
}

// NewBus builds the devices an endpoint answers for.
func NewBus(ep Endpoint) *Bus {
	return &Bus{
		Entry: peripheral.NewCameraEmulator(ep.EntryCamera, ep.CaptureDelay, PlateCycler(ep.Plates, ep.Confidence, ep.FailEvery)),
		Exit:  peripheral.NewCameraEmulator(ep.ExitCamera, ep.CaptureDelay, PlateCycler(ep.Plates, ep.Confidence, ep.FailEvery)),
		Board: peripheral.NewBoardEmulator(ep.Board),
	}
}

func (b *Bus) devices() []*modbus.Device {
	return []*modbus.Device{b.Entry.Device, b.Exit.Device, b.Board.Device}
}

// PlateCycler reports plates round-robin. With failEvery > 0 every
// failEvery-th capture fails.
func PlateCycler(plates []string, confidence, failEvery int) peripheral.PlateSource {
	var mu sync.Mutex
	n := 0
	return func() (peripheral.Plate, bool) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if failEvery > 0 && n%failEvery == 0 {
			return peripheral.Plate{}, false
		}
		return peripheral.Plate{Text: plates[(n-1)%len(plates)], Confidence: confidence}, true
	}
}

// Manager serves every configured endpoint until ctx is canceled.
type Manager struct {
	Cfg Config

	mu    sync.Mutex
	buses map[string]*Bus
	addrs map[string]net.Addr
}

func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{Cfg: cfg, buses: make(map[string]*Bus), addrs: make(map[string]net.Addr)}
}

// Bus returns the devices of a running endpoint.
func (m *Manager) Bus(name string) *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buses[name]
}

// Addr is the bound address of a running TCP endpoint.
func (m *Manager) Addr(name string) net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addrs[name]
}

// Snapshot decodes what every emulated board currently displays.
func (m *Manager) Snapshot() (map[string]peripheral.BoardState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]peripheral.BoardState, len(m.buses))
	for name, b := range m.buses {
		st, err := b.Board.State()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = st
	}
	return out, nil
}

func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ep := range m.Cfg.Endpoints {
		ep := ep // per-iteration copy; go.mod targets go 1.21
		mode := strings.ToLower(strings.TrimSpace(ep.Mode))
		switch {
		case mode == "serial" || (mode == "" && ep.SerialPort != ""):
			g.Go(func() error { return m.runSerial(ctx, ep) })
		case mode == "rtu_over_tcp" || mode == "tcp" || mode == "":
			g.Go(func() error { return m.runTCP(ctx, ep) })
		default:
			log.Warn().Str("endpoint", ep.Name).Str("mode", ep.Mode).Msg("unsupported mode, skipping")
		}
	}
	return g.Wait()
}

func (m *Manager) register(name string, b *Bus, addr net.Addr) {
	m.mu.Lock()
	m.buses[name] = b
	if addr != nil {
		m.addrs[name] = addr
	}
	m.mu.Unlock()
}

func (m *Manager) unregister(name string) {
	m.mu.Lock()
	delete(m.buses, name)
	delete(m.addrs, name)
	m.mu.Unlock()
}

func (m *Manager) runTCP(ctx context.Context, ep Endpoint) error {
	addr := ep.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:5020"
	}
	bus := NewBus(ep)
	srv := modbus.NewServer(m.Cfg.Token, bus.devices()...)
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("endpoint %s listen %s: %w", ep.Name, addr, err)
	}
	m.register(ep.Name, bus, srv.Addr())
	log.Info().Str("endpoint", ep.Name).Str("addr", srv.Addr().String()).Msg("emulated bus listening (RTU over TCP)")

	<-ctx.Done()
	srv.Close()
	m.unregister(ep.Name)
	log.Info().Str("endpoint", ep.Name).Msg("emulated bus stopped")
	return nil
}

func (m *Manager) runSerial(ctx context.Context, ep Endpoint) error {
	if ep.SpawnSocat {
		link := ep.SocatLink
		if link == "" {
			link = ep.SerialPort
		}
		if link == "" || ep.SocatPeer == "" {
			return fmt.Errorf("endpoint %s: spawn_socat requires socat_link (or serial_port) and socat_peer", ep.Name)
		}
		stop, err := utils.StartSocatPair(ctx, utils.SocatPair{Link: link, Peer: ep.SocatPeer}, 5*time.Second, 2*time.Second)
		if err != nil {
			return fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}
		defer stop()
		log.Info().Str("link", link).Str("peer", ep.SocatPeer).Msg("spawned socat pair")
		ep.SerialPort = link
	}

	port, err := utils.OpenSerial(utils.SerialParams{
		Address:  ep.SerialPort,
		BaudRate: ep.BaudRate,
		DataBits: ep.DataBits,
		StopBits: ep.StopBits,
		Parity:   ep.Parity,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", ep.Name, err)
	}
	bus := NewBus(ep)
	srv := modbus.NewServer(m.Cfg.Token, bus.devices()...)
	m.register(ep.Name, bus, nil)
	log.Info().Str("endpoint", ep.Name).Str("port", ep.SerialPort).Msg("emulated bus listening (serial)")

	done := make(chan struct{})
	go func() {
		defer close(done)
		// an idle line times out the read; keep serving until shutdown
		for ctx.Err() == nil {
			if err := srv.Serve(port); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Str("endpoint", ep.Name).Msg("serial read ended, resuming")
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()
	<-ctx.Done()
	_ = port.Close()
	<-done
	m.unregister(ep.Name)
	return nil
}
