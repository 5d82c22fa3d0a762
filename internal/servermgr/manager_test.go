package servermgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"garage-control/internal/model"
	"garage-control/internal/modbus"
	"garage-control/internal/peripheral"
)

func TestLoadYAMLDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mocktty.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
matricula: "1234"
endpoints:
  - listen_address: 127.0.0.1:0
    capture_delay: 50ms
`), 0o644))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)
	require.Equal(t, "1234", cfg.Token)
	ep := cfg.Endpoints[0]
	require.Equal(t, "bus1", ep.Name)
	require.Equal(t, uint8(0x11), ep.EntryCamera)
	require.Equal(t, uint8(0x20), ep.Board)
	require.Equal(t, 50*time.Millisecond, ep.CaptureDelay)
	require.NotEmpty(t, ep.Plates)
}

func TestLoadYAMLRequiresEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("matricula: x\n"), 0o644))
	_, err := LoadYAML(path)
	require.Error(t, err)
}

func TestPlateCycler(t *testing.T) {
	next := PlateCycler([]string{"AAA0001", "BBB0002"}, 80, 3)
	p, ok := next()
	require.True(t, ok)
	require.Equal(t, peripheral.Plate{Text: "AAA0001", Confidence: 80}, p)
	p, ok = next()
	require.True(t, ok)
	require.Equal(t, "BBB0002", p.Text)
	_, ok = next()
	require.False(t, ok)
}

func TestManagerServesCamerasAndBoard(t *testing.T) {
	m := NewManager(Config{Endpoints: []Endpoint{{
		Name:          "terreo",
		ListenAddress: "127.0.0.1:0",
		CaptureDelay:  20 * time.Millisecond,
		Plates:        []string{"XYZ9K88"},
	}}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return m.Addr("terreo") != nil }, 2*time.Second, 10*time.Millisecond)

	bus, err := modbus.Dial(m.Addr("terreo").String(), "0000", time.Second)
	require.NoError(t, err)
	defer bus.Close()

	plate, err := peripheral.NewCamera(bus, 0x11, 3).Capture(ctx, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "XYZ9K88", plate.Text)
	require.Equal(t, 92, plate.Confidence)

	var st peripheral.BoardState
	st.Cars[model.First] = 3
	st.Full = true
	require.NoError(t, peripheral.NewBoard(bus, 0x20, 3).Update(ctx, st))

	snap, err := m.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 3, snap["terreo"].Cars[model.First])
	require.True(t, snap["terreo"].Full)
}
