package modbus

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPipeClient(t *testing.T, token string, devices ...*Device) *Client {
	t.Helper()
	clientSide, deviceSide := net.Pipe()
	srv := NewServer(token, devices...)
	go func() { _ = srv.Serve(deviceSide) }()

	c := NewClient(clientSide, token, 200*time.Millisecond)
	c.SetBackoff(time.Millisecond)
	t.Cleanup(func() {
		_ = c.Close()
		_ = deviceSide.Close()
	})
	return c
}

func TestClientReadWriteRegisters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := NewDevice(0x20, 16)
	c := newPipeClient(t, "1606", dev)

	values := []uint16{1, 2, 3, 0xABCD, 0}
	require.NoError(t, c.WriteRegisters(ctx, 0x20, 4, values, DefaultRetries))

	got, err := GetHoldingRegisters(dev, 4, 5)
	require.NoError(t, err)
	require.Equal(t, values, got)

	read, err := c.ReadRegisters(ctx, 0x20, 4, 5, DefaultRetries)
	require.NoError(t, err)
	require.Equal(t, values, read)
}

func TestClientWriteHookSeesValues(t *testing.T) {
	t.Parallel()
	dev := NewDevice(0x11, 8)
	seen := make(chan []uint16, 1)
	dev.OnWrite(func(start uint16, values []uint16) {
		if start == 1 {
			seen <- values
		}
	})
	c := newPipeClient(t, "0000", dev)

	require.NoError(t, c.WriteRegisters(context.Background(), 0x11, 1, []uint16{1}, 1))
	select {
	case v := <-seen:
		require.Equal(t, []uint16{1}, v)
	case <-time.After(time.Second):
		t.Fatal("write hook not called")
	}
}

func TestClientTimesOutAfterRetries(t *testing.T) {
	t.Parallel()
	dev := NewDevice(0x11, 8)
	// device expects another token and drops every frame
	clientSide, deviceSide := net.Pipe()
	srv := NewServer("9999", dev)
	go func() { _ = srv.Serve(deviceSide) }()
	c := NewClient(clientSide, "0000", 50*time.Millisecond)
	c.SetBackoff(time.Millisecond)
	t.Cleanup(func() {
		_ = c.Close()
		_ = deviceSide.Close()
	})

	_, err := c.ReadRegisters(context.Background(), 0x11, 0, 1, 2)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTimeout)
}

// scriptedPort answers every request with reply. It has no way to flush.
type scriptedPort struct {
	r     *io.PipeReader
	w     *io.PipeWriter
	reply []byte
}

func newScriptedPort(reply []byte) *scriptedPort {
	r, w := io.Pipe()
	return &scriptedPort{r: r, w: w, reply: reply}
}

func (p *scriptedPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *scriptedPort) Write(b []byte) (int, error) {
	go func() { _, _ = p.w.Write(p.reply) }()
	return len(b), nil
}

func (p *scriptedPort) Close() error {
	_ = p.w.Close()
	return p.r.Close()
}

func TestClientDiscardsStaleInput(t *testing.T) {
	t.Parallel()
	port := newScriptedPort(BuildFrame(0x11, 0x03, []byte{0x02, 0x00, 0x07}, "0000"))
	c := NewClient(port, "0000", 200*time.Millisecond)
	c.SetBackoff(time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })

	// a late answer to an abandoned request, valid in every field
	stale := BuildFrame(0x11, 0x03, []byte{0x02, 0xDE, 0xAD}, "0000")
	go func() { _, _ = port.w.Write(stale) }()
	require.Eventually(t, func() bool { return len(c.port.data) > 0 }, time.Second, time.Millisecond)

	got, err := c.ReadRegisters(context.Background(), 0x11, 0, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []uint16{7}, got)
}

func TestClientDeviceException(t *testing.T) {
	t.Parallel()
	dev := NewDevice(0x11, 4)
	c := newPipeClient(t, "0000", dev)

	_, err := c.ReadRegisters(context.Background(), 0x11, 2, 5, 1)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestClientRejectsBadQuantity(t *testing.T) {
	t.Parallel()
	c := newPipeClient(t, "0000", NewDevice(0x11, 4))

	_, err := c.ReadRegisters(context.Background(), 0x11, 0, 0, 1)
	require.ErrorIs(t, err, ErrProtocol)
	require.ErrorIs(t, c.WriteRegisters(context.Background(), 0x11, 0, nil, 1), ErrProtocol)
}

func TestResponseLength(t *testing.T) {
	t.Parallel()
	read := BuildFrame(0x11, 0x03, []byte{0x00, 0x02, 0x00, 0x05}, "0000")
	n, err := responseLength(read, TokenLen)
	require.NoError(t, err)
	require.Equal(t, 1+1+1+5*2+TokenLen+2, n)

	write := BuildFrame(0x20, 0x10, []byte{0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x07}, "0000")
	n, err = responseLength(write, TokenLen)
	require.NoError(t, err)
	require.Equal(t, 1+1+4+TokenLen+2, n)
}
