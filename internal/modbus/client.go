package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/rs/zerolog/log"

	"garage-control/internal/metrics"
	"garage-control/internal/utils"
)

const (
	// DefaultRetries is the number of attempts per register operation.
	DefaultRetries = 3
	// DefaultBackoff is multiplied by the attempt number between retries.
	DefaultBackoff = 100 * time.Millisecond

	maxReadQuantity  = 125
	maxWriteQuantity = 123
)

// Client owns a serial line shared by several slaves. Register operations are
// serialized: one frame exchange completes before the next begins.
type Client struct {
	mu      sync.Mutex
	port    *pump
	address string
	token   string
	timeout time.Duration
	backoff time.Duration
}

// Open opens the serial port described by sp and returns a client for it.
// An address of the form tcp://host:port dials an RTU-over-TCP endpoint.
func Open(sp utils.SerialParams, token string) (*Client, error) {
	utils.EnsureSerialDefaults(&sp)
	if addr, ok := strings.CutPrefix(sp.Address, "tcp://"); ok {
		return Dial(addr, token, sp.Timeout)
	}
	port, err := utils.OpenSerial(sp)
	if err != nil {
		return nil, &ConnectionError{Op: "open", Address: sp.Address, Err: err}
	}
	c := NewClient(port, token, sp.Timeout)
	c.address = sp.Address
	return c, nil
}

// Dial connects to an RTU-over-TCP endpoint such as the bus emulator.
func Dial(address, token string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Address: address, Err: err}
	}
	c := NewClient(conn, token, timeout)
	c.address = address
	return c, nil
}

// NewClient wraps an already open port, such as an RTU-over-TCP connection.
func NewClient(port io.ReadWriteCloser, token string, timeout time.Duration) *Client {
	return &Client{
		port:    newPump(port),
		token:   NormalizeToken(token),
		timeout: timeout,
		backoff: DefaultBackoff,
	}
}

// SetBackoff overrides the base retry delay.
func (c *Client) SetBackoff(d time.Duration) {
	c.mu.Lock()
	c.backoff = d
	c.mu.Unlock()
}

// Close releases the serial port.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port.Close()
}

// ReadRegisters reads count holding registers starting at start.
func (c *Client) ReadRegisters(ctx context.Context, slave byte, start, count uint16, retries int) ([]uint16, error) {
	if count < 1 || count > maxReadQuantity {
		return nil, &ProtocolError{Reason: fmt.Sprintf("read quantity %d outside 1..%d", count, maxReadQuantity)}
	}
	var out []uint16
	err := c.withRetry(ctx, "read", slave, retries, func(cl mb.Client) error {
		raw, err := cl.ReadHoldingRegisters(start, count)
		if err != nil {
			return err
		}
		if len(raw) != int(count)*2 {
			return &ProtocolError{Reason: fmt.Sprintf("expected %d register bytes, got %d", count*2, len(raw))}
		}
		out = decodeRegisters(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteRegisters writes values to consecutive holding registers starting at start.
func (c *Client) WriteRegisters(ctx context.Context, slave byte, start uint16, values []uint16, retries int) error {
	if len(values) < 1 || len(values) > maxWriteQuantity {
		return &ProtocolError{Reason: fmt.Sprintf("write quantity %d outside 1..%d", len(values), maxWriteQuantity)}
	}
	return c.withRetry(ctx, "write", slave, retries, func(cl mb.Client) error {
		_, err := cl.WriteMultipleRegisters(start, uint16(len(values)), encodeRegisters(values))
		return err
	})
}

func (c *Client) withRetry(ctx context.Context, op string, slave byte, retries int, fn func(mb.Client) error) error {
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		err = c.exchange(slave, fn)
		metrics.RecordSerialExchange(op, slave, err == nil)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("op", op).Uint8("slave", slave).
			Int("attempt", attempt).Int("retries", retries).Msg("serial exchange failed")
		if attempt == retries {
			break
		}
		if werr := sleepCtx(ctx, c.backoff*time.Duration(attempt)); werr != nil {
			return fmt.Errorf("%s slave 0x%02X: %w", op, slave, werr)
		}
	}
	return fmt.Errorf("%s slave 0x%02X after %d attempts: %w", op, slave, retries, err)
}

func (c *Client) exchange(slave byte, fn func(mb.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := mb.NewClient2(
		&packager{slave: slave, token: c.token},
		&transport{port: c.port, tokenLen: len(c.token), timeout: c.timeout},
	)
	return fn(cl)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeRegisters(raw []byte) []uint16 {
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return out
}

func encodeRegisters(values []uint16) []byte {
	raw := make([]byte, 0, len(values)*2)
	for _, v := range values {
		raw = binary.BigEndian.AppendUint16(raw, v)
	}
	return raw
}
