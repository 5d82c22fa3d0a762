package message

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultRetryDelay = time.Second
)

// Client is a lazily connected peer. Sends are serialized so a reply is
// always read by the caller that sent the request.
type Client struct {
	Addr       string
	Timeout    time.Duration
	RetryDelay time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: DefaultTimeout, RetryDelay: DefaultRetryDelay}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return &ConnectionError{Addr: c.Addr, Err: err}
	}
	c.conn = conn
	log.Debug().Str("addr", c.Addr).Msg("message client connected")
	return nil
}

func (c *Client) disconnectLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Disconnect drops the current connection; the next send reconnects.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.disconnectLocked()
	c.mu.Unlock()
}

// Close is Disconnect for io.Closer users.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

// Send writes m and, when expectResponse is set, waits for one reply. Without
// a reply it returns an ok placeholder; peers that always answer must be sent
// with expectResponse so the reply is consumed. Any I/O failure drops the
// connection.
func (c *Client) Send(ctx context.Context, m *Message, expectResponse bool) (*Message, error) {
	if m.Timestamp == "" {
		m.Timestamp = Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	if err := WriteMessage(c.conn, m); err != nil {
		c.disconnectLocked()
		return nil, c.wrap(err)
	}
	if !expectResponse {
		return Ack(), nil
	}
	reply, err := ReadMessage(c.conn)
	if err != nil {
		c.disconnectLocked()
		return nil, c.wrap(err)
	}
	_ = c.conn.SetDeadline(time.Time{})
	return reply, nil
}

// SendWithRetry calls Send up to attempts times, reconnecting and waiting
// RetryDelay between failures.
func (c *Client) SendWithRetry(ctx context.Context, m *Message, attempts int, expectResponse bool) (*Message, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var reply *Message
		reply, err = c.Send(ctx, m, expectResponse)
		if err == nil {
			return reply, nil
		}
		log.Warn().Err(err).Str("addr", c.Addr).Str("tipo", string(m.Type)).
			Int("attempt", attempt).Int("attempts", attempts).Msg("message send failed")
		c.Disconnect()
		if attempt == attempts {
			break
		}
		t := time.NewTimer(c.RetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, err
}

func (c *Client) wrap(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Addr: c.Addr, Err: err}
	}
	return &ConnectionError{Addr: c.Addr, Err: err}
}
