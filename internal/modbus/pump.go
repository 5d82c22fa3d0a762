package modbus

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

const pumpChunk = 256

// pump reads the port on its own goroutine. Received bytes wait in a queue
// until an exchange consumes them or discards them before its request.
type pump struct {
	port io.ReadWriteCloser
	data chan []byte
	quit chan struct{}
	done chan struct{}
	err  error // set before done is closed

	pending   []byte
	closeOnce sync.Once
}

func newPump(port io.ReadWriteCloser) *pump {
	p := &pump{
		port: port,
		data: make(chan []byte, 64),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *pump) loop() {
	defer close(p.done)
	for {
		buf := make([]byte, pumpChunk)
		n, err := p.port.Read(buf)
		if n > 0 {
			select {
			case p.data <- buf[:n]:
			case <-p.quit:
				p.err = io.ErrClosedPipe
				return
			}
		}
		if err != nil {
			if idleRead(err) {
				continue
			}
			p.err = err
			return
		}
	}
}

// idleRead reports a read that ended without data and may be retried.
func idleRead(err error) bool {
	if errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Discard drops every byte received so far and returns how many there were.
func (p *pump) Discard() int {
	n := len(p.pending)
	p.pending = nil
	for {
		select {
		case chunk := <-p.data:
			n += len(chunk)
		default:
			return n
		}
	}
}

// ReadFull fills b or fails once timeout elapses. A zero timeout waits
// until the port fails.
func (p *pump) ReadFull(b []byte, timeout time.Duration) (int, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	n := 0
	for n < len(b) {
		if len(p.pending) == 0 {
			select {
			case p.pending = <-p.data:
			case <-p.done:
				select {
				case p.pending = <-p.data:
				default:
					return n, p.err
				}
			case <-expired:
				return n, ErrTimeout
			}
		}
		c := copy(b[n:], p.pending)
		p.pending = p.pending[c:]
		n += c
	}
	return n, nil
}

func (p *pump) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *pump) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.quit)
		err = p.port.Close()
	})
	return err
}
