package message

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one inbound message. A nil reply sends nothing back.
type HandlerFunc func(ctx context.Context, m *Message) *Message

// Server accepts node connections and answers framed messages.
type Server struct {
	handler HandlerFunc

	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer constructs a server dispatching to handler.
func NewServer(handler HandlerFunc) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler: handler,
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen starts accepting connections on the provided address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return &ConnectionError{Addr: address, Err: err}
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address once Listen succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Error().Err(err).Msg("message server accept failed")
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	peer := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		body, err := ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrShortHeader) && !errors.Is(err, ErrShortBody) {
				log.Warn().Err(err).Str("peer", peer).Msg("message connection closed")
			}
			return
		}

		var reply *Message
		m, err := Decode(body)
		if err != nil {
			log.Warn().Err(err).Str("peer", peer).Msg("invalid message")
			reply = Reject(ReasonInvalidMessage)
		} else {
			reply = s.handler(s.ctx, m)
		}
		if reply == nil {
			continue
		}
		if reply.Timestamp == "" {
			reply.Timestamp = Now()
		}
		if err := WriteMessage(w, reply); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Close stops accepting, closes open connections and waits for their loops.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}
