package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"garage-control/internal/api"
	"garage-control/internal/ledger"
	"garage-control/internal/message"
	"garage-control/internal/model"
	"garage-control/internal/telemetry"
)

// ErrStopped is returned by Central calls made after the control loop exits.
var ErrStopped = errors.New("central control loop stopped")

// Journal receives ledger events; *storage.Storage satisfies it.
type Journal interface {
	Handle(ev model.Event) error
}

type command struct {
	fn    func(l *ledger.Ledger) *message.Message
	reply chan *message.Message
}

// Central is the coordinator process. The ledger is owned by the control
// loop; everything else reaches it through Do.
type Central struct {
	settings Settings
	ledger   *ledger.Ledger
	journal  Journal
	cmds     chan command
	board    chan message.BoardData
	done     chan struct{}

	ground *message.Client
	server *message.Server
	router *message.Router
}

// NewCentral builds the coordinator. journal may be nil; restored sessions
// (open sessions read back from the journal database) are re-activated.
func NewCentral(s Settings, journal Journal, restored []model.VehicleRecord) *Central {
	l := ledger.New(s.LedgerConfig())
	if len(restored) > 0 {
		l.Restore(restored)
		log.Info().Int("sessions", len(restored)).Msg("restored open sessions")
	}
	c := &Central{
		settings: s,
		ledger:   l,
		journal:  journal,
		cmds:     make(chan command),
		board:    make(chan message.BoardData, 1),
		done:     make(chan struct{}),
		ground:   message.NewClient(s.Ground.Addr()),
	}
	routes := make(map[message.Type]message.HandlerFunc)
	for t, h := range l.Handlers() {
		routes[t] = c.submit(h)
	}
	c.router = message.NewRouter("central", routes)
	c.server = message.NewServer(c.router.Handle)
	return c
}

func (c *Central) submit(h ledger.Handler) message.HandlerFunc {
	return func(ctx context.Context, m *message.Message) *message.Message {
		reply, err := c.Do(ctx, func(*ledger.Ledger) *message.Message { return h(m) })
		if err != nil {
			log.Warn().Err(err).Str("tipo", string(m.Type)).Msg("message dropped")
			return message.Reject(message.ReasonUnavailable)
		}
		return reply
	}
}

// Do runs fn on the control loop and returns its result.
func (c *Central) Do(ctx context.Context, fn func(l *ledger.Ledger) *message.Message) (*message.Message, error) {
	cmd := command{fn: fn, reply: make(chan *message.Message, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispatch routes m as if it arrived from a node.
func (c *Central) Dispatch(ctx context.Context, m *message.Message) *message.Message {
	return c.router.Handle(ctx, m)
}

func (c *Central) Snapshot(ctx context.Context) (model.Status, error) {
	var st model.Status
	_, err := c.Do(ctx, func(l *ledger.Ledger) *message.Message {
		st = l.Status()
		return nil
	})
	return st, err
}

func (c *Central) Active(ctx context.Context) ([]model.VehicleRecord, error) {
	var recs []model.VehicleRecord
	_, err := c.Do(ctx, func(l *ledger.Ledger) *message.Message {
		recs = l.Active()
		return nil
	})
	return recs, err
}

func (c *Central) History(ctx context.Context, limit int) ([]model.VehicleRecord, error) {
	var recs []model.VehicleRecord
	_, err := c.Do(ctx, func(l *ledger.Ledger) *message.Message {
		recs = l.History(limit)
		return nil
	})
	return recs, err
}

func (c *Central) LastSeen(ctx context.Context) (map[string]time.Time, error) {
	var seen map[string]time.Time
	_, err := c.Do(ctx, func(l *ledger.Ledger) *message.Message {
		seen = l.LastSeen()
		return nil
	})
	return seen, err
}

// Addr is the bound message server address once Run has started listening.
func (c *Central) Addr() string {
	if a := c.server.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Listen binds the message server. Run calls it when not already bound.
func (c *Central) Listen(addr string) error {
	return c.server.Listen(addr)
}

// Run starts the control loop, message server, board pusher and the optional
// HTTP API and telemetry publisher, and blocks until ctx is done.
func (c *Central) Run(ctx context.Context) error {
	if c.server.Addr() == nil {
		if err := c.Listen(c.settings.Central.ListenAddr()); err != nil {
			return fmt.Errorf("central listen: %w", err)
		}
	}
	log.Info().Str("addr", c.Addr()).Str("terreo", c.settings.Ground.Addr()).Msg("central node started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.loop(ctx) })
	g.Go(func() error { return c.pushBoard(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		c.server.Close()
		return c.ground.Close()
	})
	if c.settings.HTTPAddr != "" {
		g.Go(func() error { return api.New(c).Run(ctx, c.settings.HTTPAddr) })
	}
	if c.settings.TelemetryEnabled {
		g.Go(func() error { return c.runTelemetry(ctx) })
	}
	return g.Wait()
}

func (c *Central) loop(ctx context.Context) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			cmd.reply <- cmd.fn(c.ledger)
			c.flush()
		}
	}
}

// flush forwards journal events and queues the latest board state.
func (c *Central) flush() {
	for _, ev := range c.ledger.Events() {
		if c.journal == nil {
			continue
		}
		if err := c.journal.Handle(ev); err != nil {
			log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("journal event dropped")
		}
	}
	d, ok := c.ledger.TakeBoard()
	if !ok {
		return
	}
	select {
	case c.board <- d:
	default:
		select {
		case <-c.board:
		default:
		}
		c.board <- d
	}
}

func (c *Central) pushBoard(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-c.board:
			reply, err := c.ground.Send(ctx, message.NewBoardUpdate(d), true)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn().Err(err).Msg("board update not delivered")
				continue
			}
			if !reply.OK() {
				log.Warn().Str("motivo", reply.Reason).Msg("board update refused")
			}
		}
	}
}

func (c *Central) runTelemetry(ctx context.Context) error {
	pub, err := telemetry.Dial(c.settings.TelemetryURL, c.settings.TelemetryTopic, c.settings.TelemetryInterval)
	if err != nil {
		// telemetry is optional; the coordinator keeps running without it
		log.Error().Err(err).Msg("telemetry disabled")
		return nil
	}
	defer pub.Close()
	return pub.Run(ctx, c.Snapshot)
}
