// Package history exposes the garage journal database to other programs.
package history

import (
	"context"
	"time"

	dbpkg "garage-control/internal/db"
	"garage-control/internal/model"
)

// Client exposes a stable API for third-party packages to read the journal.
type Client struct{ db *dbpkg.DB }

// Open opens the SQLite database (runs migrations) and returns a client.
func Open(path string) (*Client, error) {
	d, err := dbpkg.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }

// --------------------
// DTOs and converters
// --------------------

// Session is one parking stay. ExitAt is nil while the vehicle is parked.
type Session struct {
	SessionID       string     `json:"session_id"`
	Plate           string     `json:"plate"`
	Temporary       bool       `json:"temporary"`
	Floor           int        `json:"floor"`
	EntryAt         time.Time  `json:"entry_at"`
	EntryConfidence int        `json:"entry_confidence"`
	ExitAt          *time.Time `json:"exit_at,omitempty"`
	ExitConfidence  *int       `json:"exit_confidence,omitempty"`
	Minutes         int        `json:"minutes"`
	Fare            float64    `json:"fare"`
}

type Audit struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Plate     string    `json:"plate,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func fromModelRecord(r model.VehicleRecord) Session {
	return Session{
		SessionID:       r.SessionID,
		Plate:           r.Plate,
		Temporary:       r.Temporary,
		Floor:           int(r.Floor),
		EntryAt:         r.EntryAt,
		EntryConfidence: r.EntryConfidence,
		ExitAt:          r.ExitAt,
		ExitConfidence:  r.ExitConfidence,
		Minutes:         r.DurationMinutes,
		Fare:            r.Fare,
	}
}

func toModelRecord(s *Session) *model.VehicleRecord {
	return &model.VehicleRecord{
		SessionID:       s.SessionID,
		Plate:           s.Plate,
		Temporary:       s.Temporary,
		Floor:           model.ParseFloor(s.Floor),
		EntryAt:         s.EntryAt,
		EntryConfidence: s.EntryConfidence,
		ExitAt:          s.ExitAt,
		ExitConfidence:  s.ExitConfidence,
		DurationMinutes: s.Minutes,
		Fare:            s.Fare,
	}
}

func fromModelRecords(rows []model.VehicleRecord) []Session {
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModelRecord(r))
	}
	return out
}

// --------------------
// Operations
// --------------------

// SaveSession inserts or updates a session keyed by SessionID.
func (c *Client) SaveSession(ctx context.Context, s *Session) error {
	kind := model.EventEntry
	if s.ExitAt != nil {
		kind = model.EventExit
	}
	return c.db.SaveEvent(ctx, model.Event{Kind: kind, Record: toModelRecord(s)})
}

// Finished returns completed sessions, latest exit first. limit <= 0 returns all.
func (c *Client) Finished(ctx context.Context, limit int) ([]Session, error) {
	rows, err := c.db.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromModelRecords(rows), nil
}

// Between returns sessions that ended in [from, to).
func (c *Client) Between(ctx context.Context, from, to time.Time) ([]Session, error) {
	rows, err := c.db.HistoryBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return fromModelRecords(rows), nil
}

// Plate returns every session of a plate, newest first.
func (c *Client) Plate(ctx context.Context, plate string) ([]Session, error) {
	rows, err := c.db.PlateHistory(ctx, plate)
	if err != nil {
		return nil, err
	}
	return fromModelRecords(rows), nil
}

// Parked returns sessions without an exit.
func (c *Client) Parked(ctx context.Context) ([]Session, error) {
	rows, err := c.db.OpenSessions(ctx)
	if err != nil {
		return nil, err
	}
	return fromModelRecords(rows), nil
}

// Audits returns audit events of kind (all when empty), newest first.
func (c *Client) Audits(ctx context.Context, kind string, limit int) ([]Audit, error) {
	rows, err := c.db.Audits(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Audit, 0, len(rows))
	for _, a := range rows {
		out = append(out, Audit{ID: a.ID, Kind: a.Kind, Plate: a.Plate, Detail: a.Detail, Timestamp: a.Timestamp})
	}
	return out, nil
}

// StatsJSON returns aggregated session, revenue and heartbeat figures as JSON.
func (c *Client) StatsJSON(ctx context.Context) ([]byte, error) {
	return c.db.StatsJSON(ctx)
}
