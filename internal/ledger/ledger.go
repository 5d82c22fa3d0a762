// Package ledger holds the coordinator state: active vehicles, history,
// per-floor occupancy and the administrative flags. A Ledger is not safe for
// concurrent use; the central node confines it to one goroutine.
package ledger

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"garage-control/internal/message"
	"garage-control/internal/metrics"
	"garage-control/internal/model"
)

const (
	DefaultRate         = 0.15
	DefaultHistoryLimit = 10000
)

// Config sets the billing rate and the slot capacity of each floor.
type Config struct {
	Rate         float64
	Capacity     [3]model.Slots
	HistoryLimit int
}

// DefaultCapacity is 2 accessible, 2 senior and 4 standard slots per floor.
func DefaultCapacity() [3]model.Slots {
	s := model.Slots{PNE: 2, Idoso: 2, Comuns: 4}
	return [3]model.Slots{s, s, s}
}

type Ledger struct {
	rate         float64
	historyLimit int
	capacity     [3]model.Slots
	free         [3]model.Slots
	cars         [3]int
	blocked      [3]bool
	closed       bool

	active     map[string]*model.VehicleRecord
	history    []model.VehicleRecord
	heartbeats map[string]time.Time

	boardDirty bool
	events     []model.Event

	now   func() time.Time
	newID func() string
}

// New starts with every configured slot free.
func New(cfg Config) *Ledger {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Capacity == ([3]model.Slots{}) {
		cfg.Capacity = DefaultCapacity()
	}
	return &Ledger{
		rate:         cfg.Rate,
		historyLimit: cfg.HistoryLimit,
		capacity:     cfg.Capacity,
		free:         cfg.Capacity,
		active:       make(map[string]*model.VehicleRecord),
		heartbeats:   make(map[string]time.Time),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Fare returns the billed minutes and amount for a stay of d. Any partial
// minute counts as a whole one.
func Fare(d time.Duration, rate float64) (float64, int) {
	if d <= 0 {
		return 0, 0
	}
	secs := d.Seconds()
	minutes := int(secs / 60)
	if math.Mod(secs, 60) > 0 {
		minutes++
	}
	return float64(minutes) * rate, minutes
}

func (l *Ledger) timestamp(ts string) time.Time {
	if ts != "" {
		if t, err := message.ParseTime(ts); err == nil {
			return t
		}
	}
	return l.now()
}

func (l *Ledger) full() bool {
	for _, f := range l.free {
		if f.Total() > 0 {
			return false
		}
	}
	return true
}

func (l *Ledger) markBoard() {
	l.boardDirty = true
	l.publishGauges()
}

func (l *Ledger) emit(ev model.Event) { l.events = append(l.events, ev) }

func (l *Ledger) audit(kind, plate, detail string) {
	metrics.RecordVehicleEvent(kind)
	l.emit(model.Event{Kind: model.EventAudit, Audit: &model.AuditEvent{
		ID:        l.newID(),
		Kind:      kind,
		Plate:     plate,
		Detail:    detail,
		Timestamp: l.now(),
	}})
}

// Events returns and clears the journal entries produced since the last call.
func (l *Ledger) Events() []model.Event {
	ev := l.events
	l.events = nil
	return ev
}

// TakeBoard returns the display state if anything changed since the last call.
func (l *Ledger) TakeBoard() (message.BoardData, bool) {
	if !l.boardDirty {
		return message.BoardData{}, false
	}
	l.boardDirty = false
	return l.Board(), true
}

// Board computes the display payload: full when no slot is free anywhere, a
// floor blocked when it has no free slot or is blocked by an operator.
func (l *Ledger) Board() message.BoardData {
	d := message.BoardData{
		Free:          make(map[string]model.Slots, 3),
		Cars:          make(map[string]int, 3),
		Full:          l.full(),
		Floor1Blocked: l.free[model.First].Total() == 0 || l.blocked[model.First],
		Floor2Blocked: l.free[model.Second].Total() == 0 || l.blocked[model.Second],
	}
	for _, f := range model.Floors {
		d.Free[f.Name()] = l.free[f]
		d.Cars[f.Name()] = l.cars[f]
	}
	return d
}

// Status is the snapshot served by status_sistema and the HTTP API.
func (l *Ledger) Status() model.Status {
	s := model.Status{
		Free:           make(map[string]model.Slots, 3),
		Totals:         make(map[string]model.Slots, 3),
		Cars:           make(map[string]int, 3),
		ActiveVehicles: len(l.active),
		Closed:         l.closed,
		Floor1Blocked:  l.blocked[model.First],
		Floor2Blocked:  l.blocked[model.Second],
		Full:           l.full(),
	}
	for _, f := range model.Floors {
		s.Free[f.Name()] = l.free[f]
		s.Totals[f.Name()] = l.capacity[f]
		s.Cars[f.Name()] = l.cars[f]
	}
	return s
}

// Active lists the vehicles currently parked, oldest entry first.
func (l *Ledger) Active() []model.VehicleRecord {
	out := make([]model.VehicleRecord, 0, len(l.active))
	for _, r := range l.active {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryAt.Before(out[j].EntryAt) })
	return out
}

// History returns up to limit finished records, most recent first. A
// non-positive limit returns everything held in memory.
func (l *Ledger) History(limit int) []model.VehicleRecord {
	n := len(l.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.VehicleRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.history[i])
	}
	return out
}

// LastSeen returns the heartbeat times by node.
func (l *Ledger) LastSeen() map[string]time.Time {
	out := make(map[string]time.Time, len(l.heartbeats))
	for k, v := range l.heartbeats {
		out[k] = v
	}
	return out
}

func (l *Ledger) publishGauges() {
	for _, f := range model.Floors {
		for _, c := range model.Categories {
			metrics.SetFreeSlots(f.Name(), string(c), l.free[f].Get(c))
		}
		metrics.SetCarCount(f.Name(), l.cars[f])
	}
}

// Restore re-activates sessions that were open when the coordinator last
// stopped. No journal events are emitted.
func (l *Ledger) Restore(recs []model.VehicleRecord) {
	for _, r := range recs {
		if r.ExitAt != nil {
			continue
		}
		rec := r
		rec.ID = 0
		if old, ok := l.active[rec.Plate]; ok {
			l.cars[old.Floor] = max(l.cars[old.Floor]-1, 0)
		}
		l.active[rec.Plate] = &rec
		l.cars[rec.Floor]++
	}
	l.publishGauges()
}
