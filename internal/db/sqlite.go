package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"garage-control/internal/model"
)

// DB wraps the sqlite journal of vehicle sessions, audit events and node
// heartbeats.
type DB struct {
	ORM *gorm.DB
}

// Open opens the SQLite database using GORM and runs migrations.
func Open(path string) (*DB, error) {
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// SaveEvent persists one journal event.
func (d *DB) SaveEvent(ctx context.Context, ev model.Event) error {
	switch ev.Kind {
	case model.EventEntry, model.EventExit:
		if ev.Record == nil {
			return fmt.Errorf("%s event without record", ev.Kind)
		}
		r := *ev.Record
		r.ID = 0
		return upsertRecord(ctx, d.ORM, &r)
	case model.EventAudit:
		if ev.Audit == nil {
			return fmt.Errorf("audit event without payload")
		}
		return insertAudit(ctx, d.ORM, ev.Audit)
	case model.EventHeartbeat:
		if ev.Heartbeat == nil {
			return fmt.Errorf("heartbeat event without payload")
		}
		return saveHeartbeat(ctx, d.ORM, ev.Heartbeat)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// History returns finished sessions, latest exit first. limit <= 0 returns all.
func (d *DB) History(ctx context.Context, limit int) ([]model.VehicleRecord, error) {
	q := d.ORM.WithContext(ctx).Where("exit_at IS NOT NULL").Order("exit_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.VehicleRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// HistoryBetween returns sessions that exited in [from, to).
func (d *DB) HistoryBetween(ctx context.Context, from, to time.Time) ([]model.VehicleRecord, error) {
	var rows []model.VehicleRecord
	err := d.ORM.WithContext(ctx).
		Where("exit_at >= ? AND exit_at < ?", from, to).
		Order("exit_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// PlateHistory returns every session of a plate, newest entry first.
func (d *DB) PlateHistory(ctx context.Context, plate string) ([]model.VehicleRecord, error) {
	var rows []model.VehicleRecord
	if err := d.ORM.WithContext(ctx).Where("plate = ?", plate).Order("entry_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// OpenSessions returns sessions without an exit, e.g. after a central restart.
func (d *DB) OpenSessions(ctx context.Context) ([]model.VehicleRecord, error) {
	var rows []model.VehicleRecord
	if err := d.ORM.WithContext(ctx).Where("exit_at IS NULL").Order("entry_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Audits returns audit events of kind (all kinds when empty), newest first.
func (d *DB) Audits(ctx context.Context, kind string, limit int) ([]model.AuditEvent, error) {
	q := d.ORM.WithContext(ctx).Order("timestamp DESC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.AuditEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *DB) Heartbeats(ctx context.Context) ([]model.NodeHeartbeat, error) {
	var rows []model.NodeHeartbeat
	if err := d.ORM.WithContext(ctx).Order("node").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Stats aggregates the journal for reporting.
type Stats struct {
	Sessions       int64                 `json:"sessions"`
	Finished       int64                 `json:"finished"`
	Revenue        float64               `json:"revenue"`
	AverageMinutes float64               `json:"average_minutes"`
	AuditCount     int64                 `json:"audit_count"`
	Heartbeats     []model.NodeHeartbeat `json:"heartbeats"`
}

func (d *DB) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	orm := d.ORM.WithContext(ctx)
	if err := orm.Model(&model.VehicleRecord{}).Count(&st.Sessions).Error; err != nil {
		return st, err
	}
	if err := orm.Model(&model.VehicleRecord{}).Where("exit_at IS NOT NULL").Count(&st.Finished).Error; err != nil {
		return st, err
	}
	var agg struct {
		Revenue float64
		Minutes float64
	}
	err := orm.Model(&model.VehicleRecord{}).
		Select("COALESCE(SUM(fare), 0) as revenue, COALESCE(AVG(duration_minutes), 0) as minutes").
		Where("exit_at IS NOT NULL").
		Scan(&agg).Error
	if err != nil {
		return st, err
	}
	st.Revenue, st.AverageMinutes = agg.Revenue, agg.Minutes
	if err := orm.Model(&model.AuditEvent{}).Count(&st.AuditCount).Error; err != nil {
		return st, err
	}
	hb, err := d.Heartbeats(ctx)
	if err != nil {
		return st, err
	}
	st.Heartbeats = hb
	return st, nil
}

// StatsJSON returns Stats encoded as JSON.
func (d *DB) StatsJSON(ctx context.Context) ([]byte, error) {
	st, err := d.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}
