package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"garage-control/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "garage_test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestEntryThenExitUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	entry := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	rec := model.VehicleRecord{SessionID: "s-1", Plate: "ABC1D23", Floor: model.First, EntryAt: entry, EntryConfidence: 92}
	require.NoError(t, d.SaveEvent(ctx, model.Event{Kind: model.EventEntry, Record: &rec}))

	open, err := d.OpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	exit := entry.Add(3 * time.Minute)
	conf := 88
	done := rec
	done.ExitAt, done.ExitConfidence, done.Fare, done.DurationMinutes = &exit, &conf, 0.45, 3
	require.NoError(t, d.SaveEvent(ctx, model.Event{Kind: model.EventExit, Record: &done}))

	hist, err := d.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, 3, hist[0].DurationMinutes)
	require.InDelta(t, 0.45, hist[0].Fare, 1e-9)

	open, err = d.OpenSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	st, err := d.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Sessions)
	require.EqualValues(t, 1, st.Finished)
	require.InDelta(t, 0.45, st.Revenue, 1e-9)
}

func TestAuditsAndHeartbeats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)
	now := time.Now()

	for i, kind := range []string{model.AuditExitWithoutEntry, model.AuditRejectedFull, model.AuditExitWithoutEntry} {
		a := &model.AuditEvent{ID: string(rune('a' + i)), Kind: kind, Timestamp: now.Add(time.Duration(i) * time.Second)}
		require.NoError(t, d.SaveEvent(ctx, model.Event{Kind: model.EventAudit, Audit: a}))
	}
	audits, err := d.Audits(ctx, model.AuditExitWithoutEntry, 0)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	require.Equal(t, "c", audits[0].ID)

	for i := 0; i < 2; i++ {
		hb := &model.NodeHeartbeat{Node: "terreo", LastSeen: now.Add(time.Duration(i) * time.Second)}
		require.NoError(t, d.SaveEvent(ctx, model.Event{Kind: model.EventHeartbeat, Heartbeat: hb}))
	}
	hbs, err := d.Heartbeats(ctx)
	require.NoError(t, err)
	require.Len(t, hbs, 1)
}

func TestSaveEventRejectsEmptyPayload(t *testing.T) {
	d := newTestDB(t)
	require.Error(t, d.SaveEvent(context.Background(), model.Event{Kind: model.EventExit}))
	require.Error(t, d.SaveEvent(context.Background(), model.Event{Kind: "bogus"}))
}
