package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"garage-control/internal/message"
	"garage-control/internal/model"
)

var t0 = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *time.Time) {
	t.Helper()
	clock := t0
	l := New(Config{})
	l.now = func() time.Time { return clock }
	return l, &clock
}

func entryAt(plate string, floor model.Floor, at time.Time) *message.Message {
	m := message.NewEntry(plate, 95, floor)
	m.Timestamp = message.FormatTime(at)
	return m
}

func exitAt(plate string, at time.Time) *message.Message {
	m := message.NewExit(plate, 90)
	m.Timestamp = message.FormatTime(at)
	return m
}

func TestFareRounding(t *testing.T) {
	cases := []struct {
		d       time.Duration
		minutes int
	}{
		{0, 0},
		{time.Second, 1},
		{60 * time.Second, 1},
		{61 * time.Second, 2},
		{10*time.Minute + 500*time.Millisecond, 11},
	}
	for _, c := range cases {
		fare, minutes := Fare(c.d, 0.15)
		require.Equal(t, c.minutes, minutes, "duration %s", c.d)
		require.InDelta(t, float64(c.minutes)*0.15, fare, 1e-9)
	}
}

func TestEntriesCountCars(t *testing.T) {
	l, _ := newTestLedger(t)
	for i := 0; i < 5; i++ {
		reply := l.Entry(entryAt(fmt.Sprintf("ABC%04d", i), model.Ground, t0))
		require.True(t, reply.OK())
		require.Equal(t, "Entrada autorizada", reply.Text)
	}
	require.Equal(t, 5, l.Status().Cars["terreo"])
	require.Equal(t, 5, l.Status().ActiveVehicles)
	require.Len(t, l.Events(), 5)
	require.Empty(t, l.Events())
}

func TestUnknownFloorMapsToGround(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Entry(entryAt("XYZ1234", model.Floor(7), t0))
	require.Equal(t, 1, l.Status().Cars["terreo"])
}

func TestExitComputesFare(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Entry(entryAt("ABC1D23", model.First, t0))

	reply := l.Exit(exitAt("ABC1D23", t0.Add(61*time.Second)))
	require.True(t, reply.OK())
	require.Equal(t, 2, *reply.Minutes)
	require.InDelta(t, 0.30, *reply.Fare, 1e-9)
	require.Equal(t, message.FormatTime(t0), reply.Entry)

	require.Zero(t, l.Status().Cars["andar1"])
	require.Zero(t, l.Status().ActiveVehicles)
	hist := l.History(0)
	require.Len(t, hist, 1)
	require.NotNil(t, hist[0].ExitAt)
	require.Equal(t, 2, hist[0].DurationMinutes)
}

func TestUnknownExit(t *testing.T) {
	l, _ := newTestLedger(t)
	reply := l.Exit(exitAt("NOPE000", t0))
	require.True(t, reply.OK())
	require.Zero(t, *reply.Fare)
	require.Zero(t, *reply.Minutes)
	require.Equal(t, "sem registro de entrada", reply.Text)
	require.Zero(t, l.Status().Cars["terreo"])

	ev := l.Events()
	require.Len(t, ev, 1)
	require.Equal(t, model.AuditExitWithoutEntry, ev[0].Audit.Kind)
}

func TestFullRejectionAndRecovery(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, f := range model.Floors {
		l.SlotStatus(message.NewSlotStatus(f, model.Slots{}))
	}
	board, ok := l.TakeBoard()
	require.True(t, ok)
	require.True(t, board.Full)
	require.True(t, board.Floor1Blocked)

	reply := l.Entry(entryAt("FULL001", model.Ground, t0))
	require.False(t, reply.OK())
	require.Equal(t, message.ReasonFull, reply.Reason)
	require.Zero(t, l.Status().ActiveVehicles)

	l.SlotStatus(message.NewSlotStatus(model.Ground, model.Slots{Comuns: 1}))
	require.True(t, l.Entry(entryAt("FULL001", model.Ground, t0)).OK())
}

func TestClosedRejects(t *testing.T) {
	l, _ := newTestLedger(t)
	require.True(t, l.CloseParking(message.NewCloseParking(true)).OK())
	reply := l.Entry(entryAt("ABC0001", model.Ground, t0))
	require.Equal(t, message.ReasonClosed, reply.Reason)

	l.CloseParking(message.NewCloseParking(false))
	require.True(t, l.Entry(entryAt("ABC0001", model.Ground, t0)).OK())
}

func TestSlotStatusClampsNegatives(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SlotStatus(message.NewSlotStatus(model.Second, model.Slots{PNE: -3, Idoso: 1, Comuns: 2}))
	require.Equal(t, model.Slots{PNE: 0, Idoso: 1, Comuns: 2}, l.Status().Free["andar2"])
}

func TestSlotStatusPartialReportKeepsOtherCategories(t *testing.T) {
	l, _ := newTestLedger(t)
	before := l.Status().Free["andar1"]
	require.Equal(t, model.Slots{PNE: 2, Idoso: 2, Comuns: 4}, before)

	m, err := message.Decode([]byte(`{"tipo":"vaga_status","andar":1,"vagas_livres":{"pne":1,"vip":9}}`))
	require.NoError(t, err)
	require.True(t, l.SlotStatus(m).OK())
	require.Equal(t, model.Slots{PNE: 1, Idoso: 2, Comuns: 4}, l.Status().Free["andar1"])

	m, err = message.Decode([]byte(`{"tipo":"vaga_status","andar":1,"vagas_livres":{"comuns":-2}}`))
	require.NoError(t, err)
	l.SlotStatus(m)
	require.Equal(t, model.Slots{PNE: 1, Idoso: 2, Comuns: 0}, l.Status().Free["andar1"])
}

func TestPassageMovesVehicle(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Entry(entryAt("UPP0001", model.First, t0))

	l.Passage(message.NewPassage(message.Up, "UPP0001"))
	st := l.Status()
	require.Equal(t, 0, st.Cars["andar1"])
	require.Equal(t, 1, st.Cars["andar2"])

	l.Passage(message.NewPassage(message.Up, "UPP0001"))
	require.Equal(t, 1, l.Status().Cars["andar2"])

	l.Passage(message.NewPassage(message.Down, "UPP0001"))
	require.Equal(t, 1, l.Status().Cars["andar1"])

	l.Passage(message.NewPassage(message.Down, ""))
	require.Equal(t, 1, l.Status().Cars["andar1"])
}

func TestCalcFareDoesNotEndSession(t *testing.T) {
	l, clock := newTestLedger(t)
	reply := l.CalcFare(message.NewCalcFare("ABC9999"))
	require.Equal(t, message.ReasonNotFound, reply.Reason)

	l.Entry(entryAt("ABC9999", model.Ground, t0))
	*clock = t0.Add(5 * time.Minute)
	reply = l.CalcFare(message.NewCalcFare("ABC9999"))
	require.True(t, reply.OK())
	require.Equal(t, message.FareReply, reply.Type)
	require.Equal(t, 5, *reply.Minutes)
	require.Equal(t, 1, l.Status().ActiveVehicles)
}

func TestBlockFloor(t *testing.T) {
	l, _ := newTestLedger(t)
	require.Equal(t, message.ReasonInvalidFloor, l.BlockFloor(message.NewBlockFloor(model.Ground, true)).Reason)

	require.True(t, l.BlockFloor(message.NewBlockFloor(model.Second, true)).OK())
	board, ok := l.TakeBoard()
	require.True(t, ok)
	require.True(t, board.Floor2Blocked)
	require.False(t, board.Floor1Blocked)
	require.False(t, board.Full)

	_, ok = l.TakeBoard()
	require.False(t, ok)
}

func TestReentryReplacesRecord(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Entry(entryAt("DUP0001", model.First, t0))
	l.Entry(entryAt("DUP0001", model.Ground, t0.Add(time.Minute)))

	st := l.Status()
	require.Equal(t, 1, st.ActiveVehicles)
	require.Zero(t, st.Cars["andar1"])
	require.Equal(t, 1, st.Cars["terreo"])

	var audits int
	for _, ev := range l.Events() {
		if ev.Kind == model.EventAudit && ev.Audit.Kind == model.AuditReentry {
			audits++
		}
	}
	require.Equal(t, 1, audits)
}

func TestTemporaryPlateFlagged(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Entry(entryAt("TEMP1715328000", model.Ground, t0))
	active := l.Active()
	require.Len(t, active, 1)
	require.True(t, active[0].Temporary)
}

func TestHeartbeatRecordsNode(t *testing.T) {
	l, _ := newTestLedger(t)
	require.True(t, l.Heartbeat(message.NewHeartbeat("terreo")).OK())
	require.Equal(t, t0, l.LastSeen()["terreo"])
}

func TestHistoryLimit(t *testing.T) {
	l := New(Config{HistoryLimit: 2})
	for i := 0; i < 3; i++ {
		plate := fmt.Sprintf("HIS%04d", i)
		l.Entry(entryAt(plate, model.Ground, t0))
		l.Exit(exitAt(plate, t0.Add(time.Minute)))
	}
	hist := l.History(0)
	require.Len(t, hist, 2)
	require.Equal(t, "HIS0002", hist[0].Plate)
}

func TestRestoreOpenSessions(t *testing.T) {
	l, _ := newTestLedger(t)
	exit := t0
	l.Restore([]model.VehicleRecord{
		{SessionID: "a", Plate: "RES0001", Floor: model.Second, EntryAt: t0},
		{SessionID: "b", Plate: "RES0002", EntryAt: t0, ExitAt: &exit},
	})
	st := l.Status()
	require.Equal(t, 1, st.ActiveVehicles)
	require.Equal(t, 1, st.Cars["andar2"])
	require.Empty(t, l.Events())
}
