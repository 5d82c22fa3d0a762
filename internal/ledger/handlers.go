package ledger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"garage-control/internal/message"
	"garage-control/internal/metrics"
	"garage-control/internal/model"
)

// TemporaryPrefix marks plates synthesized after a failed capture.
const TemporaryPrefix = "TEMP"

// Handler applies one message to the ledger and builds the reply.
type Handler func(m *message.Message) *message.Message

// Handlers is the coordinator dispatch table. Types without an entry are
// acknowledged by the router.
func (l *Ledger) Handlers() map[message.Type]Handler {
	return map[message.Type]Handler{
		message.EntryOk:      l.Entry,
		message.ExitOk:       l.Exit,
		message.SlotStatus:   l.SlotStatus,
		message.FloorPassage: l.Passage,
		message.CalcFare:     l.CalcFare,
		message.CloseParking: l.CloseParking,
		message.BlockFloor:   l.BlockFloor,
		message.SystemStatus: l.SystemStatus,
		message.Heartbeat:    l.Heartbeat,
	}
}

func (l *Ledger) Entry(m *message.Message) *message.Message {
	if l.closed {
		log.Warn().Str("placa", m.Plate).Msg("entry refused: parking closed")
		l.audit(model.AuditRejectedClosed, m.Plate, "")
		return message.Reject(message.ReasonClosed)
	}
	if l.full() {
		log.Warn().Str("placa", m.Plate).Msg("entry refused: parking full")
		l.audit(model.AuditRejectedFull, m.Plate, "")
		return message.Reject(message.ReasonFull)
	}

	floor := model.ParseFloor(m.Floor)
	if old, ok := l.active[m.Plate]; ok {
		l.cars[old.Floor] = max(l.cars[old.Floor]-1, 0)
		l.audit(model.AuditReentry, m.Plate, "replaced session "+old.SessionID)
	}
	rec := &model.VehicleRecord{
		SessionID:       l.newID(),
		Plate:           m.Plate,
		Temporary:       strings.HasPrefix(m.Plate, TemporaryPrefix),
		Floor:           floor,
		EntryAt:         l.timestamp(m.Timestamp),
		EntryConfidence: m.Confidence,
	}
	l.active[m.Plate] = rec
	l.cars[floor]++
	l.markBoard()

	entry := *rec
	l.emit(model.Event{Kind: model.EventEntry, Record: &entry})
	metrics.RecordVehicleEvent("entry")
	log.Info().Str("placa", m.Plate).Str("andar", floor.Name()).Int("conf", m.Confidence).Msg("vehicle entered")

	reply := message.Ack()
	reply.Text = "Entrada autorizada"
	return reply
}

func (l *Ledger) Exit(m *message.Message) *message.Message {
	rec, ok := l.active[m.Plate]
	if !ok {
		log.Warn().Str("placa", m.Plate).Msg("exit without entry record")
		l.audit(model.AuditExitWithoutEntry, m.Plate, "")
		reply := message.Ack()
		reply.Text = "sem registro de entrada"
		fare, minutes := 0.0, 0
		reply.Fare, reply.Minutes = &fare, &minutes
		return reply
	}

	exitAt := l.timestamp(m.Timestamp)
	conf := m.Confidence
	fare, minutes := Fare(exitAt.Sub(rec.EntryAt), l.rate)
	rec.ExitAt = &exitAt
	rec.ExitConfidence = &conf
	rec.Fare = fare
	rec.DurationMinutes = minutes

	l.cars[rec.Floor] = max(l.cars[rec.Floor]-1, 0)
	delete(l.active, m.Plate)
	l.history = append(l.history, *rec)
	if over := len(l.history) - l.historyLimit; over > 0 {
		l.history = append(l.history[:0:0], l.history[over:]...)
	}
	l.markBoard()

	done := *rec
	l.emit(model.Event{Kind: model.EventExit, Record: &done})
	metrics.RecordVehicleEvent("exit")
	metrics.RecordFare(fare)
	log.Info().Str("placa", m.Plate).Int("minutos", minutes).Float64("valor", fare).Msg("vehicle left")

	reply := message.Ack()
	reply.Text = "Saída autorizada"
	reply.Fare, reply.Minutes = &fare, &minutes
	reply.Entry = message.FormatTime(rec.EntryAt)
	reply.Exit = message.FormatTime(exitAt)
	return reply
}

// SlotStatus updates the reported categories of a floor and keeps the rest.
func (l *Ledger) SlotStatus(m *message.Message) *message.Message {
	if len(m.Free) == 0 {
		return message.Ack()
	}
	floor := model.ParseFloor(m.Floor)
	free := m.Free.Merge(l.free[floor])
	l.free[floor] = free
	l.markBoard()
	log.Debug().Str("andar", floor.Name()).Int("livres", free.Total()).Msg("slot status")
	return message.Ack()
}

// Passage moves a tracked vehicle between floors 1 and 2. Passages without
// a tracked plate, or that do not match the vehicle's floor, change nothing.
func (l *Ledger) Passage(m *message.Message) *message.Message {
	rec, ok := l.active[m.Plate]
	if m.Plate == "" || !ok {
		return message.Ack()
	}
	from, to := rec.Floor, rec.Floor
	switch {
	case m.Direction == message.Up && rec.Floor == model.First:
		to = model.Second
	case m.Direction == message.Down && rec.Floor == model.Second:
		to = model.First
	}
	if from != to {
		rec.Floor = to
		l.cars[from] = max(l.cars[from]-1, 0)
		l.cars[to]++
		l.markBoard()
		log.Info().Str("placa", m.Plate).Str("direcao", string(m.Direction)).Str("andar", to.Name()).Msg("floor passage")
	}
	return message.Ack()
}

// CalcFare quotes the running fare without ending the session.
func (l *Ledger) CalcFare(m *message.Message) *message.Message {
	rec, ok := l.active[m.Plate]
	if !ok {
		reply := message.Reject(message.ReasonNotFound)
		zero := 0.0
		reply.Fare = &zero
		return reply
	}
	fare, minutes := Fare(l.now().Sub(rec.EntryAt), l.rate)
	reply := message.Ack()
	reply.Type = message.FareReply
	reply.Plate = m.Plate
	reply.Fare, reply.Minutes = &fare, &minutes
	reply.Entry = message.FormatTime(rec.EntryAt)
	return reply
}

func (l *Ledger) CloseParking(m *message.Message) *message.Message {
	if m.Close == nil {
		return message.Reject(message.ReasonInvalidMessage)
	}
	l.closed = *m.Close
	l.audit(model.AuditParkingClosed, "", fmt.Sprintf("fechado=%t", l.closed))
	l.markBoard()
	log.Info().Bool("fechado", l.closed).Msg("parking closed flag changed")
	return message.Ack()
}

func (l *Ledger) BlockFloor(m *message.Message) *message.Message {
	if m.Block == nil {
		return message.Reject(message.ReasonInvalidMessage)
	}
	floor := model.Floor(m.Floor)
	if floor != model.First && floor != model.Second {
		return message.Reject(message.ReasonInvalidFloor)
	}
	l.blocked[floor] = *m.Block
	l.audit(model.AuditFloorBlocked, "", fmt.Sprintf("%s=%t", floor.Name(), *m.Block))
	l.markBoard()
	log.Info().Str("andar", floor.Name()).Bool("bloqueado", *m.Block).Msg("floor block changed")
	return message.Ack()
}

func (l *Ledger) SystemStatus(*message.Message) *message.Message {
	st := l.Status()
	reply := message.Ack()
	reply.System = &st
	return reply
}

func (l *Ledger) Heartbeat(m *message.Message) *message.Message {
	node := m.Node
	if node == "" {
		node = "unknown"
	}
	seen := l.now()
	l.heartbeats[node] = seen
	l.emit(model.Event{Kind: model.EventHeartbeat, Heartbeat: &model.NodeHeartbeat{Node: node, LastSeen: seen}})
	return message.Ack()
}
