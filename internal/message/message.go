package message

import (
	"encoding/json"
	"time"

	"garage-control/internal/model"
)

// Type is the message discriminator carried in "tipo".
type Type string

const (
	EntryOk      Type = "entrada_ok"
	ExitOk       Type = "saida_ok"
	SlotStatus   Type = "vaga_status"
	FloorPassage Type = "passagem_andar"
	CalcFare     Type = "calcular_valor"
	FareReply    Type = "resposta_valor"
	GateCommand  Type = "comando_cancela"
	BoardUpdate  Type = "atualizar_placar"
	CloseParking Type = "fechar_estacionamento"
	BlockFloor   Type = "bloquear_andar"
	SystemStatus Type = "status_sistema"
	Heartbeat    Type = "heartbeat"
)

// Types lists every message type.
var Types = []Type{
	EntryOk, ExitOk, SlotStatus, FloorPassage, CalcFare, FareReply,
	GateCommand, BoardUpdate, CloseParking, BlockFloor, SystemStatus, Heartbeat,
}

// Valid reports whether t is one of the enumerated types.
func (t Type) Valid() bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// Direction of a passage between floor 1 and floor 2.
type Direction string

const (
	Up   Direction = "subindo"
	Down Direction = "descendo"
)

// Gate names a ground floor gate.
type Gate string

const (
	EntryGate Gate = "entrada"
	ExitGate  Gate = "saida"
)

// Action is a gate command.
type Action string

const (
	Open  Action = "abrir"
	Close Action = "fechar"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "erro"
)

// Reply reasons.
const (
	ReasonClosed         = "estacionamento_fechado"
	ReasonFull           = "lotado"
	ReasonNotFound       = "veiculo_nao_encontrado"
	ReasonInvalidFloor   = "andar_invalido"
	ReasonInvalidGate    = "cancela_invalida"
	ReasonInvalidAction  = "acao_invalida"
	ReasonSerialInactive = "modbus_inativo"
	ReasonInvalidMessage = "mensagem_invalida"
	ReasonGateFailure    = "cancela_falha"
	ReasonSerialFailure  = "modbus_falha"
	ReasonUnavailable    = "central_indisponivel"
)

// BoardData is the payload of atualizar_placar.
type BoardData struct {
	Free          map[string]model.Slots `json:"vagas_livres"`
	Cars          map[string]int         `json:"num_carros"`
	Full          bool                   `json:"lotado_geral"`
	Floor1Blocked bool                   `json:"lotado_andar1"`
	Floor2Blocked bool                   `json:"lotado_andar2"`
}

// Message is one record exchanged between nodes. Only the fields relevant
// to Type are set; replies carry Status and the outcome fields.
type Message struct {
	Type       Type          `json:"tipo,omitempty"`
	Timestamp  string        `json:"ts,omitempty"`
	Plate      string        `json:"placa,omitempty"`
	Confidence int           `json:"conf,omitempty"`
	Floor      int           `json:"andar,omitempty"`
	Free       FreeCounts    `json:"vagas_livres,omitempty"`
	Direction  Direction     `json:"direcao,omitempty"`
	Gate       Gate          `json:"cancela,omitempty"`
	Action     Action        `json:"acao,omitempty"`
	Board      *BoardData    `json:"dados,omitempty"`
	Close      *bool         `json:"fechar,omitempty"`
	Block      *bool         `json:"bloquear,omitempty"`
	Node       string        `json:"no,omitempty"`
	Status     string        `json:"status,omitempty"`
	Reason     string        `json:"motivo,omitempty"`
	Text       string        `json:"mensagem,omitempty"`
	Fare       *float64      `json:"valor,omitempty"`
	Minutes    *int          `json:"tempo_minutos,omitempty"`
	Entry      string        `json:"entrada,omitempty"`
	Exit       string        `json:"saida,omitempty"`
	System     *model.Status `json:"sistema,omitempty"`
}

// OK reports whether a reply carries status ok.
func (m *Message) OK() bool { return m != nil && m.Status == StatusOK }

// Encode marshals m as the frame body.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals a frame body. A body that is not a JSON object with a
// type discriminator is a ValidationError.
func Decode(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, &ValidationError{Reason: "malformed body", Err: err}
	}
	if m.Type == "" && m.Status == "" {
		return nil, &ValidationError{Reason: "missing tipo"}
	}
	return &m, nil
}

// Now formats the current time the way every message timestamp is written.
func Now() string { return FormatTime(time.Now()) }

// FormatTime renders t as an RFC 3339 timestamp with sub-second precision.
func FormatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

// ParseTime accepts RFC 3339 and zone-less ISO-8601 timestamps (local time).
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local)
	if err != nil {
		return time.Time{}, &ValidationError{Reason: "bad timestamp " + s, Err: err}
	}
	return t, nil
}

func boolPtr(v bool) *bool { return &v }

// New stamps a message of type t.
func New(t Type) *Message { return &Message{Type: t, Timestamp: Now()} }

func NewEntry(plate string, confidence int, floor model.Floor) *Message {
	m := New(EntryOk)
	m.Plate, m.Confidence, m.Floor = plate, confidence, int(floor)
	return m
}

func NewExit(plate string, confidence int) *Message {
	m := New(ExitOk)
	m.Plate, m.Confidence = plate, confidence
	return m
}

// FreeCounts carries only the categories a node reported.
type FreeCounts map[model.Category]int

// Merge overwrites the reported categories of base; negative counts become 0
// and unknown keys are ignored.
func (f FreeCounts) Merge(base model.Slots) model.Slots {
	for _, c := range model.Categories {
		if n, ok := f[c]; ok {
			base.Set(c, max(n, 0))
		}
	}
	return base
}

func NewSlotStatus(floor model.Floor, free model.Slots) *Message {
	m := New(SlotStatus)
	m.Floor, m.Free = int(floor), FreeCounts{}
	for _, c := range model.Categories {
		m.Free[c] = free.Get(c)
	}
	return m
}

func NewPassage(dir Direction, plate string) *Message {
	m := New(FloorPassage)
	m.Direction, m.Plate = dir, plate
	return m
}

func NewCalcFare(plate string) *Message {
	m := New(CalcFare)
	m.Plate = plate
	return m
}

func NewGateCommand(g Gate, a Action) *Message {
	m := New(GateCommand)
	m.Gate, m.Action = g, a
	return m
}

func NewBoardUpdate(d BoardData) *Message {
	m := New(BoardUpdate)
	m.Board = &d
	return m
}

func NewCloseParking(closed bool) *Message {
	m := New(CloseParking)
	m.Close = boolPtr(closed)
	return m
}

func NewBlockFloor(floor model.Floor, blocked bool) *Message {
	m := New(BlockFloor)
	m.Floor, m.Block = int(floor), boolPtr(blocked)
	return m
}

func NewHeartbeat(node string) *Message {
	m := New(Heartbeat)
	m.Node = node
	return m
}

// Ack is the plain {"status":"ok"} reply.
func Ack() *Message { return &Message{Status: StatusOK} }

// Reject is an error reply with a reason.
func Reject(reason string) *Message { return &Message{Status: StatusError, Reason: reason} }
