package model

// EventKind tags a journal Event.
type EventKind string

const (
	EventEntry     EventKind = "entry"
	EventExit      EventKind = "exit"
	EventAudit     EventKind = "audit"
	EventHeartbeat EventKind = "heartbeat"
)

// Event is one journal entry emitted by the coordinator. Exactly one of the
// payload pointers is set, matching Kind.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Record    *VehicleRecord `json:"record,omitempty"`
	Audit     *AuditEvent    `json:"audit,omitempty"`
	Heartbeat *NodeHeartbeat `json:"heartbeat,omitempty"`
}
