package model

import "time"

// VehicleRecord is one parking session. It is active while ExitAt is nil and
// becomes immutable history once the exit is recorded.
// Table: vehicle_records
type VehicleRecord struct {
	ID              uint       `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	SessionID       string     `gorm:"column:session_id;uniqueIndex" json:"session_id"`
	Plate           string     `gorm:"column:plate;index" json:"placa"`
	Temporary       bool       `gorm:"column:temporary" json:"temporaria"`
	Floor           Floor      `gorm:"column:floor" json:"andar"`
	EntryAt         time.Time  `gorm:"column:entry_at;index" json:"entrada"`
	EntryConfidence int        `gorm:"column:entry_confidence" json:"conf_entrada"`
	ExitAt          *time.Time `gorm:"column:exit_at" json:"saida,omitempty"`
	ExitConfidence  *int       `gorm:"column:exit_confidence" json:"conf_saida,omitempty"`
	Fare            float64    `gorm:"column:fare" json:"valor"`
	DurationMinutes int        `gorm:"column:duration_minutes" json:"tempo_minutos"`
}

func (VehicleRecord) TableName() string { return "vehicle_records" }

// AuditEvent is an append-only operational event (rejections, exits without
// entry, administrative commands).
// Table: audit_events
type AuditEvent struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Kind      string    `gorm:"column:kind;index" json:"kind"`
	Plate     string    `gorm:"column:plate;index" json:"placa,omitempty"`
	Detail    string    `gorm:"column:detail" json:"detail,omitempty"`
	Timestamp time.Time `gorm:"column:timestamp;index" json:"ts"`
}

func (AuditEvent) TableName() string { return "audit_events" }

// NodeHeartbeat stores the last time a node reported in.
// Table: node_heartbeats
type NodeHeartbeat struct {
	Node     string    `gorm:"column:node;primaryKey" json:"node"`
	LastSeen time.Time `gorm:"column:last_seen" json:"last_seen"`
}

func (NodeHeartbeat) TableName() string { return "node_heartbeats" }

// Audit event kinds.
const (
	AuditExitWithoutEntry = "exit_without_entry"
	AuditReentry          = "reentry"
	AuditRejectedClosed   = "rejected_closed"
	AuditRejectedFull     = "rejected_full"
	AuditParkingClosed    = "parking_closed"
	AuditFloorBlocked     = "floor_blocked"
)
