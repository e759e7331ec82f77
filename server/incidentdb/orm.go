package incidentdb

import (
	"time"

	"github.com/cyclopcam/dbh"
)

// Verification status of an incident.
// Transitions: pending -> verified or pending -> rejected. Re-applying the
// same terminal status is a no-op, not an error.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
)

// Incident is a persisted incident record.
// Created once, mutated only on VerificationStatus thereafter, never deleted
// in normal operation (cleanup is a separate maintenance concern).
type Incident struct {
	ID                 string                   `gorm:"primaryKey" json:"id"`
	IncidentType       string                   `json:"incident_type"`
	Confidence         float32                  `json:"confidence"`
	Timestamp          time.Time                `json:"timestamp"`
	FrameURLs          *dbh.JSONField[[]string] `json:"frame_urls"`
	Lat                float64                  `json:"lat"`
	Lon                float64                  `json:"lon"`
	VerificationStatus string                   `json:"verification_status"`
}

func (Incident) TableName() string {
	return "incident"
}

// DeadLetter records a task that exhausted its retries.
// This is the operator-visible trace of a permanently failed task; nothing
// is ever silently dropped.
type DeadLetter struct {
	ID       int64     `gorm:"primaryKey" json:"id"`
	TaskType string    `json:"task_type"`
	Payload  string    `json:"payload"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

func (DeadLetter) TableName() string {
	return "dead_letter"
}
