package storage

import (
	"time"

	"github.com/google/uuid"
)

// SessionRecord is one journaled game session.
type SessionRecord struct {
	ID        uuid.UUID  `json:"id"`
	Machine   string     `json:"machine"`
	Game      string     `json:"game"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason *string    `json:"end_reason,omitempty"`
}

// StartFailure is one journaled failed start.
type StartFailure struct {
	ID        int64     `json:"id"`
	Machine   string    `json:"machine"`
	Cause     string    `json:"cause"`
	ElapsedMs int64     `json:"elapsed_ms"`
	FailedAt  time.Time `json:"failed_at"`
}
