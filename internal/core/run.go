package core

import "time"

// Outcome describes how a spool entry left the engine.
type Outcome string

const (
	OutcomeExecuted   Outcome = "executed"
	OutcomeRejected   Outcome = "rejected"
	OutcomeUnmatched  Outcome = "unmatched"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeCanceled   Outcome = "canceled"
)

// Run is the persisted record of one spool entry.
type Run struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Key        string    `json:"key,omitempty"`
	User       string    `json:"user,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Steps      int       `json:"steps"`
	Failures   int       `json:"failures"`
	Test       bool      `json:"test"`
	QueuedAt   time.Time `json:"queued_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the time spent executing, excluding time spent queued.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
