package runtrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Stage names a point an event passes through between submission and the
// end of its run.
type Stage string

const (
	StageSubmitted   Stage = "submitted"
	StageResolved    Stage = "resolved"
	StageAdmitted    Stage = "admitted"
	StageStepApplied Stage = "step_applied"
	StageStepFailed  Stage = "step_failed"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for an event that left the pipeline early.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// RunTrace carries the identifiers and per-stage counters of one spool entry.
type RunTrace struct {
	RunID       string
	Kind        string
	User        string
	Snippet     string
	Fingerprint string

	mu       sync.Mutex
	key      string
	counters map[Stage]int64
}

// New starts a trace for an event and seeds the submitted counter. RunID is
// unique per call while Fingerprint is stable for identical input.
func New(kind, user, snippet string) *RunTrace {
	t := &RunTrace{
		RunID:       newRunID(),
		Kind:        kind,
		User:        user,
		Snippet:     snippet,
		Fingerprint: fingerprint(kind, user, snippet),
		counters:    make(map[Stage]int64),
	}
	t.counters[StageSubmitted] = 1
	return t
}

// SetKey records the rule key the event resolved to.
func (t *RunTrace) SetKey(key string) {
	t.mu.Lock()
	t.key = key
	t.mu.Unlock()
}

// Key returns the resolved rule key, if any.
func (t *RunTrace) Key() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *RunTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// Count returns the current value for a stage.
func (t *RunTrace) Count(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *RunTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"run_id", t.RunID,
		"fingerprint", t.Fingerprint,
		"kind", t.Kind,
		"key", t.Key(),
		"user", t.User,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *RunTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}

	return out
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func fingerprint(kind, user, snippet string) string {
	digest := sha256.Sum256([]byte(kind + "\x1f" + user + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
