package sink

import (
	"context"
	"sync"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/httpapi"
	"github.com/you/gnasty-triggers/internal/runtrace"
)

// Memory keeps the most recent runs in a ring, for deployments without a
// database. It serves the same queries as SQLiteSink.
type Memory struct {
	mu   sync.Mutex
	runs []core.Run
	next int
	full bool
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Memory{runs: make([]core.Run, capacity)}
}

func (m *Memory) Write(run core.Run, _ *runtrace.RunTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[m.next] = run
	m.next = (m.next + 1) % len(m.runs)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// ordered returns stored runs oldest first.
func (m *Memory) ordered() []core.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]core.Run(nil), m.runs[:m.next]...)
	}
	out := make([]core.Run, 0, len(m.runs))
	out = append(out, m.runs[m.next:]...)
	return append(out, m.runs[:m.next]...)
}

func (m *Memory) CountRuns(_ context.Context, filters httpapi.Filters) (int64, error) {
	var n int64
	for _, run := range m.ordered() {
		if filters.Matches(run) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListRuns(_ context.Context, filters httpapi.Filters) ([]core.Run, error) {
	all := m.ordered()
	if filters.Order != httpapi.OrderAsc {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []core.Run
	for _, run := range all {
		if !filters.Matches(run) {
			continue
		}
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
