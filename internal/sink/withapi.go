package sink

import (
	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/runtrace"
)

type broadcaster interface {
	Broadcast(core.Run)
}

type errorReporter interface {
	ReportWriteError()
}

// WithBroadcast forwards each successfully stored run to live listeners.
type WithBroadcast struct {
	base Writer
	api  broadcaster
}

func WithAPI(base Writer, api broadcaster) *WithBroadcast {
	return &WithBroadcast{base: base, api: api}
}

func (w *WithBroadcast) Write(run core.Run, trace *runtrace.RunTrace) error {
	if w.base != nil {
		if err := w.base.Write(run, trace); err != nil {
			w.reportError()
			return err
		}
	}
	w.broadcast(run)
	return nil
}

// WriteBatch keeps batched writes batched when the base store supports it.
// Nothing is broadcast unless the whole batch was stored.
func (w *WithBroadcast) WriteBatch(batch []Record) error {
	bw, ok := w.base.(BatchWriter)
	if !ok {
		for _, rec := range batch {
			if err := w.Write(rec.Run, rec.Trace); err != nil {
				return err
			}
		}
		return nil
	}
	if err := bw.WriteBatch(batch); err != nil {
		w.reportError()
		return err
	}
	for _, rec := range batch {
		w.broadcast(rec.Run)
	}
	return nil
}

func (w *WithBroadcast) reportError() {
	if r, ok := w.api.(errorReporter); ok {
		r.ReportWriteError()
	}
}

func (w *WithBroadcast) broadcast(run core.Run) {
	if w.api != nil {
		w.api.Broadcast(run)
	}
}
