package sink

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/runtrace"
)

// Writer persists run records. It matches the trigger engine's Recorder.
type Writer interface {
	Write(core.Run, *runtrace.RunTrace) error
}

// BatchWriter stores several runs at once, typically in one transaction.
type BatchWriter interface {
	WriteBatch([]Record) error
}

// Record pairs a run with its trace for batched writes.
type Record struct {
	Run   core.Run
	Trace *runtrace.RunTrace
}

var ErrWriterClosed = errors.New("sink: buffered writer closed")

type BufferedOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

// BufferedWriter holds runs until BatchSize are queued or FlushInterval
// passes since the first queued run, whichever comes first.
type BufferedWriter struct {
	base  Writer
	opts  BufferedOptions
	mu    sync.Mutex
	queue []Record
	timer *time.Timer
	done  bool
	// failure from a timer flush, reported by the next Write or Close
	deferred error
}

func NewBufferedWriter(base Writer, opts BufferedOptions) *BufferedWriter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &BufferedWriter{base: base, opts: opts}
}

func (b *BufferedWriter) Write(run core.Run, trace *runtrace.RunTrace) error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return ErrWriterClosed
	}
	earlier := b.deferred
	b.deferred = nil
	b.queue = append(b.queue, Record{Run: run, Trace: trace})
	if len(b.queue) == 1 && b.opts.FlushInterval > 0 && b.timer == nil {
		b.timer = time.AfterFunc(b.opts.FlushInterval, b.flushFromTimer)
	}
	var batch []Record
	if len(b.queue) >= b.opts.BatchSize {
		batch = b.takeLocked()
	}
	b.mu.Unlock()

	if err := b.commit(batch); err != nil {
		return err
	}
	return earlier
}

// Flush writes anything queued without closing the writer.
func (b *BufferedWriter) Flush() error {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	return b.commit(batch)
}

func (b *BufferedWriter) Close() error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil
	}
	b.done = true
	batch := b.takeLocked()
	earlier := b.deferred
	b.deferred = nil
	b.mu.Unlock()

	if err := b.commit(batch); err != nil {
		return err
	}
	return earlier
}

func (b *BufferedWriter) flushFromTimer() {
	b.mu.Lock()
	b.timer = nil
	if b.done {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()

	if err := b.commit(batch); err != nil {
		b.mu.Lock()
		b.deferred = err
		b.mu.Unlock()
	}
}

// takeLocked empties the queue and disarms the timer.
func (b *BufferedWriter) takeLocked() []Record {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.queue) == 0 {
		return nil
	}
	batch := b.queue
	b.queue = nil
	return batch
}

func (b *BufferedWriter) commit(batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	if bw, ok := b.base.(BatchWriter); ok {
		return bw.WriteBatch(batch)
	}
	for _, rec := range batch {
		if err := b.base.Write(rec.Run, rec.Trace); err != nil {
			return errors.Wrapf(err, "write run %s", rec.Run.ID)
		}
	}
	return nil
}
