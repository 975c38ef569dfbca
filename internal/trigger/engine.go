package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/rules"
	"github.com/you/gnasty-triggers/internal/runtrace"
	"github.com/you/gnasty-triggers/internal/template"
)

// Surface is the scene control target a step is applied to.
type Surface interface {
	SetTextContent(ctx context.Context, target, text string) error
	SetBrowsableContentURL(ctx context.Context, target, url string) error
	SetMediaContent(ctx context.Context, target, ref string) error
	SetFilterVisibility(ctx context.Context, target, filter string, show bool) error
	SetElementVisibility(ctx context.Context, target string, show bool) error
}

// RuleSource looks up a rule by exact key.
type RuleSource interface {
	Lookup(key string) (rules.Rule, bool)
}

// Recorder receives one record per processed spool entry.
type Recorder interface {
	Write(core.Run, *runtrace.RunTrace) error
}

type Options struct {
	Rules     RuleSource
	Surface   Surface
	Resolver  *template.Resolver
	Cooldowns *Cooldowns
	Recorder  Recorder
	Metrics   *Metrics
	Logger    *slog.Logger

	// Now and After default to the wall clock.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Engine owns the execution spool. Entries are serviced one at a time by Run
// in arrival order; a test submission replaces the spool and supersedes the
// active run at its next step boundary.
type Engine struct {
	rules     RuleSource
	surface   Surface
	resolver  *template.Resolver
	cooldowns *Cooldowns
	recorder  Recorder
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	spool  []entry
	gen    uint64
	active *activeRun
	wake   chan struct{}
}

type entry struct {
	ev       core.Event
	test     bool
	queuedAt time.Time
	trace    *runtrace.RunTrace
}

type activeRun struct {
	token uint64
	abort chan struct{}
}

func New(opts Options) *Engine {
	e := &Engine{
		rules:     opts.Rules,
		surface:   opts.Surface,
		resolver:  opts.Resolver,
		cooldowns: opts.Cooldowns,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
		after:     opts.After,
		wake:      make(chan struct{}, 1),
	}
	if e.resolver == nil {
		e.resolver = template.NewResolver()
	}
	if e.cooldowns == nil {
		e.cooldowns = NewCooldowns()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "trigger")
	if e.now == nil {
		e.now = time.Now
	}
	if e.after == nil {
		e.after = time.After
	}
	return e
}

// Cooldowns exposes the tracker for inspection.
func (e *Engine) Cooldowns() *Cooldowns { return e.cooldowns }

// Submit queues ev. With testMode the pending queue is discarded and any
// active run stops before its next step; steps it already applied stay applied.
func (e *Engine) Submit(ev core.Event, testMode bool) {
	ent := entry{
		ev:       ev.Clone(),
		test:     testMode,
		queuedAt: e.now(),
		trace:    runtrace.New(string(ev.Kind), ev.DisplayName(), snippet(ev.Message)),
	}
	e.metrics.incEvent(string(ev.Kind), testMode)

	e.mu.Lock()
	if testMode {
		if dropped := len(e.spool); dropped > 0 {
			e.log.Info("test event replaced spool", "discarded", dropped)
		}
		e.spool = []entry{ent}
		e.gen++
		if e.active != nil {
			close(e.active.abort)
			e.active = nil
		}
	} else {
		e.spool = append(e.spool, ent)
	}
	depth := len(e.spool)
	e.mu.Unlock()

	e.metrics.setSpoolDepth(depth)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Pending reports the number of spool entries, including the active one.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spool)
}

// Run services the spool until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.mu.Lock()
		if len(e.spool) == 0 {
			e.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
			}
			continue
		}
		head := e.spool[0]
		e.gen++
		run := &activeRun{token: e.gen, abort: make(chan struct{})}
		e.active = run
		e.mu.Unlock()

		rec := e.process(ctx, run, head)

		e.mu.Lock()
		if e.gen == run.token {
			e.spool[0] = entry{}
			e.spool = e.spool[1:]
			e.active = nil
		}
		depth := len(e.spool)
		e.mu.Unlock()
		e.metrics.setSpoolDepth(depth)
		e.finish(rec, head.trace)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (e *Engine) current(token uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == token
}

func (e *Engine) process(ctx context.Context, run *activeRun, ent entry) core.Run {
	ev := ent.ev
	AttachWinner(&ev)

	rec := core.Run{
		ID:        ent.trace.RunID,
		Kind:      ev.Kind,
		User:      ev.DisplayName(),
		UserID:    ev.UserID(),
		Test:      ent.test,
		QueuedAt:  ent.queuedAt,
		StartedAt: e.now(),
	}

	key, rule, ok := e.lookup(&ev)
	if !ok {
		rec.Outcome = core.OutcomeUnmatched
		ent.trace.IncCounter(runtrace.StageDropped("unmatched"))
		return rec
	}
	rec.Key = key
	ent.trace.SetKey(key)
	ent.trace.IncCounter(runtrace.StageResolved)

	if admitted, reason := Admit(e.cooldowns, key, rule, &ev, ent.test, e.now()); !admitted {
		rec.Outcome = core.OutcomeRejected
		rec.Reason = reason
		ent.trace.IncCounter(runtrace.StageDropped(reason))
		return rec
	}
	ent.trace.IncCounter(runtrace.StageAdmitted)

	rec.Outcome = core.OutcomeExecuted
	for _, step := range rule.Steps {
		if ctx.Err() != nil {
			rec.Outcome = core.OutcomeCanceled
			break
		}
		if !e.current(run.token) {
			rec.Outcome = core.OutcomeSuperseded
			ent.trace.IncCounter(runtrace.StageDropped("superseded"))
			break
		}

		failures := e.apply(ctx, key, &ev, step)
		rec.Steps++
		rec.Failures += failures
		e.metrics.incStep()
		if failures > 0 {
			ent.trace.IncCounter(runtrace.StageStepFailed)
		} else {
			ent.trace.IncCounter(runtrace.StageStepApplied)
		}

		if d := step.Wait(); d > 0 {
			select {
			case <-e.after(d):
			case <-run.abort:
			case <-ctx.Done():
			}
		}
	}
	return rec
}

func (e *Engine) lookup(ev *core.Event) (string, rules.Rule, bool) {
	if e.rules == nil {
		return "", rules.Rule{}, false
	}
	for _, key := range Candidates(ev) {
		if rule, ok := e.rules.Lookup(key); ok {
			return key, rule, true
		}
	}
	return "", rules.Rule{}, false
}

// apply issues the calls for one step and returns how many of them failed.
// A failed call is logged and the remaining calls still run.
func (e *Engine) apply(ctx context.Context, key string, ev *core.Event, step rules.Step) int {
	if e.surface == nil {
		return 0
	}
	failures := 0
	check := func(op string, err error) {
		if err == nil {
			return
		}
		failures++
		e.metrics.incSurfaceError(op)
		e.log.Warn("surface call failed", "op", op, "key", key, "target", step.Target, "err", err)
	}

	if step.Text != "" {
		text := e.resolver.Resolve(key, ev, step.Text, false)
		check("text", e.surface.SetTextContent(ctx, step.Target, text))
	}
	if step.URL != "" {
		url := e.resolver.Resolve(key, ev, step.URL, true)
		check("url", e.surface.SetBrowsableContentURL(ctx, step.Target, url))
	}
	if step.Media != "" {
		check("media", e.surface.SetMediaContent(ctx, step.Target, step.Media))
	}
	if step.Filter != "" {
		check("filter", e.surface.SetFilterVisibility(ctx, step.Target, step.Filter, step.Show))
	} else {
		check("visibility", e.surface.SetElementVisibility(ctx, step.Target, step.Show))
	}
	return failures
}

func (e *Engine) finish(rec core.Run, trace *runtrace.RunTrace) {
	rec.FinishedAt = e.now()
	e.metrics.observeRun(string(rec.Outcome), rec.Duration())

	if rec.Outcome != core.OutcomeUnmatched {
		trace.LogTrace(e.log, "trigger run")
	}
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Write(rec, trace); err != nil {
		e.log.Warn("record run failed", "run_id", rec.ID, "err", err)
	}
}

func snippet(s string) string {
	const max = 64
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
