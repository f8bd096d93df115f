package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/hakim/scriptwatch/internal/browser"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/probe"
)

// Prober is the quick-probe contract.
type Prober interface {
	Probe(ctx context.Context, rawURL string) probe.Outcome
}

// Verifier is the browser-tier contract.
type Verifier interface {
	Verify(ctx context.Context, d browser.Driver, job models.ScanJob) (models.Verdict, error)
}

// BlockTracker is the quarantine contract. The orchestrator is its only
// writer during a batch.
type BlockTracker interface {
	IsQuarantined(rawURL string) bool
	RecordBlock(rawURL string) (int, bool, error)
	RecordSuccess(rawURL string) error
	ListQuarantined() []string
	Threshold() int
}

// StoreInterface is the minimal bbolt contract required by the orchestrator.
// Using an interface keeps the package testable without a real database.
type StoreInterface interface {
	SaveBatch(meta *models.BatchMeta) error
	SaveResult(batchID string, r models.ScanResult) error
}

// Observer receives timings and counts. metrics.Collector satisfies it.
type Observer interface {
	ObserveResult(r models.ScanResult)
	ObserveProbe(d time.Duration, escalation string)
	ObserveVerify(d time.Duration)
	ObserveRestart(reason string)
	SetQuarantined(n int)
}

// EventKind discriminates the batch event stream.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventResult    EventKind = "result"
	EventCompleted EventKind = "completed"
)

// Event is one message on the batch stream. Exactly one of Percent,
// Result or Batch is meaningful, according to Kind.
type Event struct {
	Kind    EventKind          `json:"type"`
	Percent int                `json:"percent,omitempty"`
	Result  *models.ScanResult `json:"result,omitempty"`
	Batch   *models.BatchMeta  `json:"batch,omitempty"`
}

// Config controls orchestration.
type Config struct {
	// RestartEvery replaces the browser session after this many browser jobs.
	RestartEvery int
	// RestartPause is the idle time between closing and relaunching.
	RestartPause time.Duration
	// Pacing draws the delay between consecutive browser jobs.
	Pacing Pacing
	// Preset is recorded on the batch for reporting.
	Preset string
}

// Deps are the collaborators of an Orchestrator. Store and Observer are
// optional.
type Deps struct {
	Prober   Prober
	Verifier Verifier
	Launcher browser.Launcher
	Tracker  BlockTracker
	Store    StoreInterface
	Observer Observer
	Log      zerolog.Logger
}

// Orchestrator runs batches through the two verification tiers.
type Orchestrator struct {
	cfg  Config
	deps Deps

	sleep browser.SleepFunc
	roll  func() float64
	now   func() time.Time
}

// New builds an Orchestrator. Prober, Verifier, Launcher and Tracker are required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Prober == nil || deps.Verifier == nil || deps.Launcher == nil || deps.Tracker == nil {
		return nil, fmt.Errorf("pipeline: prober, verifier, launcher and tracker are required")
	}
	if cfg.RestartEvery <= 0 {
		cfg.RestartEvery = 3
	}
	if len(cfg.Pacing.Bands) == 0 {
		cfg.Pacing = DefaultPacing()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		sleep: browser.Sleep,
		roll:  rand.Float64,
		now:   time.Now,
	}, nil
}

// WithSleep replaces the pause function. Intended for tests.
func (o *Orchestrator) WithSleep(fn browser.SleepFunc) *Orchestrator {
	o.sleep = fn
	return o
}

// Batch is a running batch. Events are delivered in order on a buffered
// channel that is closed after the completed event.
type Batch struct {
	ID string

	events  chan Event
	emit    func(Event)
	stopped atomic.Bool
	wg      conc.WaitGroup
	meta    *models.BatchMeta
	log     zerolog.Logger
}

// Events returns the event stream.
func (b *Batch) Events() <-chan Event { return b.events }

// Stop requests cooperative cancellation. The job in flight finishes and
// no further jobs start.
func (b *Batch) Stop() { b.stopped.Store(true) }

// Wait blocks until the batch finishes and returns its final metadata.
func (b *Batch) Wait() *models.BatchMeta {
	if r := b.wg.WaitAndRecover(); r != nil {
		b.log.Error().Str("panic", r.String()).Msg("batch worker panicked")
	}
	return b.meta
}

// Start runs jobs on a dedicated worker goroutine.
func (o *Orchestrator) Start(ctx context.Context, jobs []models.ScanJob) *Batch {
	meta := models.NewBatch(len(jobs))
	meta.Preset = o.cfg.Preset

	b := &Batch{
		ID:     meta.ID,
		events: make(chan Event, 2*len(jobs)+1),
		meta:   meta,
		log:    o.deps.Log,
	}
	b.emit = func(ev Event) { b.events <- ev }

	b.wg.Go(func() {
		defer close(b.events)
		o.execute(ctx, b, jobs)
	})
	return b
}

// Run executes jobs synchronously, calling emit for every event.
func (o *Orchestrator) Run(ctx context.Context, jobs []models.ScanJob, emit func(Event)) *models.BatchMeta {
	meta := models.NewBatch(len(jobs))
	meta.Preset = o.cfg.Preset

	b := &Batch{ID: meta.ID, meta: meta, log: o.deps.Log, emit: emit}
	if b.emit == nil {
		b.emit = func(Event) {}
	}
	o.execute(ctx, b, jobs)
	return meta
}

// pending is a job the quick probe could not settle.
type pending struct {
	job    models.ScanJob
	reason probe.Reason
}

// execute runs both phases.
//
// Phase 1 settles quarantined jobs and everything the quick probe can decide
// without a browser. Phase 2 runs the remainder through a lazily started
// browser that is replaced every RestartEvery jobs and after any crash.
// Every emitted result is followed by a progress event.
func (o *Orchestrator) execute(ctx context.Context, b *Batch, jobs []models.ScanJob) {
	log := o.deps.Log.With().Str("batch", b.ID).Logger()

	// ── 1. Record the batch ──────────────────────────────────────────────────
	if o.deps.Store != nil {
		if err := o.deps.Store.SaveBatch(b.meta); err != nil {
			log.Warn().Err(err).Msg("could not persist batch record")
		}
	}

	total := len(jobs)
	done := 0
	emitResult := func(r models.ScanResult) {
		if o.deps.Store != nil {
			if err := o.deps.Store.SaveResult(b.ID, r); err != nil {
				log.Warn().Err(err).Str("url", r.TargetURL).Msg("could not persist result")
			}
		}
		o.deps.Observer.ObserveResult(r)
		b.meta.Tally(r)
		done++

		b.emit(Event{Kind: EventResult, Result: &r})
		b.emit(Event{Kind: EventProgress, Percent: done * 100 / total})
	}

	// ── 2. Phase 1: quarantine check and quick probe ──────────────────────────
	var deferred []pending
	for _, job := range jobs {
		if o.halted(ctx, b) {
			break
		}

		if o.deps.Tracker.IsQuarantined(job.TargetURL) {
			log.Info().Str("name", job.DisplayName).Msg("skipping quarantined site")
			emitResult(models.ResultFor(job, models.Verdict{
				Status:   models.StatusUnverifiable,
				Message:  "Site blocks automation. Manual check required.",
				Category: models.CategoryErr,
				Vendor:   "Manual Required",
			}, models.MethodTracker, o.now()))
			continue
		}

		out := o.deps.Prober.Probe(ctx, job.TargetURL)
		o.deps.Observer.ObserveProbe(out.Elapsed, string(out.Reason))
		if ctx.Err() != nil {
			break
		}

		if !out.Conclusive() {
			log.Debug().Str("name", job.DisplayName).Str("reason", string(out.Reason)).Msg("queued for browser")
			deferred = append(deferred, pending{job: job, reason: out.Reason})
			continue
		}

		// Block history only changes on browser-confirmed results.
		emitResult(models.ResultFor(job, *out.Verdict, models.MethodQuick, o.now()))
	}

	// ── 3. Phase 2: browser verification ──────────────────────────────────────
	if len(deferred) > 0 && !o.halted(ctx, b) {
		log.Info().Int("jobs", len(deferred)).Msg("starting browser phase")
		o.browserPhase(ctx, b, log, deferred, emitResult)
	}

	// ── 4. Finish ─────────────────────────────────────────────────────────────
	o.deps.Observer.SetQuarantined(len(o.deps.Tracker.ListQuarantined()))

	status := models.BatchComplete
	if done < total {
		status = models.BatchCancelled
	}
	b.meta.Finish(status)
	if o.deps.Store != nil {
		if err := o.deps.Store.SaveBatch(b.meta); err != nil {
			log.Warn().Err(err).Msg("could not persist final batch record")
		}
	}

	log.Info().
		Int("processed", done).
		Int("total", total).
		Str("status", string(status)).
		Msg("batch finished")
	b.emit(Event{Kind: EventCompleted, Batch: b.meta})
}

func (o *Orchestrator) browserPhase(ctx context.Context, b *Batch, log zerolog.Logger, deferred []pending, emitResult func(models.ScanResult)) {
	var driver browser.Driver
	defer func() {
		if driver != nil {
			if err := driver.Close(); err != nil {
				log.Warn().Err(err).Msg("browser close failed")
			}
		}
	}()

	browserJobs := 0
	for i, p := range deferred {
		if o.halted(ctx, b) {
			return
		}
		job := p.job

		// Scheduled restart bounds memory growth and fingerprint reuse.
		if driver != nil && browserJobs > 0 && browserJobs%o.cfg.RestartEvery == 0 {
			log.Debug().Int("after_jobs", browserJobs).Msg("restarting browser")
			if err := driver.Close(); err != nil {
				log.Warn().Err(err).Msg("browser close failed")
			}
			driver = nil
			o.deps.Observer.ObserveRestart("scheduled")
			if err := o.sleep(ctx, o.cfg.RestartPause); err != nil {
				return
			}
		}

		if driver == nil {
			d, err := o.deps.Launcher.Launch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("browser unavailable, failing remaining jobs")
				for _, rest := range deferred[i:] {
					emitResult(models.ResultFor(rest.job, models.Verdict{
						Status:   models.StatusError,
						Message:  truncate("Browser unavailable: "+err.Error(), 100),
						Category: models.CategoryErr,
						Vendor:   "ERR",
					}, models.MethodBrowser, o.now()))
				}
				return
			}
			driver = d
		}

		start := time.Now()
		verdict, err := o.verifyIsolated(ctx, driver, job)
		o.deps.Observer.ObserveVerify(time.Since(start))

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Warn().Err(err).Str("name", job.DisplayName).Msg("browser crashed, recovering")
			if cerr := driver.Close(); cerr != nil {
				log.Debug().Err(cerr).Msg("closing crashed browser")
			}
			driver = nil
			o.deps.Observer.ObserveRestart("crash")
			verdict = models.Verdict{
				Status:   models.StatusError,
				Message:  "Browser crashed/Recovered",
				Category: models.CategoryErr,
				Vendor:   "ERR",
			}
		}

		verdict = o.applyBlockPolicy(log, job, verdict)
		emitResult(models.ResultFor(job, verdict, models.MethodBrowser, o.now()))
		browserJobs++

		if i < len(deferred)-1 && !o.halted(ctx, b) {
			if err := o.sleep(ctx, o.cfg.Pacing.Next(o.roll(), o.roll())); err != nil {
				return
			}
		}
	}
}

// verifyIsolated runs the verifier and converts a panic into an error so a
// misbehaving page cannot take the batch down.
func (o *Orchestrator) verifyIsolated(ctx context.Context, d browser.Driver, job models.ScanJob) (verdict models.Verdict, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		verdict, err = o.deps.Verifier.Verify(ctx, d, job)
	})
	if r := pc.Recovered(); r != nil {
		return models.Verdict{}, r.AsError()
	}
	return verdict, err
}

// applyBlockPolicy records tracker state for a browser verdict and escalates
// repeated blocks to UNVERIFIABLE.
func (o *Orchestrator) applyBlockPolicy(log zerolog.Logger, job models.ScanJob, v models.Verdict) models.Verdict {
	switch v.Status {
	case models.StatusBlocked:
		count, newly, err := o.deps.Tracker.RecordBlock(job.TargetURL)
		if err != nil {
			log.Warn().Err(err).Str("url", job.TargetURL).Msg("could not persist block")
		}
		if newly || o.deps.Tracker.IsQuarantined(job.TargetURL) {
			log.Info().Str("name", job.DisplayName).Int("blocks", count).Msg("site quarantined")
			return models.Verdict{
				Status:   models.StatusUnverifiable,
				Message:  fmt.Sprintf("Blocked %dx. Manual verification required.", count),
				Category: models.CategoryErr,
				Vendor:   "Persistent Block",
			}
		}
		v.Message = fmt.Sprintf("%s (%d/%d)", v.Message, count, o.deps.Tracker.Threshold())
	case models.StatusPass:
		o.recordSuccess(log, job.TargetURL)
	}
	return v
}

func (o *Orchestrator) recordSuccess(log zerolog.Logger, rawURL string) {
	if err := o.deps.Tracker.RecordSuccess(rawURL); err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("could not clear block history")
	}
}

func (o *Orchestrator) halted(ctx context.Context, b *Batch) bool {
	return b.stopped.Load() || ctx.Err() != nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type nopObserver struct{}

func (nopObserver) ObserveResult(models.ScanResult) {}
func (nopObserver) ObserveProbe(time.Duration, string) {}
func (nopObserver) ObserveVerify(time.Duration) {}
func (nopObserver) ObserveRestart(string) {}
func (nopObserver) SetQuarantined(int) {}
