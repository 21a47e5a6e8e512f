/*
PURPOSE:
  Job scheduler for one run: expands a run config into model x repetition
  jobs, streams up to N of them at once, and keeps the shared Run aggregate
  current as events arrive.

REQUIREMENTS:
  User-specified:
  - Bounded concurrency; a freed slot is refilled immediately in job order.
  - Cancel everything, retry only failed jobs, report derived progress.
  - Every mutation of the run is reported to an observer.

  Implementation-discovered:
  - Records are created queued for every job up front, so totals and stats
    are correct from the first observer call.
  - Events from a canceled or superseded attempt must be dropped, not applied.
  - Similarity is attached whenever the run goes idle, including after a
    cancel, and recomputed after a retry round.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go, internal/cli
  - Uses: internal/provider, internal/similarity, internal/metrics, internal/model

ERROR HANDLING:
  - Job failures never escape; they are written to the ResponseRecord.
  - StartRun rejects an empty question.

IMPLEMENTATION RULES:
  - One mutex guards the run, the job table and the history.
  - Admission goes through a semaphore sized to the run's concurrency.
  - One goroutine per admitted job drains its event channel until close.
  - The observer runs under the lock. It must not call back into the Scheduler.

USAGE:
  s := engine.New(catalog, engine.WithObserver(fn))
  s.StartRun(cfg)
  run, err := s.Wait(ctx)

SELF-HEALING INSTRUCTIONS:
  - If a run never finishes, look for a provider that does not close its
    event channel.

RELATED FILES:
  - internal/engine/catalog.go
  - internal/engine/history.go
  - internal/provider/provider.go

MAINTENANCE:
  - Keep the state checks in apply() in sync with new job states.
*/

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/daryltucker/mimic-runner/internal/metrics"
	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/output"
	"github.com/daryltucker/mimic-runner/internal/provider"
	"github.com/daryltucker/mimic-runner/internal/similarity"
)

var (
	// ErrEmptyQuestion is returned by StartRun when there is nothing to ask.
	ErrEmptyQuestion = errors.New("question must not be empty")
	// ErrNoRun is returned by Wait before any run was started.
	ErrNoRun = errors.New("no run has been started")
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver registers fn to receive a copy of the run after every change.
func WithObserver(fn func(model.Run)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// WithMetrics reports job activity to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithResolver overrides how provider adapters are found.
func WithResolver(r Resolver) Option {
	return func(s *Scheduler) { s.resolve = r }
}

// job is one (model, repetition) unit of work.
type job struct {
	spec    model.ModelSpec
	loop    int
	rec     int
	status  model.Status
	retries int
	// attempt increments on every dispatch; stale events carry an old value.
	attempt int
	cancel  context.CancelFunc
	slot    bool
	text    strings.Builder
}

// Scheduler runs one question against many models at a time.
type Scheduler struct {
	catalog  Catalog
	resolve  Resolver
	observer func(model.Run)
	metrics  *metrics.Collector

	mu       sync.Mutex
	run      *model.Run
	jobs     []*job
	slots    *semaphore.Weighted
	history  *History
	idle     chan struct{}
	finished bool

	wg sync.WaitGroup
}

// New creates a Scheduler for catalog.
func New(catalog Catalog, opts ...Option) *Scheduler {
	if catalog.SimilarityThreshold <= 0 {
		catalog.SimilarityThreshold = similarity.DefaultThreshold
	}
	s := &Scheduler{
		catalog: catalog,
		history: NewHistory(catalog.HistoryCap),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolve == nil {
		s.resolve = ProviderResolver(provider.NewClient(provider.DefaultRetryConfig()))
	}
	return s
}

// StartRun cancels and archives any current run, builds the job set for cfg,
// and dispatches the first wave. It returns once dispatch is done, not once
// the run completes.
func (s *Scheduler) StartRun(cfg model.RunConfig) (model.Run, error) {
	if strings.TrimSpace(cfg.Question) == "" {
		return model.Run{}, ErrEmptyQuestion
	}
	cfg = s.normalize(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		s.cancelLocked()
		s.history.Push(*s.run)
	}

	run := &model.Run{ID: uuid.NewString(), Config: cfg}
	var jobs []*job
	for _, id := range cfg.SelectedModelIDs {
		spec, ok := s.catalog.Model(id)
		if !ok {
			output.Logger.Warnw("Skipping unknown model", "model", id)
			continue
		}
		for i := 0; i < cfg.LoopCount; i++ {
			jobs = append(jobs, &job{spec: spec, loop: i, rec: len(run.Responses), status: model.StatusQueued})
			run.Responses = append(run.Responses, model.ResponseRecord{
				ID:         uuid.NewString(),
				RunID:      run.ID,
				Service:    spec.Provider,
				ModelID:    spec.ID,
				ModelLabel: spec.Label,
				LoopIndex:  i,
				Status:     model.StatusQueued,
			})
		}
	}
	run.Stats = model.ComputeStats(run.Responses)

	s.run = run
	s.jobs = jobs
	s.slots = semaphore.NewWeighted(int64(cfg.Concurrency))
	s.idle = make(chan struct{})
	s.finished = false

	output.Logger.Infow("Run started", "run", run.ID, "jobs", len(jobs), "concurrency", cfg.Concurrency)
	s.notify()
	s.dispatch()
	s.checkIdle()
	return run.Clone(), nil
}

func (s *Scheduler) normalize(cfg model.RunConfig) model.RunConfig {
	if cfg.LoopCount < 1 {
		cfg.LoopCount = 1
	}
	if s.catalog.LoopCap > 0 {
		cfg.LoopCapAtRunTime = s.catalog.LoopCap
		cfg.LoopCount = min(cfg.LoopCount, s.catalog.LoopCap)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	cfg.SelectedModelIDs = append([]string(nil), cfg.SelectedModelIDs...)
	return cfg
}

// CancelRun cancels every queued and in-flight job. It does not wait for
// connections to close and is safe to call repeatedly.
func (s *Scheduler) CancelRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Scheduler) cancelLocked() {
	if s.run == nil {
		return
	}
	n := 0
	for _, j := range s.jobs {
		if !j.status.Terminal() {
			s.settle(j, model.StatusCanceled, "")
			n++
		}
	}
	if n == 0 {
		return
	}
	output.Logger.Infow("Run canceled", "run", s.run.ID, "jobs", n)
	s.notify()
	s.checkIdle()
}

// RetryErrors re-queues every failed job and resumes dispatch. Done and
// canceled jobs are untouched. It returns the number of jobs re-queued.
func (s *Scheduler) RetryErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return 0
	}
	n := 0
	for _, j := range s.jobs {
		if j.status != model.StatusError {
			continue
		}
		j.status = model.StatusQueued
		j.retries++
		rec := &s.run.Responses[j.rec]
		*rec = model.ResponseRecord{
			ID:         rec.ID,
			RunID:      rec.RunID,
			Service:    rec.Service,
			ModelID:    rec.ModelID,
			ModelLabel: rec.ModelLabel,
			LoopIndex:  rec.LoopIndex,
			Status:     model.StatusQueued,
			RetryCount: j.retries,
		}
		n++
	}
	if n == 0 {
		return 0
	}

	s.run.Similarity = nil
	s.run.Stats = model.ComputeStats(s.run.Responses)
	if s.finished {
		s.finished = false
		s.idle = make(chan struct{})
	}
	output.Logger.Infow("Retrying failed jobs", "run", s.run.ID, "jobs", n)
	s.notify()
	s.dispatch()
	s.checkIdle()
	return n
}

// Status returns progress derived from the current run.
func (s *Scheduler) Status() model.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return model.StatusSnapshot{}
	}
	return model.StatusSnapshot{
		IsRunning: s.busy(),
		Completed: s.run.Stats.Completed,
		Total:     s.run.Stats.Total,
		Errors:    s.run.Stats.Errors,
	}
}

// Current returns a copy of the current run, if any.
func (s *Scheduler) Current() (model.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return model.Run{}, false
	}
	return s.run.Clone(), true
}

// History returns archived runs, newest first.
func (s *Scheduler) History() []model.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Runs()
}

// Wait blocks until the current run has no queued or in-flight jobs.
func (s *Scheduler) Wait(ctx context.Context) (model.Run, error) {
	s.mu.Lock()
	if s.run == nil {
		s.mu.Unlock()
		return model.Run{}, ErrNoRun
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return model.Run{}, ctx.Err()
	}
	run, _ := s.Current()
	return run, nil
}

// Shutdown cancels the current run and waits for every job goroutine to
// drain its stream.
func (s *Scheduler) Shutdown() {
	s.CancelRun()
	s.wg.Wait()
}

// dispatch admits queued jobs in order while slots are free.
func (s *Scheduler) dispatch() {
	for _, j := range s.jobs {
		if j.status != model.StatusQueued {
			continue
		}
		if !s.slots.TryAcquire(1) {
			return
		}
		s.start(j)
	}
}

func (s *Scheduler) start(j *job) {
	now := time.Now().UTC()
	j.attempt++
	j.status = model.StatusInProgress
	j.slot = true
	j.text.Reset()
	s.metrics.JobStarted()

	rec := &s.run.Responses[j.rec]
	rec.Status = model.StatusInProgress
	rec.StartedAt = &now
	rec.RetryCount = j.retries

	p, err := s.resolve(j.spec.Provider)
	if err != nil {
		s.fail(j, err)
		s.notify()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	events := p.Send(ctx, provider.Request{
		Model:        j.spec,
		Settings:     s.catalog.Settings(j.spec.Provider),
		SystemPrompt: s.run.Config.SystemPrompt,
		Prompt:       s.run.Config.Question,
	})

	output.Logger.Debugw("Job dispatched", "model", j.spec.ID, "loop", j.loop, "attempt", j.attempt)
	s.wg.Add(1)
	go s.consume(s.run, j, j.attempt, events)
	s.notify()
}

func (s *Scheduler) consume(run *model.Run, j *job, attempt int, events <-chan provider.Event) {
	defer s.wg.Done()
	for ev := range events {
		s.apply(run, j, attempt, ev)
	}
}

// apply folds one event into the run. Events for a run that was replaced,
// an attempt that was superseded, or a job no longer in flight are dropped.
func (s *Scheduler) apply(run *model.Run, j *job, attempt int, ev provider.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != run || j.attempt != attempt || j.status != model.StatusInProgress {
		return
	}
	rec := &run.Responses[j.rec]

	switch ev.Kind {
	case provider.EventStarted:
		output.Logger.Debugw("Stream started", "model", j.spec.ID, "loop", j.loop)
		return

	case provider.EventChunk:
		j.text.WriteString(ev.Text)
		rec.Text = j.text.String()
		rec.CharCount += utf8.RuneCountInString(ev.Text)
		s.metrics.Chunk(j.spec.Provider)
		s.notify()
		return

	case provider.EventCompleted:
		latency := ev.Meta.LatencyMs
		rec.Text = ev.Text
		rec.CharCount = utf8.RuneCountInString(ev.Text)
		rec.LatencyMs = &latency
		rec.InputTokens = ev.Meta.InputTokens
		rec.OutputTokens = ev.Meta.OutputTokens
		rec.TotalTokens = ev.Meta.TotalTokens
		rec.FinishReason = ev.Meta.FinishReason
		rec.Truncated = ev.Meta.Truncated
		s.settle(j, model.StatusDone, "")

	case provider.EventFailed:
		s.fail(j, ev.Err)
	}

	s.notify()
	s.dispatch()
	s.checkIdle()
}

// settle moves j into a terminal state and frees its slot.
func (s *Scheduler) settle(j *job, status model.Status, errMsg string) {
	now := time.Now().UTC()
	rec := &s.run.Responses[j.rec]
	rec.Status = status
	rec.CompletedAt = &now
	rec.ErrorMessage = errMsg
	j.status = status

	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	if j.slot {
		j.slot = false
		s.slots.Release(1)
		s.metrics.JobFinished(j.spec.Provider, status)
	} else {
		s.metrics.JobSkipped(j.spec.Provider, status)
	}
	s.run.Stats = model.ComputeStats(s.run.Responses)

	if status == model.StatusDone {
		output.Logger.Debugw("Job done", "model", j.spec.ID, "loop", j.loop, "chars", rec.CharCount)
	}
}

// fail records err on j. The status is always error; the error kind only
// decides how loudly it is logged.
func (s *Scheduler) fail(j *job, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.settle(j, model.StatusError, msg)

	log := output.Logger.With("model", j.spec.ID, "loop", j.loop, "error", msg)
	switch {
	case provider.IsCanceled(err):
		log.Infow("Job stream canceled")
	case provider.IsConfigError(err):
		log.Warnw("Job not sent, provider is not configured", "provider", j.spec.Provider)
	default:
		log.Warnw("Job failed", "retryable", provider.Retryable(err))
	}
}

func (s *Scheduler) busy() bool {
	for _, j := range s.jobs {
		if !j.status.Terminal() {
			return true
		}
	}
	return false
}

// checkIdle attaches similarity and releases waiters once nothing is left
// to run.
func (s *Scheduler) checkIdle() {
	if s.run == nil || s.finished || s.busy() {
		return
	}
	s.run.Similarity = similarity.Analyze(s.run.Responses, s.catalog.SimilarityThreshold)
	s.finished = true
	close(s.idle)

	st := s.run.Stats
	output.Logger.Infow("Run finished",
		"run", s.run.ID,
		"total", st.Total,
		"completed", st.Completed,
		"errors", st.Errors,
		"canceled", st.Canceled,
		"clusters", len(s.run.Similarity.Clusters),
	)
	s.notify()
}

func (s *Scheduler) notify() {
	if s.observer != nil {
		s.observer(s.run.Clone())
	}
}
