// Package pipeline drives one review job through the fixed stage sequence:
// discovery, acquisition, extraction, summarization and synthesis.
//
// Itemized stages fan work out over bounded worker pools. A failed item is
// recorded and dropped; only the fatal conditions in domain.FatalKind end a
// job early. Cancellation is cooperative: it is observed at stage boundaries
// and whenever an item completes, and items already dispatched are allowed to
// finish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/observability"
)

// errStopped unwinds the stage sequence once cancellation has been observed.
var errStopped = errors.New("pipeline: cancellation observed")

// ErrInterrupted is returned by Run when its context ends without a
// cancellation request, for example on an activity timeout or a worker
// shutdown. The job keeps its durable state and can be run again.
var ErrInterrupted = errors.New("pipeline: run interrupted")

// Deps holds the collaborators a Controller calls.
type Deps struct {
	Discoverer  Discoverer
	Fetcher     Fetcher
	Store       Store
	Extractor   Extractor
	Summarizer  Summarizer
	Synthesizer Synthesizer

	Sink      StatusSink
	Items     ItemRecorder
	Documents DocumentWriter

	Metrics *observability.Metrics
	Logger  zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Hooks observe a run. Both callbacks are optional and are called from the
// goroutine that writes progress, never concurrently.
type Hooks struct {
	OnStageChange func(stage domain.Stage, percent int)
	OnProgress    func(p domain.Progress)
}

// Result is the outcome of Controller.Run.
type Result struct {
	TrackingID uuid.UUID           `json:"tracking_id"`
	Status     domain.JobStatus    `json:"status"`
	Stage      domain.Stage        `json:"stage"`
	Percent    int                 `json:"percent"`
	Error      *domain.JobError    `json:"error,omitempty"`
	Counts     []domain.StageCount `json:"counts,omitempty"`
	Citations  int                 `json:"citations"`
}

// Controller owns the job state machine.
type Controller struct {
	deps Deps
	cfg  Config
}

// NewController creates a Controller. Zero-valued Config fields take their defaults.
func NewController(deps Deps, cfg Config) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{deps: deps, cfg: cfg.withDefaults()}
}

// Cancel records the cooperative cancellation flag for a job.
func (c *Controller) Cancel(ctx context.Context, trackingID uuid.UUID) error {
	job, err := c.deps.Sink.Get(ctx, trackingID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Stage.IsTerminal() {
		return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.Stage)
	}
	if err := c.deps.Sink.RequestCancel(ctx, trackingID); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

// Abandon fails a job that can no longer be run, for example after its host
// gave up retrying. Jobs that already finished are left alone.
func (c *Controller) Abandon(ctx context.Context, trackingID uuid.UUID, message string) error {
	job, err := c.deps.Sink.Get(ctx, trackingID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Stage.IsTerminal() {
		return nil
	}

	jobErr := &domain.JobError{Kind: domain.FatalInternal, Stage: job.Stage, Message: message}
	if err := c.deps.Sink.Finish(ctx, trackingID, domain.StageFailed, jobErr); err != nil {
		return fmt.Errorf("finish as failed: %w", err)
	}

	var elapsed float64
	if job.StartedAt != nil {
		elapsed = c.deps.Now().Sub(*job.StartedAt).Seconds()
	}
	c.deps.Metrics.RecordJobFailed(string(domain.FatalInternal), elapsed)
	logger := observability.WithJobContext(c.deps.Logger, trackingID.String())
	logger.Error().
		Str("stage", string(job.Stage)).
		Str("error", message).
		Msg("review abandoned")
	return nil
}

// Stop ends a job as cancelled after its host cancelled the run outright,
// for example when the workflow itself was cancelled. Jobs that already
// finished are left alone.
func (c *Controller) Stop(ctx context.Context, trackingID uuid.UUID) error {
	job, err := c.deps.Sink.Get(ctx, trackingID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Stage.IsTerminal() {
		return nil
	}

	if err := c.deps.Sink.Finish(ctx, trackingID, domain.StageCancelled, nil); err != nil {
		return fmt.Errorf("finish as cancelled: %w", err)
	}

	var elapsed float64
	if job.StartedAt != nil {
		elapsed = c.deps.Now().Sub(*job.StartedAt).Seconds()
	}
	c.deps.Metrics.RecordJobCancelled(elapsed)
	logger := observability.WithJobContext(c.deps.Logger, trackingID.String())
	logger.Info().Str("stage", string(job.Stage)).Msg("review stopped")
	return nil
}

// Run executes every stage of a job and writes its terminal state.
//
// Fatal pipeline conditions and cancellation are normal outcomes reported on
// the Result. Only the durable cancellation flag ends a job as cancelled; a
// context that ends on its own yields ErrInterrupted and no terminal state. A
// returned error means the job should be run again; re-running is safe because
// every per-item side effect is keyed by content or item identity.
func (c *Controller) Run(ctx context.Context, trackingID uuid.UUID, hooks Hooks) (*Result, error) {
	job, err := c.deps.Sink.Get(ctx, trackingID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	r := &run{
		c:      c,
		cfg:    c.cfg,
		job:    job,
		hooks:  hooks,
		logger: observability.WithJobContext(c.deps.Logger, trackingID.String()),
		counts: make(map[domain.Stage]*domain.StageCount),
	}

	if job.Stage.IsTerminal() {
		r.logger.Info().Str("stage", string(job.Stage)).Msg("job already finished")
		return r.result(job.Stage, job.Percent, job.Error), nil
	}

	r.percent = job.Percent
	r.resumed = job.Stage
	r.started = c.deps.Now()
	if job.StartedAt != nil {
		r.started = *job.StartedAt
	}
	if job.Stage == domain.StagePending {
		c.deps.Metrics.RecordJobStarted()
	}

	return r.execute(ctx)
}

// run is the state of one Controller.Run call.
type run struct {
	c      *Controller
	cfg    Config
	job    *domain.ReviewJob
	hooks  Hooks
	logger zerolog.Logger

	cancelled atomic.Bool

	// resumed is the durable stage the job was loaded at. Stages up to it
	// were announced by an earlier attempt.
	resumed domain.Stage

	stage      domain.Stage
	stageStart time.Time
	percent    int
	started    time.Time
	counts     map[domain.Stage]*domain.StageCount
	discovered int
	citations  int
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	err := r.stages(ctx)

	var fatal *domain.FatalError
	switch {
	case err == nil:
		return r.finish(ctx, domain.StageSucceeded, nil)
	case errors.Is(err, errStopped) || r.stopped():
		return r.finish(ctx, domain.StageCancelled, nil)
	case errors.Is(err, ErrInterrupted):
		r.logger.Warn().Err(err).Str("stage", string(r.stage)).Msg("run interrupted")
		return nil, err
	case errors.As(err, &fatal):
		return r.finish(ctx, domain.StageFailed, domain.JobErrorFrom(err))
	default:
		return nil, err
	}
}

func (r *run) stages(ctx context.Context) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	if err := r.enter(ctx, domain.StageSearching); err != nil {
		return err
	}
	candidates, err := r.search(ctx)
	if stop := r.checkpoint(ctx); stop != nil {
		return stop
	}
	if err != nil {
		return err
	}
	r.progress(ctx, 1, 1)

	if err := r.enter(ctx, domain.StageAcquiring); err != nil {
		return err
	}
	sources := r.acquire(ctx, candidates)
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	if err := r.enter(ctx, domain.StageExtracting); err != nil {
		return err
	}
	texts := r.extract(ctx, sources)
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	if len(texts) == 0 {
		return domain.NewFatalError(domain.FatalNoExtractableText, domain.StageExtracting,
			fmt.Errorf("none of %d acquired sources produced text", len(sources)))
	}

	if err := r.enter(ctx, domain.StageSummarizing); err != nil {
		return err
	}
	summaries := r.summarize(ctx, texts)
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	if len(summaries) == 0 {
		return domain.NewFatalError(domain.FatalNoSummaries, domain.StageSummarizing,
			fmt.Errorf("none of %d papers were summarized", len(texts)))
	}

	if err := r.enter(ctx, domain.StageSynthesizing); err != nil {
		return err
	}
	doc, err := r.synthesize(ctx, summaries)
	// Last checkpoint: a cancelled job never gets a document.
	if stop := r.checkpoint(ctx); stop != nil {
		return stop
	}
	if err != nil {
		return err
	}
	if err := r.c.deps.Documents.SaveDocument(context.WithoutCancel(ctx), doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	r.citations = len(doc.Citations)
	return nil
}

// enter moves the job into a working stage.
func (r *run) enter(ctx context.Context, stage domain.Stage) error {
	now := r.c.deps.Now()
	if r.stage != "" {
		r.c.deps.Metrics.RecordStageDuration(string(r.stage), now.Sub(r.stageStart).Seconds())
	}

	percent := StagePercent(stage, 0, 0)
	if percent < r.percent {
		percent = r.percent
	}
	if err := r.c.deps.Sink.Advance(context.WithoutCancel(ctx), r.job.TrackingID, stage, percent); err != nil {
		return fmt.Errorf("advance to %s: %w", stage, err)
	}

	r.stage = stage
	r.stageStart = now
	r.percent = percent
	r.logger.Info().Str("stage", string(stage)).Int("percent", percent).Msg("stage started")
	if r.hooks.OnStageChange != nil && stage.Order() > r.resumed.Order() {
		r.hooks.OnStageChange(stage, percent)
	}
	return nil
}

// progress pushes the interpolated percent for the current stage.
func (r *run) progress(ctx context.Context, done, total int) {
	p := StagePercent(r.stage, done, total)
	if p > r.percent {
		if err := r.c.deps.Sink.UpdateProgress(context.WithoutCancel(ctx), r.job.TrackingID, p); err != nil {
			r.logger.Warn().Err(err).Int("percent", p).Msg("failed to write progress")
		} else {
			r.percent = p
		}
	}
	if r.hooks.OnProgress != nil {
		r.hooks.OnProgress(domain.Progress{
			TrackingID: r.job.TrackingID,
			Stage:      r.stage,
			Percent:    r.percent,
			Status:     domain.JobStatusRunning,
			Completed:  done,
			Total:      total,
			UpdatedAt:  r.c.deps.Now(),
		})
	}
}

// stopped reports whether cancellation has been observed, without touching the sink.
func (r *run) stopped() bool {
	return r.cancelled.Load()
}

// halted reports whether no further item may be dispatched.
func (r *run) halted(ctx context.Context) bool {
	return r.stopped() || ctx.Err() != nil
}

// checkpoint is the suspension point between stages. A requested
// cancellation wins over an ended context.
func (r *run) checkpoint(ctx context.Context) error {
	if r.pollCancel(ctx) {
		return errStopped
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	}
	return nil
}

// pollCancel checks the durable cancellation flag.
func (r *run) pollCancel(ctx context.Context) bool {
	if r.stopped() {
		return true
	}
	requested, err := r.c.deps.Sink.IsCancelRequested(context.WithoutCancel(ctx), r.job.TrackingID)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to read cancellation flag")
		return false
	}
	if requested {
		r.cancelled.Store(true)
		r.logger.Info().Str("stage", string(r.stage)).Msg("cancellation observed")
	}
	return requested
}

// recordItem persists one terminal item outcome and updates the stage counts.
func (r *run) recordItem(ctx context.Context, c domain.PaperCandidate, attempts int, failure *domain.ItemFailure) {
	if failure != nil && failure.Stage == "" {
		failure.Stage = r.stage
	}
	rec := domain.NewItemRecord(r.job.TrackingID, r.stage, c, attempts, failure, r.c.deps.Now())

	count, ok := r.counts[r.stage]
	if !ok {
		count = &domain.StageCount{Stage: r.stage}
		r.counts[r.stage] = count
	}
	count.Attempted++

	itemLog := observability.WithItemContext(r.logger, string(r.stage), rec.ItemKey)
	if failure == nil {
		count.Succeeded++
		itemLog.Debug().Int("attempts", attempts).Msg("item succeeded")
	} else {
		itemLog.Warn().
			Str("failure_kind", string(failure.Kind)).
			Str("reason", failure.Reason).
			Int("attempts", attempts).
			Msg("item failed")
	}
	r.c.deps.Metrics.RecordItem(string(r.stage), string(rec.Outcome), string(rec.FailureKind))

	if err := r.c.deps.Items.RecordItem(context.WithoutCancel(ctx), rec); err != nil {
		itemLog.Error().Err(err).Msg("failed to record item outcome")
	}
}

// finish writes the terminal stage.
func (r *run) finish(ctx context.Context, stage domain.Stage, jobErr *domain.JobError) (*Result, error) {
	now := r.c.deps.Now()
	if r.stage != "" {
		r.c.deps.Metrics.RecordStageDuration(string(r.stage), now.Sub(r.stageStart).Seconds())
	}

	if err := r.c.deps.Sink.Finish(context.WithoutCancel(ctx), r.job.TrackingID, stage, jobErr); err != nil {
		return nil, fmt.Errorf("finish as %s: %w", stage, err)
	}

	elapsed := now.Sub(r.started).Seconds()
	event := r.logger.Info().Str("stage", string(stage)).Float64("elapsed_seconds", elapsed)
	switch stage {
	case domain.StageSucceeded:
		r.percent = 100
		r.c.deps.Metrics.RecordJobSucceeded(elapsed)
		event.Int("citations", r.citations).Msg("review succeeded")
	case domain.StageFailed:
		r.c.deps.Metrics.RecordJobFailed(string(jobErr.Kind), elapsed)
		event.Str("kind", string(jobErr.Kind)).Str("error", jobErr.Message).Msg("review failed")
	default:
		r.c.deps.Metrics.RecordJobCancelled(elapsed)
		event.Msg("review cancelled")
	}

	if r.hooks.OnStageChange != nil {
		r.hooks.OnStageChange(stage, r.percent)
	}
	return r.result(stage, r.percent, jobErr), nil
}

func (r *run) result(stage domain.Stage, percent int, jobErr *domain.JobError) *Result {
	res := &Result{
		TrackingID: r.job.TrackingID,
		Status:     domain.StatusForStage(stage),
		Stage:      stage,
		Percent:    percent,
		Error:      jobErr,
		Citations:  r.citations,
	}
	for _, s := range domain.WorkingStages {
		if c, ok := r.counts[s]; ok {
			res.Counts = append(res.Counts, *c)
		}
	}
	return res
}
