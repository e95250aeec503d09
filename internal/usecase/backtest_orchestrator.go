package usecase

import (
	"context"
	"errors"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/internal/domain/repository"
	"QuantGate/internal/service/resolver"
	"QuantGate/pkg/logger"
	"QuantGate/pkg/metrics"
	"QuantGate/pkg/util"
)

const DefaultListenTime = 60 * time.Second

// OrchestratorConfig holds per-deployment settings of a run.
type OrchestratorConfig struct {
	ListenTime       time.Duration
	TerminalGrace    time.Duration
	SubmitAttempts   int
	SubmitBackoffMin time.Duration
	SubmitBackoffMax time.Duration
	ChartsDir        string
	Resolver         models.ResolverConfig
}

// OrchestratorOption configures BacktestOrchestrator.
type OrchestratorOption func(*BacktestOrchestrator)

// WithRunStore persists a history row per run.
func WithRunStore(s repository.RunStore) OrchestratorOption {
	return func(o *BacktestOrchestrator) { o.store = s }
}

// WithOutcomePublisher announces finished runs.
func WithOutcomePublisher(p repository.OutcomePublisher) OrchestratorOption {
	return func(o *BacktestOrchestrator) { o.publisher = p }
}

func WithOrchestratorMetrics(m repository.Metrics) OrchestratorOption {
	return func(o *BacktestOrchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithOrchestratorLogger(l *logger.Logger) OrchestratorOption {
	return func(o *BacktestOrchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOrchestratorClock overrides time.Now for timestamps.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *BacktestOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// RunOption adjusts a single run.
type RunOption func(*runSettings)

type runSettings struct {
	listen    time.Duration
	requestID string
}

// WithListenTime overrides the listening window for one run.
func WithListenTime(d time.Duration) RunOption {
	return func(s *runSettings) {
		if d > 0 {
			s.listen = d
		}
	}
}

// WithRequestID tags the outcome with the caller's request id.
func WithRequestID(id string) RunOption {
	return func(s *runSettings) { s.requestID = id }
}

// BacktestOrchestrator drives one job from submission to a chart URL:
// Submitting, Listening, Aggregating, Rendering, Resolving, Done.
type BacktestOrchestrator struct {
	submitter  repository.JobSubmitter
	subscriber repository.ResultSubscriber
	renderer   repository.ChartRenderer
	resolver   repository.URLResolver
	store      repository.RunStore
	publisher  repository.OutcomePublisher
	metrics    repository.Metrics
	logger     *logger.Logger
	cfg        OrchestratorConfig
	now        func() time.Time
}

func NewBacktestOrchestrator(
	submitter repository.JobSubmitter,
	subscriber repository.ResultSubscriber,
	renderer repository.ChartRenderer,
	urlResolver repository.URLResolver,
	cfg OrchestratorConfig,
	opts ...OrchestratorOption,
) *BacktestOrchestrator {
	if cfg.ListenTime <= 0 {
		cfg.ListenTime = DefaultListenTime
	}
	if cfg.SubmitAttempts < 1 {
		cfg.SubmitAttempts = 1
	}
	if cfg.SubmitBackoffMin <= 0 {
		cfg.SubmitBackoffMin = 500 * time.Millisecond
	}
	if cfg.SubmitBackoffMax <= 0 {
		cfg.SubmitBackoffMax = 5 * time.Second
	}
	o := &BacktestOrchestrator{
		submitter:  submitter,
		subscriber: subscriber,
		renderer:   renderer,
		resolver:   urlResolver,
		metrics:    metrics.Nop{},
		logger:     logger.Nop(),
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes job. Only *errs.SubmissionError and *errs.RenderError are
// returned; every other failure yields a partial result with a chart. The
// returned outcome always carries a ChartURL or an Error.
func (o *BacktestOrchestrator) Run(ctx context.Context, job models.BacktestJob, opts ...RunOption) (*models.Outcome, error) {
	rs := runSettings{listen: o.cfg.ListenTime}
	for _, opt := range opts {
		opt(&rs)
	}

	out := &models.Outcome{RequestID: rs.requestID, StartedAt: o.now()}
	l := o.logger
	if rs.requestID != "" {
		l = l.With(logger.String("request_id", rs.requestID))
	}

	o.transition(l, out, models.StateSubmitting)
	stageStart := time.Now()
	jobID, err := o.submit(ctx, job, l)
	o.metrics.RecordLatency("submit", time.Since(stageStart).Seconds())
	if err != nil {
		o.metrics.RecordError("submission")
		return o.fail(l, out, err), err
	}
	job = job.WithID(jobID)
	out.JobID = jobID
	l = l.With(logger.String("job_id", jobID))

	o.transition(l, out, models.StateListening)
	stageStart = time.Now()
	agg := NewResultAggregator(job)
	term, subErr := o.listen(ctx, job, agg, rs.listen, l)
	o.metrics.RecordLatency("listen", time.Since(stageStart).Seconds())

	o.transition(l, out, models.StateAggregating)
	result := agg.Finalize(term)
	if subErr != nil && !result.Completed {
		result.Error = subErr.Error()
	}
	out.Termination = result.Termination
	l.Info("result aggregated",
		logger.String("status", result.Status()),
		logger.String("termination", string(result.Termination)),
		logger.Int("fragments", agg.Len()),
		logger.Int("duplicates", agg.Duplicates()))

	// a cancelled caller still gets its chart
	bg := context.WithoutCancel(ctx)

	o.transition(l, out, models.StateRendering)
	stageStart = time.Now()
	path, err := o.renderer.Render(result, o.cfg.ChartsDir)
	o.metrics.RecordLatency("render", time.Since(stageStart).Seconds())
	if err != nil {
		var re *errs.RenderError
		if !errors.As(err, &re) {
			err = &errs.RenderError{Result: result, Err: err}
		}
		o.metrics.RecordError("render")
		out.Result = &result
		o.fail(l, out, err)
		o.sideEffects(bg, l, job, out)
		return out, err
	}

	o.transition(l, out, models.StateResolving)
	stageStart = time.Now()
	art, err := o.resolver.Resolve(bg, path, o.cfg.Resolver)
	o.metrics.RecordLatency("resolve", time.Since(stageStart).Seconds())
	if err != nil {
		o.metrics.RecordError("resolve")
		l.Warn("url resolution failed, using file url", logger.Error(err))
		art = models.ChartArtifact{LocalPath: path, ResolvedURL: resolver.FileURL(path), Mode: models.ModeFile}
	}

	out.Success = result.Success
	out.ChartURL = art.ResolvedURL
	out.Artifact = &art
	out.Result = &result
	if !result.Success {
		out.Error = result.Error
	}
	out.FinishedAt = o.now()
	o.transition(l, out, models.StateDone)
	l.Info("backtest finished",
		logger.Bool("success", out.Success),
		logger.String("chart_url", out.ChartURL),
		logger.String("mode", string(art.Mode)))

	o.sideEffects(bg, l, job, out)
	return out, nil
}

func (o *BacktestOrchestrator) submit(ctx context.Context, job models.BacktestJob, l *logger.Logger) (string, error) {
	var err error
	for attempt := 1; attempt <= o.cfg.SubmitAttempts; attempt++ {
		var id string
		id, err = o.submitter.Submit(ctx, job)
		if err == nil {
			return id, nil
		}
		var se *errs.SubmissionError
		if !errors.As(err, &se) {
			err = &errs.SubmissionError{Retryable: false, Err: err}
		}
		if !errs.IsRetryableSubmission(err) || attempt == o.cfg.SubmitAttempts {
			break
		}
		delay := util.BackoffWithJitter(o.cfg.SubmitBackoffMin, o.cfg.SubmitBackoffMax, attempt)
		l.Warn("submit failed, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err))
		if serr := util.Sleep(ctx, delay); serr != nil {
			return "", &errs.SubmissionError{Err: serr}
		}
	}
	return "", err
}

// listen collects fragments until a terminal fragment, the deadline, the
// end of the stream or caller cancellation. The stream is closed before it
// returns.
func (o *BacktestOrchestrator) listen(ctx context.Context, job models.BacktestJob, agg *ResultAggregator, window time.Duration, l *logger.Logger) (models.Termination, error) {
	listenCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	stream, err := o.subscriber.Subscribe(listenCtx, job.JobID)
	if err != nil {
		l.Warn("subscription failed, continuing with an empty stream", logger.Error(err))
		var se *errs.SubscriptionError
		if !errors.As(err, &se) {
			err = &errs.SubscriptionError{Transport: "unknown", Err: err}
		}
		if listenCtx.Err() != nil {
			return ctxTermination(listenCtx), err
		}
		return models.TerminatedStreamEnded, err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			l.Warn("close result stream", logger.Error(cerr))
		}
	}()

	observe := func(f models.ResultFragment, added bool) {
		result := "accepted"
		if !added {
			result = "duplicate"
		}
		o.metrics.RecordFragment(string(f.Kind), result)
		if f.Local {
			l.Warn("result stream lost", logger.String("reason", errorMessage(f)))
		}
	}

	term := drain(listenCtx, agg, stream.Fragments(), observe)
	if term == models.TerminatedTerminal && o.cfg.TerminalGrace > 0 {
		graceCtx, graceCancel := context.WithTimeout(listenCtx, o.cfg.TerminalGrace)
		drainRest(graceCtx, agg, stream.Fragments(), observe)
		graceCancel()
	}
	if term == models.TerminatedTimeout {
		l.Warn("listening window elapsed", logger.Duration("listen_time", window))
	}
	return term, nil
}

// drainRest keeps collecting late fragments until the stream ends or ctx is done.
func drainRest(ctx context.Context, agg *ResultAggregator, frags <-chan models.ResultFragment, onFragment func(models.ResultFragment, bool)) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frags:
			if !ok || ctx.Err() != nil {
				return
			}
			onFragment(f, agg.Add(f))
		}
	}
}

func errorMessage(f models.ResultFragment) string {
	if f.Error == nil {
		return ""
	}
	return f.Error.Message
}

func (o *BacktestOrchestrator) transition(l *logger.Logger, out *models.Outcome, s models.State) {
	out.State = s
	l.Info("state transition", logger.String("state", string(s)))
}

func (o *BacktestOrchestrator) fail(l *logger.Logger, out *models.Outcome, err error) *models.Outcome {
	out.Success = false
	out.Error = err.Error()
	out.FinishedAt = o.now()
	o.transition(l, out, models.StateErrored)
	l.Error("backtest failed", logger.Error(err))
	o.metrics.RecordRun("errored")
	return out
}

// sideEffects are best-effort and never change the outcome.
func (o *BacktestOrchestrator) sideEffects(ctx context.Context, l *logger.Logger, job models.BacktestJob, out *models.Outcome) {
	if out.State == models.StateDone {
		if out.Result != nil {
			o.metrics.RecordRun(out.Result.Status())
		}
		o.metrics.RecordLatency("run", out.FinishedAt.Sub(out.StartedAt).Seconds())
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if o.store != nil {
		if err := o.store.Save(ctx, NewRunRecord(job, out)); err != nil {
			o.metrics.RecordError("run_store")
			l.Warn("persist run record", logger.Error(err))
		}
	}
	if o.publisher != nil {
		if err := o.publisher.PublishOutcome(ctx, out); err != nil {
			o.metrics.RecordError("outcome_publish")
			l.Warn("publish outcome", logger.Error(err))
		}
	}
}

// NewRunRecord flattens a finished run into a history row.
func NewRunRecord(job models.BacktestJob, out *models.Outcome) models.RunRecord {
	rec := models.RunRecord{
		JobID:       out.JobID,
		StrategyID:  job.Strategy.StrategyID,
		Symbol:      job.Params.Symbol,
		Resolution:  job.Params.Resolution,
		Success:     out.Success,
		Termination: out.Termination,
		ChartURL:    out.ChartURL,
		Error:       out.Error,
		StartedAt:   out.StartedAt,
		FinishedAt:  out.FinishedAt,
	}
	if out.Artifact != nil {
		rec.ChartMode = out.Artifact.Mode
	}
	if r := out.Result; r != nil {
		rec.Completed = r.Completed
		rec.FinalValue = r.Summary.FinalValue
		rec.MaxDrawdown = r.Summary.MaxDrawdown
		rec.TradeCount = r.Summary.TradeCount
	}
	return rec
}
