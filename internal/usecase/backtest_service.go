package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	domrepo "QuantGate/internal/domain/repository"
	"QuantGate/pkg/cache"
	"QuantGate/pkg/logger"
	"QuantGate/pkg/queue"
	"QuantGate/pkg/util"

	"github.com/google/uuid"
)

// JobTypeRun is the queue message type of an async backtest.
const JobTypeRun = "backtest.run"

const outcomeKeyPrefix = "outcome"

var (
	ErrOutcomeNotFound = errors.New("backtest outcome not found")
	ErrAsyncDisabled   = errors.New("async backtests are disabled")
	ErrHistoryDisabled = errors.New("run history is disabled")
)

// BacktestRunner runs one job end to end.
type BacktestRunner interface {
	Run(ctx context.Context, job models.BacktestJob, opts ...RunOption) (*models.Outcome, error)
}

// Enqueuer accepts async work.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// BacktestService is the entry point shared by the API, the queue worker
// and the CLI.
type BacktestService struct {
	runner     BacktestRunner
	outcomes   cache.Service
	queue      Enqueuer
	store      domrepo.RunStore
	outcomeTTL time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

type ServiceOption func(*BacktestService)

// WithQueue enables async submission.
func WithQueue(q Enqueuer) ServiceOption {
	return func(s *BacktestService) { s.queue = q }
}

// WithHistory enables Recent.
func WithHistory(store domrepo.RunStore) ServiceOption {
	return func(s *BacktestService) { s.store = store }
}

func WithOutcomeTTL(ttl time.Duration) ServiceOption {
	return func(s *BacktestService) {
		if ttl > 0 {
			s.outcomeTTL = ttl
		}
	}
}

func WithServiceLogger(l *logger.Logger) ServiceOption {
	return func(s *BacktestService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewBacktestService(runner BacktestRunner, outcomes cache.Service, opts ...ServiceOption) *BacktestService {
	s := &BacktestService{
		runner:     runner,
		outcomes:   outcomes,
		outcomeTTL: 24 * time.Hour,
		logger:     logger.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes req synchronously. The outcome is cached under both the
// request id and the job id.
func (s *BacktestService) Run(ctx context.Context, req *models.BacktestRequest) (*models.Outcome, error) {
	return s.execute(ctx, uuid.NewString(), req)
}

func (s *BacktestService) execute(ctx context.Context, requestID string, req *models.BacktestRequest) (*models.Outcome, error) {
	job := req.Job()
	job.Params.Resolution = domrepo.NormalizeResolution(string(job.Params.Resolution))

	out, err := s.runner.Run(ctx, job,
		WithRequestID(requestID),
		WithListenTime(time.Duration(req.ListenTime)*time.Second))
	if out == nil {
		out = &models.Outcome{RequestID: requestID, State: models.StateErrored, StartedAt: s.now(), FinishedAt: s.now()}
		if err != nil {
			out.Error = err.Error()
		}
	}
	s.remember(ctx, out)
	return out, err
}

// Enqueue schedules req on the job queue and returns its request id. A
// pending outcome is visible through Lookup right away.
func (s *BacktestService) Enqueue(ctx context.Context, req *models.BacktestRequest) (string, error) {
	if s.queue == nil {
		return "", ErrAsyncDisabled
	}
	requestID := uuid.NewString()
	s.remember(ctx, models.PendingOutcome(requestID, s.now()))

	if _, err := s.queue.Enqueue(ctx, JobTypeRun, models.QueuedBacktest{RequestID: requestID, Request: *req}); err != nil {
		_ = s.outcomes.Delete(ctx, cache.GenerateKey(outcomeKeyPrefix, requestID))
		return "", fmt.Errorf("enqueue backtest: %w", err)
	}
	s.logger.Info("backtest queued", logger.String("request_id", requestID))
	return requestID, nil
}

// Lookup returns the latest outcome for a job id or request id.
func (s *BacktestService) Lookup(ctx context.Context, id string) (*models.Outcome, error) {
	var out models.Outcome
	if err := s.outcomes.Get(ctx, cache.GenerateKey(outcomeKeyPrefix, id), &out); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrOutcomeNotFound
		}
		return nil, fmt.Errorf("lookup outcome: %w", err)
	}
	return &out, nil
}

// Recent lists the newest runs from the history store.
func (s *BacktestService) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.Recent(ctx, util.ClampInt(limit, 1, 200))
}

func (s *BacktestService) remember(ctx context.Context, out *models.Outcome) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range []string{out.RequestID, out.JobID} {
		if id == "" {
			continue
		}
		if err := s.outcomes.Set(ctx, cache.GenerateKey(outcomeKeyPrefix, id), out, s.outcomeTTL); err != nil {
			s.logger.Warn("cache outcome", logger.String("id", id), logger.Error(err))
		}
	}
}

// RunJob handles queued backtests.
type RunJob struct {
	svc *BacktestService
}

func NewRunJob(svc *BacktestService) *RunJob { return &RunJob{svc: svc} }

func (j *RunJob) Name() string { return "backtest_runner" }

func (j *RunJob) Type() string { return JobTypeRun }

// Handle runs the queued request. Only retryable submission failures are
// returned so the queue retries them; everything else is final and lives
// in the cached outcome.
func (j *RunJob) Handle(ctx context.Context, payload interface{}) error {
	msg, err := queue.ParsePayload[models.QueuedBacktest](payload)
	if err != nil {
		return fmt.Errorf("parse queued backtest: %w", err)
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	_, err = j.svc.execute(ctx, msg.RequestID, &msg.Request)
	if errs.IsRetryableSubmission(err) {
		return err
	}
	return nil
}
