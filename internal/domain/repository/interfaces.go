package repository

import (
	"context"

	"QuantGate/internal/domain/models"
)

// JobSubmitter sends a job to the remote executor and returns its id.
type JobSubmitter interface {
	Submit(ctx context.Context, job models.BacktestJob) (string, error)
}

// FragmentStream is a lazy sequence of fragments for one job. The channel is
// closed when the stream ends; a terminal fragment does not end it, so late
// fragments can still be read. Close unsubscribes and waits for the reader.
type FragmentStream interface {
	Fragments() <-chan models.ResultFragment
	Close() error
}

type ResultSubscriber interface {
	Subscribe(ctx context.Context, jobID string) (FragmentStream, error)
}

type ChartRenderer interface {
	Render(result models.AggregatedResult, outDir string) (string, error)
}

type URLResolver interface {
	Resolve(ctx context.Context, localPath string, cfg models.ResolverConfig) (models.ChartArtifact, error)
}

// RunStore persists run history.
type RunStore interface {
	Save(ctx context.Context, rec models.RunRecord) error
	Recent(ctx context.Context, limit int) ([]models.RunRecord, error)
	Close() error
}

// OutcomePublisher announces finished runs to downstream consumers.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome *models.Outcome) error
	Close() error
}

type Metrics interface {
	RecordRun(outcome string)
	RecordFragment(kind, result string)
	RecordReconnect(transport string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
