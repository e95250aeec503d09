package repository

import (
	"context"
	"fmt"
	"time"

	"QuantGate/internal/domain/models"
	domrepo "QuantGate/internal/domain/repository"
)

// messageProducer is the subset of pkg/kafka.Producer used here.
type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// OutcomeEvent is the compact message announced for each finished run.
type OutcomeEvent struct {
	RequestID   string             `json:"request_id,omitempty"`
	JobID       string             `json:"job_id,omitempty"`
	Success     bool               `json:"success"`
	State       models.State       `json:"state"`
	Termination models.Termination `json:"termination,omitempty"`
	ChartURL    string             `json:"chart_url,omitempty"`
	Error       string             `json:"error,omitempty"`
	Summary     *models.Summary    `json:"summary,omitempty"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// KafkaOutcomePublisher implements OutcomePublisher for Kafka.
type KafkaOutcomePublisher struct {
	producer messageProducer
	topic    string
}

// NewKafkaOutcomePublisher creates the publisher; the producer is closed with it.
func NewKafkaOutcomePublisher(producer messageProducer, topic string) domrepo.OutcomePublisher {
	return &KafkaOutcomePublisher{producer: producer, topic: topic}
}

func (p *KafkaOutcomePublisher) PublishOutcome(ctx context.Context, out *models.Outcome) error {
	if out == nil {
		return fmt.Errorf("outcome is nil")
	}
	key := out.JobID
	if key == "" {
		key = out.RequestID
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(key), NewOutcomeEvent(out)); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

func (p *KafkaOutcomePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func NewOutcomeEvent(out *models.Outcome) OutcomeEvent {
	ev := OutcomeEvent{
		RequestID:   out.RequestID,
		JobID:       out.JobID,
		Success:     out.Success,
		State:       out.State,
		Termination: out.Termination,
		ChartURL:    out.ChartURL,
		Error:       out.Error,
		FinishedAt:  out.FinishedAt,
	}
	if out.Result != nil {
		s := out.Result.Summary
		ev.Summary = &s
	}
	return ev
}
