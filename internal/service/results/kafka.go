package results

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	pkgkafka "QuantGate/pkg/kafka"
)

// KafkaConfig selects the shared results topic.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Partition int
	MinBytes  int
	MaxBytes  int
	// Lookback is how far before the subscribe call the reader starts, so
	// fragments produced right after submission are not lost.
	Lookback time.Duration
}

// NewKafkaSubscriber streams fragments from a shared topic keyed by job id.
// The per-job topic name is only used for logging.
func NewKafkaSubscriber(cfg KafkaConfig, opts ...Option) *Subscriber {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * time.Second
	}
	dial := func(ctx context.Context, jobID string, _ string) (source, error) {
		r, err := pkgkafka.NewReader(
			pkgkafka.WithReaderBrokers(cfg.Brokers),
			pkgkafka.WithReaderTopic(cfg.Topic, cfg.Partition),
			pkgkafka.WithReaderFetch(cfg.MinBytes, cfg.MaxBytes),
		)
		if err != nil {
			return nil, err
		}
		return openKafkaSource(ctx, r, jobID, time.Now().Add(-cfg.Lookback))
	}
	return newSubscriber("kafka", dial, opts...)
}

// recordReader is the subset of pkg/kafka.Reader a source needs.
type recordReader interface {
	SeekTime(ctx context.Context, t time.Time) error
	Fetch(ctx context.Context) (pkgkafka.Record, error)
	Close() error
}

type kafkaSource struct {
	reader recordReader
	jobID  []byte
}

// openKafkaSource positions r at since. r is closed when seeking fails.
func openKafkaSource(ctx context.Context, r recordReader, jobID string, since time.Time) (*kafkaSource, error) {
	if err := r.SeekTime(ctx, since); err != nil {
		_ = r.Close()
		return nil, err
	}
	return &kafkaSource{reader: r, jobID: []byte(jobID)}, nil
}

func (k *kafkaSource) next(ctx context.Context) ([]byte, error) {
	for {
		rec, err := k.reader.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(rec.Key) > 0 {
			if bytes.Equal(rec.Key, k.jobID) {
				return rec.Value, nil
			}
			continue
		}
		if peekJobID(rec.Value) == string(k.jobID) {
			return rec.Value, nil
		}
	}
}

func (k *kafkaSource) close() error {
	return k.reader.Close()
}

// peekJobID reads only job_id from an unkeyed record.
func peekJobID(value []byte) string {
	var head struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		// let the decoder report it
		return ""
	}
	return head.JobID
}
