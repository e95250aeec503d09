package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Record is a message fetched by Reader.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Reader reads one partition without a consumer group, so callers can
// position it by time. Offsets are never committed.
type Reader struct {
	reader *kafka.Reader
	topic  string
}

// NewReader creates a partition reader.
func NewReader(opts ...ReaderOption) (*Reader, error) {
	cfg := &ReaderConfig{
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: cfg.Partition,
		MinBytes:  cfg.MinBytes,
		MaxBytes:  cfg.MaxBytes,
		MaxWait:   cfg.MaxWait,
	})

	initReaderMetricsOnce()
	return &Reader{reader: r, topic: cfg.Topic}, nil
}

// SeekTime moves the reader to the first offset at or after t.
func (r *Reader) SeekTime(ctx context.Context, t time.Time) error {
	if err := r.reader.SetOffsetAt(ctx, t); err != nil {
		return fmt.Errorf("set offset at %s: %w", t.Format(time.RFC3339), err)
	}
	return nil
}

// Fetch blocks until the next message arrives or ctx is done.
func (r *Reader) Fetch(ctx context.Context) (Record, error) {
	m, err := r.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			readerErrsTotal.WithLabelValues(r.topic).Inc()
		}
		return Record{}, err
	}
	readerMsgsTotal.WithLabelValues(r.topic).Inc()
	return Record{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}, nil
}

// Close releases the broker connection.
func (r *Reader) Close() error {
	return r.reader.Close()
}

var (
	readerMsgsTotal *prometheus.CounterVec
	readerErrsTotal *prometheus.CounterVec
	readerOnce      sync.Once
)

func initReaderMetricsOnce() {
	readerOnce.Do(func() {
		readerMsgsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantgate_kafka_reader_messages_total",
				Help: "Total messages fetched from Kafka",
			},
			[]string{"topic"},
		)
		readerErrsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantgate_kafka_reader_errors_total",
				Help: "Total reader fetch errors",
			},
			[]string{"topic"},
		)
	})
}
