// Package results streams result fragments for a submitted job from the
// executor's pub/sub channel.
package results

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/internal/domain/repository"
	"QuantGate/pkg/logger"
	"QuantGate/pkg/metrics"
	"QuantGate/pkg/util"
)

const DefaultTopicPrefix = "backtest/results"

// Topic returns the per-job channel name.
func Topic(prefix, jobID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return strings.TrimRight(prefix, "/") + "/" + jobID
}

// source is one live transport connection for one job.
type source interface {
	// next blocks until a raw message arrives, ctx is done or the
	// connection fails.
	next(ctx context.Context) ([]byte, error)
	close() error
}

type dialFunc func(ctx context.Context, jobID, topic string) (source, error)

// Option configures Subscriber.
type Option func(*Subscriber)

// WithTopicPrefix sets the channel prefix.
func WithTopicPrefix(prefix string) Option {
	return func(s *Subscriber) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithReconnect sets the consecutive failure budget and backoff range.
func WithReconnect(maxAttempts int, min, max time.Duration) Option {
	return func(s *Subscriber) {
		if maxAttempts >= 0 {
			s.maxReconnects = maxAttempts
		}
		if min > 0 {
			s.backoffMin = min
		}
		if max > 0 {
			s.backoffMax = max
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m repository.Metrics) Option {
	return func(s *Subscriber) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBuffer sets the fragment channel capacity.
func WithBuffer(n int) Option {
	return func(s *Subscriber) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Subscriber implements repository.ResultSubscriber on top of one transport.
type Subscriber struct {
	transport     string
	dial          dialFunc
	prefix        string
	maxReconnects int
	backoffMin    time.Duration
	backoffMax    time.Duration
	buffer        int
	logger        *logger.Logger
	metrics       repository.Metrics
}

func newSubscriber(transport string, dial dialFunc, opts ...Option) *Subscriber {
	s := &Subscriber{
		transport:     transport,
		dial:          dial,
		prefix:        DefaultTopicPrefix,
		maxReconnects: 5,
		backoffMin:    200 * time.Millisecond,
		backoffMax:    5 * time.Second,
		buffer:        64,
		logger:        logger.Nop(),
		metrics:       metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.String("transport", transport))
	return s
}

// Transport names the underlying broker.
func (s *Subscriber) Transport() string { return s.transport }

// Subscribe opens the job's channel. It retries the initial connection
// within the reconnect budget and returns *errs.SubscriptionError when the
// broker stays unreachable. Later disconnects never surface as errors: the
// stream ends with a synthetic error fragment instead. After a terminal
// fragment the stream keeps forwarding until Close or ctx is done.
func (s *Subscriber) Subscribe(ctx context.Context, jobID string) (repository.FragmentStream, error) {
	if jobID == "" {
		return nil, errors.New("subscribe: empty job id")
	}
	topic := Topic(s.prefix, jobID)
	l := s.logger.With(logger.String("job_id", jobID), logger.String("topic", topic))

	// the source lives as long as the stream, so dial under the stream ctx
	sctx, cancel := context.WithCancel(ctx)

	var (
		src     source
		lastErr error
	)
	for attempt := 0; attempt <= s.maxReconnects; attempt++ {
		if attempt > 0 {
			s.metrics.RecordReconnect(s.transport)
			if err := util.Sleep(sctx, util.BackoffWithJitter(s.backoffMin, s.backoffMax, attempt)); err != nil {
				cancel()
				return nil, &errs.SubscriptionError{Transport: s.transport, Attempts: attempt, Err: err}
			}
		}
		src, lastErr = s.dial(sctx, jobID, topic)
		if lastErr == nil {
			break
		}
		l.Warn("subscribe attempt failed", logger.Int("attempt", attempt+1), logger.Error(lastErr))
	}
	if lastErr != nil {
		cancel()
		s.metrics.RecordError("subscription")
		return nil, &errs.SubscriptionError{Transport: s.transport, Attempts: s.maxReconnects + 1, Err: lastErr}
	}

	st := &stream{
		sub:    s,
		jobID:  jobID,
		topic:  topic,
		out:    make(chan models.ResultFragment, s.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
		logger: l,
	}
	go st.run(sctx, src)
	l.Info("subscribed")
	return st, nil
}

type stream struct {
	sub       *Subscriber
	jobID     string
	topic     string
	out       chan models.ResultFragment
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *logger.Logger
}

func (st *stream) Fragments() <-chan models.ResultFragment { return st.out }

// Close cancels the reader and waits until it released the connection.
func (st *stream) Close() error {
	st.closeOnce.Do(st.cancel)
	<-st.done
	return nil
}

func (st *stream) run(ctx context.Context, src source) {
	defer close(st.done)
	defer close(st.out)

	s := st.sub
	failures := 0
	var lastErr error
	// late fragments keep flowing after a terminal one until Close
	terminated := false

	defer func() {
		if src != nil {
			_ = src.close()
		}
	}()

	for {
		if src == nil {
			s.metrics.RecordReconnect(s.transport)
			if err := util.Sleep(ctx, util.BackoffWithJitter(s.backoffMin, s.backoffMax, failures)); err != nil {
				return
			}
			var err error
			if src, err = s.dial(ctx, st.jobID, st.topic); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				lastErr = err
				st.logger.Warn("reconnect failed", logger.Int("attempt", failures), logger.Error(err))
				if failures > s.maxReconnects {
					st.giveUp(ctx, failures, lastErr)
					return
				}
				continue
			}
			st.logger.Info("reconnected", logger.Int("attempt", failures))
		}

		data, err := src.next(ctx)
		if err != nil {
			_ = src.close()
			src = nil
			if ctx.Err() != nil || terminated {
				return
			}
			failures++
			lastErr = err
			st.logger.Warn("connection lost", logger.Int("attempt", failures), logger.Error(err))
			if failures > s.maxReconnects {
				st.giveUp(ctx, failures, lastErr)
				return
			}
			continue
		}
		failures = 0

		f, err := DecodeFragment(data)
		if err != nil {
			s.metrics.RecordFragment("unknown", "malformed")
			st.logger.Warn("dropping malformed fragment", logger.Error(err))
			continue
		}
		if f.JobID != st.jobID {
			s.metrics.RecordFragment(string(f.Kind), "foreign")
			continue
		}
		if !st.emit(ctx, f) {
			return
		}
		if f.Kind.Terminal() && !terminated {
			terminated = true
			st.logger.Debug("terminal fragment forwarded", logger.Int64("seq", f.Seq), logger.String("kind", string(f.Kind)))
		}
	}
}

func (st *stream) emit(ctx context.Context, f models.ResultFragment) bool {
	select {
	case st.out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func (st *stream) giveUp(ctx context.Context, attempts int, err error) {
	st.sub.metrics.RecordError("subscription_lost")
	st.logger.Error("reconnect budget exhausted", logger.Int("attempts", attempts), logger.Error(err))
	st.emit(ctx, subscriptionLost(st.jobID, fmt.Errorf("%s after %d attempts: %w", st.sub.transport, attempts, err)))
}
