package results

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisSubscriber streams fragments over Redis pub/sub. pollInterval
// bounds how long a receive blocks before cancellation is checked.
func NewRedisSubscriber(client *redis.Client, pollInterval time.Duration, opts ...Option) *Subscriber {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	dial := func(ctx context.Context, _ string, topic string) (source, error) {
		ps := client.Subscribe(ctx, topic)
		// wait for the subscription confirmation so no message published
		// after Subscribe returns is missed
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
		}
		return &redisSource{ps: ps, poll: pollInterval}, nil
	}
	return newSubscriber("redis", dial, opts...)
}

type redisSource struct {
	ps   *redis.PubSub
	poll time.Duration
}

func (r *redisSource) next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := r.ps.ReceiveTimeout(ctx, r.poll)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, err
		}
		switch m := msg.(type) {
		case *redis.Message:
			return []byte(m.Payload), nil
		case *redis.Subscription:
			if m.Kind == "unsubscribe" {
				return nil, fmt.Errorf("redis: unsubscribed from %s", m.Channel)
			}
		case *redis.Pong:
		}
	}
}

func (r *redisSource) close() error {
	return r.ps.Close()
}
