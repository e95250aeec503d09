// Package queue is a Redis list backed job queue with delayed retries and
// a dead letter list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	// Handle receives the raw JSON payload; decode it with ParsePayload.
	// A returned error schedules a retry until the retry limit is hit.
	Handle(ctx context.Context, payload interface{}) error
}

// Config tunes the consumer side.
type Config struct {
	Workers      int
	RetryLimit   int
	RetryDelay   time.Duration
	RetryPollInt time.Duration // how often due retries are moved back
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParsePayload decodes a handler payload into T.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var raw []byte
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("invalid payload type %T: %w", payload, err)
		}
		raw = b
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &out, nil
}
