package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoPayload struct {
	RequestID string `json:"request_id"`
	Symbol    string `json:"symbol"`
}

type recordingJob struct {
	got      chan echoPayload
	failures int32
	hits     atomic.Int32
}

func (j *recordingJob) Name() string { return "recording" }
func (j *recordingJob) Type() string { return "backtest.run" }

func (j *recordingJob) Handle(_ context.Context, payload interface{}) error {
	if j.hits.Add(1) <= j.failures {
		return errors.New("executor busy")
	}
	p, err := ParsePayload[echoPayload](payload)
	if err != nil {
		return err
	}
	j.got <- *p
	return nil
}

func newTestQueue(t *testing.T, job Job, cfg Config) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(nil, cfg, client, WithKeyPrefix("test:queue"))
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func TestRedisQueue_EnqueueAndHandle(t *testing.T) {
	job := &recordingJob{got: make(chan echoPayload, 1)}
	q := newTestQueue(t, job, Config{Workers: 1})

	id, err := q.Enqueue(context.Background(), "backtest.run", echoPayload{RequestID: "r1", Symbol: "600000.SH"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case p := <-job.got:
		assert.Equal(t, echoPayload{RequestID: "r1", Symbol: "600000.SH"}, p)
	case <-time.After(5 * time.Second):
		t.Fatal("job not handled")
	}
}

func TestRedisQueue_UnknownType(t *testing.T) {
	q := newTestQueue(t, &recordingJob{got: make(chan echoPayload, 1)}, Config{Workers: 1})
	_, err := q.Enqueue(context.Background(), "other", echoPayload{})
	assert.Error(t, err)
}

func TestRedisQueue_RetriesThenSucceeds(t *testing.T) {
	job := &recordingJob{got: make(chan echoPayload, 1), failures: 1}
	q := newTestQueue(t, job, Config{Workers: 1, RetryLimit: 2, RetryDelay: 10 * time.Millisecond, RetryPollInt: 20 * time.Millisecond})

	_, err := q.Enqueue(context.Background(), "backtest.run", echoPayload{RequestID: "r3"})
	require.NoError(t, err)

	select {
	case p := <-job.got:
		assert.Equal(t, "r3", p.RequestID)
	case <-time.After(5 * time.Second):
		t.Fatalf("retry never delivered, hits=%d", job.hits.Load())
	}
	assert.Equal(t, int32(2), job.hits.Load())
}

func TestRedisQueue_DeadLetterAfterRetries(t *testing.T) {
	job := &recordingJob{got: make(chan echoPayload, 1), failures: 100}
	q := newTestQueue(t, job, Config{Workers: 1, RetryLimit: 0})

	_, err := q.Enqueue(context.Background(), "backtest.run", echoPayload{RequestID: "r2"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := q.DeadLetters(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload[echoPayload](json.RawMessage(`{"request_id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", p.RequestID)

	p, err = ParsePayload[echoPayload]([]byte(`{"symbol":"y"}`))
	require.NoError(t, err)
	assert.Equal(t, "y", p.Symbol)

	p, err = ParsePayload[echoPayload](map[string]interface{}{"request_id": "z"})
	require.NoError(t, err)
	assert.Equal(t, "z", p.RequestID)

	_, err = ParsePayload[echoPayload](json.RawMessage(`{`))
	assert.Error(t, err)
}
