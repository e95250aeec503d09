package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"QuantGate/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQueries(t *testing.T) {
	ins := insertRunQuery("runs")
	assert.True(t, strings.HasPrefix(ins, "INSERT INTO runs (job_id, strategy_id"))
	assert.Equal(t, len(runColumns), strings.Count(ins, "?"))

	sel := recentRunsQuery("runs")
	assert.Contains(t, sel, "FROM runs ORDER BY finished_at DESC LIMIT ?")

	assert.Contains(t, RunSchema("runs")[0], "CREATE TABLE IF NOT EXISTS runs")
}

func TestRunArgsMatchColumns(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	args := runArgs(models.RunRecord{
		JobID:       "abc123",
		Success:     true,
		Termination: models.TerminatedTerminal,
		TradeCount:  3,
		ChartMode:   models.ModeNginx,
		FinishedAt:  now,
	})
	require.Len(t, args, len(runColumns))
	assert.Equal(t, "abc123", args[0])
	assert.Equal(t, uint8(1), args[4])
	assert.Equal(t, uint8(0), args[5])
	assert.Equal(t, "terminal", args[6])
	assert.Equal(t, uint32(3), args[9])
	assert.Equal(t, "nginx", args[11])
	assert.Equal(t, now, args[14])
}

type fakeProducer struct {
	topic  string
	key    string
	value  interface{}
	err    error
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic, f.key, f.value = topic, string(key), value
	return f.err
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaOutcomePublisher(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewKafkaOutcomePublisher(fp, "backtest.outcomes")

	out := &models.Outcome{
		RequestID: "r1",
		JobID:     "abc123",
		Success:   true,
		State:     models.StateDone,
		ChartURL:  "http://example.com/x.html",
		Result:    &models.AggregatedResult{Summary: models.Summary{FinalValue: 101250}},
	}
	require.NoError(t, pub.PublishOutcome(context.Background(), out))
	assert.Equal(t, "backtest.outcomes", fp.topic)
	assert.Equal(t, "abc123", fp.key)

	ev, ok := fp.value.(OutcomeEvent)
	require.True(t, ok)
	require.NotNil(t, ev.Summary)
	assert.Equal(t, 101250.0, ev.Summary.FinalValue)
	assert.Equal(t, out.ChartURL, ev.ChartURL)

	require.NoError(t, pub.Close())
	assert.True(t, fp.closed)
}

func TestKafkaOutcomePublisher_KeysQueuedByRequestAndWrapsErrors(t *testing.T) {
	fp := &fakeProducer{err: errors.New("leader not available")}
	pub := NewKafkaOutcomePublisher(fp, "t")

	err := pub.PublishOutcome(context.Background(), &models.Outcome{RequestID: "r9"})
	assert.ErrorIs(t, err, fp.err)
	assert.Equal(t, "r9", fp.key)
	assert.Error(t, pub.PublishOutcome(context.Background(), nil))
}
