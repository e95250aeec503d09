package usecase

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/internal/domain/repository"
	"QuantGate/internal/service/chart"
	"QuantGate/internal/service/resolver"
	"QuantGate/internal/service/results"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	ids   []string
	errs  []error
	calls atomic.Int32
}

func (f *fakeSubmitter) Submit(context.Context, models.BacktestJob) (string, error) {
	i := int(f.calls.Add(1)) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.ids) {
		return f.ids[i], nil
	}
	return f.ids[len(f.ids)-1], nil
}

type fakeStream struct {
	ch     chan models.ResultFragment
	closed atomic.Bool
}

func (s *fakeStream) Fragments() <-chan models.ResultFragment { return s.ch }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeSubscriber feeds the given fragments; it closes the channel when
// endStream is set and otherwise leaves the stream open.
type fakeSubscriber struct {
	frags     []models.ResultFragment
	endStream bool
	err       error
	stream    *fakeStream
	gotJobID  string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, jobID string) (repository.FragmentStream, error) {
	f.gotJobID = jobID
	if f.err != nil {
		return nil, f.err
	}
	st := &fakeStream{ch: make(chan models.ResultFragment, len(f.frags)+1)}
	for _, fr := range f.frags {
		st.ch <- fr
	}
	if f.endStream {
		close(st.ch)
	}
	f.stream = st
	return st, nil
}

type failingRenderer struct{}

func (failingRenderer) Render(models.AggregatedResult, string) (string, error) {
	return "", errors.New("disk full")
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, models.ResolverConfig) (models.ChartArtifact, error) {
	return models.ChartArtifact{}, errors.New("no route")
}

type memoryStore struct {
	mu   sync.Mutex
	recs []models.RunRecord
}

func (m *memoryStore) Save(_ context.Context, r models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memoryStore) Recent(context.Context, int) ([]models.RunRecord, error) { return m.recs, nil }
func (m *memoryStore) Close() error                                           { return nil }

type recordingPublisher struct{ outcomes []*models.Outcome }

func (p *recordingPublisher) PublishOutcome(_ context.Context, o *models.Outcome) error {
	p.outcomes = append(p.outcomes, o)
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

var clock = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newOrchestrator(t *testing.T, sub repository.JobSubmitter, rs repository.ResultSubscriber, cfg OrchestratorConfig, opts ...OrchestratorOption) *BacktestOrchestrator {
	t.Helper()
	if cfg.ChartsDir == "" {
		cfg.ChartsDir = t.TempDir()
	}
	if cfg.ListenTime == 0 {
		cfg.ListenTime = 2 * time.Second
	}
	renderer := chart.NewRenderer(chart.WithClock(func() time.Time { return clock }))
	return NewBacktestOrchestrator(sub, rs, renderer, resolver.NewResolver(nil, nil), cfg, opts...)
}

func TestRun_Abc123Scenario(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubscriber{frags: []models.ResultFragment{
		tradeFrag("abc123", 1, 10.5),
		equityFrag("abc123", 2, 101250),
		doneFrag("abc123", 3, nil),
	}}
	store := &memoryStore{}
	pub := &recordingPublisher{}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"abc123"}}, sub, OrchestratorConfig{
		ChartsDir: dir,
		Resolver: models.ResolverConfig{
			ChartsDir: dir,
			Proxy:     models.ProxyConfig{Enabled: true, Host: "example.com", Port: 80},
		},
	}, WithRunStore(store), WithOutcomePublisher(pub))

	job := testJob("")
	job.Params.Capital = 100000
	job.Params.Resolution = models.Res15m
	job.Params.FQ = models.FQPre

	out, err := o.Run(context.Background(), job, WithRequestID("req-1"))
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Empty(t, out.Error)
	assert.Equal(t, "abc123", out.JobID)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, models.StateDone, out.State)
	assert.Equal(t, "http://example.com/backtest_abc123_20240506_070809.html", out.ChartURL)
	assert.Equal(t, models.ModeNginx, out.Artifact.Mode)
	assert.FileExists(t, out.Artifact.LocalPath)

	require.NotNil(t, out.Result)
	assert.Len(t, out.Result.Trades, 1)
	assert.Len(t, out.Result.Equity, 1)
	assert.Equal(t, 101250.0, out.Result.Summary.FinalValue)
	assert.True(t, sub.stream.closed.Load(), "stream must be closed")
	assert.Equal(t, "abc123", sub.gotJobID)

	require.Len(t, store.recs, 1)
	assert.Equal(t, "abc123", store.recs[0].JobID)
	assert.Equal(t, out.ChartURL, store.recs[0].ChartURL)
	require.Len(t, pub.outcomes, 1)
}

func TestRun_TimeoutIsBoundedAndStillCharts(t *testing.T) {
	sub := &fakeSubscriber{frags: []models.ResultFragment{tradeFrag("j-slow", 1, 10)}}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j-slow"}}, sub, OrchestratorConfig{ListenTime: 150 * time.Millisecond})

	start := time.Now()
	out, err := o.Run(context.Background(), testJob(""))
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Less(t, elapsed, 150*time.Millisecond+time.Second)
	assert.False(t, out.Success)
	assert.False(t, out.Result.Completed)
	assert.Equal(t, models.TerminatedTimeout, out.Termination)
	assert.Equal(t, errs.ErrTimeoutExpired.Error(), out.Error)
	assert.True(t, strings.HasPrefix(out.ChartURL, "file://"))
	assert.Len(t, out.Result.Trades, 1, "partial data is kept")
	assert.True(t, sub.stream.closed.Load())
}

func TestRun_PerRunListenTimeOverride(t *testing.T) {
	sub := &fakeSubscriber{}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j"}}, sub, OrchestratorConfig{ListenTime: time.Hour})

	start := time.Now()
	out, err := o.Run(context.Background(), testJob(""), WithListenTime(50*time.Millisecond))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.TerminatedTimeout, out.Termination)
}

func TestRun_SubscriptionErrorStillCharts(t *testing.T) {
	sub := &fakeSubscriber{err: &errs.SubscriptionError{Transport: "redis", Attempts: 3, Err: errors.New("connection refused")}}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j-sub"}}, sub, OrchestratorConfig{})

	out, err := o.Run(context.Background(), testJob(""))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.ChartURL)
	assert.Contains(t, out.Error, "connection refused")
	assert.Equal(t, models.StateDone, out.State)
}

func TestRun_StreamEndsWithSubscriptionLost(t *testing.T) {
	sub := &fakeSubscriber{endStream: true, frags: []models.ResultFragment{
		equityFrag("j-lost", 1, 100100),
		{JobID: "j-lost", Seq: -1, Kind: models.KindError, Local: true,
			Error: &models.ErrorInfo{Code: models.ErrorCodeSubscriptionLost, Message: "result subscription lost"}},
	}}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j-lost"}}, sub, OrchestratorConfig{})

	out, err := o.Run(context.Background(), testJob(""))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.ChartURL)
	assert.Contains(t, out.Error, models.ErrorCodeSubscriptionLost)
}

func TestRun_ExecutorErrorFragment(t *testing.T) {
	sub := &fakeSubscriber{frags: []models.ResultFragment{errorFrag("j-err", 1, "bad strategy")}}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j-err"}}, sub, OrchestratorConfig{})

	out, err := o.Run(context.Background(), testJob(""))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.True(t, out.Result.Completed)
	assert.Equal(t, "bad strategy", out.Error)
	assert.NotEmpty(t, out.ChartURL)
}

func TestRun_SubmissionFailure(t *testing.T) {
	sub := &fakeSubscriber{}
	submitErr := &errs.SubmissionError{Status: 400, Err: errors.New("bad params")}
	o := newOrchestrator(t, &fakeSubmitter{errs: []error{submitErr}, ids: []string{"never"}}, sub, OrchestratorConfig{SubmitAttempts: 3})

	out, err := o.Run(context.Background(), testJob(""))
	var se *errs.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StateErrored, out.State)
	assert.NotEmpty(t, out.Error)
	assert.Empty(t, out.ChartURL)
	assert.Empty(t, sub.gotJobID, "must not subscribe after a failed submit")
}

func TestRun_RetriesRetryableSubmission(t *testing.T) {
	submitter := &fakeSubmitter{
		errs: []error{&errs.SubmissionError{Status: 503, Retryable: true, Err: errors.New("busy")}},
		ids:  []string{"", "j-retry"},
	}
	sub := &fakeSubscriber{frags: []models.ResultFragment{doneFrag("j-retry", 1, nil)}}
	o := newOrchestrator(t, submitter, sub, OrchestratorConfig{
		SubmitAttempts:   2,
		SubmitBackoffMin: time.Millisecond,
		SubmitBackoffMax: 2 * time.Millisecond,
	})

	out, err := o.Run(context.Background(), testJob(""))
	require.NoError(t, err)
	assert.Equal(t, int32(2), submitter.calls.Load())
	assert.True(t, out.Success)
}

func TestRun_RenderFailureIsHard(t *testing.T) {
	sub := &fakeSubscriber{frags: []models.ResultFragment{tradeFrag("j-r", 1, 10), doneFrag("j-r", 2, nil)}}
	o := NewBacktestOrchestrator(&fakeSubmitter{ids: []string{"j-r"}}, sub, failingRenderer{}, resolver.NewResolver(nil, nil),
		OrchestratorConfig{ListenTime: time.Second})

	out, err := o.Run(context.Background(), testJob(""))
	var re *errs.RenderError
	require.ErrorAs(t, err, &re)
	assert.Len(t, re.Result.Trades, 1, "raw data travels with the error")
	assert.Equal(t, models.StateErrored, out.State)
	assert.NotEmpty(t, out.Error)
	require.NotNil(t, out.Result)
}

func TestRun_ResolverFailureFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubscriber{frags: []models.ResultFragment{doneFrag("j-f", 1, nil)}}
	renderer := chart.NewRenderer(chart.WithClock(func() time.Time { return clock }))
	o := NewBacktestOrchestrator(&fakeSubmitter{ids: []string{"j-f"}}, sub, renderer, failingResolver{},
		OrchestratorConfig{ChartsDir: dir, ListenTime: time.Second})

	out, err := o.Run(context.Background(), testJob(""))
	require.NoError(t, err)
	assert.Equal(t, models.ModeFile, out.Artifact.Mode)
	assert.True(t, strings.HasPrefix(out.ChartURL, "file://"))
	_, statErr := os.Stat(out.Artifact.LocalPath)
	assert.NoError(t, statErr)
}

func TestRun_CallerCancelStillCharts(t *testing.T) {
	sub := &fakeSubscriber{frags: []models.ResultFragment{tradeFrag("j-c", 1, 10)}}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j-c"}}, sub, OrchestratorConfig{ListenTime: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	out, err := o.Run(ctx, testJob(""))
	require.NoError(t, err)
	assert.Equal(t, models.TerminatedCancelled, out.Termination)
	assert.NotEmpty(t, out.ChartURL)
	assert.True(t, sub.stream.closed.Load())
}

func TestRun_TerminalGraceCollectsLateFragments(t *testing.T) {
	sub := &fakeSubscriber{endStream: true, frags: []models.ResultFragment{
		doneFrag("j-g", 3, nil),
		tradeFrag("j-g", 2, 10),
	}}
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j-g"}}, sub, OrchestratorConfig{TerminalGrace: 100 * time.Millisecond})

	out, err := o.Run(context.Background(), testJob(""))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Len(t, out.Result.Trades, 1)
}

func TestRun_TerminalGraceOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := results.NewRedisSubscriber(client, 10*time.Millisecond)
	o := newOrchestrator(t, &fakeSubmitter{ids: []string{"j-late"}}, sub, OrchestratorConfig{
		ListenTime:    5 * time.Second,
		TerminalGrace: 500 * time.Millisecond,
	})

	type runResult struct {
		out *models.Outcome
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		out, err := o.Run(context.Background(), testJob(""))
		done <- runResult{out, err}
	}()

	topic := results.Topic("", "j-late")
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels(topic)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mr.Publish(topic, `{"job_id":"j-late","seq":3,"kind":"done","payload":{"final_value":100010}}`)
	time.Sleep(50 * time.Millisecond)
	mr.Publish(topic, `{"job_id":"j-late","seq":2,"kind":"trade","payload":{"symbol":"X","side":"buy","price":10,"size":1}}`)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, r.out.Success)
		require.NotNil(t, r.out.Result)
		assert.Len(t, r.out.Result.Trades, 1, "trade arriving after done is kept")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}
