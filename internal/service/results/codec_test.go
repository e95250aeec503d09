package results

import (
	"errors"
	"testing"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFragment_Kinds(t *testing.T) {
	f, err := DecodeFragment([]byte(`{"job_id":"abc123","seq":1,"kind":"trade","payload":{"time":"2024-01-02T09:30:00Z","symbol":"600519.SH","side":"BUY","price":1700.5,"size":100}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Trade)
	assert.Equal(t, models.KindTrade, f.Kind)
	assert.Equal(t, "buy", f.Trade.Side)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), f.Trade.Time)

	f, err = DecodeFragment([]byte(`{"job_id":"abc123","seq":2,"kind":"equity_point","payload":{"time":1704187800000,"value":100250}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Equity)
	assert.Equal(t, int64(1704187800), f.Equity.Time.Unix())
	assert.Equal(t, 100250.0, f.Equity.Value)

	f, err = DecodeFragment([]byte(`{"job_id":"abc123","seq":3,"kind":"done"}`))
	require.NoError(t, err)
	require.NotNil(t, f.Done)
	assert.Nil(t, f.Done.FinalValue)

	f, err = DecodeFragment([]byte(`{"job_id":"abc123","seq":4,"kind":"error","payload":{"code":"E_DATA","message":"no bars"}}`))
	require.NoError(t, err)
	assert.Equal(t, "no bars", f.Error.Message)
	assert.True(t, f.Kind.Terminal())
}

func TestDecodeFragment_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing job":     `{"seq":1,"kind":"log","payload":{"message":"x"}}`,
		"missing seq":     `{"job_id":"a","kind":"log","payload":{"message":"x"}}`,
		"negative seq":    `{"job_id":"a","seq":-2,"kind":"log","payload":{"message":"x"}}`,
		"unknown kind":    `{"job_id":"a","seq":1,"kind":"candle","payload":{}}`,
		"trade no price":  `{"job_id":"a","seq":1,"kind":"trade","payload":{"size":1}}`,
		"equity no value": `{"job_id":"a","seq":1,"kind":"equity_point","payload":{"time":"2024-01-02"}}`,
		"bad time":        `{"job_id":"a","seq":1,"kind":"equity_point","payload":{"time":"yesterday","value":1}}`,
		"no payload":      `{"job_id":"a","seq":1,"kind":"position"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFragment([]byte(raw))
			var mf *errs.MalformedFragmentError
			require.True(t, errors.As(err, &mf), "got %v", err)
		})
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "backtest/results/abc123", Topic("", "abc123"))
	assert.Equal(t, "jobs/abc123", Topic("jobs/", "abc123"))
}

func TestSubscriptionLostFragment(t *testing.T) {
	f := subscriptionLost("j1", errors.New("eof"))
	assert.Equal(t, int64(-1), f.Seq)
	assert.True(t, f.Local)
	assert.Equal(t, models.ErrorCodeSubscriptionLost, f.Error.Code)
	assert.Contains(t, f.Error.Message, "eof")
}
