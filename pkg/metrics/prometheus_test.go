package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordRun("success")
	r.RecordRun("success")
	r.RecordFragment("trade", "duplicate")
	r.RecordReconnect("redis")

	if got := testutil.ToFloat64(r.runsTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.fragmentsTotal.WithLabelValues("trade", "duplicate")); got != 1 {
		t.Fatalf("fragments = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg, "quantgate_subscription_reconnects_total"); err != nil || n != 1 {
		t.Fatalf("reconnect series = %d (%v), want 1", n, err)
	}
}
