package main

import (
	"os"
	"path/filepath"
	"testing"

	"QuantGate/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags([]string{"--strategy_id", "s1"})
	require.NoError(t, err)

	assert.Equal(t, 200000.0, o.req.Capital)
	assert.Equal(t, 500.0, o.req.OrderSize)
	assert.Equal(t, "1d", o.req.Resolution)
	assert.Equal(t, "post", o.req.FQ)
	assert.Equal(t, 0.0003, o.req.Commission)
	assert.Equal(t, 0.05, o.req.Margin)
	assert.Equal(t, 0.01, o.req.RiskFree)
	assert.Equal(t, 1, o.req.Pyramiding)
	assert.Equal(t, 60, o.req.ListenTime)
	assert.False(t, o.req.OpenChart)
	assert.Nil(t, o.req.Code)
}

func TestParseFlagsScenario(t *testing.T) {
	o, err := parseFlags([]string{
		"--strategy_id", "s1", "--capital", "100000", "--resolution", "15min", "--fq", "pre", "--open_chart",
	})
	require.NoError(t, err)
	assert.Equal(t, 100000.0, o.req.Capital)
	assert.Equal(t, "15m", o.req.Resolution)

	job := o.req.Job()
	assert.Equal(t, models.Res15m, job.Params.Resolution)
	assert.Equal(t, models.FQPre, job.Params.FQ)
	assert.True(t, o.req.OpenChart)
}

func TestParseFlagsReadsCodeFiles(t *testing.T) {
	dir := t.TempDir()
	timing := filepath.Join(dir, "timing.txt")
	require.NoError(t, os.WriteFile(timing, []byte("CROSS(MA(C,5),MA(C,20))"), 0o644))

	o, err := parseFlags([]string{"--timing_file", timing})
	require.NoError(t, err)
	require.NotNil(t, o.req.Code)
	assert.Equal(t, "CROSS(MA(C,5),MA(C,20))", o.req.Code.Timing)
	assert.Empty(t, o.req.Code.Indicators)

	_, err = parseFlags([]string{"--indicators_file", filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestOpenerCommand(t *testing.T) {
	name, args := openerCommand("darwin", "http://x/c.html")
	assert.Equal(t, "open", name)
	assert.Equal(t, []string{"http://x/c.html"}, args)

	name, _ = openerCommand("linux", "file:///tmp/c.html")
	assert.Equal(t, "xdg-open", name)

	name, args = openerCommand("windows", "http://x")
	assert.Equal(t, "rundll32", name)
	assert.Len(t, args, 2)
}
