// Package chart renders an aggregated backtest result into a single
// self-contained HTML document.
package chart

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/pkg/logger"
	"QuantGate/pkg/util"
)

//go:embed templates/report.html.tmpl
var reportTemplate string

var report = template.Must(template.New("report").Parse(reportTemplate))

const (
	chartWidth  = 800
	chartHeight = 240
	chartPad    = 18
	maxSuffix   = 1000
)

// Option configures Renderer.
type Option func(*Renderer)

// WithClock injects the time source used for file names and the header.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithLimits caps the trade rows and log lines rendered.
func WithLimits(trades, logs int) Option {
	return func(r *Renderer) {
		if trades > 0 {
			r.maxTrades = trades
		}
		if logs > 0 {
			r.maxLogs = logs
		}
	}
}

// Renderer implements repository.ChartRenderer.
type Renderer struct {
	now       func() time.Time
	logger    *logger.Logger
	maxTrades int
	maxLogs   int
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		now:       time.Now,
		logger:    logger.Nop(),
		maxTrades: 500,
		maxLogs:   200,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes backtest_<job>_<stamp>.html into outDir and returns its
// absolute path. Existing files are never overwritten.
func (r *Renderer) Render(result models.AggregatedResult, outDir string) (string, error) {
	now := r.now()

	var buf bytes.Buffer
	if err := report.Execute(&buf, r.view(result, now)); err != nil {
		return "", &errs.RenderError{Result: result, Err: fmt.Errorf("execute template: %w", err)}
	}

	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", &errs.RenderError{Result: result, Err: fmt.Errorf("create charts dir: %w", err)}
	}

	base := fmt.Sprintf("backtest_%s_%s", util.SafeFileComponent(result.JobID), util.CompactStamp(now))
	path, f, err := createExclusive(outDir, base)
	if err != nil {
		return "", &errs.RenderError{Result: result, Err: err}
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", &errs.RenderError{Result: result, Err: fmt.Errorf("write %s: %w", path, err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", &errs.RenderError{Result: result, Err: fmt.Errorf("close %s: %w", path, err)}
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	r.logger.Info("chart rendered",
		logger.String("job_id", result.JobID),
		logger.String("status", result.Status()),
		logger.String("path", path),
		logger.Int("bytes", buf.Len()))
	return path, nil
}

// createExclusive opens base.html, then base_1.html, base_2.html, ...
func createExclusive(dir, base string) (string, *os.File, error) {
	for i := 0; i < maxSuffix; i++ {
		name := base + ".html"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.html", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, fmt.Errorf("create %s: %w", path, err)
		}
	}
	return "", nil, fmt.Errorf("no free file name for %s in %s", base, dir)
}

type row struct {
	Label string
	Value string
}

type tradeRow struct {
	Time   string
	Symbol string
	Side   string
	Price  string
	Size   string
}

type positionRow struct {
	Time     string
	Symbol   string
	Size     string
	AvgPrice string
}

type chartView struct {
	Width        int
	Height       int
	Points       string
	HasBaseline  bool
	BaselineY    string
	MaxLabel     string
	MinLabel     string
	BottomLabelY int
}

type reportView struct {
	JobID           string
	Resolution      string
	GeneratedAt     string
	Status          string
	Error           string
	Termination     string
	Chart           chartView
	Summary         []row
	TradeCount      int
	Trades          []tradeRow
	TradesTruncated bool
	Positions       []positionRow
	Logs            []string
}

func (r *Renderer) view(res models.AggregatedResult, now time.Time) reportView {
	v := reportView{
		JobID:       res.JobID,
		Resolution:  string(res.Resolution),
		GeneratedAt: now.Format("2006-01-02 15:04:05 MST"),
		Status:      res.Status(),
		Error:       res.Error,
		Termination: string(res.Termination),
		Chart:       equityChart(res.Equity, res.Summary.InitialCapital),
		TradeCount:  len(res.Trades),
	}
	if v.Resolution == "" {
		v.Resolution = "n/a"
	}

	s := res.Summary
	v.Summary = []row{
		{"Initial capital", money(s.InitialCapital)},
		{"Final value", money(s.FinalValue)},
		{"Total return", pct(s.TotalReturn)},
		{"Max drawdown", pct(s.MaxDrawdown)},
		{"Volatility (ann.)", pct(s.Volatility)},
		{"Sharpe", num(s.Sharpe, 2)},
		{"Trades", strconv.Itoa(s.TradeCount)},
		{"Open positions", strconv.Itoa(s.PositionCount)},
	}

	trades := res.Trades
	if len(trades) > r.maxTrades {
		trades = trades[len(trades)-r.maxTrades:]
		v.TradesTruncated = true
	}
	for _, t := range trades {
		v.Trades = append(v.Trades, tradeRow{
			Time:   stamp(t.Time),
			Symbol: t.Symbol,
			Side:   t.Side,
			Price:  num(t.Price, 4),
			Size:   num(t.Size, 2),
		})
	}

	for _, p := range latestPositions(res.Positions) {
		v.Positions = append(v.Positions, positionRow{
			Time:     stamp(p.Time),
			Symbol:   p.Symbol,
			Size:     num(p.Size, 2),
			AvgPrice: num(p.AvgPrice, 4),
		})
	}

	logs := res.Logs
	if len(logs) > r.maxLogs {
		logs = logs[len(logs)-r.maxLogs:]
	}
	for _, l := range logs {
		line := l.Message
		if l.Level != "" {
			line = strings.ToUpper(l.Level) + " " + line
		}
		if !l.Time.IsZero() {
			line = stamp(l.Time) + " " + line
		}
		v.Logs = append(v.Logs, line)
	}
	return v
}

// latestPositions keeps the last update per symbol with a non-zero size,
// ordered by symbol.
func latestPositions(ps []models.Position) []models.Position {
	last := map[string]models.Position{}
	for _, p := range ps {
		last[p.Symbol] = p
	}
	out := make([]models.Position, 0, len(last))
	for _, p := range last {
		if p.Size != 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func equityChart(points []models.EquityPoint, baseline float64) chartView {
	cv := chartView{Width: chartWidth, Height: chartHeight, BottomLabelY: chartHeight - 4}
	if len(points) == 0 {
		return cv
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	if baseline > 0 {
		lo = math.Min(lo, baseline)
		hi = math.Max(hi, baseline)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	y := func(v float64) float64 {
		return chartPad + (hi-v)/span*float64(chartHeight-2*chartPad)
	}

	step := 0.0
	if len(points) > 1 {
		step = float64(chartWidth-2*chartPad) / float64(len(points)-1)
	}
	var sb strings.Builder
	for i, p := range points {
		if i > 0 {
			sb.WriteByte(' ')
		}
		x := chartPad + step*float64(i)
		sb.WriteString(strconv.FormatFloat(x, 'f', 1, 64))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(y(p.Value), 'f', 1, 64))
	}
	if len(points) == 1 {
		// a single point still draws a visible segment
		sb.WriteString(fmt.Sprintf(" %d,%s", chartWidth-chartPad, strconv.FormatFloat(y(points[0].Value), 'f', 1, 64)))
	}

	cv.Points = sb.String()
	cv.MaxLabel = money(hi)
	cv.MinLabel = money(lo)
	if baseline > 0 {
		cv.HasBaseline = true
		cv.BaselineY = strconv.FormatFloat(y(baseline), 'f', 1, 64)
	}
	return cv
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func pct(v float64) string { return strconv.FormatFloat(v*100, 'f', 2, 64) + "%" }

func num(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }
