package usecase

import (
	"context"
	"errors"
	"sort"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/internal/services/performance"
)

// ResultAggregator collects fragments for one job. The result depends only
// on the set of accepted fragments, so redelivery and reordering do not
// change it.
type ResultAggregator struct {
	job        models.BacktestJob
	seen       map[models.FragmentKey]models.ResultFragment
	terminal   bool
	duplicates int
}

func NewResultAggregator(job models.BacktestJob) *ResultAggregator {
	return &ResultAggregator{
		job:  job,
		seen: make(map[models.FragmentKey]models.ResultFragment),
	}
}

// Add records f and reports whether it was new. Fragments of another job
// are rejected.
func (a *ResultAggregator) Add(f models.ResultFragment) bool {
	if f.JobID != a.job.JobID || !wellFormed(f) {
		return false
	}
	k := f.Key()
	if _, dup := a.seen[k]; dup {
		a.duplicates++
		return false
	}
	a.seen[k] = f
	if f.Kind.Terminal() {
		a.terminal = true
	}
	return true
}

func wellFormed(f models.ResultFragment) bool {
	switch f.Kind {
	case models.KindTrade:
		return f.Trade != nil
	case models.KindPosition:
		return f.Position != nil
	case models.KindEquityPoint:
		return f.Equity != nil
	case models.KindLog:
		return f.Log != nil
	case models.KindDone:
		return f.Done != nil
	case models.KindError:
		return f.Error != nil
	}
	return false
}

// Terminal reports whether a done or error fragment has been accepted.
func (a *ResultAggregator) Terminal() bool { return a.terminal }

// Len is the number of distinct fragments accepted.
func (a *ResultAggregator) Len() int { return len(a.seen) }

// Duplicates counts redelivered fragments that were dropped.
func (a *ResultAggregator) Duplicates() int { return a.duplicates }

// Finalize builds the result. term describes why listening stopped and is
// overridden to terminal when a terminal fragment was seen.
func (a *ResultAggregator) Finalize(term models.Termination) models.AggregatedResult {
	frags := make([]models.ResultFragment, 0, len(a.seen))
	for _, f := range a.seen {
		frags = append(frags, f)
	}
	sort.Slice(frags, func(i, j int) bool { return frags[i].Seq < frags[j].Seq })

	res := models.AggregatedResult{
		JobID:      a.job.JobID,
		Resolution: a.job.Params.Resolution,
		Trades:     []models.Trade{},
		Equity:     []models.EquityPoint{},
	}

	var terminal, localTerminal *models.ResultFragment
	for i := range frags {
		f := &frags[i]
		switch f.Kind {
		case models.KindTrade:
			res.Trades = append(res.Trades, *f.Trade)
		case models.KindPosition:
			res.Positions = append(res.Positions, *f.Position)
		case models.KindEquityPoint:
			res.Equity = append(res.Equity, *f.Equity)
		case models.KindLog:
			res.Logs = append(res.Logs, *f.Log)
		case models.KindDone, models.KindError:
			// lowest seq wins; a locally generated one only counts when
			// the executor never sent its own
			if f.Local {
				if localTerminal == nil {
					localTerminal = f
				}
			} else if terminal == nil {
				terminal = f
			}
		}
	}
	if terminal == nil {
		terminal = localTerminal
	}

	var done *models.DoneInfo
	switch {
	case terminal == nil:
		if term == "" || term == models.TerminatedTerminal {
			term = models.TerminatedStreamEnded
		}
		res.Termination = term
		res.Error = terminationMessage(term)
	case terminal.Kind == models.KindDone:
		res.Termination = models.TerminatedTerminal
		res.Completed = true
		res.Success = true
		done = terminal.Done
	default:
		res.Termination = models.TerminatedTerminal
		res.Completed = true
		res.Error = terminal.Error.Message
		if terminal.Error.Code != "" {
			res.Error = terminal.Error.Code + ": " + res.Error
		}
	}

	res.Summary = summarize(a.job.Params, res, done)
	return res
}

func terminationMessage(term models.Termination) string {
	switch term {
	case models.TerminatedTimeout:
		return errs.ErrTimeoutExpired.Error()
	case models.TerminatedCancelled:
		return "cancelled before a terminal fragment"
	default:
		return "result stream ended before a terminal fragment"
	}
}

func summarize(p models.BacktestParams, res models.AggregatedResult, done *models.DoneInfo) models.Summary {
	values := make([]float64, len(res.Equity))
	for i, e := range res.Equity {
		values[i] = e.Value
	}

	s := models.Summary{
		InitialCapital: p.Capital,
		FinalValue:     p.Capital,
		TradeCount:     len(res.Trades),
		MaxDrawdown:    performance.MaxDrawdown(values),
	}
	if len(values) > 0 {
		s.FinalValue = values[len(values)-1]
	}
	if done != nil {
		if done.FinalValue != nil {
			s.FinalValue = *done.FinalValue
		}
		if done.MaxDrawdown != nil {
			s.MaxDrawdown = *done.MaxDrawdown
		}
	}
	if p.Capital > 0 {
		s.TotalReturn = s.FinalValue/p.Capital - 1
	}

	latest := map[string]float64{}
	for _, pos := range res.Positions {
		latest[pos.Symbol] = pos.Size
	}
	for _, size := range latest {
		if size != 0 {
			s.PositionCount++
		}
	}

	rets := performance.LogReturns(values)
	bpy := performance.BarsPerYear(p.Resolution)
	s.Volatility = performance.Volatility(rets, bpy)
	s.Sharpe = performance.Sharpe(rets, p.RiskFreeRate, bpy)
	return s
}

// Aggregate drains frags until the channel closes, a terminal fragment is
// accepted or ctx is done, then finalizes.
func Aggregate(ctx context.Context, job models.BacktestJob, frags <-chan models.ResultFragment) models.AggregatedResult {
	agg := NewResultAggregator(job)
	term := drain(ctx, agg, frags, nil)
	return agg.Finalize(term)
}

// drain feeds agg from frags and returns why it stopped. onFragment, when
// set, observes every received fragment and whether it was accepted.
func drain(ctx context.Context, agg *ResultAggregator, frags <-chan models.ResultFragment, onFragment func(models.ResultFragment, bool)) models.Termination {
	for {
		select {
		case <-ctx.Done():
			return ctxTermination(ctx)
		case f, ok := <-frags:
			if !ok {
				return models.TerminatedStreamEnded
			}
			// select picks at random when both are ready
			if ctx.Err() != nil {
				return ctxTermination(ctx)
			}
			added := agg.Add(f)
			if onFragment != nil {
				onFragment(f, added)
			}
			if agg.Terminal() {
				return models.TerminatedTerminal
			}
		}
	}
}

func ctxTermination(ctx context.Context) models.Termination {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.TerminatedTimeout
	}
	return models.TerminatedCancelled
}
