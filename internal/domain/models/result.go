package models

import "time"

// Termination records why listening stopped.
type Termination string

const (
	TerminatedTerminal    Termination = "terminal"
	TerminatedTimeout     Termination = "timeout"
	TerminatedStreamEnded Termination = "stream_ended"
	TerminatedCancelled   Termination = "cancelled"
)

type Summary struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value"`
	TotalReturn    float64 `json:"total_return"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	Volatility     float64 `json:"volatility"`
	Sharpe         float64 `json:"sharpe"`
	PositionCount  int     `json:"position_count"`
	TradeCount     int     `json:"trade_count"`
}

// AggregatedResult is owned by a single orchestration run.
type AggregatedResult struct {
	JobID       string        `json:"job_id"`
	Resolution  Resolution    `json:"resolution,omitempty"`
	Trades      []Trade       `json:"trades"`
	Positions   []Position    `json:"positions,omitempty"`
	Equity      []EquityPoint `json:"equity"`
	Logs        []LogLine     `json:"logs,omitempty"`
	Summary     Summary       `json:"summary"`
	Completed   bool          `json:"completed"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Termination Termination   `json:"termination"`
}

// Status is the banner label for a result.
func (r *AggregatedResult) Status() string {
	switch {
	case r.Success:
		return "success"
	case r.Completed:
		return "failed"
	default:
		return "partial"
	}
}

// RunRecord is one row of run history.
type RunRecord struct {
	JobID       string       `json:"job_id"`
	StrategyID  string       `json:"strategy_id"`
	Symbol      string       `json:"symbol"`
	Resolution  Resolution   `json:"resolution"`
	Success     bool         `json:"success"`
	Completed   bool         `json:"completed"`
	Termination Termination  `json:"termination"`
	FinalValue  float64      `json:"final_value"`
	MaxDrawdown float64      `json:"max_drawdown"`
	TradeCount  int          `json:"trade_count"`
	ChartURL    string       `json:"chart_url"`
	ChartMode   ResolverMode `json:"chart_mode"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}
