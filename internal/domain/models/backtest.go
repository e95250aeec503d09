package models

// Resolution is the bar size a backtest is evaluated on.
type Resolution string

const (
	Res1m  Resolution = "1m"
	Res5m  Resolution = "5m"
	Res15m Resolution = "15m"
	Res30m Resolution = "30m"
	Res1h  Resolution = "1h"
	Res4h  Resolution = "4h"
	Res1d  Resolution = "1d"
	Res1w  Resolution = "1w"
)

// FQ is the price adjustment mode (forward/backward/none).
type FQ string

const (
	FQPost FQ = "post"
	FQPre  FQ = "pre"
	FQNone FQ = "none"
)

// StrategyCode carries inline strategy blocks instead of a stored strategy id.
type StrategyCode struct {
	ChooseStock string `json:"choose_stock,omitempty"`
	Indicators  string `json:"indicators,omitempty"`
	Timing      string `json:"timing,omitempty"`
	ControlRisk string `json:"control_risk,omitempty"`
}

// IsEmpty reports whether no block is set.
func (c *StrategyCode) IsEmpty() bool {
	return c == nil || (c.ChooseStock == "" && c.Indicators == "" && c.Timing == "" && c.ControlRisk == "")
}

type StrategyRef struct {
	StrategyID string        `json:"strategy_id,omitempty"`
	Code       *StrategyCode `json:"code,omitempty"`
}

type BacktestParams struct {
	Symbol       string     `json:"symbol,omitempty"`
	Capital      float64    `json:"capital"`
	OrderSize    float64    `json:"order_size"`
	StartDate    string     `json:"start_date,omitempty"`
	EndDate      string     `json:"end_date,omitempty"`
	Resolution   Resolution `json:"resolution"`
	FQ           FQ         `json:"fq"`
	Commission   float64    `json:"commission"`
	Margin       float64    `json:"margin"`
	RiskFreeRate float64    `json:"riskfreerate"`
	Pyramiding   int        `json:"pyramiding"`
}

// BacktestJob is immutable once submitted; JobID is assigned by the executor.
type BacktestJob struct {
	JobID    string         `json:"job_id,omitempty"`
	Strategy StrategyRef    `json:"strategy"`
	Params   BacktestParams `json:"params"`
}

// WithID returns a copy of the job carrying the executor-assigned id.
func (j BacktestJob) WithID(id string) BacktestJob {
	j.JobID = id
	return j
}

// BacktestRequest is the inbound shape shared by the API and the CLI.
// Defaults mirror the command line defaults.
type BacktestRequest struct {
	StrategyID string        `json:"strategy_id" validate:"required_without=Code"`
	Code       *StrategyCode `json:"code,omitempty"`
	Symbol     string        `json:"symbol" validate:"omitempty,max=32"`
	StartDate  string        `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string        `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Capital    float64       `json:"capital" default:"200000" validate:"gt=0"`
	OrderSize  float64       `json:"order" default:"500" validate:"gt=0"`
	Resolution string        `json:"resolution" default:"1d" validate:"oneof=1m 5m 15m 30m 1h 4h 1d 1w"`
	FQ         string        `json:"fq" default:"post" validate:"oneof=post pre none"`
	Commission float64       `json:"commission" default:"0.0003" validate:"gte=0,lt=1"`
	Margin     float64       `json:"margin" default:"0.05" validate:"gte=0,lte=1"`
	RiskFree   float64       `json:"riskfreerate" default:"0.01" validate:"gte=0,lt=1"`
	Pyramiding int           `json:"pyramiding" default:"1" validate:"gte=1,lte=100"`
	ListenTime int           `json:"listen_time" default:"60" validate:"gte=1,lte=3600"`
	OpenChart  bool          `json:"open_chart,omitempty"`
}

// Job converts a validated request into a job description.
func (r *BacktestRequest) Job() BacktestJob {
	ref := StrategyRef{StrategyID: r.StrategyID}
	if !r.Code.IsEmpty() {
		ref.Code = r.Code
	}
	return BacktestJob{
		Strategy: ref,
		Params: BacktestParams{
			Symbol:       r.Symbol,
			Capital:      r.Capital,
			OrderSize:    r.OrderSize,
			StartDate:    r.StartDate,
			EndDate:      r.EndDate,
			Resolution:   Resolution(r.Resolution),
			FQ:           FQ(r.FQ),
			Commission:   r.Commission,
			Margin:       r.Margin,
			RiskFreeRate: r.RiskFree,
			Pyramiding:   r.Pyramiding,
		},
	}
}

// QueuedBacktest is the async queue payload.
type QueuedBacktest struct {
	RequestID string          `json:"request_id"`
	Request   BacktestRequest `json:"request"`
}
