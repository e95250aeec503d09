package models

import "time"

type FragmentKind string

const (
	KindTrade       FragmentKind = "trade"
	KindPosition    FragmentKind = "position"
	KindEquityPoint FragmentKind = "equity_point"
	KindLog         FragmentKind = "log"
	KindDone        FragmentKind = "done"
	KindError       FragmentKind = "error"
)

// Valid reports whether k is a known fragment kind.
func (k FragmentKind) Valid() bool {
	switch k {
	case KindTrade, KindPosition, KindEquityPoint, KindLog, KindDone, KindError:
		return true
	}
	return false
}

// Terminal reports whether k ends a job's stream.
func (k FragmentKind) Terminal() bool { return k == KindDone || k == KindError }

// ResultFragment is one unit of streamed output. Exactly one payload
// pointer is set and it matches Kind.
type ResultFragment struct {
	JobID string       `json:"job_id"`
	Seq   int64        `json:"seq"`
	Kind  FragmentKind `json:"kind"`
	Local bool         `json:"local,omitempty"`

	Trade    *Trade       `json:"trade,omitempty"`
	Position *Position    `json:"position,omitempty"`
	Equity   *EquityPoint `json:"equity,omitempty"`
	Log      *LogLine     `json:"log,omitempty"`
	Done     *DoneInfo    `json:"done,omitempty"`
	Error    *ErrorInfo   `json:"error,omitempty"`
}

// FragmentKey identifies a fragment for deduplication.
type FragmentKey struct {
	JobID string
	Seq   int64
}

func (f ResultFragment) Key() FragmentKey { return FragmentKey{JobID: f.JobID, Seq: f.Seq} }

type Trade struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Side   string    `json:"side"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
}

type Position struct {
	Time     time.Time `json:"time"`
	Symbol   string    `json:"symbol"`
	Size     float64   `json:"size"`
	AvgPrice float64   `json:"avg_price"`
}

type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type LogLine struct {
	Time    time.Time `json:"time,omitempty"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message"`
}

type DoneInfo struct {
	FinalValue  *float64 `json:"final_value,omitempty"`
	MaxDrawdown *float64 `json:"max_drawdown,omitempty"`
	Message     string   `json:"message,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ErrorCodeSubscriptionLost marks a locally generated error fragment.
const ErrorCodeSubscriptionLost = "subscription_lost"
