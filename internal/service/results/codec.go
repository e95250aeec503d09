package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/pkg/util"
)

// wire shape published by the executor:
//
//	{"job_id":"abc123","seq":3,"kind":"done","payload":{"final_value":101250.5}}
type wireFragment struct {
	JobID   string          `json:"job_id"`
	Seq     *int64          `json:"seq"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// flexTime accepts RFC3339 and date strings as well as unix seconds or
// milliseconds.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		v, ok := util.ParseTime(s)
		if !ok {
			return fmt.Errorf("unrecognized time %q", s)
		}
		*t = flexTime(v)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("unrecognized time %s", b)
	}
	*t = flexTime(util.UnixAuto(int64(n)))
	return nil
}

func (t flexTime) Time() time.Time { return time.Time(t) }

type wireTrade struct {
	Time   flexTime `json:"time"`
	Symbol string   `json:"symbol"`
	Side   string   `json:"side"`
	Price  *float64 `json:"price"`
	Size   *float64 `json:"size"`
}

type wirePosition struct {
	Time     flexTime `json:"time"`
	Symbol   string   `json:"symbol"`
	Size     *float64 `json:"size"`
	AvgPrice float64  `json:"avg_price"`
}

type wireEquity struct {
	Time  flexTime `json:"time"`
	Value *float64 `json:"value"`
}

type wireLog struct {
	Time    flexTime `json:"time"`
	Level   string   `json:"level"`
	Message string   `json:"message"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeFragment parses one message. Failures are *errs.MalformedFragmentError.
func DecodeFragment(data []byte) (models.ResultFragment, error) {
	var w wireFragment
	if err := json.Unmarshal(data, &w); err != nil {
		return models.ResultFragment{}, errs.Malformed("invalid json", err)
	}
	if w.JobID == "" {
		return models.ResultFragment{}, errs.Malformed("missing job_id", nil)
	}
	if w.Seq == nil {
		return models.ResultFragment{}, errs.Malformed("missing seq", nil)
	}
	if *w.Seq < 0 {
		return models.ResultFragment{}, errs.Malformed(fmt.Sprintf("negative seq %d", *w.Seq), nil)
	}
	kind := models.FragmentKind(strings.ToLower(strings.TrimSpace(w.Kind)))
	if !kind.Valid() {
		return models.ResultFragment{}, errs.Malformed(fmt.Sprintf("unknown kind %q", w.Kind), nil)
	}

	f := models.ResultFragment{JobID: w.JobID, Seq: *w.Seq, Kind: kind}
	if err := decodePayload(&f, w.Payload); err != nil {
		var mf *errs.MalformedFragmentError
		if errors.As(err, &mf) {
			return models.ResultFragment{}, err
		}
		return models.ResultFragment{}, errs.Malformed(string(kind)+" payload", err)
	}
	return f, nil
}

func decodePayload(f *models.ResultFragment, raw json.RawMessage) error {
	empty := len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"

	switch f.Kind {
	case models.KindTrade:
		if empty {
			return errs.Malformed("trade without payload", nil)
		}
		var p wireTrade
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Price == nil || p.Size == nil || !finite(*p.Price) || !finite(*p.Size) {
			return errs.Malformed("trade requires price and size", nil)
		}
		f.Trade = &models.Trade{
			Time:   p.Time.Time(),
			Symbol: p.Symbol,
			Side:   strings.ToLower(p.Side),
			Price:  *p.Price,
			Size:   *p.Size,
		}

	case models.KindPosition:
		if empty {
			return errs.Malformed("position without payload", nil)
		}
		var p wirePosition
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Size == nil || !finite(*p.Size) {
			return errs.Malformed("position requires size", nil)
		}
		f.Position = &models.Position{
			Time:     p.Time.Time(),
			Symbol:   p.Symbol,
			Size:     *p.Size,
			AvgPrice: p.AvgPrice,
		}

	case models.KindEquityPoint:
		if empty {
			return errs.Malformed("equity_point without payload", nil)
		}
		var p wireEquity
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Value == nil || !finite(*p.Value) {
			return errs.Malformed("equity_point requires value", nil)
		}
		f.Equity = &models.EquityPoint{Time: p.Time.Time(), Value: *p.Value}

	case models.KindLog:
		if empty {
			return errs.Malformed("log without payload", nil)
		}
		var p wireLog
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		f.Log = &models.LogLine{Time: p.Time.Time(), Level: p.Level, Message: p.Message}

	case models.KindDone:
		// done may arrive bare
		f.Done = &models.DoneInfo{}
		if !empty {
			if err := json.Unmarshal(raw, f.Done); err != nil {
				return err
			}
		}

	case models.KindError:
		var p wireError
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
		}
		if p.Message == "" {
			p.Message = "executor reported an error"
		}
		f.Error = &models.ErrorInfo{Code: p.Code, Message: p.Message}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// subscriptionLost is the synthetic fragment closing a stream whose
// transport could not be recovered.
func subscriptionLost(jobID string, err error) models.ResultFragment {
	msg := "result subscription lost"
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return models.ResultFragment{
		JobID: jobID,
		Seq:   -1,
		Kind:  models.KindError,
		Local: true,
		Error: &models.ErrorInfo{Code: models.ErrorCodeSubscriptionLost, Message: msg},
	}
}
