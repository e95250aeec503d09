package performance

import (
	"math"

	"QuantGate/internal/domain/models"
)

const (
	tradingDaysPerYear = 252
	// minutes in one exchange session
	sessionMinutes = 240
)

// LogReturns computes r_t = ln(V_t / V_{t-1}) over an equity curve.
// Non-positive values contribute a zero return.
func LogReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		cur := values[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

func meanStd(returns []float64) (float64, float64) {
	n := float64(len(returns))
	if n < 2 {
		return 0, 0
	}
	sum := 0.0
	flat := true
	for _, r := range returns {
		sum += r
		flat = flat && r == returns[0]
	}
	mean := sum / n
	if flat {
		return mean, 0
	}
	// two passes; sum2 - n*mean^2 cancels badly for near-constant series
	ss, comp := 0.0, 0.0
	for _, r := range returns {
		d := r - mean
		ss += d * d
		comp += d
	}
	variance := (ss - comp*comp/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// Volatility is the annualized sample deviation of returns.
func Volatility(returns []float64, barsPerYear float64) float64 {
	_, std := meanStd(returns)
	return std * math.Sqrt(barsPerYear)
}

// Sharpe is the annualized excess return per unit of volatility. riskFree
// is an annual rate.
func Sharpe(returns []float64, riskFree, barsPerYear float64) float64 {
	mean, std := meanStd(returns)
	if std == 0 || barsPerYear <= 0 {
		return 0
	}
	excess := mean - riskFree/barsPerYear
	return excess / std * math.Sqrt(barsPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of
// the peak, in [0, 1].
func MaxDrawdown(values []float64) float64 {
	peak := 0.0
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	if worst > 1 {
		worst = 1
	}
	return worst
}

// BarsPerYear returns the approximate number of bars per year for a resolution.
func BarsPerYear(res models.Resolution) float64 {
	switch res {
	case models.Res1m:
		return tradingDaysPerYear * sessionMinutes
	case models.Res5m:
		return tradingDaysPerYear * sessionMinutes / 5
	case models.Res15m:
		return tradingDaysPerYear * sessionMinutes / 15
	case models.Res30m:
		return tradingDaysPerYear * sessionMinutes / 30
	case models.Res1h:
		return tradingDaysPerYear * sessionMinutes / 60
	case models.Res4h:
		return tradingDaysPerYear * sessionMinutes / 240
	case models.Res1w:
		return 52
	default:
		return tradingDaysPerYear
	}
}
