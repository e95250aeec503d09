package repository

import (
	"strings"

	"QuantGate/internal/domain/models"
)

// IsValidResolution returns true if r is a supported bar size.
func IsValidResolution(r models.Resolution) bool {
	switch r {
	case models.Res1m, models.Res5m, models.Res15m, models.Res30m,
		models.Res1h, models.Res4h, models.Res1d, models.Res1w:
		return true
	default:
		return false
	}
}

// DefaultResolution returns the default bar size.
func DefaultResolution() models.Resolution { return models.Res1d }

// NormalizeResolution converts raw input ("15min", "1D", "60m") to a valid resolution (or default).
func NormalizeResolution(s string) models.Resolution {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultResolution()
	}
	s = strings.TrimSuffix(s, "in")
	switch s {
	case "60m":
		s = "1h"
	case "240m":
		s = "4h"
	case "d", "day":
		s = "1d"
	case "w", "week":
		s = "1w"
	}
	r := models.Resolution(s)
	if IsValidResolution(r) {
		return r
	}
	return DefaultResolution()
}
