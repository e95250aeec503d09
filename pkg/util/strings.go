package util

import (
	"regexp"
	"strconv"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SafeFileComponent replaces anything that is not [A-Za-z0-9_-] with '_'.
func SafeFileComponent(s string) string {
	out := unsafeName.ReplaceAllString(s, "_")
	if out == "" {
		return "unknown"
	}
	return out
}
