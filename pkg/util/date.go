package util

import (
	"strconv"
	"time"
)

// layouts accepted for textual timestamps, most specific first.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102",
}

// ParseTime tries RFC3339, the executor's date layouts, and unix seconds or
// milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return UnixAuto(ts), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return UnixAuto(int64(f)), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// UnixAuto treats values above 1e11 as milliseconds.
func UnixAuto(ts int64) time.Time {
	if ts > 100_000_000_000 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// CompactStamp formats t for file names.
func CompactStamp(t time.Time) string {
	return t.Format("20060102_150405")
}
