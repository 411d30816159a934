package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// DateLayout is the journal partition key format.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD day in loc, falling back to ParseTime.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return t, true
	}
	if t, ok := ParseTime(s); ok {
		return t.In(loc), true
	}
	return time.Time{}, false
}

// DaysBetween lists every YYYY-MM-DD from from to to inclusive, in loc.
func DaysBetween(from, to time.Time, loc *time.Location) []string {
	from, to = from.In(loc), to.In(loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	last := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	var out []string
	for !day.After(last) {
		out = append(out, day.Format(DateLayout))
		day = day.AddDate(0, 0, 1)
	}
	return out
}
