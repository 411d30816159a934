package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	got, ok := ParseDate("2024-03-08", ny)
	if !ok || got.Location() != ny || got.Hour() != 0 || got.Day() != 8 {
		t.Fatalf("unexpected day %v", got)
	}
	got, ok = ParseDate("2024-03-08T20:00:00Z", ny)
	if !ok || got.Hour() != 15 {
		t.Fatalf("unexpected instant %v", got)
	}
	if _, ok := ParseDate("yesterday", ny); ok {
		t.Fatalf("expected failure")
	}
}

func TestDaysBetween(t *testing.T) {
	from := time.Date(2024, 2, 28, 23, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	got := DaysBetween(from, to, time.UTC)
	want := []string{"2024-02-28", "2024-02-29", "2024-03-01"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if len(DaysBetween(to, from, time.UTC)) != 0 {
		t.Fatalf("expected empty range")
	}
}
