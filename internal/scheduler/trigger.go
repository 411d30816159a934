package scheduler

import (
	"fmt"
	"time"

	"AutoTrader/pkg/config"
)

// Trigger computes a job's next fire time.
type Trigger interface {
	// Next returns the first fire time strictly after after.
	Next(after time.Time) time.Time
	String() string
}

type dailyTrigger struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt fires once a day at the HH:MM wall-clock time in loc.
func DailyAt(clock string, loc *time.Location) (Trigger, error) {
	h, m, err := config.ParseClock(clock)
	if err != nil {
		return nil, err
	}
	return dailyTrigger{hour: h, minute: m, loc: loc}, nil
}

func (t dailyTrigger) Next(after time.Time) time.Time {
	local := after.In(t.loc)
	y, mo, d := local.Date()
	next := time.Date(y, mo, d, t.hour, t.minute, 0, 0, t.loc)
	if !next.After(after) {
		next = time.Date(y, mo, d+1, t.hour, t.minute, 0, 0, t.loc)
	}
	return next
}

func (t dailyTrigger) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", t.hour, t.minute, t.loc)
}

type intervalTrigger struct {
	every time.Duration
}

// Every fires at a fixed interval measured from the previous fire time.
func Every(d time.Duration) Trigger {
	return intervalTrigger{every: d}
}

func (t intervalTrigger) Next(after time.Time) time.Time { return after.Add(t.every) }

func (t intervalTrigger) String() string { return "every " + t.every.String() }
