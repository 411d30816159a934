package scheduler

import (
	"fmt"
	"time"

	// the session zone must resolve on hosts without zoneinfo
	_ "time/tzdata"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/config"
)

// Calendar is the fixed weekly session calendar in one named zone.
type Calendar struct {
	loc      *time.Location
	openMin  int
	closeMin int
}

func NewCalendar(cfg config.MarketConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	oh, om, err := config.ParseClock(cfg.OpenTime)
	if err != nil {
		return nil, err
	}
	ch, cm, err := config.ParseClock(cfg.CloseTime)
	if err != nil {
		return nil, err
	}
	c := &Calendar{loc: loc, openMin: oh*60 + om, closeMin: ch*60 + cm}
	if c.openMin >= c.closeMin {
		return nil, fmt.Errorf("open %s is not before close %s", cfg.OpenTime, cfg.CloseTime)
	}
	return c, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// IsOpen reports whether now falls inside [open, close) on a weekday.
func (c *Calendar) IsOpen(now time.Time) bool {
	local := now.In(c.loc)
	if isWeekend(local) {
		return false
	}
	open, closeAt := c.bounds(local)
	return !local.Before(open) && local.Before(closeAt)
}

// Status describes the session at now. It is diagnostic only.
func (c *Calendar) Status(now time.Time) models.SessionState {
	local := now.In(c.loc)
	st := models.SessionState{
		Now: local,
		Day: local.Weekday().String(),
	}

	switch {
	case isWeekend(local):
		st.Status = "CLOSED (Weekend)"
	case c.IsOpen(local):
		_, closeAt := c.bounds(local)
		st.IsOpen = true
		st.MinutesToClose = int(closeAt.Sub(local) / time.Minute)
		st.Status = fmt.Sprintf("OPEN (closes in %dm)", st.MinutesToClose)
	default:
		st.Status = "CLOSED (After Hours)"
	}
	return st
}

// Date returns the calendar date of t in the session zone.
func (c *Calendar) Date(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

func (c *Calendar) bounds(local time.Time) (time.Time, time.Time) {
	y, m, d := local.Date()
	open := time.Date(y, m, d, c.openMin/60, c.openMin%60, 0, 0, c.loc)
	closeAt := time.Date(y, m, d, c.closeMin/60, c.closeMin%60, 0, 0, c.loc)
	return open, closeAt
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
