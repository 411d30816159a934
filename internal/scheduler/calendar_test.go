package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/pkg/config"
)

func newYorkCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar(config.MarketConfig{Timezone: "America/New_York", OpenTime: "09:30", CloseTime: "16:00"})
	require.NoError(t, err)
	return cal
}

func TestCalendarIsOpen(t *testing.T) {
	cal := newYorkCalendar(t)
	ny := cal.Location()

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"saturday midday", time.Date(2024, 1, 6, 12, 0, 0, 0, ny), false},
		{"sunday midday", time.Date(2024, 1, 7, 12, 0, 0, 0, ny), false},
		{"tuesday 10:00", time.Date(2024, 1, 9, 10, 0, 0, 0, ny), true},
		{"tuesday 09:30 open inclusive", time.Date(2024, 1, 9, 9, 30, 0, 0, ny), true},
		{"tuesday 09:29:59", time.Date(2024, 1, 9, 9, 29, 59, 0, ny), false},
		{"tuesday 16:00 close exclusive", time.Date(2024, 1, 9, 16, 0, 0, 0, ny), false},
		{"tuesday 15:59:59", time.Date(2024, 1, 9, 15, 59, 59, 0, ny), true},
		{"tuesday 10:00 given in UTC", time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsOpen(tt.at))
		})
	}
}

func TestCalendarStatus(t *testing.T) {
	cal := newYorkCalendar(t)
	ny := cal.Location()

	st := cal.Status(time.Date(2024, 1, 9, 15, 0, 0, 0, ny))
	assert.True(t, st.IsOpen)
	assert.Equal(t, "OPEN (closes in 60m)", st.Status)
	assert.Equal(t, 60, st.MinutesToClose)
	assert.Equal(t, "Tuesday", st.Day)

	st = cal.Status(time.Date(2024, 1, 6, 11, 0, 0, 0, ny))
	assert.False(t, st.IsOpen)
	assert.Equal(t, "CLOSED (Weekend)", st.Status)

	st = cal.Status(time.Date(2024, 1, 9, 18, 0, 0, 0, ny))
	assert.False(t, st.IsOpen)
	assert.Equal(t, "CLOSED (After Hours)", st.Status)
}

func TestNewCalendarRejectsInvertedHours(t *testing.T) {
	_, err := NewCalendar(config.MarketConfig{Timezone: "America/New_York", OpenTime: "16:00", CloseTime: "09:30"})
	assert.Error(t, err)

	_, err = NewCalendar(config.MarketConfig{Timezone: "Mars/Olympus", OpenTime: "09:30", CloseTime: "16:00"})
	assert.Error(t, err)
}

func TestDailyAtNext(t *testing.T) {
	cal := newYorkCalendar(t)
	ny := cal.Location()

	trig, err := DailyAt("20:00", ny)
	require.NoError(t, err)

	before := time.Date(2024, 1, 9, 19, 59, 0, 0, ny)
	assert.Equal(t, time.Date(2024, 1, 9, 20, 0, 0, 0, ny), trig.Next(before))

	exact := time.Date(2024, 1, 9, 20, 0, 0, 0, ny)
	assert.Equal(t, time.Date(2024, 1, 10, 20, 0, 0, 0, ny), trig.Next(exact))

	assert.Equal(t, exact.Add(time.Minute), Every(time.Minute).Next(exact))
}
