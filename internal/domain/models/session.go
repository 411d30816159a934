package models

import "time"

// SessionState is derived from the clock and the weekly calendar. It is never stored.
type SessionState struct {
	IsOpen         bool      `json:"is_open"`
	Status         string    `json:"status"`
	Day            string    `json:"day"`
	Now            time.Time `json:"now"`
	MinutesToClose int       `json:"minutes_to_close,omitempty"`
}
