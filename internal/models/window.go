package models

import "time"

// WindowGranularity is the span of a rate-limit accounting window
type WindowGranularity string

const (
	WindowSecond WindowGranularity = "second"
	WindowMinute WindowGranularity = "minute"
	WindowHour   WindowGranularity = "hour"
	WindowDay    WindowGranularity = "day"
)

// Span returns the window duration
func (g WindowGranularity) Span() time.Duration {
	switch g {
	case WindowSecond:
		return time.Second
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// RateLimitWindow is the governor's persisted bookkeeping for one
// (domain, granularity) pair. The live counters are owned by the governor
// instance; these records exist for operator observability.
type RateLimitWindow struct {
	ID          string            `json:"id" badgerhold:"key"` // domain|granularity
	Domain      string            `json:"domain" badgerholdIndex:"Domain"`
	Granularity WindowGranularity `json:"granularity"`
	Count       int               `json:"count"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	InFlight    int               `json:"in_flight"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
