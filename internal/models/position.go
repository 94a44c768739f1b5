package models

import "time"

// Position is a single device fix. It is never mutated once created; a newer
// fix supersedes it.
type Position struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	AccuracyMeters *float64 `json:"accuracy,omitempty"`
	Altitude       *float64 `json:"altitude,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
	SpeedMps       *float64 `json:"speed,omitempty"`
	CapturedAtMs   int64    `json:"captured_at_ms"`
}

// CapturedAt returns the capture time as a time.Time.
func (p Position) CapturedAt() time.Time {
	return time.UnixMilli(p.CapturedAtMs)
}

// Age returns how old the fix is relative to now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.CapturedAt())
}

func (p Position) Coordinates() Coordinates {
	return Coordinates{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
	}
}

// CachedPosition is the most recently accepted fix plus the moment it was stored.
type CachedPosition struct {
	Position Position
	StoredAt time.Time
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
