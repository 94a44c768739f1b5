package models

import "time"

// EmergencyBroadcastEvent is an SOS announcement received on the alert topic.
// Delivery is at-least-once, so the same AlertID may arrive more than once.
type EmergencyBroadcastEvent struct {
	AlertID  string  `json:"alertId"`
	VictimID string  `json:"victimId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

func (e EmergencyBroadcastEvent) Coordinates() Coordinates {
	return Coordinates{
		Latitude:  e.Lat,
		Longitude: e.Lng,
	}
}

// EmergencySession exists while this device is the tracked party of an emergency.
type EmergencySession struct {
	EmergencyID string    `json:"emergency_id"`
	StartedAt   time.Time `json:"started_at"`
	Active      bool      `json:"active"`
}

// TrackingUpdate is the lightweight message published for low-latency consumers.
type TrackingUpdate struct {
	EmergencyID string  `json:"emergencyId"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// TrackingRow is the durable, append-only record of a victim position.
type TrackingRow struct {
	EmergencyID string    `json:"emergency_id"`
	UserID      string    `json:"user_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timestamp   time.Time `json:"timestamp"`
	Accuracy    *float64  `json:"accuracy,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
	Heading     *float64  `json:"heading,omitempty"`
}
