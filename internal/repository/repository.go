package repository

import (
	"context"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/models"
)

type TrackingFilter struct {
	EmergencyID string
	Limit       int
	Since       *time.Time
}

// TrackingRepository is the append-only store of victim positions.
type TrackingRepository interface {
	AddTrackingRow(ctx context.Context, row models.TrackingRow) error
	ListTracking(ctx context.Context, opts TrackingFilter) ([]models.TrackingRow, error)
}

type IncidentRepository interface {
	AddIncident(ctx context.Context, rec models.IncidentRecord) error
	ListIncidentsSince(ctx context.Context, since time.Time) ([]models.IncidentRecord, error)
}
