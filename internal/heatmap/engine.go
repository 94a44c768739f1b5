package heatmap

import (
	"math"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/config"
	"github.com/mr1hm/go-safety-agent/internal/models"
)

const (
	DefaultMaxAgeHours = 48.0
	DefaultFloor       = 0.05
	maxDangerLevel     = 5.0
)

// DecayFunc maps an age in hours to a multiplier in [0,1].
type DecayFunc func(ageHours, maxAgeHours float64) float64

// LinearDecay falls from 1 at age 0 to 0 at maxAgeHours.
func LinearDecay(ageHours, maxAgeHours float64) float64 {
	if maxAgeHours <= 0 {
		return 0
	}
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Max(0, 1-ageHours/maxAgeHours)
}

// ExponentialDecay halves every halfLifeHours and is cut to 0 past maxAgeHours.
func ExponentialDecay(halfLifeHours float64) DecayFunc {
	return func(ageHours, maxAgeHours float64) float64 {
		if ageHours < 0 {
			ageHours = 0
		}
		if ageHours >= maxAgeHours || halfLifeHours <= 0 {
			return 0
		}
		return math.Pow(0.5, ageHours/halfLifeHours)
	}
}

// Engine projects incident records onto a decaying intensity field.
type Engine struct {
	MaxAgeHours float64
	Floor       float64
	Decay       DecayFunc
}

func NewEngine(cfg config.HeatmapConfig) *Engine {
	decay := LinearDecay
	if cfg.Decay == "exponential" {
		decay = ExponentialDecay(cfg.HalfLifeHours)
	}
	return &Engine{
		MaxAgeHours: cfg.MaxAgeHours,
		Floor:       cfg.Floor,
		Decay:       decay,
	}
}

// Window is the oldest creation time that can still contribute at now.
func (e *Engine) Window(now time.Time) time.Time {
	return now.Add(-time.Duration(e.MaxAgeHours * float64(time.Hour)))
}

// Project is pure: the same records and now always give the same points.
// Records at or below the floor are left out.
func (e *Engine) Project(records []models.IncidentRecord, now time.Time) []models.IntensityPoint {
	decay := e.Decay
	if decay == nil {
		decay = LinearDecay
	}

	points := make([]models.IntensityPoint, 0, len(records))
	for _, rec := range records {
		ageHours := now.Sub(rec.CreatedAt).Hours()

		base := rec.DangerLevel / maxDangerLevel
		if rec.Intensity != nil {
			base = *rec.Intensity
		}

		adjusted := clamp01(base * decay(ageHours, e.MaxAgeHours))
		if adjusted <= e.Floor {
			continue
		}

		points = append(points, models.IntensityPoint{
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Intensity: adjusted,
		})
	}
	return points
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
