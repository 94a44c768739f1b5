package api

import (
	"github.com/mr1hm/go-safety-agent/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry coordinates are [lng, lat] for a Point and a list of those for a LineString.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

func heatmapToGeoJSON(points []models.IntensityPoint) FeatureCollection {
	features := make([]Feature, 0, len(points))

	for _, p := range points {
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{p.Longitude, p.Latitude},
			},
			Properties: map[string]any{
				"intensity": p.Intensity,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}

func trackToGeoJSON(emergencyID string, rows []models.TrackingRow) FeatureCollection {
	if len(rows) == 0 {
		return FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	}

	line := make([][]float64, 0, len(rows))
	for _, r := range rows {
		line = append(line, []float64{r.Longitude, r.Latitude})
	}

	last := rows[len(rows)-1]
	return FeatureCollection{
		Type: "FeatureCollection",
		Features: []Feature{
			{
				Type:     "Feature",
				Geometry: Geometry{Type: "LineString", Coordinates: line},
				Properties: map[string]any{
					"emergency_id": emergencyID,
					"user_id":      last.UserID,
					"points":       len(rows),
					"started_at":   rows[0].Timestamp,
					"updated_at":   last.Timestamp,
				},
			},
		},
	}
}
