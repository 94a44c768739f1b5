package models

import (
	"encoding/json"
	"time"
)

// IncidentRecord is a geotagged report read from storage. Intensity is used
// when present, otherwise DangerLevel (1-5) is scaled down to [0,1].
type IncidentRecord struct {
	Latitude    float64
	Longitude   float64
	Intensity   *float64
	DangerLevel float64
	CreatedAt   time.Time
}

// IntensityPoint is one heat-layer sample.
type IntensityPoint struct {
	Latitude  float64
	Longitude float64
	Intensity float64
}

// MarshalJSON encodes the point as a [lat, lng, intensity] triple, which heat
// layers consume directly.
func (p IntensityPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{p.Latitude, p.Longitude, p.Intensity})
}

func (p *IntensityPoint) UnmarshalJSON(data []byte) error {
	var triple [3]float64
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	p.Latitude, p.Longitude, p.Intensity = triple[0], triple[1], triple[2]
	return nil
}
