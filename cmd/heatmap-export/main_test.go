package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/config"
	"github.com/mr1hm/go-safety-agent/internal/models"
	"github.com/mr1hm/go-safety-agent/internal/repository"
)

func testConfig(path string) *config.Config {
	return &config.Config{
		Heatmap: config.HeatmapConfig{MaxAgeHours: 48, Floor: 0.05, Decay: "linear"},
		DB:      config.DatabaseConfig{Path: path},
	}
}

func TestRun_WritesProjection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	db, err := repository.NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	if err := db.AddIncident(context.Background(), models.IncidentRecord{
		Latitude: 38.7, Longitude: -9.1, DangerLevel: 5, CreatedAt: now,
	}); err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}
	db.Close()

	var out bytes.Buffer
	if err := run(testConfig(path), now, false, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var points []models.IntensityPoint
	if err := json.Unmarshal(out.Bytes(), &points); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if points[0].Intensity != 1 {
		t.Errorf("expected intensity 1, got %v", points[0].Intensity)
	}
}

func TestRun_ReturnsOpenError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "agent.db")

	var out bytes.Buffer
	if err := run(testConfig(path), time.Now(), false, &out); err == nil {
		t.Error("expected error for unreachable database path")
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}
