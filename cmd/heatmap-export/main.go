package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-safety-agent/internal/config"
	"github.com/mr1hm/go-safety-agent/internal/heatmap"
	"github.com/mr1hm/go-safety-agent/internal/logging"
	"github.com/mr1hm/go-safety-agent/internal/repository"
)

// Prints the current heat-map projection of the incidents table as
// [lat, lng, intensity] triples.
func main() {
	at := flag.String("at", "", "project as of this RFC3339 time instead of now")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	// Logs go to stderr so stdout stays pure JSON.
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, "heatmap-export"))

	now := time.Now()
	if *at != "" {
		now, err = time.Parse(time.RFC3339, *at)
		if err != nil {
			logging.Fatalf("Invalid -at value: %v", err)
		}
	}

	if err := run(cfg, now, *pretty, os.Stdout); err != nil {
		logging.Fatalf("Export failed: %v", err)
	}
}

func run(cfg *config.Config, now time.Time, pretty bool, out io.Writer) error {
	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	engine := heatmap.NewEngine(cfg.Heatmap)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := db.ListIncidentsSince(ctx, engine.Window(now))
	if err != nil {
		return fmt.Errorf("read incidents: %w", err)
	}
	points := engine.Project(records, now)

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(points); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	slog.Info("heat map exported", "records", len(records), "points", len(points), "at", now)
	return nil
}
