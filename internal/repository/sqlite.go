package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/models"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// :memory: databases are per-connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS incidents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			intensity REAL,
			danger_level REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tracking (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			emergency_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			timestamp DATETIME NOT NULL,
			accuracy REAL,
			speed REAL,
			heading REAL
		);

		CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at);
		CREATE INDEX IF NOT EXISTS idx_tracking_emergency_id ON tracking(emergency_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) AddTrackingRow(ctx context.Context, row models.TrackingRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking (emergency_id, user_id, latitude, longitude, timestamp, accuracy, speed, heading)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EmergencyID,
		row.UserID,
		row.Latitude,
		row.Longitude,
		row.Timestamp.UTC(),
		nullFloat(row.Accuracy),
		nullFloat(row.Speed),
		nullFloat(row.Heading),
	)
	if err != nil {
		return fmt.Errorf("error inserting tracking row: %w", err)
	}
	return nil
}

// ListTracking returns rows oldest first.
func (s *SQLiteDB) ListTracking(ctx context.Context, opts TrackingFilter) ([]models.TrackingRow, error) {
	query := `SELECT emergency_id, user_id, latitude, longitude, timestamp, accuracy, speed, heading FROM tracking`

	var conditions []string
	var args []any
	if opts.EmergencyID != "" {
		conditions = append(conditions, "emergency_id = ?")
		args = append(args, opts.EmergencyID)
	}
	if opts.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, opts.Since.UTC())
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying tracking: %w", err)
	}
	defer rows.Close()

	var out []models.TrackingRow
	for rows.Next() {
		var row models.TrackingRow
		var accuracy, speed, heading sql.NullFloat64
		if err := rows.Scan(&row.EmergencyID, &row.UserID, &row.Latitude, &row.Longitude,
			&row.Timestamp, &accuracy, &speed, &heading); err != nil {
			return nil, fmt.Errorf("error scanning tracking row: %w", err)
		}
		row.Accuracy = floatPtr(accuracy)
		row.Speed = floatPtr(speed)
		row.Heading = floatPtr(heading)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) AddIncident(ctx context.Context, rec models.IncidentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (latitude, longitude, intensity, danger_level, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Latitude,
		rec.Longitude,
		nullFloat(rec.Intensity),
		rec.DangerLevel,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting incident: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListIncidentsSince(ctx context.Context, since time.Time) ([]models.IncidentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT latitude, longitude, intensity, danger_level, created_at
		FROM incidents
		WHERE created_at >= ?
		ORDER BY created_at DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("error querying incidents: %w", err)
	}
	defer rows.Close()

	var out []models.IncidentRecord
	for rows.Next() {
		var rec models.IncidentRecord
		var intensity sql.NullFloat64
		if err := rows.Scan(&rec.Latitude, &rec.Longitude, &intensity, &rec.DangerLevel, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning incident: %w", err)
		}
		rec.Intensity = floatPtr(intensity)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
