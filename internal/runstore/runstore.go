// Package runstore keeps the history of capture runs in SQLite.
package runstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/railvision/wagon-capture/internal/logger"
)

// ErrNotFound is returned by Get for unknown run ids.
var ErrNotFound = errors.New("run not found")

// schema.sql creates the capture_runs table and its index.
//
//go:embed schema.sql
var schemaSQL string

// Run is one finished or in-flight capture run.
type Run struct {
	ID              string    `json:"id"`
	VideoPath       string    `json:"video_path"`
	Status          string    `json:"status"`
	CaptureCount    int       `json:"capture_count"`
	FramesProcessed int       `json:"frames_processed"`
	TotalFrames     int       `json:"total_frames"`
	Error           string    `json:"error,omitempty"`
	OutputDir       string    `json:"output_dir,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("RunStore", "Initialized run history at %s", path)
	return &Store{db}, nil
}

// Record inserts run or updates the row with the same id.
func (s *Store) Record(ctx context.Context, run Run) error {
	query := `
		INSERT INTO capture_runs (id, video_path, status, capture_count, frames_processed,
			total_frames, error, output_dir, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			capture_count = excluded.capture_count,
			frames_processed = excluded.frames_processed,
			total_frames = excluded.total_frames,
			error = excluded.error,
			output_dir = excluded.output_dir,
			finished_at = excluded.finished_at
	`

	var finished sql.NullInt64
	if !run.FinishedAt.IsZero() {
		finished = sql.NullInt64{Int64: run.FinishedAt.UnixMilli(), Valid: true}
	}

	_, err := s.ExecContext(ctx, query,
		run.ID, run.VideoPath, run.Status, run.CaptureCount, run.FramesProcessed,
		run.TotalFrames, run.Error, run.OutputDir, run.StartedAt.UnixMilli(), finished)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

const selectRun = `
	SELECT id, video_path, status, capture_count, frames_processed, total_frames,
		error, output_dir, started_at, finished_at
	FROM capture_runs
`

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.QueryRowContext(ctx, selectRun+" WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.QueryContext(ctx, selectRun+" ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
	)
	err := sc.Scan(&run.ID, &run.VideoPath, &run.Status, &run.CaptureCount, &run.FramesProcessed,
		&run.TotalFrames, &run.Error, &run.OutputDir, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		run.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return run, nil
}
