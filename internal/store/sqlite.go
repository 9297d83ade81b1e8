package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/latentwalk/api-go/internal/model"
)

// SQLite is the job journal. It records every job transition so that
// snapshots outlive the in-memory registry and process restarts.
type SQLite struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  started_at INTEGER,
  completed_at INTEGER,
  status TEXT NOT NULL,
  params_json TEXT NOT NULL,
  seed TEXT NOT NULL,
  frames_done INTEGER NOT NULL DEFAULT 0,
  total_frames INTEGER NOT NULL DEFAULT 0,
  artifact_key TEXT,
  poster_key TEXT,
  error_message TEXT,
  error_kind TEXT,
  logs_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);
`

func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

// Upsert writes the full snapshot, replacing any earlier row for the job.
func (s *SQLite) Upsert(ctx context.Context, snap model.Snapshot) error {
	paramsJSON, err := json.Marshal(snap.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	var logsJSON any
	if len(snap.Logs) > 0 {
		raw, err := json.Marshal(snap.Logs)
		if err != nil {
			return fmt.Errorf("encode logs: %w", err)
		}
		logsJSON = string(raw)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, created_at, updated_at, started_at, completed_at, status, params_json, seed,
                           frames_done, total_frames, artifact_key, poster_key, error_message, error_kind, logs_json)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             updated_at = excluded.updated_at,
             started_at = excluded.started_at,
             completed_at = excluded.completed_at,
             status = excluded.status,
             frames_done = excluded.frames_done,
             total_frames = excluded.total_frames,
             artifact_key = excluded.artifact_key,
             poster_key = excluded.poster_key,
             error_message = excluded.error_message,
             error_kind = excluded.error_kind,
             logs_json = excluded.logs_json`,
		snap.ID,
		snap.CreatedAt.UnixMilli(),
		snap.UpdatedAt.UnixMilli(),
		nullableTime(snap.StartedAt),
		nullableTime(snap.CompletedAt),
		string(snap.Status),
		string(paramsJSON),
		strconv.FormatUint(snap.Seed, 10),
		snap.FramesDone,
		snap.TotalFrames,
		nullableString(snap.ArtifactKey),
		nullableString(snap.PosterKey),
		nullableString(snap.Error),
		nullableString(snap.ErrorKind),
		logsJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", snap.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, created_at, updated_at, started_at, completed_at, status, params_json, seed,
       frames_done, total_frames, artifact_key, poster_key, error_message, error_kind, logs_json
  FROM jobs`

func (s *SQLite) Get(ctx context.Context, id string) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Snapshot{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
		}
		return model.Snapshot{}, err
	}
	return snap, nil
}

// List returns jobs most recently updated first.
func (s *SQLite) List(ctx context.Context, status *model.JobStatus, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 25
	}
	query := selectColumns
	args := []any{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)
	return s.query(ctx, query, args...)
}

// MarkInterrupted fails every non-terminal row. It runs once at startup,
// before any job of this process exists, and returns the affected count.
func (s *SQLite) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, error_kind = ?, updated_at = ?, completed_at = ?
         WHERE status IN (?, ?)`,
		string(model.JobError), message, "interrupted", now, now,
		string(model.JobQueued), string(model.JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// DeleteBefore removes terminal jobs last updated before cutoff and returns
// what was removed so the caller can clean up artifacts.
func (s *SQLite) DeleteBefore(ctx context.Context, cutoff time.Time) ([]model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectColumns+` WHERE status IN (?, ?) AND updated_at < ?`,
		string(model.JobDone), string(model.JobError), cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("select expired: %w", err)
	}
	expired, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	ids := make([]any, len(expired))
	for i, snap := range expired {
		ids[i] = snap.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (`+placeholders+`)`, ids...); err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return expired, nil
}

// Delete removes one job row.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]model.Snapshot, error) {
	defer rows.Close()
	var out []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (model.Snapshot, error) {
	var (
		id, statusStr, paramsJSON, seedStr string
		createdMs, updatedMs               int64
		startedMs, completedMs             sql.NullInt64
		framesDone, totalFrames            int
		artifactKey, posterKey             sql.NullString
		errorMsg, errorKind, logsJSON      sql.NullString
	)
	if err := row.Scan(&id, &createdMs, &updatedMs, &startedMs, &completedMs, &statusStr, &paramsJSON, &seedStr,
		&framesDone, &totalFrames, &artifactKey, &posterKey, &errorMsg, &errorKind, &logsJSON); err != nil {
		return model.Snapshot{}, err
	}
	snap := model.Snapshot{
		ID:          id,
		Status:      model.JobStatus(statusStr),
		FramesDone:  framesDone,
		TotalFrames: totalFrames,
		CreatedAt:   time.UnixMilli(createdMs),
		UpdatedAt:   time.UnixMilli(updatedMs),
		StartedAt:   timePtr(startedMs),
		CompletedAt: timePtr(completedMs),
		ArtifactKey: artifactKey.String,
		PosterKey:   posterKey.String,
		Error:       errorMsg.String,
		ErrorKind:   errorKind.String,
	}
	if err := json.Unmarshal([]byte(paramsJSON), &snap.Params); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode params for %s: %w", id, err)
	}
	if seed, err := strconv.ParseUint(seedStr, 10, 64); err == nil {
		snap.Seed = seed
	}
	if logsJSON.Valid && logsJSON.String != "" {
		if err := json.Unmarshal([]byte(logsJSON.String), &snap.Logs); err != nil {
			return model.Snapshot{}, fmt.Errorf("decode logs for %s: %w", id, err)
		}
	}
	if totalFrames > 0 {
		snap.Progress = float64(framesDone) / float64(totalFrames)
	}
	return snap, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}
