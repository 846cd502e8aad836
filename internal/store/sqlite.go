package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nunnr/gephiserver/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    pipeline    TEXT NOT NULL,
    format      TEXT NOT NULL,
    graph_id    INTEGER NOT NULL,
    mode        TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    output_size INTEGER,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createJobEventsTable = `
CREATE TABLE IF NOT EXISTS job_events (
    job_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    status     TEXT NOT NULL,
    message    TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    PRIMARY KEY (job_id, seq)
)`

const jobColumns = `id, pipeline, format, graph_id, mode, status, error,
	output_size, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when a job or graph is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []struct{ name, sql string }{
		{"jobs", createJobsTable},
		{"job_events", createJobEventsTable},
		{"graphs", createGraphsTable},
		{"nodes", createNodesTable},
		{"edges", createEdgesTable},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", stmt.name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.JobRecord, error) {
	j := &model.JobRecord{}
	err := row.Scan(
		&j.ID, &j.Pipeline, &j.Format, &j.GraphID, &j.Mode, &j.Status, &j.Error,
		&j.OutputSize, &j.DurationMS, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	return j, err
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Pipeline, j.Format, j.GraphID, j.Mode, j.Status, j.Error,
		j.OutputSize, j.DurationMS, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJob writes the mutable fields of j after checking that the status
// change is a valid transition. Writing the same status again is allowed so
// that durations and sizes can be filled in late.
func (s *SQLiteStore) UpdateJob(ctx context.Context, j *model.JobRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", j.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if current != j.Status && !model.ValidTransition(current, j.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, j.Status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, output_size = ?, duration_ms = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?`,
		j.Status, j.Error, j.OutputSize, j.DurationMS, j.StartedAt, j.FinishedAt, j.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job update: %w", err)
	}
	return nil
}

// GetJobStats returns aggregate counts and the mean duration of completed jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus:   make(map[string]int),
		CountByPipeline: make(map[string]int),
		CountByFormat:   make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	for _, group := range []struct {
		column string
		counts map[string]int
	}{
		{"status", stats.CountByStatus},
		{"pipeline", stats.CountByPipeline},
		{"format", stats.CountByFormat},
	} {
		if err := countBy(ctx, tx, group.column, group.counts); err != nil {
			return nil, err
		}
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM jobs WHERE status = ? AND duration_ms IS NOT NULL",
		model.StatusCompleted,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// countBy fills counts with the number of jobs per distinct value of column.
// column is always one of a fixed set of identifiers.
func countBy(ctx context.Context, tx *sql.Tx, column string, counts map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM jobs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count jobs by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return nil
}

// InsertJobEvent appends one event to a job's history.
func (s *SQLiteStore) InsertJobEvent(ctx context.Context, e model.JobEvent) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO job_events (job_id, seq, status, message, created_at) VALUES (?, ?, ?, ?, ?)",
		e.JobID, e.Seq, e.Status, e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// GetJobEvents returns a job's events ordered by sequence number.
func (s *SQLiteStore) GetJobEvents(ctx context.Context, jobID string) ([]model.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, seq, status, message, created_at FROM job_events WHERE job_id = ? ORDER BY seq",
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get job events: %w", err)
	}
	defer rows.Close()

	events := []model.JobEvent{}
	for rows.Next() {
		var e model.JobEvent
		if err := rows.Scan(&e.JobID, &e.Seq, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job events: %w", err)
	}
	return events, nil
}
