package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("launch not found")

// SQLiteStore stores launch history in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a store that is not yet connected.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// NewWithDB wraps an existing connection. Migrations are not run.
func NewWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open connects to the database at path, creating its directory, and runs
// migrations. Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		// The rollback journal relies only on POSIX locks, so the file may
		// live on the shared filesystems cluster home directories use. It
		// also switches back databases left in WAL mode.
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(DELETE)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers from concurrent launches on the same file.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return err
	}
	s.logger.Debug("opened state database", slog.String("path", path))
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func generateID() string {
	return uuid.New().String()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// CreateLaunch records the start of a launch and returns it.
func (s *SQLiteStore) CreateLaunch(ctx context.Context, profile, mode, jobID, host string) (*Launch, error) {
	return s.insert(ctx, &Launch{
		ID:        generateID(),
		Kind:      KindLaunch,
		Profile:   profile,
		Mode:      mode,
		JobID:     jobID,
		Host:      host,
		Status:    StatusRunning,
		StartedAt: s.now(),
	})
}

// RecordSubmission records a job handed to the scheduler.
func (s *SQLiteStore) RecordSubmission(ctx context.Context, profile, mode, jobID string) (*Launch, error) {
	return s.insert(ctx, &Launch{
		ID:        generateID(),
		Kind:      KindSubmit,
		Profile:   profile,
		Mode:      mode,
		JobID:     jobID,
		Status:    StatusSubmitted,
		StartedAt: s.now(),
	})
}

func (s *SQLiteStore) insert(ctx context.Context, l *Launch) (*Launch, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	s.logger.Debug("recording launch", slog.String("id", l.ID), slog.String("kind", string(l.Kind)), slog.String("profile", l.Profile))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO launches (id, kind, profile, mode, job_id, host, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.Kind), l.Profile, l.Mode, l.JobID, l.Host, string(l.Status), toMillis(l.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record launch: %w", err)
	}
	return l, nil
}

// CompleteLaunch marks a launch finished with the pipeline's exit code.
func (s *SQLiteStore) CompleteLaunch(ctx context.Context, id string, exitCode int, gpuAvailable bool) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	status := StatusSucceeded
	if exitCode != 0 {
		status = StatusFailed
	}
	gpu := 0
	if gpuAvailable {
		gpu = 1
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE launches SET status = ?, exit_code = ?, gpu_available = ?, completed_at = ? WHERE id = ?`,
		string(status), exitCode, gpu, toMillis(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete launch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete launch: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectLaunch = `SELECT id, kind, profile, mode, job_id, host, status, exit_code, gpu_available, started_at, completed_at FROM launches`

// GetLaunch retrieves a record by id.
func (s *SQLiteStore) GetLaunch(ctx context.Context, id string) (*Launch, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	l, err := scanLaunch(s.db.QueryRowContext(ctx, selectLaunch+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get launch: %w", err)
	}
	return l, nil
}

// ListLaunches returns the most recent records, newest first.
func (s *SQLiteStore) ListLaunches(ctx context.Context, limit int) ([]*Launch, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, selectLaunch+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var launches []*Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		launches = append(launches, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	return launches, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row rowScanner) (*Launch, error) {
	var (
		l           Launch
		kind        string
		status      string
		exitCode    sql.NullInt64
		gpu         sql.NullInt64
		startedAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&l.ID, &kind, &l.Profile, &l.Mode, &l.JobID, &l.Host, &status, &exitCode, &gpu, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	l.Kind = Kind(kind)
	l.Status = Status(status)
	l.StartedAt = fromMillis(startedAt)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		l.ExitCode = &code
	}
	if gpu.Valid {
		avail := gpu.Int64 != 0
		l.GPUAvailable = &avail
	}
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		l.CompletedAt = &t
	}
	return &l, nil
}
