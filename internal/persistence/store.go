// Package persistence keeps run history and agent lifecycle records in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/godel/internal/lifecycle"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Task outcome statuses beyond the engine's terminal ones.
const (
	StatusRunning = "running"
)

// RunRecord is one ExecutePlan call.
type RunRecord struct {
	ID         string
	TotalTasks int
	Levels     int
	Completed  int
	Failed     int
	Cancelled  int
	Aborted    bool
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress
	Duration   time.Duration
}

// Finished reports whether the run has a final result.
func (r RunRecord) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// OutcomeRecord is the latest known state of one task in a run.
type OutcomeRecord struct {
	RunID     string
	TaskID    string
	Title     string
	AgentID   string
	Status    string // running, completed, failed or cancelled
	Attempts  int
	Output    string
	Error     string
	Duration  time.Duration
	UpdatedAt time.Time
}

// AgentRecord is the last persisted lifecycle state of an agent.
type AgentRecord struct {
	ID    string
	State lifecycle.State
	Since time.Time
}

// Store defines the persistence interface for runs, task outcomes, and agent lifecycle history.
type Store interface {
	// Runs
	StartRun(ctx context.Context, run RunRecord) error
	UpdateRunProgress(ctx context.Context, runID string, completed, failed, cancelled int) error
	FinishRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Task outcomes
	SaveOutcome(ctx context.Context, outcome OutcomeRecord) error
	Outcomes(ctx context.Context, runID string) ([]OutcomeRecord, error)

	// Agent lifecycle
	SaveTransition(ctx context.Context, agentID string, t lifecycle.Transition) error
	Agents(ctx context.Context) ([]AgentRecord, error)
	History(ctx context.Context, agentID string) ([]lifecycle.Transition, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database so stores never share state.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:godel-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: queries must not be nested.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
