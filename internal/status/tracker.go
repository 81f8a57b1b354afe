// Package status tracks per-cabinet indexing runs in the operational
// SQL store. The status row doubles as the single-flight lock: starting
// a run is a conditional update that only one caller can win.
package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/logging"
)

// Run states.
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

var (
	// ErrIndexingInProgress is returned when a run is already active for
	// the cabinet.
	ErrIndexingInProgress = errors.New("indexing already in progress")

	// ErrNotFound is returned when a cabinet has no status row yet.
	ErrNotFound = errors.New("index status not found")

	// ErrStaleRun is returned when completing or failing a run that is no
	// longer the active one.
	ErrStaleRun = errors.New("run is not the active indexing run")
)

// IndexStatus is one cabinet's indexing state.
type IndexStatus struct {
	CabinetID   int64      `db:"cabinet_id" json:"cabinet_id"`
	Status      string     `db:"status" json:"status"`
	RunID       string     `db:"run_id" json:"run_id"`
	TotalChunks int        `db:"total_chunks" json:"total_chunks"`
	LastError   string     `db:"last_error" json:"last_error,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS index_status (
	cabinet_id   INTEGER PRIMARY KEY,
	status       TEXT NOT NULL,
	run_id       TEXT NOT NULL DEFAULT '',
	total_chunks INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP,
	updated_at   TIMESTAMP NOT NULL
);
`

// Tracker persists indexing run state.
type Tracker struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewTracker creates a Tracker and ensures the status table exists.
func NewTracker(ctx context.Context, db *sqlx.DB, logger *logging.Logger) (*Tracker, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating index_status table: %w", err)
	}
	return &Tracker{db: db, logger: logger}, nil
}

// Begin marks the cabinet as in_progress and claims the run. Exactly one
// concurrent caller wins; the rest get ErrIndexingInProgress. The upsert
// with a conditional DO UPDATE is the atomic compare-and-set.
func (t *Tracker) Begin(ctx context.Context, cabinetID int64, runID string) error {
	now := time.Now().UTC()

	res, err := t.db.ExecContext(ctx, `
		INSERT INTO index_status (cabinet_id, status, run_id, total_chunks, last_error, started_at, finished_at, updated_at)
		VALUES (?, ?, ?, 0, '', ?, NULL, ?)
		ON CONFLICT(cabinet_id) DO UPDATE SET
			status = excluded.status,
			run_id = excluded.run_id,
			total_chunks = 0,
			last_error = '',
			started_at = excluded.started_at,
			finished_at = NULL,
			updated_at = excluded.updated_at
		WHERE index_status.status != ?`,
		cabinetID, StateInProgress, runID, now, now, StateInProgress)
	if err != nil {
		return fmt.Errorf("claiming indexing run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking claim result: %w", err)
	}
	if affected == 0 {
		return ErrIndexingInProgress
	}

	t.logger.Info(ctx, "indexing run started",
		zap.Int64("cabinet_id", cabinetID),
		zap.String("run_id", runID),
	)
	return nil
}

// Complete marks the active run as completed with its chunk total.
func (t *Tracker) Complete(ctx context.Context, cabinetID int64, runID string, totalChunks int) error {
	return t.finish(ctx, cabinetID, runID, StateCompleted, totalChunks, "")
}

// Fail marks the active run as failed with the cause.
func (t *Tracker) Fail(ctx context.Context, cabinetID int64, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.finish(ctx, cabinetID, runID, StateFailed, 0, msg)
}

func (t *Tracker) finish(ctx context.Context, cabinetID int64, runID, state string, totalChunks int, lastError string) error {
	now := time.Now().UTC()

	res, err := t.db.ExecContext(ctx, `
		UPDATE index_status
		SET status = ?, total_chunks = ?, last_error = ?, finished_at = ?, updated_at = ?
		WHERE cabinet_id = ? AND run_id = ? AND status = ?`,
		state, totalChunks, lastError, now, now, cabinetID, runID, StateInProgress)
	if err != nil {
		return fmt.Errorf("finishing indexing run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking finish result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: cabinet %d run %s", ErrStaleRun, cabinetID, runID)
	}

	t.logger.Info(ctx, "indexing run finished",
		zap.Int64("cabinet_id", cabinetID),
		zap.String("run_id", runID),
		zap.String("status", state),
		zap.Int("total_chunks", totalChunks),
	)
	return nil
}

// Reset returns a stuck in_progress run to pending so a new one can
// start. Operator escape hatch for runs orphaned by a crash.
func (t *Tracker) Reset(ctx context.Context, cabinetID int64) error {
	now := time.Now().UTC()

	res, err := t.db.ExecContext(ctx, `
		UPDATE index_status
		SET status = ?, run_id = '', last_error = '', finished_at = NULL, updated_at = ?
		WHERE cabinet_id = ? AND status = ?`,
		StatePending, now, cabinetID, StateInProgress)
	if err != nil {
		return fmt.Errorf("resetting index status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking reset result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: cabinet %d has no in-progress run", ErrNotFound, cabinetID)
	}

	t.logger.Warn(ctx, "indexing run reset by operator", zap.Int64("cabinet_id", cabinetID))
	return nil
}

// Get returns the cabinet's indexing status. A cabinet that was never
// indexed returns ErrNotFound.
func (t *Tracker) Get(ctx context.Context, cabinetID int64) (*IndexStatus, error) {
	var st IndexStatus
	err := t.db.GetContext(ctx, &st, `
		SELECT cabinet_id, status, run_id, total_chunks, last_error, started_at, finished_at, updated_at
		FROM index_status WHERE cabinet_id = ?`, cabinetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cabinet %d", ErrNotFound, cabinetID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading index status: %w", err)
	}
	return &st, nil
}
