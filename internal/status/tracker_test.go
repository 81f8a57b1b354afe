package status

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	// Serialize writers at the pool level so concurrent Begins contend on
	// the conditional update, not on SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	tracker, err := NewTracker(context.Background(), db, nil)
	require.NoError(t, err)
	return tracker
}

func TestBeginCompleteGet(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Begin(ctx, 7, "run-1"))

	st, err := tracker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, st.Status)
	assert.Equal(t, "run-1", st.RunID)
	assert.Nil(t, st.FinishedAt)

	require.NoError(t, tracker.Complete(ctx, 7, "run-1", 42))

	st, err = tracker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.Status)
	assert.Equal(t, 42, st.TotalChunks)
	assert.Empty(t, st.LastError)
	require.NotNil(t, st.FinishedAt)
	assert.False(t, st.FinishedAt.Before(st.StartedAt))
}

func TestBeginWhileInProgress(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Begin(ctx, 7, "run-1"))
	err := tracker.Begin(ctx, 7, "run-2")
	assert.ErrorIs(t, err, ErrIndexingInProgress)

	// A different cabinet is unaffected.
	assert.NoError(t, tracker.Begin(ctx, 8, "run-3"))
}

func TestBeginAfterCompletion(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Begin(ctx, 7, "run-1"))
	require.NoError(t, tracker.Complete(ctx, 7, "run-1", 10))

	require.NoError(t, tracker.Begin(ctx, 7, "run-2"))

	st, err := tracker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, st.Status)
	assert.Equal(t, "run-2", st.RunID)
	assert.Equal(t, 0, st.TotalChunks, "a new run clears the previous total")
	assert.Nil(t, st.FinishedAt)
}

func TestFail(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Begin(ctx, 7, "run-1"))
	require.NoError(t, tracker.Fail(ctx, 7, "run-1", errors.New("embedding provider unreachable")))

	st, err := tracker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.Status)
	assert.Equal(t, "embedding provider unreachable", st.LastError)

	// A failed run releases the lock.
	assert.NoError(t, tracker.Begin(ctx, 7, "run-2"))

	st, err = tracker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, st.LastError, "a new run clears the previous error")
}

func TestFinishStaleRun(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Begin(ctx, 7, "run-1"))
	require.NoError(t, tracker.Complete(ctx, 7, "run-1", 5))

	// run-1 already finished; finishing it again must not clobber state.
	assert.ErrorIs(t, tracker.Complete(ctx, 7, "run-1", 99), ErrStaleRun)
	assert.ErrorIs(t, tracker.Fail(ctx, 7, "run-1", errors.New("late")), ErrStaleRun)

	st, err := tracker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalChunks)
}

func TestReset(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Begin(ctx, 7, "run-1"))
	require.NoError(t, tracker.Reset(ctx, 7))

	st, err := tracker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.Status)
	assert.Empty(t, st.RunID)
	assert.Nil(t, st.FinishedAt)

	// Reset released the lock.
	assert.NoError(t, tracker.Begin(ctx, 7, "run-2"))

	// Resetting a cabinet without an active run is an error.
	assert.ErrorIs(t, tracker.Reset(ctx, 99), ErrNotFound)
}

func TestGetUnknownCabinet(t *testing.T) {
	tracker := newTestTracker(t)

	_, err := tracker.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginConcurrent(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tracker.Begin(ctx, 7, "run")
		}(i)
	}
	wg.Wait()

	var wins, busy int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrIndexingInProgress):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent Begin must win")
	assert.Equal(t, workers-1, busy)
}
