package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecution(agencyID string) *Execution {
	return &Execution{
		AgencyID:        agencyID,
		WorkflowID:      "wf-1",
		ConversationID:  "sess-1",
		Strategy:        "static",
		AggregateStatus: "running",
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStore_SaveAndGetExecution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exec := testExecution("agency-1")
	require.NoError(t, store.SaveExecution(ctx, exec))

	now := time.Now().UTC().Truncate(time.Millisecond)
	seat := &Seat{
		AgencyID:      "agency-1",
		RoleID:        "research",
		GMIInstanceID: "sess-1:research:abc",
		Status:        "running",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.SaveSeat(ctx, seat))

	loaded, seats, err := store.GetExecution(ctx, "agency-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", loaded.WorkflowID)
	assert.Equal(t, "running", loaded.AggregateStatus)
	assert.Nil(t, loaded.CompletedAt)
	require.Len(t, seats, 1)
	assert.Equal(t, "sess-1:research:abc", seats[0].GMIInstanceID)
}

func TestStore_GetExecution_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, _, err := store.GetExecution(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateExecution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exec := testExecution("agency-1")
	require.NoError(t, store.SaveExecution(ctx, exec))

	completed := time.Now().UTC().Truncate(time.Millisecond)
	exec.AggregateStatus = "completed"
	exec.AggregateCost = 0.03
	exec.CompletedAt = &completed
	require.NoError(t, store.UpdateExecution(ctx, exec))

	loaded, _, err := store.GetExecution(ctx, "agency-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", loaded.AggregateStatus)
	assert.InDelta(t, 0.03, loaded.AggregateCost, 1e-9)
	require.NotNil(t, loaded.CompletedAt)
	assert.True(t, loaded.CompletedAt.Equal(completed))
}

func TestStore_UpdateExecution_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateExecution(context.Background(), testExecution("nonexistent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateSeat(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveExecution(ctx, testExecution("agency-1")))

	now := time.Now().UTC().Truncate(time.Millisecond)
	seat := &Seat{
		AgencyID:      "agency-1",
		RoleID:        "write",
		GMIInstanceID: "sess-1:write:xyz",
		Status:        "running",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.SaveSeat(ctx, seat))

	seat.Status = "failed"
	seat.RetryCount = 2
	seat.LastError = "model timeout"
	seat.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.UpdateSeat(ctx, seat))

	_, seats, err := store.GetExecution(ctx, "agency-1")
	require.NoError(t, err)
	require.Len(t, seats, 1)
	assert.Equal(t, "failed", seats[0].Status)
	assert.Equal(t, 2, seats[0].RetryCount)
	assert.Equal(t, "model timeout", seats[0].LastError)
}

func TestStore_DeleteExecution_CascadesSeats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveExecution(ctx, testExecution("agency-1")))
	now := time.Now().UTC()
	require.NoError(t, store.SaveSeat(ctx, &Seat{
		AgencyID: "agency-1", RoleID: "research", GMIInstanceID: "g", Status: "running",
		CreatedAt: now, UpdatedAt: now,
	}))

	_, err := store.db.ExecContext(ctx, "DELETE FROM agency_executions WHERE agency_id = ?", "agency-1")
	require.NoError(t, err)

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM agency_seats WHERE agency_id = ?", "agency-1").Scan(&count))
	assert.Equal(t, 0, count, "seats should cascade delete with execution")
}

func TestStore_ListExecutions_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	execs := []*Execution{
		{AgencyID: "a-1", WorkflowID: "wf", ConversationID: "sess-1", Strategy: "static", AggregateStatus: "completed", CreatedAt: time.Now().UTC().Add(-2 * time.Minute)},
		{AgencyID: "a-2", WorkflowID: "wf", ConversationID: "sess-1", Strategy: "emergent", AggregateStatus: "failed", CreatedAt: time.Now().UTC().Add(-time.Minute)},
		{AgencyID: "a-3", WorkflowID: "wf", ConversationID: "sess-2", Strategy: "static", AggregateStatus: "completed", CreatedAt: time.Now().UTC()},
	}
	for _, exec := range execs {
		require.NoError(t, store.SaveExecution(ctx, exec))
	}

	all, err := store.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-3", all[0].AgencyID, "most recent first")

	completed, err := store.ListExecutions(ctx, ExecutionFilter{Status: "completed"})
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	byConv, err := store.ListExecutions(ctx, ExecutionFilter{ConversationID: "sess-1", Status: "failed"})
	require.NoError(t, err)
	require.Len(t, byConv, 1)
	assert.Equal(t, "a-2", byConv[0].AgencyID)

	limited, err := store.ListExecutions(ctx, ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
