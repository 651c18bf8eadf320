// ABOUTME: Coordinator tests covering scheduling, retry, cancellation, and event ordering
// ABOUTME: Uses scripted runners gated on subscription so no published event is missed

package agency

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agency-runtime/internal/conversation"
	"github.com/2389/agency-runtime/internal/seat"
	"github.com/2389/agency-runtime/internal/store"
	"github.com/2389/agency-runtime/internal/stream"
	"github.com/2389/agency-runtime/internal/workflow"
)

// testHarness bundles the coordinator with its collaborators so tests can
// reach into the store and broadcaster directly.
type testHarness struct {
	coord *Coordinator
	store *store.SQLiteStore
	cache *conversation.SessionCache
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.CancelGrace = 50 * time.Millisecond
	return cfg
}

func setupCoordinator(t *testing.T, cfg Config, runner seat.TurnRunner, dec Decomposer) *testHarness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agency.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cache, err := conversation.NewSessionCache(32, st, true, nil)
	require.NoError(t, err)

	exec := seat.NewExecutor(runner, nil, nil, time.Second, nil)
	bc := stream.NewBroadcaster(nil)
	t.Cleanup(bc.Close)

	coord, err := New(cfg, st, cache, exec, dec, bc, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})

	return &testHarness{coord: coord, store: st, cache: cache}
}

// gatedRunner holds every turn until released, so a test can subscribe to
// the event stream before any seat produces output.
type gatedRunner struct {
	release chan struct{}
	inner   seat.TurnRunner
}

func newGatedRunner(inner seat.TurnRunner) *gatedRunner {
	return &gatedRunner{release: make(chan struct{}), inner: inner}
}

func (g *gatedRunner) RunTurn(ctx context.Context, roleID string, conv *conversation.Context, input string) (seat.TurnResult, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return seat.TurnResult{}, ctx.Err()
	}
	return g.inner.RunTurn(ctx, roleID, conv, input)
}

// collectEvents drains the subscription until the topic closes after its
// terminal event.
func collectEvents(t *testing.T, ch <-chan stream.Event) []stream.Event {
	t.Helper()
	var events []stream.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event; got %d events", len(events))
		}
	}
}

func eventIndex(events []stream.Event, kind stream.Kind, taskID string) int {
	for i, ev := range events {
		if ev.Kind == kind && (taskID == "" || ev.TaskID == taskID) {
			return i
		}
	}
	return -1
}

func countKind(events []stream.Event, kind stream.Kind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func waitTerminal(t *testing.T, c *Coordinator, agencyID string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := c.Get(context.Background(), agencyID)
		require.NoError(t, err)
		if snap.AggregateStatus != StatusRunning {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("agency never reached a terminal state")
	return Snapshot{}
}

func researchWritePlan() []workflow.TaskSpec {
	return []workflow.TaskSpec{
		{TaskID: "research", RoleID: "researcher", Description: "research the topic"},
		{TaskID: "write", RoleID: "writer", Description: "write the summary", DependsOn: []string{"research"}},
	}
}

func TestCoordinator_ResearchWriteScenario(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		Script("researcher", seat.TurnResult{Content: "research findings", Cost: 0.01}).
		Script("writer", seat.TurnResult{Content: "final summary", Cost: 0.02})
	gated := newGatedRunner(scripted)
	h := setupCoordinator(t, fastConfig(), gated, nil)
	ctx := context.Background()

	agencyID, err := h.coord.Start(ctx, Request{
		Strategy: StrategyStatic,
		Plan:     researchWritePlan(),
		Goal:     "summarize the topic",
	})
	require.NoError(t, err)

	ch, err := h.coord.Subscribe(ctx, agencyID)
	require.NoError(t, err)
	close(gated.release)

	events := collectEvents(t, ch)
	require.NotEmpty(t, events)

	// Two seat successes, then the terminal completion event last.
	assert.Equal(t, 2, countKind(events, stream.KindSeatSucceeded))
	last := events[len(events)-1]
	assert.Equal(t, stream.KindAgencyCompleted, last.Kind)
	assert.InDelta(t, 0.03, last.Cost, 1e-9)
	succIdx := eventIndex(events, stream.KindSeatSucceeded, "write")
	doneIdx := eventIndex(events, stream.KindAgencyCompleted, "")
	assert.Greater(t, doneIdx, succIdx)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusCompleted, snap.AggregateStatus)
	assert.InDelta(t, 0.03, snap.AggregateCost, 1e-9)
	require.Len(t, snap.Seats, 2)
	require.NotNil(t, snap.CompletedAt)

	// The writer's input carried the researcher's output forward.
	writeTask := findTask(t, snap.Tasks, "write")
	assert.Equal(t, "final summary", writeTask.Output)

	// Final state is persisted.
	exec, seats, err := h.store.GetExecution(ctx, agencyID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), exec.AggregateStatus)
	assert.InDelta(t, 0.03, exec.AggregateCost, 1e-9)
	assert.Len(t, seats, 2)
}

func findTask(t *testing.T, tasks []workflow.Task, id string) workflow.Task {
	t.Helper()
	for _, task := range tasks {
		if task.TaskID == id {
			return task
		}
	}
	t.Fatalf("task %q not in snapshot", id)
	return workflow.Task{}
}

func TestCoordinator_DependentNeverStartsBeforeDependencySucceeds(t *testing.T) {
	gated := newGatedRunner(seat.NewScriptedRunner())
	h := setupCoordinator(t, fastConfig(), gated, nil)
	ctx := context.Background()

	agencyID, err := h.coord.Start(ctx, Request{Strategy: StrategyStatic, Plan: researchWritePlan()})
	require.NoError(t, err)

	ch, err := h.coord.Subscribe(ctx, agencyID)
	require.NoError(t, err)
	close(gated.release)

	events := collectEvents(t, ch)
	researchDone := eventIndex(events, stream.KindSeatSucceeded, "research")
	writeStarted := eventIndex(events, stream.KindSeatStarted, "write")
	require.GreaterOrEqual(t, researchDone, 0)
	require.GreaterOrEqual(t, writeStarted, 0)
	assert.Greater(t, writeStarted, researchDone,
		"dependent seat started before its dependency succeeded")
}

func TestCoordinator_PartialFailureBelowThreshold(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		Script("alpha", seat.TurnResult{Content: "alpha output", Cost: 0.01}).
		FailWith("beta", seat.Permanent(errors.New("model rejected the request")))
	h := setupCoordinator(t, fastConfig(), scripted, nil)
	ctx := context.Background()

	agencyID, err := h.coord.Start(ctx, Request{
		Strategy: StrategyStatic,
		Plan: []workflow.TaskSpec{
			{TaskID: "a", RoleID: "alpha", Description: "independent task a"},
			{TaskID: "b", RoleID: "beta", Description: "independent task b"},
		},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusFailed, snap.AggregateStatus)

	// The failed agency still exposes the succeeded seat's output.
	var alphaSeat, betaSeat SeatState
	for _, s := range snap.Seats {
		switch s.RoleID {
		case "alpha":
			alphaSeat = s
		case "beta":
			betaSeat = s
		}
	}
	assert.Equal(t, string(workflow.StateSucceeded), alphaSeat.Status)
	assert.Equal(t, "alpha output", alphaSeat.OutputSummary)
	assert.Equal(t, string(workflow.StateFailed), betaSeat.Status)
	assert.Contains(t, betaSeat.LastError, "model rejected")

	exec, _, err := h.store.GetExecution(ctx, agencyID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailed), exec.AggregateStatus)
}

func TestCoordinator_RetryBudgetExhausted(t *testing.T) {
	flaky := errors.New("upstream connection reset")
	scripted := seat.NewScriptedRunner().FailWith("solo", flaky, flaky, flaky, flaky)
	cfg := fastConfig()
	cfg.MaxRetries = 2
	h := setupCoordinator(t, cfg, scripted, nil)

	agencyID, err := h.coord.Start(context.Background(), Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "only", RoleID: "solo", Description: "flaky task"}},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusFailed, snap.AggregateStatus)

	// Initial attempt plus exactly MaxRetries retries.
	assert.Equal(t, 3, scripted.Calls("solo"))
	require.Len(t, snap.Seats, 1)
	assert.Equal(t, 2, snap.Seats[0].RetryCount)
	assert.Equal(t, string(workflow.StateFailed), snap.Seats[0].Status)
}

func TestCoordinator_RetryThenSuccess(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		FailWith("solo", errors.New("transient timeout")).
		Script("solo", seat.TurnResult{Content: "made it", Cost: 0.05})
	gated := newGatedRunner(scripted)
	h := setupCoordinator(t, fastConfig(), gated, nil)
	ctx := context.Background()

	agencyID, err := h.coord.Start(ctx, Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "only", RoleID: "solo", Description: "eventually works"}},
	})
	require.NoError(t, err)

	ch, err := h.coord.Subscribe(ctx, agencyID)
	require.NoError(t, err)
	close(gated.release)
	events := collectEvents(t, ch)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusCompleted, snap.AggregateStatus)
	assert.Equal(t, 2, scripted.Calls("solo"))
	assert.Equal(t, 1, snap.Seats[0].RetryCount)

	retryIdx := eventIndex(events, stream.KindWorkflowUpdate, "only")
	require.GreaterOrEqual(t, retryIdx, 0)
	assert.Contains(t, events[retryIdx].Detail, "retry scheduled")
	assert.Equal(t, stream.KindAgencyCompleted, events[len(events)-1].Kind)
}

func TestCoordinator_IndependentTasksAllRun(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		Script("alpha", seat.TurnResult{Content: "alpha findings", Cost: 0.01}).
		Script("beta", seat.TurnResult{Content: "beta findings", Cost: 0.01})
	h := setupCoordinator(t, fastConfig(), scripted, nil)

	agencyID, err := h.coord.Start(context.Background(), Request{
		Strategy: StrategyStatic,
		Plan: []workflow.TaskSpec{
			{TaskID: "alpha", RoleID: "alpha", Description: "first of two siblings"},
			{TaskID: "beta", RoleID: "beta", Description: "second of two siblings"},
		},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusCompleted, snap.AggregateStatus)
	assert.Equal(t, 1, scripted.Calls("alpha"))
	assert.Equal(t, 1, scripted.Calls("beta"))
	for _, id := range []string{"alpha", "beta"} {
		assert.Equal(t, workflow.StateSucceeded, findTask(t, snap.Tasks, id).State)
	}
}

func TestCoordinator_ZeroValueConfigRetries(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		FailWith("solo", errors.New("transient timeout")).
		Script("solo", seat.TurnResult{Content: "made it", Cost: 0.05})
	// MaxRetries and CancelGrace left zero; New fills in the defaults.
	h := setupCoordinator(t, Config{RetryDelay: 5 * time.Millisecond}, scripted, nil)

	agencyID, err := h.coord.Start(context.Background(), Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "only", RoleID: "solo", Description: "eventually works"}},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusCompleted, snap.AggregateStatus)
	assert.Equal(t, 2, scripted.Calls("solo"))
}

func TestCoordinator_NoRetriesFailsOnFirstError(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		FailWith("solo", errors.New("transient timeout")).
		Script("solo", seat.TurnResult{Content: "never reached"})
	cfg := fastConfig()
	cfg.MaxRetries = NoRetries
	h := setupCoordinator(t, cfg, scripted, nil)

	agencyID, err := h.coord.Start(context.Background(), Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "only", RoleID: "solo", Description: "no second chance"}},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusFailed, snap.AggregateStatus)
	assert.Equal(t, 1, scripted.Calls("solo"))
	assert.Equal(t, 0, snap.Seats[0].RetryCount)
}

func TestCoordinator_FailureCascadesSkip(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		FailWith("alpha", seat.Permanent(errors.New("cannot proceed")))
	cfg := fastConfig()
	cfg.SuccessThreshold = 0.1
	h := setupCoordinator(t, cfg, scripted, nil)

	agencyID, err := h.coord.Start(context.Background(), Request{
		Strategy: StrategyStatic,
		Plan: []workflow.TaskSpec{
			{TaskID: "root", RoleID: "alpha", Description: "root task"},
			{TaskID: "mid", RoleID: "beta", Description: "depends on root", DependsOn: []string{"root"}},
			{TaskID: "leaf", RoleID: "gamma", Description: "depends on mid", DependsOn: []string{"mid"}},
		},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusFailed, snap.AggregateStatus)
	assert.Equal(t, workflow.StateFailed, findTask(t, snap.Tasks, "root").State)
	assert.Equal(t, workflow.StateSkipped, findTask(t, snap.Tasks, "mid").State)
	assert.Equal(t, workflow.StateSkipped, findTask(t, snap.Tasks, "leaf").State)
	assert.Equal(t, 0, scripted.Calls("beta"))
	assert.Equal(t, 0, scripted.Calls("gamma"))
}

func TestCoordinator_ConcurrencyCap(t *testing.T) {
	var current, peak atomic.Int64
	runner := seat.RunnerFunc(func(ctx context.Context, roleID string, conv *conversation.Context, input string) (seat.TurnResult, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return seat.TurnResult{Content: "done"}, nil
	})

	cfg := fastConfig()
	cfg.Concurrency = 2
	h := setupCoordinator(t, cfg, runner, nil)

	plan := make([]workflow.TaskSpec, 0, 6)
	for i := 0; i < 6; i++ {
		plan = append(plan, workflow.TaskSpec{
			TaskID:      fmt.Sprintf("t%d", i),
			RoleID:      fmt.Sprintf("r%d", i),
			Description: "independent work",
		})
	}
	agencyID, err := h.coord.Start(context.Background(), Request{Strategy: StrategyStatic, Plan: plan})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusCompleted, snap.AggregateStatus)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestCoordinator_Cancel(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	runner := seat.RunnerFunc(func(ctx context.Context, roleID string, conv *conversation.Context, input string) (seat.TurnResult, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return seat.TurnResult{}, ctx.Err()
	})
	h := setupCoordinator(t, fastConfig(), runner, nil)
	ctx := context.Background()

	agencyID, err := h.coord.Start(ctx, Request{Strategy: StrategyStatic, Plan: researchWritePlan()})
	require.NoError(t, err)

	ch, err := h.coord.Subscribe(ctx, agencyID)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first seat never started")
	}
	require.NoError(t, h.coord.Cancel(agencyID))

	events := collectEvents(t, ch)
	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusFailed, snap.AggregateStatus)

	last := events[len(events)-1]
	assert.Equal(t, stream.KindAgencyFailed, last.Kind)
	assert.Contains(t, last.Error, "cancelled")

	// The never-dispatched dependent ends skipped, not stuck pending.
	assert.Equal(t, workflow.StateSkipped, findTask(t, snap.Tasks, "write").State)

	// Cancelling again reports not found once the run is terminal.
	assert.ErrorIs(t, h.coord.Cancel(agencyID), store.ErrNotFound)
}

func TestCoordinator_EmergentPipeline(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		Script("researcher", seat.TurnResult{Content: "findings", Cost: 0.01}).
		Script("writer", seat.TurnResult{Content: "draft", Cost: 0.02})
	dec := &PipelineDecomposer{Roles: []string{"researcher", "writer"}}
	h := setupCoordinator(t, fastConfig(), scripted, dec)

	agencyID, err := h.coord.Start(context.Background(), Request{
		Strategy: StrategyEmergent,
		Goal:     "produce a briefing",
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.coord, agencyID)
	assert.Equal(t, StatusCompleted, snap.AggregateStatus)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, []string{"researcher-1"}, findTask(t, snap.Tasks, "writer-2").DependsOn)
}

func TestCoordinator_StartValidation(t *testing.T) {
	h := setupCoordinator(t, fastConfig(), seat.NewScriptedRunner(), nil)
	ctx := context.Background()

	_, err := h.coord.Start(ctx, Request{Strategy: StrategyStatic})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	_, err = h.coord.Start(ctx, Request{Strategy: StrategyEmergent, Goal: "anything"})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	_, err = h.coord.Start(ctx, Request{Strategy: "telepathic"})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	// Graph validation surfaces through Start unchanged.
	_, err = h.coord.Start(ctx, Request{
		Strategy: StrategyStatic,
		Plan: []workflow.TaskSpec{
			{TaskID: "a", RoleID: "r", DependsOn: []string{"b"}},
			{TaskID: "b", RoleID: "r", DependsOn: []string{"a"}},
		},
	})
	var cycleErr *workflow.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestCoordinator_GetUnknown(t *testing.T) {
	h := setupCoordinator(t, fastConfig(), seat.NewScriptedRunner(), nil)
	_, err := h.coord.Get(context.Background(), "no-such-agency")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCoordinator_ListFilters(t *testing.T) {
	scripted := seat.NewScriptedRunner().
		FailWith("beta", seat.Permanent(errors.New("nope")))
	h := setupCoordinator(t, fastConfig(), scripted, nil)
	ctx := context.Background()

	okID, err := h.coord.Start(ctx, Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "a", RoleID: "alpha", Description: "works"}},
	})
	require.NoError(t, err)
	failID, err := h.coord.Start(ctx, Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "b", RoleID: "beta", Description: "breaks"}},
	})
	require.NoError(t, err)

	waitTerminal(t, h.coord, okID)
	waitTerminal(t, h.coord, failID)

	all, err := h.coord.List(ctx, store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := h.coord.List(ctx, store.ExecutionFilter{Status: string(StatusCompleted)})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, okID, completed[0].AgencyID)
}

func TestCoordinator_SubscribeAfterTerminalClosesImmediately(t *testing.T) {
	h := setupCoordinator(t, fastConfig(), seat.NewScriptedRunner(), nil)
	ctx := context.Background()

	agencyID, err := h.coord.Start(ctx, Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "a", RoleID: "alpha", Description: "quick"}},
	})
	require.NoError(t, err)
	waitTerminal(t, h.coord, agencyID)

	ch, err := h.coord.Subscribe(ctx, agencyID)
	require.NoError(t, err)
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed channel, got event")
	case <-time.After(time.Second):
		t.Fatal("channel neither closed nor delivered")
	}
}

func TestCoordinator_MemoryOnlyMode(t *testing.T) {
	cache, err := conversation.NewSessionCache(8, nil, false, nil)
	require.NoError(t, err)
	exec := seat.NewExecutor(seat.NewScriptedRunner(), nil, nil, time.Second, nil)
	bc := stream.NewBroadcaster(nil)
	t.Cleanup(bc.Close)

	coord, err := New(fastConfig(), nil, cache, exec, nil, bc, nil)
	require.NoError(t, err)

	agencyID, err := coord.Start(context.Background(), Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "a", RoleID: "alpha", Description: "in memory"}},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, coord, agencyID)
	assert.Equal(t, StatusCompleted, snap.AggregateStatus)

	snaps, err := coord.List(context.Background(), store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestCoordinator_ShutdownRejectsNewWork(t *testing.T) {
	h := setupCoordinator(t, fastConfig(), seat.NewScriptedRunner(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Shutdown(ctx))

	_, err := h.coord.Start(context.Background(), Request{
		Strategy: StrategyStatic,
		Plan:     []workflow.TaskSpec{{TaskID: "a", RoleID: "alpha"}},
	})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = h.coord.Get(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPipelineDecomposer(t *testing.T) {
	dec := &PipelineDecomposer{Roles: []string{"a", "b", "c"}}
	specs, err := dec.Decompose(context.Background(), "some goal")
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Empty(t, specs[0].DependsOn)
	assert.Equal(t, []string{"a-1"}, specs[1].DependsOn)
	assert.Equal(t, []string{"b-2"}, specs[2].DependsOn)

	_, err = dec.Decompose(context.Background(), "   ")
	assert.ErrorIs(t, err, workflow.ErrValidation)

	empty := &PipelineDecomposer{}
	_, err = empty.Decompose(context.Background(), "goal")
	assert.ErrorIs(t, err, workflow.ErrValidation)
}
