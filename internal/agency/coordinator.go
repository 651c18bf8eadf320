// ABOUTME: Coordinator owning the full lifecycle of multi-seat agency executions
// ABOUTME: Single goroutine per agency serializes graph mutation; workers only run seat turns

package agency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agency-runtime/internal/conversation"
	"github.com/2389/agency-runtime/internal/seat"
	"github.com/2389/agency-runtime/internal/store"
	"github.com/2389/agency-runtime/internal/stream"
	"github.com/2389/agency-runtime/internal/workflow"
)

// ErrNotInitialized is returned when the coordinator is used before New or
// after Shutdown.
var ErrNotInitialized = errors.New("agency coordinator not initialized")

// NoRetries disables retries when set as Config.MaxRetries. A plain zero
// means "use the default" so that Config{} behaves like DefaultConfig().
const NoRetries = -1

// Config tunes scheduling, retry, and completion policy. Every zero field is
// replaced with its DefaultConfig value by New; use NoRetries or a negative
// CancelGrace to opt out of retries or the cancel grace period explicitly.
type Config struct {
	// Concurrency caps simultaneously running seat turns per agency.
	Concurrency int
	// MaxRetries is how many times a failed retryable task re-enters ready.
	// Zero means the default; NoRetries fails tasks on first error.
	MaxRetries int
	// RetryDelay is the base backoff; attempt n waits RetryDelay * 2^(n-1).
	RetryDelay time.Duration
	// SuccessThreshold is the fraction of tasks that must succeed for the
	// agency to complete. A run where every task succeeds always completes.
	SuccessThreshold float64
	// PersistMandatory aborts the agency when a persistence write fails
	// instead of logging and continuing.
	PersistMandatory bool
	// CancelGrace is how long in-flight seat turns get to finish after a
	// cancel request before their contexts are cut. Zero means the default;
	// negative cuts contexts immediately on cancel.
	CancelGrace time.Duration
}

// DefaultConfig returns the stock policy: 4 concurrent seats, 2 retries with
// 2s base backoff, half the tasks must succeed.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		MaxRetries:       2,
		RetryDelay:       2 * time.Second,
		SuccessThreshold: 0.5,
		CancelGrace:      10 * time.Second,
	}
}

// Request describes one agency to start.
type Request struct {
	// Strategy selects static (Plan) or emergent (Goal) planning.
	Strategy Strategy
	// Plan is the task plan for static agencies.
	Plan []workflow.TaskSpec
	// Goal is the objective; required for emergent, advisory for static.
	Goal string
	// ConversationID is the root conversation the agency reports into.
	// Empty means a fresh conversation is created.
	ConversationID string
	// UserID is stamped onto conversations created for this agency.
	UserID string
}

// taskResult is one finished seat turn handed back to the run loop.
type taskResult struct {
	taskID  string
	roleID  string
	outcome seat.Outcome
	err     error
}

// agencyRun is the live scheduling state for one agency. The run loop
// goroutine owns all mutation; mu only guards concurrent snapshot reads.
type agencyRun struct {
	mu      sync.Mutex
	session *session
	graph   *workflow.Graph
	goal    string
	slices  map[string]*conversation.Context // roleID -> seat context slice
	rootCtx *conversation.Context

	results  chan taskResult
	retries  chan string
	cancelCh chan string // buffered; carries the cancel reason
	done     chan struct{}

	hardCancel context.CancelFunc
	graceOnce  sync.Once
}

// requestCancel asks the run loop to stop dispatching and arms the grace
// timer that eventually cuts the worker contexts.
func (r *agencyRun) requestCancel(reason string, grace time.Duration) {
	r.graceOnce.Do(func() {
		select {
		case r.cancelCh <- reason:
		default:
		}
		if grace <= 0 {
			r.hardCancel()
			return
		}
		timer := time.AfterFunc(grace, r.hardCancel)
		go func() {
			<-r.done
			timer.Stop()
			r.hardCancel()
		}()
	})
}

// Coordinator starts, tracks, and finishes agency executions. It is the
// explicit lifecycle object for the agency subsystem: construct with New,
// stop with Shutdown. There are no package-level singletons.
type Coordinator struct {
	cfg         Config
	store       store.Store // nil means memory-only
	cache       *conversation.SessionCache
	executor    *seat.Executor
	decomposer  Decomposer
	broadcaster *stream.Broadcaster
	logger      *slog.Logger

	mu       sync.Mutex
	runs     map[string]*agencyRun
	finished map[string]Snapshot // terminal runs kept for Get until restart
	closed   bool
}

// New creates a coordinator. store may be nil for memory-only operation and
// decomposer may be nil when only static agencies are used.
func New(cfg Config, st store.Store, cache *conversation.SessionCache, exec *seat.Executor, dec Decomposer, bc *stream.Broadcaster, logger *slog.Logger) (*Coordinator, error) {
	if cache == nil {
		return nil, fmt.Errorf("session cache is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("seat executor is required")
	}
	if bc == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.CancelGrace == 0 {
		cfg.CancelGrace = DefaultConfig().CancelGrace
	} else if cfg.CancelGrace < 0 {
		cfg.CancelGrace = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:         cfg,
		store:       st,
		cache:       cache,
		executor:    exec,
		decomposer:  dec,
		broadcaster: bc,
		logger:      logger.With("component", "coordinator"),
		runs:        make(map[string]*agencyRun),
		finished:    make(map[string]Snapshot),
	}, nil
}

// Start validates the request, builds the workflow graph, persists the
// initial execution record, and launches the run loop. It returns the agency
// ID immediately; progress flows through Subscribe.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrNotInitialized
	}
	c.mu.Unlock()

	specs, err := c.resolvePlan(ctx, req)
	if err != nil {
		return "", err
	}

	agencyID := uuid.NewString()
	graph, err := workflow.NewGraph(agencyID, specs)
	if err != nil {
		return "", err
	}

	convID := req.ConversationID
	rootConv, err := c.cache.GetOrCreate(ctx, convID, conversation.Defaults{UserID: req.UserID})
	if err != nil {
		return "", fmt.Errorf("resolving root conversation: %w", err)
	}
	convID = rootConv.SessionID

	now := time.Now().UTC()
	sess := &session{
		AgencyID:        agencyID,
		WorkflowID:      graph.WorkflowID(),
		ConversationID:  convID,
		Strategy:        req.Strategy,
		AggregateStatus: StatusRunning,
		CreatedAt:       now,
		Seats:           make(map[string]*SeatState),
	}

	run := &agencyRun{
		session:  sess,
		graph:    graph,
		goal:     req.Goal,
		slices:   make(map[string]*conversation.Context),
		rootCtx:  rootConv,
		results:  make(chan taskResult, c.cfg.Concurrency),
		retries:  make(chan string, len(specs)),
		cancelCh: make(chan string, 1),
		done:     make(chan struct{}),
	}

	// One GMI instance per role for the lifetime of the agency. Each seat
	// gets its own context slice so parallel turns never share history.
	suffix := agencyID[:8]
	for _, spec := range specs {
		if _, ok := sess.Seats[spec.RoleID]; ok {
			continue
		}
		gmiID := fmt.Sprintf("%s:%s:%s", convID, spec.RoleID, suffix)
		slice, err := c.cache.GetOrCreate(ctx, gmiID, conversation.Defaults{
			UserID:          req.UserID,
			AgentInstanceID: gmiID,
			ActiveRoleID:    spec.RoleID,
		})
		if err != nil {
			return "", fmt.Errorf("resolving seat slice for role %q: %w", spec.RoleID, err)
		}
		run.slices[spec.RoleID] = slice
		sess.Seats[spec.RoleID] = &SeatState{
			RoleID:        spec.RoleID,
			GMIInstanceID: gmiID,
			Status:        string(workflow.StatePending),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	if err := c.persistInitial(ctx, sess); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrNotInitialized
	}
	c.runs[agencyID] = run
	c.mu.Unlock()

	c.broadcaster.OpenTopic(agencyID)
	workerCtx, hardCancel := context.WithCancel(context.Background())
	run.hardCancel = hardCancel

	c.logger.Info("agency started",
		"agency_id", agencyID,
		"strategy", req.Strategy,
		"conversation_id", convID,
		"tasks", len(specs))

	go c.runLoop(workerCtx, run)
	return agencyID, nil
}

// resolvePlan produces the concrete task plan for the request.
func (c *Coordinator) resolvePlan(ctx context.Context, req Request) ([]workflow.TaskSpec, error) {
	switch req.Strategy {
	case StrategyStatic:
		if len(req.Plan) == 0 {
			return nil, &workflow.ValidationError{Reason: "static agency requires a non-empty plan"}
		}
		return req.Plan, nil
	case StrategyEmergent:
		if c.decomposer == nil {
			return nil, &workflow.ValidationError{Reason: "emergent strategy requires a decomposer"}
		}
		if req.Goal == "" {
			return nil, &workflow.ValidationError{Reason: "emergent agency requires a goal"}
		}
		return c.decomposer.Decompose(ctx, req.Goal)
	default:
		return nil, &workflow.ValidationError{Reason: fmt.Sprintf("unknown strategy %q", req.Strategy)}
	}
}

// persistInitial writes the execution and seat rows before any task runs, so
// the execution is visible to List even if the process dies mid-run.
func (c *Coordinator) persistInitial(ctx context.Context, sess *session) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveExecution(ctx, sess.toRecord()); err != nil {
		if c.cfg.PersistMandatory {
			return fmt.Errorf("persisting execution: %w", err)
		}
		c.logger.Warn("failed to persist execution, continuing", "agency_id", sess.AgencyID, "error", err)
		return nil
	}
	for roleID := range sess.Seats {
		if err := c.store.SaveSeat(ctx, sess.seatRecord(roleID)); err != nil {
			if c.cfg.PersistMandatory {
				return fmt.Errorf("persisting seat %q: %w", roleID, err)
			}
			c.logger.Warn("failed to persist seat, continuing", "agency_id", sess.AgencyID, "role_id", roleID, "error", err)
		}
	}
	return nil
}

// Subscribe attaches to the live event stream of an agency. For unknown or
// already-terminal agencies the returned channel is closed immediately.
func (c *Coordinator) Subscribe(ctx context.Context, agencyID string) (<-chan stream.Event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	_, live := c.runs[agencyID]
	_, done := c.finished[agencyID]
	c.mu.Unlock()

	if !live && !done {
		if _, err := c.Get(ctx, agencyID); err != nil {
			return nil, err
		}
	}
	ch, _ := c.broadcaster.Subscribe(ctx, agencyID)
	return ch, nil
}

// Get returns a snapshot of the execution: live state for a running agency,
// the retained terminal snapshot for a finished one, and the persisted record
// for everything older. Returns store.ErrNotFound if the agency is unknown.
func (c *Coordinator) Get(ctx context.Context, agencyID string) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrNotInitialized
	}
	if run, ok := c.runs[agencyID]; ok {
		c.mu.Unlock()
		run.mu.Lock()
		snap := run.session.snapshot(run.graph)
		run.mu.Unlock()
		return snap, nil
	}
	if snap, ok := c.finished[agencyID]; ok {
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	if c.store == nil {
		return Snapshot{}, store.ErrNotFound
	}
	exec, seats, err := c.store.GetExecution(ctx, agencyID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFromRecord(exec, seats), nil
}

// List returns execution snapshots matching the filter, newest first. With a
// store attached the persisted table is authoritative (running executions are
// written there at start); memory-only coordinators list resident runs.
func (c *Coordinator) List(ctx context.Context, f store.ExecutionFilter) ([]Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	c.mu.Unlock()

	if c.store != nil {
		execs, err := c.store.ListExecutions(ctx, f)
		if err != nil {
			return nil, err
		}
		snaps := make([]Snapshot, 0, len(execs))
		for i := range execs {
			snaps = append(snaps, snapshotFromRecord(&execs[i], nil))
		}
		return snaps, nil
	}

	c.mu.Lock()
	var snaps []Snapshot
	for _, run := range c.runs {
		run.mu.Lock()
		snap := run.session.snapshot(run.graph)
		run.mu.Unlock()
		snaps = append(snaps, snap)
	}
	for _, snap := range c.finished {
		snaps = append(snaps, snap)
	}
	c.mu.Unlock()

	var out []Snapshot
	for _, snap := range snaps {
		if f.Status != "" && string(snap.AggregateStatus) != f.Status {
			continue
		}
		if f.ConversationID != "" && snap.ConversationID != f.ConversationID {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Cancel requests cooperative cancellation of a running agency. New tasks
// stop dispatching immediately; in-flight seat turns get the configured grace
// period before their contexts are cut. Cancelling a terminal or unknown
// agency returns store.ErrNotFound.
func (c *Coordinator) Cancel(agencyID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	run, ok := c.runs[agencyID]
	c.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	c.logger.Info("cancel requested", "agency_id", agencyID)
	run.requestCancel("agency cancelled", c.cfg.CancelGrace)
	return nil
}

// Shutdown stops accepting new agencies, cancels the running ones, and waits
// for their run loops to drain or ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := make([]*agencyRun, 0, len(c.runs))
	for _, run := range c.runs {
		running = append(running, run)
	}
	c.mu.Unlock()

	for _, run := range running {
		run.requestCancel("runtime shutting down", c.cfg.CancelGrace)
	}
	for _, run := range running {
		select {
		case <-run.done:
		case <-ctx.Done():
			run.hardCancel()
			return ctx.Err()
		}
	}
	return nil
}

// runLoop is the single goroutine that owns one agency's scheduling. Every
// graph and session mutation happens here (under run.mu for snapshot
// readers), so task transitions can never race.
func (c *Coordinator) runLoop(workerCtx context.Context, run *agencyRun) {
	defer close(run.done)
	defer run.hardCancel()

	agencyID := run.session.AgencyID
	inFlight := 0
	pendingRetries := 0
	cancelled := false
	cancelReason := ""

	for {
		if !cancelled {
			inFlight += c.dispatch(workerCtx, run, inFlight)
		}

		run.mu.Lock()
		terminal := run.graph.IsTerminal()
		run.mu.Unlock()

		if inFlight == 0 {
			if cancelled {
				c.skipRemaining(run, cancelReason)
				break
			}
			if terminal && pendingRetries == 0 {
				break
			}
			if pendingRetries == 0 {
				// No work in flight, nothing ready, graph not terminal:
				// every remaining task waits on a dependency that can no
				// longer change. The validator rejects cycles, so this
				// only happens if a transition was missed; fail loud.
				c.logger.Error("scheduler stalled", "agency_id", agencyID)
				c.skipRemaining(run, "scheduler stalled")
				break
			}
		}

		select {
		case res := <-run.results:
			inFlight--
			pendingRetries += c.handleResult(workerCtx, run, res, cancelled)
		case taskID := <-run.retries:
			pendingRetries--
			if cancelled {
				continue
			}
			run.mu.Lock()
			err := run.graph.Requeue(taskID)
			run.mu.Unlock()
			if err != nil {
				c.logger.Warn("requeue failed", "agency_id", agencyID, "task_id", taskID, "error", err)
			}
		case reason := <-run.cancelCh:
			cancelled = true
			cancelReason = reason
			c.logger.Info("agency cancelling", "agency_id", agencyID, "reason", reason, "in_flight", inFlight)
		}
	}

	c.finish(run, cancelled, cancelReason)
}

// dispatch promotes ready tasks and launches workers up to the concurrency
// cap. Returns the number of workers started. Seat start events are published
// here, strictly after the dependency success events published by
// handleResult, so a dependent's start can never precede its dependency's
// success on the stream.
func (c *Coordinator) dispatch(workerCtx context.Context, run *agencyRun, inFlight int) int {
	started := 0
	for inFlight+started < c.cfg.Concurrency {
		run.mu.Lock()
		ready := run.graph.ReadyTasks()
		if len(ready) == 0 {
			run.mu.Unlock()
			return started
		}
		task := *ready[0]
		if err := run.graph.MarkRunning(task.TaskID); err != nil {
			run.mu.Unlock()
			c.logger.Warn("mark running failed", "agency_id", run.session.AgencyID, "task_id", task.TaskID, "error", err)
			return started
		}
		st := run.session.Seats[task.RoleID]
		st.Status = string(workflow.StateRunning)
		st.UpdatedAt = time.Now().UTC()
		coord := seat.Coordination{
			Goal:           run.goal,
			SiblingOutputs: c.dependencyOutputs(run, task),
		}
		run.mu.Unlock()

		c.broadcaster.Publish(run.session.AgencyID, stream.Event{
			Kind:    stream.KindSeatStarted,
			TaskID:  task.TaskID,
			RoleID:  task.RoleID,
			Attempt: task.Attempt + 1,
		})

		slice := run.slices[task.RoleID]
		go func(task workflow.Task) {
			outcome, err := c.executor.Execute(workerCtx, task, slice, coord)
			run.results <- taskResult{taskID: task.TaskID, roleID: task.RoleID, outcome: outcome, err: err}
		}(task)
		started++
	}
	return started
}

// dependencyOutputs collects the outputs of the task's succeeded
// dependencies. Caller holds run.mu.
func (c *Coordinator) dependencyOutputs(run *agencyRun, task workflow.Task) map[string]string {
	outputs := make(map[string]string, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		dep, ok := run.graph.Task(depID)
		if ok && dep.State == workflow.StateSucceeded {
			outputs[depID] = dep.Output
		}
	}
	return outputs
}

// handleResult applies one finished seat turn to the graph and session,
// publishing the matching event. Returns 1 if a retry was scheduled, else 0.
func (c *Coordinator) handleResult(workerCtx context.Context, run *agencyRun, res taskResult, cancelled bool) int {
	agencyID := run.session.AgencyID
	now := time.Now().UTC()

	if res.err == nil {
		run.mu.Lock()
		if err := run.graph.MarkSucceeded(res.taskID, res.outcome.Output); err != nil {
			run.mu.Unlock()
			c.logger.Warn("mark succeeded failed", "agency_id", agencyID, "task_id", res.taskID, "error", err)
			return 0
		}
		st := run.session.Seats[res.roleID]
		st.Status = string(workflow.StateSucceeded)
		st.Cost += res.outcome.Cost
		st.OutputSummary = res.outcome.Output
		st.LastError = ""
		st.UpdatedAt = now
		run.session.AggregateCost += res.outcome.Cost
		run.mu.Unlock()

		c.persistSeat(run, res.roleID)
		c.broadcaster.Publish(agencyID, stream.Event{
			Kind:   stream.KindSeatSucceeded,
			TaskID: res.taskID,
			RoleID: res.roleID,
			Cost:   res.outcome.Cost,
			Output: res.outcome.Output,
		})
		c.logger.Info("seat succeeded", "agency_id", agencyID, "task_id", res.taskID, "role_id", res.roleID, "cost", res.outcome.Cost)
		return 0
	}

	run.mu.Lock()
	if err := run.graph.MarkFailed(res.taskID, res.err); err != nil {
		run.mu.Unlock()
		c.logger.Warn("mark failed failed", "agency_id", agencyID, "task_id", res.taskID, "error", err)
		return 0
	}
	task, _ := run.graph.Task(res.taskID)
	st := run.session.Seats[res.roleID]
	st.LastError = res.err.Error()
	st.UpdatedAt = now

	retry := !cancelled && seat.Retryable(res.err) && task.Attempt <= c.cfg.MaxRetries
	if retry {
		st.RetryCount = task.Attempt
		st.Status = string(workflow.StateReady)
		run.mu.Unlock()

		delay := c.cfg.RetryDelay << (task.Attempt - 1)
		c.broadcaster.Publish(agencyID, stream.Event{
			Kind:    stream.KindWorkflowUpdate,
			TaskID:  res.taskID,
			RoleID:  res.roleID,
			Attempt: task.Attempt,
			Error:   res.err.Error(),
			Detail:  fmt.Sprintf("retry scheduled in %s", delay),
		})
		c.logger.Warn("seat turn failed, retrying",
			"agency_id", agencyID, "task_id", res.taskID, "role_id", res.roleID,
			"attempt", task.Attempt, "delay", delay, "error", res.err)
		time.AfterFunc(delay, func() { run.retries <- res.taskID })
		return 1
	}

	st.Status = string(workflow.StateFailed)
	skipped := run.graph.CascadeSkip(res.taskID)
	for _, skippedID := range skipped {
		if t, ok := run.graph.Task(skippedID); ok {
			if skippedSeat, ok := run.session.Seats[t.RoleID]; ok && skippedSeat.Status == string(workflow.StatePending) {
				skippedSeat.Status = string(workflow.StateSkipped)
				skippedSeat.LastError = t.LastError
				skippedSeat.UpdatedAt = now
			}
		}
	}
	run.mu.Unlock()

	c.persistSeat(run, res.roleID)
	c.broadcaster.Publish(agencyID, stream.Event{
		Kind:    stream.KindSeatFailed,
		TaskID:  res.taskID,
		RoleID:  res.roleID,
		Attempt: task.Attempt,
		Error:   res.err.Error(),
	})
	for _, skippedID := range skipped {
		c.broadcaster.Publish(agencyID, stream.Event{
			Kind:   stream.KindWorkflowUpdate,
			TaskID: skippedID,
			Detail: "skipped: dependency failed",
		})
	}
	c.logger.Error("seat failed permanently",
		"agency_id", agencyID, "task_id", res.taskID, "role_id", res.roleID,
		"attempts", task.Attempt, "skipped", len(skipped), "error", res.err)
	return 0
}

// skipRemaining forces every non-terminal task into skipped so a cancelled
// agency still reaches a terminal aggregate state.
func (c *Coordinator) skipRemaining(run *agencyRun, reason string) {
	now := time.Now().UTC()
	run.mu.Lock()
	skipped := run.graph.SkipPending(reason)
	for _, id := range skipped {
		if t, ok := run.graph.Task(id); ok {
			if st, ok := run.session.Seats[t.RoleID]; ok && !workflow.State(st.Status).Terminal() {
				st.Status = string(workflow.StateSkipped)
				st.LastError = reason
				st.UpdatedAt = now
			}
		}
	}
	run.mu.Unlock()
	for _, id := range skipped {
		c.broadcaster.Publish(run.session.AgencyID, stream.Event{
			Kind:   stream.KindWorkflowUpdate,
			TaskID: id,
			Detail: "skipped: " + reason,
		})
	}
}

// finish computes the aggregate outcome, persists the final state, publishes
// the terminal event, and closes the topic. The terminal event is always the
// last event on the stream.
func (c *Coordinator) finish(run *agencyRun, cancelled bool, cancelReason string) {
	agencyID := run.session.AgencyID
	now := time.Now().UTC()

	run.mu.Lock()
	counts := run.graph.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	succeeded := counts[workflow.StateSucceeded]
	ratio := 0.0
	if total > 0 {
		ratio = float64(succeeded) / float64(total)
	}
	// A full success always completes; anything partial must clear the
	// threshold outright. Exactly-at-threshold counts as below it, so a
	// half-failed agency with the stock 0.5 policy reports failed.
	completed := !cancelled && (succeeded == total || ratio > c.cfg.SuccessThreshold)
	if completed {
		run.session.AggregateStatus = StatusCompleted
	} else {
		run.session.AggregateStatus = StatusFailed
	}
	run.session.CompletedAt = &now
	cost := run.session.AggregateCost
	run.mu.Unlock()

	c.persistFinal(run)

	ev := stream.Event{Kind: stream.KindAgencyCompleted, Cost: cost}
	if !completed {
		ev.Kind = stream.KindAgencyFailed
		if cancelled {
			ev.Error = cancelReason
		} else {
			ev.Error = fmt.Sprintf("success ratio %.2f at or below threshold %.2f", ratio, c.cfg.SuccessThreshold)
		}
	}
	c.broadcaster.Publish(agencyID, ev)
	c.broadcaster.CloseTopic(agencyID)

	run.mu.Lock()
	snap := run.session.snapshot(run.graph)
	run.mu.Unlock()

	c.mu.Lock()
	delete(c.runs, agencyID)
	if !c.closed {
		c.finished[agencyID] = snap
	}
	c.mu.Unlock()

	c.logger.Info("agency finished",
		"agency_id", agencyID,
		"status", snap.AggregateStatus,
		"succeeded", succeeded,
		"total", total,
		"cost", cost,
		"cancelled", cancelled)
}

// persistSeat writes one seat's current state. Failures are logged, never
// fatal mid-run; the terminal persist in finish is the authoritative write.
func (c *Coordinator) persistSeat(run *agencyRun, roleID string) {
	if c.store == nil {
		return
	}
	run.mu.Lock()
	rec := run.session.seatRecord(roleID)
	run.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.UpdateSeat(ctx, rec); err != nil {
		c.logger.Warn("failed to persist seat state", "agency_id", run.session.AgencyID, "role_id", roleID, "error", err)
	}
}

// persistFinal writes the terminal execution row, all seat rows, and flushes
// the agency's conversation slices through the cache.
func (c *Coordinator) persistFinal(run *agencyRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.store != nil {
		run.mu.Lock()
		execRec := run.session.toRecord()
		seatRecs := make([]*store.Seat, 0, len(run.session.Seats))
		for roleID := range run.session.Seats {
			seatRecs = append(seatRecs, run.session.seatRecord(roleID))
		}
		run.mu.Unlock()

		if err := c.store.UpdateExecution(ctx, execRec); err != nil {
			c.logger.Error("failed to persist final execution state", "agency_id", run.session.AgencyID, "error", err)
		}
		for _, rec := range seatRecs {
			if err := c.store.UpdateSeat(ctx, rec); err != nil {
				c.logger.Error("failed to persist final seat state", "agency_id", run.session.AgencyID, "role_id", rec.RoleID, "error", err)
			}
		}
	}

	for roleID, slice := range run.slices {
		if err := c.cache.Flush(ctx, slice); err != nil {
			c.logger.Warn("failed to flush seat slice", "agency_id", run.session.AgencyID, "role_id", roleID, "error", err)
		}
	}
	if err := c.cache.Flush(ctx, run.rootCtx); err != nil {
		c.logger.Warn("failed to flush root conversation", "agency_id", run.session.AgencyID, "error", err)
	}
}
