// ABOUTME: In-memory session and seat state for one multi-seat agency execution
// ABOUTME: Snapshots are value copies so readers never observe partial mutation

package agency

import (
	"sort"
	"time"

	"github.com/2389/agency-runtime/internal/store"
	"github.com/2389/agency-runtime/internal/workflow"
)

// Strategy selects how an agency's workflow plan is produced.
type Strategy string

const (
	// StrategyStatic runs a caller-supplied task plan as-is.
	StrategyStatic Strategy = "static"
	// StrategyEmergent derives the plan from a goal via a Decomposer.
	StrategyEmergent Strategy = "emergent"
)

// Status is the aggregate lifecycle state of an agency execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SeatState is the live state of one role's seat within an execution.
type SeatState struct {
	RoleID        string    `json:"role_id"`
	GMIInstanceID string    `json:"gmi_instance_id"`
	Status        string    `json:"status"`
	RetryCount    int       `json:"retry_count"`
	Cost          float64   `json:"cost"`
	OutputSummary string    `json:"output_summary,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// session is the coordinator-private mutable state of one agency execution.
// All mutation happens under the owning run's lock.
type session struct {
	AgencyID        string
	WorkflowID      string
	ConversationID  string
	Strategy        Strategy
	AggregateStatus Status
	AggregateCost   float64
	CreatedAt       time.Time
	CompletedAt     *time.Time
	Seats           map[string]*SeatState // keyed by role ID
}

// Snapshot is a point-in-time copy of an execution's state, safe to hand to
// callers while the run is still mutating. Tasks is populated only for
// executions still resident in memory; historical executions loaded from the
// store carry seats only.
type Snapshot struct {
	AgencyID        string          `json:"agency_id"`
	WorkflowID      string          `json:"workflow_id"`
	ConversationID  string          `json:"conversation_id"`
	Strategy        Strategy        `json:"strategy"`
	AggregateStatus Status          `json:"aggregate_status"`
	AggregateCost   float64         `json:"aggregate_cost"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Seats           []SeatState     `json:"seats"`
	Tasks           []workflow.Task `json:"tasks,omitempty"`
}

// snapshot copies the session plus the graph's task table. Caller holds the
// run lock.
func (s *session) snapshot(g *workflow.Graph) Snapshot {
	snap := Snapshot{
		AgencyID:        s.AgencyID,
		WorkflowID:      s.WorkflowID,
		ConversationID:  s.ConversationID,
		Strategy:        s.Strategy,
		AggregateStatus: s.AggregateStatus,
		AggregateCost:   s.AggregateCost,
		CreatedAt:       s.CreatedAt,
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		snap.CompletedAt = &t
	}
	for _, seat := range s.Seats {
		snap.Seats = append(snap.Seats, *seat)
	}
	sort.Slice(snap.Seats, func(i, j int) bool { return snap.Seats[i].RoleID < snap.Seats[j].RoleID })
	if g != nil {
		snap.Tasks = g.Tasks()
	}
	return snap
}

// toRecord converts the session into its persisted execution row.
func (s *session) toRecord() *store.Execution {
	rec := &store.Execution{
		AgencyID:        s.AgencyID,
		WorkflowID:      s.WorkflowID,
		ConversationID:  s.ConversationID,
		Strategy:        string(s.Strategy),
		AggregateStatus: string(s.AggregateStatus),
		AggregateCost:   s.AggregateCost,
		CreatedAt:       s.CreatedAt,
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}

// seatRecord converts one seat's live state into its persisted row.
func (s *session) seatRecord(roleID string) *store.Seat {
	st := s.Seats[roleID]
	return &store.Seat{
		AgencyID:      s.AgencyID,
		RoleID:        st.RoleID,
		GMIInstanceID: st.GMIInstanceID,
		Status:        st.Status,
		RetryCount:    st.RetryCount,
		Cost:          st.Cost,
		OutputSummary: st.OutputSummary,
		LastError:     st.LastError,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}
}

// snapshotFromRecord rebuilds a Snapshot from persisted rows, for executions
// no longer resident in memory.
func snapshotFromRecord(exec *store.Execution, seats []store.Seat) Snapshot {
	snap := Snapshot{
		AgencyID:        exec.AgencyID,
		WorkflowID:      exec.WorkflowID,
		ConversationID:  exec.ConversationID,
		Strategy:        Strategy(exec.Strategy),
		AggregateStatus: Status(exec.AggregateStatus),
		AggregateCost:   exec.AggregateCost,
		CreatedAt:       exec.CreatedAt,
	}
	if exec.CompletedAt != nil {
		t := *exec.CompletedAt
		snap.CompletedAt = &t
	}
	for _, st := range seats {
		snap.Seats = append(snap.Seats, SeatState{
			RoleID:        st.RoleID,
			GMIInstanceID: st.GMIInstanceID,
			Status:        st.Status,
			RetryCount:    st.RetryCount,
			Cost:          st.Cost,
			OutputSummary: st.OutputSummary,
			LastError:     st.LastError,
			CreatedAt:     st.CreatedAt,
			UpdatedAt:     st.UpdatedAt,
		})
	}
	return snap
}
