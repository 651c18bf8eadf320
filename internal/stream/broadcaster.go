// ABOUTME: In-memory fan-out broadcaster for typed agency progress events
// ABOUTME: Per-agency ordered topics; slow subscribers are disconnected, never block the coordinator

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Kind identifies the type of a progress event.
type Kind string

const (
	KindSeatStarted     Kind = "seat_started"
	KindSeatProgress    Kind = "seat_progress"
	KindSeatSucceeded   Kind = "seat_succeeded"
	KindSeatFailed      Kind = "seat_failed"
	KindWorkflowUpdate  Kind = "workflow_update"
	KindAgencyCompleted Kind = "agency_completed"
	KindAgencyFailed    Kind = "agency_failed"
)

// Event is one typed progress update for an agency execution. Sequence is
// monotonic per agency; events for a single seat are strictly ordered.
type Event struct {
	Kind      Kind      `json:"kind"`
	AgencyID  string    `json:"agency_id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id,omitempty"`
	RoleID    string    `json:"role_id,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Cost      float64   `json:"cost,omitempty"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// topic is the subscriber set and ordering state for one agency.
type topic struct {
	subscribers map[string]chan Event
	nextSeq     uint64
	closed      bool
}

// Broadcaster provides in-memory pub/sub for agency progress events. A
// subscriber receives events from the point of subscription forward; there is
// no replay (callers wanting history take a snapshot first). Publishing never
// blocks: a subscriber whose buffer is full is disconnected rather than ever
// stalling the coordinator or silently losing an event while still attached.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		topics: make(map[string]*topic),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given agency. Returns
// the event channel and a subscription ID for later unsubscription. The
// subscription is cleaned up automatically when ctx is cancelled. The channel
// is closed when the topic closes after its terminal event.
func (b *Broadcaster) Subscribe(ctx context.Context, agencyID string) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	tp, ok := b.topics[agencyID]
	if !ok || tp.closed {
		b.mu.Unlock()
		// Terminal or unknown agency: nothing further will be published.
		close(ch)
		return ch, subID
	}
	tp.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "agency_id", agencyID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(agencyID, subID)
	}()

	return ch, subID
}

// OpenTopic creates the topic for an agency so subscribers can attach before
// the first event is published. Called by the coordinator at start.
func (b *Broadcaster) OpenTopic(agencyID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[agencyID]; !ok {
		b.topics[agencyID] = &topic{subscribers: make(map[string]chan Event)}
	}
}

// Publish delivers an event to all current subscribers of the agency,
// stamping the per-agency sequence number. Subscribers whose buffers are full
// are disconnected (channel closed, subscription removed).
func (b *Broadcaster) Publish(agencyID string, ev Event) {
	b.mu.Lock()
	tp, ok := b.topics[agencyID]
	if !ok || tp.closed {
		b.mu.Unlock()
		return
	}

	tp.nextSeq++
	ev.AgencyID = agencyID
	ev.Sequence = tp.nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var dropped []string
	for id, ch := range tp.subscribers {
		select {
		case ch <- ev:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		close(tp.subscribers[id])
		delete(tp.subscribers, id)
	}
	b.mu.Unlock()

	for _, id := range dropped {
		b.logger.Warn("disconnected slow subscriber",
			"agency_id", agencyID,
			"sub_id", id,
			"at_sequence", ev.Sequence)
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(agencyID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tp, ok := b.topics[agencyID]
	if !ok {
		return
	}
	ch, exists := tp.subscribers[subID]
	if !exists {
		return
	}
	delete(tp.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "agency_id", agencyID, "sub_id", subID)
}

// CloseTopic closes all subscriber channels for an agency and removes the
// topic. Called by the coordinator after publishing the terminal event, so
// every connected subscriber observes the terminal event and then channel
// close.
func (b *Broadcaster) CloseTopic(agencyID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tp, ok := b.topics[agencyID]
	if !ok {
		return
	}
	for subID, ch := range tp.subscribers {
		close(ch)
		delete(tp.subscribers, subID)
	}
	tp.closed = true
	delete(b.topics, agencyID)

	b.logger.Debug("topic closed", "agency_id", agencyID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for agencyID, tp := range b.topics {
		for subID, ch := range tp.subscribers {
			close(ch)
			delete(tp.subscribers, subID)
		}
		delete(b.topics, agencyID)
	}

	b.logger.Debug("broadcaster closed")
}
