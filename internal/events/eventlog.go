// Package events keeps the ledger of everything the engine did to a save.
// The log is append-only; the UI bridge tails it and an optional persister
// copies it to durable storage.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a game event.
type EventType string

const (
	EventTypeLoaded              EventType = "LOADED"
	EventTypeTick                EventType = "TICK"
	EventTypeClick               EventType = "CLICK"
	EventTypeClickRejected       EventType = "CLICK_REJECTED"
	EventTypePurchase            EventType = "PURCHASE"
	EventTypePurchaseRejected    EventType = "PURCHASE_REJECTED"
	EventTypeAchievementUnlocked EventType = "ACHIEVEMENT_UNLOCKED"
	EventTypeReset               EventType = "RESET"
	EventTypeSaveFailed          EventType = "SAVE_FAILED"
)

// Payload is event-specific data. Values must be JSON friendly.
type Payload map[string]interface{}

// GameEvent represents an immutable record of an action in the game.
type GameEvent struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Slot      string    `json:"slot"`
	Payload   Payload   `json:"payload,omitempty"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(ctx context.Context, event GameEvent) error
}

// Defaults for Options fields left at zero.
const (
	DefaultRetention = 500
	DefaultBuffer    = 1024
)

// Options configures an EventLog.
type Options struct {
	// Retention is how many events stay in memory.
	Retention int
	// Buffer is the depth of the write-through queue.
	Buffer int
	// OnPersist is called after every persister write, with its error.
	OnPersist func(GameEvent, error)
	// StartSeq continues numbering after a persisted history; the first
	// event gets StartSeq+1.
	StartSeq int64
}

// EventLog is the in-memory, bounded, append-only log of game events.
type EventLog struct {
	mu        sync.RWMutex
	events    []GameEvent
	retention int
	seq       int64

	persister EventPersister
	queue     chan GameEvent
	onPersist func(GameEvent, error)
	dropped   atomic.Int64
}

// NewEventLog creates a new event log with an optional persister. Writes
// to the persister only happen while Run is active.
func NewEventLog(persister EventPersister, opts Options) *EventLog {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}

	el := &EventLog{
		events:    make([]GameEvent, 0, opts.Retention),
		retention: opts.Retention,
		seq:       opts.StartSeq,
		persister: persister,
		onPersist: opts.OnPersist,
	}
	if persister != nil {
		el.queue = make(chan GameEvent, opts.Buffer)
	}
	return el
}

// NewID creates a unique event identifier.
func NewID() string {
	return uuid.NewString()
}

// Record builds an event and appends it.
func (el *EventLog) Record(eventType EventType, slot string, at time.Time, payload Payload) GameEvent {
	return el.Append(GameEvent{
		Timestamp: at,
		Type:      eventType,
		Slot:      slot,
		Payload:   payload,
	})
}

// Append adds an event to the log and returns it with its ID and sequence
// number filled in. Events are immutable once appended.
func (el *EventLog) Append(event GameEvent) GameEvent {
	el.mu.Lock()
	el.seq++
	event.Seq = el.seq
	if event.ID == "" {
		event.ID = NewID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if len(el.events) == el.retention {
		copy(el.events, el.events[1:])
		el.events = el.events[:len(el.events)-1]
	}
	el.events = append(el.events, event)

	// Queued under the lock so the persister sees events in seq order.
	if el.queue != nil {
		select {
		case el.queue <- event:
		default:
			el.dropped.Add(1)
		}
	}
	el.mu.Unlock()
	return event
}

// Since returns retained events with a sequence number above seq, oldest first.
func (el *EventLog) Since(seq int64) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.Seq > seq {
			result = append(result, e)
		}
	}
	return result
}

// Recent returns up to n of the newest events, oldest first.
func (el *EventLog) Recent(n int) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	if n <= 0 || n > len(el.events) {
		n = len(el.events)
	}
	out := make([]GameEvent, n)
	copy(out, el.events[len(el.events)-n:])
	return out
}

// GetByType returns retained events of one type.
func (el *EventLog) GetByType(eventType EventType) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// LastSeq returns the sequence number of the newest event, 0 if none.
func (el *EventLog) LastSeq() int64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.seq
}

// Dropped reports how many events missed the persister because the queue was full.
func (el *EventLog) Dropped() int64 {
	return el.dropped.Load()
}

// Run writes queued events to the persister in order until ctx is done,
// then drains what is left. It returns immediately without a persister.
func (el *EventLog) Run(ctx context.Context) {
	if el.queue == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			el.drain()
			return
		case e := <-el.queue:
			el.persist(context.Background(), e)
		}
	}
}

func (el *EventLog) drain() {
	for {
		select {
		case e := <-el.queue:
			el.persist(context.Background(), e)
		default:
			return
		}
	}
}

func (el *EventLog) persist(ctx context.Context, e GameEvent) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := el.persister.Append(ctx, e)
	if el.onPersist != nil {
		el.onPersist(e, err)
	}
}
