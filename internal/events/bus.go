package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccm-sh/ccm/internal/logger"
)

// EventType names one wire event. The constants mirror the browser
// protocol verbatim.
type EventType string

const (
	SessionCreated       EventType = "session:created"
	SessionRestored      EventType = "session:restored"
	SessionUpdated       EventType = "session:updated"
	SessionStopped       EventType = "session:stopped"
	SessionError         EventType = "session:error"
	SessionRestoreFailed EventType = "session:restore_failed"

	WindowCreated EventType = "window:created"
	WindowStopped EventType = "window:stopped"

	GatewayStopped EventType = "gateway:stopped"

	WorktreeList    EventType = "worktree:list"
	WorktreeCreated EventType = "worktree:created"
	WorktreeDeleted EventType = "worktree:deleted"
	WorktreeError   EventType = "worktree:error"

	RepoSet       EventType = "repo:set"
	RepoError     EventType = "repo:error"
	ReposList     EventType = "repos:list"
	ReposScanning EventType = "repos:scanning"
	ReposScanned  EventType = "repos:scanned"

	TunnelStarted EventType = "tunnel:started"
	TunnelStopped EventType = "tunnel:stopped"
	TunnelError   EventType = "tunnel:error"

	PortsList EventType = "ports:list"
)

// Event is one bus message. Seq is assigned by the bus and increases
// monotonically; it doubles as the cursor for the replay ring.
type Event struct {
	Type      EventType `json:"event"`
	Payload   any       `json:"payload"`
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp int64     `json:"timestamp"`
}

const (
	subscriberBuffer = 256
	ringCapacity     = 512
)

// Subscriber receives every published event in publish order. A
// subscriber that stops draining its channel is dropped by the bus.
type Subscriber struct {
	ID string
	C  chan Event

	connectedAt time.Time
}

// Bus fans events out to per-client subscribers. Ordering is guaranteed
// per subscriber; there is no cross-subscriber ordering promise.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	ring    []Event
	nextSeq uint64
	ringMu  sync.RWMutex
	wake    chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		ring:        make([]Event, 0, ringCapacity),
		nextSeq:     1,
		wake:        make(chan struct{}),
	}
}

// Subscribe registers a new subscriber with a buffered, ordered queue.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:          uuid.New().String(),
		C:           make(chan Event, subscriberBuffer),
		connectedAt: time.Now(),
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	logger.Debugf("Event subscriber registered: %s", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.C)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber and records it in the
// replay ring. Slow subscribers past a short grace period are dropped
// rather than blocking the publisher.
func (b *Bus) Publish(eventType EventType, payload any) {
	if eventType == "" {
		logger.Warn("Attempted to publish event with empty type")
		return
	}

	b.ringMu.Lock()
	ev := Event{
		Type:      eventType,
		Payload:   payload,
		ID:        uuid.New().String(),
		Seq:       b.nextSeq,
		Timestamp: time.Now().UnixMilli(),
	}
	b.nextSeq++
	if len(b.ring) == ringCapacity {
		b.ring = b.ring[1:]
	}
	b.ring = append(b.ring, ev)
	close(b.wake)
	b.wake = make(chan struct{})
	b.ringMu.Unlock()

	b.mu.RLock()
	var stale []string
	for id, sub := range b.subscribers {
		select {
		case sub.C <- ev:
		default:
			if time.Since(sub.connectedAt) < 2*time.Second {
				// Connection still settling; don't drop yet
				continue
			}
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stale {
		logger.Warnf("Dropping slow event subscriber %s", id)
		b.Unsubscribe(id)
	}
}

// After returns buffered events with Seq > cursor, plus a channel that is
// closed on the next publish. Used by the long-poll fallback transport.
func (b *Bus) After(cursor uint64) ([]Event, <-chan struct{}) {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var out []Event
	for _, ev := range b.ring {
		if ev.Seq > cursor {
			out = append(out, ev)
		}
	}
	return out, b.wake
}

// Cursor returns the sequence number of the most recent event.
func (b *Bus) Cursor() uint64 {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()
	return b.nextSeq - 1
}
