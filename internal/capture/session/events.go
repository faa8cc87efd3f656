package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// EventType classifies lifecycle events.
type EventType string

const (
	EventStateChanged EventType = "state"
	EventWarning      EventType = "warning"
	EventError        EventType = "error"
	EventStopped      EventType = "stopped"
)

// Stop reasons carried by EventStopped.
const (
	ReasonRequested   = "requested"
	ReasonRevoked     = "revoked"
	ReasonEndOfStream = "end-of-stream"
)

// Event is a session lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
	Stats     *Stats    `json:"stats,omitempty"`
}

// EventBus fans events out to subscribers. A subscriber whose buffer is
// full misses the event; publishing never blocks.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	logger *slog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &EventBus{
		subs:   make(map[string]chan Event),
		logger: logger,
	}
}

// Subscribe adds a subscriber. Subscribing again with the same id replaces
// the previous channel, which is closed.
func (b *EventBus) Subscribe(id string, bufferSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, exists := b.subs[id]; exists {
		close(old)
	}
	ch := make(chan Event, bufferSize)
	b.subs[id] = ch
	b.logger.Debug("Event subscriber added", "id", id, "total", len(b.subs))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subs[id]; exists {
		close(ch)
		delete(b.subs, id)
		b.logger.Debug("Event subscriber removed", "id", id, "total", len(b.subs))
	}
}

// Publish delivers ev to every subscriber with room for it.
func (b *EventBus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("Event channel full, dropping event", "subscriber", id, "type", ev.Type)
		}
	}
}

// Close removes every subscriber.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
