// Package feed fans conversation changes out to connected admin operators.
package feed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/itorigin/origin-chat/internal/metrics"
)

// EventType names a conversation change.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventMessageCreated      EventType = "message.created"
	EventStatusChanged       EventType = "conversation.status_changed"
	EventConversationDeleted EventType = "conversation.deleted"
)

// Event is one change pushed to feed subscribers.
type Event struct {
	Type            EventType                 `json:"type"`
	ConversationID  string                    `json:"conversationId"`
	Conversation    *domain.Conversation      `json:"conversation,omitempty"`
	Message         *domain.Message           `json:"message,omitempty"`
	Status          domain.ConversationStatus `json:"status,omitempty"`
	MessagesDeleted int64                     `json:"messagesDeleted,omitempty"`
	At              time.Time                 `json:"at"`
}

// ConversationCreated builds the event for a new conversation.
func ConversationCreated(c *domain.Conversation) Event {
	return Event{Type: EventConversationCreated, ConversationID: c.ID, Conversation: c, At: c.CreatedAt}
}

// MessageCreated builds the event for a persisted message.
func MessageCreated(m *domain.Message) Event {
	return Event{Type: EventMessageCreated, ConversationID: m.ConversationID, Message: m, At: m.CreatedAt}
}

// StatusChanged builds the event for a status update.
func StatusChanged(id string, status domain.ConversationStatus, at time.Time) Event {
	return Event{Type: EventStatusChanged, ConversationID: id, Status: status, At: at}
}

// ConversationDeleted builds the event for a deleted conversation.
func ConversationDeleted(id string, messagesDeleted int64, at time.Time) Event {
	return Event{Type: EventConversationDeleted, ConversationID: id, MessagesDeleted: messagesDeleted, At: at}
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// Broker is an in-process Publisher with per-subscriber buffers.
// A subscriber whose buffer is full misses events rather than stalling publishers.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	bufSize int
	closed  bool
}

// NewBroker creates a broker whose subscribers buffer up to bufSize events.
func NewBroker(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broker{
		subs:    make(map[uint64]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release it; the channel is closed afterwards.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	metrics.FeedSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
		metrics.FeedSubscribers.Dec()
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			metrics.FeedEventsDroppedTotal.Inc()
			slog.Warn("Feed subscriber lagging, event dropped", "subscriber", id, "type", e.Type)
		}
	}
}

// Count returns the number of active subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close disconnects every subscriber. Later subscriptions receive a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
		metrics.FeedSubscribers.Dec()
	}
}
