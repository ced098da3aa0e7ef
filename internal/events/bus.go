package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// EventType names a state change observers can react to
type EventType string

const (
	EventGroupUpdated        EventType = "group.updated"
	EventGroupKicked         EventType = "group.kicked"
	EventInteractionsDeleted EventType = "interactions.deleted"
	EventMemberStatusChanged EventType = "member.status.changed"
)

// Event is published after the transaction that caused it commits
type Event struct {
	Type     EventType
	GroupID  string
	MemberID string
	Count    int
	At       time.Time
}

// Subscription receives events until it is cancelled
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// Bus fans published events out to subscribers. A subscriber that falls
// behind loses events rather than stalling publishers.
type Bus struct {
	subscribers map[*Subscription]bool
	closed      bool

	publish chan Event

	mu     sync.RWMutex
	logger *utils.LogsManager
}

// NewBus creates a bus. Subscriptions work right away; events flow once Run
// is started.
func NewBus(logger *utils.LogsManager) *Bus {
	return &Bus{
		subscribers: make(map[*Subscription]bool),
		publish:     make(chan Event, 256),
		logger:      logger,
	}
}

// Run dispatches events until ctx is done
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case event := <-b.publish:
			b.mu.RLock()
			for sub := range b.subscribers {
				select {
				case sub.ch <- event:
				default:
					b.logger.Warn(fmt.Sprintf("Subscriber buffer full, dropping %s event", event.Type), "events")
				}
			}
			b.mu.RUnlock()

		case <-ctx.Done():
			b.mu.Lock()
			for sub := range b.subscribers {
				close(sub.ch)
			}
			b.subscribers = make(map[*Subscription]bool)
			b.closed = true
			b.mu.Unlock()
			return
		}
	}
}

// Publish queues an event without blocking
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	select {
	case b.publish <- event:
	default:
		b.logger.Warn(fmt.Sprintf("Event queue full, dropping %s event", event.Type), "events")
	}
}

// Subscribe registers a subscriber with the given buffer size. On a bus whose
// Run has ended the subscription comes back already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe stops delivery and closes the subscription channel. It is safe
// to call more than once and after Run has ended.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
