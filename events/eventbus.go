package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mezonai/chainfork/logx"
)

type SubscriberID string

type Subscriber struct {
	ID      SubscriberID
	Channel chan ChainEvent
}

// Listener runs inline in Publish, in registration order. Used for consumers
// that must not miss events, such as the sink and the mempool.
type Listener func(ChainEvent)

type listenerEntry struct {
	id SubscriberID
	fn Listener
}

// EventBus fans events out to listeners synchronously and to channel
// subscribers without blocking; a full subscriber channel drops the event.
type EventBus struct {
	subscribers map[SubscriberID]*Subscriber
	listeners   []listenerEntry
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[SubscriberID]*Subscriber),
	}
}

func (eb *EventBus) generateUUIDID() SubscriberID {
	id := uuid.Must(uuid.NewV7())
	return SubscriberID(id.String())
}

func (eb *EventBus) Subscribe() (SubscriberID, chan ChainEvent) {
	return eb.SubscribeWithBuffer(50)
}

func (eb *EventBus) SubscribeWithBuffer(size int) (SubscriberID, chan ChainEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.generateUUIDID()
	ch := make(chan ChainEvent, size)
	eb.subscribers[id] = &Subscriber{ID: id, Channel: ch}

	logx.Info("EVENTBUS", fmt.Sprintf("Client subscribed to chain events | subscriber_id=%s | total_subscribers=%d", id, len(eb.subscribers)))
	return id, ch
}

func (eb *EventBus) Listen(fn Listener) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.generateUUIDID()
	eb.listeners = append(eb.listeners, listenerEntry{id: id, fn: fn})
	return id
}

// Unsubscribe removes a channel subscriber or a listener.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if subscriber, exists := eb.subscribers[id]; exists {
		delete(eb.subscribers, id)
		close(subscriber.Channel)
		logx.Info("EVENTBUS", fmt.Sprintf("Client unsubscribed from events | subscriber_id=%s | remaining_subscribers=%d", id, len(eb.subscribers)))
		return true
	}
	for i, l := range eb.listeners {
		if l.id == id {
			eb.listeners = append(eb.listeners[:i], eb.listeners[i+1:]...)
			return true
		}
	}

	logx.Warn("EVENTBUS", fmt.Sprintf("Attempted to unsubscribe non-existent subscriber | subscriber_id=%s", id))
	return false
}

func (eb *EventBus) Publish(event ChainEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, l := range eb.listeners {
		l.fn(event)
	}

	for id, subscriber := range eb.subscribers {
		select {
		case subscriber.Channel <- event:
		default:
			logx.Warn("EVENTBUS", fmt.Sprintf("Subscriber channel full | subscriber_id=%s | event_type=%s | block=%d",
				id, event.Type(), event.BlockNumber()))
		}
	}
	logx.Debug("EVENTBUS", fmt.Sprintf("Published event | event_type=%s | block=%d | subscribers=%d",
		event.Type(), event.BlockNumber(), len(eb.subscribers)+len(eb.listeners)))
}

func (eb *EventBus) GetTotalSubscriptions() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers) + len(eb.listeners)
}

func (eb *EventBus) HasSubscriber(id SubscriberID) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if _, exists := eb.subscribers[id]; exists {
		return true
	}
	for _, l := range eb.listeners {
		if l.id == id {
			return true
		}
	}
	return false
}
