package notifications

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	errBrokerClosed = errors.New("broker is closed")
	errBrokerFull   = errors.New("broker queue is full")
)

type subscription struct {
	id      string
	handler EventHandler
}

// InMemoryBroker is a single-process MessageBroker backed by a channel.
type InMemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string][]subscription // topic -> subscriptions
	closed  bool
	eventCh chan topicEvent
	done    chan struct{}
}

type topicEvent struct {
	topic string
	event DeliveryBatch
}

// NewInMemoryBroker starts the dispatch goroutine; call Close to stop it.
func NewInMemoryBroker() *InMemoryBroker {
	b := &InMemoryBroker{
		subs:    make(map[string][]subscription),
		eventCh: make(chan topicEvent, 1024),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event for the subscribers of topic.
func (b *InMemoryBroker) Publish(topic string, event DeliveryBatch) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errBrokerClosed
	}

	select {
	case b.eventCh <- topicEvent{topic: topic, event: event}:
		return nil
	default:
		return errBrokerFull
	}
}

func (b *InMemoryBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", errBrokerClosed
	}

	id := uuid.New().String()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	return id, nil
}

// Close drains queued events and stops the dispatch goroutine.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.eventCh)
	b.mu.Unlock()

	<-b.done
	return nil
}

func (b *InMemoryBroker) dispatch() {
	defer close(b.done)

	for te := range b.eventCh {
		b.mu.RLock()
		subs := b.subs[te.topic]
		// Handlers run without the lock held.
		handlers := make([]EventHandler, len(subs))
		for i, s := range subs {
			handlers[i] = s.handler
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(te.event)
		}
	}
}
