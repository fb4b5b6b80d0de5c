// Package broker provides process-local broadcast topics. A Topic fans
// each published value out to every attached subscriber channel without
// blocking the publisher; values published while nobody is subscribed
// are dropped.
package broker

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type Topic[T any] struct {
	name   string
	buffer int
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan T
	closed bool
}

func NewTopic[T any](name string, buffer int, logger *slog.Logger) *Topic[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[T]{
		name:   name,
		buffer: buffer,
		logger: logger,
		subs:   make(map[int]chan T),
	}
}

func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe attaches a new subscriber. The returned cancel func detaches
// it and closes the channel; calling it more than once is harmless.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, t.buffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.logger.Debug("Subscribing", "topic", t.name, "subscriber", id)

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
			t.logger.Debug("Unsubscribing", "topic", t.name, "subscriber", id)
		}
	}
	return ch, cancel
}

// Publish delivers v to every subscriber with room in its buffer and
// returns how many received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	delivered := 0
	for id, ch := range t.subs {
		select {
		case ch <- v:
			delivered++
		default:
			t.logger.Warn("Dropped event (buffer full)", "topic", t.name, "subscriber", id)
		}
	}
	return delivered
}

func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close detaches and closes every subscriber. Later subscribers receive
// an already closed channel.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
