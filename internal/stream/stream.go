package stream

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// Hub fans out values of type T to all active subscribers.
type Hub[T any] struct {
	mu   sync.RWMutex
	subs map[int]subscriber[T]
	next int
}

type subscriber[T any] struct {
	ch   chan T
	done <-chan struct{}
}

// New initialises an empty hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[int]subscriber[T])}
}

// Subscribe registers a subscriber and returns a channel which will receive
// published values. The channel is closed when ctx ends.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, defaultBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber[T]{ch: ch, done: ctx.Done()}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers v to every subscriber without blocking; a subscriber
// whose buffer is full misses the value.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
		}
	}
}

// PublishWait delivers v to every subscriber, waiting on a full buffer
// until the subscriber drains it, its subscription ends, or ctx ends.
// It reports whether every subscriber received v.
func (h *Hub[T]) PublishWait(ctx context.Context, v T) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := true
	for _, sub := range h.subs {
		select {
		case sub.ch <- v:
			continue
		default:
		}
		select {
		case sub.ch <- v:
		case <-sub.done:
		case <-ctx.Done():
			all = false
		}
	}
	return all
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
