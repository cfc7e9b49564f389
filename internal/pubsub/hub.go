// Package pubsub fans values out to subscribers over buffered channels.
package pubsub

import "sync"

// Hub broadcasts values to every subscriber. A subscriber that falls behind
// loses its oldest buffered value, never the newest one.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a subscriber with the given buffer size (minimum 1).
// The returned function unsubscribes and closes the channel; it is safe to
// call more than once.
func (h *Hub[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		for {
			select {
			case ch <- v:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Len returns the current subscriber count.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes everyone. Later Subscribe calls get a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
