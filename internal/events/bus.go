package events

import (
	"sync"
)

// Subscription is a handle returned by Bus.Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Bus is a tagged callback list. Handlers run synchronously on the
// publishing goroutine, in registration order.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []busHandler[T]
}

type busHandler[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns its handle.
func (b *Bus[T]) Subscribe(fn func(T)) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, busHandler[T]{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{cancel: func() { b.remove(id) }}
}

// Publish delivers v to every current handler.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	handlers := append([]busHandler[T](nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h.fn(v)
	}
}

// Len reports the number of registered handlers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Close drops every handler.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}
