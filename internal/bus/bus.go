// Package bus carries the session-expired signal between the HTTP
// layer, which detects a rejected credential, and the session manager,
// which owns the reaction. Neither side holds a reference to the other.
package bus

import "sync"

// SessionEvents is a process-wide channel for the single
// session-expired event.
type SessionEvents struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id      int
	handler func()
}

// NewSessionEvents creates an empty event bus.
func NewSessionEvents() *SessionEvents {
	return &SessionEvents{}
}

// Subscribe registers a handler for session-expired and returns the
// function that removes it.
func (b *SessionEvents) Subscribe(handler func()) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// PublishSessionExpired invokes all current subscribers synchronously
// in registration order. Zero subscribers is a no-op.
func (b *SessionEvents) PublishSessionExpired() {
	b.mu.Lock()
	handlers := make([]func(), len(b.subs))
	for i, sub := range b.subs {
		handlers[i] = sub.handler
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}
