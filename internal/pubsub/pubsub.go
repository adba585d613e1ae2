// Package pubsub is a minimal in-process publish/subscribe emitter used for
// the "change" and "change:<id>" channels of a store.
package pubsub

import (
	"sync"
	"sync/atomic"
)

type subscription struct {
	fn      func()
	aborted atomic.Bool
}

// Emitter dispatches named events to subscribers. It is safe for
// concurrent use. Callbacks run synchronously on the triggering goroutine,
// outside the emitter lock, in subscription order.
type Emitter struct {
	mu     sync.Mutex
	events map[string][]*subscription
}

// New returns an emitter with no subscribers.
func New() *Emitter {
	return &Emitter{events: make(map[string][]*subscription)}
}

// Subscribe registers fn for event and returns a function that removes it.
// Once unsubscribe returns, fn is not called again, even by a trigger that
// is already in progress.
func (e *Emitter) Subscribe(event string, fn func()) (unsubscribe func()) {
	sub := &subscription{fn: fn}

	e.mu.Lock()
	e.events[event] = append(e.events[event], sub)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.aborted.Store(true)

			e.mu.Lock()
			defer e.mu.Unlock()
			subs := e.events[event]
			for i, s := range subs {
				if s == sub {
					e.events[event] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(e.events[event]) == 0 {
				delete(e.events, event)
			}
		})
	}
}

// Trigger calls every subscriber of event.
func (e *Emitter) Trigger(event string) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.events[event]...)
	e.mu.Unlock()

	for _, s := range subs {
		if !s.aborted.Load() {
			s.fn()
		}
	}
}

// Count returns the number of subscribers of event.
func (e *Emitter) Count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events[event])
}
