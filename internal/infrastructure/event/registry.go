package event

import (
	"sync"

	"github.com/erp/orderboard/internal/domain/shared"
)

// subscription is one handler and the event types it receives
type subscription struct {
	handler shared.EventHandler
	all     bool
	types   map[string]struct{}
}

func (s *subscription) matches(eventType string) bool {
	if s.all {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// HandlerRegistry keeps subscriptions in registration order. Lookups return
// a snapshot, so handlers may unsubscribe while an event is delivered.
type HandlerRegistry struct {
	mu   sync.RWMutex
	subs []*subscription
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{}
}

// Register subscribes handler to eventTypes, or to every type when none are
// given. Registering a handler again widens its existing subscription.
func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := r.find(handler)
	if sub == nil {
		sub = &subscription{handler: handler, types: make(map[string]struct{})}
		r.subs = append(r.subs, sub)
	}
	if len(eventTypes) == 0 {
		sub.all = true
	}
	for _, t := range eventTypes {
		sub.types[t] = struct{}{}
	}
}

// Unregister removes handler entirely
func (r *HandlerRegistry) Unregister(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.subs[:0]
	for _, sub := range r.subs {
		if sub.handler != handler {
			kept = append(kept, sub)
		}
	}
	clear(r.subs[len(kept):])
	r.subs = kept
}

// GetHandlers returns the handlers subscribed to eventType
func (r *HandlerRegistry) GetHandlers(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shared.EventHandler, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.matches(eventType) {
			out = append(out, sub.handler)
		}
	}
	return out
}

// Len returns the number of registered handlers
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *HandlerRegistry) find(handler shared.EventHandler) *subscription {
	for _, sub := range r.subs {
		if sub.handler == handler {
			return sub
		}
	}
	return nil
}
