// Package surfaces tracks which chat message fronts each active event.
// The registry is rebuilt at startup from persisted message refs, so button
// presses on messages sent before a restart keep working.
package surfaces

import (
	"sync"

	kit "clanbot/internal/transport"
)

type Registry struct {
	mu      sync.RWMutex
	byEvent map[int64]kit.MessageRef
	byRef   map[kit.MessageRef]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byEvent: map[int64]kit.MessageRef{},
		byRef:   map[kit.MessageRef]int64{},
	}
}

// Attach binds an event to its interactive message, replacing any previous
// binding for the same event.
func (r *Registry) Attach(eventID int64, ref kit.MessageRef) {
	if ref.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byEvent[eventID]; ok {
		delete(r.byRef, old)
	}
	r.byEvent[eventID] = ref
	r.byRef[ref] = eventID
}

// Detach removes the event's binding, typically after settlement or cancel.
func (r *Registry) Detach(eventID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.byEvent[eventID]; ok {
		delete(r.byRef, ref)
		delete(r.byEvent, eventID)
	}
}

// RefFor returns the message fronting the event, if any.
func (r *Registry) RefFor(eventID int64) (kit.MessageRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.byEvent[eventID]
	return ref, ok
}

// EventFor returns the event fronted by the message, if any.
func (r *Registry) EventFor(ref kit.MessageRef) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[ref]
	return id, ok
}

// Len reports the number of attached surfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent)
}
