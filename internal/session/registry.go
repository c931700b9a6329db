package session

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/google/uuid"
)

// EventName selects which kind of browser event a handler receives.
type EventName string

const (
	EventChanged            EventName = "changed"
	EventCameraStateChanged EventName = "camerastatechanged"
	EventKeyUp              EventName = EventName(protocol.KeyUp)
	EventKeyDown            EventName = EventName(protocol.KeyDown)
	EventKeyPress           EventName = EventName(protocol.KeyPress)
)

// Handler receives an event together with the id it was registered under.
type Handler func(id uuid.UUID, ev protocol.Event)

type registration struct {
	id      uuid.UUID
	handler Handler
	seq     uint64
	// set under the registry lock when the registration is replaced or removed
	removed atomic.Bool
}

// Registry maps (id, event name) pairs to handlers. Many ids may share one
// event name. Once Set, Remove or Clear returns, a handler it displaced is
// never started again; a call already running at that moment completes.
type Registry struct {
	mu       sync.RWMutex
	handlers map[EventName]map[uuid.UUID]*registration
	seq      uint64
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[EventName]map[uuid.UUID]*registration)}
}

// Set registers h, replacing any handler already stored under the same key,
// and returns how many handlers exist for name afterwards.
func (r *Registry) Set(id uuid.UUID, name EventName, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.handlers[name]
	if !ok {
		byID = make(map[uuid.UUID]*registration)
		r.handlers[name] = byID
	}
	if old, ok := byID[id]; ok {
		old.removed.Store(true)
	}
	r.seq++
	byID[id] = &registration{id: id, handler: h, seq: r.seq}
	return len(byID)
}

func (r *Registry) Get(id uuid.UUID, name EventName) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[name][id]
	if !ok {
		return nil, false
	}
	return reg.handler, true
}

// Remove deletes one handler. It reports the number of handlers left for
// name and whether the key was registered at all.
func (r *Registry) Remove(id uuid.UUID, name EventName) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.handlers[name]
	reg, ok := byID[id]
	if !ok {
		return len(byID), false
	}
	reg.removed.Store(true)
	delete(byID, id)
	return len(byID), true
}

// Clear removes every handler registered for name and returns how many there were.
func (r *Registry) Clear(name EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.handlers[name])
	for _, reg := range r.handlers[name] {
		reg.removed.Store(true)
	}
	delete(r.handlers, name)
	return n
}

func (r *Registry) Count(name EventName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}

// snapshot returns the registrations for name in registration order.
func (r *Registry) snapshot(name EventName) []*registration {
	r.mu.RLock()
	out := make([]*registration, 0, len(r.handlers[name]))
	for _, reg := range r.handlers[name] {
		out = append(out, reg)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) lookup(id uuid.UUID, name EventName) *registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name][id]
}
