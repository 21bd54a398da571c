package observer

import (
	"sort"
	"sync"

	"github.com/starford/ansuz/internal/event"
)

// Binding pairs a descriptor with the runtime that executes it.
type Binding struct {
	Descriptor Descriptor
	Runtime    Runtime
}

type regEntry struct {
	Binding
	seq int // registration order, stable across replacement
}

// Registry holds the registered observers. Registering a descriptor whose
// name already exists replaces the binding in place, which is how
// user-authored scripts are live-reloaded without restarting the watcher.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*regEntry
	nextSeq int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*regEntry)}
}

// Register adds or replaces the observer named d.Name. A replaced observer
// keeps its original registration order so tie-breaking stays stable across
// reloads.
func (r *Registry) Register(d Descriptor, rt Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[d.Name]; ok {
		existing.Binding = Binding{Descriptor: d, Runtime: rt}
		return
	}
	r.byName[d.Name] = &regEntry{
		Binding: Binding{Descriptor: d, Runtime: rt},
		seq:     r.nextSeq,
	}
	r.nextSeq++
}

// Unregister removes the observer by name and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byName[name]
	delete(r.byName, name)
	return ok
}

// ListFor returns the observers interested in events of kind k, ordered by
// (priority, registration order).
func (r *Registry) ListFor(k event.Kind) []Binding {
	r.mu.RLock()
	entries := make([]*regEntry, 0, len(r.byName))
	for _, e := range r.byName {
		if e.Descriptor.Interested(k) {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Descriptor.Priority != entries[j].Descriptor.Priority {
			return entries[i].Descriptor.Priority < entries[j].Descriptor.Priority
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]Binding, len(entries))
	for i, e := range entries {
		out[i] = e.Binding
	}
	return out
}

// All returns every binding ordered by (priority, registration order).
func (r *Registry) All() []Binding {
	r.mu.RLock()
	entries := make([]*regEntry, 0, len(r.byName))
	for _, e := range r.byName {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Descriptor.Priority != entries[j].Descriptor.Priority {
			return entries[i].Descriptor.Priority < entries[j].Descriptor.Priority
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]Binding, len(entries))
	for i, e := range entries {
		out[i] = e.Binding
	}
	return out
}
