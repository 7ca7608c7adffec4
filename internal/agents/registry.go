package agents

import (
	"fmt"
	"strings"
	"sync"
)

// Registry is the process-wide, static catalog of agent descriptors. It is
// populated once at startup (in code and/or from a manifest) and never
// mutated afterward; descriptor identity is its ID.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Descriptor
	byFriendly map[string]string // lower-cased name/id -> canonical id, for handoff resolution
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID:       make(map[string]*Descriptor),
		byFriendly: make(map[string]string),
	}
}

// Register adds a descriptor to the catalog. Fails if the id is already
// present or malformed (one or two lower-case letters, per spec).
func (r *Registry) Register(d Descriptor) error {
	if !validID(d.ID) {
		return fmt.Errorf("agents: invalid agent id %q: must be one or two lower-case letters", d.ID)
	}
	if d.ContinuationPolicy.MaxDepth < 1 {
		return fmt.Errorf("agents: agent %q must have continuationPolicy.maxDepth >= 1", d.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("agents: agent %q already registered", d.ID)
	}

	copyD := d
	r.byID[d.ID] = &copyD
	r.byFriendly[strings.ToLower(d.ID)] = d.ID
	if d.Name != "" {
		r.byFriendly[strings.ToLower(d.Name)] = d.ID
	}
	return nil
}

func validID(id string) bool {
	if len(id) == 0 || len(id) > 2 {
		return false
	}
	for _, r := range id {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// Get returns a descriptor by its canonical id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// Resolve looks up an agent by id or friendly name, case-insensitively, as
// used by the handoff name-to-id table (spec §4.4).
func (r *Registry) Resolve(nameOrID string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byFriendly[strings.ToLower(strings.TrimSpace(nameOrID))]
	if !ok {
		return nil, false
	}
	d, ok := r.byID[id]
	return d, ok
}

// All returns every registered descriptor, in no particular order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	return out
}
