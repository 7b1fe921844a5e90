// Package deps maintains the many-to-many relation between agents and the
// tools they reference. Deleting a tool is refused while any agent still
// depends on it, so a stale edge errs on the side of refusing.
package deps

import (
	"sort"
	"sync"
)

// Tracker is a concurrent adjacency structure: tool_id → set of agent_id.
// Uses sync.Map with a per-tool lock so reads on unrelated tools never
// serialize behind each other.
type Tracker struct {
	tools sync.Map // map[string]*agentSet
}

type agentSet struct {
	mu     sync.RWMutex
	agents map[string]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) setFor(toolID string) *agentSet {
	if v, ok := t.tools.Load(toolID); ok {
		return v.(*agentSet)
	}
	v, _ := t.tools.LoadOrStore(toolID, &agentSet{agents: make(map[string]struct{})})
	return v.(*agentSet)
}

// Attach records that agentID depends on toolID. Idempotent.
func (t *Tracker) Attach(agentID, toolID string) {
	s := t.setFor(toolID)
	s.mu.Lock()
	s.agents[agentID] = struct{}{}
	s.mu.Unlock()
}

// Detach removes the dependency edge. Detaching an absent edge is a no-op.
func (t *Tracker) Detach(agentID, toolID string) {
	v, ok := t.tools.Load(toolID)
	if !ok {
		return
	}
	s := v.(*agentSet)
	s.mu.Lock()
	delete(s.agents, agentID)
	s.mu.Unlock()
}

// DependentsOf returns the sorted set of agents depending on toolID.
func (t *Tracker) DependentsOf(toolID string) []string {
	v, ok := t.tools.Load(toolID)
	if !ok {
		return nil
	}
	s := v.(*agentSet)
	s.mu.RLock()
	out := make([]string, 0, len(s.agents))
	for a := range s.agents {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Count returns the number of dependent agents for toolID.
func (t *Tracker) Count(toolID string) int {
	v, ok := t.tools.Load(toolID)
	if !ok {
		return 0
	}
	s := v.(*agentSet)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// CanDelete reports whether toolID has no dependents.
func (t *Tracker) CanDelete(toolID string) bool {
	return t.Count(toolID) == 0
}

// Forget drops all edges for toolID. Called after a tool is deleted.
func (t *Tracker) Forget(toolID string) {
	t.tools.Delete(toolID)
}
