package dispatch

import (
	"sort"
	"sync"
	"time"
)

// StateArmed is reported for a session that has not seen a transition yet.
const StateArmed = "armed"

// SessionInfo describes one in-flight dispatch.
type SessionInfo struct {
	DispatchID string    `json:"dispatch_id"`
	Identity   string    `json:"identity"`
	Build      string    `json:"build"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
}

// Registry tracks in-flight dispatches by dispatch id. Two dispatches may
// carry the same identity when a start event is delivered twice.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]SessionInfo{}}
}

func (r *Registry) add(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[info.DispatchID] = info
}

func (r *Registry) setState(id, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[id]; ok {
		info.State = state
		r.sessions[id] = info
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Snapshot returns every in-flight dispatch, oldest first.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, info := range r.sessions {
		out = append(out, info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].DispatchID < out[j].DispatchID
	})
	return out
}

// Find returns the in-flight dispatches for one identity, oldest first.
func (r *Registry) Find(identity string) []SessionInfo {
	var out []SessionInfo
	for _, info := range r.Snapshot() {
		if info.Identity == identity {
			out = append(out, info)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
