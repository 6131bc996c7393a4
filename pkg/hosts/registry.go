package hosts

import (
	"sync"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/rs/zerolog"
)

// Registry tracks the configured execution hosts in registration order.
//
// A config reload may remove a host while agents launched on it are still
// running; such hosts move to a departed list so their counters keep
// resolving until the last agent is reaped.
type Registry struct {
	logger zerolog.Logger

	mu       sync.Mutex
	hosts    []*types.Host
	departed []*types.Host
}

// NewRegistry creates an empty host registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: log.WithComponent("hosts"),
	}
}

// Add registers a host. Duplicate IDs and non-positive capacity are rejected
// with a log line; startup continues with whatever was admitted.
func (r *Registry) Add(host *types.Host) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if host.ID == "" || host.Address == "" || host.MaxAgents <= 0 {
		r.logger.Error().Str("host_id", host.ID).Msg("Rejected host with empty fields or non-positive capacity")
		return false
	}
	for _, h := range r.hosts {
		if h.ID == host.ID {
			r.logger.Error().Str("host_id", host.ID).Msg("Rejected duplicate host")
			return false
		}
	}
	r.hosts = append(r.hosts, host)
	return true
}

// Get returns the first host, in registration order, with at least
// slotsNeeded free agent slots, or nil when the fleet is full.
func (r *Registry) Get(slotsNeeded int) *types.Host {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.hosts {
		if h.Free() >= slotsNeeded {
			return h
		}
	}
	return nil
}

// Lookup finds a host by ID, including departed hosts still draining.
func (r *Registry) Lookup(id string) *types.Host {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.hosts {
		if h.ID == id {
			return h
		}
	}
	for _, h := range r.departed {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// ForEach iterates the active hosts in registration order.
func (r *Registry) ForEach(fn func(*types.Host)) {
	r.mu.Lock()
	snapshot := make([]*types.Host, len(r.hosts))
	copy(snapshot, r.hosts)
	r.mu.Unlock()

	for _, h := range snapshot {
		fn(h)
	}
}

// Clear empties the registry for a config reload. Hosts that still have
// running agents are retained on the departed list until they drain.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.hosts {
		if h.RunningAgents > 0 {
			r.logger.Info().
				Str("host_id", h.ID).
				Int("running_agents", h.RunningAgents).
				Msg("Host removed from config while agents still running, retaining accounting until drain")
			r.departed = append(r.departed, h)
		}
	}
	r.hosts = nil
}

// Prune drops departed hosts whose last agent has been reaped.
func (r *Registry) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.departed[:0]
	for _, h := range r.departed {
		if h.RunningAgents > 0 {
			kept = append(kept, h)
		}
	}
	r.departed = kept
}

// Len returns the number of active hosts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}

// Capacity returns the total and free agent slots across active hosts.
func (r *Registry) Capacity() (total, free int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.hosts {
		total += h.MaxAgents
		free += h.Free()
	}
	return total, free
}
