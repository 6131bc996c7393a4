package agents

import (
	"sync"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/rs/zerolog"
)

// KindRegistry catalogs the agent kinds the platform can launch. Entries are
// immutable once added; a config reload clears the registry and reloads it.
type KindRegistry struct {
	logger zerolog.Logger

	mu    sync.Mutex
	kinds map[string]*types.AgentKind
}

// NewKindRegistry creates an empty kind registry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{
		logger: log.WithComponent("agents"),
		kinds:  make(map[string]*types.AgentKind),
	}
}

// Add registers an agent kind. Duplicates and empty name/command are
// rejected.
func (r *KindRegistry) Add(name, command string, maxPerHost int, exclusive bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || command == "" {
		r.logger.Error().Str("name", name).Msg("Rejected agent kind with empty name or command")
		return false
	}
	if _, exists := r.kinds[name]; exists {
		r.logger.Error().Str("name", name).Msg("Rejected duplicate agent kind")
		return false
	}

	r.kinds[name] = &types.AgentKind{
		Name:       name,
		Command:    command,
		MaxPerHost: maxPerHost,
		Exclusive:  exclusive,
	}
	return true
}

// Clear empties the registry for a config reload.
func (r *KindRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = make(map[string]*types.AgentKind)
}

// Get returns the kind by name.
func (r *KindRegistry) Get(name string) (*types.AgentKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.kinds[name]
	return k, ok
}

// IsExclusive reports whether the named kind demands a drained system.
// Unknown kinds are not exclusive.
func (r *KindRegistry) IsExclusive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.kinds[name]
	return ok && k.Exclusive
}

// MaxConcurrent implements queue.KindCaps.
func (r *KindRegistry) MaxConcurrent(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.kinds[name]
	if !ok {
		return 0, false
	}
	return k.MaxPerHost, true
}

// Len returns the number of registered kinds.
func (r *KindRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kinds)
}

// Names returns the registered kind names. Order is unspecified.
func (r *KindRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	return names
}
