package hosts

import (
	"testing"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func TestFirstFitInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Add(&types.Host{ID: "a", Address: "10.0.0.1", MaxAgents: 2}))
	require.True(t, r.Add(&types.Host{ID: "b", Address: "10.0.0.2", MaxAgents: 2}))

	// First-fit keeps returning the first host until it fills.
	h := r.Get(1)
	require.NotNil(t, h)
	assert.Equal(t, "a", h.ID)

	h.RunningAgents = 2
	h = r.Get(1)
	require.NotNil(t, h)
	assert.Equal(t, "b", h.ID)

	h.RunningAgents = 2
	assert.Nil(t, r.Get(1))
}

func TestGetHonorsSlotsNeeded(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Add(&types.Host{ID: "small", Address: "10.0.0.1", MaxAgents: 1}))
	require.True(t, r.Add(&types.Host{ID: "big", Address: "10.0.0.2", MaxAgents: 8}))

	h := r.Get(4)
	require.NotNil(t, h)
	assert.Equal(t, "big", h.ID)
}

func TestAddRejectsBadHosts(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Add(&types.Host{ID: "a", Address: "10.0.0.1", MaxAgents: 1}))

	assert.False(t, r.Add(&types.Host{ID: "a", Address: "10.0.0.9", MaxAgents: 1}), "duplicate id")
	assert.False(t, r.Add(&types.Host{ID: "", Address: "10.0.0.2", MaxAgents: 1}), "empty id")
	assert.False(t, r.Add(&types.Host{ID: "c", Address: "", MaxAgents: 1}), "empty address")
	assert.False(t, r.Add(&types.Host{ID: "d", Address: "10.0.0.3", MaxAgents: 0}), "no capacity")
	assert.Equal(t, 1, r.Len())
}

func TestForEachOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"z", "a", "m"} {
		require.True(t, r.Add(&types.Host{ID: id, Address: "addr-" + id, MaxAgents: 1}))
	}

	var seen []string
	r.ForEach(func(h *types.Host) {
		seen = append(seen, h.ID)
	})
	assert.Equal(t, []string{"z", "a", "m"}, seen)
}

func TestClearRetainsDrainingHosts(t *testing.T) {
	r := NewRegistry()
	busy := &types.Host{ID: "busy", Address: "10.0.0.1", MaxAgents: 2, RunningAgents: 1}
	idle := &types.Host{ID: "idle", Address: "10.0.0.2", MaxAgents: 2}
	require.True(t, r.Add(busy))
	require.True(t, r.Add(idle))

	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Get(1), "departed hosts take no new agents")

	// The draining host's accounting is still reachable for the reaper.
	assert.Same(t, busy, r.Lookup("busy"))
	assert.Nil(t, r.Lookup("idle"))

	busy.RunningAgents = 0
	r.Prune()
	assert.Nil(t, r.Lookup("busy"))
}

func TestCapacity(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Add(&types.Host{ID: "a", Address: "x", MaxAgents: 4, RunningAgents: 1}))
	require.True(t, r.Add(&types.Host{ID: "b", Address: "y", MaxAgents: 2}))

	total, free := r.Capacity()
	assert.Equal(t, 6, total)
	assert.Equal(t, 5, free)
}
