package storage

import (
	"testing"
	"time"

	"github.com/licenseforge/foreman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobRoundTrip(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{
		ID:         "j1",
		Kind:       "copyright",
		Payload:    "upload-17",
		Priority:   3,
		State:      types.JobStatePending,
		EnqueuedAt: time.Now(),
	}
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, "copyright", got.Kind)
	assert.Equal(t, types.JobStatePending, got.State)

	job.State = types.JobStateComplete
	require.NoError(t, store.UpdateJob(job))
	got, err = store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateComplete, got.State)

	_, err = store.GetJob("missing")
	assert.Error(t, err)
}

func TestDeleteJob(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateJob(&types.Job{ID: "gone", State: types.JobStateComplete}))
	require.NoError(t, store.DeleteJob("gone"))

	_, err := store.GetJob("gone")
	assert.Error(t, err)

	// Deleting an absent job is not an error; purge passes may race.
	assert.NoError(t, store.DeleteJob("gone"))
}

func TestListJobsByState(t *testing.T) {
	store := newTestStore(t)

	for _, j := range []*types.Job{
		{ID: "a", State: types.JobStatePending},
		{ID: "b", State: types.JobStateRunning},
		{ID: "c", State: types.JobStatePending},
		{ID: "d", State: types.JobStateFailed},
	} {
		require.NoError(t, store.CreateJob(j))
	}

	pending, err := store.ListJobsByState(types.JobStatePending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := store.ListJobs()
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestResetQueue(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateJob(&types.Job{ID: "stuck", State: types.JobStateRunning, AgentPID: 1234}))
	require.NoError(t, store.CreateJob(&types.Job{ID: "done", State: types.JobStateComplete}))

	n, err := store.ResetQueue()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetJob("stuck")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatePending, got.State)
	assert.Zero(t, got.AgentPID, "stale agent pid is cleared")

	got, err = store.GetJob("done")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateComplete, got.State)
}
