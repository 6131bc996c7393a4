package proclock

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLock(t *testing.T) *Lock {
	t.Helper()
	l := New(fmt.Sprintf("foreman-test-%d-%s", os.Getpid(), t.Name()))
	t.Cleanup(func() { l.Release() })
	return l
}

func TestAcquireOwnsFreshLock(t *testing.T) {
	l := testLock(t)

	owned, ownerPID, err := l.Acquire()
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Zero(t, ownerPID)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%09d", os.Getpid()), string(data), "pid is fixed-width zero-padded")
}

func TestSecondAcquireSeesLiveOwner(t *testing.T) {
	l := testLock(t)
	owned, _, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, owned)

	// A second instance of the same process name backs off and learns the
	// owner's pid. Our own pid is as live as it gets.
	second := New(l.name)
	owned, ownerPID, err := second.Acquire()
	require.NoError(t, err)
	assert.False(t, owned)
	assert.Equal(t, os.Getpid(), ownerPID)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	l := testLock(t)

	// Far above any real pid_max, so the liveness probe fails.
	require.NoError(t, os.WriteFile(l.Path(), []byte("999999999"), 0644))

	owned, ownerPID, err := l.Acquire()
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Zero(t, ownerPID)
}

func TestGarbageLockIsReclaimed(t *testing.T) {
	l := testLock(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("not-a-pid"), 0644))

	pid, err := l.OwnerPID()
	require.NoError(t, err)
	assert.Zero(t, pid)

	_, err = os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err), "garbage lock is unlinked")
}

func TestKillRunningWithoutOwner(t *testing.T) {
	l := testLock(t)
	pid, err := l.KillRunning()
	require.NoError(t, err)
	assert.Zero(t, pid)
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := testLock(t)
	owned, _, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, owned)

	assert.NoError(t, l.Release())
	assert.NoError(t, l.Release())
}
