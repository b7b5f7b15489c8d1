package kqloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxPushTaskSignalsOnlyOnce(t *testing.T) {
	var ib crossThreadInbox

	signal1 := ib.pushTask(NewTask(nil, nil))
	assert.True(t, signal1, "first push must request a wake")

	signal2 := ib.pushTask(NewTask(nil, nil))
	assert.False(t, signal2, "second push before a drain must not request another wake")

	var priv State
	tasks := ib.drain(&priv)
	assert.Len(t, tasks, 2)
}

func TestInboxDrainClearsSignaledAndCopiesState(t *testing.T) {
	var ib crossThreadInbox
	ib.state = StateReady

	require.True(t, ib.pushTask(NewTask(nil, nil)))
	ib.mu.Lock()
	ib.state = StateRunning
	ib.mu.Unlock()

	var priv State
	tasks := ib.drain(&priv)
	assert.Len(t, tasks, 1)
	assert.Equal(t, StateRunning, priv)

	// A push right after drain must request a wake again: signaled was
	// cleared inside the same critical section that swapped out pending.
	assert.True(t, ib.pushTask(NewTask(nil, nil)))
}

func TestInboxRequestStopOnlyWhenRunning(t *testing.T) {
	var ib crossThreadInbox
	ib.state = StateReady

	assert.False(t, ib.requestStop(), "stop request while Ready is a no-op")
	assert.Equal(t, StateReady, ib.snapshotState())

	ib.state = StateRunning
	assert.True(t, ib.requestStop())
	assert.Equal(t, StateStopping, ib.snapshotState())

	// Calling again while already Stopping must not request a second wake.
	assert.False(t, ib.requestStop())
}

func TestInboxRunUnsafeResetUnsafe(t *testing.T) {
	var ib crossThreadInbox
	ib.state = StateReady

	assert.True(t, ib.runUnsafe())
	assert.Equal(t, StateRunning, ib.state)
	assert.False(t, ib.runUnsafe(), "already running, cannot start twice")

	ib.resetUnsafe()
	assert.Equal(t, StateReady, ib.state)
}

func TestInboxTakeAllUnsafe(t *testing.T) {
	var ib crossThreadInbox
	ib.pushTask(NewTask(nil, nil))
	ib.pushTask(NewTask(nil, nil))

	tasks := ib.takeAllUnsafe()
	assert.Len(t, tasks, 2)
	assert.Empty(t, ib.takeAllUnsafe())
}
