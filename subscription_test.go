package kqloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMultiplexer is a readinessMultiplexer whose registerReceipt can be
// told to fail one filter kind (failFilter) in a change list, letting tests exercise
// the two-filter rollback path (spec.md §8 S4) without depending on the
// kernel actually refusing a registration.
type fakeMultiplexer struct {
	mu          sync.Mutex
	failFilter  Filter
	shouldFail  bool
	deregistered []Filter
}

func (f *fakeMultiplexer) registerReceipt(fd int, filters []Filter, userData uintptr) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok := make([]bool, len(filters))
	for i, filt := range filters {
		ok[i] = !(f.shouldFail && filt == f.failFilter)
	}
	return ok, nil
}

func (f *fakeMultiplexer) deregister(fd int, filters []Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered = append(f.deregistered, filters...)
}

func (f *fakeMultiplexer) wait(buf []polledEvent, timeoutMs int64) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (f *fakeMultiplexer) close() error { return nil }

// TestSubscribeRollbackOnPartialFailure is scenario S4 from spec.md §8:
// a multiplexer that fails one of two requested filters must cause the
// subscriber to receive exactly one ERROR callback and the successfully
// registered filter to be rolled back via deregister.
func TestSubscribeRollbackOnPartialFailure(t *testing.T) {
	fake := &fakeMultiplexer{failFilter: FilterWritable, shouldFail: true}
	loop, err := newLoopWithMultiplexer(fake)
	require.NoError(t, err)

	r, w, err := osPipe(t)
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	go loop.Run()
	defer func() {
		loop.Stop()
		require.NoError(t, loop.WaitForStopCompletion())
	}()

	var (
		mu       sync.Mutex
		received []EventFlags
	)
	done := make(chan struct{})
	sub, err := loop.SubscribeToIOEvents(NewFileHandle(w), true, true, func(_ *Loop, _ IOHandle, flags EventFlags, _ any) {
		mu.Lock()
		received = append(received, flags)
		mu.Unlock()
		close(done)
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, sub)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rollback callback")
	}

	time.Sleep(20 * time.Millisecond) // give any spurious second callback a chance to land
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventFlags{ErrorFlag}, received)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.deregistered, FilterReadable, "the succeeding filter must be rolled back")
}

// TestSubscribeUnsubscribeDestroy exercises spec.md §4.4's second
// protocol (unsubscribe) end to end and checks Destroy's result
// directly: a subscription that is registered and then explicitly
// unsubscribed must leave connectedHandleCount at zero, so Destroy
// succeeds instead of returning ErrHandlesLeaked — spec.md §8 Testable
// Property 4, "allocations == frees".
func TestSubscribeUnsubscribeDestroy(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	r, w, err := osPipe(t)
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	go loop.Run()

	sub, err := loop.SubscribeToIOEvents(NewFileHandle(r), true, false, func(_ *Loop, _ IOHandle, _ EventFlags, _ any) {}, nil)
	require.NoError(t, err)
	require.NotNil(t, sub)

	// Give the subscribe task time to land and register with the kernel.
	time.Sleep(20 * time.Millisecond)

	loop.UnsubscribeFromIOEvents(sub)
	// Give the unsubscribe task time to land before Stop/Destroy.
	time.Sleep(20 * time.Millisecond)

	loop.Stop()
	require.NoError(t, loop.WaitForStopCompletion())
	assert.NoError(t, loop.Destroy(), "Destroy must succeed once every subscription has been unsubscribed")
}
