package kqloop

import "sync"

// crossThreadInbox is the Cross-Thread Inbox of spec.md §3: a
// mutex-guarded structure containing the pending task FIFO, the
// "signaled" flag, and the cross-thread-visible copy of the lifecycle
// state.
//
// Invariants (spec.md §3): signaled implies at least one self-signal
// write has occurred since the event thread last cleared it; every
// mutation requires holding mu; the event thread never touches this
// struct without mu held, except when state is known to be StateReady
// (thread is known-joined) — see runUnsafe/resetUnsafe below, which
// implement the Open Question in spec.md §9.
//
// Grounded on the teacher's alternateone.SafeIngress: a single coarse
// mutex over the whole cross-thread staging area, favoring simplicity
// of correctness reasoning over the lock-free chunked queue the
// teacher's performance-first Loop uses for its external ingress.
type crossThreadInbox struct {
	mu       sync.Mutex
	signaled bool
	pending  []*Task
	state    State
}

// pushTask appends a task and reports whether the caller must perform
// the self-signal-pipe write (step 3-4 of spec.md §4.3's template).
func (ib *crossThreadInbox) pushTask(t *Task) (signalNeeded bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.pending = append(ib.pending, t)
	return ib.markSignaledLocked()
}

// requestStop transitions the inbox's state copy to StateStopping if
// currently StateRunning; idempotent and non-fatal otherwise, per
// spec.md §4.1's `stop` contract ("no-op unless state is Running").
func (ib *crossThreadInbox) requestStop() (signalNeeded bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.state != StateRunning {
		return false
	}
	ib.state = StateStopping
	return ib.markSignaledLocked()
}

// markSignaledLocked implements steps 3 of the handoff template: set
// signaled if not already set, and report whether a pipe write is
// newly required. Caller must hold mu.
func (ib *crossThreadInbox) markSignaledLocked() (signalNeeded bool) {
	if ib.signaled {
		return false
	}
	ib.signaled = true
	return true
}

// drain swaps out the pending task FIFO and clears the signaled flag
// in the same critical section (spec.md §4.3: "clears thread_signaled
// inside the critical section where it swaps out pending_tasks, so any
// write arriving after the clear will cause a subsequent wake"). It
// also copies the inbox's state into the thread-private region, the
// sole permitted propagation path (spec.md §3).
func (ib *crossThreadInbox) drain(threadPrivateState *State) []*Task {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	tasks := ib.pending
	ib.pending = nil
	ib.signaled = false
	*threadPrivateState = ib.state
	return tasks
}

// runUnsafe transitions both the inbox copy and (via the returned
// value) the thread-private copy from StateReady to StateRunning
// without taking mu. This is sound only because, per spec.md's Open
// Question in §9, Run/WaitForStopCompletion rely on the invariant that
// no event thread is executing while state is StateReady — the thread
// is either not yet spawned or already joined, so there is no
// concurrent reader/writer to race with. Returns false (and makes no
// change) if the inbox is not in StateReady.
func (ib *crossThreadInbox) runUnsafe() bool {
	if ib.state != StateReady {
		return false
	}
	ib.state = StateRunning
	return true
}

// resetUnsafe restores the inbox's state copy to StateReady without
// taking mu, after the caller has established (via thread join) that
// the event thread is no longer running; the caller resets the
// thread-private copy itself. Part of the same Open Question as
// runUnsafe.
func (ib *crossThreadInbox) resetUnsafe() {
	ib.state = StateReady
}

// snapshotState returns the inbox's state copy under mu, for callers
// (such as Destroy) that must not rely on the Ready-state bypass.
func (ib *crossThreadInbox) snapshotState() State {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.state
}

// takeAllUnsafe drains every pending task without taking mu; only safe
// to call once the event thread is known-joined (StateReady), per the
// same Open Question as runUnsafe/resetUnsafe. Used by Destroy after
// WaitForStopCompletion, to cancel anything left in the inbox (spec.md
// §4.2: "the inbox drain happens last" in Destroy's ordering).
func (ib *crossThreadInbox) takeAllUnsafe() []*Task {
	tasks := ib.pending
	ib.pending = nil
	ib.signaled = false
	return tasks
}
