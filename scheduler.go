package kqloop

import "container/heap"

// Scheduler is the contract spec.md §2 calls the "Task Scheduler": it
// holds immediate tasks and timed tasks. spec.md treats its
// implementation as an external collaborator and only consumes this
// contract; scheduler.go provides the default, in-process
// implementation the loop uses unless a caller supplies a different
// one via WithScheduler.
type Scheduler interface {
	// ScheduleNow enqueues an immediate task.
	ScheduleNow(t *Task)
	// ScheduleFuture enqueues a task to run at or after deadlineNS
	// (absolute nanoseconds, same epoch as the loop's Clock).
	ScheduleFuture(t *Task, deadlineNS int64)
	// RunAll dequeues and executes, in a stable order, every immediate
	// task and every timed task whose deadline is <= now. Tasks
	// enqueued by a callback during RunAll are deferred to the next
	// invocation, bounding the iteration.
	RunAll(now int64)
	// NextDeadline returns the nearest pending timer deadline, if any.
	NextDeadline() (deadlineNS int64, ok bool)
	// CancelAll invokes every held task (immediate and timed) with the
	// Canceled status and empties the scheduler.
	CancelAll()
}

// timerHeap is a min-heap of timed tasks ordered by deadline, with
// equal deadlines ordered by ScheduleFuture call order (seq), grounded
// on the teacher's container/heap-based timer heap.
type timerHeap []*Task

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].scheduledTime != h[j].scheduledTime {
		return h[i].scheduledTime < h[j].scheduledTime
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIndex = i; h[j].heapIndex = j }
func (h *timerHeap) Push(x any)         { t := x.(*Task); t.heapIndex = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// defaultScheduler is the in-process Scheduler every Loop uses unless
// constructed with WithScheduler. It is touched exclusively by the
// event thread (spec.md §3 thread-private region invariant), so it
// needs no internal locking of its own.
type defaultScheduler struct {
	immediate []*Task
	timers    timerHeap
	// nextSeq assigns each ScheduleFuture call a monotonic sequence
	// number, so RunAll can tell a timer present at entry from one a
	// callback schedules mid-call (the "deferred to next invocation"
	// rule), even when the new timer sorts earlier in the heap.
	nextSeq uint64
}

func newDefaultScheduler() *defaultScheduler {
	return &defaultScheduler{timers: make(timerHeap, 0)}
}

func (s *defaultScheduler) ScheduleNow(t *Task) {
	t.scheduledTime = 0
	s.immediate = append(s.immediate, t)
}

func (s *defaultScheduler) ScheduleFuture(t *Task, deadlineNS int64) {
	t.scheduledTime = deadlineNS
	t.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.timers, t)
}

func (s *defaultScheduler) RunAll(now int64) {
	// Snapshot bounds: only tasks present at entry run this call.
	n := len(s.immediate)
	due := s.immediate[:n]
	s.immediate = s.immediate[n:]
	for _, t := range due {
		t.run(RunReady)
	}
	if len(s.immediate) == 0 {
		s.immediate = nil
	}

	// Snapshot bounds for timers too: pop every timer due at or before
	// now, but only run the ones present at entry (seq < snapshotSeq);
	// a callback above that calls ScheduleFuture with deadline <= now
	// gets a seq >= snapshotSeq and is pushed back unrun, so it's left
	// for the next RunAll. It must still be popped off (not just
	// skipped in place), since it may sort as the new heap root ahead
	// of an original, still-due entry, which would otherwise halt the
	// loop before that original entry is reached.
	snapshotSeq := s.nextSeq
	var deferred []*Task
	for s.timers.Len() > 0 && s.timers[0].scheduledTime <= now {
		t := heap.Pop(&s.timers).(*Task)
		if t.seq < snapshotSeq {
			t.run(RunReady)
		} else {
			deferred = append(deferred, t)
		}
	}
	for _, t := range deferred {
		heap.Push(&s.timers, t)
	}
}

func (s *defaultScheduler) NextDeadline() (int64, bool) {
	if s.timers.Len() == 0 {
		return 0, false
	}
	return s.timers[0].scheduledTime, true
}

func (s *defaultScheduler) CancelAll() {
	immediate := s.immediate
	s.immediate = nil
	for _, t := range immediate {
		t.run(Canceled)
	}
	for s.timers.Len() > 0 {
		t := heap.Pop(&s.timers).(*Task)
		t.run(Canceled)
	}
}
