package kqloop

// TaskStatus describes why a Task's callback is being invoked.
type TaskStatus int

const (
	// RunReady means the task is due and running normally.
	RunReady TaskStatus = iota
	// Canceled means the task is being invoked only so it can free
	// resources; it never ran (or, for an already-delivered kqueue
	// readiness event, never will run again).
	Canceled
)

func (s TaskStatus) String() string {
	switch s {
	case RunReady:
		return "RunReady"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// OnTaskFunc is the callback signature for a Task, per spec.md §6.
type OnTaskFunc func(task *Task, userArg any, status TaskStatus)

// Task is an opaque record carrying a callback, a user argument, and a
// scheduled-time slot (zero means "immediate"). It is owned by the
// caller until handed to the loop (ScheduleTaskNow/ScheduleTaskFuture);
// thereafter it is owned by the scheduler until its callback returns or
// it is canceled. A canceled task's callback is invoked exactly once
// with the Canceled status.
type Task struct {
	callback      OnTaskFunc
	userArg       any
	scheduledTime int64 // absolute deadline in nanoseconds; 0 == immediate

	// heapIndex is maintained by the scheduler's timer heap; -1 when the
	// task is not currently a member of the heap (immediate, or already run).
	heapIndex int

	// seq is assigned by defaultScheduler.ScheduleFuture and lets RunAll
	// distinguish timers present at entry from ones a callback schedules
	// mid-call, even when the new timer's deadline sorts earlier in the
	// heap than an original one.
	seq uint64
}

// NewTask constructs a Task ready to be handed to a Loop via
// ScheduleTaskNow or ScheduleTaskFuture.
func NewTask(callback OnTaskFunc, userArg any) *Task {
	return &Task{callback: callback, userArg: userArg, heapIndex: -1}
}

// run invokes the task's callback exactly once with the given status.
func (t *Task) run(status TaskStatus) {
	if t.callback != nil {
		t.callback(t, t.userArg, status)
	}
}
