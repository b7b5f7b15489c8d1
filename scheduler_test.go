package kqloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSchedulerImmediateOrder(t *testing.T) {
	s := newDefaultScheduler()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.ScheduleNow(NewTask(func(*Task, any, TaskStatus) {
			order = append(order, i)
		}, nil))
	}
	s.RunAll(0)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestDefaultSchedulerTimerOrdering(t *testing.T) {
	s := newDefaultScheduler()
	var order []string
	s.ScheduleFuture(NewTask(func(*Task, any, TaskStatus) {
		order = append(order, "late")
	}, nil), 300)
	s.ScheduleFuture(NewTask(func(*Task, any, TaskStatus) {
		order = append(order, "early")
	}, nil), 100)
	s.ScheduleFuture(NewTask(func(*Task, any, TaskStatus) {
		order = append(order, "mid")
	}, nil), 200)

	s.RunAll(250)
	assert.Equal(t, []string{"early", "mid"}, order)

	deadline, ok := s.NextDeadline()
	assert.True(t, ok)
	assert.Equal(t, int64(300), deadline)

	s.RunAll(1000)
	assert.Equal(t, []string{"early", "mid", "late"}, order)

	_, ok = s.NextDeadline()
	assert.False(t, ok)
}

func TestDefaultSchedulerRunAllDefersTasksEnqueuedDuringCallback(t *testing.T) {
	s := newDefaultScheduler()
	var ran []string
	s.ScheduleNow(NewTask(func(*Task, any, TaskStatus) {
		ran = append(ran, "first")
		s.ScheduleNow(NewTask(func(*Task, any, TaskStatus) {
			ran = append(ran, "reentrant")
		}, nil))
	}, nil))

	s.RunAll(0)
	assert.Equal(t, []string{"first"}, ran, "task scheduled during RunAll must not run in the same call")

	s.RunAll(0)
	assert.Equal(t, []string{"first", "reentrant"}, ran)
}

func TestDefaultSchedulerRunAllDefersTimersRescheduledDuringCallback(t *testing.T) {
	s := newDefaultScheduler()
	var ran []string
	s.ScheduleFuture(NewTask(func(*Task, any, TaskStatus) {
		ran = append(ran, "first")
		// Reschedule with a deadline already <= now: must not run until
		// the next RunAll, even though it will sort as the new heap
		// root ahead of any other pending due timer.
		s.ScheduleFuture(NewTask(func(*Task, any, TaskStatus) {
			ran = append(ran, "reentrant")
		}, nil), 0)
	}, nil), 0)
	s.ScheduleFuture(NewTask(func(*Task, any, TaskStatus) {
		ran = append(ran, "also-due")
	}, nil), 0)

	s.RunAll(0)
	assert.Equal(t, []string{"first", "also-due"}, ran, "timer scheduled during RunAll must not run in the same call, and must not block other due timers present at entry")

	s.RunAll(0)
	assert.Equal(t, []string{"first", "also-due", "reentrant"}, ran)
}

func TestDefaultSchedulerCancelAllInvokesCanceledStatus(t *testing.T) {
	s := newDefaultScheduler()
	var statuses []TaskStatus
	s.ScheduleNow(NewTask(func(_ *Task, _ any, status TaskStatus) {
		statuses = append(statuses, status)
	}, nil))
	s.ScheduleFuture(NewTask(func(_ *Task, _ any, status TaskStatus) {
		statuses = append(statuses, status)
	}, nil), 5000)

	s.CancelAll()
	assert.Equal(t, []TaskStatus{Canceled, Canceled}, statuses)

	_, ok := s.NextDeadline()
	assert.False(t, ok)
}
