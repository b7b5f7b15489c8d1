package kqloop

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Loop is the Event Loop Facade: the single type an embedder
// constructs, runs on one goroutine, and drives from any goroutine via
// its thread-safe methods (ScheduleTaskNow, ScheduleTaskFuture,
// SubscribeToIOEvents, UnsubscribeFromIOEvents, Stop).
//
// Internally it partitions its state exactly as spec.md §3 describes:
// a Cross-Thread Inbox (inbox) mutating under its own mutex from any
// goroutine, and a thread-private region (the priv field below) that
// only the goroutine currently executing Run ever touches, except for
// the narrow Ready-state bypass documented on crossThreadInbox.
type Loop struct {
	poller readinessMultiplexer
	pipe   *wakePipe

	inbox crossThreadInbox

	clock            ClockFunc
	logger           *logiface.Logger[*Event]
	defaultTimeoutMs int64

	loopGoroutineID atomic.Uint64
	stopRequested   atomic.Bool
	threadDone      chan struct{}
	lastError       lastErrorSlot

	priv struct {
		state                State
		connectedHandleCount int
		liveSubscriptions    map[uintptr]*Subscription
		scheduler            Scheduler
		pollBuf              []polledEvent
	}
}

// New constructs a Loop in StateReady: the RMH (kqueue descriptor) and
// self-signal pipe are allocated immediately, but no event thread runs
// until Run is called. Grounded on the teacher's eventloop.New, which
// similarly front-loads poller/wake-pipe allocation into the
// constructor rather than Run.
func New(opts ...Option) (*Loop, error) {
	poller, err := newKqueuePoller()
	if err != nil {
		return nil, err
	}
	l, err := newLoopWithMultiplexer(poller, opts...)
	if err != nil {
		_ = poller.close()
		return nil, err
	}
	return l, nil
}

// newLoopWithMultiplexer builds a Loop over a caller-supplied
// readinessMultiplexer. Exported construction always goes through New,
// which supplies a real kqueuePoller; tests use this directly to
// substitute a fake RMH (spec.md §8 S4, subscribe rollback).
func newLoopWithMultiplexer(poller readinessMultiplexer, opts ...Option) (*Loop, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	pipe, err := newWakePipe()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		poller:           poller,
		pipe:             pipe,
		clock:            cfg.clock,
		logger:           cfg.logger,
		defaultTimeoutMs: cfg.defaultTimeoutMs,
		threadDone:       make(chan struct{}),
	}
	l.inbox.state = StateReady
	l.priv.state = StateReady
	l.priv.liveSubscriptions = make(map[uintptr]*Subscription)
	l.priv.scheduler = cfg.scheduler
	l.priv.pollBuf = make([]polledEvent, cfg.maxEventsPerWait)
	close(l.threadDone) // nothing to join until the first Run

	return l, nil
}

// isLoopThread reports whether the calling goroutine is the one
// currently executing Run's main loop, grounded on the teacher's own
// isLoopThread/getGoroutineID pattern in eventloop/loop.go (Go has no
// public goroutine-ID API, so the teacher parses runtime.Stack's
// "goroutine N" header; this module reuses that exact technique).
func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// LastError returns the most recent non-fatal error recorded by the
// loop (a SystemCallError from a failing wait/signal/registration
// call, or a RegistrationError from a rolled-back subscription), per
// spec.md §6's "thread-local last-error slot that callers may inspect
// after a failing call". Returns nil if nothing has failed yet.
func (l *Loop) LastError() error {
	return l.lastError.get()
}

// IsOnCallersThread reports whether the calling goroutine is the one
// currently running this Loop's main loop (spec.md §4.1). Operations
// invoked from the loop thread itself (e.g. from within an event or
// task callback) take a same-thread fast path that bypasses the
// Cross-Thread Inbox entirely.
func (l *Loop) IsOnCallersThread() bool {
	return l.isLoopThread()
}

// scheduleTask implements the dispatch half of spec.md §4.1's
// schedule_task_now/schedule_task_future: same-thread callers mutate
// the thread-private scheduler directly; any other caller goes through
// the Cross-Thread Inbox handoff template of spec.md §4.3.
func (l *Loop) scheduleTask(t *Task, deadlineNS int64) {
	t.scheduledTime = deadlineNS
	if l.isLoopThread() {
		if deadlineNS == 0 {
			l.priv.scheduler.ScheduleNow(t)
		} else {
			l.priv.scheduler.ScheduleFuture(t, deadlineNS)
		}
		return
	}
	if l.inbox.pushTask(t) {
		if err := l.pipe.signal(); err != nil {
			l.logSystemCallFailure("signal", err)
		}
	}
}

// ScheduleTaskNow schedules callback to run on the event thread as
// soon as the main loop next processes immediate tasks.
func (l *Loop) ScheduleTaskNow(callback OnTaskFunc, userArg any) *Task {
	t := NewTask(callback, userArg)
	l.scheduleTask(t, 0)
	return t
}

// ScheduleTaskFuture schedules callback to run on the event thread at
// or after deadlineNS (absolute nanoseconds, same epoch as the Loop's
// Clock Source).
func (l *Loop) ScheduleTaskFuture(callback OnTaskFunc, userArg any, deadlineNS int64) *Task {
	t := NewTask(callback, userArg)
	l.scheduleTask(t, deadlineNS)
	return t
}

// SubscribeToIOEvents registers interest in readability and/or
// writability of handle, per spec.md §4.1. The registration itself is
// deferred onto the event thread (spec.md §4.4); this call returns the
// Subscription Record synchronously and fails only when neither
// readable nor writable is requested. Any kernel-level registration
// failure is reported asynchronously to callback as an ERROR event.
func (l *Loop) SubscribeToIOEvents(handle IOHandle, readable, writable bool, callback OnEventFunc, userData any) (*Subscription, error) {
	var mask subscriptionMask
	if readable {
		mask |= maskReadable
	}
	if writable {
		mask |= maskWritable
	}
	if mask == 0 {
		return nil, errors.New("kqloop: subscribe requires at least one of readable or writable")
	}
	return l.subscribe(handle, mask, callback, userData)
}

// UnsubscribeFromIOEvents deregisters sub and frees its Subscription
// Record once the event thread has processed the corresponding task
// (spec.md §4.1, §4.4).
func (l *Loop) UnsubscribeFromIOEvents(sub *Subscription) {
	l.unsubscribe(sub)
}

// registerWakePipe installs the self-signal pipe's read end with the
// RMH; called once, from the event thread, at the start of Run.
func (l *Loop) registerWakePipe() error {
	ok, err := l.poller.registerReceipt(l.pipe.readFD, []Filter{FilterReadable}, 0)
	if err != nil {
		return err
	}
	if len(ok) == 0 || !ok[0] {
		return &RegistrationError{Filter: "readable", Cause: errors.New("wake pipe registration rejected")}
	}
	return nil
}

// Run transitions the Loop from StateReady to StateRunning and blocks
// the calling goroutine running the main loop until Stop causes it to
// exit, per spec.md §4.1/§4.5. Callers that need Run to not block
// their own goroutine are expected to `go loop.Run()` themselves,
// exactly as the teacher's own examples spawn their Loop.
func (l *Loop) Run() error {
	if !l.inbox.runUnsafe() {
		return ErrNotReady
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	l.priv.state = StateRunning
	l.threadDone = make(chan struct{})
	l.loopGoroutineID.Store(getGoroutineID())
	l.logLifecycle("run")

	if err := l.registerWakePipe(); err != nil {
		l.logSystemCallFailure("registerWakePipe", err)
	}

	l.mainLoop()

	l.logLifecycle("stopped")
	l.loopGoroutineID.Store(0)
	close(l.threadDone)
	return nil
}

// Stop requests that the event thread exit at its next main-loop
// termination test; a no-op unless the Loop is currently StateRunning
// (spec.md §4.1). Safe to call from any goroutine, any number of
// times.
func (l *Loop) Stop() {
	l.stopRequested.Store(true)
	if l.inbox.requestStop() {
		if err := l.pipe.signal(); err != nil {
			l.logSystemCallFailure("signal", err)
		}
	}
}

// WaitForStopCompletion blocks until the event thread started by Run
// has exited, then resets the Loop to StateReady so it may be Run
// again. Returns ErrStopNotRequested if Stop was never called.
func (l *Loop) WaitForStopCompletion() error {
	if !l.stopRequested.Load() {
		return ErrStopNotRequested
	}
	<-l.threadDone
	l.stopRequested.Store(false)
	l.inbox.resetUnsafe()
	l.priv.state = StateReady
	return nil
}

// Destroy releases the RMH descriptor and self-signal pipe, and cancels
// every task still held by the scheduler or the Cross-Thread Inbox.
// Per spec.md §7, destroying a Loop with any live Subscription Record
// is a caller bug, reported as ErrHandlesLeaked rather than silently
// leaking kernel registrations. Must only be called once the event
// thread is known-joined (after a successful WaitForStopCompletion, or
// before the first Run).
func (l *Loop) Destroy() error {
	if l.inbox.snapshotState() != StateReady {
		return ErrNotReady
	}
	if l.priv.connectedHandleCount != 0 {
		return ErrHandlesLeaked
	}
	l.priv.scheduler.CancelAll()
	for _, t := range l.inbox.takeAllUnsafe() {
		t.run(Canceled)
	}
	if err := l.poller.close(); err != nil {
		l.logSystemCallFailure("close(kqueue)", err)
	}
	l.pipe.close()
	return nil
}

// mainLoop is the iteration body of spec.md §4.5: compute an adaptive
// timeout, wait on the RMH, fold delivered readiness into per-handle
// flags and dispatch callbacks, drain the Cross-Thread Inbox, run due
// scheduler tasks, then re-check the termination condition.
func (l *Loop) mainLoop() {
	for {
		timeoutMs := l.computeTimeoutMs()
		n, err := l.poller.wait(l.priv.pollBuf, timeoutMs)
		if err != nil {
			l.logSystemCallFailure("wait", err)
			n = 0
		}

		l.foldAndDispatch(l.priv.pollBuf[:n])
		l.drainInbox()

		now, cerr := l.clock()
		if cerr != nil {
			l.logSystemCallFailure("clock", cerr)
		}
		l.priv.scheduler.RunAll(now)

		if l.priv.state == StateStopping {
			return
		}
	}
}

// foldAndDispatch implements spec.md §4.5's readiness fan-in fold: every
// delivered event for the same Subscription this iteration is folded
// into one EventFlags value via translateEvent, and the subscriber
// callback is invoked exactly once per touched subscription, not once
// per delivered kqueue event. Events carrying the wake pipe's sentinel
// userData (0) are the self-signal and never reach a subscriber.
func (l *Loop) foldAndDispatch(events []polledEvent) {
	touched := make([]*Subscription, 0, len(events))
	for _, e := range events {
		if e.userData == 0 {
			l.pipe.drain()
			continue
		}
		sub, ok := l.priv.liveSubscriptions[e.userData]
		if !ok {
			// Registration already torn down; a stale event for a
			// descriptor whose unsubscribe task already ran.
			continue
		}
		flags := translateEvent(rawEvent{
			filter:  e.filter,
			data:    e.data,
			eof:     e.eof,
			isError: e.isError,
		})
		if flags == 0 {
			continue
		}
		if sub.eventsThisLoop == 0 {
			touched = append(touched, sub)
		}
		sub.eventsThisLoop |= flags
	}
	for _, sub := range touched {
		flags := sub.eventsThisLoop
		sub.eventsThisLoop = 0
		sub.callback(l, sub.owner, flags, sub.userData)
	}
}

// drainInbox implements the event-thread half of spec.md §4.3's
// handoff template: swap out the pending task FIFO, copy the
// cross-thread state into the thread-private copy, then place every
// drained task onto the thread-private scheduler.
func (l *Loop) drainInbox() {
	tasks := l.inbox.drain(&l.priv.state)
	for _, t := range tasks {
		if t.scheduledTime == 0 {
			l.priv.scheduler.ScheduleNow(t)
		} else {
			l.priv.scheduler.ScheduleFuture(t, t.scheduledTime)
		}
	}
}

// computeTimeoutMs implements spec.md §4.5's adaptive timeout: block
// until the nearest timer deadline, capped at the loop's default
// timeout; the default timeout itself is used when no timer is pending
// or the clock read fails.
func (l *Loop) computeTimeoutMs() int64 {
	deadline, ok := l.priv.scheduler.NextDeadline()
	if !ok {
		return clampTimeoutMs(l.defaultTimeoutMs)
	}
	now, err := l.clock()
	if err != nil {
		return clampTimeoutMs(l.defaultTimeoutMs)
	}
	remainingNS := deadline - now
	if remainingNS <= 0 {
		return 0
	}
	ms := remainingNS / int64(time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	if ms > l.defaultTimeoutMs {
		ms = l.defaultTimeoutMs
	}
	return clampTimeoutMs(ms)
}
