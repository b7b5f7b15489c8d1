package kqloop

import "unsafe"

// subscriptionMask is a small bitset over {readable, writable}, the
// set of filters spec.md §3 says a Subscription Record requests.
type subscriptionMask uint8

const (
	maskReadable subscriptionMask = 1 << iota
	maskWritable
)

func maskFromFilters(want subscriptionMask) []Filter {
	var filters []Filter
	if want&maskReadable != 0 {
		filters = append(filters, FilterReadable)
	}
	if want&maskWritable != 0 {
		filters = append(filters, FilterWritable)
	}
	return filters
}

// Subscription is the Subscription Record of spec.md §3: one per
// subscribed I/O handle. Allocated by the facade at subscribe time;
// ownership passes to the event loop; freed by the unsubscribe task
// regardless of whether it ran normally or was canceled during
// teardown.
//
// While alive, its address is installed as the kqueue Udata of every
// live registration for its descriptor; spec.md's invariant "for every
// live kernel registration, the Subscription Record is alive" holds
// because register/deregister are only ever performed by the event
// thread, serialized through the subscribe/unsubscribe tasks below.
type Subscription struct {
	owner      IOHandle
	fd         int
	mask       subscriptionMask
	eventsThisLoop EventFlags
	kernelRegistered bool
	callback   OnEventFunc
	userData   any

	subscribeTask   *Task
	unsubscribeTask *Task
}

// subscribe allocates a Subscription Record and schedules its
// registration task on the event thread (spec.md §4.4: "Subscription
// registration is deferred onto the event thread by scheduling an
// immediate task... an atomic both-or-neither effect demands
// single-threaded orchestration").
func (l *Loop) subscribe(handle IOHandle, mask subscriptionMask, cb OnEventFunc, userData any) (*Subscription, error) {
	sub := &Subscription{
		owner:    handle,
		fd:       handle.FD(),
		mask:     mask,
		callback: cb,
		userData: userData,
	}
	// The Task closure below captures sub directly, which is what keeps
	// the record reachable to the Go GC between now and the subscribe
	// task running on the event thread (which is the only goroutine
	// allowed to touch the thread-private liveSubscriptions table, so
	// the table itself isn't populated until then).
	sub.subscribeTask = NewTask(func(_ *Task, _ any, status TaskStatus) {
		l.runSubscribeTask(sub, status)
	}, nil)
	l.scheduleTask(sub.subscribeTask, 0)
	return sub, nil
}

// runSubscribeTask is the Subscribe task body of spec.md §4.4.
func (l *Loop) runSubscribeTask(sub *Subscription, status TaskStatus) {
	l.priv.connectedHandleCount++
	addr := subscriptionAddr(sub)
	l.priv.liveSubscriptions[addr] = sub
	if status == Canceled {
		// Record stays alive; the unsubscribe task (or teardown) frees it.
		return
	}

	filters := maskFromFilters(sub.mask)
	ok, err := l.poller.registerReceipt(sub.fd, filters, addr)
	if err != nil {
		l.logSystemCallFailure("subscribe", err)
		sub.kernelRegistered = false
		l.rollbackPartialRegistration(sub, filters, nil)
		sub.callback(l, sub.owner, ErrorFlag, sub.userData)
		return
	}

	allOK := true
	for _, v := range ok {
		if !v {
			allOK = false
			break
		}
	}
	if allOK {
		sub.kernelRegistered = true
		return
	}

	// Partial (or full) failure: roll back any filter that did succeed.
	sub.kernelRegistered = false
	l.rollbackPartialRegistration(sub, filters, ok)
	l.logRegistrationFailure(sub)
	sub.callback(l, sub.owner, ErrorFlag, sub.userData)
}

func (l *Loop) rollbackPartialRegistration(sub *Subscription, filters []Filter, ok []bool) {
	var toDelete []Filter
	for i, f := range filters {
		if ok == nil || ok[i] {
			toDelete = append(toDelete, f)
		}
	}
	if len(toDelete) > 0 {
		l.poller.deregister(sub.fd, toDelete)
	}
}

// unsubscribe schedules the detach + kqueue deregistration + free of a
// Subscription, per spec.md §4.1's unsubscribe_from_io_events contract.
func (l *Loop) unsubscribe(sub *Subscription) {
	sub.unsubscribeTask = NewTask(func(_ *Task, _ any, status TaskStatus) {
		l.runUnsubscribeTask(sub, status)
	}, nil)
	l.scheduleTask(sub.unsubscribeTask, 0)
}

// runUnsubscribeTask is the Unsubscribe task body of spec.md §4.4.
func (l *Loop) runUnsubscribeTask(sub *Subscription, status TaskStatus) {
	l.priv.connectedHandleCount--
	if status == RunReady && sub.kernelRegistered {
		l.poller.deregister(sub.fd, maskFromFilters(sub.mask))
	}
	// Freeing happens even on cancellation: drop the loop's reference so
	// the Go GC can reclaim the record once no kqueue registration (and
	// so no Udata pointer) references it.
	delete(l.priv.liveSubscriptions, subscriptionAddr(sub))
}

// subscriptionAddr returns the stable address identity spec.md §3
// installs as kqueue Udata for every registration belonging to sub.
// The record is kept reachable to the Go GC via l.priv.liveSubscriptions
// (populated by runSubscribeTask) for as long as any registration might
// reference this address, so treating the address as stable here is
// sound despite Go not otherwise guaranteeing object addresses.
func subscriptionAddr(sub *Subscription) uintptr {
	return uintptr(unsafe.Pointer(sub))
}
