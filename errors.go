package kqloop

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Sentinel errors returned directly by facade operations (spec.md §7).
var (
	// ErrNotReady is returned by Run when the loop is not in StateReady.
	ErrNotReady = errors.New("kqloop: loop is not ready")

	// ErrStopNotRequested is returned by WaitForStopCompletion when Stop
	// was never called.
	ErrStopNotRequested = errors.New("kqloop: stop was not requested")

	// ErrHandlesLeaked is the assertion failure raised by Destroy when
	// connectedHandleCount is non-zero at teardown; per spec.md §7 this
	// is a caller bug, not a recoverable condition.
	ErrHandlesLeaked = errors.New("kqloop: destroy with live subscriptions")
)

// SystemCallError wraps a failing kqueue/pipe/registration syscall.
// Per spec.md §7 this is non-fatal: the loop records it and continues.
type SystemCallError struct {
	Op    string
	Cause error
}

func (e *SystemCallError) Error() string {
	return fmt.Sprintf("kqloop: syscall %s: %v", e.Op, e.Cause)
}

func (e *SystemCallError) Unwrap() error { return e.Cause }

// AllocationError describes a failed allocation of a Subscription
// record. No code path in this module constructs one: Go's allocator
// does not return errors the way the spec's source language's does, so
// Subscribe never fails for this reason (see DESIGN.md).
type AllocationError struct {
	Cause error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("kqloop: allocation failed: %v", e.Cause)
}

func (e *AllocationError) Unwrap() error { return e.Cause }

// RegistrationError is recorded in the loop's last-error slot (see
// Loop.LastError) when kqueue registration of a subscription partially
// or fully fails, or when the wake pipe's registration is rejected. The
// subscriber itself is told only through an ERROR event on its
// callback; the error value is never passed to it or returned to the
// caller.
type RegistrationError struct {
	Filter string
	Cause  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("kqloop: registration failed for filter %s: %v", e.Filter, e.Cause)
}

func (e *RegistrationError) Unwrap() error { return e.Cause }

// lastErrorSlot is the "thread-local last-error slot" of spec.md §6,
// realized as a per-Loop atomic slot rather than literal OS TLS: a
// Loop already owns exactly one event thread, so a single slot on the
// Loop value gives callers the same "inspect after a failing call"
// contract without needing real thread-local storage.
type lastErrorSlot struct {
	v atomic.Pointer[error]
}

func (s *lastErrorSlot) set(err error) {
	s.v.Store(&err)
}

func (s *lastErrorSlot) get() error {
	p := s.v.Load()
	if p == nil {
		return nil
	}
	return *p
}
