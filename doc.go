// Package kqloop implements a single-threaded I/O event loop backed by
// kqueue, the BSD-family readiness multiplexer.
//
// A Loop owns exactly one OS thread (the "event thread"). That thread
// blocks inside kqueue, wakes on readiness or on a self-pipe signal,
// dispatches readiness callbacks to subscribers, drains work submitted
// from other goroutines, and runs due timer/immediate tasks from an
// in-loop scheduler.
//
// The hard part is not the kqueue wrapper: it's the disciplined
// partition of state into thread-private and cross-thread regions, the
// single-writer discipline for kqueue registrations (always performed
// from the event thread itself, never from a caller goroutine), and
// the main loop's interleaving of kernel events, cross-thread intake,
// task execution, and adaptive timeout computation.
//
// Deliberately out of scope: the monotonic clock source (swappable via
// WithClock), the pipe abstraction used for self-signaling (see
// newWakePipe), the task scheduler implementation (see Scheduler),
// memory allocation, thread spawning/joining primitives (use the Go
// runtime's goroutine scheduler plus a dedicated OS thread via
// runtime.LockOSThread), the higher-level I/O handle factory (see
// IOHandle), and any platform variant that uses a different
// multiplexer (epoll, IOCP).
package kqloop
