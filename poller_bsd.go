//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package kqloop

import (
	"math"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ptrFromUintptr and uintptrFromPtr convert a Subscription Record
// address to and from the *byte type golang.org/x/sys/unix.Kevent_t's
// Udata field expects on the BSD family. The record's lifetime is
// managed entirely by the subscribe/unsubscribe task protocol (spec.md
// §3, §4.4); this conversion never implies Go-GC ownership by kqueue.
func ptrFromUintptr(p uintptr) unsafe.Pointer { return unsafe.Pointer(p) } //nolint:govet

func uintptrFromPtr(p *byte) uintptr { return uintptr(unsafe.Pointer(p)) }

// kqueuePoller is the Readiness Multiplexer Handle (RMH) of spec.md
// §2: a thin wrapper over a kqueue descriptor supporting register,
// deregister, and wait(events, timeout), with two independent filters
// per descriptor (readable, writable) and a receipt mode that reports
// per-change success/failure without delivering readiness events.
//
// Grounded on the teacher's poller_darwin.go FastPoller, narrowed to
// exactly the operations spec.md names and adding EV_RECEIPT support,
// which the teacher's poller does not use (it never needs atomic
// two-filter rollback the way spec.md's subscription protocol does).
type kqueuePoller struct {
	kq int
}

func newKqueuePoller() (*kqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, &SystemCallError{Op: "kqueue", Cause: err}
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq}, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}

func kqFilter(f Filter) int16 {
	if f == FilterWritable {
		return unix.EVFILT_WRITE
	}
	return unix.EVFILT_READ
}

// registerReceipt submits add-changes for the given fd/filters in
// EV_RECEIPT mode (spec.md §4.4 step 4) and reports, per filter,
// whether the kernel accepted the registration. userData is installed
// on every change so a live kqueue registration always carries its
// owning Subscription Record's address, per spec.md §3's invariant.
func (p *kqueuePoller) registerReceipt(fd int, filters []Filter, userData uintptr) (ok []bool, err error) {
	changes := make([]unix.Kevent_t, len(filters))
	for i, f := range filters {
		changes[i] = unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: kqFilter(f),
			Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_RECEIPT,
			Udata:  (*byte)(ptrFromUintptr(userData)),
		}
	}
	receipts := make([]unix.Kevent_t, len(filters))
	n, kerr := unix.Kevent(p.kq, changes, receipts, nil)
	if kerr != nil {
		return nil, &SystemCallError{Op: "kevent(EV_RECEIPT add)", Cause: kerr}
	}
	ok = make([]bool, len(filters))
	for i := 0; i < n && i < len(receipts); i++ {
		// EV_ERROR is always set on a receipt; a non-zero Data is the
		// errno of a failed change, zero means the change succeeded.
		ok[i] = receipts[i].Data == 0
	}
	return ok, nil
}

// deregister submits delete-changes for the given fd/filters. Errors
// are ignored per spec.md §4.4 step 2 ("submit a delete change list...")
// and the teacher's own UnregisterFD, which does not fail callers on a
// best-effort delete.
func (p *kqueuePoller) deregister(fd int, filters []Filter) {
	if len(filters) == 0 {
		return
	}
	changes := make([]unix.Kevent_t, len(filters))
	for i, f := range filters {
		changes[i] = unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: kqFilter(f),
			Flags:  unix.EV_DELETE,
		}
	}
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
}

// polledEvent is a platform-neutral view of one delivered kqueue
// event, consumed by the main loop's fan-in fold (spec.md §4.5).
type polledEvent struct {
	fd       int
	filter   Filter
	data     int64
	eof      bool
	isError  bool
	userData uintptr
}

// wait blocks in kevent() for up to timeoutMs (negative means "no
// timeout", i.e. block indefinitely) and fills buf with delivered
// events, returning the count. Per spec.md §4.5, a negative return
// from the syscall is the caller's signal to record a SystemCallError
// and treat n as 0.
func (p *kqueuePoller) wait(buf []polledEvent, timeoutMs int64) (int, error) {
	raw := make([]unix.Kevent_t, len(buf))
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		sec := timeoutMs / 1000
		nsec := (timeoutMs % 1000) * int64(unix.NSEC_PER_MSEC)
		ts = &unix.Timespec{Sec: sec, Nsec: nsec}
	}
	n, err := unix.Kevent(p.kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &SystemCallError{Op: "kevent(wait)", Cause: err}
	}
	for i := 0; i < n; i++ {
		kev := &raw[i]
		buf[i] = polledEvent{
			fd:       int(kev.Ident),
			filter:   filterFromKqueue(kev.Filter),
			data:     int64(kev.Data),
			eof:      kev.Flags&unix.EV_EOF != 0,
			isError:  kev.Flags&unix.EV_ERROR != 0,
			userData: uintptrFromPtr(kev.Udata),
		}
	}
	return n, nil
}

func filterFromKqueue(f int16) Filter {
	if f == unix.EVFILT_WRITE {
		return FilterWritable
	}
	return FilterReadable
}

// kqueueTimeoutCapMs is DEFAULT_TIMEOUT from spec.md §4.5, expressed in
// milliseconds: an adaptive poll timeout is never allowed to exceed
// this, and on overflow of kqueue's Timespec.Sec field the value is
// clamped to the platform maximum with the sub-second part zeroed.
const kqueueTimeoutCapMs = int64(100 * 1000)

// clampTimeoutMs implements the overflow-clamp rule in spec.md §4.5.
func clampTimeoutMs(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > kqueueTimeoutCapMs {
		return kqueueTimeoutCapMs
	}
	maxSecMs := int64(math.MaxInt32) * 1000
	if ms > maxSecMs {
		return maxSecMs
	}
	return ms
}
