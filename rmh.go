package kqloop

// readinessMultiplexer is the Readiness Multiplexer Handle contract
// spec.md §2 describes in platform-neutral terms. kqueuePoller
// (poller_bsd.go) is the only production implementation; tests
// substitute a fake satisfying this same contract to exercise the
// subscribe-rollback path (spec.md §8 S4) without depending on the
// kernel actually rejecting a registration.
type readinessMultiplexer interface {
	registerReceipt(fd int, filters []Filter, userData uintptr) (ok []bool, err error)
	deregister(fd int, filters []Filter)
	wait(buf []polledEvent, timeoutMs int64) (int, error)
	close() error
}
