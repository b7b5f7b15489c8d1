package kqloop

import "time"

// ClockFunc reports the current time as nanoseconds since an arbitrary
// but fixed epoch, per spec.md §6's Clock Source contract: monotonic,
// never going backwards within one process lifetime. Task deadlines
// (ScheduleTaskFuture) and the main loop's adaptive timeout computation
// are all expressed in this epoch.
type ClockFunc func() (nowNS int64, err error)

// monotonicEpoch anchors defaultClock's return values to a process-start
// reference point, so callers never observe a wall-clock jump (NTP step,
// timezone change) the way a raw time.Now().UnixNano() would.
var monotonicEpoch = time.Now()

// defaultClock is the Clock Source used unless a Loop is constructed
// with WithClock. Grounded on the teacher's use of time.Now() for its
// own timer heap deadlines (time.Time arithmetic is monotonic within a
// process per the time package's documented guarantee).
func defaultClock() (int64, error) {
	return time.Since(monotonicEpoch).Nanoseconds(), nil
}
