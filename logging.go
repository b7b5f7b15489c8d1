package kqloop

import (
	"errors"
	"fmt"
	"os"

	"github.com/joeycumines/logiface"
)

// Event is the minimal logiface.Event implementation this module logs
// through, grounded on the teacher's own github.com/joeycumines/logiface
// dependency (declared, though only exercised by the teacher's tests —
// here it backs the loop's own structured logging instead of a
// hand-rolled Logger interface).
type Event struct {
	logiface.UnimplementedEvent
	level logiface.Level
	msg   string
	str   map[string]string
	err   error
}

func (e *Event) Level() logiface.Level { return e.level }

func (e *Event) AddMessage(msg string) bool { e.msg = msg; return true }

func (e *Event) AddError(err error) bool { e.err = err; return true }

func (e *Event) AddString(key, val string) bool {
	if e.str == nil {
		e.str = make(map[string]string, 4)
	}
	e.str[key] = val
	return true
}

// AddField is logiface's mandatory fallback for field types Event has no
// typed Add* override for (e.g. AddInt, since this Event only special-cases
// message/error/string). It must never panic.
func (e *Event) AddField(key string, val any) {
	if e.str == nil {
		e.str = make(map[string]string, 4)
	}
	e.str[key] = fmt.Sprint(val)
}

// eventFactory and textWriter adapt Event to logiface's generic
// Logger[E]; a caller who wants JSON, zerolog, or slog output supplies
// their own via WithLogger (see options.go), using one of the sibling
// logiface-* adapter packages instead of this bare-bones text writer.
type eventFactory struct{}

func (eventFactory) NewEvent(level logiface.Level) *Event {
	return &Event{level: level}
}

func (eventFactory) ReleaseEvent(*Event) {}

// textWriter is the default Writer[*Event]: plain lines to an
// io.Writer (os.Stderr unless overridden), good enough for a library
// whose callers are expected to plug in their own adapter for
// production log aggregation.
type textWriter struct {
	out *os.File
}

func (w textWriter) Write(e *Event) error {
	line := e.level.String() + ": " + e.msg
	for k, v := range e.str {
		line += " " + k + "=" + v
	}
	if e.err != nil {
		line += " err=" + e.err.Error()
	}
	_, err := w.out.WriteString(line + "\n")
	return err
}

// newDefaultLogger builds a disabled-by-default logiface.Logger; loops
// constructed without WithLogger carry this so every internal log call
// site is unconditional, and level filtering makes it a no-op, matching
// logiface's own "build the call, let level filtering short-circuit it" idiom.
func newDefaultLogger() *logiface.Logger[*Event] {
	return logiface.New[*Event](
		logiface.WithEventFactory[*Event](eventFactory{}),
		logiface.WithWriter[*Event](textWriter{out: os.Stderr}),
		logiface.WithLevel[*Event](logiface.LevelDisabled),
	)
}

// categories mirror the teacher's logging.go taxonomy (poll, timer,
// task, subscribe, shutdown), narrowed to what this loop actually emits.
const (
	logCatPoll      = "poll"
	logCatSubscribe = "subscribe"
	logCatShutdown  = "shutdown"
)

func (l *Loop) logSystemCallFailure(op string, err error) {
	l.lastError.set(err)
	l.logger.Warning().Str("op", op).Str("category", logCatPoll).Err(err).Log("system call failure")
}

func (l *Loop) logRegistrationFailure(sub *Subscription) {
	l.lastError.set(&RegistrationError{Filter: "readable|writable", Cause: errors.New("registration rolled back")})
	l.logger.Warning().Int("fd", sub.fd).Str("category", logCatSubscribe).Log("subscription registration rolled back")
}

func (l *Loop) logLifecycle(event string) {
	l.logger.Info().Str("category", logCatShutdown).Log(event)
}
