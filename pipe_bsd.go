//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package kqloop

import "golang.org/x/sys/unix"

// wakePipe is the Self-Signal Pipe of spec.md §2: a uni-directional
// byte pipe whose read end is registered on the RMH with the readable
// filter. Any write on the write end wakes the multiplexer.
//
// Grounded on the teacher's wakeup_darwin.go createWakeFd/closeWakeFd,
// adapted to golang.org/x/sys/unix's portable Pipe2 instead of the
// teacher's raw syscall.Pipe, since this module targets the whole BSD
// kqueue family rather than just darwin.
type wakePipe struct {
	readFD  int
	writeFD int
}

func newWakePipe() (*wakePipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, &SystemCallError{Op: "pipe2", Cause: err}
	}
	return &wakePipe{readFD: fds[0], writeFD: fds[1]}, nil
}

// signal writes one byte to the write end. Per spec.md §4.3 this is
// best-effort: a full pipe means a prior write already guarantees a
// wake, so an EAGAIN here is silently ignored. Any other error is
// treated as a fatal invariant violation per spec.md §9's second Open
// Question, and is reported via the returned error so the caller (the
// event thread, or Stop on another thread) can decide how to surface
// it; the default loop behavior logs it at Warning level and proceeds
// (the self-pipe write failing does not itself corrupt loop state).
func (p *wakePipe) signal() error {
	var buf [1]byte
	_, err := unix.Write(p.writeFD, buf[:])
	if err == nil || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil
	}
	return &SystemCallError{Op: "write(wakePipe)", Cause: err}
}

// drain reads until the pipe is empty (non-blocking), per spec.md
// §4.5's main-loop contract "drain pipe non-blockingly until empty".
func (p *wakePipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *wakePipe) close() {
	_ = unix.Close(p.readFD)
	_ = unix.Close(p.writeFD)
}
