package kqloop

import "os"

// IOHandle is the minimal surface subscribe_to_io_events needs from a
// caller's I/O handle: a kernel file descriptor to register with
// kqueue. spec.md §1 places "the higher-level I/O handle factory" out
// of scope; IOHandle is the seam a real factory would implement.
type IOHandle interface {
	// FD returns the underlying kernel file descriptor.
	FD() int
}

// FileHandle adapts an *os.File to IOHandle, grounded on the teacher's
// fd_unix.go thin fd wrapper. It is the minimal concrete IOHandle this
// module ships so subscribe_to_io_events is usable standalone; a real
// deployment's I/O handle factory would implement IOHandle directly
// over its own connection/pipe/socket type instead of wrapping *os.File.
type FileHandle struct {
	f *os.File
}

// NewFileHandle wraps an *os.File as an IOHandle.
func NewFileHandle(f *os.File) *FileHandle {
	return &FileHandle{f: f}
}

func (h *FileHandle) FD() int { return int(h.f.Fd()) }

// File returns the wrapped *os.File.
func (h *FileHandle) File() *os.File { return h.f }

// rawFDHandle adapts a bare integer fd (e.g. from syscall.Socketpair)
// to IOHandle without requiring an *os.File wrapper.
type rawFDHandle int

func (h rawFDHandle) FD() int { return int(h) }

// NewRawFDHandle wraps a raw file descriptor as an IOHandle.
func NewRawFDHandle(fd int) IOHandle { return rawFDHandle(fd) }
