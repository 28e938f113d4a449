package backend

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/xdd-io/xdd/internal/interfaces"
)

// File is a real file or block-device backend: positioned reads/writes
// via os.File's ReadAt/WriteAt, with optional O_DIRECT and support for
// the worker's alignment-fallback reopen path (§4.6).
//
// Grounded on the libaio-engine reference's raw O_DIRECT open flags
// (other_examples' jolt engine) combined with the teacher's backend
// contract shape (ReadAt/WriteAt/Size/Close/Sync).
type File struct {
	mu       sync.RWMutex
	f        *os.File
	path     string
	size     int64
	directIO bool
}

// Open opens path for positioned I/O. If directIO is true, O_DIRECT is
// requested; callers on platforms or filesystems that reject O_DIRECT
// should fall back to Reopen(false).
func Open(path string, directIO bool, readOnly bool) (*File, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	if directIO {
		flags |= syscall.O_DIRECT
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", path, err)
	}

	size, err := sizeOf(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{f: f, path: path, size: size, directIO: directIO}, nil
}

func sizeOf(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("backend: stat: %w", err)
	}
	if info.Mode()&os.ModeDevice != 0 {
		// Block devices report a zero regular-file size; seek to the
		// end to learn the device's byte capacity instead.
		end, err := f.Seek(0, 2)
		if err != nil {
			return 0, fmt.Errorf("backend: seek to end: %w", err)
		}
		return end, nil
	}
	return info.Size(), nil
}

// ReadAt implements interfaces.Backend.
func (b *File) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.f.ReadAt(p, off)
}

// WriteAt implements interfaces.Backend.
func (b *File) WriteAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.f.WriteAt(p, off)
}

// Size implements interfaces.Backend.
func (b *File) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Close implements interfaces.Backend.
func (b *File) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.f.Close()
}

// Sync implements interfaces.Backend.
func (b *File) Sync() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.f.Sync()
}

// Reopen implements interfaces.ReopenableBackend, used by the worker's
// O_DIRECT alignment-fallback path: close and reopen the same path with
// directIO toggled, preserving the file's current read-only mode.
func (b *File) Reopen(directIO bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	readOnly := b.f.Name() != "" && isReadOnly(b.f)
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("backend: close for reopen: %w", err)
	}

	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	if directIO {
		flags |= syscall.O_DIRECT
	}

	f, err := os.OpenFile(b.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("backend: reopen %s: %w", b.path, err)
	}

	b.f = f
	b.directIO = directIO
	return nil
}

func isReadOnly(f *os.File) bool {
	fd := f.Fd()
	flags, err := unixFcntlGetfl(int(fd))
	if err != nil {
		return false
	}
	return flags&syscall.O_ACCMODE == syscall.O_RDONLY
}

func unixFcntlGetfl(fd int) (int, error) {
	return syscall.FcntlInt(uintptr(fd), syscall.F_GETFL, 0)
}

var _ interfaces.Backend = (*File)(nil)
var _ interfaces.ReopenableBackend = (*File)(nil)
