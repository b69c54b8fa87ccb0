//go:build unix || linux || darwin || freebsd || openbsd || netbsd

package storage

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// File is a memory-mapped, file-backed Storage.
type File struct {
	f    *os.File
	data []byte
	size int64
}

// OpenFile opens or creates path read/write and maps it. If the file is
// smaller than initialSize, it is extended first. initialSize must be > 0:
// an empty file cannot be mapped. The returned bool reports whether path
// was empty (size 0) before this call grew it — i.e. whether it was just
// created rather than reopened — so callers can tell a fresh store from
// an existing one without depending on the post-grow size.
func OpenFile(path string, initialSize int64) (*File, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}

	size := st.Size()
	created := size == 0
	if initialSize > size {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, false, err
		}
		size = initialSize
	}
	if size == 0 {
		f.Close()
		return nil, false, errors.New("storage: cannot map an empty file")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, false, err
	}

	return &File{f: f, data: data, size: size}, created, nil
}

func (m *File) Size() int64 { return m.size }

func (m *File) Slice(offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > len(m.data) {
		return nil
	}
	return m.data[offset : offset+length]
}

// Sync issues an async msync, letting the kernel flush on its own
// schedule rather than blocking the caller.
func (m *File) Sync() error {
	return unix.Msync(m.data, unix.MS_ASYNC)
}

// SyncNow issues a synchronous msync and blocks until it completes.
func (m *File) SyncNow() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *File) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	// With MAP_SHARED the kernel page cache may still hold dirty pages;
	// flush before unmapping so a crash between unmap and remap can't
	// lose writes that were only ever in the old mapping.
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return err
	}
	if err := syscall.Munmap(m.data); err != nil {
		return err
	}
	if err := m.f.Truncate(newSize); err != nil {
		return err
	}

	data, err := syscall.Mmap(int(m.f.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	m.size = newSize
	return nil
}

func (m *File) Close() error {
	var firstErr error
	if m.data != nil {
		if err := syscall.Munmap(m.data); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.f = nil
	}
	return firstErr
}
