//go:build windows

package storage

import (
	"errors"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"
)

// File is a memory-mapped, file-backed Storage.
type File struct {
	f         *os.File
	mapHandle windows.Handle
	data      []byte
	size      int64
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

	mapHandle, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size&0xFFFFFFFF), nil)
	if err != nil {
		f.Close()
		return nil, false, err
	}

	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		f.Close()
		return nil, false, err
	}

	var data []byte
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	hdr.Data = addr
	hdr.Len = int(size)
	hdr.Cap = int(size)

	return &File{f: f, mapHandle: mapHandle, data: data, size: size}, created, nil
}

func (m *File) Size() int64 { return m.size }

func (m *File) Slice(offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > len(m.data) {
		return nil
	}
	return m.data[offset : offset+length]
}

func (m *File) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)))
}

// SyncNow is identical to Sync on Windows: FlushViewOfFile is already
// synchronous.
func (m *File) SyncNow() error { return m.Sync() }

func (m *File) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	if len(m.data) > 0 {
		if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data))); err != nil {
			return err
		}
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
			return err
		}
	}
	if err := windows.CloseHandle(m.mapHandle); err != nil {
		return err
	}
	if err := m.f.Truncate(newSize); err != nil {
		return err
	}

	mapHandle, err := windows.CreateFileMapping(windows.Handle(m.f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(newSize>>32), uint32(newSize&0xFFFFFFFF), nil)
	if err != nil {
		return err
	}
	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(newSize))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return err
	}

	var data []byte
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	hdr.Data = addr
	hdr.Len = int(newSize)
	hdr.Cap = int(newSize)

	m.mapHandle = mapHandle
	m.data = data
	m.size = newSize
	return nil
}

func (m *File) Close() error {
	var firstErr error
	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}
	if m.mapHandle != 0 {
		if err := windows.CloseHandle(m.mapHandle); err != nil && firstErr == nil {
			firstErr = err
		}
		m.mapHandle = 0
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.f = nil
	}
	return firstErr
}
