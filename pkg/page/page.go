// Package page provides a reference-counted handle over a single locked
// page of a pool.Pool. A Handle is a thin value type: cloning it takes out
// another lock on the same page, closing it releases one, and a Handle
// that has been moved out of (via Take) or already closed reads back as
// invalid rather than panicking on reuse.
package page

import "vmem/pkg/pool"

// Store is the subset of *pool.Pool a Handle needs. Defined here, rather
// than importing the concrete type, so a test or an alternate pool
// implementation can stand in for it.
type Store interface {
	AllocPage() (uint64, []byte, error)
	FreePage(pos uint64) error
	LockPage(pos uint64) ([]byte, error)
	UnlockPage(pos uint64)
}

var _ Store = (*pool.Pool)(nil)

// Handle is a locked page: a position plus the byte slice backing it.
// The zero Handle is invalid and holds no lock.
type Handle struct {
	store Store
	pos   uint64
	data  []byte
	valid bool
}

// New allocates a fresh page from store (reusing a free page if one is
// available) and returns a Handle owning its lock.
func New(store Store) (Handle, error) {
	pos, data, err := store.AllocPage()
	if err != nil {
		return Handle{}, err
	}
	return Handle{store: store, pos: pos, data: data, valid: true}, nil
}

// Lock locks pos in store and returns a Handle owning that lock.
func Lock(store Store, pos uint64) (Handle, error) {
	data, err := store.LockPage(pos)
	if err != nil {
		return Handle{}, err
	}
	return Handle{store: store, pos: pos, data: data, valid: true}, nil
}

// Null returns an invalid Handle that owns no lock, identical to the
// zero value.
func Null() Handle { return Handle{} }

// Valid reports whether h currently owns a lock.
func (h Handle) Valid() bool { return h.valid }

// Pos returns the page position h refers to. Only meaningful if Valid.
func (h Handle) Pos() uint64 { return h.pos }

// Data returns the raw bytes of the locked page. Only meaningful if
// Valid; returns nil otherwise.
func (h Handle) Data() []byte {
	if !h.valid {
		return nil
	}
	return h.data
}

// Clone takes out a second, independent lock on the same page h refers
// to and returns a new Handle owning it. h is unaffected and remains
// valid. Clone on an invalid Handle returns an invalid Handle.
func (h Handle) Clone() (Handle, error) {
	if !h.valid {
		return Handle{}, nil
	}
	return Lock(h.store, h.pos)
}

// Take transfers ownership of h's lock to the returned Handle and
// invalidates h in place, mirroring a move constructor: after Take, h is
// safe to discard or Close (Close on it is then a no-op) and the
// returned Handle is the sole owner of the lock.
func (h *Handle) Take() Handle {
	if !h.valid {
		return Handle{}
	}
	moved := *h
	h.valid = false
	h.store = nil
	h.data = nil
	return moved
}

// Close releases h's lock, if any. Close is safe to call more than once
// or on an invalid Handle; only the first call on a still-valid Handle
// does any work.
func (h *Handle) Close() {
	if !h.valid {
		return
	}
	h.store.UnlockPage(h.pos)
	h.valid = false
	h.store = nil
	h.data = nil
}

// Free releases h's lock and pushes its page onto the store's free list,
// then invalidates h. Free is a no-op on an invalid Handle.
func (h *Handle) Free() error {
	if !h.valid {
		return nil
	}
	store, pos := h.store, h.pos
	h.Close()
	return store.FreePage(pos)
}
