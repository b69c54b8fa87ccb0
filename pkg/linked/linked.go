// Package linked implements doubly linked chains of pages over a
// borrowed layout.State. It owns no storage of its own: every operation
// takes the state it is splicing as an explicit argument, so the same
// logic serves a free list, a list container's page chain, or a map's
// key-level stack.
package linked

import "vmem/pkg/layout"

// PageStore is the subset of *pool.Pool the linked package needs. It is
// declared here, not imported from pkg/pool, so pkg/pool never has to
// depend on this package: callers (container, map) pass a *pool.Pool in
// directly, which satisfies this interface structurally.
type PageStore interface {
	AllocPage() (uint64, []byte, error)
	FreePage(pos uint64) error
	LockPage(pos uint64) ([]byte, error)
	UnlockPage(pos uint64)
	ClearLinked(state *layout.State) error
}

// Edge names the virtual positions a Cursor can sit at, independent of
// any particular page.
type Edge int

const (
	// EdgeNone means the cursor sits at an actual page (Cursor.Page).
	EdgeNone Edge = iota
	// EdgeRBegin is the position just before the front of the chain.
	EdgeRBegin
	// EdgeEnd is the position just after the back of the chain.
	EdgeEnd
)

// Cursor names a position for Insert: either at a specific existing
// page, or at one of the two virtual edges of the chain.
type Cursor struct {
	Page uint64
	Edge Edge
}

// At returns a cursor positioned at the existing page pos.
func At(pos uint64) Cursor { return Cursor{Page: pos, Edge: EdgeNone} }

// Rbegin returns a cursor positioned just before the chain's front.
func Rbegin() Cursor { return Cursor{Edge: EdgeRBegin} }

// End returns a cursor positioned just after the chain's back.
func End() Cursor { return Cursor{Edge: EdgeEnd} }

func readHeader(store PageStore, pos uint64) (layout.Header, error) {
	data, err := store.LockPage(pos)
	if err != nil {
		return layout.Header{}, err
	}
	defer store.UnlockPage(pos)
	return layout.DecodeHeader(data), nil
}

func writeHeader(store PageStore, hdr layout.Header) error {
	data, err := store.LockPage(hdr.Self)
	if err != nil {
		return err
	}
	defer store.UnlockPage(hdr.Self)
	hdr.Encode(data)
	return nil
}

func setNext(store PageStore, pos, next uint64) error {
	hdr, err := readHeader(store, pos)
	if err != nil {
		return err
	}
	hdr.Next = next
	return writeHeader(store, hdr)
}

func setPrev(store PageStore, pos, prev uint64) error {
	hdr, err := readHeader(store, pos)
	if err != nil {
		return err
	}
	hdr.Prev = prev
	return writeHeader(store, hdr)
}

// Front returns the chain's leading page position, or layout.PosNil if
// empty.
func Front(state *layout.State) uint64 { return state.Front }

// Back returns the chain's trailing page position, or layout.PosNil if
// empty.
func Back(state *layout.State) uint64 { return state.Back }

// Insert links newPos into state at the position named by at. Exactly
// the prev/next headers of newPos and at most two neighboring pages are
// rewritten.
func Insert(store PageStore, state *layout.State, at Cursor, newPos uint64) error {
	if state.Empty() {
		if err := writeHeader(store, layout.Header{Self: newPos, Prev: layout.PosNil, Next: layout.PosNil}); err != nil {
			return err
		}
		state.Front = newPos
		state.Back = newPos
		return nil
	}

	switch {
	case at.Edge == EdgeRBegin:
		oldFront := state.Front
		if err := writeHeader(store, layout.Header{Self: newPos, Prev: layout.PosNil, Next: oldFront}); err != nil {
			return err
		}
		if err := setPrev(store, oldFront, newPos); err != nil {
			return err
		}
		state.Front = newPos
		return nil

	case at.Edge == EdgeEnd:
		oldBack := state.Back
		if err := writeHeader(store, layout.Header{Self: newPos, Prev: oldBack, Next: layout.PosNil}); err != nil {
			return err
		}
		if err := setNext(store, oldBack, newPos); err != nil {
			return err
		}
		state.Back = newPos
		return nil

	default:
		target, err := readHeader(store, at.Page)
		if err != nil {
			return err
		}
		if err := writeHeader(store, layout.Header{Self: newPos, Prev: at.Page, Next: target.Next}); err != nil {
			return err
		}
		if err := setNext(store, at.Page, newPos); err != nil {
			return err
		}
		if target.Next == layout.PosNil {
			state.Back = newPos
		} else {
			if err := setPrev(store, target.Next, newPos); err != nil {
				return err
			}
		}
		return nil
	}
}

// Erase unlinks pos from state, rewriting its neighbors' headers and
// state's front/back as needed. It does not free pos; the caller (the
// container, via the pool) is responsible for that.
func Erase(store PageStore, state *layout.State, pos uint64) error {
	hdr, err := readHeader(store, pos)
	if err != nil {
		return err
	}

	if hdr.Prev == layout.PosNil {
		state.Front = hdr.Next
	} else if err := setNext(store, hdr.Prev, hdr.Next); err != nil {
		return err
	}

	if hdr.Next == layout.PosNil {
		state.Back = hdr.Prev
	} else if err := setPrev(store, hdr.Next, hdr.Prev); err != nil {
		return err
	}

	return nil
}

// Splice concatenates other onto the back of state in O(1) and empties
// other.
func Splice(store PageStore, state *layout.State, other *layout.State) error {
	if other.Empty() {
		return nil
	}
	if state.Empty() {
		*state = *other
	} else {
		if err := setNext(store, state.Back, other.Front); err != nil {
			return err
		}
		if err := setPrev(store, other.Front, state.Back); err != nil {
			return err
		}
		state.Back = other.Back
	}
	other.Front = layout.PosNil
	other.Back = layout.PosNil
	return nil
}

// Clear empties state by splicing its pages onto the pool's free list.
func Clear(store PageStore, state *layout.State) error {
	return store.ClearLinked(state)
}
