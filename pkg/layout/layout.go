// Package layout defines the fixed on-disk constants and small shared
// value types every other vmem package builds on: page size, position
// sentinels, and the linked/container state structs that travel between
// the pool, the linked-page operations, and the containers built on top
// of them.
package layout

import "encoding/binary"

const (
	// PageSize is the fixed size, in bytes, of every page.
	PageSize = 4096

	// PosNil is the "no page" sentinel for a 64-bit page position.
	PosNil uint64 = ^uint64(0)

	// ItemNil is the "no item" sentinel for a 16-bit item slot.
	ItemNil uint16 = ^uint16(0)

	// RootPagePos is the fixed position of the root page.
	RootPagePos uint64 = 0

	// StartPagePos is the fixed position of the start page, reserved
	// for clients to place their own top-level state.
	StartPagePos uint64 = 1

	// HeaderSize is the size, in bytes, of a linked-page header
	// (self_pos, prev_pos, next_pos).
	HeaderSize = 24
)

// State is a linked-state: the front/back positions of a chain of linked
// pages. An empty chain has both fields set to PosNil.
type State struct {
	Front uint64
	Back  uint64
}

// Empty reports whether the chain described by s has no pages.
func (s State) Empty() bool { return s.Front == PosNil }

// Encode writes s to dst (must be at least 16 bytes).
func (s State) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], s.Front)
	binary.LittleEndian.PutUint64(dst[8:16], s.Back)
}

// DecodeState reads a State from src (must be at least 16 bytes).
func DecodeState(src []byte) State {
	return State{
		Front: binary.LittleEndian.Uint64(src[0:8]),
		Back:  binary.LittleEndian.Uint64(src[8:16]),
	}
}

// ContainerState is a linked State plus the item size and running total
// item count a container persists about itself.
type ContainerState struct {
	State
	ItemSize       uint16
	TotalItemCount uint64
}

// ContainerStateSize is the encoded byte size of a ContainerState.
const ContainerStateSize = 16 + 2 + 8

// Encode writes cs to dst (must be at least ContainerStateSize bytes).
func (cs ContainerState) Encode(dst []byte) {
	cs.State.Encode(dst[0:16])
	binary.LittleEndian.PutUint16(dst[16:18], cs.ItemSize)
	binary.LittleEndian.PutUint64(dst[18:26], cs.TotalItemCount)
}

// DecodeContainerState reads a ContainerState from src.
func DecodeContainerState(src []byte) ContainerState {
	return ContainerState{
		State:          DecodeState(src[0:16]),
		ItemSize:       binary.LittleEndian.Uint16(src[16:18]),
		TotalItemCount: binary.LittleEndian.Uint64(src[18:26]),
	}
}

// Header is the three-position linked-page header stored at the start
// of every page that participates in a linked chain.
type Header struct {
	Self uint64
	Prev uint64
	Next uint64
}

// Encode writes h to dst (must be at least HeaderSize bytes).
func (h Header) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.Self)
	binary.LittleEndian.PutUint64(dst[8:16], h.Prev)
	binary.LittleEndian.PutUint64(dst[16:24], h.Next)
}

// DecodeHeader reads a Header from src.
func DecodeHeader(src []byte) Header {
	return Header{
		Self: binary.LittleEndian.Uint64(src[0:8]),
		Prev: binary.LittleEndian.Uint64(src[8:16]),
		Next: binary.LittleEndian.Uint64(src[16:24]),
	}
}
