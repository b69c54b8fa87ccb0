// Package ptr implements the typed pointer: a page handle plus a byte
// offset, projecting a decoded value of type T at that offset. It is the
// generic stand-in for the pointer-arithmetic-plus-reinterpret-cast the
// original engine uses to view page bytes as a typed item.
package ptr

import (
	"errors"

	"vmem/pkg/layout"
	"vmem/pkg/page"
)

// ErrNull is returned when dereferencing a pointer with no backing page
// or whose offset is layout.ItemNil.
var ErrNull = errors.New("ptr: dereference of a null pointer")

// Coder is satisfied by *T for any item type T this package can project:
// fixed Size in bytes, and Encode/Decode against a tightly packed byte
// slice of that size.
type Coder[T any] interface {
	*T
	Size() int
	Encode(dst []byte)
	Decode(src []byte)
}

// Ptr is a typed pointer: a copy of the page.Handle it was built with
// plus a byte offset into the handle's page. It takes out no lock of its
// own; deref is only valid while the lock of the handle passed to New is
// held.
type Ptr[T any, PT Coder[T]] struct {
	handle page.Handle
	offset uint16
}

// New constructs a pointer at offset within h's page. h's lock is not
// taken out again; the pointer borrows it and must not outlive it.
func New[T any, PT Coder[T]](h page.Handle, offset uint16) Ptr[T, PT] {
	return Ptr[T, PT]{handle: h, offset: offset}
}

// Null returns the null pointer value for T: it derefs to ErrNull and
// holds no page lock.
func Null[T any, PT Coder[T]]() Ptr[T, PT] {
	return Ptr[T, PT]{offset: layout.ItemNil}
}

// IsNull reports whether p has no backing handle or an ItemNil offset.
func (p Ptr[T, PT]) IsNull() bool {
	return !p.handle.Valid() || p.offset == layout.ItemNil
}

// Pos returns the page position p refers to and true, or (0, false) if
// p has no backing handle.
func (p Ptr[T, PT]) Pos() (uint64, bool) {
	if !p.handle.Valid() {
		return 0, false
	}
	return p.handle.Pos(), true
}

// Offset returns the byte offset p projects at.
func (p Ptr[T, PT]) Offset() uint16 { return p.offset }

// Get decodes and returns the value at p's offset. Fails with ErrNull if
// p is null or its slot runs past the end of the page.
func (p Ptr[T, PT]) Get() (T, error) {
	var zero T
	if p.IsNull() {
		return zero, ErrNull
	}
	var pt PT = &zero
	size := pt.Size()
	data := p.handle.Data()
	start := int(p.offset)
	if start+size > len(data) {
		return zero, ErrNull
	}
	pt.Decode(data[start : start+size])
	return zero, nil
}

// Set encodes v into p's backing bytes at p's offset. Fails with
// ErrNull under the same conditions as Get.
func (p Ptr[T, PT]) Set(v T) error {
	if p.IsNull() {
		return ErrNull
	}
	pt := PT(&v)
	size := pt.Size()
	data := p.handle.Data()
	start := int(p.offset)
	if start+size > len(data) {
		return ErrNull
	}
	pt.Encode(data[start : start+size])
	return nil
}

// Close releases the lock of the page handle p holds, which is the lock
// of the handle passed to New. Safe to call on a null pointer.
func (p *Ptr[T, PT]) Close() {
	p.handle.Close()
}
