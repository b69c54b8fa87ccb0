// Package container implements the dense, page-chained item container
// that backs lists, stacks, and the map's key/value levels: items of a
// fixed-size type packed into linked pages, with optional fill
// balancing on insert and erase. It also implements the cursor
// abstraction (C6) used to walk a container's items.
package container

import (
	"errors"
	"fmt"

	"vmem/pkg/layout"
	"vmem/pkg/linked"
	"vmem/pkg/page"
	"vmem/pkg/ptr"
)

// ErrNotDerefable is returned when an operation requires a deref-able
// cursor but was given end/rbegin or an out-of-range one.
var ErrNotDerefable = errors.New("container: cursor is not deref-able")

// ErrEmpty is returned by Front/Back/PopFront/PopBack on an empty
// container.
var ErrEmpty = errors.New("container: empty")

// Codec is satisfied by *T: the fixed encoded size of an item and its
// Encode/Decode pair against a tightly packed byte slice of that size.
type Codec[T any] interface {
	*T
	Size() int
	Encode(dst []byte)
	Decode(src []byte)
}

// BalancePolicy is a bitset of the chain positions at which a container
// performs fill balancing (splitting on insert, merging on erase). Only
// part of it is consulted: on insert, PolicyEnd decides whether an item
// placed past the last slot of a full page splits that page or goes
// alone onto a new page, while an insert at any other slot of a full
// page always splits it; on erase, any policy other than PolicyNone
// enables merging, wherever the erase happened.
type BalancePolicy uint8

const (
	// PolicyBegin applies at the very front of the whole chain.
	PolicyBegin BalancePolicy = 1 << iota
	// PolicyInner applies strictly inside the chain.
	PolicyInner
	// PolicyEnd applies at or after the back.
	PolicyEnd

	// PolicyAll applies everywhere.
	PolicyAll = PolicyBegin | PolicyInner | PolicyEnd
	// PolicyNone applies nowhere.
	PolicyNone BalancePolicy = 0
)

func (b BalancePolicy) has(flag BalancePolicy) bool { return b&flag != 0 }

// Edge names the virtual positions a Cursor can sit at that are not
// tied to a particular item slot.
type Edge int

const (
	// EdgeNone means the cursor refers to an actual item (Page, Item).
	EdgeNone Edge = iota
	// EdgeRBegin is the position just before the first item.
	EdgeRBegin
	// EdgeEnd is the position just after the last item.
	EdgeEnd
)

// Cursor names a position in a container: either a specific item slot,
// or one of the two virtual edges. Two edge cursors of the same kind
// compare equal regardless of Page/Item.
type Cursor struct {
	Page uint64
	Item uint16
	Edge Edge
}

// Equal reports whether c and other name the same position.
func (c Cursor) Equal(other Cursor) bool {
	if c.Edge != EdgeNone || other.Edge != EdgeNone {
		return c.Edge == other.Edge
	}
	return c.Page == other.Page && c.Item == other.Item
}

// Derefable reports whether c names an actual item.
func (c Cursor) Derefable() bool { return c.Edge == EdgeNone }

// LeadOp classifies how a page's leading item changed as a side effect
// of an insert or erase.
type LeadOp int

const (
	LeadNone LeadOp = iota
	LeadReplace
	LeadInsert
	LeadErase
	LeadOriginal
)

// PageLead describes how one page's leading item was affected by an
// insert or erase, for the map to propagate up its key stack.
type PageLead[T any] struct {
	Op      LeadOp
	Page    uint64
	Item0   T // "new" value, when applicable
	Item1   T // "old" value, when applicable
	HasItem0 bool
	HasItem1 bool
}

// Result is the two-result form every insert/erase flavor returns: the
// resulting cursor plus up to two page leads.
type Result[T any] struct {
	Cursor Cursor
	Leads  [2]PageLead[T]
}

// Container is a dense chain of pages holding items of type T. It does
// not own its persisted state: state is borrowed from the caller so it
// can live embedded in another page (a free-standing container, or one
// level of the map's key stack).
type Container[T any, PT Codec[T]] struct {
	store        linked.PageStore
	state        *layout.ContainerState
	insertPolicy BalancePolicy
	erasePolicy  BalancePolicy
	itemSize     int
	itemsPos     int
	capacity     int
}

const itemCountOffset = layout.HeaderSize // item_count sits right after the linked header
const baseItemsPos = layout.HeaderSize + 2

// New constructs a container over the given borrowed state. On a fresh
// (zero) state, item_size is initialized; on a non-zero state it must
// match sizeof(T)'s encoded size.
func New[T any, PT Codec[T]](store linked.PageStore, state *layout.ContainerState, insertPolicy, erasePolicy BalancePolicy) (*Container[T, PT], error) {
	var zero T
	pt := PT(&zero)
	itemSize := pt.Size()
	itemsPos := baseItemsPos
	capacity := (layout.PageSize - itemsPos) / itemSize
	if capacity < 1 {
		return nil, fmt.Errorf("container: item type of size %d does not fit in a page", itemSize)
	}

	// Page 0 is the root page, so a Front/Back of 0 only ever comes from a
	// zero-valued state that has not been initialized yet.
	if state.ItemSize == 0 && state.TotalItemCount == 0 && (state.Empty() || (state.Front == 0 && state.Back == 0)) {
		state.Front = layout.PosNil
		state.Back = layout.PosNil
		state.ItemSize = uint16(itemSize)
	} else if int(state.ItemSize) != itemSize {
		return nil, fmt.Errorf("container: persisted item_size %d does not match item type size %d", state.ItemSize, itemSize)
	}

	return &Container[T, PT]{
		store:        store,
		state:        state,
		insertPolicy: insertPolicy,
		erasePolicy:  erasePolicy,
		itemSize:     itemSize,
		itemsPos:     itemsPos,
		capacity:     capacity,
	}, nil
}

// NewList builds a container with list insert/erase balancing: splits
// everywhere except a plain append at the very end, merges everywhere.
func NewList[T any, PT Codec[T]](store linked.PageStore, state *layout.ContainerState) (*Container[T, PT], error) {
	return New[T, PT](store, state, PolicyBegin|PolicyInner, PolicyAll)
}

// NewStack builds a container restricted to the end: push/pop only
// touch the back page, so no balancing is ever needed.
func NewStack[T any, PT Codec[T]](store linked.PageStore, state *layout.ContainerState) (*Container[T, PT], error) {
	return New[T, PT](store, state, PolicyNone, PolicyNone)
}

// NewLevel builds a container with full balancing on both sides, as
// used by the map's key and value levels.
func NewLevel[T any, PT Codec[T]](store linked.PageStore, state *layout.ContainerState) (*Container[T, PT], error) {
	return New[T, PT](store, state, PolicyAll, PolicyAll)
}

// Capacity returns the maximum number of items a single page can hold.
func (c *Container[T, PT]) Capacity() int { return c.capacity }

// Size returns the total number of items across all pages.
func (c *Container[T, PT]) Size() uint64 { return c.state.TotalItemCount }

// Empty reports whether the container holds no items.
func (c *Container[T, PT]) Empty() bool { return c.state.TotalItemCount == 0 }

func decodeCount(data []byte, itemsPos int) uint16 {
	return uint16(data[itemCountOffset]) | uint16(data[itemCountOffset+1])<<8
}

func encodeCount(data []byte, n uint16) {
	data[itemCountOffset] = byte(n)
	data[itemCountOffset+1] = byte(n >> 8)
}

func (c *Container[T, PT]) itemOffset(slot int) uint16 {
	return uint16(c.itemsPos + slot*c.itemSize)
}

// decodeItem reads the item at slot through a typed pointer borrowing
// h; it takes out no lock of its own.
func (c *Container[T, PT]) decodeItem(h page.Handle, slot int) T {
	v, _ := ptr.New[T, PT](h, c.itemOffset(slot)).Get()
	return v
}

// encodeItem writes v at slot through a typed pointer borrowing h; it
// takes out no lock of its own.
func (c *Container[T, PT]) encodeItem(h page.Handle, slot int, v T) {
	_ = ptr.New[T, PT](h, c.itemOffset(slot)).Set(v)
}

func (c *Container[T, PT]) lock(pos uint64) (page.Handle, error) { return page.Lock(c.store, pos) }
func (c *Container[T, PT]) unlock(h page.Handle)                  { h.Close() }

func (c *Container[T, PT]) pageCount(data []byte) int { return int(decodeCount(data, c.itemsPos)) }

func (c *Container[T, PT]) setPageCount(data []byte, n int) { encodeCount(data, uint16(n)) }

// Begin returns a cursor at the first item, or End if empty.
func (c *Container[T, PT]) Begin() (Cursor, error) {
	if c.state.Empty() {
		return Cursor{Edge: EdgeEnd}, nil
	}
	return Cursor{Page: c.state.Front, Item: 0}, nil
}

// End returns the cursor just past the last item.
func (c *Container[T, PT]) End() Cursor { return Cursor{Edge: EdgeEnd} }

// Rbegin returns the cursor just before the first item.
func (c *Container[T, PT]) Rbegin() Cursor { return Cursor{Edge: EdgeRBegin} }

// Deref decodes and returns the item cur refers to.
func (c *Container[T, PT]) Deref(cur Cursor) (T, error) {
	var zero T
	if !cur.Derefable() {
		return zero, ErrNotDerefable
	}
	h, err := c.lock(cur.Page)
	if err != nil {
		return zero, err
	}
	defer c.unlock(h)
	if int(cur.Item) >= c.pageCount(h.Data()) {
		return zero, ErrNotDerefable
	}
	return c.decodeItem(h, int(cur.Item)), nil
}

// Next implements the iterator kit's successor rule.
func (c *Container[T, PT]) Next(cur Cursor) (Cursor, error) {
	switch cur.Edge {
	case EdgeRBegin:
		return c.Begin()
	case EdgeEnd:
		return cur, nil
	}
	h, err := c.lock(cur.Page)
	if err != nil {
		return Cursor{}, err
	}
	count := c.pageCount(h.Data())
	hdr := layout.DecodeHeader(h.Data())
	c.unlock(h)

	if int(cur.Item)+1 < count {
		return Cursor{Page: cur.Page, Item: cur.Item + 1}, nil
	}
	if hdr.Next == layout.PosNil {
		return Cursor{Edge: EdgeEnd}, nil
	}
	return Cursor{Page: hdr.Next, Item: 0}, nil
}

// Prev implements the iterator kit's predecessor rule.
func (c *Container[T, PT]) Prev(cur Cursor) (Cursor, error) {
	switch cur.Edge {
	case EdgeRBegin:
		return cur, nil
	case EdgeEnd:
		if c.state.Empty() {
			return Cursor{Edge: EdgeRBegin}, nil
		}
		h, err := c.lock(c.state.Back)
		if err != nil {
			return Cursor{}, err
		}
		count := c.pageCount(h.Data())
		c.unlock(h)
		return Cursor{Page: c.state.Back, Item: uint16(count - 1)}, nil
	}
	if cur.Item > 0 {
		return Cursor{Page: cur.Page, Item: cur.Item - 1}, nil
	}
	h, err := c.lock(cur.Page)
	if err != nil {
		return Cursor{}, err
	}
	hdr := layout.DecodeHeader(h.Data())
	c.unlock(h)
	if hdr.Prev == layout.PosNil {
		return Cursor{Edge: EdgeRBegin}, nil
	}
	prevHandle, err := c.lock(hdr.Prev)
	if err != nil {
		return Cursor{}, err
	}
	prevCount := c.pageCount(prevHandle.Data())
	c.unlock(prevHandle)
	return Cursor{Page: hdr.Prev, Item: uint16(prevCount - 1)}, nil
}

// FrontPage returns the position of the chain's first page and true, or
// (0, false) if the container is empty.
func (c *Container[T, PT]) FrontPage() (uint64, bool) {
	return c.state.Front, !c.state.Empty()
}

// PageItems decodes every item on the page at pos along with its linked
// header. It is meant for callers (such as the map) that need to
// inspect or search the contents of one specific page directly, rather
// than iterate the whole chain.
func (c *Container[T, PT]) PageItems(pos uint64) ([]T, layout.Header, error) {
	h, err := c.lock(pos)
	if err != nil {
		return nil, layout.Header{}, err
	}
	defer c.unlock(h)
	count := c.pageCount(h.Data())
	items := make([]T, count)
	for i := 0; i < count; i++ {
		items[i] = c.decodeItem(h, i)
	}
	return items, layout.DecodeHeader(h.Data()), nil
}

// ReplaceAt overwrites the item at slot on page pos in place, with no
// shifting and no change to item_count. It returns the item that was
// there before. Used to update an inner key in place when only its
// child page's leading key changed, not its position.
func (c *Container[T, PT]) ReplaceAt(pos uint64, slot int, item T) (T, error) {
	var old T
	h, err := c.lock(pos)
	if err != nil {
		return old, err
	}
	defer c.unlock(h)
	if slot < 0 || slot >= c.pageCount(h.Data()) {
		return old, ErrNotDerefable
	}
	old = c.decodeItem(h, slot)
	c.encodeItem(h, slot, item)
	return old, nil
}

// Front returns the first item.
func (c *Container[T, PT]) Front() (T, error) {
	var zero T
	if c.Empty() {
		return zero, ErrEmpty
	}
	cur, _ := c.Begin()
	return c.Deref(cur)
}

// Back returns the last item.
func (c *Container[T, PT]) Back() (T, error) {
	var zero T
	if c.Empty() {
		return zero, ErrEmpty
	}
	h, err := c.lock(c.state.Back)
	if err != nil {
		return zero, err
	}
	defer c.unlock(h)
	count := c.pageCount(h.Data())
	return c.decodeItem(h, count-1), nil
}

func lead0[T any](op LeadOp, page uint64, v T) PageLead[T] {
	return PageLead[T]{Op: op, Page: page, Item0: v, HasItem0: true}
}

func leadReplace[T any](page uint64, newV, oldV T) PageLead[T] {
	return PageLead[T]{Op: LeadReplace, Page: page, Item0: newV, HasItem0: true, Item1: oldV, HasItem1: true}
}

// Insert places item at the position named by at. Possible positions:
// Rbegin (prepend), End (append), or an explicit (Page, Item) slot
// within an existing page (the slot the item will occupy once shifted
// items make room).
func (c *Container[T, PT]) Insert(at Cursor, item T) (Result[T], error) {
	if c.state.Empty() {
		return c.insertIntoEmpty(item)
	}

	targetPos, pos, err := c.resolveInsertTarget(at)
	if err != nil {
		return Result[T]{}, err
	}

	h, err := c.lock(targetPos)
	if err != nil {
		return Result[T]{}, err
	}
	data := h.Data()
	count := c.pageCount(data)

	if count < c.capacity {
		// Room on this page: shift [pos..count) right by one slot.
		var oldFirst T
		hadFirst := count > 0
		if hadFirst {
			oldFirst = c.decodeItem(h, 0)
		}
		copy(data[c.itemsPos+(pos+1)*c.itemSize:c.itemsPos+(count+1)*c.itemSize],
			data[c.itemsPos+pos*c.itemSize:c.itemsPos+count*c.itemSize])
		c.encodeItem(h, pos, item)
		c.setPageCount(data, count+1)
		c.unlock(h)

		c.state.TotalItemCount++

		var res Result[T]
		res.Cursor = Cursor{Page: targetPos, Item: uint16(pos)}
		if pos == 0 && hadFirst {
			res.Leads[0] = leadReplace(targetPos, item, oldFirst)
		}
		return res, nil
	}
	c.unlock(h)
	return c.insertFull(targetPos, pos, item)
}

func (c *Container[T, PT]) resolveInsertTarget(at Cursor) (pagePos uint64, slot int, err error) {
	switch at.Edge {
	case EdgeRBegin:
		return c.state.Front, 0, nil
	case EdgeEnd:
		h, err := c.lock(c.state.Back)
		if err != nil {
			return 0, 0, err
		}
		count := c.pageCount(h.Data())
		c.unlock(h)
		return c.state.Back, count, nil
	default:
		return at.Page, int(at.Item), nil
	}
}

func (c *Container[T, PT]) insertIntoEmpty(item T) (Result[T], error) {
	h, err := page.New(c.store)
	if err != nil {
		return Result[T]{}, err
	}
	pos := h.Pos()
	if err := linked.Insert(c.store, &c.state.State, linked.End(), pos); err != nil {
		c.unlock(h)
		return Result[T]{}, err
	}
	data := h.Data()
	c.setPageCount(data, 0)
	c.encodeItem(h, 0, item)
	c.setPageCount(data, 1)
	c.unlock(h)

	c.state.TotalItemCount++

	var res Result[T]
	res.Cursor = Cursor{Page: pos, Item: 0}
	res.Leads[0] = lead0(LeadInsert, pos, item)
	return res, nil
}

func (c *Container[T, PT]) insertFull(targetPos uint64, pos int, item T) (Result[T], error) {
	newHandle, err := page.New(c.store)
	if err != nil {
		return Result[T]{}, err
	}
	newPos := newHandle.Pos()
	if err := linked.Insert(c.store, &c.state.State, linked.At(targetPos), newPos); err != nil {
		c.unlock(newHandle)
		return Result[T]{}, err
	}

	targetHandle, err := c.lock(targetPos)
	if err != nil {
		c.unlock(newHandle)
		return Result[T]{}, err
	}
	targetData := targetHandle.Data()
	newData := newHandle.Data()

	var res Result[T]

	if pos >= c.capacity && !c.insertPolicy.has(PolicyEnd) {
		// Appending past a full page without end balancing: the new item
		// is the new page's sole occupant, the target page is untouched.
		oldFirst := c.decodeItem(targetHandle, 0)
		c.unlock(targetHandle)

		c.setPageCount(newData, 0)
		c.encodeItem(newHandle, 0, item)
		c.setPageCount(newData, 1)
		c.unlock(newHandle)

		c.state.TotalItemCount++
		res.Cursor = Cursor{Page: newPos, Item: 0}
		res.Leads[0] = lead0(LeadInsert, newPos, item)
		res.Leads[1] = lead0(LeadOriginal, targetPos, oldFirst)
		return res, nil
	}

	// Split: move the upper half to the new page, then insert into
	// whichever half now contains the target slot.
	targetFirstBefore := c.decodeItem(targetHandle, 0)

	newCount := c.capacity / 2
	oldCount := c.capacity - newCount

	copy(newData[c.itemsPos:c.itemsPos+newCount*c.itemSize],
		targetData[c.itemsPos+oldCount*c.itemSize:c.itemsPos+c.capacity*c.itemSize])
	c.setPageCount(newData, newCount)
	c.setPageCount(targetData, oldCount)

	targetChanged := pos == 0

	if pos < oldCount {
		copy(targetData[c.itemsPos+(pos+1)*c.itemSize:c.itemsPos+(oldCount+1)*c.itemSize],
			targetData[c.itemsPos+pos*c.itemSize:c.itemsPos+oldCount*c.itemSize])
		c.encodeItem(targetHandle, pos, item)
		c.setPageCount(targetData, oldCount+1)
		res.Cursor = Cursor{Page: targetPos, Item: uint16(pos)}
	} else {
		rel := pos - oldCount
		copy(newData[c.itemsPos+(rel+1)*c.itemSize:c.itemsPos+(newCount+1)*c.itemSize],
			newData[c.itemsPos+rel*c.itemSize:c.itemsPos+newCount*c.itemSize])
		c.encodeItem(newHandle, rel, item)
		c.setPageCount(newData, newCount+1)
		res.Cursor = Cursor{Page: newPos, Item: uint16(rel)}
	}

	targetFirstAfter := c.decodeItem(targetHandle, 0)
	newFirst := c.decodeItem(newHandle, 0)

	c.unlock(targetHandle)
	c.unlock(newHandle)

	c.state.TotalItemCount++

	res.Leads[0] = lead0(LeadInsert, newPos, newFirst)
	if targetChanged {
		// Only true of a prepend landing on slot 0 of the retained half.
		res.Leads[1] = leadReplace(targetPos, targetFirstAfter, targetFirstBefore)
	} else {
		res.Leads[1] = lead0(LeadOriginal, targetPos, targetFirstBefore)
	}
	return res, nil
}

// Erase removes the item at. Returns a cursor to the item that followed
// it (or End).
func (c *Container[T, PT]) Erase(at Cursor) (Result[T], error) {
	if !at.Derefable() {
		return Result[T]{}, ErrNotDerefable
	}

	h, err := c.lock(at.Page)
	if err != nil {
		return Result[T]{}, err
	}
	data := h.Data()
	count := c.pageCount(data)
	if int(at.Item) >= count {
		c.unlock(h)
		return Result[T]{}, ErrNotDerefable
	}

	var res Result[T]

	if count > 1 {
		oldFirst := c.decodeItem(h, 0)
		copy(data[c.itemsPos+int(at.Item)*c.itemSize:c.itemsPos+(count-1)*c.itemSize],
			data[c.itemsPos+(int(at.Item)+1)*c.itemSize:c.itemsPos+count*c.itemSize])
		c.setPageCount(data, count-1)
		newFirst := c.decodeItem(h, 0)
		c.unlock(h)

		c.state.TotalItemCount--

		if at.Item == 0 {
			res.Leads[0] = leadReplace(at.Page, newFirst, oldFirst)
		}
		if int(at.Item) < count-1 {
			res.Cursor = Cursor{Page: at.Page, Item: at.Item}
		} else {
			res.Cursor, err = c.Next(Cursor{Page: at.Page, Item: at.Item - 1})
			if err != nil {
				return Result[T]{}, err
			}
		}
		return c.maybeMerge(at.Page, res)
	}

	// Single-item page: unlink and free it.
	hdr := layout.DecodeHeader(data)
	oldFirst := c.decodeItem(h, 0)
	c.unlock(h)

	if err := linked.Erase(c.store, &c.state.State, at.Page); err != nil {
		return Result[T]{}, err
	}
	if err := c.store.FreePage(at.Page); err != nil {
		return Result[T]{}, err
	}
	c.state.TotalItemCount--

	res.Leads[1] = lead0(LeadErase, at.Page, oldFirst)
	if hdr.Next == layout.PosNil {
		res.Cursor = Cursor{Edge: EdgeEnd}
	} else {
		res.Cursor = Cursor{Page: hdr.Next, Item: 0}
	}
	return res, nil
}

// maybeMerge implements the erase-side balance step: after a delete
// that leaves a page at most half full, try to merge with an adjacent
// page (next preferred, then prev) when combined counts fit. Nothing is
// merged under an erase policy of PolicyNone.
func (c *Container[T, PT]) maybeMerge(pagePos uint64, res Result[T]) (Result[T], error) {
	if c.erasePolicy == PolicyNone {
		return res, nil
	}
	h, err := c.lock(pagePos)
	if err != nil {
		return Result[T]{}, err
	}
	count := c.pageCount(h.Data())
	hdr := layout.DecodeHeader(h.Data())
	c.unlock(h)

	if 2*count > c.capacity {
		return res, nil
	}

	if hdr.Next != layout.PosNil {
		if merged, err := c.tryMergeInto(pagePos, hdr.Next, count, &res); err != nil {
			return Result[T]{}, err
		} else if merged {
			return res, nil
		}
	}
	if hdr.Prev != layout.PosNil {
		if merged, err := c.tryMergeInto(hdr.Prev, pagePos, -1, &res); err != nil {
			return Result[T]{}, err
		} else if merged {
			return res, nil
		}
	}
	return res, nil
}

// tryMergeInto merges the page at "from" into "into" if their combined
// item counts fit in one page. keepCount is the already-known count of
// "into", or -1 to read it fresh.
func (c *Container[T, PT]) tryMergeInto(into, from uint64, keepCount int, res *Result[T]) (bool, error) {
	intoHandle, err := c.lock(into)
	if err != nil {
		return false, err
	}
	intoData := intoHandle.Data()
	if keepCount < 0 {
		keepCount = c.pageCount(intoData)
	}
	fromHandle, err := c.lock(from)
	if err != nil {
		c.unlock(intoHandle)
		return false, err
	}
	fromData := fromHandle.Data()
	fromCount := c.pageCount(fromData)

	if keepCount+fromCount > c.capacity {
		c.unlock(fromHandle)
		c.unlock(intoHandle)
		return false, nil
	}

	fromFirst := c.decodeItem(fromHandle, 0)
	copy(intoData[c.itemsPos+keepCount*c.itemSize:c.itemsPos+(keepCount+fromCount)*c.itemSize],
		fromData[c.itemsPos:c.itemsPos+fromCount*c.itemSize])
	c.setPageCount(intoData, keepCount+fromCount)
	c.unlock(fromHandle)
	c.unlock(intoHandle)

	if err := linked.Erase(c.store, &c.state.State, from); err != nil {
		return false, err
	}
	if err := c.store.FreePage(from); err != nil {
		return false, err
	}

	res.Leads[1] = lead0(LeadErase, from, fromFirst)
	if res.Cursor.Derefable() && res.Cursor.Page == from {
		res.Cursor = Cursor{Page: into, Item: uint16(keepCount) + res.Cursor.Item}
	}
	return true, nil
}

// Clear removes every item and returns every page to the free list.
func (c *Container[T, PT]) Clear() error {
	if err := linked.Clear(c.store, &c.state.State); err != nil {
		return err
	}
	c.state.TotalItemCount = 0
	return nil
}

// PushFront inserts item at the very front of the chain.
func (c *Container[T, PT]) PushFront(item T) (Result[T], error) {
	return c.Insert(Cursor{Edge: EdgeRBegin}, item)
}

// PushBack inserts item at the very end of the chain.
func (c *Container[T, PT]) PushBack(item T) (Result[T], error) {
	return c.Insert(Cursor{Edge: EdgeEnd}, item)
}

// PopFront erases the first item.
func (c *Container[T, PT]) PopFront() (Result[T], error) {
	if c.Empty() {
		return Result[T]{}, ErrEmpty
	}
	cur, _ := c.Begin()
	return c.Erase(cur)
}

// PopBack erases the last item.
func (c *Container[T, PT]) PopBack() (Result[T], error) {
	if c.Empty() {
		return Result[T]{}, ErrEmpty
	}
	h, err := c.lock(c.state.Back)
	if err != nil {
		return Result[T]{}, err
	}
	count := c.pageCount(h.Data())
	c.unlock(h)
	return c.Erase(Cursor{Page: c.state.Back, Item: uint16(count - 1)})
}
