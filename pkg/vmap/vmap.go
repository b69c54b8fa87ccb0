// Package vmap implements the map: a B-tree with a value-leaf container
// and a stack of key-level containers above it. It composes two
// container.Container instances (values, and one per key level) the way
// C5 is meant to be composed, propagating page leads up the key stack
// on insert and erase.
package vmap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"vmem/pkg/container"
	"vmem/pkg/diag"
	"vmem/pkg/layout"
	"vmem/pkg/linked"
)

// MaxKeyLevels bounds the height of the key stack. A map with a
// realistic key-level fan-out (capacity well over 2) will never come
// close to exhausting this; it exists so MapState has a fixed,
// persistable layout instead of requiring its own page-backed storage.
const MaxKeyLevels = 32

// ErrCapacity is returned when the key level's page capacity admits
// fewer than 2 keys per page.
var ErrCapacity = errors.New("vmap: key level must admit at least 2 keys per page")

// ErrInvariant reports an internal consistency failure: a missing
// parent key, a path/level mismatch, or similar. These are logic
// errors, not recoverable conditions.
var ErrInvariant = errors.New("vmap: internal invariant violated")

// Codec is satisfied by *T: fixed encoded size, and Encode/Decode
// against a tightly packed byte slice of that size. Key and value types
// both need it.
type Codec[T any] interface {
	*T
	Size() int
	Encode(dst []byte)
	Decode(src []byte)
}

type keyItem[K any, PK Codec[K]] struct {
	Key   K
	Child uint64
}

func (it *keyItem[K, PK]) Size() int {
	var k K
	return PK(&k).Size() + 8
}

func (it *keyItem[K, PK]) Encode(dst []byte) {
	pk := PK(&it.Key)
	ksz := pk.Size()
	pk.Encode(dst[:ksz])
	binary.LittleEndian.PutUint64(dst[ksz:ksz+8], it.Child)
}

func (it *keyItem[K, PK]) Decode(src []byte) {
	pk := PK(&it.Key)
	ksz := pk.Size()
	pk.Decode(src[:ksz])
	it.Child = binary.LittleEndian.Uint64(src[ksz : ksz+8])
}

type valueItem[K any, PK Codec[K], V any, PV Codec[V]] struct {
	Key   K
	Value V
}

func (it *valueItem[K, PK, V, PV]) Size() int {
	var k K
	var v V
	return PK(&k).Size() + PV(&v).Size()
}

func (it *valueItem[K, PK, V, PV]) Encode(dst []byte) {
	pk := PK(&it.Key)
	ksz := pk.Size()
	pk.Encode(dst[:ksz])
	PV(&it.Value).Encode(dst[ksz:])
}

func (it *valueItem[K, PK, V, PV]) Decode(src []byte) {
	pk := PK(&it.Key)
	ksz := pk.Size()
	pk.Decode(src[:ksz])
	PV(&it.Value).Decode(src[ksz:])
}

// MapState is the persisted state a Map borrows from its caller: the
// value leaves' container-state plus one container-state per key
// level, front-to-back ordered from the level just above the leaves to
// the single-page root level.
type MapState struct {
	Values     layout.ContainerState
	Levels     [MaxKeyLevels]layout.ContainerState
	LevelCount uint8
}

// keyChange is the level-independent form a container.PageLead is
// translated into before being propagated up the key stack: only the
// key portion of an item matters above the leaf.
type keyChange[K any] struct {
	op     container.LeadOp
	page   uint64
	newKey K
	oldKey K
	hasNew bool
	hasOld bool
}

func (c keyChange[K]) leadingKey() K {
	if c.hasNew {
		return c.newKey
	}
	return c.oldKey
}

// Map is a B-tree keyed by K with values of type V.
type Map[K any, PK Codec[K], V any, PV Codec[V]] struct {
	store  linked.PageStore
	diag   diag.Sink
	less   func(a, b K) bool
	state  *MapState
	values *container.Container[valueItem[K, PK, V, PV], *valueItem[K, PK, V, PV]]
	levels []*container.Container[keyItem[K, PK], *keyItem[K, PK]]
}

// New constructs a Map over store, borrowing state. less must implement
// a strict weak ordering over K. On a fresh (zero) state, the value and
// key containers initialize themselves; on a non-zero state they must
// already match the item sizes implied by K and V.
func New[K any, PK Codec[K], V any, PV Codec[V]](store linked.PageStore, state *MapState, less func(a, b K) bool, sink diag.Sink) (*Map[K, PK, V, PV], error) {
	if sink == nil {
		sink = diag.Discard()
	}

	values, err := container.NewLevel[valueItem[K, PK, V, PV], *valueItem[K, PK, V, PV]](store, &state.Values)
	if err != nil {
		return nil, err
	}

	m := &Map[K, PK, V, PV]{store: store, diag: sink, less: less, state: state, values: values}

	for i := 0; i < int(state.LevelCount); i++ {
		lvl, err := container.NewLevel[keyItem[K, PK], *keyItem[K, PK]](store, &state.Levels[i])
		if err != nil {
			return nil, err
		}
		m.levels = append(m.levels, lvl)
	}

	// Validate the key-level capacity requirement even when no level has
	// been built yet, using a throwaway probe state.
	var probeState layout.ContainerState
	probe, err := container.NewLevel[keyItem[K, PK], *keyItem[K, PK]](store, &probeState)
	if err != nil {
		return nil, err
	}
	if probe.Capacity() < 2 {
		return nil, ErrCapacity
	}

	return m, nil
}

// Count returns the total number of key/value pairs stored.
func (m *Map[K, PK, V, PV]) Count() uint64 { return m.values.Size() }

// FindResult is the outcome of a key lookup: the iterator position, an
// ok flag (true iff the key is present), and the path of inner page
// positions walked from the root down to (but excluding) the leaf.
type FindResult struct {
	Cursor container.Cursor
	OK     bool
	Path   []uint64
}

func (m *Map[K, PK, V, PV]) fatal(tag uint32, format string, args ...any) error {
	diag.Reportf(m.diag, diag.CategoryMap, diag.Fatal, tag, format, args...)
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

func (m *Map[K, PK, V, PV]) nextLeafCursor(pagePos uint64) (container.Cursor, error) {
	_, hdr, err := m.values.PageItems(pagePos)
	if err != nil {
		return container.Cursor{}, err
	}
	if hdr.Next == layout.PosNil {
		return container.Cursor{Edge: container.EdgeEnd}, nil
	}
	return container.Cursor{Page: hdr.Next, Item: 0}, nil
}

// Find locates key, returning its iterator position (or the position it
// would occupy) and the inner-level path walked to get there.
func (m *Map[K, PK, V, PV]) Find(key K) (FindResult, error) {
	var path []uint64
	var leafPage uint64
	leafKnown := false

	if len(m.levels) > 0 {
		top := m.levels[len(m.levels)-1]
		pagePos, has := top.FrontPage()
		if !has {
			return FindResult{}, m.fatal(1, "vmap: top key level has no page")
		}
		for i := len(m.levels) - 1; i >= 0; i-- {
			lvl := m.levels[i]
			path = append(path, pagePos)
			items, _, err := lvl.PageItems(pagePos)
			if err != nil {
				return FindResult{}, err
			}
			if len(items) == 0 {
				return FindResult{}, m.fatal(2, "vmap: inner page %d is empty", pagePos)
			}
			slot := 0
			for s := 0; s < len(items); s++ {
				if !m.less(key, items[s].Key) {
					slot = s
				} else {
					break
				}
			}
			pagePos = items[slot].Child
		}
		leafPage = pagePos
		leafKnown = true
	} else if p, has := m.values.FrontPage(); has {
		leafPage = p
		leafKnown = true
	}

	if !leafKnown {
		return FindResult{Cursor: container.Cursor{Edge: container.EdgeEnd}, OK: false, Path: path}, nil
	}

	items, _, err := m.values.PageItems(leafPage)
	if err != nil {
		return FindResult{}, err
	}
	slot := len(items)
	for s := 0; s < len(items); s++ {
		if !m.less(items[s].Key, key) {
			slot = s
			break
		}
	}
	found := slot < len(items) && !m.less(key, items[slot].Key) && !m.less(items[slot].Key, key)

	var cur container.Cursor
	if slot < len(items) {
		cur = container.Cursor{Page: leafPage, Item: uint16(slot)}
	} else {
		cur, err = m.nextLeafCursor(leafPage)
		if err != nil {
			return FindResult{}, err
		}
	}
	return FindResult{Cursor: cur, OK: found, Path: path}, nil
}

// Get returns the value stored for key, if present.
func (m *Map[K, PK, V, PV]) Get(key K) (V, bool, error) {
	var zero V
	fr, err := m.Find(key)
	if err != nil {
		return zero, false, err
	}
	if !fr.OK {
		return zero, false, nil
	}
	v, err := m.values.Deref(fr.Cursor)
	if err != nil {
		return zero, false, err
	}
	return v.Value, true, nil
}

func valueLeadsToChanges[K any, PK Codec[K], V any, PV Codec[V]](leads [2]container.PageLead[valueItem[K, PK, V, PV]]) [2]keyChange[K] {
	var out [2]keyChange[K]
	for i, l := range leads {
		out[i] = keyChange[K]{op: l.Op, page: l.Page}
		if l.HasItem0 {
			out[i].newKey = l.Item0.Key
			out[i].hasNew = true
		}
		if l.HasItem1 {
			out[i].oldKey = l.Item1.Key
			out[i].hasOld = true
		}
	}
	return out
}

func keyLeadsToChanges[K any, PK Codec[K]](leads [2]container.PageLead[keyItem[K, PK]]) [2]keyChange[K] {
	var out [2]keyChange[K]
	for i, l := range leads {
		out[i] = keyChange[K]{op: l.Op, page: l.Page}
		if l.HasItem0 {
			out[i].newKey = l.Item0.Key
			out[i].hasNew = true
		}
		if l.HasItem1 {
			out[i].oldKey = l.Item1.Key
			out[i].hasOld = true
		}
	}
	return out
}

func allNone[K any](changes [2]keyChange[K]) bool {
	return changes[0].op == container.LeadNone && changes[1].op == container.LeadNone
}

func findChildSlot[K any, PK Codec[K]](items []keyItem[K, PK], child uint64) int {
	for i, it := range items {
		if it.Child == child {
			return i
		}
	}
	return -1
}

// applyLeadsAtLevel applies one level's worth of page leads (originating
// either from the value leaf or from the level below) to lvl's page
// pagePos, returning the leads this level itself produced for the level
// above.
func (m *Map[K, PK, V, PV]) applyLeadsAtLevel(lvl *container.Container[keyItem[K, PK], *keyItem[K, PK]], pagePos uint64, changes [2]keyChange[K]) ([2]keyChange[K], error) {
	var out [2]keyChange[K]
	outIdx := 0

	for idx, ch := range changes {
		switch ch.op {
		case container.LeadNone, container.LeadOriginal:
			continue

		case container.LeadReplace:
			items, _, err := lvl.PageItems(pagePos)
			if err != nil {
				return [2]keyChange[K]{}, err
			}
			slot := findChildSlot[K, PK](items, ch.page)
			if slot < 0 {
				return [2]keyChange[K]{}, m.fatal(3, "vmap: missing parent key for child page %d", ch.page)
			}
			if _, err := lvl.ReplaceAt(pagePos, slot, keyItem[K, PK]{Key: ch.newKey, Child: ch.page}); err != nil {
				return [2]keyChange[K]{}, err
			}
			if slot == 0 {
				out[outIdx] = keyChange[K]{op: container.LeadReplace, page: pagePos, newKey: ch.newKey, hasNew: true, oldKey: ch.oldKey, hasOld: true}
				outIdx++
			}

		case container.LeadInsert:
			sibling := changes[1-idx]
			items, _, err := lvl.PageItems(pagePos)
			if err != nil {
				return [2]keyChange[K]{}, err
			}
			siblingSlot := findChildSlot[K, PK](items, sibling.page)
			if siblingSlot < 0 {
				return [2]keyChange[K]{}, m.fatal(4, "vmap: missing sibling key for child page %d", sibling.page)
			}
			res, err := lvl.Insert(container.Cursor{Page: pagePos, Item: uint16(siblingSlot + 1)}, keyItem[K, PK]{Key: ch.newKey, Child: ch.page})
			if err != nil {
				return [2]keyChange[K]{}, err
			}
			produced := keyLeadsToChanges[K, PK](res.Leads)
			for _, p := range produced {
				if p.op != container.LeadNone {
					out[outIdx] = p
					outIdx++
				}
			}

		case container.LeadErase:
			items, _, err := lvl.PageItems(pagePos)
			if err != nil {
				return [2]keyChange[K]{}, err
			}
			slot := findChildSlot[K, PK](items, ch.page)
			if slot < 0 {
				return [2]keyChange[K]{}, m.fatal(5, "vmap: missing parent key for erased child page %d", ch.page)
			}
			res, err := lvl.Erase(container.Cursor{Page: pagePos, Item: uint16(slot)})
			if err != nil {
				return [2]keyChange[K]{}, err
			}
			produced := keyLeadsToChanges[K, PK](res.Leads)
			for _, p := range produced {
				if p.op != container.LeadNone {
					out[outIdx] = p
					outIdx++
				}
			}
		}
	}

	return out, nil
}

func (m *Map[K, PK, V, PV]) growHeight(changes [2]keyChange[K]) error {
	var insertChange, siblingChange keyChange[K]
	haveInsert, haveSibling := false, false
	for _, ch := range changes {
		switch ch.op {
		case container.LeadInsert:
			insertChange, haveInsert = ch, true
		case container.LeadOriginal, container.LeadReplace:
			siblingChange, haveSibling = ch, true
		}
	}
	if !haveInsert || !haveSibling {
		return m.fatal(6, "vmap: cannot grow height without both a new and an original page")
	}
	if int(m.state.LevelCount) >= MaxKeyLevels {
		diag.Reportf(m.diag, diag.CategoryMap, diag.Fatal, 9, "vmap: key stack exceeded %d levels", MaxKeyLevels)
		return fmt.Errorf("vmap: key stack exceeded %d levels", MaxKeyLevels)
	}

	idx := int(m.state.LevelCount)
	lvl, err := container.NewLevel[keyItem[K, PK], *keyItem[K, PK]](m.store, &m.state.Levels[idx])
	if err != nil {
		return err
	}
	if _, err := lvl.PushBack(keyItem[K, PK]{Key: siblingChange.leadingKey(), Child: siblingChange.page}); err != nil {
		return err
	}
	if _, err := lvl.PushBack(keyItem[K, PK]{Key: insertChange.leadingKey(), Child: insertChange.page}); err != nil {
		return err
	}

	m.levels = append(m.levels, lvl)
	m.state.LevelCount++
	return nil
}

func (m *Map[K, PK, V, PV]) shrinkIfNeeded() error {
	for len(m.levels) > 0 {
		top := m.levels[len(m.levels)-1]
		pagePos, has := top.FrontPage()
		if !has {
			return m.fatal(7, "vmap: top key level unexpectedly empty")
		}
		items, _, err := top.PageItems(pagePos)
		if err != nil {
			return err
		}
		if len(items) > 1 {
			return nil
		}
		if err := top.Clear(); err != nil {
			return err
		}
		m.levels = m.levels[:len(m.levels)-1]
		m.state.LevelCount--
		m.state.Levels[m.state.LevelCount] = layout.ContainerState{}
	}
	return nil
}

func (m *Map[K, PK, V, PV]) propagate(path []uint64, changes [2]keyChange[K]) error {
	cur := changes
	for i := 0; i < len(m.levels); i++ {
		if allNone(cur) {
			return nil
		}
		if len(path)-1-i < 0 {
			return m.fatal(8, "vmap: path/level stack length mismatch")
		}
		pagePos := path[len(path)-1-i]
		next, err := m.applyLeadsAtLevel(m.levels[i], pagePos, cur)
		if err != nil {
			return err
		}
		cur = next
	}

	// A residual insert only requires a new top level when it is paired
	// with a sibling (the page that already existed before the split).
	// A bare insert with no sibling means the container went from zero
	// pages to its first page: no index entry is needed for that yet.
	hasInsert := cur[0].op == container.LeadInsert || cur[1].op == container.LeadInsert
	hasSibling := cur[0].op == container.LeadOriginal || cur[0].op == container.LeadReplace ||
		cur[1].op == container.LeadOriginal || cur[1].op == container.LeadReplace
	if hasInsert && hasSibling {
		if err := m.growHeight(cur); err != nil {
			return err
		}
	}
	return m.shrinkIfNeeded()
}

// InsertResult reports whether an Insert actually added a new entry.
type InsertResult struct {
	Cursor container.Cursor
	OK     bool
}

// Insert adds (key, value). If key is already present, it does nothing
// and returns OK = false with a cursor at the existing entry.
func (m *Map[K, PK, V, PV]) Insert(key K, value V) (InsertResult, error) {
	fr, err := m.Find(key)
	if err != nil {
		return InsertResult{}, err
	}
	if fr.OK {
		return InsertResult{Cursor: fr.Cursor, OK: false}, nil
	}

	res, err := m.values.Insert(fr.Cursor, valueItem[K, PK, V, PV]{Key: key, Value: value})
	if err != nil {
		return InsertResult{}, err
	}
	if err := m.propagate(fr.Path, valueLeadsToChanges(res.Leads)); err != nil {
		return InsertResult{}, err
	}
	return InsertResult{Cursor: res.Cursor, OK: true}, nil
}

// Erase removes key, if present, returning 1 if it was removed or 0 if
// it was not found.
func (m *Map[K, PK, V, PV]) Erase(key K) (int, error) {
	fr, err := m.Find(key)
	if err != nil {
		return 0, err
	}
	if !fr.OK {
		return 0, nil
	}

	res, err := m.values.Erase(fr.Cursor)
	if err != nil {
		return 0, err
	}
	if err := m.propagate(fr.Path, valueLeadsToChanges(res.Leads)); err != nil {
		return 0, err
	}
	return 1, nil
}

// Walk calls fn for every (key, value) pair in ascending key order,
// stopping early if fn returns false.
func (m *Map[K, PK, V, PV]) Walk(fn func(key K, value V) bool) error {
	cur, err := m.values.Begin()
	if err != nil {
		return err
	}
	for cur.Derefable() {
		item, err := m.values.Deref(cur)
		if err != nil {
			return err
		}
		if !fn(item.Key, item.Value) {
			return nil
		}
		cur, err = m.values.Next(cur)
		if err != nil {
			return err
		}
	}
	return nil
}
