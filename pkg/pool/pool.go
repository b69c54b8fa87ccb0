// Package pool implements the page-oriented virtual-memory pool: it owns
// the backing storage, maps pages on demand subject to a bounded cache,
// tracks per-page lock/keep counts, and owns the free-page list.
package pool

import (
	"encoding/binary"
	"errors"
	"fmt"

	"vmem/pkg/diag"
	"vmem/pkg/layout"
	"vmem/pkg/storage"
)

const (
	rootVersion   uint16 = 3
	rootSignature        = "abc::vmem\x00"
)

// Re-exported for callers that only import pool.
const (
	PageSize     = layout.PageSize
	RootPagePos  = layout.RootPagePos
	StartPagePos = layout.StartPagePos
	PosNil       = layout.PosNil
	ItemNil      = layout.ItemNil
)

var (
	// ErrCorrupt is returned when the root page's signature, version, or
	// page size doesn't match what this package writes, or the file size
	// isn't a whole multiple of the page size.
	ErrCorrupt = errors.New("pool: corrupt or incompatible pool file")

	// ErrNoCapacity is returned when every mapped page is locked and
	// neither eviction pass could free a slot.
	ErrNoCapacity = errors.New("pool: no mapping capacity available")

	// ErrBadConfig is returned for invalid Config values.
	ErrBadConfig = errors.New("pool: invalid configuration")
)

// Config configures a Pool.
type Config struct {
	// FilePath names the backing file. The special value ":memory:" (or
	// an empty string) opens an in-process store that is never written
	// to disk.
	FilePath string

	// MaxMappedPages bounds the number of pages resident in the mapping
	// table at once. Must be >= 3 (root, start, and at least one more).
	MaxMappedPages uint

	// SyncPagesOnUnlock issues an async msync whenever a page's lock
	// count reaches zero.
	SyncPagesOnUnlock bool

	// SyncLockedPagesOnDestroy forces a sync of any still-locked pages
	// when the pool is closed.
	SyncLockedPagesOnDestroy bool

	// Diag receives fatal/invariant diagnostic records. Defaults to
	// diag.Discard() when nil.
	Diag diag.Sink
}

// mapping tracks one resident page.
type mapping struct {
	data      []byte
	lockCount int
	keepCount uint64
}

// Pool owns the backing storage and the table of resident pages. A Pool
// is not safe for concurrent use: callers must either single-thread all
// access or wrap it in an external mutex.
type Pool struct {
	store    storage.Storage
	cfg      Config
	diag     diag.Sink
	pages    map[uint64]*mapping
	pageCnt  uint64 // number of pages in the file, including root+start
	freeList layout.State
}

// Open opens or creates the backing file/store and verifies or
// initializes the root and start pages.
func Open(cfg Config) (*Pool, error) {
	if cfg.MaxMappedPages < 3 {
		return nil, fmt.Errorf("%w: max_mapped_pages must be >= 3", ErrBadConfig)
	}
	sink := cfg.Diag
	if sink == nil {
		sink = diag.Discard()
	}

	var store storage.Storage
	var err error
	var fresh bool
	if cfg.FilePath == "" || cfg.FilePath == ":memory:" {
		// A Memory store is allocated new on every Open call, so it is
		// always fresh — there is nothing to reopen.
		store = storage.NewMemory(2 * layout.PageSize)
		fresh = true
	} else {
		var f *storage.File
		f, fresh, err = storage.OpenFile(cfg.FilePath, 2*layout.PageSize)
		store = f
	}
	if err != nil {
		return nil, fmt.Errorf("pool: open storage: %w", err)
	}

	size := store.Size()
	if size%layout.PageSize != 0 {
		store.Close()
		return nil, fmt.Errorf("%w: file size %d is not a multiple of page size", ErrCorrupt, size)
	}

	p := &Pool{
		store:   store,
		cfg:     cfg,
		diag:    sink,
		pages:   make(map[uint64]*mapping),
		pageCnt: uint64(size / layout.PageSize),
	}

	if fresh {
		if err := p.initRoot(); err != nil {
			store.Close()
			return nil, err
		}
	} else {
		if err := p.verifyRoot(); err != nil {
			store.Close()
			return nil, err
		}
	}

	// Root and start are required pages: map them now so they stay
	// resident (eviction never touches them).
	for _, pos := range []uint64{layout.RootPagePos, layout.StartPagePos} {
		if _, err := p.mapPage(pos); err != nil {
			store.Close()
			return nil, err
		}
	}

	return p, nil
}

func (p *Pool) rootBytes() []byte {
	return p.store.Slice(0, layout.PageSize)
}

func (p *Pool) verifyRoot() error {
	root := p.rootBytes()
	if root == nil {
		return fmt.Errorf("%w: cannot read root page", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint16(root[0:2])
	sig := string(root[2:12])
	pageSize := binary.LittleEndian.Uint16(root[12:14])

	if version != rootVersion || sig != rootSignature || pageSize != layout.PageSize {
		diag.Reportf(p.diag, diag.CategoryPool, diag.Fatal, 1,
			"root page mismatch: version=%d sig=%q page_size=%d", version, sig, pageSize)
		return fmt.Errorf("%w: version/signature/page-size mismatch", ErrCorrupt)
	}

	p.freeList = layout.DecodeState(root[16:32])
	return nil
}

func (p *Pool) initRoot() error {
	if err := p.store.Grow(2 * layout.PageSize); err != nil {
		return fmt.Errorf("pool: grow for init: %w", err)
	}
	p.pageCnt = 2

	root := p.rootBytes()
	if root == nil {
		return fmt.Errorf("%w: cannot map root page for init", ErrCorrupt)
	}
	for i := range root {
		root[i] = 0
	}
	binary.LittleEndian.PutUint16(root[0:2], rootVersion)
	copy(root[2:12], rootSignature)
	binary.LittleEndian.PutUint16(root[12:14], layout.PageSize)
	binary.LittleEndian.PutUint16(root[14:16], 0xcccc)
	p.freeList = layout.State{Front: layout.PosNil, Back: layout.PosNil}
	p.freeList.Encode(root[16:32])
	root[32] = 0xcc

	start := p.store.Slice(int(layout.StartPagePos*layout.PageSize), layout.PageSize)
	if start == nil {
		return fmt.Errorf("%w: cannot map start page for init", ErrCorrupt)
	}
	for i := range start {
		start[i] = 0
	}
	return nil
}

func (p *Pool) writeFreeListHead() {
	root := p.rootBytes()
	p.freeList.Encode(root[16:32])
}

// required reports whether pos must never be evicted.
func required(pos uint64) bool { return pos == layout.RootPagePos || pos == layout.StartPagePos }

// mapPage ensures pos is resident, evicting if the table is full, and
// returns its mapping without touching lock/keep counts.
func (p *Pool) mapPage(pos uint64) (*mapping, error) {
	if m, ok := p.pages[pos]; ok {
		return m, nil
	}

	if uint(len(p.pages)) >= p.cfg.MaxMappedPages {
		if err := p.evict(); err != nil {
			return nil, err
		}
	}

	if pos >= p.pageCnt {
		return nil, fmt.Errorf("pool: page %d out of bounds (have %d)", pos, p.pageCnt)
	}
	data := p.store.Slice(int(pos*layout.PageSize), layout.PageSize)
	if data == nil {
		return nil, fmt.Errorf("pool: cannot map page %d", pos)
	}

	m := &mapping{data: data}
	p.pages[pos] = m
	return m, nil
}

// evict runs the two-pass eviction algorithm: first evict unlocked,
// non-required pages at or below the average keep count; if nothing was
// freed, evict every unlocked non-required page regardless of count.
func (p *Pool) evict() error {
	var unlockedSum uint64
	var unlockedCount uint64
	for pos, m := range p.pages {
		if m.lockCount == 0 && !required(pos) {
			unlockedSum += m.keepCount
			unlockedCount++
		}
	}
	if unlockedCount == 0 {
		diag.Reportf(p.diag, diag.CategoryPool, diag.Fatal, 2, "eviction: no unlocked page available")
		return ErrNoCapacity
	}
	avgKeep := (unlockedSum + unlockedCount - 1) / unlockedCount // ceil

	freed := p.evictPass(func(m *mapping) bool { return m.keepCount <= avgKeep })
	if freed == 0 {
		diag.Reportf(p.diag, diag.CategoryPool, diag.Warning, 3,
			"eviction pass 1 freed nothing at avg_keep=%d, falling back to pass 2", avgKeep)
		freed = p.evictPass(func(*mapping) bool { return true })
	}
	if freed == 0 {
		diag.Reportf(p.diag, diag.CategoryPool, diag.Fatal, 4, "eviction: both passes freed nothing")
		return ErrNoCapacity
	}
	return nil
}

func (p *Pool) evictPass(match func(*mapping) bool) int {
	freed := 0
	for pos, m := range p.pages {
		if m.lockCount != 0 || required(pos) || !match(m) {
			continue
		}
		if p.cfg.SyncPagesOnUnlock {
			p.store.Sync()
		}
		delete(p.pages, pos)
		freed++
	}
	return freed
}

// LockPage maps pos if needed, increments its lock and keep counts, and
// returns its raw bytes.
func (p *Pool) LockPage(pos uint64) ([]byte, error) {
	m, err := p.mapPage(pos)
	if err != nil {
		return nil, err
	}
	m.lockCount++
	m.keepCount++
	return m.data, nil
}

// UnlockPage decrements pos's lock count. When the count drops to zero
// and SyncPagesOnUnlock is set, it calls Sync on the backing store (an
// async msync of the whole file for a file-backed store). Unlocking a
// page that is not currently locked is a programming error, exactly as
// sync.Mutex.Unlock treats an unlock of an unlocked mutex: it panics
// rather than silently corrupting the lock count.
func (p *Pool) UnlockPage(pos uint64) {
	m, ok := p.pages[pos]
	if !ok || m.lockCount <= 0 {
		diag.Reportf(p.diag, diag.CategoryPool, diag.Fatal, 5, "unlock of page %d that is not locked", pos)
		panic(fmt.Sprintf("pool: unlock of page %d that is not locked", pos))
	}
	m.lockCount--
	if m.lockCount == 0 && p.cfg.SyncPagesOnUnlock {
		p.store.Sync()
	}
}

// AllocPage pops a position from the free list if one exists, otherwise
// appends a fresh zeroed page at end-of-file, and locks it.
func (p *Pool) AllocPage() (uint64, []byte, error) {
	var pos uint64
	if p.freeList.Front != layout.PosNil {
		pos = p.freeList.Front
		freed, err := p.LockPage(pos)
		if err != nil {
			return 0, nil, err
		}
		hdr := layout.DecodeHeader(freed)
		p.freeList.Front = hdr.Next
		if p.freeList.Front == layout.PosNil {
			p.freeList.Back = layout.PosNil
		} else {
			nextData, err := p.LockPage(p.freeList.Front)
			if err != nil {
				p.UnlockPage(pos)
				return 0, nil, err
			}
			nextHdr := layout.DecodeHeader(nextData)
			nextHdr.Prev = layout.PosNil
			nextHdr.Encode(nextData)
			p.UnlockPage(p.freeList.Front)
		}
		p.writeFreeListHead()
		for i := range freed {
			freed[i] = 0
		}
		return pos, freed, nil
	}

	pos = p.pageCnt
	if err := p.store.Grow(int64(p.pageCnt+1) * layout.PageSize); err != nil {
		return 0, nil, fmt.Errorf("pool: grow: %w", err)
	}
	p.pageCnt++
	// Grow may move or remap the backing bytes: refresh every resident
	// mapping so none keeps a slice of the old region.
	for mpos, m := range p.pages {
		m.data = p.store.Slice(int(mpos*layout.PageSize), layout.PageSize)
	}

	data, err := p.LockPage(pos)
	if err != nil {
		return 0, nil, err
	}
	for i := range data {
		data[i] = 0
	}
	return pos, data, nil
}

// FreePage pushes pos onto the free list (LIFO). It does not assume or
// require the caller to already hold a lock on pos — it acquires its own
// short-lived lock to rewrite the page's header and releases it before
// returning. A caller that does hold a lock on pos (e.g. a page.Handle
// being freed) must still call UnlockPage/Close on its own handle
// separately; FreePage only manages the free-list bookkeeping.
func (p *Pool) FreePage(pos uint64) error {
	data, err := p.LockPage(pos)
	if err != nil {
		return err
	}
	oldFront := p.freeList.Front
	hdr := layout.Header{Self: pos, Prev: layout.PosNil, Next: oldFront}
	hdr.Encode(data)
	p.UnlockPage(pos)

	if oldFront != layout.PosNil {
		oldFrontData, err := p.LockPage(oldFront)
		if err != nil {
			return err
		}
		oldHdr := layout.DecodeHeader(oldFrontData)
		oldHdr.Prev = pos
		oldHdr.Encode(oldFrontData)
		p.UnlockPage(oldFront)
	}

	p.freeList.Front = pos
	if p.freeList.Back == layout.PosNil {
		p.freeList.Back = pos
	}
	p.writeFreeListHead()
	return nil
}

// ClearLinked splices state's chain onto the free list in O(1) and
// empties state. It is the pool's collaborator for linked.Clear.
func (p *Pool) ClearLinked(state *layout.State) error {
	if state.Empty() {
		return nil
	}
	if p.freeList.Empty() {
		p.freeList = *state
	} else {
		oldFreeFront := p.freeList.Front
		backData, err := p.LockPage(state.Back)
		if err != nil {
			return err
		}
		backHdr := layout.DecodeHeader(backData)
		backHdr.Next = oldFreeFront
		backHdr.Encode(backData)
		p.UnlockPage(state.Back)

		frontData, err := p.LockPage(oldFreeFront)
		if err != nil {
			return err
		}
		frontHdr := layout.DecodeHeader(frontData)
		frontHdr.Prev = state.Back
		frontHdr.Encode(frontData)
		p.UnlockPage(oldFreeFront)

		p.freeList.Front = state.Front
	}
	*state = layout.State{Front: layout.PosNil, Back: layout.PosNil}
	p.writeFreeListHead()
	return nil
}

// PageCount returns the number of pages currently in the file.
func (p *Pool) PageCount() uint64 { return p.pageCnt }

// FreePageCount walks the free list and counts its pages. It is provided
// for diagnostics/tests only; hot paths never need it.
func (p *Pool) FreePageCount() (int, error) {
	count := 0
	pos := p.freeList.Front
	for pos != layout.PosNil {
		data, err := p.LockPage(pos)
		if err != nil {
			return count, err
		}
		hdr := layout.DecodeHeader(data)
		p.UnlockPage(pos)
		count++
		pos = hdr.Next
	}
	return count, nil
}

// Close syncs (optionally flushing still-locked pages per config) and
// releases the backing storage.
func (p *Pool) Close() error {
	if p.cfg.SyncLockedPagesOnDestroy {
		for _, m := range p.pages {
			if m.lockCount > 0 {
				_ = p.store.Sync()
				break
			}
		}
	}
	if err := p.store.Sync(); err != nil {
		p.store.Close()
		return err
	}
	return p.store.Close()
}
