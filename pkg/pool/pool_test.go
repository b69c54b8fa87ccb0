package pool

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.MaxMappedPages == 0 {
		cfg.MaxMappedPages = 64
	}
	p, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpenInitializesRootAndStart(t *testing.T) {
	p := openTestPool(t, Config{FilePath: ":memory:"})
	if p.PageCount() != 2 {
		t.Fatalf("expected page count 2 after init, got %d", p.PageCount())
	}
	count, err := p.FreePageCount()
	if err != nil {
		t.Fatalf("FreePageCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty free list on fresh pool, got %d", count)
	}
}

func TestAllocAppendsAtEndOfFile(t *testing.T) {
	p := openTestPool(t, Config{FilePath: ":memory:"})

	pos1, _, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if pos1 != 2 {
		t.Errorf("expected first allocated page at pos 2, got %d", pos1)
	}
	p.UnlockPage(pos1)

	pos2, _, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if pos2 != 3 {
		t.Errorf("expected second allocated page at pos 3, got %d", pos2)
	}
	p.UnlockPage(pos2)
}

func TestFreeListReuseDoesNotGrowFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	p := openTestPool(t, Config{FilePath: path})

	var allocated []uint64
	for i := 0; i < 10; i++ {
		pos, _, err := p.AllocPage()
		if err != nil {
			t.Fatalf("AllocPage: %v", err)
		}
		allocated = append(allocated, pos)
		p.UnlockPage(pos)
	}

	sizeAfterAlloc := int64(p.PageCount()) * PageSize

	for _, pos := range allocated {
		if err := p.FreePage(pos); err != nil {
			t.Fatalf("FreePage(%d): %v", pos, err)
		}
	}

	count, err := p.FreePageCount()
	if err != nil {
		t.Fatalf("FreePageCount: %v", err)
	}
	if count != len(allocated) {
		t.Fatalf("expected %d free pages, got %d", len(allocated), count)
	}

	// Reallocate the same number of pages: the free list must be drained
	// first (LIFO), and the file must not grow.
	for i := 0; i < len(allocated); i++ {
		pos, _, err := p.AllocPage()
		if err != nil {
			t.Fatalf("reallocate: %v", err)
		}
		p.UnlockPage(pos)
	}

	if int64(p.PageCount()) != sizeAfterAlloc/PageSize {
		t.Errorf("expected page count to stay at %d after reuse, got %d", sizeAfterAlloc/PageSize, p.PageCount())
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != sizeAfterAlloc {
		t.Errorf("expected file size %d unchanged by reuse, got %d", sizeAfterAlloc, st.Size())
	}
}

func TestFreeListIsLIFO(t *testing.T) {
	p := openTestPool(t, Config{FilePath: ":memory:"})

	var allocated []uint64
	for i := 0; i < 5; i++ {
		pos, _, _ := p.AllocPage()
		allocated = append(allocated, pos)
		p.UnlockPage(pos)
	}
	for _, pos := range allocated {
		p.FreePage(pos)
	}

	for i := len(allocated) - 1; i >= 0; i-- {
		pos, _, err := p.AllocPage()
		if err != nil {
			t.Fatalf("AllocPage: %v", err)
		}
		if pos != allocated[i] {
			t.Errorf("expected LIFO reuse order: wanted %d, got %d", allocated[i], pos)
		}
		p.UnlockPage(pos)
	}
}

func TestCapacityPressureEvictsUnlockedPages(t *testing.T) {
	p := openTestPool(t, Config{FilePath: ":memory:", MaxMappedPages: 3})

	var positions []uint64
	for i := 0; i < 50; i++ {
		pos, _, err := p.AllocPage()
		if err != nil {
			t.Fatalf("AllocPage at iteration %d: %v", i, err)
		}
		positions = append(positions, pos)
		p.UnlockPage(pos)
	}

	// Every page must still be readable even though the mapping table
	// never held more than MaxMappedPages resident pages.
	for _, pos := range positions {
		if _, err := p.LockPage(pos); err != nil {
			t.Fatalf("LockPage(%d) after eviction: %v", pos, err)
		}
		p.UnlockPage(pos)
	}
}

func TestCapacityStarvationWhenAllLocked(t *testing.T) {
	p := openTestPool(t, Config{FilePath: ":memory:", MaxMappedPages: 3})

	// Root and start are already required/resident; lock one more page
	// to fill every slot, then try to map a second new page.
	pos1, _, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	defer p.UnlockPage(pos1)

	_, _, err = p.AllocPage()
	if err == nil {
		t.Fatal("expected capacity starvation error, got nil")
	}
}

func TestUnlockWithoutLockPanics(t *testing.T) {
	p := openTestPool(t, Config{FilePath: ":memory:"})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unlock of a page that was never locked")
		}
	}()
	p.UnlockPage(999)
}

func TestReopenVerifiesRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	p := openTestPool(t, Config{FilePath: path})
	pos, _, _ := p.AllocPage()
	p.UnlockPage(pos)
	p.Close()

	p2, err := Open(Config{FilePath: path, MaxMappedPages: 16})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer p2.Close()
	if p2.PageCount() != 3 {
		t.Errorf("expected page count 3 after reopen, got %d", p2.PageCount())
	}
}

func TestCorruptVersionRejectedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	p := openTestPool(t, Config{FilePath: path})
	p.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xff}, 0); err != nil {
		t.Fatalf("write corruption byte: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	sizeBefore := info.Size()
	f.Close()

	_, err = Open(Config{FilePath: path, MaxMappedPages: 16})
	if err == nil {
		t.Fatal("expected corruption error on mismatched version")
	}

	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat after failed open: %v", err)
	}
	if info2.Size() != sizeBefore {
		t.Errorf("open should not modify file size on corruption: before=%d after=%d", sizeBefore, info2.Size())
	}
}

func TestBadConfigRejected(t *testing.T) {
	_, err := Open(Config{FilePath: ":memory:", MaxMappedPages: 2})
	if err == nil {
		t.Fatal("expected error for max_mapped_pages < 3")
	}
}
