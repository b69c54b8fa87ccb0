package page

import (
	"testing"

	"vmem/pkg/pool"
)

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.Open(pool.Config{FilePath: ":memory:", MaxMappedPages: 16})
	if err != nil {
		t.Fatalf("pool.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestLockAndClose(t *testing.T) {
	p := newTestPool(t)
	h, err := Lock(p, pool.StartPagePos)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !h.Valid() {
		t.Fatal("expected handle to be valid after Lock")
	}
	if len(h.Data()) != pool.PageSize {
		t.Fatalf("expected page-sized data, got %d bytes", len(h.Data()))
	}
	h.Close()
	if h.Valid() {
		t.Fatal("expected handle to be invalid after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := newTestPool(t)
	h, err := Lock(p, pool.StartPagePos)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	h.Close()
	h.Close() // must not panic or double-unlock
}

func TestCloneIncrementsIndependentLock(t *testing.T) {
	p := newTestPool(t)
	h, err := Lock(p, pool.StartPagePos)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	clone, err := h.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if !clone.Valid() {
		t.Fatal("expected clone to be valid")
	}

	// Closing the original must not invalidate the clone's independent lock.
	h.Close()
	if !clone.Valid() {
		t.Fatal("clone should remain valid after original is closed")
	}
	clone.Close()
}

func TestTakeTransfersOwnership(t *testing.T) {
	p := newTestPool(t)
	h, err := Lock(p, pool.StartPagePos)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	moved := h.Take()
	if h.Valid() {
		t.Fatal("expected source handle to be invalid after Take")
	}
	if !moved.Valid() {
		t.Fatal("expected moved handle to be valid")
	}
	h.Close() // no-op, must not panic
	moved.Close()
}

func TestCloneOfInvalidHandle(t *testing.T) {
	var h Handle
	clone, err := h.Clone()
	if err != nil {
		t.Fatalf("Clone of invalid handle should not error: %v", err)
	}
	if clone.Valid() {
		t.Fatal("expected clone of invalid handle to be invalid")
	}
}

func TestNewAllocatesAndLocks(t *testing.T) {
	p := newTestPool(t)
	h, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !h.Valid() {
		t.Fatal("expected handle to be valid after New")
	}
	if len(h.Data()) != pool.PageSize {
		t.Fatalf("expected page-sized data, got %d bytes", len(h.Data()))
	}
	h.Close()
}

func TestFreeReturnsPageToFreeList(t *testing.T) {
	p := newTestPool(t)
	h, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pos := h.Pos()
	if err := h.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if h.Valid() {
		t.Fatal("expected handle to be invalid after Free")
	}

	again, err := New(p)
	if err != nil {
		t.Fatalf("New after Free: %v", err)
	}
	defer again.Close()
	if again.Pos() != pos {
		t.Fatalf("expected freed page %d to be reused, got %d", pos, again.Pos())
	}
}

func TestFreeOnInvalidHandle(t *testing.T) {
	var h Handle
	if err := h.Free(); err != nil {
		t.Fatalf("Free on invalid handle should not error: %v", err)
	}
}

func TestNullHandleIsInvalid(t *testing.T) {
	h := Null()
	if h.Valid() {
		t.Fatal("expected Null() to be invalid")
	}
	if h.Data() != nil {
		t.Fatal("expected Null() to expose no data")
	}
}
