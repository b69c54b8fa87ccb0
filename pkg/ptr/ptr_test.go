package ptr

import (
	"encoding/binary"
	"testing"

	"vmem/pkg/page"
	"vmem/pkg/pool"
)

// u32item is a minimal Coder[u32item] used purely to exercise Ptr.
type u32item uint32

func (it *u32item) Size() int { return 4 }

func (it *u32item) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst, uint32(*it))
}

func (it *u32item) Decode(src []byte) {
	*it = u32item(binary.LittleEndian.Uint32(src))
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.Open(pool.Config{FilePath: ":memory:", MaxMappedPages: 16})
	if err != nil {
		t.Fatalf("pool.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSetThenGetRoundTrips(t *testing.T) {
	p := newTestPool(t)
	h, err := page.Lock(p, pool.StartPagePos)
	if err != nil {
		t.Fatalf("page.Lock: %v", err)
	}
	defer h.Close()

	ptr := New[u32item, *u32item](h, 8)
	if err := ptr.Set(42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := ptr.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestNullPointerFailsLoudly(t *testing.T) {
	var n Ptr[u32item, *u32item] = Null[u32item, *u32item]()
	if !n.IsNull() {
		t.Fatal("expected Null() to report IsNull")
	}
	if _, err := n.Get(); err != ErrNull {
		t.Errorf("expected ErrNull, got %v", err)
	}
	if err := n.Set(1); err != ErrNull {
		t.Errorf("expected ErrNull on Set, got %v", err)
	}
}

func TestOffsetPastPageIsNull(t *testing.T) {
	p := newTestPool(t)
	h, err := page.Lock(p, pool.StartPagePos)
	if err != nil {
		t.Fatalf("page.Lock: %v", err)
	}
	defer h.Close()

	ptr := New[u32item, *u32item](h, uint16(pool.PageSize-2))
	if _, err := ptr.Get(); err != ErrNull {
		t.Errorf("expected ErrNull for an out-of-range slot, got %v", err)
	}
}
