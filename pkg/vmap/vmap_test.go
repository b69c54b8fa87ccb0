package vmap

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"vmem/pkg/pool"
)

type u64Key uint64

func (k *u64Key) Size() int { return 8 }
func (k *u64Key) Encode(dst []byte) { binary.LittleEndian.PutUint64(dst, uint64(*k)) }
func (k *u64Key) Decode(src []byte) { *k = u64Key(binary.LittleEndian.Uint64(src)) }

type u64Value uint64

func (v *u64Value) Size() int { return 8 }
func (v *u64Value) Encode(dst []byte) { binary.LittleEndian.PutUint64(dst, uint64(*v)) }
func (v *u64Value) Decode(src []byte) { *v = u64Value(binary.LittleEndian.Uint64(src)) }

func lessU64(a, b u64Key) bool { return a < b }

func newTestMap(t *testing.T) (*pool.Pool, *Map[u64Key, *u64Key, u64Value, *u64Value]) {
	t.Helper()
	p, err := pool.Open(pool.Config{FilePath: ":memory:", MaxMappedPages: 256})
	if err != nil {
		t.Fatalf("pool.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	var state MapState
	m, err := New[u64Key, *u64Key, u64Value, *u64Value](p, &state, lessU64, nil)
	if err != nil {
		t.Fatalf("vmap.New: %v", err)
	}
	return p, m
}

func TestInsertFindRoundTrip(t *testing.T) {
	_, m := newTestMap(t)

	for k := uint64(1); k <= 200; k++ {
		res, err := m.Insert(u64Key(k), u64Value(k*k))
		if err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
		if !res.OK {
			t.Fatalf("expected first insert of %d to succeed", k)
		}
	}

	for k := uint64(1); k <= 200; k++ {
		v, ok, err := m.Get(u64Key(k))
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if !ok {
			t.Fatalf("expected key %d to be present", k)
		}
		if uint64(v) != k*k {
			t.Fatalf("Get(%d) = %d, want %d", k, v, k*k)
		}
	}
}

func TestInsertIdempotence(t *testing.T) {
	_, m := newTestMap(t)

	keys := make([]uint64, 0, 5000)
	for k := uint64(1); k <= 5000; k++ {
		keys = append(keys, k)
	}
	rand.New(rand.NewSource(1)).Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for _, k := range keys {
		res, err := m.Insert(u64Key(k), u64Value(k*k))
		if err != nil {
			t.Fatalf("first Insert(%d): %v", k, err)
		}
		if !res.OK {
			t.Fatalf("expected first insert of %d to report ok=true", k)
		}
	}

	for _, k := range keys {
		res, err := m.Insert(u64Key(k), u64Value(k*k))
		if err != nil {
			t.Fatalf("second Insert(%d): %v", k, err)
		}
		if res.OK {
			t.Fatalf("expected re-insert of %d to report ok=false", k)
		}
	}

	for _, k := range keys {
		v, ok, err := m.Get(u64Key(k))
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if !ok || uint64(v) != k*k {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", k, v, ok, k*k)
		}
	}

	var iterated []uint64
	if err := m.Walk(func(k u64Key, v u64Value) bool {
		iterated = append(iterated, uint64(k))
		return true
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(iterated) != len(keys) {
		t.Fatalf("expected %d entries in walk, got %d", len(keys), len(iterated))
	}
	for i := 1; i < len(iterated); i++ {
		if iterated[i-1] >= iterated[i] {
			t.Fatalf("walk order not strictly ascending at index %d: %d >= %d", i, iterated[i-1], iterated[i])
		}
	}
	if m.Count() != uint64(len(keys)) {
		t.Fatalf("Count() = %d, want %d", m.Count(), len(keys))
	}
}

func TestEraseShrinksAndReturnsCount(t *testing.T) {
	_, m := newTestMap(t)

	for k := uint64(1); k <= 1000; k++ {
		if _, err := m.Insert(u64Key(k), u64Value(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	for k := uint64(1); k <= 1000; k++ {
		n, err := m.Erase(u64Key(k))
		if err != nil {
			t.Fatalf("Erase(%d): %v", k, err)
		}
		if n != 1 {
			t.Fatalf("Erase(%d) = %d, want 1", k, n)
		}
	}

	if m.Count() != 0 {
		t.Fatalf("expected Count() == 0 after erasing everything, got %d", m.Count())
	}

	n, err := m.Erase(u64Key(12345))
	if err != nil {
		t.Fatalf("Erase of missing key: %v", err)
	}
	if n != 0 {
		t.Fatalf("Erase of missing key = %d, want 0", n)
	}
}

func TestGetMissingKey(t *testing.T) {
	_, m := newTestMap(t)
	if _, err := m.Insert(u64Key(1), u64Value(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, ok, err := m.Get(u64Key(999))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected missing key to report ok=false")
	}
}
