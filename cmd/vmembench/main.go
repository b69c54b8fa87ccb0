// cmd/vmembench/main.go
//
// vmembench times an insert-then-erase workload of n key/value pairs
// through a vmap.Map on a vmem pool against the same workload run
// through database/sql against SQLite, as a rough sanity check that the
// engine keeps pace with a real embedded engine.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"vmem/pkg/pool"
	"vmem/pkg/vmap"
)

func main() {
	n := flag.Int("n", 50000, "number of key/value pairs to insert then erase")
	flag.Parse()

	tmpDir, err := os.MkdirTemp("", "vmembench")
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmembench: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	vmemElapsed, err := benchVmem(filepath.Join(tmpDir, "vmem.db"), *n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmembench: vmem run failed: %v\n", err)
		os.Exit(1)
	}

	sqliteElapsed, err := benchSQLite(filepath.Join(tmpDir, "sqlite.db"), *n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmembench: sqlite run failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("n = %d insert+erase pairs\n", *n)
	fmt.Printf("vmem.Map:            %v (%.2f ops/sec)\n", vmemElapsed, opsPerSec(*n, vmemElapsed))
	fmt.Printf("sqlite3 (database/sql): %v (%.2f ops/sec)\n", sqliteElapsed, opsPerSec(*n, sqliteElapsed))
}

func opsPerSec(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(2*n) / d.Seconds()
}

type u64Key uint64

func (k *u64Key) Size() int         { return 8 }
func (k *u64Key) Encode(dst []byte) { putU64(dst, uint64(*k)) }
func (k *u64Key) Decode(src []byte) { *k = u64Key(getU64(src)) }

type u64Value uint64

func (v *u64Value) Size() int         { return 8 }
func (v *u64Value) Encode(dst []byte) { putU64(dst, uint64(*v)) }
func (v *u64Value) Decode(src []byte) { *v = u64Value(getU64(src)) }

func putU64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func getU64(src []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(src[i]) << (8 * i)
	}
	return v
}

func benchVmem(path string, n int) (time.Duration, error) {
	p, err := pool.Open(pool.Config{FilePath: path, MaxMappedPages: 512})
	if err != nil {
		return 0, err
	}
	defer p.Close()

	var state vmap.MapState
	m, err := vmap.New[u64Key, *u64Key, u64Value, *u64Value](p, &state, func(a, b u64Key) bool { return a < b }, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := m.Insert(u64Key(i), u64Value(i)); err != nil {
			return 0, err
		}
	}
	for i := 0; i < n; i++ {
		if _, err := m.Erase(u64Key(i)); err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}

func benchSQLite(path string, n int) (time.Duration, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE bench (k INTEGER PRIMARY KEY, v INTEGER)"); err != nil {
		return 0, err
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := db.Exec("INSERT INTO bench (k, v) VALUES (?, ?)", i, i); err != nil {
			return 0, err
		}
	}
	for i := 0; i < n; i++ {
		if _, err := db.Exec("DELETE FROM bench WHERE k = ?", i); err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}
