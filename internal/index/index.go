// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index maps chunk coordinates to the location and encoding of the
// chunk's stored bytes.
package index

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/btree"

	"github.com/bpowers/chunked/internal/codec"
)

const degree = 32

// Record describes one stored chunk.
type Record struct {
	Coord     []uint64
	Offset    uint64
	StoredLen uint64
	RawLen    uint64
	Mask      codec.Mask

	key uint64
}

// Key returns the row-major linearization of the record's coordinate.
func (r Record) Key() uint64 {
	return r.key
}

func lessByKey(a, b Record) bool {
	return a.key < b.key
}

// Index is a B-tree of chunk records.  It is safe for concurrent use;
// iterators work on a snapshot and never observe later changes.
type Index struct {
	mu   sync.RWMutex
	grid Grid
	tree *btree.BTreeG[Record]
}

func New(grid Grid) *Index {
	return &Index{
		grid: slices.Clone(grid),
		tree: btree.NewG[Record](degree, lessByKey),
	}
}

func (ix *Index) Grid() Grid {
	return slices.Clone(ix.grid)
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// Lookup returns the record for coord, if the chunk has been written.
func (ix *Index) Lookup(coord []uint64) (Record, bool) {
	if !ix.grid.Contains(coord) {
		return Record{}, false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Get(Record{key: ix.grid.Linear(coord)})
}

// InsertOrReplace stores rec, returning the record it replaced so the caller
// can free that record's extent.  rec.Coord must lie within the grid.
func (ix *Index) InsertOrReplace(rec Record) (Record, bool) {
	if !ix.grid.Contains(rec.Coord) {
		panic(fmt.Sprintf("index: coordinate %v outside grid %v", rec.Coord, ix.grid))
	}
	rec.Coord = slices.Clone(rec.Coord)
	rec.key = ix.grid.Linear(rec.Coord)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tree.ReplaceOrInsert(rec)
}

func (ix *Index) snapshot() *btree.BTreeG[Record] {
	// Clone marks the shared nodes copy-on-write in both trees, so it needs
	// exclusive access to the source tree
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tree.Clone()
}

// Iterate returns the records whose coordinates lie in the inclusive box
// [lo, hi], in row-major order.  Bounds are clamped to the grid.
func (ix *Index) Iterate(lo, hi []uint64) *Iter {
	if len(lo) != len(ix.grid) || len(hi) != len(ix.grid) {
		return &Iter{done: true}
	}
	it := &Iter{
		grid: ix.grid,
		lo:   slices.Clone(lo),
		hi:   make([]uint64, len(hi)),
	}
	for i := range hi {
		it.hi[i] = min(hi[i], ix.grid[i]-1)
		if it.lo[i] > it.hi[i] {
			it.done = true
			return it
		}
	}
	it.tree = ix.snapshot()
	it.cursor = ix.grid.Linear(it.lo)
	it.last = ix.grid.Linear(it.hi)
	return it
}

// All returns every record in row-major order.
func (ix *Index) All() *Iter {
	lo := make([]uint64, len(ix.grid))
	hi := make([]uint64, len(ix.grid))
	for i, d := range ix.grid {
		hi[i] = d - 1
	}
	return ix.Iterate(lo, hi)
}

// Iter is a finite, single-use iterator over a snapshot of an Index.
type Iter struct {
	grid   Grid
	tree   *btree.BTreeG[Record]
	lo, hi []uint64
	cursor uint64
	last   uint64
	done   bool
}

func (it *Iter) Next() (Record, bool) {
	for !it.done {
		var rec Record
		found := false
		it.tree.AscendGreaterOrEqual(Record{key: it.cursor}, func(r Record) bool {
			rec, found = r, true
			return false
		})
		if !found || rec.key > it.last {
			it.Close()
			break
		}
		if inBox(rec.Coord, it.lo, it.hi) {
			it.cursor = rec.key + 1
			return rec, true
		}
		next, ok := nextInBox(rec.Coord, it.lo, it.hi)
		if !ok {
			it.Close()
			break
		}
		it.cursor = it.grid.Linear(next)
	}
	return Record{}, false
}

// Close releases the iterator's snapshot.  It is safe to call more than once.
func (it *Iter) Close() {
	it.done = true
	it.tree = nil
}
