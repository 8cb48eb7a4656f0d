// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package store allocates variable-length byte ranges for chunk payloads
// within a single Backend, reusing freed space best-fit before growing it.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/btree"
)

const freeListDegree = 16

var (
	// ErrIO wraps every failure of the underlying Backend.
	ErrIO = errors.New("storage I/O error")
	// ErrBadExtent is returned when a Free, Rebuild or write names a range
	// that isn't what the store believes it to be.
	ErrBadExtent = errors.New("bad extent")
)

// Extent is a byte range [Offset, Offset+Length) in the backend.
type Extent struct {
	Offset uint64
	Length uint64
}

func (e Extent) End() uint64 {
	return e.Offset + e.Length
}

func (e Extent) Overlaps(o Extent) bool {
	return e.Offset < o.End() && o.Offset < e.End()
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d, %d)", e.Offset, e.End())
}

func lessBySize(a, b Extent) bool {
	if a.Length != b.Length {
		return a.Length < b.Length
	}
	return a.Offset < b.Offset
}

func lessByOffset(a, b Extent) bool {
	return a.Offset < b.Offset
}

// Stats is a point-in-time summary of a Store.
type Stats struct {
	Size             uint64
	LiveExtents      int
	LiveBytes        uint64
	FreeExtents      int
	FreeBytes        uint64
	QuarantinedBytes uint64
	Allocations      uint64
	Frees            uint64
	Extends          uint64
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	b      Backend
	base   uint64
	eof    uint64
	logger *slog.Logger

	bySize   *btree.BTreeG[Extent]
	byOffset *btree.BTreeG[Extent]
	// live maps offset to length and whether the extent is part of the last
	// committed state
	live       map[uint64]liveExtent
	quarantine []Extent

	allocations uint64
	frees       uint64
	extends     uint64
}

type liveExtent struct {
	length    uint64
	committed bool
}

// New returns a Store that allocates from [base, EOF) of b.  Space already in
// the backend past base is considered free until Rebuild says otherwise.
func New(b Backend, base uint64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = discardLogger()
	}
	size, err := b.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: Size: %w", ErrIO, err)
	}
	if uint64(size) < base {
		if size, err = b.Extend(int64(base) - size); err != nil {
			return nil, fmt.Errorf("%w: Extend: %w", ErrIO, err)
		}
	}

	s := &Store{
		b:        b,
		base:     base,
		eof:      uint64(size),
		logger:   logger,
		bySize:   btree.NewG[Extent](freeListDegree, lessBySize),
		byOffset: btree.NewG[Extent](freeListDegree, lessByOffset),
		live:     make(map[uint64]liveExtent),
	}
	if s.eof > base {
		s.insertFree(Extent{Offset: base, Length: s.eof - base})
	}
	return s, nil
}

// Base returns the first allocatable offset.
func (s *Store) Base() uint64 {
	return s.base
}

// Allocate reserves size bytes and returns their offset.  The smallest free
// range that fits is used, the lowest offset winning ties; if none fits the
// backend is extended.
func (s *Store) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: zero-length allocation", ErrBadExtent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found Extent
	ok := false
	s.bySize.AscendGreaterOrEqual(Extent{Length: size}, func(e Extent) bool {
		found, ok = e, true
		return false
	})

	if !ok {
		// grow, reusing a free range at the tail if there is one
		start := s.eof
		if tail, hasTail := s.byOffset.Max(); hasTail && tail.End() == s.eof {
			s.removeFree(tail)
			start = tail.Offset
		}
		need := start + size - s.eof
		newLen, err := s.b.Extend(int64(need))
		if err != nil {
			if start != s.eof {
				s.insertFree(Extent{Offset: start, Length: s.eof - start})
			}
			return 0, fmt.Errorf("%w: Extend(%d): %w", ErrIO, need, err)
		}
		s.logger.Debug("store grew", "by", need, "size", newLen)
		s.extends++
		s.eof = uint64(newLen)
		found = Extent{Offset: start, Length: s.eof - start}
	} else {
		s.removeFree(found)
	}

	if found.Length > size {
		s.insertFree(Extent{Offset: found.Offset + size, Length: found.Length - size})
	}
	s.live[found.Offset] = liveExtent{length: size}
	s.allocations++

	return found.Offset, nil
}

// Free releases a range previously returned by Allocate (or registered by
// Rebuild).  Ranges from the current epoch are reusable immediately; ranges
// that are part of the committed state become reusable after Commit.
func (s *Store) Free(offset, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	le, ok := s.live[offset]
	if !ok || le.length != size {
		return fmt.Errorf("%w: free of %s does not match a live extent", ErrBadExtent, Extent{offset, size})
	}
	delete(s.live, offset)
	s.frees++

	e := Extent{Offset: offset, Length: size}
	if le.committed {
		s.quarantine = append(s.quarantine, e)
	} else {
		s.insertFree(e)
	}
	return nil
}

// Commit marks every live extent as committed and releases the quarantine.
// Call it once the metadata referencing the current live set is durable.
func (s *Store) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for off, le := range s.live {
		if !le.committed {
			le.committed = true
			s.live[off] = le
		}
	}
	for _, e := range s.quarantine {
		s.insertFree(e)
	}
	s.quarantine = s.quarantine[:0]
}

// Rebuild replaces the store's view with live as the committed extents and
// every gap in [base, EOF) as free space.
func (s *Store) Rebuild(live []Extent) error {
	sorted := slices.Clone(live)
	slices.SortFunc(sorted, func(a, b Extent) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	cursor := s.base
	for _, e := range sorted {
		if e.Length == 0 || e.Offset < s.base || e.End() > s.eof || e.End() < e.Offset {
			return fmt.Errorf("%w: %s outside [%d, %d)", ErrBadExtent, e, s.base, s.eof)
		}
		if e.Offset < cursor {
			return fmt.Errorf("%w: %s overlaps another live extent", ErrBadExtent, e)
		}
		cursor = e.End()
	}

	s.bySize.Clear(false)
	s.byOffset.Clear(false)
	s.quarantine = nil
	s.live = make(map[uint64]liveExtent, len(sorted))

	cursor = s.base
	for _, e := range sorted {
		if e.Offset > cursor {
			s.insertFree(Extent{Offset: cursor, Length: e.Offset - cursor})
		}
		s.live[e.Offset] = liveExtent{length: e.Length, committed: true}
		cursor = e.End()
	}
	if s.eof > cursor {
		s.insertFree(Extent{Offset: cursor, Length: s.eof - cursor})
	}

	s.logger.Debug("store rebuilt", "live", len(sorted), "free", s.byOffset.Len(), "size", s.eof)
	return nil
}

// ReadAt reads size bytes at offset.
func (s *Store) ReadAt(offset, size uint64) ([]byte, error) {
	if err := s.checkRange(offset, size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := s.b.ReadAt(buf, int64(offset))
	if n == len(buf) {
		// io.ReaderAt may return io.EOF alongside a full read
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("%w: ReadAt(%d, %d): %w", ErrIO, offset, size, err)
}

// WriteAt writes p at offset.  The range must lie within the backend.
func (s *Store) WriteAt(offset uint64, p []byte) error {
	if err := s.checkRange(offset, uint64(len(p))); err != nil {
		return err
	}
	if _, err := s.b.WriteAt(p, int64(offset)); err != nil {
		return fmt.Errorf("%w: WriteAt(%d, %d): %w", ErrIO, offset, len(p), err)
	}
	return nil
}

func (s *Store) checkRange(offset, size uint64) error {
	s.mu.Lock()
	eof := s.eof
	s.mu.Unlock()
	if offset+size < offset || offset+size > eof {
		return fmt.Errorf("%w: %s beyond end of store (%d)", ErrBadExtent, Extent{offset, size}, eof)
	}
	return nil
}

// Sync flushes the backend to stable storage.
func (s *Store) Sync() error {
	if err := s.b.Sync(); err != nil {
		return fmt.Errorf("%w: Sync: %w", ErrIO, err)
	}
	return nil
}

// Live returns the live extents in offset order.
func (s *Store) Live() []Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked()
}

func (s *Store) liveLocked() []Extent {
	out := make([]Extent, 0, len(s.live))
	for off, le := range s.live {
		out = append(out, Extent{Offset: off, Length: le.length})
	}
	slices.SortFunc(out, func(a, b Extent) int {
		if a.Offset < b.Offset {
			return -1
		}
		return 1
	})
	return out
}

// FreeExtents returns the reusable free ranges in offset order.  Quarantined
// ranges are not included.
func (s *Store) FreeExtents() []Extent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Extent, 0, s.byOffset.Len())
	s.byOffset.Ascend(func(e Extent) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:        s.eof,
		LiveExtents: len(s.live),
		FreeExtents: s.byOffset.Len(),
		Allocations: s.allocations,
		Frees:       s.frees,
		Extends:     s.extends,
	}
	for _, le := range s.live {
		st.LiveBytes += le.length
	}
	s.byOffset.Ascend(func(e Extent) bool {
		st.FreeBytes += e.Length
		return true
	})
	for _, e := range s.quarantine {
		st.QuarantinedBytes += e.Length
	}
	return st
}

// Validate checks that no live, free or quarantined extents overlap and that
// all of them lie within [base, EOF).
func (s *Store) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bySize.Len() != s.byOffset.Len() {
		return fmt.Errorf("free list views disagree: %d by size, %d by offset", s.bySize.Len(), s.byOffset.Len())
	}

	type tagged struct {
		Extent
		kind string
	}
	all := make([]tagged, 0, len(s.live)+s.byOffset.Len()+len(s.quarantine))
	for _, e := range s.liveLocked() {
		all = append(all, tagged{e, "live"})
	}
	s.byOffset.Ascend(func(e Extent) bool {
		all = append(all, tagged{e, "free"})
		return true
	})
	for _, e := range s.quarantine {
		all = append(all, tagged{e, "quarantined"})
	}
	slices.SortFunc(all, func(a, b tagged) int {
		if a.Offset < b.Offset {
			return -1
		} else if a.Offset > b.Offset {
			return 1
		}
		return 0
	})

	var errs []error
	for i, e := range all {
		if e.Length == 0 {
			errs = append(errs, fmt.Errorf("empty %s extent at %d", e.kind, e.Offset))
		}
		if e.Offset < s.base || e.End() > s.eof {
			errs = append(errs, fmt.Errorf("%s extent %s outside [%d, %d)", e.kind, e.Extent, s.base, s.eof))
		}
		if i > 0 && all[i-1].End() > e.Offset {
			errs = append(errs, fmt.Errorf("%s extent %s overlaps %s extent %s", all[i-1].kind, all[i-1].Extent, e.kind, e.Extent))
		}
	}
	return errors.Join(errs...)
}

// Close closes the backend.
func (s *Store) Close() error {
	if err := s.b.Close(); err != nil {
		return fmt.Errorf("%w: Close: %w", ErrIO, err)
	}
	return nil
}

// insertFree adds e to the free list, merging it with adjacent free ranges.
func (s *Store) insertFree(e Extent) {
	var prev Extent
	hasPrev := false
	s.byOffset.DescendLessOrEqual(Extent{Offset: e.Offset}, func(p Extent) bool {
		prev, hasPrev = p, true
		return false
	})
	if hasPrev && prev.End() == e.Offset {
		s.removeFree(prev)
		e = Extent{Offset: prev.Offset, Length: prev.Length + e.Length}
	}

	if next, ok := s.byOffset.Get(Extent{Offset: e.End()}); ok {
		s.removeFree(next)
		e.Length += next.Length
	}

	s.bySize.ReplaceOrInsert(e)
	s.byOffset.ReplaceOrInsert(e)
}

func (s *Store) removeFree(e Extent) {
	s.bySize.Delete(e)
	s.byOffset.Delete(e)
}
