// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package chunked stores N-dimensional arrays in a single file as
// independently compressed, fixed-shape chunks.  Chunks are allocated on
// first write; a region that was never written reads back as the dataset's
// fill value.
package chunked

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bpowers/chunked/internal/catalog"
	"github.com/bpowers/chunked/internal/index"
	"github.com/bpowers/chunked/internal/store"
	"github.com/bpowers/chunked/internal/superblock"
)

// Backend is the random-access storage a File lives in, usually an *os.File
// wrapped by Create or Open.
type Backend = store.Backend

// MemBackend is an in-memory Backend.
type MemBackend = store.MemBackend

// StoreStats summarizes space usage in a File.
type StoreStats = store.Stats

// NewMemBackend returns an in-memory Backend holding a copy of init.
func NewMemBackend(init []byte) *MemBackend {
	return store.NewMemBackend(init)
}

// File is a set of named datasets sharing one Backend and one Store.
type File struct {
	mu       sync.Mutex
	backend  Backend
	store    *store.Store
	sb       *superblock.Superblock
	datasets map[string]*dataset
	// catalogExtent is where the durable catalog lives
	catalogExtent store.Extent
	catalogDirty  bool

	opts   options
	logger *slog.Logger
	closed atomic.Bool
}

// Create creates or truncates the file at path.
func Create(path string, opts ...Option) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	o := newOptions(opts)
	b, err := store.NewFileBackend(f, o.logger)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store.NewFileBackend: %w", err)
	}
	return NewFile(b, opts...)
}

// Open opens an existing file for reading and writing.
func Open(path string, opts ...Option) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	o := newOptions(opts)
	b, err := store.NewFileBackend(f, o.logger)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store.NewFileBackend: %w", err)
	}
	return OpenBackend(b, opts...)
}

// NewFile initializes an empty file in b, which must have no content that
// needs preserving.  The File takes ownership of b.
func NewFile(b Backend, opts ...Option) (*File, error) {
	o := newOptions(opts)

	sb, err := superblock.New()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("superblock.New: %w", err)
	}
	s, err := store.New(b, superblock.Size, o.logger)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("store.New: %w", err)
	}

	f := &File{
		backend:      b,
		store:        s,
		sb:           sb,
		datasets:     make(map[string]*dataset),
		catalogDirty: true,
		opts:         o,
		logger:       o.logger,
	}

	// commit an empty catalog so the file is valid from the start
	f.mu.Lock()
	err = f.flushLocked()
	f.mu.Unlock()
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	o.logger.Debug("created file", "id", sb.FileID)
	return f, nil
}

// OpenBackend reads an existing file from b.  The File takes ownership of b.
func OpenBackend(b Backend, opts ...Option) (*File, error) {
	f, err := openBackend(b, newOptions(opts))
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return f, nil
}

func openBackend(b Backend, o options) (*File, error) {
	sb, err := superblock.Read(b)
	if err != nil {
		if errors.Is(err, superblock.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
		}
		return nil, fmt.Errorf("%w: superblock.Read: %w", ErrIO, err)
	}
	s, err := store.New(b, superblock.Size, o.logger)
	if err != nil {
		return nil, fmt.Errorf("store.New: %w", err)
	}

	catExtent := store.Extent{Offset: sb.CatalogOffset, Length: sb.CatalogLength}
	catBytes, err := s.ReadAt(catExtent.Offset, catExtent.Length)
	if err != nil {
		return nil, corruptOrIO(fmt.Errorf("reading catalog: %w", err))
	}
	entries, err := catalog.Unmarshal(catBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}

	f := &File{
		backend:       b,
		store:         s,
		sb:            sb,
		datasets:      make(map[string]*dataset, len(entries)),
		catalogExtent: catExtent,
		opts:          o,
		logger:        o.logger,
	}

	live := []store.Extent{catExtent}
	for _, ent := range entries {
		ds, err := f.loadDataset(ent)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", ent.Name, err)
		}
		if _, dup := f.datasets[ent.Name]; dup {
			return nil, fmt.Errorf("%w: dataset %q listed twice", ErrCorruptFile, ent.Name)
		}
		f.datasets[ent.Name] = ds
		live = append(live, ds.extents()...)
	}
	if err := s.Rebuild(live); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}

	o.logger.Debug("opened file", "id", sb.FileID, "generation", sb.Generation, "datasets", len(entries))
	return f, nil
}

func corruptOrIO(err error) error {
	if errors.Is(err, store.ErrBadExtent) {
		return fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	return err
}

func (f *File) loadDataset(ent catalog.Entry) (*dataset, error) {
	cfg := DatasetConfig{
		Datatype: Datatype{Class: Class(ent.Class), Size: int(ent.ElemSize)},
		Shape:    ent.Shape,
		Chunk:    ent.Chunk,
		Fill:     ent.Fill,
		Codecs:   ent.Stages,
	}
	ds, err := newDataset(ent.Name, cfg, f.store, f.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	if ent.IndexLength == 0 {
		return ds, nil
	}

	data, err := f.store.ReadAt(ent.IndexOffset, ent.IndexLength)
	if err != nil {
		return nil, corruptOrIO(fmt.Errorf("reading index: %w", err))
	}
	ix, err := index.Unmarshal(ds.grid, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	ds.index = ix
	ds.indexExtent = store.Extent{Offset: ent.IndexOffset, Length: ent.IndexLength}
	return ds, nil
}

// extents returns every byte range the dataset's durable state references.
func (ds *dataset) extents() []store.Extent {
	var out []store.Extent
	if ds.indexExtent.Length > 0 {
		out = append(out, ds.indexExtent)
	}
	it := ds.index.All()
	defer it.Close()
	for rec, ok := it.Next(); ok; rec, ok = it.Next() {
		out = append(out, store.Extent{Offset: rec.Offset, Length: rec.StoredLen})
	}
	return out
}

// CreateDataset adds a new, empty dataset.  It becomes durable at the next
// Flush.
func (f *File) CreateDataset(name string, cfg DatasetConfig) (*Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed.Load() {
		return nil, ErrClosed
	}
	if _, ok := f.datasets[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}
	ds, err := newDataset(name, cfg, f.store, f.opts)
	if err != nil {
		return nil, err
	}
	f.datasets[name] = ds
	f.catalogDirty = true

	f.logger.Debug("created dataset", "dataset", name, "datatype", ds.cfg.Datatype, "shape", ds.cfg.Shape, "chunk", ds.cfg.Chunk)
	return &Dataset{ds: ds, f: f}, nil
}

// Dataset returns a new handle to the named dataset.
func (f *File) Dataset(name string) (*Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed.Load() {
		return nil, ErrClosed
	}
	ds, ok := f.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return &Dataset{ds: ds, f: f}, nil
}

// Datasets returns the dataset names in sorted order.
func (f *File) Datasets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.datasets))
}

func (f *File) ID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sb.FileID
}

// Generation returns the number of flushes committed to the file.
func (f *File) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sb.Generation
}

func (f *File) Stats() StoreStats {
	return f.store.Stats()
}

// Flush makes every dataset's chunks and index durable.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed.Load() {
		return ErrClosed
	}
	return f.flushLocked()
}

type pendingIndex struct {
	ds      *dataset
	extent  store.Extent
	version uint64
}

func (f *File) flushLocked() error {
	names := slices.Sorted(maps.Keys(f.datasets))

	// writers are excluded for the whole flush so the quarantine released by
	// Commit only holds extents the new catalog no longer references
	for _, name := range names {
		f.datasets[name].mu.RLock()
	}
	defer func() {
		for _, name := range names {
			f.datasets[name].mu.RUnlock()
		}
	}()

	dirty := f.catalogDirty
	for _, name := range names {
		dirty = dirty || f.datasets[name].dirty()
	}
	if !dirty {
		return nil
	}

	var (
		pending []pendingIndex
		written []store.Extent
		release []store.Extent
	)
	abort := func(err error) error {
		for _, e := range written {
			if freeErr := f.store.Free(e.Offset, e.Length); freeErr != nil {
				f.logger.Error("releasing extent after failed flush", "extent", e, "err", freeErr)
			}
		}
		return err
	}

	entries := make([]catalog.Entry, 0, len(names))
	for _, name := range names {
		ds := f.datasets[name]
		ext := ds.indexExtent
		if ds.dirty() {
			ext = store.Extent{}
			if ds.index.Len() > 0 {
				data, err := ds.index.MarshalBinary()
				if err != nil {
					return abort(fmt.Errorf("index.MarshalBinary: %w", err))
				}
				if ext, err = f.writeExtent(data); err != nil {
					return abort(fmt.Errorf("dataset %q index: %w", name, err))
				}
				written = append(written, ext)
			}
			if ds.indexExtent.Length > 0 {
				release = append(release, ds.indexExtent)
			}
			pending = append(pending, pendingIndex{ds: ds, extent: ext, version: ds.version})
		}
		entries = append(entries, catalog.Entry{
			Name:        name,
			Class:       uint8(ds.cfg.Datatype.Class),
			ElemSize:    uint32(ds.cfg.Datatype.Size),
			Shape:       ds.cfg.Shape,
			Chunk:       ds.cfg.Chunk,
			Fill:        ds.cfg.Fill,
			Stages:      ds.cfg.Codecs,
			IndexOffset: ext.Offset,
			IndexLength: ext.Length,
		})
	}

	catBytes, err := catalog.Marshal(entries)
	if err != nil {
		return abort(fmt.Errorf("catalog.Marshal: %w", err))
	}
	catExtent, err := f.writeExtent(catBytes)
	if err != nil {
		return abort(fmt.Errorf("catalog: %w", err))
	}
	written = append(written, catExtent)

	if err := f.store.Sync(); err != nil {
		return abort(err)
	}
	if err := f.sb.UpdateCatalog(catExtent.Offset, catExtent.Length, f.backend); err != nil {
		return abort(fmt.Errorf("%w: superblock: %w", ErrIO, err))
	}
	// the new superblock may or may not be on disk; nothing written above is
	// safe to reuse now
	if err := f.store.Sync(); err != nil {
		return err
	}

	if f.catalogExtent.Length > 0 {
		release = append(release, f.catalogExtent)
	}
	for _, e := range release {
		if err := f.store.Free(e.Offset, e.Length); err != nil {
			f.logger.Error("releasing superseded metadata", "extent", e, "err", err)
		}
	}
	f.store.Commit()

	f.catalogExtent = catExtent
	f.catalogDirty = false
	for _, p := range pending {
		p.ds.indexExtent = p.extent
		p.ds.flushed = p.version
	}

	f.logger.Debug("flush committed", "generation", f.sb.Generation, "datasets", len(names), "catalog", catExtent)
	return nil
}

func (f *File) writeExtent(data []byte) (store.Extent, error) {
	off, err := f.store.Allocate(uint64(len(data)))
	if err != nil {
		return store.Extent{}, fmt.Errorf("store.Allocate: %w", err)
	}
	ext := store.Extent{Offset: off, Length: uint64(len(data))}
	if err := f.store.WriteAt(off, data); err != nil {
		_ = f.store.Free(off, ext.Length)
		return store.Extent{}, fmt.Errorf("store.WriteAt: %w", err)
	}
	return ext, nil
}

// Check validates the store's extent bookkeeping and decodes every stored
// chunk of every dataset.  All problems found are joined in the result.
func (f *File) Check() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed.Load() {
		return ErrClosed
	}

	var errs []error
	if err := f.store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	live := make(map[store.Extent]bool)
	for _, e := range f.store.Live() {
		live[e] = true
	}
	if f.catalogExtent.Length > 0 && !live[f.catalogExtent] {
		errs = append(errs, fmt.Errorf("catalog extent %s is not live", f.catalogExtent))
	}

	for _, name := range slices.Sorted(maps.Keys(f.datasets)) {
		ds := f.datasets[name]
		ds.mu.RLock()
		if ds.indexExtent.Length > 0 && !live[ds.indexExtent] {
			errs = append(errs, fmt.Errorf("dataset %q: index extent %s is not live", name, ds.indexExtent))
		}
		it := ds.index.All()
		for rec, ok := it.Next(); ok; rec, ok = it.Next() {
			e := store.Extent{Offset: rec.Offset, Length: rec.StoredLen}
			if !live[e] {
				errs = append(errs, ds.chunkError(rec.Coord, nil, nil, fmt.Errorf("extent %s is not live", e)))
				continue
			}
			if _, err := ds.load(rec); err != nil {
				errs = append(errs, ds.chunkError(rec.Coord, ds.chunkOrigin(rec.Coord), ds.cfg.Chunk, err))
			}
		}
		it.Close()
		ds.mu.RUnlock()
	}

	return errors.Join(errs...)
}

// Close flushes and closes the file.  It is safe to call more than once.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if alreadyClosed := f.closed.Swap(true); alreadyClosed {
		// nothing to do - already cleaned up
		return nil
	}

	flushErr := f.flushLocked()
	for _, ds := range f.datasets {
		ds.mu.Lock()
		ds.closed = true
		ds.pipeline.Close()
		ds.mu.Unlock()
	}
	closeErr := f.store.Close()

	return errors.Join(flushErr, closeErr)
}
