// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bpowers/chunked/internal/codec"
	"github.com/bpowers/chunked/internal/fill"
	"github.com/bpowers/chunked/internal/index"
	"github.com/bpowers/chunked/internal/store"
)

const maxDims = 32

// StageConfig configures one codec stage; see DatasetConfig.Codecs.
type StageConfig = codec.StageConfig

// FilterMask records which codec stages were skipped for a chunk.
type FilterMask = codec.Mask

// DatasetConfig describes a dataset at creation time.
type DatasetConfig struct {
	Datatype Datatype `mapstructure:"datatype" yaml:"datatype"`
	Shape    []uint64 `mapstructure:"shape" yaml:"shape"`
	Chunk    []uint64 `mapstructure:"chunk" yaml:"chunk"`
	// Fill is the value of every never-written element, exactly
	// Datatype.Size bytes.  Nil means all zero bytes.
	Fill   []byte        `mapstructure:"-" yaml:"-"`
	Codecs []StageConfig `mapstructure:"codecs" yaml:"codecs"`
}

// ChunkInfo describes one stored chunk.
type ChunkInfo struct {
	Coord     []uint64
	Offset    uint64
	StoredLen uint64
	RawLen    uint64
	Mask      FilterMask
}

// DatasetInfo summarizes a dataset and its stored chunks.
type DatasetInfo struct {
	Name        string
	Datatype    Datatype
	Shape       []uint64
	Chunk       []uint64
	Grid        []uint64
	Fill        []byte
	Codecs      []StageConfig
	Chunks      int
	StoredBytes uint64
	RawBytes    uint64
}

// dataset is the state shared by every handle to one dataset in a File.
type dataset struct {
	mu sync.RWMutex

	name       string
	cfg        DatasetConfig
	grid       index.Grid
	chunkBytes int
	pipeline   *codec.Pipeline
	index      *index.Index
	store      *store.Store
	metrics    *Metrics
	logger     *slog.Logger

	// version counts index mutations; flushed is the version last made
	// durable, at indexExtent
	version     uint64
	flushed     uint64
	indexExtent store.Extent
	closed      bool
}

func newDataset(name string, cfg DatasetConfig, s *store.Store, o options) (*dataset, error) {
	if name == "" || len(name) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: invalid dataset name %q", ErrConfig, name)
	}
	if err := cfg.Datatype.Valid(); err != nil {
		return nil, err
	}
	if len(cfg.Shape) == 0 || len(cfg.Shape) > maxDims || len(cfg.Chunk) != len(cfg.Shape) {
		return nil, fmt.Errorf("%w: shape %v with chunk shape %v", ErrShape, cfg.Shape, cfg.Chunk)
	}
	grid, err := index.NewGrid(cfg.Shape, cfg.Chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShape, err)
	}
	elems, err := elements(cfg.Chunk)
	if err != nil {
		return nil, err
	}
	hi, chunkBytes := bits.Mul64(elems, uint64(cfg.Datatype.Size))
	if hi != 0 || chunkBytes > math.MaxInt {
		return nil, fmt.Errorf("%w: chunk %v of %s is too large", ErrShape, cfg.Chunk, cfg.Datatype)
	}

	if cfg.Fill != nil && len(cfg.Fill) != cfg.Datatype.Size {
		return nil, fmt.Errorf("%w: fill value is %d bytes, %s needs %d", ErrConfig, len(cfg.Fill), cfg.Datatype, cfg.Datatype.Size)
	}
	if fill.IsZero(cfg.Fill) {
		cfg.Fill = nil
	}

	pipeline, err := codec.New(cfg.Codecs, cfg.Datatype.Size)
	if err != nil {
		return nil, err
	}

	cfg.Shape = slices.Clone(cfg.Shape)
	cfg.Chunk = slices.Clone(cfg.Chunk)
	cfg.Fill = slices.Clone(cfg.Fill)
	cfg.Codecs = slices.Clone(cfg.Codecs)

	return &dataset{
		name:       name,
		cfg:        cfg,
		grid:       grid,
		chunkBytes: int(chunkBytes),
		pipeline:   pipeline,
		index:      index.New(grid),
		store:      s,
		metrics:    o.metrics,
		logger:     o.logger.With("dataset", name),
	}, nil
}

func (ds *dataset) dirty() bool {
	return ds.version != ds.flushed
}

func (ds *dataset) chunkError(coord, start, shape []uint64, err error) *ChunkError {
	return &ChunkError{
		Dataset: ds.name,
		Coord:   slices.Clone(coord),
		Start:   start,
		Shape:   shape,
		Err:     err,
	}
}

// load fetches and decodes a stored chunk.
func (ds *dataset) load(rec index.Record) ([]byte, error) {
	if rec.RawLen != uint64(ds.chunkBytes) {
		return nil, fmt.Errorf("%w: record raw length %d, chunk is %d bytes", ErrCodec, rec.RawLen, ds.chunkBytes)
	}
	stored, err := ds.store.ReadAt(rec.Offset, rec.StoredLen)
	if err != nil {
		return nil, fmt.Errorf("store.ReadAt: %w", err)
	}
	raw, err := ds.pipeline.Decode(stored, rec.Mask, ds.chunkBytes)
	if err != nil {
		ds.metrics.decodeFailure(ds.name)
		return nil, fmt.Errorf("pipeline.Decode: %w", err)
	}
	ds.metrics.chunkRead(ds.name)
	return raw, nil
}

func (ds *dataset) chunkOrigin(coord []uint64) []uint64 {
	origin := make([]uint64, len(coord))
	for i := range coord {
		origin[i] = coord[i] * ds.cfg.Chunk[i]
	}
	return origin
}

func (ds *dataset) write(start, shape []uint64, data []byte) error {
	empty, err := checkHyperslab(ds.cfg.Shape, start, shape)
	if err != nil {
		return err
	}
	n, err := elements(shape)
	if err != nil {
		return err
	}
	over, total := bits.Mul64(n, uint64(ds.cfg.Datatype.Size))
	if over != 0 || total > math.MaxInt {
		return fmt.Errorf("%w: request %v is too large", ErrShape, shape)
	}
	if !empty && uint64(len(data)) != total {
		return fmt.Errorf("%w: %d bytes of data for %v elements of %s", ErrShape, len(data), shape, ds.cfg.Datatype)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return ErrClosed
	}
	if empty {
		return nil
	}

	req := slab{buf: data, origin: start, shape: shape}
	lo, hi := chunkSpan(start, shape, ds.cfg.Chunk)
	coord := slices.Clone(lo)
	for {
		regionStart, regionShape, covers := intersect(coord, ds.cfg.Chunk, ds.cfg.Shape, start, shape)
		if err := ds.writeChunk(coord, req, regionStart, regionShape, covers); err != nil {
			return ds.chunkError(coord, regionStart, regionShape, err)
		}
		if !nextCoord(coord, lo, hi) {
			break
		}
	}
	return nil
}

// writeChunk merges the region from req into chunk coord and stores the
// result in a new extent.  On failure the previous record is left in place.
func (ds *dataset) writeChunk(coord []uint64, req slab, regionStart, regionShape []uint64, covers bool) error {
	var buf []byte
	rec, exists := ds.index.Lookup(coord)
	if exists && !covers {
		var err error
		if buf, err = ds.load(rec); err != nil {
			return err
		}
	} else {
		buf = fill.New(ds.chunkBytes, ds.cfg.Fill)
	}

	chunk := slab{buf: buf, origin: ds.chunkOrigin(coord), shape: ds.cfg.Chunk}
	copyRegion(chunk, req, regionStart, regionShape, uint64(ds.cfg.Datatype.Size))

	stored, mask := buf, codec.Mask(0)
	if !ds.pipeline.Empty() {
		var err error
		if stored, mask, err = ds.pipeline.Encode(buf); err != nil {
			return fmt.Errorf("pipeline.Encode: %w", err)
		}
	}
	off, err := ds.store.Allocate(uint64(len(stored)))
	if err != nil {
		return fmt.Errorf("store.Allocate: %w", err)
	}
	if err := ds.store.WriteAt(off, stored); err != nil {
		if freeErr := ds.store.Free(off, uint64(len(stored))); freeErr != nil {
			ds.logger.Error("releasing failed chunk extent", "offset", off, "err", freeErr)
		}
		return fmt.Errorf("store.WriteAt: %w", err)
	}

	old, replaced := ds.index.InsertOrReplace(index.Record{
		Coord:     coord,
		Offset:    off,
		StoredLen: uint64(len(stored)),
		RawLen:    uint64(len(buf)),
		Mask:      mask,
	})
	ds.version++
	if replaced {
		// the new record is in place; a leaked extent is recovered on reopen
		if err := ds.store.Free(old.Offset, old.StoredLen); err != nil {
			ds.logger.Error("releasing superseded chunk extent", "offset", old.Offset, "err", err)
		}
	}

	ds.metrics.chunkWritten(ds.name, len(stored), bits.OnesCount32(uint32(mask)))
	return nil
}

func (ds *dataset) read(start, shape []uint64) ([]byte, error) {
	empty, err := checkHyperslab(ds.cfg.Shape, start, shape)
	if err != nil {
		return nil, err
	}
	n, err := elements(shape)
	if err != nil {
		return nil, err
	}
	elemSize := uint64(ds.cfg.Datatype.Size)
	hi, total := bits.Mul64(n, elemSize)
	if hi != 0 || total > math.MaxInt {
		return nil, fmt.Errorf("%w: request %v is too large", ErrShape, shape)
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.closed {
		return nil, ErrClosed
	}
	if empty {
		return []byte{}, nil
	}

	// never-written chunks read as the fill value, so start from it
	out := slab{buf: fill.New(int(total), ds.cfg.Fill), origin: start, shape: shape}

	lo, hiCoord := chunkSpan(start, shape, ds.cfg.Chunk)
	touched := uint64(1)
	for i := range lo {
		touched *= hiCoord[i] - lo[i] + 1
	}

	var errs []error
	present := uint64(0)
	it := ds.index.Iterate(lo, hiCoord)
	defer it.Close()
	for rec, ok := it.Next(); ok; rec, ok = it.Next() {
		present++
		regionStart, regionShape, _ := intersect(rec.Coord, ds.cfg.Chunk, ds.cfg.Shape, start, shape)
		raw, err := ds.load(rec)
		if err != nil {
			errs = append(errs, ds.chunkError(rec.Coord, regionStart, regionShape, err))
			continue
		}
		chunk := slab{buf: raw, origin: ds.chunkOrigin(rec.Coord), shape: ds.cfg.Chunk}
		copyRegion(out, chunk, regionStart, regionShape, elemSize)
	}
	for i := present; i < touched; i++ {
		ds.metrics.absentFill(ds.name)
	}

	return out.buf, errors.Join(errs...)
}

func toChunkInfo(rec index.Record) ChunkInfo {
	return ChunkInfo{
		Coord:     slices.Clone(rec.Coord),
		Offset:    rec.Offset,
		StoredLen: rec.StoredLen,
		RawLen:    rec.RawLen,
		Mask:      rec.Mask,
	}
}

// Dataset is a handle to a chunked N-dimensional array in a File.  It is
// safe for concurrent use: reads proceed in parallel, writes are exclusive.
type Dataset struct {
	ds     *dataset
	f      *File
	closed atomic.Bool
}

// state returns the shared dataset unless this handle or the file has been
// closed.
func (d *Dataset) state() (*dataset, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.ds.mu.RLock()
	closed := d.ds.closed
	d.ds.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return d.ds, nil
}

func (d *Dataset) Name() string {
	return d.ds.name
}

func (d *Dataset) Datatype() Datatype {
	return d.ds.cfg.Datatype
}

func (d *Dataset) Shape() []uint64 {
	return slices.Clone(d.ds.cfg.Shape)
}

func (d *Dataset) ChunkShape() []uint64 {
	return slices.Clone(d.ds.cfg.Chunk)
}

// Fill returns the fill value, Datatype().Size bytes.
func (d *Dataset) Fill() []byte {
	if d.ds.cfg.Fill == nil {
		return make([]byte, d.ds.cfg.Datatype.Size)
	}
	return slices.Clone(d.ds.cfg.Fill)
}

// WriteHyperslab stores data, the row-major elements of the box
// [start, start+shape).  It stops at the first chunk that fails, returning a
// *ChunkError; chunks before it stay written.
func (d *Dataset) WriteHyperslab(start, shape []uint64, data []byte) error {
	ds, err := d.state()
	if err != nil {
		return err
	}
	return ds.write(start, shape, data)
}

// ReadHyperslab returns the row-major elements of the box [start,
// start+shape).  Chunks that fail to load are reported as *ChunkErrors joined
// into the returned error; the rest of the data is still returned, with the
// failed regions holding the fill value.
func (d *Dataset) ReadHyperslab(start, shape []uint64) ([]byte, error) {
	ds, err := d.state()
	if err != nil {
		return nil, err
	}
	return ds.read(start, shape)
}

// ChunkInfo returns the record for the chunk at coord, in chunk-grid units.
func (d *Dataset) ChunkInfo(coord []uint64) (ChunkInfo, bool) {
	ds, err := d.state()
	if err != nil {
		return ChunkInfo{}, false
	}
	rec, ok := ds.index.Lookup(coord)
	if !ok {
		return ChunkInfo{}, false
	}
	return toChunkInfo(rec), true
}

// Chunks iterates over the stored chunks whose coordinates lie in the
// inclusive box [lo, hi], in row-major order, over a snapshot of the index.
func (d *Dataset) Chunks(lo, hi []uint64) (*ChunkIter, error) {
	ds, err := d.state()
	if err != nil {
		return nil, err
	}
	if len(lo) != len(ds.grid) || len(hi) != len(ds.grid) {
		return nil, fmt.Errorf("%w: chunk range has %d/%d dims, dataset has %d", ErrShape, len(lo), len(hi), len(ds.grid))
	}
	return &ChunkIter{it: ds.index.Iterate(lo, hi)}, nil
}

func (d *Dataset) Info() (DatasetInfo, error) {
	ds, err := d.state()
	if err != nil {
		return DatasetInfo{}, err
	}
	info := DatasetInfo{
		Name:     ds.name,
		Datatype: ds.cfg.Datatype,
		Shape:    slices.Clone(ds.cfg.Shape),
		Chunk:    slices.Clone(ds.cfg.Chunk),
		Grid:     ds.index.Grid(),
		Fill:     d.Fill(),
		Codecs:   ds.pipeline.Configs(),
	}
	it := ds.index.All()
	defer it.Close()
	for rec, ok := it.Next(); ok; rec, ok = it.Next() {
		info.Chunks++
		info.StoredBytes += rec.StoredLen
		info.RawBytes += rec.RawLen
	}
	return info, nil
}

// Flush makes every dataset in the file durable, not just this one.
func (d *Dataset) Flush() error {
	if _, err := d.state(); err != nil {
		return err
	}
	return d.f.Flush()
}

// Close detaches the handle.  Written data stays in the file and is made
// durable by the next Flush or File.Close.
func (d *Dataset) Close() error {
	d.closed.Store(true)
	return nil
}

// ChunkIter is a finite iterator over stored chunks.
type ChunkIter struct {
	it *index.Iter
}

func (c *ChunkIter) Next() (ChunkInfo, bool) {
	rec, ok := c.it.Next()
	if !ok {
		return ChunkInfo{}, false
	}
	return toChunkInfo(rec), true
}

func (c *ChunkIter) Close() {
	c.it.Close()
}
