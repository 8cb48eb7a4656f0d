// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package catalog serializes the descriptors of every dataset in a file:
// what is needed to reopen a dataset and find its chunk index.
package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/chunked/internal/codec"
)

const (
	magicCatalog  = 0x54414343 // "CCAT"
	formatVersion = 1

	maxDims = 32
)

var ErrCorrupt = errors.New("corrupt catalog")

// Entry describes one dataset.
type Entry struct {
	Name     string
	Class    uint8
	ElemSize uint32
	Shape    []uint64
	Chunk    []uint64
	Fill     []byte
	Stages   []codec.StageConfig

	// IndexOffset and IndexLength locate the serialized chunk index.  A zero
	// length means the dataset has no chunks.
	IndexOffset uint64
	IndexLength uint64
}

// Marshal encodes entries, in order, followed by a farmhash of everything
// before it.
func Marshal(entries []Entry) ([]byte, error) {
	var e encoder
	e.u32(magicCatalog)
	e.u32(formatVersion)
	e.u32(uint32(len(entries)))
	for i := range entries {
		if err := e.entry(&entries[i]); err != nil {
			return nil, fmt.Errorf("dataset %q: %w", entries[i].Name, err)
		}
	}
	e.buf = binary.LittleEndian.AppendUint64(e.buf, farm.Hash64(e.buf))
	return e.buf, nil
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(data []byte) ([]Entry, error) {
	if len(data) < 12+8 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(data))
	}
	body := data[:len(data)-8]
	if sum := binary.LittleEndian.Uint64(data[len(body):]); sum != farm.Hash64(body) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	d := decoder{buf: body}
	if m := d.u32(); m != magicCatalog {
		return nil, fmt.Errorf("%w: bad magic number (%x)", ErrCorrupt, m)
	}
	if v := d.u32(); v != formatVersion {
		return nil, fmt.Errorf("%w: can only read v%d catalogs; found v%d", ErrCorrupt, formatVersion, v)
	}
	n := d.u32()
	if uint64(n) > uint64(len(body)) {
		return nil, fmt.Errorf("%w: implausible dataset count %d", ErrCorrupt, n)
	}

	entries := make([]Entry, 0, n)
	for i := uint32(0); i < n && d.err == nil; i++ {
		entries = append(entries, d.entry())
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, d.err)
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(d.buf))
	}
	return entries, nil
}

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) entry(ent *Entry) error {
	if len(ent.Shape) != len(ent.Chunk) || len(ent.Shape) > maxDims {
		return fmt.Errorf("bad dimensionality %d/%d", len(ent.Shape), len(ent.Chunk))
	}
	if len(ent.Name) > math.MaxUint16 {
		return fmt.Errorf("name too long")
	}
	if len(ent.Stages) > codec.MaxStages {
		return fmt.Errorf("%d stages", len(ent.Stages))
	}

	e.bytes([]byte(ent.Name))
	e.u8(ent.Class)
	e.u32(ent.ElemSize)
	e.u8(uint8(len(ent.Shape)))
	for _, v := range ent.Shape {
		e.u64(v)
	}
	for _, v := range ent.Chunk {
		e.u64(v)
	}
	e.bytes(ent.Fill)
	e.u8(uint8(len(ent.Stages)))
	for _, s := range ent.Stages {
		e.bytes([]byte(s.Name))
		e.u32(uint32(int32(s.Level)))
		e.u32(uint32(s.ElementSize))
		e.bytes([]byte(s.Algorithm))
	}
	e.u64(ent.IndexOffset)
	e.u64(ent.IndexLength)
	return nil
}

// decoder reads little-endian fields; after the first short read every
// method returns zero values and err is set.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.err = fmt.Errorf("need %d bytes, have %d", n, len(d.buf))
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	if uint64(n) > uint64(len(d.buf)) {
		d.take(len(d.buf) + 1)
		return nil
	}
	return append([]byte(nil), d.take(int(n))...)
}

func (d *decoder) entry() Entry {
	var ent Entry
	ent.Name = string(d.bytes())
	ent.Class = d.u8()
	ent.ElemSize = d.u32()
	ndims := int(d.u8())
	if ndims > maxDims {
		d.err = fmt.Errorf("%d dimensions", ndims)
		return ent
	}
	ent.Shape = make([]uint64, ndims)
	for i := range ent.Shape {
		ent.Shape[i] = d.u64()
	}
	ent.Chunk = make([]uint64, ndims)
	for i := range ent.Chunk {
		ent.Chunk[i] = d.u64()
	}
	if fill := d.bytes(); len(fill) > 0 {
		ent.Fill = fill
	}
	nstages := int(d.u8())
	if nstages > codec.MaxStages {
		d.err = fmt.Errorf("%d stages", nstages)
		return ent
	}
	for i := 0; i < nstages; i++ {
		var s codec.StageConfig
		s.Name = string(d.bytes())
		s.Level = int(int32(d.u32()))
		s.ElementSize = int(d.u32())
		s.Algorithm = string(d.bytes())
		ent.Stages = append(ent.Stages, s)
	}
	ent.IndexOffset = d.u64()
	ent.IndexLength = d.u64()
	return ent
}
