// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package superblock reads and writes the fixed-size header at the start of
// every chunked file.  It locates the catalog; everything else is reached
// from there.
package superblock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dgryski/go-farm"
	"github.com/google/uuid"
)

const (
	// Size is the header size, two cache lines.  Chunk storage starts after it.
	Size = 128

	magic         = 0x4b4e4843 // "CHNK"
	formatVersion = 1

	offMagic      = 0
	offVersion    = 4
	offFileID     = 8
	offCatalogOff = 24
	offCatalogLen = 32
	offGeneration = 40
	offChecksum   = Size - 8
)

var ErrCorrupt = errors.New("corrupt superblock")

type Superblock struct {
	magic         uint32
	formatVersion uint32

	FileID        uuid.UUID
	CatalogOffset uint64
	CatalogLength uint64
	// Generation counts successful flushes.
	Generation uint64
}

func New() (*Superblock, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("uuid.NewRandom: %w", err)
	}
	return &Superblock{
		magic:         magic,
		formatVersion: formatVersion,
		FileID:        id,
	}, nil
}

func (h *Superblock) MarshalTo(buf []byte) error {
	if len(buf) < Size {
		return fmt.Errorf("buf too short: %d < %d", len(buf), Size)
	}
	buf = buf[:Size]
	clear(buf)

	binary.LittleEndian.PutUint32(buf[offMagic:], h.magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], h.formatVersion)
	copy(buf[offFileID:offFileID+16], h.FileID[:])
	binary.LittleEndian.PutUint64(buf[offCatalogOff:], h.CatalogOffset)
	binary.LittleEndian.PutUint64(buf[offCatalogLen:], h.CatalogLength)
	binary.LittleEndian.PutUint64(buf[offGeneration:], h.Generation)
	binary.LittleEndian.PutUint64(buf[offChecksum:], farm.Hash64(buf[:offChecksum]))

	return nil
}

func (h *Superblock) UnmarshalBytes(buf []byte) error {
	if len(buf) < Size {
		return fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(buf))
	}
	buf = buf[:Size]

	h.magic = binary.LittleEndian.Uint32(buf[offMagic:])
	if h.magic != magic {
		return fmt.Errorf("%w: bad magic number (%x) -- not a chunked file or corrupted", ErrCorrupt, h.magic)
	}
	h.formatVersion = binary.LittleEndian.Uint32(buf[offVersion:])
	if h.formatVersion != formatVersion {
		return fmt.Errorf("%w: this version of chunked can only read v%d files; found v%d", ErrCorrupt, formatVersion, h.formatVersion)
	}
	if sum := binary.LittleEndian.Uint64(buf[offChecksum:]); sum != farm.Hash64(buf[:offChecksum]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	copy(h.FileID[:], buf[offFileID:offFileID+16])
	h.CatalogOffset = binary.LittleEndian.Uint64(buf[offCatalogOff:])
	h.CatalogLength = binary.LittleEndian.Uint64(buf[offCatalogLen:])
	h.Generation = binary.LittleEndian.Uint64(buf[offGeneration:])

	return nil
}

// WriteTo writes the encoded header to w.
func (h *Superblock) WriteTo(w io.Writer) (int64, error) {
	var buf [Size]byte
	if err := h.MarshalTo(buf[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(buf[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return Size, nil
}

// UpdateCatalog points the header at a new catalog, bumps the generation and
// rewrites the header at offset 0.  The whole block is rewritten in a single
// call since the checksum covers every field.
func (h *Superblock) UpdateCatalog(off, length uint64, w io.WriterAt) error {
	next := *h
	next.CatalogOffset = off
	next.CatalogLength = length
	next.Generation++

	if _, err := next.WriteTo(io.NewOffsetWriter(w, 0)); err != nil {
		return err
	}
	*h = next

	return nil
}

// Read loads and validates the header at offset 0 of r.
func Read(r io.ReaderAt) (*Superblock, error) {
	var buf [Size]byte
	if n, err := r.ReadAt(buf[:], 0); n != Size {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is %d bytes, shorter than a header", ErrCorrupt, n)
		}
		return nil, fmt.Errorf("r.ReadAt: %w", err)
	}
	var h Superblock
	if err := h.UnmarshalBytes(buf[:]); err != nil {
		return nil, err
	}
	return &h, nil
}
