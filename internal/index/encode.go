// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/chunked/internal/codec"
)

const (
	magicIndex    = 0x58444943 // "CIDX"
	formatVersion = 1

	headerSize = 4 + 4 + 4 + 4 + 8 // magic + version + ndims + reserved + count
	entrySize  = 8 + 8 + 8 + 8 + 4 // key + offset + stored + raw + mask
	footerSize = 8
)

var ErrCorrupt = errors.New("corrupt chunk index")

// MarshalBinary serializes every record, in key order, followed by a
// farmhash of the preceding bytes.
func (ix *Index) MarshalBinary() ([]byte, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	buf := make([]byte, headerSize, headerSize+ix.tree.Len()*entrySize+footerSize)
	binary.LittleEndian.PutUint32(buf[0:4], magicIndex)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(ix.grid)))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(ix.tree.Len()))

	ix.tree.Ascend(func(r Record) bool {
		buf = binary.LittleEndian.AppendUint64(buf, r.key)
		buf = binary.LittleEndian.AppendUint64(buf, r.Offset)
		buf = binary.LittleEndian.AppendUint64(buf, r.StoredLen)
		buf = binary.LittleEndian.AppendUint64(buf, r.RawLen)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Mask))
		return true
	})
	buf = binary.LittleEndian.AppendUint64(buf, farm.Hash64(buf))

	return buf, nil
}

// Unmarshal rebuilds an Index over grid from the output of MarshalBinary.
func Unmarshal(grid Grid, data []byte) (*Index, error) {
	if len(data) < headerSize+footerSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(data))
	}
	body := data[:len(data)-footerSize]
	if sum := binary.LittleEndian.Uint64(data[len(body):]); sum != farm.Hash64(body) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if magic := binary.LittleEndian.Uint32(body[0:4]); magic != magicIndex {
		return nil, fmt.Errorf("%w: bad magic number (%x)", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint32(body[4:8]); v != formatVersion {
		return nil, fmt.Errorf("%w: can only read v%d indexes; found v%d", ErrCorrupt, formatVersion, v)
	}
	if ndims := binary.LittleEndian.Uint32(body[8:12]); int(ndims) != len(grid) {
		return nil, fmt.Errorf("%w: index has %d dims, dataset has %d", ErrCorrupt, ndims, len(grid))
	}
	count := binary.LittleEndian.Uint64(body[16:24])
	entries := body[headerSize:]
	if uint64(len(entries))%entrySize != 0 || uint64(len(entries))/entrySize != count {
		return nil, fmt.Errorf("%w: %d entry bytes for %d records", ErrCorrupt, len(entries), count)
	}

	ix := New(grid)
	total := grid.Count()
	var prev uint64
	for i := uint64(0); i < count; i++ {
		e := entries[i*entrySize : (i+1)*entrySize]
		key := binary.LittleEndian.Uint64(e[0:8])
		if key >= total || (i > 0 && key <= prev) {
			return nil, fmt.Errorf("%w: record %d has out-of-order key %d", ErrCorrupt, i, key)
		}
		prev = key
		rec := Record{
			Coord:     grid.Coord(key),
			Offset:    binary.LittleEndian.Uint64(e[8:16]),
			StoredLen: binary.LittleEndian.Uint64(e[16:24]),
			RawLen:    binary.LittleEndian.Uint64(e[24:32]),
			Mask:      codec.Mask(binary.LittleEndian.Uint32(e[32:36])),
			key:       key,
		}
		ix.tree.ReplaceOrInsert(rec)
	}

	return ix, nil
}
