// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHyperslab(t *testing.T) {
	dims := []uint64{10, 20}

	empty, err := checkHyperslab(dims, []uint64{0, 0}, []uint64{10, 20})
	require.NoError(t, err)
	assert.False(t, empty)

	empty, err = checkHyperslab(dims, []uint64{100, 100}, []uint64{0, 5})
	require.NoError(t, err)
	assert.True(t, empty)

	for _, tc := range []struct {
		start, shape []uint64
	}{
		{[]uint64{0}, []uint64{1}},
		{[]uint64{0, 0}, []uint64{1}},
		{[]uint64{0, 0, 0}, []uint64{1, 1, 1}},
		{[]uint64{9, 0}, []uint64{2, 1}},
		{[]uint64{0, 20}, []uint64{1, 1}},
		{[]uint64{0, 1 << 63}, []uint64{1, 1 << 63}},
	} {
		_, err := checkHyperslab(dims, tc.start, tc.shape)
		assert.ErrorIs(t, err, ErrShape, "start %v shape %v", tc.start, tc.shape)
	}
}

func TestChunkSpanAndNextCoord(t *testing.T) {
	lo, hi := chunkSpan([]uint64{3, 3}, []uint64{4, 6}, []uint64{4, 4})
	assert.Equal(t, []uint64{0, 0}, lo)
	assert.Equal(t, []uint64{1, 2}, hi)

	var seen [][]uint64
	c := append([]uint64(nil), lo...)
	for {
		seen = append(seen, append([]uint64(nil), c...))
		if !nextCoord(c, lo, hi) {
			break
		}
	}
	assert.Equal(t, [][]uint64{
		{0, 0}, {0, 1}, {0, 2},
		{1, 0}, {1, 1}, {1, 2},
	}, seen)

	// a single-chunk box is visited once
	c = []uint64{5}
	assert.False(t, nextCoord(c, []uint64{5}, []uint64{5}))
}

func TestIntersect(t *testing.T) {
	chunk := []uint64{4, 4}
	dims := []uint64{10, 10}

	start, shape, covers := intersect([]uint64{0, 0}, chunk, dims, []uint64{3, 3}, []uint64{4, 4})
	assert.Equal(t, []uint64{3, 3}, start)
	assert.Equal(t, []uint64{1, 1}, shape)
	assert.False(t, covers)

	start, shape, covers = intersect([]uint64{1, 1}, chunk, dims, []uint64{0, 0}, []uint64{10, 10})
	assert.Equal(t, []uint64{4, 4}, start)
	assert.Equal(t, []uint64{4, 4}, shape)
	assert.True(t, covers)

	// edge chunks are covered by the in-bounds part alone
	start, shape, covers = intersect([]uint64{2, 2}, chunk, dims, []uint64{8, 8}, []uint64{2, 2})
	assert.Equal(t, []uint64{8, 8}, start)
	assert.Equal(t, []uint64{2, 2}, shape)
	assert.True(t, covers)
}

func TestCopyRegion(t *testing.T) {
	// src is a 4x5 slab at origin (2, 3) holding its own linear index
	src := slab{buf: make([]byte, 20), origin: []uint64{2, 3}, shape: []uint64{4, 5}}
	for i := range src.buf {
		src.buf[i] = byte(i)
	}
	dst := slab{buf: make([]byte, 9), origin: []uint64{3, 4}, shape: []uint64{3, 3}}

	copyRegion(dst, src, []uint64{3, 4}, []uint64{2, 3}, 1)
	assert.Equal(t, []byte{
		6, 7, 8,
		11, 12, 13,
		0, 0, 0,
	}, dst.buf)

	// multi-byte elements keep their bytes together
	src16 := slab{buf: int32s(1, 2, 3, 4), origin: []uint64{0}, shape: []uint64{4}}
	dst16 := slab{buf: make([]byte, 8), origin: []uint64{1}, shape: []uint64{2}}
	copyRegion(dst16, src16, []uint64{1}, []uint64{2}, 4)
	assert.Equal(t, int32s(2, 3), dst16.buf)
}

func TestElementsOverflow(t *testing.T) {
	n, err := elements([]uint64{3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(60), n)

	_, err = elements([]uint64{1 << 32, 1 << 32})
	assert.ErrorIs(t, err, ErrShape)
}
