// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"errors"
	"fmt"
	"math/bits"
)

var ErrGrid = errors.New("invalid chunk grid")

// Grid is the number of chunks along each dimension of a dataset.  Chunk
// coordinates are linearized to keys in row-major order, so the last
// dimension varies fastest and key order matches coordinate order.
type Grid []uint64

// NewGrid returns ceil(shape/chunk) per dimension.
func NewGrid(shape, chunk []uint64) (Grid, error) {
	if len(shape) == 0 || len(shape) != len(chunk) {
		return nil, fmt.Errorf("%w: shape has %d dims, chunk has %d", ErrGrid, len(shape), len(chunk))
	}
	g := make(Grid, len(shape))
	total := uint64(1)
	for i := range shape {
		if shape[i] == 0 || chunk[i] == 0 {
			return nil, fmt.Errorf("%w: zero extent in dimension %d", ErrGrid, i)
		}
		g[i] = shape[i]/chunk[i] + min(shape[i]%chunk[i], 1)
		hi, lo := bits.Mul64(total, g[i])
		if hi != 0 {
			return nil, fmt.Errorf("%w: chunk count overflows uint64", ErrGrid)
		}
		total = lo
	}
	return g, nil
}

// Count returns the total number of chunks in the grid.
func (g Grid) Count() uint64 {
	n := uint64(1)
	for _, d := range g {
		n *= d
	}
	return n
}

// Contains reports whether coord is a valid chunk coordinate.
func (g Grid) Contains(coord []uint64) bool {
	if len(coord) != len(g) {
		return false
	}
	for i, c := range coord {
		if c >= g[i] {
			return false
		}
	}
	return true
}

// Linear returns the row-major key of coord, which must be in the grid.
func (g Grid) Linear(coord []uint64) uint64 {
	var key uint64
	for i, c := range coord {
		key = key*g[i] + c
	}
	return key
}

// Coord is the inverse of Linear.
func (g Grid) Coord(key uint64) []uint64 {
	coord := make([]uint64, len(g))
	for i := len(g) - 1; i >= 0; i-- {
		coord[i] = key % g[i]
		key /= g[i]
	}
	return coord
}

// nextInBox returns the smallest coordinate, in row-major order, that is
// >= c and lies within the inclusive box [lo, hi].
func nextInBox(c, lo, hi []uint64) ([]uint64, bool) {
	out := append([]uint64(nil), c...)
	for i := range out {
		switch {
		case out[i] < lo[i]:
			copy(out[i:], lo[i:])
			return out, true
		case out[i] > hi[i]:
			// carry into the nearest outer dimension with room left
			for j := i - 1; j >= 0; j-- {
				if out[j] < hi[j] {
					out[j]++
					copy(out[j+1:], lo[j+1:])
					return out, true
				}
			}
			return nil, false
		}
	}
	return out, true
}

func inBox(c, lo, hi []uint64) bool {
	for i := range c {
		if c[i] < lo[i] || c[i] > hi[i] {
			return false
		}
	}
	return true
}
