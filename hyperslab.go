// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
)

// slab is a row-major buffer covering the box [origin, origin+shape) of a
// dataset, in element coordinates.
type slab struct {
	buf    []byte
	origin []uint64
	shape  []uint64
}

// elements returns the product of shape, or an error if it overflows an int.
func elements(shape []uint64) (uint64, error) {
	n := uint64(1)
	for _, d := range shape {
		hi, lo := bits.Mul64(n, d)
		if hi != 0 || lo > math.MaxInt {
			return 0, fmt.Errorf("%w: %v elements overflow", ErrShape, shape)
		}
		n = lo
	}
	return n, nil
}

// checkHyperslab validates a request against dims.  empty is true when any
// dimension of shape is zero, which makes the request a no-op.
func checkHyperslab(dims, start, shape []uint64) (empty bool, err error) {
	if len(start) != len(dims) || len(shape) != len(dims) {
		return false, fmt.Errorf("%w: request has %d/%d dims, dataset has %d", ErrShape, len(start), len(shape), len(dims))
	}
	if slices.Contains(shape, 0) {
		return true, nil
	}
	for i := range dims {
		end := start[i] + shape[i]
		if end < start[i] || end > dims[i] {
			return false, fmt.Errorf("%w: dimension %d: [%d, %d+%d) exceeds extent %d", ErrShape, i, start[i], start[i], shape[i], dims[i])
		}
	}
	return false, nil
}

// chunkSpan returns the inclusive box of chunk coordinates a non-empty
// hyperslab touches.
func chunkSpan(start, shape, chunk []uint64) (lo, hi []uint64) {
	lo = make([]uint64, len(start))
	hi = make([]uint64, len(start))
	for i := range start {
		lo[i] = start[i] / chunk[i]
		hi[i] = (start[i] + shape[i] - 1) / chunk[i]
	}
	return lo, hi
}

// nextCoord advances c to the next coordinate of the box [lo, hi] in
// row-major order, returning false once the box is exhausted.
func nextCoord(c, lo, hi []uint64) bool {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] < hi[i] {
			c[i]++
			return true
		}
		c[i] = lo[i]
	}
	return false
}

// intersect returns the part of the request [start, start+shape) that falls
// in chunk coord, and whether that part is the chunk's entire in-bounds region.
func intersect(coord, chunk, dims, start, shape []uint64) (regionStart, regionShape []uint64, covers bool) {
	regionStart = make([]uint64, len(coord))
	regionShape = make([]uint64, len(coord))
	covers = true
	for i := range coord {
		origin := coord[i] * chunk[i]
		end := min(origin+chunk[i], dims[i])
		lo := max(start[i], origin)
		hi := min(start[i]+shape[i], end)
		regionStart[i] = lo
		regionShape[i] = hi - lo
		if lo != origin || hi != end {
			covers = false
		}
	}
	return regionStart, regionShape, covers
}

func strides(shape []uint64, elemSize uint64) []uint64 {
	s := make([]uint64, len(shape))
	acc := elemSize
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// copyRegion copies the box [regionStart, regionStart+regionShape) from src
// to dst.  Both slabs must contain the region.
func copyRegion(dst, src slab, regionStart, regionShape []uint64, elemSize uint64) {
	ds := strides(dst.shape, elemSize)
	ss := strides(src.shape, elemSize)
	var dOff, sOff uint64
	for i := range regionStart {
		dOff += (regionStart[i] - dst.origin[i]) * ds[i]
		sOff += (regionStart[i] - src.origin[i]) * ss[i]
	}
	copyRecursive(dst.buf, src.buf, regionShape, ds, ss, dOff, sOff, 0)
}

func copyRecursive(dst, src []byte, count, ds, ss []uint64, dOff, sOff uint64, dim int) {
	if dim == len(count)-1 {
		// innermost dimension is contiguous in both buffers
		n := count[dim] * ss[dim]
		copy(dst[dOff:dOff+n], src[sOff:sOff+n])
		return
	}
	for i := uint64(0); i < count[dim]; i++ {
		copyRecursive(dst, src, count, ds, ss, dOff+i*ds[dim], sOff+i*ss[dim], dim+1)
	}
}
