// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import "fmt"

// shuffle transposes a buffer of fixed-width elements so that byte k of every
// element is stored contiguously.  Trailing bytes that don't form a whole
// element are carried through unchanged.
type shuffle struct {
	width int
}

func (shuffle) kind() Kind { return KindShuffle }

func (s shuffle) encode(src []byte) ([]byte, bool, error) {
	n := len(src) / max(s.width, 1)
	if s.width <= 1 || n < 2 {
		return src, false, nil
	}

	dst := make([]byte, len(src))
	for i := 0; i < n; i++ {
		elem := src[i*s.width : (i+1)*s.width]
		for k, b := range elem {
			dst[k*n+i] = b
		}
	}
	copy(dst[n*s.width:], src[n*s.width:])

	return dst, true, nil
}

func (s shuffle) decode(src []byte, limit int) ([]byte, error) {
	if len(src) > limit {
		return nil, fmt.Errorf("%w: shuffled input of %d bytes exceeds %d", ErrCorrupt, len(src), limit)
	}
	if s.width <= 1 {
		return src, nil
	}
	n := len(src) / s.width
	dst := make([]byte, len(src))
	for k := 0; k < s.width; k++ {
		plane := src[k*n : (k+1)*n]
		for i, b := range plane {
			dst[i*s.width+k] = b
		}
	}
	copy(dst[n*s.width:], src[n*s.width:])

	return dst, nil
}
