// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package fill provides functions to initialize buffers with a repeated
// element value.
package fill

// Bytes zeroes b.
func Bytes(b []byte) {
	clear(b)
}

// IsZero reports whether every byte of value is zero.  A nil value is zero.
func IsZero(value []byte) bool {
	for _, c := range value {
		if c != 0 {
			return false
		}
	}
	return true
}

// Pattern fills b with value repeated end to end.  len(b) should be a
// multiple of len(value); a trailing partial element gets a prefix of value.
func Pattern(b []byte, value []byte) {
	if IsZero(value) {
		Bytes(b)
		return
	}
	n := copy(b, value)
	// double the filled prefix each step
	for n < len(b) {
		n += copy(b[n:], b[:n])
	}
}

// New returns a buffer of n bytes filled with value.
func New(n int, value []byte) []byte {
	b := make([]byte, n)
	if !IsZero(value) {
		Pattern(b, value)
	}
	return b
}
