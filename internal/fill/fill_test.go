// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package fill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	for _, input := range [][]byte{
		{},
		{'a', 'b', 'c'},
	} {
		initialLen := len(input)
		initialCap := cap(input)
		// slices are zero'd by default
		expected := make([]byte, len(input))
		Bytes(input)
		require.Equal(t, expected, input)
		// len and cap should be unchanged
		require.Equal(t, initialLen, len(input))
		require.Equal(t, initialCap, cap(input))
	}
}

func TestPattern(t *testing.T) {
	for _, tc := range []struct {
		n     int
		value []byte
		want  []byte
	}{
		{0, []byte{1, 2}, []byte{}},
		{4, nil, []byte{0, 0, 0, 0}},
		{4, []byte{0, 0}, []byte{0, 0, 0, 0}},
		{6, []byte{7, 0}, []byte{7, 0, 7, 0, 7, 0}},
		{12, []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4}},
		{5, []byte{9, 8}, []byte{9, 8, 9, 8, 9}},
		{3, []byte{5}, []byte{5, 5, 5}},
	} {
		require.Equal(t, tc.want, New(tc.n, tc.value), "%d %v", tc.n, tc.value)

		b := make([]byte, tc.n)
		for i := range b {
			b[i] = 0xee
		}
		Pattern(b, tc.value)
		require.Equal(t, tc.want, b)
	}
}

func TestIsZero(t *testing.T) {
	require.True(t, IsZero(nil))
	require.True(t, IsZero([]byte{0, 0, 0, 0}))
	require.False(t, IsZero([]byte{0, 0, 1, 0}))
}
