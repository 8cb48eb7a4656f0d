// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatatype(t *testing.T) {
	for _, d := range []Datatype{Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64, Opaque(16)} {
		got, err := ParseDatatype(d.String())
		require.NoError(t, err, d.String())
		assert.Equal(t, d, got)
	}

	got, err := ParseDatatype(" Double ")
	require.NoError(t, err)
	assert.Equal(t, Float64, got)

	for _, bad := range []string{"", "int3", "float16", "opaque(0)", "opaque(x)", "opaque(4"} {
		_, err := ParseDatatype(bad)
		assert.ErrorIs(t, err, ErrConfig, bad)
	}

	var d Datatype
	require.NoError(t, d.UnmarshalText([]byte("uint16")))
	assert.Equal(t, Uint16, d)
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "uint16", string(text))
}

func TestDatatype_Values(t *testing.T) {
	for _, tc := range []struct {
		d     Datatype
		in    string
		bytes []byte
		out   string
	}{
		{Int8, "-1", []byte{0xff}, "-1"},
		{Int16, "-2", []byte{0xfe, 0xff}, "-2"},
		{Int32, "0x10", []byte{0x10, 0, 0, 0}, "16"},
		{Uint16, "65535", []byte{0xff, 0xff}, "65535"},
		{Uint64, "1", []byte{1, 0, 0, 0, 0, 0, 0, 0}, "1"},
		{Float32, "1.5", []byte{0, 0, 0xc0, 0x3f}, "1.5"},
		{Float64, "-2", []byte{0, 0, 0, 0, 0, 0, 0, 0xc0}, "-2"},
		{Opaque(3), "0xa1b2c3", []byte{0xa1, 0xb2, 0xc3}, "a1b2c3"},
	} {
		b, err := tc.d.ParseValue(tc.in)
		require.NoError(t, err, "%s %q", tc.d, tc.in)
		assert.Equal(t, tc.bytes, b, "%s %q", tc.d, tc.in)
		assert.Equal(t, tc.out, tc.d.FormatValue(b), "%s %q", tc.d, tc.in)
	}

	for _, tc := range []struct {
		d  Datatype
		in string
	}{
		{Int8, "128"},
		{Uint8, "-1"},
		{Float32, "pi"},
		{Opaque(2), "abc"},
		{Opaque(2), "a1b2c3"},
	} {
		_, err := tc.d.ParseValue(tc.in)
		assert.ErrorIs(t, err, ErrConfig, "%s %q", tc.d, tc.in)
	}

	assert.Equal(t, "?", Int32.FormatValue([]byte{1}))
}
