// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressibleInts(n int) []byte {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(i%7))
	}
	return buf
}

func randomBytes(n int, seed int64) []byte {
	buf := make([]byte, n)
	r := rand.New(rand.NewSource(seed))
	_, _ = r.Read(buf)
	return buf
}

func TestPipeline_Empty(t *testing.T) {
	p, err := New(nil, 4)
	require.NoError(t, err)
	defer p.Close()

	raw := compressibleInts(16)
	stored, mask, err := p.Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, Mask(0), mask)
	assert.Equal(t, raw, stored)

	// the stored buffer must not alias the caller's
	stored[0] ^= 0xff
	assert.NotEqual(t, raw[0], stored[0])

	got, err := p.Decode(stored, mask, len(raw))
	require.NoError(t, err)
	assert.Equal(t, stored, got)
}

func TestPipeline_RoundTrip(t *testing.T) {
	pipelines := [][]StageConfig{
		{{Name: "identity"}},
		{{Name: "shuffle"}},
		{{Name: "checksum"}},
		{{Name: "checksum", Algorithm: "farm"}},
		{{Name: "deflate"}},
		{{Name: "deflate", Level: 9}},
		{{Name: "deflate", Level: -2}},
		{{Name: "zstd"}},
		{{Name: "zstd", Level: 19}},
		{{Name: "s2"}},
		{{Name: "s2", Level: 3}},
		{{Name: "shuffle"}, {Name: "deflate"}, {Name: "checksum"}},
		{{Name: "shuffle"}, {Name: "zstd"}},
		{{Name: "shuffle", ElementSize: 2}, {Name: "s2", Level: 2}, {Name: "checksum"}},
		{{Name: "checksum"}, {Name: "zstd"}, {Name: "checksum", Algorithm: "farm"}},
	}
	inputs := map[string][]byte{
		"compressible": compressibleInts(1024),
		"random":       randomBytes(4096, 1),
		"odd-length":   append(compressibleInts(33), 1, 2, 3),
		"one-element":  {1, 2, 3, 4},
	}

	for _, configs := range pipelines {
		p, err := New(configs, 4)
		require.NoError(t, err, "%v", configs)

		for name, raw := range inputs {
			orig := append([]byte(nil), raw...)
			stored, mask, err := p.Encode(raw)
			require.NoError(t, err, "%v %s", configs, name)
			assert.Equal(t, orig, raw, "encode must not modify its input")

			got, err := p.Decode(stored, mask, len(raw))
			require.NoError(t, err, "%v %s", configs, name)
			assert.Equal(t, raw, got, "%v %s", configs, name)
		}
		p.Close()
	}
}

func TestPipeline_CompressorDeclines(t *testing.T) {
	p, err := New([]StageConfig{{Name: "shuffle"}, {Name: "deflate"}}, 4)
	require.NoError(t, err)
	defer p.Close()

	// 64 int32 values of high-entropy data: deflate can't win, shuffle still applies
	raw := randomBytes(256, 42)
	stored, mask, err := p.Encode(raw)
	require.NoError(t, err)
	assert.True(t, mask.Applied(0))
	assert.True(t, mask.Skipped(1))
	assert.Equal(t, Mask(0b10), mask)
	assert.Len(t, stored, len(raw))

	got, err := p.Decode(stored, mask, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	// a compressible chunk of the same size applies both stages
	raw = compressibleInts(64)
	stored, mask, err = p.Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, Mask(0), mask)
	assert.Less(t, len(stored), len(raw))

	got, err = p.Decode(stored, mask, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestPipeline_IdentityAlwaysSkips(t *testing.T) {
	p, err := New([]StageConfig{{Name: "identity"}, {Name: "identity"}}, 8)
	require.NoError(t, err)
	defer p.Close()

	_, mask, err := p.Encode(compressibleInts(8))
	require.NoError(t, err)
	assert.Equal(t, Mask(0b11), mask)
}

func TestPipeline_ShuffleSingleByteDeclines(t *testing.T) {
	p, err := New([]StageConfig{{Name: "shuffle"}}, 1)
	require.NoError(t, err)
	defer p.Close()

	raw := []byte{1, 2, 3, 4}
	stored, mask, err := p.Encode(raw)
	require.NoError(t, err)
	assert.True(t, mask.Skipped(0))
	assert.Equal(t, raw, stored)
}

func TestShuffle_Layout(t *testing.T) {
	s := shuffle{width: 4}
	src := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x11, 0x12, 0x13, 0x14,
		0x21, 0x22, 0x23, 0x24,
		0xff,
	}
	dst, ok, err := s.encode(src)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{
		0x01, 0x11, 0x21,
		0x02, 0x12, 0x22,
		0x03, 0x13, 0x23,
		0x04, 0x14, 0x24,
		0xff,
	}, dst)

	back, err := s.decode(dst, len(dst))
	require.NoError(t, err)
	assert.Equal(t, src, back)
}

func TestPipeline_ChecksumDetectsCorruption(t *testing.T) {
	for _, algorithm := range []string{"xxhash", "farm"} {
		p, err := New([]StageConfig{{Name: "checksum", Algorithm: algorithm}}, 4)
		require.NoError(t, err)

		raw := compressibleInts(32)
		stored, mask, err := p.Encode(raw)
		require.NoError(t, err)
		require.Len(t, stored, len(raw)+checksumLen)

		stored[5] ^= 0x01
		_, err = p.Decode(stored, mask, len(raw))
		assert.ErrorIs(t, err, ErrCorrupt, algorithm)

		_, err = p.Decode(stored[:4], mask, len(raw))
		assert.ErrorIs(t, err, ErrCorrupt, algorithm)
		p.Close()
	}
}

func TestPipeline_DecodeGarbage(t *testing.T) {
	for _, name := range []string{"deflate", "zstd", "s2"} {
		p, err := New([]StageConfig{{Name: name}}, 4)
		require.NoError(t, err)

		_, err = p.Decode(randomBytes(128, 7), 0, 4096)
		assert.ErrorIs(t, err, ErrCorrupt, name)
		p.Close()
	}
}

func TestPipeline_DecodeLengthMismatch(t *testing.T) {
	for _, name := range []string{"deflate", "zstd", "s2"} {
		p, err := New([]StageConfig{{Name: name}}, 4)
		require.NoError(t, err)

		raw := compressibleInts(1024)
		stored, mask, err := p.Encode(raw)
		require.NoError(t, err)
		require.Equal(t, Mask(0), mask)

		// too small a bound must be rejected rather than truncated
		_, err = p.Decode(stored, mask, len(raw)/2)
		assert.ErrorIs(t, err, ErrCorrupt, name)

		_, err = p.Decode(stored, mask, len(raw)*2)
		assert.ErrorIs(t, err, ErrCorrupt, name)
		p.Close()
	}
}

func TestPipeline_DecodeRejectsUnknownMaskBits(t *testing.T) {
	p, err := New([]StageConfig{{Name: "checksum"}}, 4)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Decode(make([]byte, 16), Mask(0b100), 8)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestNew_InvalidConfig(t *testing.T) {
	bad := [][]StageConfig{
		{{Name: "lz4"}},
		{{Name: "deflate", Level: 10}},
		{{Name: "deflate", Level: -3}},
		{{Name: "zstd", Level: 23}},
		{{Name: "zstd", Level: -1}},
		{{Name: "s2", Level: 4}},
		{{Name: "shuffle", ElementSize: -1}},
		{{Name: "checksum", Algorithm: "md5"}},
		make([]StageConfig, MaxStages+1),
	}
	for _, configs := range bad {
		_, err := New(configs, 4)
		assert.ErrorIs(t, err, ErrConfig, "%v", configs)
		assert.ErrorIs(t, Validate(configs, 4), ErrConfig)
	}

	_, err := New(nil, 0)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNew_MaxStages(t *testing.T) {
	configs := make([]StageConfig, MaxStages)
	for i := range configs {
		configs[i] = StageConfig{Name: "identity"}
	}
	configs[MaxStages-1] = StageConfig{Name: "checksum"}

	p, err := New(configs, 4)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, MaxStages, p.Len())

	raw := compressibleInts(4)
	stored, mask, err := p.Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, Mask(1<<(MaxStages-1)-1), mask)

	got, err := p.Decode(stored, mask, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestPipeline_Introspection(t *testing.T) {
	configs := []StageConfig{{Name: "shuffle"}, {Name: "zstd", Level: 3}, {Name: "checksum"}}
	p, err := New(configs, 8)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, p.Len())
	assert.False(t, p.Empty())
	assert.Equal(t, []Kind{KindShuffle, KindCompressor, KindChecksum}, p.Stages())
	assert.Equal(t, configs, p.Configs())
	assert.Equal(t, "zstd(level=3)", configs[1].String())
	assert.Equal(t, "shuffle", KindShuffle.String())
}
