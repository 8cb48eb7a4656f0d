// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// compressors decline when they don't make the data smaller: storing the
// input verbatim is then both smaller and faster to read.

type deflate struct {
	level int
}

func newDeflate(level int) (stage, error) {
	if level == 0 {
		level = flate.DefaultCompression
	}
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("%w: deflate level %d", ErrConfig, level)
	}
	return deflate{level: level}, nil
}

func (deflate) kind() Kind { return KindCompressor }

func (d deflate) encode(src []byte) ([]byte, bool, error) {
	if len(src) == 0 {
		return src, false, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(src) / 2)
	w, err := flate.NewWriter(&buf, d.level)
	if err != nil {
		return nil, false, fmt.Errorf("flate.NewWriter: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, false, fmt.Errorf("flate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("flate close: %w", err)
	}
	if buf.Len() >= len(src) {
		return src, false, nil
	}
	return buf.Bytes(), true, nil
}

func (d deflate) decode(src []byte, limit int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer func() { _ = r.Close() }()

	// read one byte past the limit so oversized output is detected
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: deflate: %s", ErrCorrupt, err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: deflate output exceeds %d bytes", ErrCorrupt, limit)
	}
	return out, nil
}

type zstdStage struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd(level int) (stage, error) {
	if level < 0 || level > 22 {
		return nil, fmt.Errorf("%w: zstd level %d", ErrConfig, level)
	}
	encLevel := zstd.SpeedDefault
	if level != 0 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd.NewWriter: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd.NewReader: %w", err)
	}
	return &zstdStage{enc: enc, dec: dec}, nil
}

func (*zstdStage) kind() Kind { return KindCompressor }

func (z *zstdStage) encode(src []byte) ([]byte, bool, error) {
	if len(src) == 0 {
		return src, false, nil
	}
	out := z.enc.EncodeAll(src, make([]byte, 0, len(src)/2))
	if len(out) >= len(src) {
		return src, false, nil
	}
	return out, true, nil
}

func (z *zstdStage) decode(src []byte, limit int) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, make([]byte, 0, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %s", ErrCorrupt, err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: zstd output exceeds %d bytes", ErrCorrupt, limit)
	}
	return out, nil
}

func (z *zstdStage) close() {
	_ = z.enc.Close()
	z.dec.Close()
}

type s2Stage struct {
	fn func(dst, src []byte) []byte
}

func newS2(level int) (stage, error) {
	switch level {
	case 0, 1:
		return s2Stage{fn: s2.Encode}, nil
	case 2:
		return s2Stage{fn: s2.EncodeBetter}, nil
	case 3:
		return s2Stage{fn: s2.EncodeBest}, nil
	}
	return nil, fmt.Errorf("%w: s2 level %d", ErrConfig, level)
}

func (s2Stage) kind() Kind { return KindCompressor }

func (s s2Stage) encode(src []byte) ([]byte, bool, error) {
	if len(src) == 0 {
		return src, false, nil
	}
	out := s.fn(nil, src)
	if len(out) >= len(src) {
		return src, false, nil
	}
	return out, true, nil
}

func (s2Stage) decode(src []byte, limit int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: s2: %s", ErrCorrupt, err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: s2 output of %d bytes exceeds %d", ErrCorrupt, n, limit)
	}
	out, err := s2.Decode(make([]byte, n), src)
	if err != nil {
		return nil, fmt.Errorf("%w: s2: %s", ErrCorrupt, err)
	}
	return out, nil
}
