// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package codec implements the chunk filter pipeline: an ordered list of
// reversible stages applied to a chunk buffer before it is written, and
// undone in reverse order when it is read back.
//
// The set of stages is closed:
//
//   - identity: never transforms; useful as a placeholder in configs.
//   - shuffle: byte transpose by element width, which groups the Nth byte
//     of every element together and tends to help the compressors.
//   - checksum: appends an 8-byte xxhash64 (or farmhash) trailer that is
//     verified and stripped on decode.
//   - deflate, zstd, s2: compressors.  A compressor whose output would not
//     be smaller than its input declines and the chunk is stored without it.
//
// Every stage that declines sets its bit in the chunk's filter Mask, so decode
// knows exactly which stages to reverse:
//
//	p, err := codec.New([]codec.StageConfig{{Name: "shuffle"}, {Name: "zstd"}}, 4)
//	stored, mask, err := p.Encode(raw)
//	raw, err = p.Decode(stored, mask, len(raw))
package codec
