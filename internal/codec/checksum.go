// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-farm"
)

const checksumLen = 8

// checksum appends a little-endian 64-bit hash of its input and strips and
// verifies it on decode.  It never declines.
type checksum struct {
	hash func([]byte) uint64
}

func newChecksum(algorithm string) (stage, error) {
	switch strings.ToLower(algorithm) {
	case "", "xxhash", "xxh64":
		return checksum{hash: xxhash.Sum64}, nil
	case "farm", "farmhash":
		return checksum{hash: farm.Hash64}, nil
	}
	return nil, fmt.Errorf("%w: unknown checksum algorithm %q", ErrConfig, algorithm)
}

func (checksum) kind() Kind { return KindChecksum }

func (c checksum) encode(src []byte) ([]byte, bool, error) {
	dst := make([]byte, len(src), len(src)+checksumLen)
	copy(dst, src)
	dst = binary.LittleEndian.AppendUint64(dst, c.hash(src))
	return dst, true, nil
}

func (c checksum) decode(src []byte, limit int) ([]byte, error) {
	if len(src) < checksumLen {
		return nil, fmt.Errorf("%w: %d bytes is too short for a checksum", ErrCorrupt, len(src))
	}
	if len(src) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrCorrupt, len(src), limit)
	}
	body := src[:len(src)-checksumLen]
	want := binary.LittleEndian.Uint64(src[len(body):])
	if got := c.hash(body); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch (%016x != %016x)", ErrCorrupt, got, want)
	}
	return body, nil
}
