// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"errors"
	"fmt"

	"github.com/bpowers/chunked/internal/codec"
	"github.com/bpowers/chunked/internal/store"
)

var (
	// ErrShape is returned for hyperslabs that exceed the dataset bounds or
	// have the wrong dimensionality, and for invalid dataset shapes.
	ErrShape = errors.New("shape mismatch")
	// ErrCodec is returned when stored chunk bytes fail to decode.
	ErrCodec = codec.ErrCorrupt
	// ErrIO wraps failures of the backing storage.
	ErrIO = store.ErrIO
	// ErrConfig is returned when a dataset's codec, datatype or fill value
	// configuration is invalid.
	ErrConfig = codec.ErrConfig

	ErrClosed      = errors.New("closed")
	ErrNotFound    = errors.New("dataset not found")
	ErrExists      = errors.New("dataset already exists")
	ErrCorruptFile = errors.New("corrupt file metadata")
)

// ChunkError reports a failure confined to one chunk.  Start and Shape give
// the region of the request, in dataset element coordinates, that the chunk
// was responsible for.
type ChunkError struct {
	Dataset string
	Coord   []uint64
	Start   []uint64
	Shape   []uint64
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("dataset %q chunk %v (elements %v+%v): %v", e.Dataset, e.Coord, e.Start, e.Shape, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
