// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package superblock

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (s *safeBuffer) WriteAt(p []byte, off int64) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(off)+len(p) > len(s.buf) {
		return 0, errors.New("writeAt out of bounds")
	}

	return copy(s.buf[off:int(off)+len(p)], p), nil
}

func (s *safeBuffer) ReadAt(p []byte, off int64) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(off) > len(s.buf) {
		return 0, errors.New("readAt out of bounds")
	}
	return copy(p, s.buf[off:]), nil
}

func TestSuperblock_RoundTrip(t *testing.T) {
	origH, err := New()
	require.NoError(t, err)
	require.Equal(t, uint32(magic), origH.magic)
	require.Equal(t, uint32(formatVersion), origH.formatVersion)
	require.NotEqual(t, uuid.Nil, origH.FileID)
	origH.CatalogOffset = 4096
	origH.CatalogLength = 311
	origH.Generation = 7

	// this should be an error
	err = origH.MarshalTo(nil)
	assert.Error(t, err)

	var newH Superblock
	headerBytes := make([]byte, Size)
	// this should be an error -- missing magic number
	err = newH.UnmarshalBytes(headerBytes)
	assert.ErrorIs(t, err, ErrCorrupt)

	err = origH.MarshalTo(headerBytes)
	require.NoError(t, err)

	// this should be an error
	err = newH.UnmarshalBytes(nil)
	assert.ErrorIs(t, err, ErrCorrupt)

	err = newH.UnmarshalBytes(headerBytes)
	require.NoError(t, err)
	assert.Equal(t, origH, &newH)

	// a flipped bit anywhere is caught by the checksum
	headerBytes[offCatalogLen] ^= 1
	err = newH.UnmarshalBytes(headerBytes)
	assert.ErrorIs(t, err, ErrCorrupt)

	// test that deserializing an unknown version is broken
	origH.formatVersion = 666
	err = origH.MarshalTo(headerBytes)
	require.NoError(t, err)
	err = newH.UnmarshalBytes(headerBytes)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSuperblock_UpdateCatalog(t *testing.T) {
	origH, err := New()
	require.NoError(t, err)

	var w bytes.Buffer
	n, err := origH.WriteTo(&w)
	require.NoError(t, err)
	require.Equal(t, int64(Size), n)

	buf := safeBuffer{buf: w.Bytes()}
	err = origH.UpdateCatalog(1024, 99, &buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), origH.Generation)

	newH, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, origH, newH)
	assert.Equal(t, uint64(1024), newH.CatalogOffset)
	assert.Equal(t, uint64(99), newH.CatalogLength)

	// a failed write leaves the in-memory header untouched
	short := safeBuffer{buf: make([]byte, 8)}
	err = origH.UpdateCatalog(1, 2, &short)
	assert.Error(t, err)
	assert.Equal(t, uint64(1024), origH.CatalogOffset)
	assert.Equal(t, uint64(1), origH.Generation)
}

func TestRead_Short(t *testing.T) {
	_, err := Read(&safeBuffer{buf: make([]byte, 10)})
	assert.ErrorIs(t, err, ErrCorrupt)
}
