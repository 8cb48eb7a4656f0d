// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMemFile(t testing.TB, opts ...Option) (*File, *MemBackend) {
	t.Helper()
	b := NewMemBackend(nil)
	f, err := NewFile(b, opts...)
	require.NoError(t, err)
	return f, b
}

func reopenMem(t testing.TB, b *MemBackend, opts ...Option) (*File, *MemBackend) {
	t.Helper()
	nb := b.Reopen()
	f, err := OpenBackend(nb, opts...)
	require.NoError(t, err)
	return f, nb
}

func int32s(vals ...int32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func repeatInt32(v int32, n int) []byte {
	vals := make([]int32, n)
	for i := range vals {
		vals[i] = v
	}
	return int32s(vals...)
}

func decodeInt32s(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// faultyBackend wraps a MemBackend and fails writes once armed.
type faultyBackend struct {
	*MemBackend

	mu sync.Mutex
	// failAfter is how many more writes succeed; negative disables faults
	failAfter int
}

var errInjected = errors.New("injected write failure")

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{MemBackend: NewMemBackend(nil), failAfter: -1}
}

func (f *faultyBackend) arm(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter = n
}

func (f *faultyBackend) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	fail := f.failAfter == 0
	if f.failAfter > 0 {
		f.failAfter--
	}
	f.mu.Unlock()
	if fail {
		return 0, errInjected
	}
	return f.MemBackend.WriteAt(p, off)
}
