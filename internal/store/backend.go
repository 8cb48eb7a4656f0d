// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Backend is the random-access byte region a Store allocates from.  It is
// usually a *FileBackend, but specified as an interface for easier testing.
type Backend interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the current length of the region.
	Size() (int64, error)
	// Extend grows the region by n zeroed bytes and returns the new length.
	Extend(n int64) (int64, error)
	Sync() error
	Close() error
}

// FileBackend is a Backend over an *os.File.
type FileBackend struct {
	mu     sync.Mutex
	f      *os.File
	size   int64
	logger *slog.Logger
	// noFallocate is set after the filesystem rejects fallocate once
	noFallocate bool
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend takes ownership of f.
func NewFileBackend(f *os.File, logger *slog.Logger) (*FileBackend, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &FileBackend{
		f:      f,
		size:   fi.Size(),
		logger: logger,
	}, nil
}

func (b *FileBackend) ReadAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}

func (b *FileBackend) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size, nil
}

func (b *FileBackend) Extend(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative extend %d", n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n == 0 {
		return b.size, nil
	}
	if err := b.extend(b.size, n); err != nil {
		return 0, err
	}
	b.size += n
	return b.size, nil
}

func (b *FileBackend) Sync() error {
	return b.sync()
}

func (b *FileBackend) Close() error {
	return b.f.Close()
}

// Name returns the path of the underlying file.
func (b *FileBackend) Name() string {
	return b.f.Name()
}

// MemBackend is an in-memory Backend, for tests and scratch files.
type MemBackend struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

var _ Backend = (*MemBackend)(nil)

var errMemClosed = errors.New("memory backend closed")

// NewMemBackend returns a MemBackend whose initial contents are a copy of init.
func NewMemBackend(init []byte) *MemBackend {
	return &MemBackend{buf: append([]byte(nil), init...)}
}

func (m *MemBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errMemClosed
	}
	if off < 0 || off > int64(len(m.buf)) {
		return 0, fmt.Errorf("readAt %d out of bounds", off)
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errMemClosed
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, fmt.Errorf("writeAt %d+%d out of bounds", off, len(p))
	}
	return copy(m.buf[off:], p), nil
}

func (m *MemBackend) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.buf)), nil
}

func (m *MemBackend) Extend(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative extend %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errMemClosed
	}
	m.buf = append(m.buf, make([]byte, n)...)
	return int64(len(m.buf)), nil
}

func (m *MemBackend) Sync() error {
	return nil
}

func (m *MemBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes returns a copy of the current contents.
func (m *MemBackend) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}

// Reopen returns a fresh MemBackend with the same contents, like reopening a
// file that was closed.
func (m *MemBackend) Reopen() *MemBackend {
	return NewMemBackend(m.Bytes())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
