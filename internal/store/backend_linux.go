// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build linux

package store

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func (b *FileBackend) extend(off, n int64) error {
	if !b.noFallocate {
		err := unix.Fallocate(int(b.f.Fd()), 0, off, n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EOPNOTSUPP) && !errors.Is(err, unix.ENOSYS) {
			return fmt.Errorf("unix.Fallocate: %w", err)
		}
		b.logger.Warn("fallocate unsupported, falling back to truncate", "file", b.f.Name(), "err", err)
		b.noFallocate = true
	}
	if err := b.f.Truncate(off + n); err != nil {
		return fmt.Errorf("f.Truncate: %w", err)
	}
	return nil
}

func (b *FileBackend) sync() error {
	if err := unix.Fdatasync(int(b.f.Fd())); err != nil {
		return fmt.Errorf("unix.Fdatasync: %w", err)
	}
	return nil
}
