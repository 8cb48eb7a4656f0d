// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build !linux

package store

import "fmt"

func (b *FileBackend) extend(off, n int64) error {
	if err := b.f.Truncate(off + n); err != nil {
		return fmt.Errorf("f.Truncate: %w", err)
	}
	return nil
}

func (b *FileBackend) sync() error {
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("f.Sync: %w", err)
	}
	return nil
}
