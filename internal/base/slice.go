// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Slice is a half-open byte range [Offset, Limit) within a buffer owned by
// someone else. It records where a key or value lives inside a block without
// holding on to the block. A Slice must not be resolved against a buffer other
// than the one it was created for.
type Slice struct {
	Offset uint32
	Limit  uint32
}

// MakeSlice returns the Slice covering buf[offset:offset+length], checking that
// it lies within buf.
func MakeSlice(buf []byte, offset, length int) (Slice, error) {
	if offset < 0 || length < 0 || offset > len(buf) || length > len(buf)-offset {
		return Slice{}, CorruptionErrorf("slice [%d,+%d) out of bounds of %d-byte buffer",
			errors.Safe(offset), errors.Safe(length), errors.Safe(len(buf)))
	}
	return Slice{Offset: uint32(offset), Limit: uint32(offset + length)}, nil
}

// Len returns the number of bytes covered by s.
func (s Slice) Len() int {
	return int(s.Limit - s.Offset)
}

// Empty returns true if s covers no bytes.
func (s Slice) Empty() bool {
	return s.Limit == s.Offset
}

// Bytes resolves s against buf.
func (s Slice) Bytes(buf []byte) []byte {
	return buf[s.Offset:s.Limit:s.Limit]
}

// Compare compares the bytes referenced by s and t, both resolved against buf.
func (s Slice) Compare(buf []byte, t Slice) int {
	return bytes.Compare(s.Bytes(buf), t.Bytes(buf))
}

// Equal reports whether s and t, resolved against buf, reference equal bytes.
func (s Slice) Equal(buf []byte, t Slice) bool {
	return bytes.Equal(s.Bytes(buf), t.Bytes(buf))
}

func (s Slice) String() string {
	return fmt.Sprintf("[%d,%d)", s.Offset, s.Limit)
}
