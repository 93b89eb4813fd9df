// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package block implements the physical framing shared by every block in a
// table: block handles, the compression and checksum trailer, and reading a
// block back from storage.
package block

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Handle is the file offset and length of a block.
type Handle struct {
	// Offset identifies the offset of the block within the file.
	Offset uint64
	// Length is the length of the block data (excludes the trailer).
	Length uint64
}

// MaxHandleLen is the maximum length of a varint-encoded Handle.
const MaxHandleLen = 2 * binary.MaxVarintLen64

// EncodeVarints encodes the block handle into dst using a variable-width
// encoding and returns the number of bytes written.
func (h Handle) EncodeVarints(dst []byte) int {
	n := binary.PutUvarint(dst, h.Offset)
	m := binary.PutUvarint(dst[n:], h.Length)
	return n + m
}

// AppendVarints appends the varint encoding of the handle to dst.
func (h Handle) AppendVarints(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	return binary.AppendUvarint(dst, h.Length)
}

// End returns the offset just past the block's trailer.
func (h Handle) End() uint64 {
	return h.Offset + h.Length + TrailerLen
}

// DecodeHandle returns the block handle encoded in a variable-width encoding at
// the start of src, as well as the number of bytes it occupies. It returns zero
// if given invalid input.
func DecodeHandle(src []byte) (Handle, int) {
	offset, n := binary.Uvarint(src)
	if n <= 0 {
		return Handle{}, 0
	}
	length, m := binary.Uvarint(src[n:])
	if m <= 0 {
		return Handle{}, 0
	}
	return Handle{Offset: offset, Length: length}, n + m
}

// DecodeHandleExact decodes a handle that must occupy all of src.
func DecodeHandleExact(src []byte) (Handle, error) {
	bh, n := DecodeHandle(src)
	if n == 0 || n != len(src) {
		return Handle{}, errors.Errorf("invalid block.Handle")
	}
	return bh, nil
}

// TrailerLen is the length of the trailer at the end of a block.
const TrailerLen = 5

// Trailer is the trailer at the end of a block, encoding the block type
// (compression) and a checksum.
type Trailer = [TrailerLen]byte

// MakeTrailer constructs a trailer from a block type and a checksum.
func MakeTrailer(blockType byte, checksum uint32) (t Trailer) {
	t[0] = blockType
	binary.LittleEndian.PutUint32(t[1:5], checksum)
	return t
}
