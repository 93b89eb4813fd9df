// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/errors"
)

// ChecksumType specifies the checksum used for blocks.
type ChecksumType byte

// The available checksum types. These values are part of the durable format and
// should not be changed.
const (
	ChecksumTypeNone     ChecksumType = 0
	ChecksumTypeCRC32c   ChecksumType = 1
	ChecksumTypeXXHash64 ChecksumType = 3
)

// String implements fmt.Stringer.
func (t ChecksumType) String() string {
	switch t {
	case ChecksumTypeCRC32c:
		return "crc32c"
	case ChecksumTypeNone:
		return "none"
	case ChecksumTypeXXHash64:
		return "xxhash64"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// ParseChecksumType returns the checksum type with the given name.
func ParseChecksumType(s string) (ChecksumType, error) {
	for _, t := range []ChecksumType{ChecksumTypeNone, ChecksumTypeCRC32c, ChecksumTypeXXHash64} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, errors.Newf("unknown checksum type %q", s)
}

// Supported returns true if blocks with this checksum type can be written and
// verified.
func (t ChecksumType) Supported() bool {
	switch t {
	case ChecksumTypeNone, ChecksumTypeCRC32c, ChecksumTypeXXHash64:
		return true
	}
	return false
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// crcMaskDelta is added to the rotated CRC when masking. Stored CRCs are
// masked the same way LevelDB and RocksDB mask them.
const crcMaskDelta = 0xa282ead8

func maskCRC(c uint32) uint32 {
	return (c>>15 | c<<17) + crcMaskDelta
}

func crc32c(b []byte) uint32 {
	return maskCRC(crc32.Update(0, crcTable, b))
}

// A Checksummer calculates checksums for blocks.
type Checksummer struct {
	Type         ChecksumType
	xxHasher     *xxhash.Digest
	blockTypeBuf [1]byte
}

// Init sets the checksum type.
func (c *Checksummer) Init(typ ChecksumType) {
	c.Type = typ
}

// Checksum computes a checksum over the provided block and block type.
func (c *Checksummer) Checksum(block []byte, blockType byte) (checksum uint32) {
	c.blockTypeBuf[0] = blockType
	switch c.Type {
	case ChecksumTypeNone:
		return 0
	case ChecksumTypeCRC32c:
		crc := crc32.Update(0, crcTable, block)
		checksum = maskCRC(crc32.Update(crc, crcTable, c.blockTypeBuf[:]))
	case ChecksumTypeXXHash64:
		if c.xxHasher == nil {
			c.xxHasher = xxhash.New()
		} else {
			c.xxHasher.Reset()
		}
		_, _ = c.xxHasher.Write(block)
		_, _ = c.xxHasher.Write(c.blockTypeBuf[:])
		checksum = uint32(c.xxHasher.Sum64())
	default:
		panic(errors.Newf("unsupported checksum type: %d", c.Type))
	}
	return checksum
}

func checksumFunc(t ChecksumType) func([]byte) uint32 {
	switch t {
	case ChecksumTypeCRC32c:
		return crc32c
	case ChecksumTypeXXHash64:
		return func(data []byte) uint32 {
			return uint32(xxhash.Sum64(data))
		}
	}
	return nil
}

// ValidateChecksum validates the checksum of a block. b holds the block data
// followed by its trailer.
func ValidateChecksum(checksumType ChecksumType, b []byte, bh Handle) error {
	if uint64(len(b)) != bh.Length+TrailerLen {
		return base.CorruptionErrorf("block %d/%d: read %d bytes",
			errors.Safe(bh.Offset), errors.Safe(bh.Length), errors.Safe(len(b)))
	}
	if checksumType == ChecksumTypeNone {
		return nil
	}
	fn := checksumFunc(checksumType)
	if fn == nil {
		return base.CorruptionErrorf("unsupported checksum type: %d", errors.Safe(checksumType))
	}
	expectedChecksum := binary.LittleEndian.Uint32(b[bh.Length+1:])
	computedChecksum := fn(b[:bh.Length+1])
	if expectedChecksum != computedChecksum {
		err := base.CorruptionErrorf("block %d/%d: %s checksum mismatch %x != %x",
			errors.Safe(bh.Offset), errors.Safe(bh.Length), checksumType,
			expectedChecksum, computedChecksum)
		// Report a single flipped bit, which usually points at faulty hardware.
		data := slices.Clone(b[:bh.Length+1])
		if found, idx, bit := checkSliceForBitFlip(data, fn, expectedChecksum); found {
			err = errors.WithSafeDetails(err, ". bit flip found: byte index %d. got: %x. want: %x.",
				idx, data[idx], data[idx]^(1<<bit))
		}
		return err
	}
	return nil
}

const bitFlipSearchLimit = 40 << 10

// checkSliceForBitFlip flips each bit of the first 40KB of data in turn,
// looking for a single flip that matches the expected checksum.
func checkSliceForBitFlip(
	data []byte, computeChecksum func([]byte) uint32, expectedChecksum uint32,
) (found bool, indexFound int, bitFound int) {
	for i := 0; i < min(len(data), bitFlipSearchLimit); i++ {
		for bit := 0; bit < 8; bit++ {
			data[i] ^= 1 << bit
			sum := computeChecksum(data)
			data[i] ^= 1 << bit
			if sum == expectedChecksum {
				return true, i, bit
			}
		}
	}
	return false, 0, 0
}
