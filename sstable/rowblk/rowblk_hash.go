// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rowblk

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/errors"
)

// The hash index maps user keys to the restart interval that holds them, so
// that a point lookup can skip the binary search over restart points. It is
// stored between the restart array and the block footer:
//
//	restart offsets | bucket[0..n) (1 byte each) | uint16 n | uint32 footer
//
// A bucket holds the index of a restart point, hashIndexNoEntry if no key
// hashes to it, or hashIndexCollision if keys from different restart
// intervals hash to it.
const (
	hashIndexNoEntry   byte = 255
	hashIndexCollision byte = 254

	// MaxRestartsForHashIndex is the largest restart index a bucket can name.
	// Blocks with more restart points are written without a hash index.
	MaxRestartsForHashIndex = 253

	hashIndexFooterBit     uint32 = 1 << 31
	hashIndexNumBucketsLen        = 2
)

// DefaultHashIndexUtilRatio is the default ratio of keys to buckets.
const DefaultHashIndexUtilRatio = 0.75

func hashUserKey(userKey []byte) uint64 {
	return xxhash.Sum64(userKey)
}

type hashEntry struct {
	hash    uint64
	restart uint8
}

// HashIndexBuilder accumulates the user keys of a block and encodes the hash
// index.
type HashIndexBuilder struct {
	utilRatio float64
	invalid   bool
	entries   []hashEntry
}

// Init prepares the builder for a new block.
func (b *HashIndexBuilder) Init(utilRatio float64) {
	b.utilRatio = utilRatio
	b.Reset()
}

// Reset discards accumulated keys, keeping the configured ratio.
func (b *HashIndexBuilder) Reset() {
	b.invalid = false
	b.entries = b.entries[:0]
}

// Add records that userKey lives in the restart interval starting at the given
// restart point.
func (b *HashIndexBuilder) Add(userKey []byte, restartIndex int) {
	if restartIndex > MaxRestartsForHashIndex {
		b.invalid = true
		return
	}
	b.entries = append(b.entries, hashEntry{hash: hashUserKey(userKey), restart: uint8(restartIndex)})
}

// Valid returns false if the block can no longer be indexed.
func (b *HashIndexBuilder) Valid() bool {
	return !b.invalid && b.utilRatio > 0 && b.numBuckets() <= math.MaxUint16
}

func (b *HashIndexBuilder) numBuckets() int {
	// The bucket count is always odd.
	return int(float64(len(b.entries))/b.utilRatio) | 1
}

// EstimatedSize returns the number of bytes Finish will append.
func (b *HashIndexBuilder) EstimatedSize() int {
	return b.numBuckets() + hashIndexNumBucketsLen
}

// Finish appends the encoded buckets to dst.
func (b *HashIndexBuilder) Finish(dst []byte) []byte {
	n := b.numBuckets()
	start := len(dst)
	for i := 0; i < n; i++ {
		dst = append(dst, hashIndexNoEntry)
	}
	buckets := dst[start:]
	for _, e := range b.entries {
		idx := e.hash % uint64(n)
		switch buckets[idx] {
		case hashIndexNoEntry:
			buckets[idx] = e.restart
		case e.restart, hashIndexCollision:
		default:
			buckets[idx] = hashIndexCollision
		}
	}
	return binary.LittleEndian.AppendUint16(dst, uint16(n))
}

// HashIndex is a decoded hash index.
type HashIndex struct {
	buckets []byte
}

// decodeBlockTrailer splits a block into its entries region and restart
// array, and the hash index if present.
func decodeBlockTrailer(blk []byte) (restarts offsetInBlock, numRestarts int32, h HashIndex, err error) {
	if len(blk) < EmptySize {
		return 0, 0, HashIndex{}, base.CorruptionErrorf("block too short: %d bytes", errors.Safe(len(blk)))
	}
	footer := binary.LittleEndian.Uint32(blk[len(blk)-4:])
	end := len(blk) - 4
	if footer&hashIndexFooterBit != 0 {
		footer &^= hashIndexFooterBit
		if end < hashIndexNumBucketsLen {
			return 0, 0, HashIndex{}, base.CorruptionErrorf("block hash index truncated")
		}
		n := int(binary.LittleEndian.Uint16(blk[end-hashIndexNumBucketsLen:]))
		end -= hashIndexNumBucketsLen
		if n == 0 || n > end {
			return 0, 0, HashIndex{}, base.CorruptionErrorf("block hash index has %d buckets", errors.Safe(n))
		}
		h.buckets = blk[end-n : end : end]
		end -= n
	}
	numRestarts = int32(footer)
	if numRestarts <= 0 {
		return 0, 0, HashIndex{}, base.CorruptionErrorf("invalid table (block has no restart points)")
	}
	if int64(numRestarts)*4 > int64(end) {
		return 0, 0, HashIndex{}, base.CorruptionErrorf("block restart array (%d points) exceeds block size %d",
			errors.Safe(numRestarts), errors.Safe(len(blk)))
	}
	restarts = offsetInBlock(end) - 4*offsetInBlock(numRestarts)
	return restarts, numRestarts, h, nil
}

// Present returns true if the block carries a hash index.
func (h HashIndex) Present() bool {
	return len(h.buckets) > 0
}

// Lookup returns the restart index for userKey. ok is false if the index
// cannot answer (a collision), and found is false if userKey is definitely not
// in the block.
func (h HashIndex) Lookup(userKey []byte) (restart int, found, ok bool) {
	b := h.buckets[hashUserKey(userKey)%uint64(len(h.buckets))]
	switch b {
	case hashIndexNoEntry:
		return 0, false, true
	case hashIndexCollision:
		return 0, false, false
	}
	return int(b), true, true
}
