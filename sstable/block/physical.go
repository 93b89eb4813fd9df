// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import "github.com/cockroachdb/blocktable/internal/compression"

// PhysicalBlockMaker is used to create physical blocks from logical block data.
// It takes care of compression, checksum calculation, and trailer encoding.
//
// It is not thread-safe and should not be used concurrently.
type PhysicalBlockMaker struct {
	Compressor  Compressor
	Checksummer Checksummer
}

// PhysicalBlockFlags is a bitmask with flags used when making a physical block.
type PhysicalBlockFlags int

const (
	NoFlags      PhysicalBlockFlags = 0
	DontCompress PhysicalBlockFlags = 1 << (iota - 1)
)

// Init the physical block maker. Close must be called when no longer needed.
func (p *PhysicalBlockMaker) Init(
	algo compression.Algorithm, minReductionPercent uint8, checksumType ChecksumType,
) {
	p.Compressor = MakeCompressor(algo, minReductionPercent)
	p.Checksummer.Init(checksumType)
}

// Close must be called when the PhysicalBlockMaker is no longer needed.
func (p *PhysicalBlockMaker) Close() {
	p.Compressor.Close()
}

// PhysicalBlock is a block as it is stored on disk: the possibly compressed
// payload followed by the trailer.
type PhysicalBlock struct {
	// Data holds the payload and the trailer.
	Data        []byte
	Compression CompressionIndicator
}

// LengthWithoutTrailer returns the length recorded in the block's Handle.
func (b PhysicalBlock) LengthWithoutTrailer() int {
	return len(b.Data) - TrailerLen
}

// Make compresses and checksums uncompressedData, reusing buf for the result.
// The uncompressedData slice is never used directly in the PhysicalBlock.
func (p *PhysicalBlockMaker) Make(
	buf, uncompressedData []byte, flags PhysicalBlockFlags,
) PhysicalBlock {
	ci := NoCompressionIndicator
	if flags&DontCompress == 0 {
		ci, buf = p.Compressor.Compress(buf[:0], uncompressedData)
	} else {
		buf = append(buf[:0], uncompressedData...)
	}
	checksum := p.Checksummer.Checksum(buf, byte(ci))
	trailer := MakeTrailer(byte(ci), checksum)
	buf = append(buf, trailer[:]...)
	return PhysicalBlock{Data: buf, Compression: ci}
}
