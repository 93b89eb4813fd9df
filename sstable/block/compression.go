// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"fmt"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/internal/compression"
	"github.com/cockroachdb/errors"
)

// CompressionIndicator is the byte stored physically within the block.Trailer
// to indicate the compression type.
type CompressionIndicator byte

// The block type gives the per-block compression format. These constants are
// part of the file format and should not be changed. Not all compression types
// listed here are supported.
const (
	NoCompressionIndicator     CompressionIndicator = 0
	SnappyCompressionIndicator CompressionIndicator = 1
	ZlibCompressionIndicator   CompressionIndicator = 2
	Bzip2CompressionIndicator  CompressionIndicator = 3
	Lz4CompressionIndicator    CompressionIndicator = 4
	Lz4hcCompressionIndicator  CompressionIndicator = 5
	XpressCompressionIndicator CompressionIndicator = 6
	ZstdCompressionIndicator   CompressionIndicator = 7
	MinlzCompressionIndicator  CompressionIndicator = 8
)

// String implements fmt.Stringer.
func (i CompressionIndicator) String() string {
	switch i {
	case 0:
		return "none"
	case 1:
		return "snappy"
	case 2:
		return "zlib"
	case 3:
		return "bzip2"
	case 4:
		return "lz4"
	case 5:
		return "lz4hc"
	case 6:
		return "xpress"
	case 7:
		return "zstd"
	case 8:
		return "minlz"
	default:
		return fmt.Sprintf("unknown(%d)", byte(i))
	}
}

// Algorithm returns the codec for the indicator, or false if blocks with this
// indicator cannot be decompressed.
func (i CompressionIndicator) Algorithm() (compression.Algorithm, bool) {
	switch i {
	case NoCompressionIndicator:
		return compression.NoCompression, true
	case SnappyCompressionIndicator:
		return compression.Snappy, true
	case ZlibCompressionIndicator:
		return compression.Zlib, true
	case ZstdCompressionIndicator:
		return compression.Zstd, true
	case MinlzCompressionIndicator:
		return compression.MinLZ, true
	}
	return 0, false
}

// IndicatorFromAlgorithm returns the indicator stored in trailers of blocks
// compressed with a.
func IndicatorFromAlgorithm(a compression.Algorithm) CompressionIndicator {
	switch a {
	case compression.NoCompression:
		return NoCompressionIndicator
	case compression.Snappy:
		return SnappyCompressionIndicator
	case compression.Zlib:
		return ZlibCompressionIndicator
	case compression.Zstd:
		return ZstdCompressionIndicator
	case compression.MinLZ:
		return MinlzCompressionIndicator
	default:
		panic(errors.AssertionFailedf("invalid compression algorithm %d", a))
	}
}

// DefaultMinReductionPercent is the default value of
// Compressor.MinReductionPercent.
const DefaultMinReductionPercent = 12

// Compressor is used to compress blocks. Typical usage:
//
//	c := MakeCompressor(compression.Snappy, DefaultMinReductionPercent)
//	.. = c.Compress(..)
//	.. = c.Compress(..)
//	c.Close()
type Compressor struct {
	algorithm compression.Algorithm
	c         compression.Compressor
	// Blocks that are reduced by less than this percentage are stored
	// uncompressed.
	minReductionPercent uint8
}

// MakeCompressor returns a Compressor for the given algorithm. Close must be
// called when the compressor is no longer needed.
func MakeCompressor(a compression.Algorithm, minReductionPercent uint8) Compressor {
	return Compressor{
		algorithm:           a,
		c:                   compression.GetCompressor(a),
		minReductionPercent: minReductionPercent,
	}
}

// Algorithm returns the configured algorithm.
func (c *Compressor) Algorithm() compression.Algorithm {
	return c.algorithm
}

// Close must be called when the Compressor is no longer needed. After Close is
// called, the Compressor must not be used again.
func (c *Compressor) Close() {
	if c.c != nil {
		c.c.Close()
	}
	*c = Compressor{}
}

// Compress a block, appending the compressed data to dst[:0].
//
// In addition to the buffer, returns the algorithm that was used.
func (c *Compressor) Compress(dst, src []byte) (CompressionIndicator, []byte) {
	if c.algorithm == compression.NoCompression {
		return NoCompressionIndicator, append(dst[:0], src...)
	}
	out := c.c.Compress(dst, src)

	// Return the original data uncompressed if the reduction is less than the
	// minimum, i.e.:
	//
	//   after * 100
	//   -----------  >  100 - MinReductionPercent
	//      before
	if int64(len(out))*100 > int64(len(src))*int64(100-c.minReductionPercent) {
		return NoCompressionIndicator, append(out[:0], src...)
	}
	return IndicatorFromAlgorithm(c.algorithm), out
}

// Decompress decompresses a block payload tagged with the indicator. Payloads
// with NoCompressionIndicator are returned as is.
func Decompress(ci CompressionIndicator, b []byte) ([]byte, error) {
	if ci == NoCompressionIndicator {
		return b, nil
	}
	algo, ok := ci.Algorithm()
	if !ok {
		return nil, base.CorruptionErrorf("unknown block compression: %s", errors.Safe(ci))
	}
	d, err := compression.GetDecompressor(algo)
	if err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	defer d.Close()
	n, err := d.DecompressedLen(b)
	if err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	buf := make([]byte, n)
	if err := d.DecompressInto(buf, b); err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	return buf, nil
}
