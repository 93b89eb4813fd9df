// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compression implements the block compression codecs understood by
// blocktable. Each codec is exposed through the Compressor and Decompressor
// interfaces.
package compression

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Algorithm identifies a compression codec.
type Algorithm uint8

// The available algorithms.
const (
	NoCompression Algorithm = iota
	Snappy
	Zlib
	Zstd
	MinLZ

	NumAlgorithms
)

var algorithmNames = [NumAlgorithms]string{
	NoCompression: "none",
	Snappy:        "snappy",
	Zlib:          "zlib",
	Zstd:          "zstd",
	MinLZ:         "minlz",
}

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	if a < NumAlgorithms {
		return algorithmNames[a]
	}
	return "unknown"
}

// ParseAlgorithm returns the algorithm with the given name. It is the inverse
// of Algorithm.String.
func ParseAlgorithm(s string) (Algorithm, error) {
	for a, name := range algorithmNames {
		if strings.EqualFold(s, name) {
			return Algorithm(a), nil
		}
	}
	return NoCompression, errors.Newf("unknown compression algorithm %q", s)
}

// Compressor compresses blocks.
type Compressor interface {
	Algorithm() Algorithm

	// Compress compresses src, reusing the memory of dst if it is large
	// enough. The result may alias dst but never src.
	Compress(dst, src []byte) []byte

	// Close must be called when the Compressor is no longer needed. After
	// Close is called, the Compressor must not be used again.
	Close()
}

// Decompressor decompresses blocks.
type Decompressor interface {
	// DecompressInto decompresses src into dst. dst must be exactly the size
	// returned by DecompressedLen.
	DecompressInto(dst, src []byte) error

	// DecompressedLen returns the length of the provided block once
	// decompressed.
	DecompressedLen(b []byte) (decompressedLen int, err error)

	// Close must be called when the Decompressor is no longer needed. After
	// Close is called, the Decompressor must not be used again.
	Close()
}

// GetCompressor returns a Compressor for the algorithm at its default level.
func GetCompressor(a Algorithm) Compressor {
	switch a {
	case NoCompression:
		return noopCompressor{}
	case Snappy:
		return snappyCompressor{}
	case Zlib:
		return getZlibCompressor()
	case Zstd:
		return getZstdCompressor(defaultZstdLevel)
	case MinLZ:
		return getMinlzCompressor(minlzDefaultLevel)
	default:
		panic(errors.AssertionFailedf("invalid compression algorithm %d", a))
	}
}

// GetDecompressor returns a Decompressor for the algorithm.
func GetDecompressor(a Algorithm) (Decompressor, error) {
	switch a {
	case NoCompression:
		return noopDecompressor{}, nil
	case Snappy:
		return snappyDecompressor{}, nil
	case Zlib:
		return zlibDecompressor{}, nil
	case Zstd:
		return getZstdDecompressor(), nil
	case MinLZ:
		return minlzDecompressor{}, nil
	default:
		return nil, errors.Newf("unsupported compression algorithm %d", a)
	}
}
