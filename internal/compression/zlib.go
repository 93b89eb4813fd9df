// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/flate"
)

// Zlib blocks are a raw deflate stream prefixed with a uvarint holding the
// decompressed length, the layout RocksDB uses from format version 2 on.

type zlibCompressor struct {
	w   *flate.Writer
	out appendWriter
}

// appendWriter is an io.Writer that appends to a byte slice.
type appendWriter struct {
	b []byte
}

func (a *appendWriter) Write(p []byte) (int, error) {
	a.b = append(a.b, p...)
	return len(p), nil
}

var _ Compressor = (*zlibCompressor)(nil)

var zlibCompressorPool = sync.Pool{
	New: func() any {
		w, err := flate.NewWriter(nil, flate.DefaultCompression)
		if err != nil {
			panic(errors.Wrap(err, "zlib compressor"))
		}
		return &zlibCompressor{w: w}
	},
}

func getZlibCompressor() *zlibCompressor {
	return zlibCompressorPool.Get().(*zlibCompressor)
}

func (z *zlibCompressor) Algorithm() Algorithm { return Zlib }

func (z *zlibCompressor) Compress(dst, src []byte) []byte {
	z.out.b = binary.AppendUvarint(dst[:0], uint64(len(src)))
	z.w.Reset(&z.out)
	if _, err := z.w.Write(src); err != nil {
		panic(errors.Wrap(err, "zlib compression"))
	}
	if err := z.w.Close(); err != nil {
		panic(errors.Wrap(err, "zlib compression"))
	}
	out := z.out.b
	z.out.b = nil
	return out
}

func (z *zlibCompressor) Close() {
	zlibCompressorPool.Put(z)
}

type zlibDecompressor struct{}

var _ Decompressor = zlibDecompressor{}

func (zlibDecompressor) DecompressInto(dst, src []byte) error {
	_, prefixLen := binary.Uvarint(src)
	if prefixLen <= 0 {
		return base.CorruptionErrorf("blocktable: zlib block has invalid length")
	}
	r := flate.NewReader(bytes.NewReader(src[prefixLen:]))
	defer r.Close()
	if _, err := io.ReadFull(r, dst); err != nil {
		return errors.Wrap(err, "zlib decompression")
	}
	// The stream must end exactly at the advertised length.
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return base.CorruptionErrorf("blocktable: zlib block longer than advertised %d bytes", len(dst))
	}
	return nil
}

func (zlibDecompressor) DecompressedLen(b []byte) (decompressedLen int, err error) {
	return decodeLengthPrefix(b)
}

func (zlibDecompressor) Close() {}

// decodeLengthPrefix reads the uvarint decompressed length that zlib and zstd
// blocks start with.
func decodeLengthPrefix(b []byte) (int, error) {
	decodedLenU64, varIntLen := binary.Uvarint(b)
	if varIntLen <= 0 || decodedLenU64 > uint64(maxDecodedLen) {
		return 0, base.CorruptionErrorf("blocktable: compression block has invalid length")
	}
	return int(decodedLenU64), nil
}

// maxDecodedLen bounds the decompressed size of a single block.
const maxDecodedLen = 1 << 30
