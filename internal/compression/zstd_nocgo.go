// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build !cgo

package compression

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

const defaultZstdLevel = 3

type zstdCompressor struct {
	enc *zstd.Encoder
}

var _ Compressor = (*zstdCompressor)(nil)

var zstdEncoders struct {
	once sync.Once
	enc  *zstd.Encoder
}

func getZstdCompressor(level int) *zstdCompressor {
	// EncodeAll is safe for concurrent use, so a single encoder is shared.
	zstdEncoders.once.Do(func() {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(errors.Wrap(err, "zstd encoder"))
		}
		zstdEncoders.enc = enc
	})
	return &zstdCompressor{enc: zstdEncoders.enc}
}

// UseStandardZstdLib indicates whether the zstd implementation is a port of the
// official one in the facebook/zstd repository.
//
// This constant is only used in tests. Some tests rely on reproducibility of
// table files, but a custom implementation of zstd will produce different
// compression result. So those tests have to be disabled in such cases.
//
// We cannot always use the official facebook/zstd implementation since it
// relies on CGo.
const UseStandardZstdLib = false

func (z *zstdCompressor) Algorithm() Algorithm { return Zstd }

func (z *zstdCompressor) Compress(compressedBuf, b []byte) []byte {
	compressedBuf = binary.AppendUvarint(compressedBuf[:0], uint64(len(b)))
	return z.enc.EncodeAll(b, compressedBuf)
}

func (z *zstdCompressor) Close() {}

var zstdDecoders struct {
	once sync.Once
	dec  *zstd.Decoder
}

type zstdDecompressor struct {
	dec *zstd.Decoder
}

var _ Decompressor = zstdDecompressor{}

func (z zstdDecompressor) DecompressInto(dst, src []byte) error {
	// The payload is prefixed with a varint encoding the length of
	// the decompressed block.
	_, prefixLen := binary.Uvarint(src)
	if prefixLen <= 0 {
		return errors.Errorf("decodeZstd: invalid length prefix")
	}
	src = src[prefixLen:]
	result, err := z.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return err
	}
	if len(result) != len(dst) || (len(result) > 0 && &result[0] != &dst[0]) {
		return base.CorruptionErrorf("blocktable: decompressed into unexpected buffer: %p != %p",
			errors.Safe(result), errors.Safe(dst))
	}
	return nil
}

func (zstdDecompressor) DecompressedLen(b []byte) (decompressedLen int, err error) {
	return decodeLengthPrefix(b)
}

func (zstdDecompressor) Close() {}

func getZstdDecompressor() zstdDecompressor {
	zstdDecoders.once.Do(func() {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(errors.Wrap(err, "zstd decoder"))
		}
		zstdDecoders.dec = dec
	})
	return zstdDecompressor{dec: zstdDecoders.dec}
}
