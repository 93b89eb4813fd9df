// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundtrip(t *testing.T) {
	defer leaktest.AfterTest(t)()

	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, seed))

	for a := NoCompression; a < NumAlgorithms; a++ {
		t.Run(a.String(), func(t *testing.T) {
			for _, compressible := range []bool{false, true} {
				payload := make([]byte, 1+rng.IntN(10<<10 /* 10 KiB */))
				for i := range payload {
					if compressible {
						payload[i] = byte('a' + i%7)
					} else {
						payload[i] = byte(rng.Uint32())
					}
				}
				// Create a randomly-sized buffer to house the compressed output. If it's
				// not sufficient, Compress should allocate one that is.
				compressedBuf := make([]byte, 1+rng.IntN(1<<10 /* 1 KiB */))
				compressor := GetCompressor(a)
				require.Equal(t, a, compressor.Algorithm())
				compressed := compressor.Compress(compressedBuf, payload)
				compressor.Close()
				if compressible && a != NoCompression {
					require.Less(t, len(compressed), len(payload))
				}
				got, err := decompress(a, compressed)
				require.NoError(t, err)
				require.Equal(t, payload, got)
			}
		})
	}
}

// TestDecompressionError tests that a decompressing a value that does not
// decompress returns an error.
func TestDecompressionError(t *testing.T) {
	defer leaktest.AfterTest(t)()
	rng := rand.New(rand.NewPCG(0, 1 /* fixed seed */))

	// Create a buffer to represent a faux compressed block. It's prefixed with
	// a uvarint of the appropriate length, followed by garbage.
	fauxCompressed := make([]byte, 1<<10+rng.IntN(10<<10 /* 10 KiB */))
	compressedPayloadLen := len(fauxCompressed) - binary.MaxVarintLen64
	n := binary.PutUvarint(fauxCompressed, uint64(compressedPayloadLen))
	fauxCompressed = fauxCompressed[:n+compressedPayloadLen]
	for i := n; i < len(fauxCompressed); i++ {
		fauxCompressed[i] = byte(rng.Uint32())
	}

	for _, a := range []Algorithm{Zstd, Zlib} {
		v, err := decompress(a, fauxCompressed)
		t.Log(err)
		require.Error(t, err)
		require.Nil(t, v)
	}
}

func TestParseAlgorithm(t *testing.T) {
	for a := NoCompression; a < NumAlgorithms; a++ {
		got, err := ParseAlgorithm(a.String())
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
	got, err := ParseAlgorithm("ZSTD")
	require.NoError(t, err)
	require.Equal(t, Zstd, got)

	_, err = ParseAlgorithm("lz4")
	require.Error(t, err)
	require.Equal(t, "unknown", NumAlgorithms.String())

	_, err = GetDecompressor(NumAlgorithms)
	require.Error(t, err)
}

func TestNoopLengthMismatch(t *testing.T) {
	d, err := GetDecompressor(NoCompression)
	require.NoError(t, err)
	defer d.Close()
	require.Error(t, d.DecompressInto(make([]byte, 3), []byte("four")))

	dst := make([]byte, 4)
	require.NoError(t, d.DecompressInto(dst, []byte("four")))
	require.True(t, bytes.Equal(dst, []byte("four")))
}

// decompress decompresses a block into a freshly allocated buffer sized by
// DecompressedLen.
func decompress(algo Algorithm, b []byte) ([]byte, error) {
	decompressor, err := GetDecompressor(algo)
	if err != nil {
		return nil, err
	}
	defer decompressor.Close()
	// first obtain the decoded length.
	decodedLen, err := decompressor.DecompressedLen(b)
	if err != nil {
		return nil, err
	}
	decodedBuf := make([]byte, decodedLen)
	if err := decompressor.DecompressInto(decodedBuf, b); err != nil {
		return nil, err
	}
	return decodedBuf, nil
}
