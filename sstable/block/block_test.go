// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/internal/compression"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/stretchr/testify/require"
)

func TestHandleRoundTrip(t *testing.T) {
	handles := []Handle{
		{},
		{Offset: 1, Length: 2},
		{Offset: 127, Length: 128},
		{Offset: 1 << 40, Length: 4096},
		{Offset: math.MaxUint64, Length: math.MaxUint64},
	}
	for _, h := range handles {
		var buf [MaxHandleLen]byte
		n := h.EncodeVarints(buf[:])
		require.Equal(t, buf[:n], h.AppendVarints(nil))

		got, m := DecodeHandle(buf[:n])
		require.Equal(t, n, m)
		require.Equal(t, h, got)

		got, err := DecodeHandleExact(buf[:n])
		require.NoError(t, err)
		require.Equal(t, h, got)

		_, err = DecodeHandleExact(append(buf[:n:n], 0))
		require.Error(t, err)
	}

	for _, bad := range [][]byte{nil, {0x80}, {0x05}, {0x05, 0x80}} {
		_, n := DecodeHandle(bad)
		require.Zero(t, n, "%x", bad)
	}
}

func TestTrailer(t *testing.T) {
	tr := MakeTrailer(byte(ZstdCompressionIndicator), 0x01020304)
	require.Equal(t, Trailer{7, 4, 3, 2, 1}, tr)
}

func TestCRC32c(t *testing.T) {
	require.Equal(t, uint32(crcMaskDelta), crc32c(nil))
	require.Equal(t, maskCRC(0xe3069283), crc32c([]byte("123456789")))

	// The streaming form used for writing matches the one-shot form used for
	// validation.
	var c Checksummer
	c.Init(ChecksumTypeCRC32c)
	require.Equal(t, crc32c([]byte("hello\x01")), c.Checksum([]byte("hello"), 1))
}

func TestChecksumTypes(t *testing.T) {
	for _, typ := range []ChecksumType{ChecksumTypeNone, ChecksumTypeCRC32c, ChecksumTypeXXHash64} {
		require.True(t, typ.Supported())
		parsed, err := ParseChecksumType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, parsed)
	}
	require.False(t, ChecksumType(2).Supported())
	require.Equal(t, "unknown(2)", ChecksumType(2).String())
	_, err := ParseChecksumType("md5")
	require.Error(t, err)
}

func compressiblePayload(n int) []byte {
	var buf bytes.Buffer
	for i := 0; buf.Len() < n; i++ {
		fmt.Fprintf(&buf, "key-%06d value-%06d;", i, i%17)
	}
	return buf.Bytes()[:n]
}

func randomPayload(n int) []byte {
	b := make([]byte, n)
	x := uint64(0x9e3779b97f4a7c15)
	for i := range b {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		b[i] = byte(x)
	}
	return b
}

// writeBlocks lays out physical blocks back to back and returns their handles.
func writeBlocks(
	t *testing.T, algo compression.Algorithm, checksumType ChecksumType, payloads ...[]byte,
) ([]byte, []Handle, []CompressionIndicator) {
	var p PhysicalBlockMaker
	p.Init(algo, DefaultMinReductionPercent, checksumType)
	defer p.Close()

	var file []byte
	var handles []Handle
	var indicators []CompressionIndicator
	for _, payload := range payloads {
		pb := p.Make(nil, payload, NoFlags)
		handles = append(handles, Handle{
			Offset: uint64(len(file)),
			Length: uint64(pb.LengthWithoutTrailer()),
		})
		indicators = append(indicators, pb.Compression)
		file = append(file, pb.Data...)
	}
	return file, handles, indicators
}

func TestReadRoundTrip(t *testing.T) {
	payloads := [][]byte{
		compressiblePayload(4096),
		randomPayload(4096),
		{},
		[]byte("tiny"),
	}
	for a := compression.NoCompression; a < compression.NumAlgorithms; a++ {
		for _, ct := range []ChecksumType{ChecksumTypeNone, ChecksumTypeCRC32c, ChecksumTypeXXHash64} {
			t.Run(fmt.Sprintf("%s/%s", a, ct), func(t *testing.T) {
				file, handles, indicators := writeBlocks(t, a, ct, payloads...)
				if a != compression.NoCompression {
					require.Equal(t, IndicatorFromAlgorithm(a), indicators[0])
				}
				// Random data and tiny blocks never shrink enough.
				require.Equal(t, NoCompressionIndicator, indicators[1])
				require.Equal(t, NoCompressionIndicator, indicators[3])

				var r Reader
				r.Init(objstorage.NewMemReadable(file), ct)
				for i, h := range handles {
					got, err := r.Read(nil, h)
					require.NoError(t, err)
					require.Equal(t, payloads[i], got)
				}
				require.Equal(t, uint64(len(handles)), r.Stats().BlocksRead.Load())
				require.Equal(t, uint64(len(file)), r.Stats().BytesRead.Load())
				require.NoError(t, r.Close())
			})
		}
	}
}

func TestDontCompress(t *testing.T) {
	var p PhysicalBlockMaker
	p.Init(compression.Snappy, DefaultMinReductionPercent, ChecksumTypeCRC32c)
	defer p.Close()
	payload := compressiblePayload(1000)
	pb := p.Make(nil, payload, DontCompress)
	require.Equal(t, NoCompressionIndicator, pb.Compression)
	require.Equal(t, payload, pb.Data[:pb.LengthWithoutTrailer()])
}

func TestMinReduction(t *testing.T) {
	payload := compressiblePayload(4096)
	c := MakeCompressor(compression.Snappy, 0)
	ci, out := c.Compress(nil, payload)
	c.Close()
	require.Equal(t, SnappyCompressionIndicator, ci)

	// Require a reduction that snappy cannot achieve.
	ratio := len(out) * 100 / len(payload)
	c = MakeCompressor(compression.Snappy, uint8(100-ratio+1))
	ci, out = c.Compress(nil, payload)
	c.Close()
	require.Equal(t, NoCompressionIndicator, ci)
	require.Equal(t, payload, out)
}

func TestChecksumMismatch(t *testing.T) {
	for _, ct := range []ChecksumType{ChecksumTypeCRC32c, ChecksumTypeXXHash64} {
		t.Run(ct.String(), func(t *testing.T) {
			file, handles, _ := writeBlocks(t, compression.Snappy, ct, compressiblePayload(512))
			file[10] ^= 0x04

			var r Reader
			r.Init(objstorage.NewMemReadable(file), ct)
			_, err := r.Read(nil, handles[0])
			require.Error(t, err)
			require.True(t, base.IsCorruptionError(err))
			require.Contains(t, err.Error(), "checksum mismatch")
		})
	}
}

func TestBitFlipDetection(t *testing.T) {
	data := []byte("some block contents\x00")
	sum := crc32c(data)
	data[3] ^= 1 << 5
	found, idx, bit := checkSliceForBitFlip(data, crc32c, sum)
	require.True(t, found)
	require.Equal(t, 3, idx)
	require.Equal(t, 5, bit)
}

func TestReadCorruptHandles(t *testing.T) {
	file, handles, _ := writeBlocks(t, compression.NoCompression, ChecksumTypeCRC32c, []byte("abc"))
	var r Reader
	r.Init(objstorage.NewMemReadable(file), ChecksumTypeCRC32c)

	_, err := r.Read(nil, Handle{Offset: handles[0].Offset, Length: handles[0].Length + 1})
	require.True(t, base.IsCorruptionError(err))

	_, err = r.Read(nil, Handle{Offset: math.MaxUint64 - 2, Length: 4})
	require.True(t, base.IsCorruptionError(err))
}

func TestUnknownCompressionIndicator(t *testing.T) {
	var c Checksummer
	c.Init(ChecksumTypeCRC32c)
	payload := []byte("payload")
	tr := MakeTrailer(byte(Lz4CompressionIndicator), c.Checksum(payload, byte(Lz4CompressionIndicator)))
	file := append(append([]byte(nil), payload...), tr[:]...)

	var r Reader
	r.Init(objstorage.NewMemReadable(file), ChecksumTypeCRC32c)
	_, err := r.Read(nil, Handle{Length: uint64(len(payload))})
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.Contains(t, err.Error(), "lz4")
}

func TestCompressionIndicatorAlgorithm(t *testing.T) {
	for a := compression.NoCompression; a < compression.NumAlgorithms; a++ {
		got, ok := IndicatorFromAlgorithm(a).Algorithm()
		require.True(t, ok)
		require.Equal(t, a, got)
		require.Equal(t, a.String(), IndicatorFromAlgorithm(a).String())
	}
	_, ok := Bzip2CompressionIndicator.Algorithm()
	require.False(t, ok)
	require.Equal(t, "unknown(42)", CompressionIndicator(42).String())
}

func TestReadRaw(t *testing.T) {
	r := objstorage.NewMemReadable([]byte("0123456789"))
	buf, err := ReadRaw(r, make([]byte, 4), 6)
	require.NoError(t, err)
	require.Equal(t, "6789", string(buf))

	_, err = ReadRaw(r, make([]byte, 11), 0)
	require.True(t, base.IsCorruptionError(err))
}
