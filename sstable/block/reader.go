// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"io"
	"sync/atomic"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/errors"
)

// A Reader reads blocks from a single file, handling checksum validation and
// decompression.
type Reader struct {
	readable     objstorage.Readable
	checksumType ChecksumType
	stats        ReadStats
}

// ReadStats counts the physical reads issued through a Reader.
type ReadStats struct {
	BlocksRead atomic.Uint64
	BytesRead  atomic.Uint64
}

// Init initializes the Reader to read blocks from the provided Readable.
func (r *Reader) Init(readable objstorage.Readable, checksumType ChecksumType) {
	r.readable = readable
	r.checksumType = checksumType
}

// ChecksumType returns the checksum type used by the reader.
func (r *Reader) ChecksumType() ChecksumType {
	return r.checksumType
}

// Stats returns the reader's counters.
func (r *Reader) Stats() *ReadStats {
	return &r.stats
}

// Readable returns the underlying objstorage.Readable.
func (r *Reader) Readable() objstorage.Readable {
	return r.readable
}

// Read reads the block referenced by the provided handle, verifies its
// checksum and decompresses it. The readAt is optional and defaults to the
// Readable; iterators pass a read-ahead handle. The returned slice is owned by
// the caller.
func (r *Reader) Read(readAt io.ReaderAt, bh Handle) ([]byte, error) {
	if readAt == nil {
		readAt = r.readable
	}
	if bh.End() > uint64(r.readable.Size()) || bh.End() < bh.Offset {
		return nil, base.CorruptionErrorf("block %d/%d: extends past end of file (size %d)",
			errors.Safe(bh.Offset), errors.Safe(bh.Length), errors.Safe(r.readable.Size()))
	}
	b := make([]byte, bh.Length+TrailerLen)
	if _, err := readAt.ReadAt(b, int64(bh.Offset)); err != nil {
		return nil, errors.Wrapf(err, "reading block %d/%d", errors.Safe(bh.Offset), errors.Safe(bh.Length))
	}
	r.stats.BlocksRead.Add(1)
	r.stats.BytesRead.Add(uint64(len(b)))
	if err := ValidateChecksum(r.checksumType, b, bh); err != nil {
		return nil, err
	}
	typ := CompressionIndicator(b[bh.Length])
	data, err := Decompress(typ, b[:bh.Length])
	if err != nil {
		return nil, errors.Wrapf(err, "block %d/%d", errors.Safe(bh.Offset), errors.Safe(bh.Length))
	}
	return data, nil
}

// Close releases resources associated with the Reader, closing the Readable.
func (r *Reader) Close() error {
	var err error
	if r.readable != nil {
		err = r.readable.Close()
		r.readable = nil
	}
	return err
}

// ReadRaw reads len(buf) bytes from the provided Readable at the given offset
// into buf. It's used to read the footer of a table.
func ReadRaw(f objstorage.Readable, buf []byte, off int64) ([]byte, error) {
	size := f.Size()
	if size < int64(len(buf)) {
		return nil, base.CorruptionErrorf("invalid table (file size is too small)")
	}
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, errors.Wrap(err, "invalid table (could not read footer)")
	}
	return buf, nil
}
