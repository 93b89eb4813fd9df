// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ncw/directio"
)

// directBufferSize is the size of the aligned buffer used by direct writes.
const directBufferSize = 64 * directio.BlockSize

// directWritable writes a file opened with O_DIRECT. Writes are staged in an
// aligned buffer and issued in multiples of directio.BlockSize. The final
// partial block is padded when the file is closed, and the file is then
// truncated to its logical size.
type directWritable struct {
	file *os.File
	buf  []byte
	n    int
	// size is the logical number of bytes written.
	size int64
}

var _ Writable = (*directWritable)(nil)

// CreateDirect creates a new file at path that bypasses the OS page cache.
// Not every filesystem supports direct I/O; tmpfs, for example, rejects it.
func CreateDirect(path string) (Writable, error) {
	f, err := directio.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s for direct I/O", path)
	}
	return &directWritable{
		file: f,
		buf:  directio.AlignedBlock(directBufferSize),
	}, nil
}

// Write is part of the Writable interface.
func (w *directWritable) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		c := copy(w.buf[w.n:], p)
		w.n += c
		p = p[c:]
		written += c
		w.size += int64(c)
		if w.n == len(w.buf) {
			if err := w.flushBlocks(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// flushBlocks writes every complete block in the buffer and moves the
// trailing partial block to the front.
func (w *directWritable) flushBlocks() error {
	full := w.n - w.n%directio.BlockSize
	if full == 0 {
		return nil
	}
	if _, err := w.file.Write(w.buf[:full]); err != nil {
		return errors.WithStack(err)
	}
	w.n = copy(w.buf, w.buf[full:w.n])
	return nil
}

// Sync is part of the Writable interface. Bytes of a trailing partial block
// remain buffered until Close.
func (w *directWritable) Sync() error {
	if err := w.flushBlocks(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close is part of the Writable interface.
func (w *directWritable) Close() error {
	err := w.flushBlocks()
	if err == nil && w.n > 0 {
		padded := w.buf[:directio.BlockSize]
		clear(padded[w.n:])
		if _, werr := w.file.Write(padded); werr != nil {
			err = errors.WithStack(werr)
		} else {
			w.n = 0
		}
	}
	if err == nil {
		err = w.file.Truncate(w.size)
	}
	if err == nil {
		err = w.file.Sync()
	}
	return errors.CombineErrors(err, w.file.Close())
}
