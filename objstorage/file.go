// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"bufio"
	"os"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
)

// CreateOptions configure the file created by Create.
type CreateOptions struct {
	// NoSyncOnClose decides whether the implementation will enforce a
	// close-time synchronization on files it writes to. Setting this to true
	// removes the guarantee for a sync on close.
	NoSyncOnClose bool

	// BytesPerSync enables periodic syncing of files in order to smooth out
	// writes to disk. This option does not provide any persistence guarantee,
	// but is used to avoid latency spikes if the OS automatically decides to
	// write out a large chunk of dirty filesystem buffers.
	BytesPerSync int

	// DirectIO bypasses the OS page cache (see CreateDirect).
	DirectIO bool

	// BytesPerSecond throttles writes when positive (see
	// NewRateLimitedWritable).
	BytesPerSecond int64
}

// DefaultCreateOptions are default options, suitable for tests and tools.
var DefaultCreateOptions = CreateOptions{
	BytesPerSync: 512 * 1024, // 512 KB
}

// Create creates a new file at path and opens it for writing.
func Create(path string, opts CreateOptions) (Writable, error) {
	var w Writable
	if opts.DirectIO {
		dw, err := CreateDirect(path)
		if err != nil {
			return nil, err
		}
		w = dw
	} else {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|syscall.O_CLOEXEC, 0666)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		w = newBufferedWritable(f, opts)
	}
	if opts.BytesPerSecond > 0 {
		w = NewRateLimitedWritable(w, opts.BytesPerSecond)
	}
	return w, nil
}

type bufferedWritable struct {
	file *os.File
	bw   *bufio.Writer

	noSyncOnClose bool
	bytesPerSync  int64
	useSyncRange  bool
	offset        int64
	syncOffset    int64
}

var _ Writable = (*bufferedWritable)(nil)

func newBufferedWritable(file *os.File, opts CreateOptions) *bufferedWritable {
	return &bufferedWritable{
		file:          file,
		bw:            bufio.NewWriter(file),
		noSyncOnClose: opts.NoSyncOnClose,
		bytesPerSync:  int64(opts.BytesPerSync),
		useSyncRange:  isSyncRangeSupported(file.Fd()),
	}
}

// Write is part of the Writable interface.
func (w *bufferedWritable) Write(p []byte) (n int, err error) {
	n, err = w.bw.Write(p)
	w.offset += int64(n)
	if err != nil {
		return n, err
	}
	if w.bytesPerSync > 0 && w.offset-w.syncOffset >= w.bytesPerSync {
		if err := w.bw.Flush(); err != nil {
			return n, err
		}
		if err := w.syncTo(w.offset); err != nil {
			return n, err
		}
		w.syncOffset = w.offset
	}
	return n, nil
}

func (w *bufferedWritable) syncTo(offset int64) error {
	if w.useSyncRange {
		return syncRange(w.file.Fd(), offset)
	}
	return w.file.Sync()
}

// Sync is part of the Writable interface.
func (w *bufferedWritable) Sync() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close is part of the Writable interface.
func (w *bufferedWritable) Close() error {
	err := w.bw.Flush()
	if err == nil && !w.noSyncOnClose {
		err = w.file.Sync()
	}
	return errors.CombineErrors(err, w.file.Close())
}

// Open opens the file at path for reading.
func Open(path string) (Readable, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.WithStack(err)
	}
	_ = fadviseRandom(f.Fd())
	return &fileReadable{file: f, size: info.Size(), filename: path}, nil
}

// fileReadable implements Readable on top of an *os.File.
type fileReadable struct {
	file *os.File
	size int64

	// filename is used to open the file again with sequential read hints (see
	// readaheadHandle).
	filename string
}

var _ Readable = (*fileReadable)(nil)

// ReadAt is part of the Readable interface.
func (r *fileReadable) ReadAt(p []byte, off int64) (n int, err error) {
	return r.file.ReadAt(p, off)
}

// Close is part of the Readable interface.
func (r *fileReadable) Close() error {
	defer func() { r.file = nil }()
	return r.file.Close()
}

// Size is part of the Readable interface.
func (r *fileReadable) Size() int64 {
	return r.size
}

// NewReadaheadHandle is part of the Readable interface.
func (r *fileReadable) NewReadaheadHandle() ReadaheadHandle {
	rh := readaheadHandlePool.Get().(*readaheadHandle)
	rh.r = r
	rh.rs = readaheadState{size: initialReadaheadSize}
	return rh
}

type readaheadHandle struct {
	r  *fileReadable
	rs readaheadState

	// sequentialFile holds a file descriptor to the same underlying file,
	// except with fadvise(FADV_SEQUENTIAL) called on it to take advantage of
	// OS-level readahead. Once this is non-nil, the other variables in
	// readaheadState don't matter much as we defer to OS-level readahead.
	sequentialFile *os.File
}

var _ ReadaheadHandle = (*readaheadHandle)(nil)

var readaheadHandlePool = sync.Pool{
	New: func() interface{} {
		return &readaheadHandle{}
	},
}

// Close is part of the ReadaheadHandle interface.
func (rh *readaheadHandle) Close() error {
	var err error
	if rh.sequentialFile != nil {
		err = rh.sequentialFile.Close()
	}
	*rh = readaheadHandle{}
	readaheadHandlePool.Put(rh)
	return err
}

// ReadAt is part of the ReadaheadHandle interface.
func (rh *readaheadHandle) ReadAt(p []byte, offset int64) (n int, err error) {
	if rh.sequentialFile != nil {
		// Use OS-level read-ahead.
		return rh.sequentialFile.ReadAt(p, offset)
	}
	if readaheadSize := rh.rs.maybeReadahead(offset, int64(len(p))); readaheadSize > 0 {
		if readaheadSize >= maxReadaheadSize {
			// We've reached the maximum readahead size. Beyond this point, rely on
			// OS-level readahead.
			rh.MaxReadahead()
		} else {
			_ = prefetch(rh.r.file.Fd(), offset, readaheadSize)
		}
	}
	return rh.r.file.ReadAt(p, offset)
}

// MaxReadahead is part of the ReadaheadHandle interface.
func (rh *readaheadHandle) MaxReadahead() {
	if rh.sequentialFile != nil {
		return
	}
	f, err := os.OpenFile(rh.r.filename, os.O_RDONLY|syscall.O_CLOEXEC, 0)
	if err == nil {
		_ = fadviseSequential(f.Fd())
		rh.sequentialFile = f
	}
}

// RecordCacheHit is part of the ReadaheadHandle interface.
func (rh *readaheadHandle) RecordCacheHit(offset, size int64) {
	if rh.sequentialFile != nil {
		// Using OS-level readahead, so do nothing.
		return
	}
	rh.rs.recordCacheHit(offset, size)
}
