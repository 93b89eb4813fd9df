// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package objstorage provides the file handles that tables are written to and
// read from.
package objstorage // import "github.com/cockroachdb/blocktable/objstorage"

import "io"

// Readable is the handle for an object that is open for reading.
type Readable interface {
	io.ReaderAt
	io.Closer

	// Size returns the size of the object.
	Size() int64

	// NewReadaheadHandle creates a read-ahead handle which encapsulates
	// read-ahead state. To benefit from read-ahead, ReadaheadHandle.ReadAt must
	// be used (as opposed to Readable.ReadAt).
	//
	// The ReadaheadHandle must be closed before the Readable is closed.
	//
	// Multiple separate ReadaheadHandles can be used.
	NewReadaheadHandle() ReadaheadHandle
}

// ReadaheadHandle is used to perform reads that might benefit from read-ahead.
type ReadaheadHandle interface {
	io.ReaderAt
	io.Closer

	// MaxReadahead configures the implementation to expect large sequential
	// reads. Used to skip any initial read-ahead ramp-up.
	MaxReadahead()

	// RecordCacheHit informs the implementation that we were able to retrieve a
	// block from cache.
	RecordCacheHit(offset, size int64)
}

// Writable is the handle for an object that is open for writing.
type Writable interface {
	// Unlike the specification for io.Writer.Write(), the Writable.Write()
	// method *is* allowed to modify the slice passed in, whether temporarily
	// or permanently. Callers of Write() need to take this into account.
	io.Writer
	io.Closer

	Sync() error
}

// NoopReadaheadHandle can be used by Readable implementations that don't
// support read-ahead.
type NoopReadaheadHandle struct {
	io.ReaderAt
}

// MakeNoopReadaheadHandle initializes a NoopReadaheadHandle.
func MakeNoopReadaheadHandle(r io.ReaderAt) NoopReadaheadHandle {
	return NoopReadaheadHandle{ReaderAt: r}
}

var _ ReadaheadHandle = (*NoopReadaheadHandle)(nil)

// Close is part of the ReadaheadHandle interface.
func (*NoopReadaheadHandle) Close() error { return nil }

// MaxReadahead is part of the ReadaheadHandle interface.
func (*NoopReadaheadHandle) MaxReadahead() {}

// RecordCacheHit is part of the ReadaheadHandle interface.
func (*NoopReadaheadHandle) RecordCacheHit(offset, size int64) {}
