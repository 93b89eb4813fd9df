// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"io"

	"github.com/cockroachdb/errors"
)

// MemObj is an in-memory object. It is a Writable while a table is being
// built and can then be opened for reading with NewMemReadable.
type MemObj struct {
	buf    []byte
	closed bool
}

var _ Writable = (*MemObj)(nil)

// Write is part of the Writable interface.
func (o *MemObj) Write(p []byte) (int, error) {
	if o.closed {
		return 0, errors.New("blocktable: write to closed object")
	}
	o.buf = append(o.buf, p...)
	return len(p), nil
}

// Sync is part of the Writable interface.
func (o *MemObj) Sync() error { return nil }

// Close is part of the Writable interface.
func (o *MemObj) Close() error {
	o.closed = true
	return nil
}

// Data returns the bytes written so far.
func (o *MemObj) Data() []byte {
	return o.buf
}

// MemReadable implements Readable over a byte slice.
type MemReadable struct {
	data []byte
	rh   NoopReadaheadHandle
}

var _ Readable = (*MemReadable)(nil)

// NewMemReadable returns a Readable over data. The slice is not copied.
func NewMemReadable(data []byte) *MemReadable {
	r := &MemReadable{data: data}
	r.rh = MakeNoopReadaheadHandle(r)
	return r
}

// ReadAt is part of the Readable interface.
func (r *MemReadable) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("blocktable: negative offset")
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close is part of the Readable interface.
func (r *MemReadable) Close() error { return nil }

// Size is part of the Readable interface.
func (r *MemReadable) Size() int64 { return int64(len(r.data)) }

// NewReadaheadHandle is part of the Readable interface.
func (r *MemReadable) NewReadaheadHandle() ReadaheadHandle { return &r.rh }
