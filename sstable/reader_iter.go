// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"fmt"
	"iter"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
)

// Iterator iterates over the point keys of a table. It is a two-level
// iterator: the index iterator selects a data block and the data iterator
// walks the entries of that block.
//
// The key and value returned at a position remain valid until the next
// positioning call. An Iterator is not safe for concurrent use.
type Iterator struct {
	reader *Reader
	cmp    base.Compare
	index  rowblk.Iter
	data   rowblk.Iter
	// dataBH is the handle of the block loaded into data. dataLoaded is false
	// if no block is loaded.
	dataBH     block.Handle
	dataLoaded bool
	readahead  objstorage.ReadaheadHandle
	err        error
	searchBuf  []byte
	closed     bool
}

var _ fmt.Stringer = (*Iterator)(nil)

// String implements fmt.Stringer.
func (i *Iterator) String() string {
	return fmt.Sprintf("sstable iterator (block %d)", i.dataBH.Offset)
}

// loadBlock loads the data block referenced by the index iterator's current
// entry. It returns false and sets i.err on failure.
func (i *Iterator) loadBlock() bool {
	bh, err := decodeIndexValue(i.index.Value())
	if err != nil {
		i.err = err
		return false
	}
	if i.dataLoaded && bh == i.dataBH {
		return true
	}
	i.dataLoaded = false
	i.data.Invalidate()
	blk, err := i.reader.readBlock(i.readahead, bh)
	if err != nil {
		i.err = errors.Wrapf(err, "data block at offset %d", errors.Safe(bh.Offset))
		return false
	}
	if err := i.data.Init(i.cmp, blk, i.reader.globalSeqNum); err != nil {
		i.err = errors.Wrapf(err, "data block at offset %d", errors.Safe(bh.Offset))
		return false
	}
	i.dataBH = bh
	i.dataLoaded = true
	return true
}

// dataErr moves a data or index iterator error to i.err and reports whether
// one was found.
func (i *Iterator) dataErr() bool {
	if err := i.data.Error(); err != nil {
		i.err = err
		return true
	}
	if err := i.index.Error(); err != nil {
		i.err = err
		return true
	}
	return false
}

// skipForward moves to the first entry of the following non-empty block when
// the data iterator is exhausted.
func (i *Iterator) skipForward(valid bool) bool {
	for !valid {
		if i.dataErr() || !i.index.Next() {
			i.dataErr()
			i.dataLoaded = false
			return false
		}
		if !i.loadBlock() {
			return false
		}
		valid = i.data.First()
	}
	return true
}

// skipBackward moves to the last entry of the preceding non-empty block when
// the data iterator is exhausted.
func (i *Iterator) skipBackward(valid bool) bool {
	for !valid {
		if i.dataErr() || !i.index.Prev() {
			i.dataErr()
			i.dataLoaded = false
			return false
		}
		if !i.loadBlock() {
			return false
		}
		valid = i.data.Last()
	}
	return true
}

func (i *Iterator) searchKey(userKey []byte) []byte {
	i.searchBuf = base.MakeSearchKey(userKey).Append(i.searchBuf[:0])
	return i.searchBuf
}

// SeekGE moves the iterator to the first key whose user key is greater than
// or equal to userKey.
func (i *Iterator) SeekGE(userKey []byte) bool {
	if i.err != nil {
		return false
	}
	search := i.searchKey(userKey)
	return i.seekGE(search, search)
}

// SeekInternalGE moves the iterator to the first internal key greater than or
// equal to key.
func (i *Iterator) SeekInternalGE(key base.InternalKey) bool {
	if i.err != nil {
		return false
	}
	// Index separators are compared against the newest possible version of
	// the user key. Older versions of that key may continue into later blocks,
	// which seekGE walks with the full internal key.
	indexKey := i.searchKey(key.UserKey)
	return i.seekGE(indexKey, key.Append(nil))
}

func (i *Iterator) seekGE(indexKey, dataKey []byte) bool {
	if !i.index.SeekGE(indexKey) {
		i.dataErr()
		i.dataLoaded = false
		return false
	}
	if !i.loadBlock() {
		return false
	}
	// Every entry of a later block sorts after indexKey but not necessarily
	// after dataKey, so each block is searched with dataKey.
	for !i.data.SeekGE(dataKey) {
		if i.dataErr() || !i.index.Next() {
			i.dataErr()
			i.dataLoaded = false
			return false
		}
		if !i.loadBlock() {
			return false
		}
	}
	return true
}

// SeekLT moves the iterator to the last key whose user key is less than
// userKey.
func (i *Iterator) SeekLT(userKey []byte) bool {
	if i.err != nil {
		return false
	}
	search := i.searchKey(userKey)
	// The last key < userKey is in the first block whose separator is >=
	// userKey or in a block before it.
	if !i.index.SeekGE(search) {
		if i.dataErr() || !i.index.Last() {
			i.dataErr()
			i.dataLoaded = false
			return false
		}
	}
	if !i.loadBlock() {
		return false
	}
	return i.skipBackward(i.data.SeekLT(search))
}

// First moves the iterator to the first key of the table.
func (i *Iterator) First() bool {
	if i.err != nil {
		return false
	}
	if !i.index.First() {
		i.dataErr()
		i.dataLoaded = false
		return false
	}
	if !i.loadBlock() {
		return false
	}
	return i.skipForward(i.data.First())
}

// Last moves the iterator to the last key of the table.
func (i *Iterator) Last() bool {
	if i.err != nil {
		return false
	}
	if !i.index.Last() {
		i.dataErr()
		i.dataLoaded = false
		return false
	}
	if !i.loadBlock() {
		return false
	}
	return i.skipBackward(i.data.Last())
}

// Next moves the iterator to the next key. It must only be called on a valid
// iterator.
func (i *Iterator) Next() bool {
	if i.err != nil || !i.dataLoaded {
		return false
	}
	return i.skipForward(i.data.Next())
}

// Prev moves the iterator to the previous key. It must only be called on a
// valid iterator.
func (i *Iterator) Prev() bool {
	if i.err != nil || !i.dataLoaded {
		return false
	}
	return i.skipBackward(i.data.Prev())
}

// Valid returns true if the iterator is positioned at a key.
func (i *Iterator) Valid() bool {
	return i.err == nil && i.dataLoaded && i.data.Valid()
}

// Key returns the key at the current position.
func (i *Iterator) Key() base.InternalKey {
	return i.data.Key()
}

// Value returns the value at the current position.
func (i *Iterator) Value() []byte {
	return i.data.Value()
}

// Error returns the first error encountered. An iterator with an error stays
// invalid.
func (i *Iterator) Error() error {
	return i.err
}

// Close releases the iterator's resources. It returns the iterator's error,
// if any.
func (i *Iterator) Close() error {
	if i.closed {
		return i.err
	}
	i.closed = true
	err := i.err
	if i.readahead != nil {
		err = errors.CombineErrors(err, i.readahead.Close())
		i.readahead = nil
	}
	_ = i.index.Close()
	_ = i.data.Close()
	i.dataLoaded = false
	if i.err == nil {
		i.err = errors.New("blocktable: iterator is closed")
	}
	return err
}

// All returns an iterator over every key and value of the table in order. The
// caller should check Error afterwards.
func (i *Iterator) All() iter.Seq2[base.InternalKey, []byte] {
	return func(yield func(base.InternalKey, []byte) bool) {
		for valid := i.First(); valid; valid = i.Next() {
			if !yield(i.Key(), i.Value()) {
				return
			}
		}
	}
}
