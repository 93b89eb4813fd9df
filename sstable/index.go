// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
)

// indexWriter accumulates one (separator, handle) entry per data block.
type indexWriter struct {
	block rowblk.Writer
	tmp   [block.MaxHandleLen]byte
}

func (w *indexWriter) init(restartInterval int) {
	w.block.RestartInterval = restartInterval
}

// add records bh under sep, which must be >= every key of the block and < every
// key of the following block.
func (w *indexWriter) add(sep base.InternalKey, bh block.Handle) error {
	n := bh.EncodeVarints(w.tmp[:])
	return w.block.Add(sep, w.tmp[:n])
}

func (w *indexWriter) entryCount() int {
	return w.block.EntryCount()
}

func (w *indexWriter) estimatedSize() int {
	return w.block.EstimatedSize()
}

func (w *indexWriter) finish() []byte {
	return w.block.Finish()
}

// indexReader resolves keys to data block handles.
type indexReader struct {
	cmp  base.Compare
	data []byte
}

func (r *indexReader) init(cmp base.Compare, data []byte) error {
	r.cmp = cmp
	r.data = data
	// Validate the block up front so that iterators can assume a well-formed
	// restart array.
	var it rowblk.Iter
	if err := it.Init(cmp, data, base.SeqNumDisableGlobal); err != nil {
		return errors.Wrap(err, "index block")
	}
	return nil
}

// newIter returns an iterator over the index entries.
func (r *indexReader) newIter(it *rowblk.Iter) error {
	return it.Init(r.cmp, r.data, base.SeqNumDisableGlobal)
}

// find returns the handle of the first block whose separator is >= target, an
// encoded internal key. ok is false if target is greater than every
// separator.
func (r *indexReader) find(target []byte) (bh block.Handle, ok bool, err error) {
	var it rowblk.Iter
	if err := r.newIter(&it); err != nil {
		return block.Handle{}, false, err
	}
	if !it.SeekGE(target) {
		return block.Handle{}, false, it.Error()
	}
	bh, err = decodeIndexValue(it.Value())
	return bh, err == nil, err
}

// numEntries returns the number of data blocks referenced by the index.
func (r *indexReader) numEntries() (int, error) {
	var it rowblk.Iter
	if err := r.newIter(&it); err != nil {
		return 0, err
	}
	n := 0
	for valid := it.First(); valid; valid = it.Next() {
		n++
	}
	return n, it.Error()
}

func decodeIndexValue(v []byte) (block.Handle, error) {
	bh, err := block.DecodeHandleExact(v)
	if err != nil {
		return block.Handle{}, base.MarkCorruptionError(errors.Wrap(err, "index entry"))
	}
	return bh, nil
}
