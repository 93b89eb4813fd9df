// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"io"
	"strings"

	"github.com/cockroachdb/blocktable/bloom"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
)

// Reader is a table reader.
type Reader struct {
	blockReader block.Reader
	opts        ReaderOptions
	comparer    *base.Comparer
	footer      footer
	metaIndex   *metaIndex
	index       indexReader
	tableFilter *tableFilterReader
	blockFilter *blockFilterReader
	// filterBH and filterName describe the filter block, if any.
	filterBH     block.Handle
	filterName   string
	propertiesBH block.Handle
	rangeDelBH   block.Handle
	rangeDel     []byte
	globalSeqNum base.SeqNum

	Properties Properties
}

// NewReader returns a new table reader for the file. Closing the reader will
// close the file. The file is also closed if NewReader fails.
func NewReader(f objstorage.Readable, o ReaderOptions) (*Reader, error) {
	r := &Reader{
		opts:         o.ensureDefaults(),
		globalSeqNum: base.SeqNumDisableGlobal,
	}
	r.comparer = r.opts.Comparer
	if err := r.init(f); err != nil {
		return nil, errors.CombineErrors(err, f.Close())
	}
	return r, nil
}

func (r *Reader) init(f objstorage.Readable) error {
	footer, err := readFooter(f)
	if err != nil {
		return err
	}
	r.footer = footer
	r.blockReader.Init(f, footer.checksum)

	metaindexData, err := r.readBlock(nil, footer.metaindexBH)
	if err != nil {
		return errors.Wrap(err, "reading metaindex")
	}
	if r.metaIndex, err = readMetaIndex(metaindexData); err != nil {
		return err
	}

	if bh, ok := r.metaIndex.get(metaPropertiesName); ok {
		data, err := r.readBlock(nil, bh)
		if err != nil {
			return errors.Wrap(err, "reading properties")
		}
		if r.Properties, err = readProperties(data); err != nil {
			return err
		}
		r.propertiesBH = bh
	}

	if name := r.Properties.ComparerName; name != "" && name != r.comparer.Name {
		comparer, ok := r.opts.Comparers[name]
		if !ok {
			return errors.Errorf("blocktable: table was written with comparer %q, which is not available", errors.Safe(name))
		}
		r.comparer = comparer.EnsureDefaults()
	}

	if err := r.initFilter(); err != nil {
		return err
	}

	indexData, err := r.readBlock(nil, footer.indexBH)
	if err != nil {
		return errors.Wrap(err, "reading index")
	}
	if err := r.index.init(r.comparer.Compare, indexData); err != nil {
		return err
	}

	if bh, ok := r.metaIndex.get(metaRangeDelName); ok {
		if r.rangeDel, err = r.readBlock(nil, bh); err != nil {
			return errors.Wrap(err, "reading range deletions")
		}
		r.rangeDelBH = bh
	}

	if r.Properties.ExternalFileVersion >= externalFileVersion2 {
		switch {
		case r.Properties.GlobalSeqNum != 0:
			r.globalSeqNum = base.SeqNum(r.Properties.GlobalSeqNum)
		case r.opts.GlobalSeqNum != 0:
			r.globalSeqNum = r.opts.GlobalSeqNum
		}
		if r.globalSeqNum != base.SeqNumDisableGlobal && r.globalSeqNum > base.SeqNumMax {
			return base.CorruptionErrorf("global sequence number %d is out of range", errors.Safe(r.globalSeqNum))
		}
	} else if r.opts.GlobalSeqNum != 0 {
		r.opts.Logger.Infof("ignoring global sequence number %d for a table that was not built for ingestion",
			r.opts.GlobalSeqNum)
	}
	return nil
}

// initFilter loads the whole-table filter, or failing that the per-block
// filter. A table whose filter cannot be used is read without one.
func (r *Reader) initFilter() error {
	name, policy, full, ok := r.findFilter()
	if !ok {
		return nil
	}
	bh, _ := r.metaIndex.get(name)
	data, err := r.readBlock(nil, bh)
	if err != nil {
		return errors.Wrap(err, "reading filter")
	}
	if full {
		r.tableFilter = newTableFilterReader(policy, data, r.opts.FilterMetrics)
	} else {
		f := &blockFilterReader{}
		if !f.init(data, policy, r.opts.FilterMetrics) {
			r.opts.Logger.Errorf("filter block %q is malformed; reading without a filter", name)
			return nil
		}
		r.blockFilter = f
	}
	r.filterBH = bh
	r.filterName = name
	return nil
}

// findFilter returns the meta block name of the table's filter and the policy
// that reads it. Each configured policy is looked up under its whole-table
// name and then its per-block name. Failing that, filters written by a bloom
// policy are recognized by name.
func (r *Reader) findFilter() (name string, policy base.FilterPolicy, full bool, ok bool) {
	lookup := func(p base.FilterPolicy) bool {
		if n := metaFullFilterPrefix + p.Name(); r.hasMetaBlock(n) {
			name, policy, full = n, p, true
			return true
		}
		if n := metaFilterPrefix + p.Name(); r.hasMetaBlock(n) {
			name, policy, full = n, p, false
			return true
		}
		return false
	}
	for _, p := range r.opts.filterPolicies() {
		if lookup(p) {
			return name, policy, full, true
		}
	}

	var unknown []string
	for _, n := range r.metaIndex.names() {
		policyName, found := strings.CutPrefix(n, metaFullFilterPrefix)
		if !found {
			if policyName, found = strings.CutPrefix(n, metaFilterPrefix); !found {
				continue
			}
		}
		if p, known := bloom.PolicyFromName(policyName); known && lookup(p) {
			return name, policy, full, true
		}
		unknown = append(unknown, policyName)
	}
	if len(unknown) > 0 {
		r.opts.Logger.Infof("filter policy %q is not available; reading without a filter", unknown[0])
	}
	return "", nil, false, false
}

func (r *Reader) hasMetaBlock(name string) bool {
	_, ok := r.metaIndex.get(name)
	return ok
}

// readBlock reads, checksums and decompresses the block at bh. readAt may be
// nil. Reads taking at least base.SlowReadThreshold are logged.
func (r *Reader) readBlock(readAt io.ReaderAt, bh block.Handle) ([]byte, error) {
	sw := base.MakeStopwatch()
	data, err := r.blockReader.Read(readAt, bh)
	if d := sw.Stop(); d >= base.SlowReadThreshold {
		r.opts.Logger.Infof("slow block read %d/%d: %s", bh.Offset, bh.Length, d)
	}
	return data, err
}

// Close closes the reader and the underlying file.
func (r *Reader) Close() error {
	return r.blockReader.Close()
}

// Comparer returns the comparer the table was written with.
func (r *Reader) Comparer() *base.Comparer {
	return r.comparer
}

// TableFormat returns the format of the table.
func (r *Reader) TableFormat() TableFormat {
	return r.footer.format
}

// GlobalSeqNum returns the sequence number applied to every key of the table,
// or base.SeqNumDisableGlobal.
func (r *Reader) GlobalSeqNum() base.SeqNum {
	return r.globalSeqNum
}

// Get returns the value for the newest version of the given user key. It
// returns base.ErrNotFound if the table does not contain the key or if its
// newest version is a deletion. The returned value is owned by the caller.
func (r *Reader) Get(key []byte) ([]byte, error) {
	if r.tableFilter != nil && !r.tableFilter.mayContain(key) {
		return nil, base.ErrNotFound
	}

	search := base.MakeSearchKey(key).Append(nil)
	bh, ok, err := r.index.find(search)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, base.ErrNotFound
	}
	// The separator of a block is shorter than or equal to the first user key
	// of the next block, so the newest version of key, if present, is in the
	// block found.
	if r.blockFilter != nil && !r.blockFilter.mayContain(bh.Offset, key) {
		return nil, base.ErrNotFound
	}

	data, err := r.readBlock(nil, bh)
	if err != nil {
		return nil, err
	}
	var it rowblk.Iter
	if err := it.Init(r.comparer.Compare, data, r.globalSeqNum); err != nil {
		return nil, err
	}
	valid, ok := it.SeekUsingHash(search)
	if !ok {
		valid = it.SeekGE(search)
	}
	if !valid {
		if err := it.Error(); err != nil {
			return nil, err
		}
		return nil, base.ErrNotFound
	}
	ikey := it.Key()
	if !r.comparer.Equal(key, ikey.UserKey) || ikey.Kind() == base.InternalKeyKindDelete {
		return nil, base.ErrNotFound
	}
	return it.Value(), nil
}

// NewIter returns an iterator over the point keys of the table. The iterator
// is unpositioned.
func (r *Reader) NewIter() *Iterator {
	it := &Iterator{reader: r, cmp: r.comparer.Compare}
	it.readahead = r.blockReader.Readable().NewReadaheadHandle()
	it.err = r.index.newIter(&it.index)
	return it
}

// NewRangeDelIter returns an iterator over the range deletion tombstones of
// the table, or nil if there are none. The key of each entry is the start of
// the tombstone and the value is its exclusive end key.
func (r *Reader) NewRangeDelIter() (*rowblk.Iter, error) {
	if r.rangeDel == nil {
		return nil, nil
	}
	return rowblk.NewIter(r.comparer.Compare, r.rangeDel, r.globalSeqNum)
}

// ValidateChecksums reads every block of the table, verifying its checksum.
func (r *Reader) ValidateChecksums() error {
	l, err := r.Layout()
	if err != nil {
		return err
	}
	for _, bh := range l.Handles() {
		if _, err := r.readBlock(nil, bh.Handle); err != nil {
			return errors.Wrapf(err, "%s block", errors.Safe(bh.Kind))
		}
	}
	if r.propertiesBH.Length != 0 {
		n, err := r.index.numEntries()
		if err != nil {
			return errors.Wrap(err, "index block")
		}
		if uint64(n) != r.Properties.NumDataBlocks {
			return base.CorruptionErrorf("index references %d data blocks, properties record %d",
				errors.Safe(n), errors.Safe(r.Properties.NumDataBlocks))
		}
	}
	return nil
}
