// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
)

var errWriterClosed = errors.New("blocktable: writer is closed")

// WriterMetadata holds info about a finished sstable.
type WriterMetadata struct {
	Size             uint64
	SmallestPoint    base.InternalKey
	LargestPoint     base.InternalKey
	SmallestRangeDel base.InternalKey
	LargestRangeDel  base.InternalKey
	HasPointKeys     bool
	HasRangeDelKeys  bool
	SmallestSeqNum   base.SeqNum
	LargestSeqNum    base.SeqNum
	Properties       Properties
}

func (m *WriterMetadata) updateSeqNum(seqNum base.SeqNum) {
	if m.SmallestSeqNum > seqNum {
		m.SmallestSeqNum = seqNum
	}
	if m.LargestSeqNum < seqNum {
		m.LargestSeqNum = seqNum
	}
}

// Smallest returns the smaller of SmallestPoint and SmallestRangeDel.
func (m *WriterMetadata) Smallest(cmp base.Compare) base.InternalKey {
	if !m.HasPointKeys {
		return m.SmallestRangeDel
	}
	if !m.HasRangeDelKeys || base.InternalCompare(cmp, m.SmallestPoint, m.SmallestRangeDel) < 0 {
		return m.SmallestPoint
	}
	return m.SmallestRangeDel
}

// Largest returns the larger of LargestPoint and LargestRangeDel.
func (m *WriterMetadata) Largest(cmp base.Compare) base.InternalKey {
	if !m.HasPointKeys {
		return m.LargestRangeDel
	}
	if !m.HasRangeDelKeys || base.InternalCompare(cmp, m.LargestPoint, m.LargestRangeDel) > 0 {
		return m.LargestPoint
	}
	return m.LargestRangeDel
}

// Writer is a table writer.
type Writer struct {
	writable objstorage.Writable
	opts     WriterOptions
	comparer *base.Comparer
	// blockSizeThreshold is BlockSizeThreshold percent of BlockSize, in bytes.
	blockSizeThreshold int
	err                error
	meta               WriterMetadata
	// offset is the offset in the file of the next block to be written.
	offset uint64
	// lastPointKey is the last point key added, owned by the writer.
	lastPointKey base.InternalKey

	dataBlock     rowblk.Writer
	rangeDelBlock rowblk.Writer
	index         indexWriter
	filter        filterWriter
	// indexEntrySep holds the separator of the last index entry.
	indexEntrySep []byte
	blockMaker    block.PhysicalBlockMaker
	blockBuf      []byte
	props         Properties
}

// NewWriter returns a new table writer for the file. Closing the writer will
// close the file.
func NewWriter(writable objstorage.Writable, o WriterOptions) *Writer {
	o = o.ensureDefaults()
	w := &Writer{
		writable:           writable,
		opts:               o,
		comparer:           o.Comparer,
		blockSizeThreshold: (o.BlockSize*o.BlockSizeThreshold + 99) / 100,
		meta: WriterMetadata{
			SmallestSeqNum: base.SeqNumMax,
		},
	}
	w.dataBlock.RestartInterval = o.BlockRestartInterval
	if o.DataBlockIndexType == DataBlockBinaryAndHash {
		w.dataBlock.HashIndexUtilRatio = o.HashIndexUtilRatio
	}
	w.rangeDelBlock.RestartInterval = 1
	w.index.init(o.IndexBlockRestartInterval)
	w.blockMaker.Init(o.Compression.Algorithm(), o.MinReductionPercent, o.Checksum)

	if o.FilterPolicy != nil {
		switch o.FilterType {
		case base.TableFilter:
			w.filter = newTableFilterWriter(o.FilterPolicy, w.comparer.Equal)
		case base.BlockFilter:
			w.filter = newBlockFilterWriter(o.FilterPolicy)
		default:
			panic(errors.AssertionFailedf("unknown filter type: %v", o.FilterType))
		}
	}

	w.props.ComparerName = w.comparer.Name
	w.props.CompressionName = o.Compression.String()
	w.props.MergerName = o.Merger.Name
	w.props.DBSessionID = o.DBSessionID
	w.props.DataBlockIndexType = uint32(o.DataBlockIndexType)
	w.props.IndexType = binarySearchIndex
	w.props.UserProperties = o.UserProperties
	if o.ExternalFile {
		w.props.ExternalFileVersion = externalFileVersion2
	}
	if w.filter != nil {
		w.props.FilterPolicyName = w.filter.policyName()
	}
	return w
}

// Set sets the value for the given key. The sequence number is set to 0.
// Intended for use to externally construct an sstable before ingestion into a
// DB.
func (w *Writer) Set(key, value []byte) error {
	if w.err != nil {
		return w.err
	}
	return w.Add(base.MakeInternalKey(key, 0, base.InternalKeyKindSet), value)
}

// Delete deletes the value for the given key. The sequence number is set to
// 0. Intended for use to externally construct an sstable before ingestion into
// a DB.
func (w *Writer) Delete(key []byte) error {
	if w.err != nil {
		return w.err
	}
	return w.Add(base.MakeInternalKey(key, 0, base.InternalKeyKindDelete), nil)
}

// Merge adds a merge operand for the given key. The sequence number is set to
// 0. Intended for use to externally construct an sstable before ingestion into
// a DB.
func (w *Writer) Merge(key, value []byte) error {
	if w.err != nil {
		return w.err
	}
	return w.Add(base.MakeInternalKey(key, 0, base.InternalKeyKindMerge), value)
}

// DeleteRange deletes all of the keys (and values) in the range [start,end)
// (inclusive on start, exclusive on end). The sequence number is set to 0.
// Intended for use to externally construct an sstable before ingestion into a
// DB.
func (w *Writer) DeleteRange(start, end []byte) error {
	if w.err != nil {
		return w.err
	}
	return w.Add(base.MakeInternalKey(start, 0, base.InternalKeyKindRangeDelete), end)
}

// Add adds a key/value pair to the table being written. Point keys must be
// added in strictly increasing internal key order. Range deletions
// (InternalKeyKindRangeDelete) carry the exclusive end key as their value and
// must be added in increasing order of their start keys; they are stored in a
// separate block and may be interleaved with point keys.
//
// An ordering violation poisons the writer: the error is returned from this
// and every later call.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	switch kind := key.Kind(); {
	case kind == base.InternalKeyKindRangeDelete:
		return w.addTombstone(key, value)
	case !kind.IsValueType():
		w.err = errors.Errorf("blocktable: cannot add key of kind %s to a table", kind)
		return w.err
	}
	if w.meta.HasPointKeys {
		if base.InternalCompare(w.comparer.Compare, w.lastPointKey, key) >= 0 {
			w.err = errors.Errorf("blocktable: keys must be added in strictly increasing order: %s, %s",
				w.lastPointKey.Pretty(w.comparer.FormatKey), key.Pretty(w.comparer.FormatKey))
			return w.err
		}
	}

	if err := w.maybeFlush(key, value); err != nil {
		return err
	}

	if w.filter != nil {
		w.filter.addKey(key.UserKey)
	}
	if err := w.dataBlock.Add(key, value); err != nil {
		w.err = err
		return err
	}
	w.meta.updateSeqNum(key.SeqNum())
	if !w.meta.HasPointKeys {
		w.meta.SmallestPoint = key.Clone()
		w.meta.HasPointKeys = true
	}
	w.lastPointKey.CopyFrom(key)

	w.props.NumEntries++
	switch key.Kind() {
	case base.InternalKeyKindDelete:
		w.props.NumDeletions++
	case base.InternalKeyKindMerge:
		w.props.NumMergeOperands++
	}
	w.props.RawKeySize += uint64(key.Size())
	w.props.RawValueSize += uint64(len(value))
	return nil
}

func (w *Writer) addTombstone(key base.InternalKey, end []byte) error {
	if w.rangeDelBlock.EntryCount() > 0 {
		prevKey := w.rangeDelBlock.CurKey()
		if base.InternalCompare(w.comparer.Compare, prevKey, key) >= 0 {
			w.err = errors.Errorf("blocktable: range tombstones must be added in increasing order: %s, %s",
				prevKey.Pretty(w.comparer.FormatKey), key.Pretty(w.comparer.FormatKey))
			return w.err
		}
	}
	if w.comparer.Compare(key.UserKey, end) >= 0 {
		w.err = errors.Errorf("blocktable: invalid range tombstone %s-%s: start must be less than end",
			w.comparer.FormatKey(key.UserKey), w.comparer.FormatKey(end))
		return w.err
	}
	if err := w.rangeDelBlock.Add(key, end); err != nil {
		w.err = err
		return err
	}

	w.meta.updateSeqNum(key.SeqNum())
	// The largest bound is an exclusive sentinel at the end key. Tombstones are
	// not fragmented, so an earlier tombstone may extend further.
	largest := base.MakeInternalKey(end, base.SeqNumMax, base.InternalKeyKindRangeDelete)
	if !w.meta.HasRangeDelKeys {
		w.meta.SmallestRangeDel = key.Clone()
		w.meta.LargestRangeDel = largest.Clone()
		w.meta.HasRangeDelKeys = true
	} else if base.InternalCompare(w.comparer.Compare, w.meta.LargestRangeDel, largest) < 0 {
		w.meta.LargestRangeDel = largest.Clone()
	}

	w.props.NumEntries++
	w.props.NumDeletions++
	w.props.NumRangeDeletions++
	w.props.RawKeySize += uint64(key.Size())
	w.props.RawValueSize += uint64(len(end))
	return nil
}

func (w *Writer) maybeFlush(key base.InternalKey, value []byte) error {
	if !shouldFlush(key.Size(), len(value), w.dataBlock.RestartInterval, w.dataBlock.EstimatedSize(),
		w.dataBlock.EntryCount(), w.opts.BlockSize, w.blockSizeThreshold) {
		return nil
	}
	return w.flush(&key)
}

// flush writes the pending data block and its index entry. nextKey is the key
// that will start the next block, or nil if this is the last block.
func (w *Writer) flush(nextKey *base.InternalKey) error {
	lastKey := w.dataBlock.CurKey()
	var sep base.InternalKey
	if nextKey != nil {
		sep = lastKey.Separator(w.comparer.Compare, w.comparer.Separator, w.indexEntrySep[:0], *nextKey)
	} else {
		sep = lastKey.Successor(w.comparer.Compare, w.comparer.Successor, w.indexEntrySep[:0])
	}
	// The separator may alias the data block's key buffer, which is reused by
	// the next Add; take a copy.
	w.indexEntrySep = append(w.indexEntrySep[:0], sep.UserKey...)
	sep.UserKey = w.indexEntrySep

	bh, err := w.writeBlock(w.dataBlock.Finish(), block.NoFlags)
	if err != nil {
		return err
	}
	if err := w.index.add(sep, bh); err != nil {
		w.err = err
		return err
	}
	if w.filter != nil {
		w.filter.finishBlock(w.offset)
	}
	w.props.NumDataBlocks = uint64(w.index.entryCount())
	w.props.DataSize += bh.Length + block.TrailerLen
	return nil
}

func shouldFlush(
	keyLen, valueLen int,
	restartInterval, estimatedBlockSize, numEntries int,
	targetBlockSize, sizeThreshold int,
) bool {
	if numEntries == 0 {
		return false
	}

	if estimatedBlockSize >= targetBlockSize {
		return true
	}

	// The block is currently smaller than the target size.
	if estimatedBlockSize <= sizeThreshold {
		// The block is smaller than the threshold size at which we'll consider
		// flushing it.
		return false
	}

	newSize := estimatedBlockSize + keyLen + valueLen
	if numEntries%restartInterval == 0 {
		newSize += 4
	}
	newSize += 4                            // varint for shared prefix length
	newSize += uvarintLen(uint32(keyLen))   // varint for unshared key bytes
	newSize += uvarintLen(uint32(valueLen)) // varint for value size
	// Flush if the block plus the new entry is larger than the target size.
	return newSize > targetBlockSize
}

func uvarintLen(v uint32) int {
	i := 0
	for v >= 0x80 {
		v >>= 7
		i++
	}
	return i + 1
}

// writeBlock compresses, checksums and appends a block to the file, returning
// its handle.
func (w *Writer) writeBlock(b []byte, flags block.PhysicalBlockFlags) (block.Handle, error) {
	pb := w.blockMaker.Make(w.blockBuf, b, flags)
	bh := block.Handle{Offset: w.offset, Length: uint64(pb.LengthWithoutTrailer())}
	n := len(pb.Data)
	if _, err := w.writable.Write(pb.Data); err != nil {
		w.err = err
		return block.Handle{}, err
	}
	w.blockBuf = pb.Data[:0]
	w.offset += uint64(n)
	return bh, nil
}

// EstimatedSize returns the estimated size of the sstable being written if a
// call to Close() was made without adding additional keys.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.dataBlock.EstimatedSize()+w.index.estimatedSize()+w.rangeDelBlock.EstimatedSize())
}

// Close finishes writing the table and closes the underlying file that the
// table was written to.
func (w *Writer) Close() (err error) {
	defer func() {
		if w.writable == nil {
			return
		}
		err = errors.CombineErrors(err, w.writable.Close())
		w.writable = nil
		w.blockMaker.Close()
		if err == nil {
			w.err = errWriterClosed
		} else if w.err == nil {
			w.err = err
		}
	}()
	if w.err != nil {
		return w.err
	}

	// Finish the last data block, if any. A table without entries has no data
	// blocks.
	if w.dataBlock.EntryCount() > 0 {
		if err := w.flush(nil); err != nil {
			return err
		}
		w.meta.LargestPoint = w.lastPointKey.Clone()
	}

	var metaindex metaIndexWriter

	// Write the filter block.
	if w.filter != nil {
		if b := w.filter.finish(); len(b) > 0 {
			bh, err := w.writeBlock(b, block.DontCompress)
			if err != nil {
				return err
			}
			w.props.FilterSize = bh.Length + block.TrailerLen
			metaindex.add(w.filter.metaName(), bh)
		}
	}

	// Write the index block.
	indexBH, err := w.writeBlock(w.index.finish(), block.NoFlags)
	if err != nil {
		return err
	}
	w.props.IndexSize = indexBH.Length + block.TrailerLen

	// Write the range-del block.
	if w.rangeDelBlock.EntryCount() > 0 {
		bh, err := w.writeBlock(w.rangeDelBlock.Finish(), block.NoFlags)
		if err != nil {
			return err
		}
		metaindex.add(metaRangeDelName, bh)
	}

	// Write the properties block.
	{
		raw := rowblk.Writer{RestartInterval: propertiesBlockRestartInterval}
		if err := w.props.saveToRowWriter(&raw); err != nil {
			w.err = err
			return err
		}
		bh, err := w.writeBlock(raw.Finish(), block.DontCompress)
		if err != nil {
			return err
		}
		metaindex.add(metaPropertiesName, bh)
	}

	// Write the metaindex block. It might be an empty block, if the filter
	// policy is nil.
	metaindexData, err := metaindex.finish()
	if err != nil {
		w.err = err
		return err
	}
	metaindexBH, err := w.writeBlock(metaindexData, block.DontCompress)
	if err != nil {
		return err
	}

	// Write the table footer.
	f := footer{
		format:      w.opts.TableFormat,
		checksum:    w.opts.Checksum,
		metaindexBH: metaindexBH,
		indexBH:     indexBH,
	}
	var footerBuf [maxFooterLen]byte
	encoded := f.encode(footerBuf[:])
	n := len(encoded)
	if _, err := w.writable.Write(encoded); err != nil {
		w.err = err
		return err
	}
	w.offset += uint64(n)
	w.meta.Size = w.offset
	w.meta.Properties = w.props
	if !w.meta.HasPointKeys && !w.meta.HasRangeDelKeys {
		w.meta.SmallestSeqNum = 0
	}

	if err := w.writable.Sync(); err != nil {
		w.err = err
		return err
	}
	w.opts.Logger.Infof("table written: %d entries in %d data blocks, %d bytes",
		w.props.NumEntries, w.props.NumDataBlocks, w.meta.Size)
	return nil
}

// Metadata returns the metadata for the finished sstable. Only valid to call
// after the sstable has been finished.
func (w *Writer) Metadata() (*WriterMetadata, error) {
	if w.writable != nil {
		return nil, errors.New("blocktable: writer is not closed")
	}
	if !errors.Is(w.err, errWriterClosed) {
		return nil, errors.Wrap(w.err, "blocktable: writer failed")
	}
	return &w.meta, nil
}
