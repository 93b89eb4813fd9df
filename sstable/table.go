// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

/*
Package sstable implements readers and writers of block-based tables.

Tables are either opened for reading or created for writing but not both.

A reader can create iterators, which allow seeking and next/prev
iteration. There may be multiple key/value pairs that have the same user key
and different sequence numbers.

A reader can be used concurrently. Multiple goroutines can call NewIter
concurrently, and each iterator can run concurrently with other iterators.
However, any particular iterator should not be used concurrently, and iterators
should not be used once a reader is closed.

A writer writes key/value pairs in increasing internal key order, and cannot be
used concurrently. A table cannot be read until the writer has finished.

Readers and writers can be created with various options. The zero value of
the options structs is valid and means to use the default values.

One such option is to define the 'less than' ordering for keys. The default
Comparer uses the natural ordering consistent with bytes.Compare. The same
ordering must be used for reading and writing a table; the comparer name is
recorded in the properties block and checked when the table is opened.

To return the value for a key:

	r, err := sstable.NewReader(readable, sstable.ReaderOptions{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Get(key)

To count the number of entries in a table:

	it, n := r.NewIter(), 0
	for valid := it.First(); valid; valid = it.Next() {
		n++
	}
	if err := it.Close(); err != nil {
		return 0, err
	}
	return n, nil

To write a table with three entries:

	w := sstable.NewWriter(writable, sstable.WriterOptions{})
	if err := w.Set([]byte("apple"), []byte("red")); err != nil {
		w.Close()
		return err
	}
	if err := w.Set([]byte("banana"), []byte("yellow")); err != nil {
		w.Close()
		return err
	}
	if err := w.Set([]byte("cherry"), []byte("red")); err != nil {
		w.Close()
		return err
	}
	return w.Close()
*/
package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/errors"
)

/*
The table file format looks like:

<start_of_file>
[data block 0]
[data block 1]
...
[data block N-1]
[meta block 0]
[meta block 1]
...
[meta block K-1]
[metaindex block]
[index block]
[footer]
<end_of_file>

Each block consists of some data and a 5 byte trailer: a 1 byte block type and
a 4 byte checksum of the compressed data and the block type. The block type
gives the per-block compression used; each block is compressed independently.
The checksum algorithm is named by the footer (see block.ChecksumType).

The decompressed block data consists of a sequence of key/value entries
followed by a trailer. Each key is encoded as a shared prefix length and a
remainder string. For example, if two adjacent keys are "tweedledee" and
"tweedledum", then the second key would be encoded as {8, "um"}. The shared
prefix length is varint encoded. The remainder string and the value are
encoded as a varint-encoded length followed by the literal contents. To
continue the example, suppose that the key "tweedledum" mapped to the value
"socks". The encoded key/value entry would be: "\x08\x02\x05umsocks".

Every block has a restart interval I. Every I'th key/value entry in that block
is called a restart point, and shares no key prefix with the previous entry.
If a block has P restart points, then the block trailer consists of (P+1)*4
bytes: (P+1) little-endian uint32 values. The first P of these uint32 values
are the block offsets of each restart point. The final uint32 value is P
itself, with the high bit set if a hash index precedes it (see package rowblk).

An index block is a block with N key/value entries. The i'th value is the
encoded block handle of the i'th data block. The i'th key is a separator for
i < N-1, and a successor for i == N-1. The separator between blocks i and i+1
is a key that is >= every key in block i and is < every key in block i+1. The
successor for the final block is a key that is >= every key in block N-1. The
index block restart interval defaults to 1: every entry is a restart point.

The metaindex block maps the names of the meta blocks to their handles:

	"filter.<policy>"       per-block filter (LevelDB layout)
	"fullfilter.<policy>"   whole table filter
	"rocksdb.properties"    table properties
	"rocksdb.range_del"     range deletion tombstones

A block handle is an offset and a length; the length does not include the 5
byte trailer. Both numbers are varint-encoded, with no padding between the two
values. The maximum size of an encoded block handle is therefore 20 bytes.
*/

const (
	levelDBFooterLen   = 48
	levelDBMagic       = "\x57\xfb\x80\x8b\x24\x75\x47\xdb"
	levelDBMagicOffset = levelDBFooterLen - len(levelDBMagic)

	rocksDBFooterLen     = 1 + 2*block.MaxHandleLen + 4 + 8
	rocksDBMagic         = "\xf7\xcf\xf4\x85\xb7\x41\xe2\x88"
	rocksDBMagicOffset   = rocksDBFooterLen - len(rocksDBMagic)
	rocksDBVersionOffset = rocksDBMagicOffset - 4

	minFooterLen = levelDBFooterLen
	maxFooterLen = rocksDBFooterLen

	rocksDBFormatVersion2 = 2

	metaFilterPrefix     = "filter."
	metaFullFilterPrefix = "fullfilter."
	metaPropertiesName   = "rocksdb.properties"
	metaRangeDelName     = "rocksdb.range_del"
)

// TableFormat specifies the format version for sstables. The legacy LevelDB
// format is selected in order to output sstables which are compatible with
// LevelDB. It lacks the checksum type byte and supports only CRC32c.
type TableFormat uint32

// The available table formats.
const (
	TableFormatUnspecified TableFormat = iota
	TableFormatLevelDB
	TableFormatRocksDBv2
)

// String implements fmt.Stringer.
func (f TableFormat) String() string {
	switch f {
	case TableFormatLevelDB:
		return "leveldb"
	case TableFormatRocksDBv2:
		return "rocksdbv2"
	}
	return "unspecified"
}

// ParseTableFormat parses the names returned by TableFormat.String.
func ParseTableFormat(s string) (TableFormat, error) {
	switch s {
	case "leveldb":
		return TableFormatLevelDB, nil
	case "rocksdbv2":
		return TableFormatRocksDBv2, nil
	}
	return TableFormatUnspecified, errors.Newf("unknown table format %q", s)
}

// legacy (LevelDB) footer format:
//
//	metaindex handle (varint64 offset, varint64 size)
//	index handle     (varint64 offset, varint64 size)
//	<padding> to make the total size 2 * BlockHandle::kMaxEncodedLength
//	table_magic_number (8 bytes)
//
// new (RocksDB) footer format:
//
//	checksum type (char, 1 byte)
//	metaindex handle (varint64 offset, varint64 size)
//	index handle     (varint64 offset, varint64 size)
//	<padding> to make the total size 2 * BlockHandle::kMaxEncodedLength + 1
//	footer version (4 bytes)
//	table_magic_number (8 bytes)
type footer struct {
	format      TableFormat
	checksum    block.ChecksumType
	metaindexBH block.Handle
	indexBH     block.Handle
	footerBH    block.Handle
}

func readFooter(f objstorage.Readable) (footer, error) {
	var footer footer
	size := f.Size()
	if size < minFooterLen {
		return footer, base.CorruptionErrorf("invalid table (file size is too small)")
	}

	off := size - maxFooterLen
	if off < 0 {
		off = 0
	}
	buf, err := block.ReadRaw(f, make([]byte, size-off), off)
	if err != nil {
		return footer, err
	}

	switch string(buf[len(buf)-len(rocksDBMagic):]) {
	case levelDBMagic:
		footer.footerBH.Offset = uint64(size) - levelDBFooterLen
		buf = buf[len(buf)-levelDBFooterLen:]
		footer.footerBH.Length = uint64(len(buf))
		footer.format = TableFormatLevelDB
		footer.checksum = block.ChecksumTypeCRC32c

	case rocksDBMagic:
		if len(buf) < rocksDBFooterLen {
			return footer, base.CorruptionErrorf("invalid table (footer too short): %d", errors.Safe(len(buf)))
		}
		footer.footerBH.Offset = uint64(size) - rocksDBFooterLen
		buf = buf[len(buf)-rocksDBFooterLen:]
		footer.footerBH.Length = uint64(len(buf))
		version := binary.LittleEndian.Uint32(buf[rocksDBVersionOffset:rocksDBMagicOffset])
		if version != rocksDBFormatVersion2 {
			return footer, base.CorruptionErrorf("unsupported format version %d", errors.Safe(version))
		}
		footer.format = TableFormatRocksDBv2
		footer.checksum = block.ChecksumType(buf[0])
		if !footer.checksum.Supported() {
			return footer, base.CorruptionErrorf("unsupported checksum type %d", errors.Safe(footer.checksum))
		}
		buf = buf[1:]

	default:
		return footer, base.CorruptionErrorf("invalid table (bad magic number: 0x%x)", buf[len(buf)-len(rocksDBMagic):])
	}

	{
		var n int
		footer.metaindexBH, n = block.DecodeHandle(buf)
		if n == 0 {
			return footer, base.CorruptionErrorf("invalid table (bad metaindex block handle)")
		}
		buf = buf[n:]

		footer.indexBH, n = block.DecodeHandle(buf)
		if n == 0 {
			return footer, base.CorruptionErrorf("invalid table (bad index block handle)")
		}
	}

	for _, bh := range []block.Handle{footer.metaindexBH, footer.indexBH} {
		if bh.End() < bh.Offset || bh.End() > footer.footerBH.Offset {
			return footer, base.CorruptionErrorf("invalid table (block handle %d/%d overlaps the footer)",
				errors.Safe(bh.Offset), errors.Safe(bh.Length))
		}
	}
	return footer, nil
}

func (f footer) encode(buf []byte) []byte {
	switch f.format {
	case TableFormatLevelDB:
		buf = buf[:levelDBFooterLen]
		clear(buf)
		n := f.metaindexBH.EncodeVarints(buf[0:])
		f.indexBH.EncodeVarints(buf[n:])
		copy(buf[levelDBMagicOffset:], levelDBMagic)

	case TableFormatRocksDBv2:
		buf = buf[:rocksDBFooterLen]
		clear(buf)
		buf[0] = byte(f.checksum)
		n := 1
		n += f.metaindexBH.EncodeVarints(buf[n:])
		f.indexBH.EncodeVarints(buf[n:])
		binary.LittleEndian.PutUint32(buf[rocksDBVersionOffset:], rocksDBFormatVersion2)
		copy(buf[rocksDBMagicOffset:], rocksDBMagic)

	default:
		panic(errors.AssertionFailedf("unknown table format %d", errors.Safe(f.format)))
	}
	return buf
}
