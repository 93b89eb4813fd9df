// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"maps"
	"slices"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/internal/compression"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Default values for the options.
const (
	DefaultBlockRestartInterval      = 16
	DefaultBlockSize                 = 4096
	DefaultBlockSizeThreshold        = 90
	DefaultIndexBlockRestartInterval = 1
	DefaultBloomBitsPerKey           = 10
)

// Compression is the per-block compression algorithm to use.
type Compression int

// The available compression types.
const (
	DefaultCompression Compression = iota
	NoCompression
	SnappyCompression
	ZlibCompression
	ZstdCompression
	MinLZCompression
	NCompression
)

var compressionNames = [NCompression]string{
	DefaultCompression: "Default",
	NoCompression:      "NoCompression",
	SnappyCompression:  "Snappy",
	ZlibCompression:    "Zlib",
	ZstdCompression:    "ZSTD",
	MinLZCompression:   "MinLZ",
}

func (c Compression) String() string {
	if c < 0 || c >= NCompression {
		return "Unknown"
	}
	return compressionNames[c]
}

// Algorithm returns the compression algorithm that implements c.
func (c Compression) Algorithm() compression.Algorithm {
	switch c {
	case NoCompression:
		return compression.NoCompression
	case ZlibCompression:
		return compression.Zlib
	case ZstdCompression:
		return compression.Zstd
	case MinLZCompression:
		return compression.MinLZ
	default:
		return compression.Snappy
	}
}

// ParseCompression accepts the algorithm names understood by
// compression.ParseAlgorithm ("none", "snappy", "zlib", "zstd", "minlz").
func ParseCompression(s string) (Compression, error) {
	a, err := compression.ParseAlgorithm(s)
	if err != nil {
		return DefaultCompression, err
	}
	switch a {
	case compression.NoCompression:
		return NoCompression, nil
	case compression.Snappy:
		return SnappyCompression, nil
	case compression.Zlib:
		return ZlibCompression, nil
	case compression.Zstd:
		return ZstdCompression, nil
	case compression.MinLZ:
		return MinLZCompression, nil
	}
	return DefaultCompression, errors.Newf("unsupported compression %q", s)
}

// DataBlockIndexType selects how a data block is searched.
type DataBlockIndexType uint32

const (
	// DataBlockBinarySearch searches the restart points of a data block.
	DataBlockBinarySearch DataBlockIndexType = iota
	// DataBlockBinaryAndHash additionally writes a hash index mapping user keys
	// to restart intervals, consulted by point lookups.
	DataBlockBinaryAndHash
)

func (t DataBlockIndexType) String() string {
	switch t {
	case DataBlockBinarySearch:
		return "binary"
	case DataBlockBinaryAndHash:
		return "binary_and_hash"
	}
	return "unknown"
}

// ParseDataBlockIndexType parses the names returned by
// DataBlockIndexType.String.
func ParseDataBlockIndexType(s string) (DataBlockIndexType, error) {
	switch s {
	case "binary":
		return DataBlockBinarySearch, nil
	case "binary_and_hash":
		return DataBlockBinaryAndHash, nil
	}
	return 0, errors.Newf("unknown data block index type %q", s)
}

// Comparers is a map from comparer name to comparer. It is used for
// debugging tools which may be used on multiple databases configured with
// different comparers.
type Comparers map[string]*base.Comparer

// FilterPolicies is a map from filter policy name to filter policy. Tables
// written with a policy that is not found here or by bloom.PolicyFromName are
// read without their filter.
type FilterPolicies map[string]base.FilterPolicy

// ReaderOptions holds the parameters needed for reading an sstable.
type ReaderOptions struct {
	// Comparer defines a total ordering over the space of []byte keys: a 'less
	// than' relationship. The same comparison algorithm must be used for reads
	// and writes over the lifetime of the DB.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *base.Comparer

	// Comparers, if set, is consulted when the table was written with a
	// comparer whose name differs from Comparer.Name.
	Comparers Comparers

	// Filters are the filter policies that may be used to read the table's
	// filter block, keyed by name.
	Filters FilterPolicies

	// FilterMetrics, if set, counts the outcome of every filter probe.
	FilterMetrics *FilterMetricsTracker

	// GlobalSeqNum, if non-zero, is the sequence number assigned to every key
	// of an ingested table. It is only applied to tables whose properties mark
	// them as external files (version 2 or later); a global sequence number
	// recorded in the properties takes precedence.
	GlobalSeqNum base.SeqNum

	// Logger is used to report degraded reads such as an unreadable filter.
	Logger base.Logger
}

func (o ReaderOptions) ensureDefaults() ReaderOptions {
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	o.Comparer = o.Comparer.EnsureDefaults()
	if o.Logger == nil {
		o.Logger = base.NoopLogger{}
	}
	return o
}

// filterPolicies returns the configured filter policies ordered by name.
func (o ReaderOptions) filterPolicies() []base.FilterPolicy {
	policies := make([]base.FilterPolicy, 0, len(o.Filters))
	for _, name := range slices.Sorted(maps.Keys(o.Filters)) {
		policies = append(policies, o.Filters[name])
	}
	return policies
}

// WriterOptions holds the parameters used to control building an sstable.
type WriterOptions struct {
	// BlockRestartInterval is the number of keys between restart points
	// for delta encoding of keys.
	//
	// The default value is 16.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each table block.
	//
	// The default value is 4096.
	BlockSize int

	// BlockSizeThreshold finishes a block if the block size is larger than the
	// specified percentage of the target block size and adding the next entry
	// would cause the block to be larger than the target block size.
	//
	// The default value is 90.
	BlockSizeThreshold int

	// IndexBlockRestartInterval is the restart interval of the index block.
	//
	// The default value is 1.
	IndexBlockRestartInterval int

	// Comparer defines a total ordering over the space of []byte keys: a 'less
	// than' relationship. The same comparison algorithm must be used for reads
	// and writes over the lifetime of the DB.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *base.Comparer

	// Merger is recorded by name in the properties block. The table does not
	// merge operands itself.
	//
	// The default value concatenates operands.
	Merger *base.Merger

	// Compression defines the per-block compression to use.
	//
	// The default value (DefaultCompression) uses snappy compression.
	Compression Compression

	// MinReductionPercent is the smallest size reduction that a compressed
	// block must achieve; blocks that shrink less are stored uncompressed.
	//
	// The default value is 12.
	MinReductionPercent uint8

	// Checksum specifies which checksum to use. The LevelDB table format only
	// supports CRC32c.
	//
	// The default value is CRC32c.
	Checksum block.ChecksumType

	// TableFormat specifies the format version for writing sstables.
	//
	// The default value is TableFormatRocksDBv2.
	TableFormat TableFormat

	// FilterPolicy defines a filter algorithm (such as a Bloom filter) that can
	// reduce disk reads for Get calls.
	//
	// One such implementation is bloom.FilterPolicy(10) from the blocktable/bloom
	// package.
	//
	// The default value means to use no filter.
	FilterPolicy base.FilterPolicy

	// FilterType defines whether an existing filter policy is applied at a
	// block-level or table-level. Block-level filters use less memory to create,
	// but are slower to access as a check for the key in the index must first be
	// performed to locate the filter block. A table-level filter will require
	// memory proportional to the number of keys in an sstable to create, but
	// avoids the index lookup when determining if a key is present. Table-level
	// filters should be preferred except under constrained memory situations.
	FilterType base.FilterType

	// DataBlockIndexType selects whether data blocks carry a hash index.
	DataBlockIndexType DataBlockIndexType

	// HashIndexUtilRatio is the ratio of keys to hash buckets used when
	// DataBlockIndexType is DataBlockBinaryAndHash.
	//
	// The default value is 0.75.
	HashIndexUtilRatio float64

	// ExternalFile marks the table as built outside of a database for
	// ingestion. Readers of such a table apply the global sequence number
	// given in ReaderOptions to every key.
	ExternalFile bool

	// DBSessionID identifies the session that created the table. A random
	// identifier is generated if empty.
	DBSessionID string

	// UserProperties are written verbatim to the properties block.
	UserProperties map[string]string

	// Logger receives a summary of the table when the writer is closed.
	Logger base.Logger
}

func (o WriterOptions) ensureDefaults() WriterOptions {
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = DefaultBlockRestartInterval
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BlockSizeThreshold <= 0 {
		o.BlockSizeThreshold = DefaultBlockSizeThreshold
	}
	if o.IndexBlockRestartInterval <= 0 {
		o.IndexBlockRestartInterval = DefaultIndexBlockRestartInterval
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	o.Comparer = o.Comparer.EnsureDefaults()
	if o.Merger == nil {
		o.Merger = base.DefaultMerger
	}
	if o.Compression <= DefaultCompression || o.Compression >= NCompression {
		o.Compression = SnappyCompression
	}
	if o.MinReductionPercent == 0 {
		o.MinReductionPercent = block.DefaultMinReductionPercent
	}
	if o.TableFormat == TableFormatUnspecified {
		o.TableFormat = TableFormatRocksDBv2
	}
	if o.Checksum == block.ChecksumTypeNone || o.TableFormat == TableFormatLevelDB {
		o.Checksum = block.ChecksumTypeCRC32c
	}
	if o.HashIndexUtilRatio <= 0 {
		o.HashIndexUtilRatio = rowblk.DefaultHashIndexUtilRatio
	}
	if o.DBSessionID == "" {
		o.DBSessionID = uuid.NewString()
	}
	if o.Logger == nil {
		o.Logger = base.NoopLogger{}
	}
	return o
}
