// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"maps"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
)

const propertiesBlockRestartInterval = math.MaxInt32

// Index types, as recorded in the rocksdb.block.based.table.index.type
// property. Only the binary search index is written.
const binarySearchIndex = 0

// externalFileVersion2 marks a table built for ingestion. Such tables carry a
// global sequence number that is applied to every key on read.
const externalFileVersion2 = 2

// propField describes a tagged field of Properties. The tag has the form
// `prop:"name[,option...]"` where the options are:
//
//	fixed64    encode a uint64 as 8 little-endian bytes instead of a uvarint
//	omitempty  do not write the property if the field holds its zero value
type propField struct {
	reflect.StructField
	name      string
	fixed64   bool
	omitempty bool
}

var propFields []propField
var propTagMap = make(map[string]*propField)

func generateTagMaps(t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("prop")
		if tag == "" {
			continue
		}
		switch f.Type.Kind() {
		case reflect.Uint32, reflect.Uint64, reflect.String:
		default:
			panic(fmt.Sprintf("unsupported property field type: %s %s", f.Name, f.Type))
		}
		pf := propField{StructField: f}
		parts := strings.Split(tag, ",")
		pf.name = parts[0]
		for _, opt := range parts[1:] {
			switch opt {
			case "fixed64":
				pf.fixed64 = true
			case "omitempty":
				pf.omitempty = true
			default:
				panic(fmt.Sprintf("unknown property tag option %q on %s", opt, f.Name))
			}
		}
		propFields = append(propFields, pf)
	}
	for i := range propFields {
		propTagMap[propFields[i].name] = &propFields[i]
	}
}

func init() {
	generateTagMaps(reflect.TypeOf(Properties{}))
}

// Properties holds the sstable property values. The properties are
// automatically populated during sstable creation and load from the properties
// meta block when an sstable is opened.
type Properties struct {
	// The name of the comparer used in this table.
	ComparerName string `prop:"rocksdb.comparator"`
	// The compression algorithm used to compress blocks.
	CompressionName string `prop:"rocksdb.compression"`
	// The total size of all data blocks, including their trailers.
	DataSize uint64 `prop:"rocksdb.data.size"`
	// The data block index type (see DataBlockIndexType).
	DataBlockIndexType uint32 `prop:"blocktable.data.block.index.type"`
	// The identity of the session that created the table.
	DBSessionID string `prop:"rocksdb.creating.session.identity,omitempty"`
	// The version of an externally built table. Zero for tables written by a
	// database.
	ExternalFileVersion uint32 `prop:"rocksdb.external_sst_file.version,omitempty"`
	// The name of the filter policy used in this table. Empty if no filter
	// policy is used.
	FilterPolicyName string `prop:"rocksdb.filter.policy"`
	// The size of filter block.
	FilterSize uint64 `prop:"rocksdb.filter.size"`
	// The sequence number assigned to every key of an external table.
	GlobalSeqNum uint64 `prop:"rocksdb.external_sst_file.global_seqno,fixed64,omitempty"`
	// The size of the index block, before compression.
	IndexSize uint64 `prop:"rocksdb.index.size"`
	// The index type.
	IndexType uint32 `prop:"rocksdb.block.based.table.index.type"`
	// The name of the merger used in this table. Empty if no merger is used.
	MergerName string `prop:"rocksdb.merge.operator"`
	// The number of blocks in this table.
	NumDataBlocks uint64 `prop:"rocksdb.num.data.blocks"`
	// The number of deletion entries in this table, including both point and
	// range deletions.
	NumDeletions uint64 `prop:"rocksdb.deleted.keys"`
	// The number of entries in this table.
	NumEntries uint64 `prop:"rocksdb.num.entries"`
	// The number of merge operands in the table.
	NumMergeOperands uint64 `prop:"rocksdb.merge.operands"`
	// The number of range deletions in this table.
	NumRangeDeletions uint64 `prop:"rocksdb.num.range-deletions"`
	// Total raw key size.
	RawKeySize uint64 `prop:"rocksdb.raw.key.size"`
	// Total raw value size.
	RawValueSize uint64 `prop:"rocksdb.raw.value.size"`

	// User collected properties.
	UserProperties map[string]string

	// Loaded set indicating which fields have been loaded from disk. Indexed by
	// the field's byte offset within the struct
	// (reflect.StructField.Offset). Only set if the properties have been loaded
	// from a file. Only exported for testing purposes.
	Loaded map[uintptr]struct{}
}

// NumPointDeletions returns the number of point deletions in this table.
func (p *Properties) NumPointDeletions() uint64 {
	if p.NumRangeDeletions > p.NumDeletions {
		return 0
	}
	return p.NumDeletions - p.NumRangeDeletions
}

func (p *Properties) String() string {
	var buf bytes.Buffer
	v := reflect.ValueOf(*p)
	for i := range propFields {
		pf := &propFields[i]
		f := v.FieldByIndex(pf.Index)
		if f.IsZero() {
			// Skip printing of zero values which were not loaded from disk.
			if _, ok := p.Loaded[pf.Offset]; !ok {
				continue
			}
		}
		switch pf.Type.Kind() {
		case reflect.Uint32, reflect.Uint64:
			fmt.Fprintf(&buf, "%s: %d\n", pf.name, f.Uint())
		case reflect.String:
			fmt.Fprintf(&buf, "%s: %s\n", pf.name, f.String())
		}
	}

	// Write the UserProperties.
	for _, key := range slices.Sorted(maps.Keys(p.UserProperties)) {
		// If there are characters outside of the printable ASCII range, print
		// the value in hexadecimal.
		if strings.IndexFunc(p.UserProperties[key], func(r rune) bool { return r < ' ' || r > '~' }) != -1 {
			fmt.Fprintf(&buf, "%s: hex:%x\n", key, p.UserProperties[key])
		} else {
			fmt.Fprintf(&buf, "%s: %s\n", key, p.UserProperties[key])
		}
	}
	return buf.String()
}

func (p *Properties) load(i iter.Seq2[[]byte, []byte]) error {
	p.Loaded = make(map[uintptr]struct{})
	v := reflect.ValueOf(p).Elem()

	for key, val := range i {
		pf, ok := propTagMap[string(key)]
		if !ok {
			if p.UserProperties == nil {
				p.UserProperties = make(map[string]string)
			}
			p.UserProperties[string(key)] = string(val)
			continue
		}
		p.Loaded[pf.Offset] = struct{}{}
		field := v.FieldByIndex(pf.Index)
		switch {
		case pf.Type.Kind() == reflect.String:
			field.SetString(string(val))
		case pf.Type.Kind() == reflect.Uint32:
			if len(val) != 4 {
				return base.CorruptionErrorf("property %s has %d bytes", errors.Safe(pf.name), errors.Safe(len(val)))
			}
			field.SetUint(uint64(binary.LittleEndian.Uint32(val)))
		case pf.fixed64:
			if len(val) != 8 {
				return base.CorruptionErrorf("property %s has %d bytes", errors.Safe(pf.name), errors.Safe(len(val)))
			}
			field.SetUint(binary.LittleEndian.Uint64(val))
		default:
			n, w := binary.Uvarint(val)
			if w <= 0 || w != len(val) {
				return base.CorruptionErrorf("property %s is not a uvarint", errors.Safe(pf.name))
			}
			field.SetUint(n)
		}
	}
	return nil
}

// accumulateProps returns the encoded properties and their names in sorted
// order.
func (p *Properties) accumulateProps() ([]string, map[string][]byte) {
	m := make(map[string][]byte)
	for k, v := range p.UserProperties {
		m[k] = []byte(v)
	}

	v := reflect.ValueOf(*p)
	for i := range propFields {
		pf := &propFields[i]
		f := v.FieldByIndex(pf.Index)
		if pf.omitempty && f.IsZero() {
			continue
		}
		switch {
		case pf.Type.Kind() == reflect.String:
			if f.Len() == 0 {
				continue
			}
			m[pf.name] = []byte(f.String())
		case pf.Type.Kind() == reflect.Uint32:
			m[pf.name] = binary.LittleEndian.AppendUint32(nil, uint32(f.Uint()))
		case pf.fixed64:
			m[pf.name] = binary.LittleEndian.AppendUint64(nil, f.Uint())
		default:
			m[pf.name] = binary.AppendUvarint(nil, f.Uint())
		}
	}
	return slices.Sorted(maps.Keys(m)), m
}

func (p *Properties) saveToRowWriter(w *rowblk.Writer) error {
	keys, m := p.accumulateProps()
	for _, key := range keys {
		if err := w.AddRawString(key, m[key]); err != nil {
			return err
		}
	}
	return nil
}

func readProperties(data []byte) (Properties, error) {
	var p Properties
	it, err := rowblk.NewRawIter(bytesCompare, data)
	if err != nil {
		return p, errors.Wrap(err, "properties block")
	}
	defer it.Close()
	if err := p.load(it.All()); err != nil {
		return p, err
	}
	return p, it.Error()
}
