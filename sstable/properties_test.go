// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"encoding/binary"
	randv1 "math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/quick"
	"time"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

var testProps = Properties{
	ComparerName:        "comparator name",
	CompressionName:     "compression name",
	DataSize:            3,
	DataBlockIndexType:  1,
	DBSessionID:         "session id",
	ExternalFileVersion: 2,
	FilterPolicyName:    "filter policy name",
	FilterSize:          5,
	GlobalSeqNum:        1 << 40,
	IndexSize:           11,
	IndexType:           12,
	MergerName:          "merge operator name",
	NumDataBlocks:       14,
	NumDeletions:        15,
	NumEntries:          16,
	NumMergeOperands:    17,
	NumRangeDeletions:   18,
	RawKeySize:          25,
	RawValueSize:        26,
	UserProperties: map[string]string{
		"user-prop-a": "1",
		"user-prop-b": "2",
	},
}

func saveProps(t testing.TB, p *Properties) []byte {
	w := rowblk.Writer{RestartInterval: propertiesBlockRestartInterval}
	require.NoError(t, p.saveToRowWriter(&w))
	return w.Finish()
}

func TestPropertiesSave(t *testing.T) {
	defer leaktest.AfterTest(t)()

	check := func(e *Properties) {
		props, err := readProperties(saveProps(t, e))
		require.NoError(t, err)
		props.Loaded = nil
		if diff := pretty.Diff(*e, props); diff != nil {
			t.Fatalf("%s", strings.Join(diff, "\n"))
		}
	}

	expected := testProps
	check(&expected)

	rng := randv1.New(randv1.NewSource(time.Now().UnixNano()))
	for i := 0; i < 1000; i++ {
		v, _ := quick.Value(reflect.TypeOf(Properties{}), rng)
		props := v.Interface().(Properties)
		props.Loaded = nil
		if len(props.UserProperties) == 0 {
			props.UserProperties = nil
		}
		check(&props)
	}
}

func TestPropertiesOmitEmpty(t *testing.T) {
	p := Properties{ComparerName: "c", NumEntries: 0}
	keys, m := p.accumulateProps()
	require.Contains(t, keys, "rocksdb.num.entries")
	require.Contains(t, keys, "rocksdb.comparator")
	// Empty strings and omitempty fields are not written.
	for _, name := range []string{
		"rocksdb.creating.session.identity",
		"rocksdb.external_sst_file.version",
		"rocksdb.external_sst_file.global_seqno",
		"rocksdb.filter.policy",
		"rocksdb.merge.operator",
	} {
		require.NotContains(t, m, name)
	}

	p.GlobalSeqNum = 7
	_, m = p.accumulateProps()
	require.Equal(t, binary.LittleEndian.AppendUint64(nil, 7), m["rocksdb.external_sst_file.global_seqno"])
	require.Equal(t, binary.LittleEndian.AppendUint32(nil, 0), m["rocksdb.block.based.table.index.type"])
}

func TestPropertiesBadSizes(t *testing.T) {
	testCases := []struct {
		name  string
		value []byte
	}{
		{"rocksdb.external_sst_file.version", []byte{1, 2}},
		{"rocksdb.external_sst_file.global_seqno", []byte{1, 2, 3, 4}},
		{"rocksdb.num.entries", []byte{0x80}},
		{"rocksdb.num.entries", []byte{1, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := rowblk.Writer{RestartInterval: propertiesBlockRestartInterval}
			require.NoError(t, w.AddRawString(tc.name, tc.value))
			_, err := readProperties(w.Finish())
			require.Error(t, err)
			require.True(t, base.IsCorruptionError(err), "%+v", err)
		})
	}
}

func TestPropertiesString(t *testing.T) {
	p := Properties{
		ComparerName:   "leveldb.BytewiseComparator",
		NumEntries:     3,
		UserProperties: map[string]string{"b": "\xff", "a": "x"},
	}
	require.Equal(t, "rocksdb.comparator: leveldb.BytewiseComparator\n"+
		"rocksdb.num.entries: 3\n"+
		"a: x\n"+
		"b: hex:ff\n", p.String())

	// Zero values that were loaded from disk are printed.
	loaded, err := readProperties(saveProps(t, &Properties{ComparerName: "c"}))
	require.NoError(t, err)
	require.Contains(t, loaded.String(), "rocksdb.num.entries: 0\n")
	require.NotContains(t, loaded.String(), "rocksdb.filter.policy")
}

func TestPropertiesNumPointDeletions(t *testing.T) {
	p := Properties{NumDeletions: 10, NumRangeDeletions: 3}
	require.Equal(t, uint64(7), p.NumPointDeletions())
	p.NumRangeDeletions = 11
	require.Equal(t, uint64(0), p.NumPointDeletions())
}

func BenchmarkPropertiesLoad(b *testing.B) {
	block := saveProps(b, &testProps)
	b.ResetTimer()
	p := &Properties{}
	for i := 0; i < b.N; i++ {
		*p = Properties{}
		it, err := rowblk.NewRawIter(bytes.Compare, block)
		require.NoError(b, err)
		require.NoError(b, p.load(it.All()))
	}
}
