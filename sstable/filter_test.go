// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/blocktable/bloom"
	"github.com/prometheus/client_golang/prometheus"
	prometheusgo "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestBlockFilter(t *testing.T) {
	w := newBlockFilterWriter(testFilterPolicy{})
	require.Equal(t, "filter.test.filter", w.metaName())

	// Block 0 covers [0, 3000), block 1 covers [3000, 9000) and block 2 starts
	// at 9000. The filter for [4096, 8192) is empty.
	w.addKey([]byte("a"))
	w.addKey([]byte("b"))
	w.finishBlock(3000)
	w.addKey([]byte("c"))
	w.finishBlock(9000)
	w.addKey([]byte("d"))
	data := w.finish()
	require.NoError(t, w.err)
	require.Equal(t, byte(filterBaseLog), data[len(data)-1])

	var metrics FilterMetricsTracker
	var r blockFilterReader
	require.True(t, r.init(data, testFilterPolicy{}, &metrics))

	testCases := []struct {
		offset uint64
		key    string
		want   bool
	}{
		{0, "a", true},
		{0, "b", true},
		{0, "c", false},
		{3000, "c", true},
		{3000, "a", false},
		{5000, "c", false},
		{9000, "d", true},
		{9000, "a", false},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, r.mayContain(tc.offset, []byte(tc.key)), "%d %s", tc.offset, tc.key)
	}
	require.Equal(t, FilterMetrics{Hits: 4, Misses: 4}, metrics.Load())

	// Offsets past the last filter are not covered and are not counted.
	require.True(t, r.mayContain(1<<20, []byte("z")))
	require.Equal(t, FilterMetrics{Hits: 4, Misses: 4}, metrics.Load())
}

func TestBlockFilterEmpty(t *testing.T) {
	w := newBlockFilterWriter(testFilterPolicy{})
	require.Nil(t, w.finish())
}

func TestBlockFilterMalformed(t *testing.T) {
	var r blockFilterReader
	for _, data := range [][]byte{
		nil,
		{1, 2, 3, 4},
		// The offset array starts past the end of the data.
		{0xff, 0, 0, 0, filterBaseLog},
		// The offset array is not a multiple of four bytes.
		{0, 0, 0, 1, 0, 0, 0, filterBaseLog},
		// The shift is out of range.
		{0, 0, 0, 0, 0, 0, 0, 0, 64},
	} {
		require.False(t, r.init(data, testFilterPolicy{}, nil), "%x", data)
	}

	// A filter whose bounds point outside the filter data never excludes keys.
	data := []byte{
		0, 0, 0, 0, // offset[0]
		0x10, 0, 0, 0, // offset[1]
		0, 0, 0, 0, // array offset
		filterBaseLog,
	}
	require.True(t, r.init(data, testFilterPolicy{}, nil))
	require.True(t, r.mayContain(0, []byte("a")))
}

func TestTableFilter(t *testing.T) {
	w := newTableFilterWriter(testFilterPolicy{}, bytes.Equal)
	require.Nil(t, w.finish())
	require.Equal(t, "fullfilter.test.filter", w.metaName())
	require.Equal(t, "test.filter", w.policyName())

	// Only the first version of each user key is added.
	for _, k := range []string{"a", "a", "b", "c", "c", "c"} {
		w.addKey([]byte(k))
	}
	w.finishBlock(1 << 20)
	data := w.finish()
	require.Equal(t, []byte("\x01a\x01b\x01c"), data)

	var metrics FilterMetricsTracker
	r := newTableFilterReader(testFilterPolicy{}, data, &metrics)
	require.True(t, r.mayContain([]byte("b")))
	require.False(t, r.mayContain([]byte("d")))
	require.False(t, r.mayContain([]byte("aa")))
	require.Equal(t, FilterMetrics{Hits: 2, Misses: 1}, metrics.Load())
}

func TestTableFilterBloom(t *testing.T) {
	policy := bloom.FilterPolicy(10)
	w := newTableFilterWriter(policy, bytes.Equal)
	require.Equal(t, "fullfilter.rocksdb.BuiltinBloomFilter", w.metaName())
	keys := makeKVs(1000)
	for _, kv := range keys {
		w.addKey(kv.key.UserKey)
	}
	r := newTableFilterReader(policy, w.finish(), nil)
	for _, kv := range keys {
		require.True(t, r.mayContain(kv.key.UserKey), "%s", kv.key.UserKey)
	}
}

func TestFilterMetricsNilTracker(t *testing.T) {
	var m *FilterMetricsTracker
	m.record(true)
	m.record(false)
}

func TestFilterMetricsCollector(t *testing.T) {
	var m FilterMetricsTracker
	m.record(true)
	m.record(false)
	m.record(false)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewFilterMetricsCollector(&m))
	families, err := reg.Gather()
	require.NoError(t, err)

	got := make(map[string]float64)
	for _, f := range families {
		require.Equal(t, prometheusgo.MetricType_COUNTER, f.GetType())
		require.Len(t, f.GetMetric(), 1)
		got[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{
		"blocktable_filter_hits_total":   2,
		"blocktable_filter_misses_total": 1,
	}, got)

	// The collector reads the tracker on every scrape.
	m.record(true)
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "blocktable_filter_misses_total" {
			require.Equal(t, float64(2), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
