// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"sync/atomic"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/prometheus/client_golang/prometheus"
)

// FilterMetrics holds metrics for the filter policy.
type FilterMetrics struct {
	// The number of hits for the filter policy. This is the
	// number of times the filter policy was successfully used to avoid access
	// of a data block.
	Hits int64
	// The number of misses for the filter policy. This is the number of times
	// the filter policy was checked but was unable to filter an access of a data
	// block.
	Misses int64
}

// FilterMetricsTracker is used to keep track of filter metrics. It contains the
// same metrics as FilterMetrics, but they can be updated atomically. An
// instance of FilterMetricsTracker can be passed to a Reader as a ReaderOption.
type FilterMetricsTracker struct {
	// See FilterMetrics.Hits.
	hits atomic.Int64
	// See FilterMetrics.Misses.
	misses atomic.Int64
}

// Load returns the current values as FilterMetrics.
func (m *FilterMetricsTracker) Load() FilterMetrics {
	return FilterMetrics{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
	}
}

func (m *FilterMetricsTracker) record(mayContain bool) {
	if m == nil {
		return
	}
	if mayContain {
		m.misses.Add(1)
	} else {
		m.hits.Add(1)
	}
}

var (
	filterHitsDesc = prometheus.NewDesc(
		"blocktable_filter_hits_total",
		"Number of lookups for which a filter avoided reading a data block.",
		nil, nil)
	filterMissesDesc = prometheus.NewDesc(
		"blocktable_filter_misses_total",
		"Number of lookups for which a filter could not rule out the key.",
		nil, nil)
)

// FilterMetricsCollector exports a FilterMetricsTracker as prometheus
// counters.
type FilterMetricsCollector struct {
	tracker *FilterMetricsTracker
}

var _ prometheus.Collector = (*FilterMetricsCollector)(nil)

// NewFilterMetricsCollector returns a collector reading from m.
func NewFilterMetricsCollector(m *FilterMetricsTracker) *FilterMetricsCollector {
	return &FilterMetricsCollector{tracker: m}
}

// Describe implements prometheus.Collector.
func (c *FilterMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- filterHitsDesc
	ch <- filterMissesDesc
}

// Collect implements prometheus.Collector.
func (c *FilterMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.tracker.Load()
	ch <- prometheus.MustNewConstMetric(filterHitsDesc, prometheus.CounterValue, float64(m.Hits))
	ch <- prometheus.MustNewConstMetric(filterMissesDesc, prometheus.CounterValue, float64(m.Misses))
}

// filterWriter is implemented by the table and block filter writers.
type filterWriter interface {
	addKey(userKey []byte)
	// finishBlock is called when the data block that starts at
	// nextBlockOffset is about to be written.
	finishBlock(nextBlockOffset uint64)
	finish() []byte
	metaName() string
	policyName() string
}

// tableFilterWriter builds a single filter over every user key in the table,
// stored under "fullfilter.<policy>".
type tableFilterWriter struct {
	policy base.FilterPolicy
	writer base.FilterWriter
	equal  base.Equal
	// count is the number of keys added to the filter.
	count   int
	lastKey []byte
}

func newTableFilterWriter(policy base.FilterPolicy, equal base.Equal) *tableFilterWriter {
	return &tableFilterWriter{
		policy: policy,
		writer: policy.NewWriter(base.TableFilter),
		equal:  equal,
	}
}

func (f *tableFilterWriter) addKey(userKey []byte) {
	// Versions of a key are adjacent; only the first is added.
	if f.count > 0 && f.equal(f.lastKey, userKey) {
		return
	}
	f.count++
	f.lastKey = append(f.lastKey[:0], userKey...)
	f.writer.AddKey(userKey)
}

func (f *tableFilterWriter) finishBlock(uint64) {}

func (f *tableFilterWriter) finish() []byte {
	if f.count == 0 {
		return nil
	}
	return f.writer.Finish(nil)
}

func (f *tableFilterWriter) metaName() string {
	return metaFullFilterPrefix + f.policy.Name()
}

func (f *tableFilterWriter) policyName() string {
	return f.policy.Name()
}

type tableFilterReader struct {
	policy  base.FilterPolicy
	data    []byte
	metrics *FilterMetricsTracker
}

func newTableFilterReader(
	policy base.FilterPolicy, data []byte, metrics *FilterMetricsTracker,
) *tableFilterReader {
	return &tableFilterReader{
		policy:  policy,
		data:    data,
		metrics: metrics,
	}
}

func (f *tableFilterReader) mayContain(userKey []byte) bool {
	mayContain := f.policy.MayContain(base.TableFilter, f.data, userKey)
	f.metrics.record(mayContain)
	return mayContain
}
