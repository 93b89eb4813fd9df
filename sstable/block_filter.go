// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/errors"
)

// filterBaseLog being 11 means that we generate a new filter for every 2KiB of
// data.
//
// With the default BlockSize of 4KiB every second filter is empty; the value is
// part of the format.
const filterBaseLog = 11

// blockFilterWriter builds the LevelDB per-block filter, stored under
// "filter.<policy>":
//
//	filter[0] ... filter[n-1] | uint32 offset[0] ... offset[n-1] |
//	uint32 offset of the offset array | byte filterBaseLog
//
// Filter i covers the data blocks whose offset lies in
// [i<<filterBaseLog, (i+1)<<filterBaseLog).
type blockFilterWriter struct {
	policy base.FilterPolicy
	writer base.FilterWriter
	// numKeys is the number of keys added since the last emitted filter.
	numKeys int
	buf     []byte
	// data and offsets are the per-block filters for the overall table.
	data    []byte
	offsets []uint32
	err     error
}

func newBlockFilterWriter(policy base.FilterPolicy) *blockFilterWriter {
	return &blockFilterWriter{
		policy: policy,
		writer: policy.NewWriter(base.BlockFilter),
	}
}

func (f *blockFilterWriter) addKey(userKey []byte) {
	f.numKeys++
	f.writer.AddKey(userKey)
}

func (f *blockFilterWriter) appendOffset() {
	o := len(f.data)
	if uint64(o) > math.MaxUint32 && f.err == nil {
		f.err = errors.New("filter data is too long")
	}
	f.offsets = append(f.offsets, uint32(o))
}

func (f *blockFilterWriter) emit() {
	f.appendOffset()
	if f.numKeys == 0 {
		return
	}
	f.buf = f.writer.Finish(f.buf[:0])
	f.data = append(f.data, f.buf...)
	f.numKeys = 0
}

func (f *blockFilterWriter) finishBlock(nextBlockOffset uint64) {
	for i := nextBlockOffset >> filterBaseLog; i > uint64(len(f.offsets)); {
		f.emit()
	}
}

func (f *blockFilterWriter) finish() []byte {
	if f.numKeys > 0 {
		f.emit()
	}
	if len(f.offsets) == 0 && len(f.data) == 0 {
		return nil
	}
	f.appendOffset()

	for _, x := range f.offsets {
		f.data = binary.LittleEndian.AppendUint32(f.data, x)
	}
	f.data = append(f.data, filterBaseLog)
	return f.data
}

func (f *blockFilterWriter) metaName() string {
	return metaFilterPrefix + f.policy.Name()
}

func (f *blockFilterWriter) policyName() string {
	return f.policy.Name()
}

type blockFilterReader struct {
	data    []byte
	offsets []byte // len(offsets) must be a multiple of 4.
	policy  base.FilterPolicy
	shift   uint32
	metrics *FilterMetricsTracker
}

func (f *blockFilterReader) init(
	data []byte, policy base.FilterPolicy, metrics *FilterMetricsTracker,
) (ok bool) {
	if len(data) < 5 {
		return false
	}
	lastOffset := binary.LittleEndian.Uint32(data[len(data)-5:])
	if uint64(lastOffset) > uint64(len(data)-5) {
		return false
	}
	data, offsets, shift := data[:lastOffset], data[lastOffset:len(data)-1], uint32(data[len(data)-1])
	if len(offsets)&3 != 0 || len(offsets) < 4 || shift >= 64 {
		return false
	}
	f.data = data
	f.offsets = offsets
	f.policy = policy
	f.shift = shift
	f.metrics = metrics
	return true
}

// mayContain returns false only if no key of the data block at blockOffset
// has the given user key. Malformed filter data never excludes a key.
func (f *blockFilterReader) mayContain(blockOffset uint64, userKey []byte) bool {
	index := blockOffset >> f.shift
	if index >= uint64(len(f.offsets)/4-1) {
		return true
	}
	i := binary.LittleEndian.Uint32(f.offsets[4*index+0:])
	j := binary.LittleEndian.Uint32(f.offsets[4*index+4:])
	var mayContain bool
	switch {
	case i == j && uint64(j) <= uint64(len(f.data)):
		// An empty filter holds no keys.
		mayContain = false
	case i > j || uint64(j) > uint64(len(f.data)):
		return true
	default:
		mayContain = f.policy.MayContain(base.BlockFilter, f.data[i:j], userKey)
	}
	f.metrics.record(mayContain)
	return mayContain
}
