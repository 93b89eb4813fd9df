// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"slices"
	"testing"

	"github.com/cockroachdb/blocktable/bloom"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// uniqueSorted returns the distinct non-empty keys of keys in sorted order.
func uniqueSorted(keys []string) [][]byte {
	var out [][]byte
	for _, k := range keys {
		if k != "" {
			out = append(out, []byte(k))
		}
	}
	slices.SortFunc(out, bytes.Compare)
	return slices.CompactFunc(out, bytes.Equal)
}

func buildProperty(keys [][]byte, o WriterOptions) (*Reader, error) {
	var obj objstorage.MemObj
	w := NewWriter(&obj, o)
	for i, k := range keys {
		ikey := base.MakeInternalKey(k, base.SeqNum(i+1), base.InternalKeyKindSet)
		if err := w.Add(ikey, k); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return NewReader(objstorage.NewMemReadable(obj.Data()), ReaderOptions{})
}

func TestTableProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every written key is found", prop.ForAll(
		func(raw []string, blockSize int, blockFilter bool) bool {
			keys := uniqueSorted(raw)
			o := WriterOptions{BlockSize: blockSize, FilterPolicy: bloom.FilterPolicy(10)}
			if blockFilter {
				o.FilterType = base.BlockFilter
			}
			r, err := buildProperty(keys, o)
			if err != nil {
				return false
			}
			defer r.Close()
			for _, k := range keys {
				v, err := r.Get(k)
				if err != nil || !bytes.Equal(v, k) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 4096),
		gen.Bool(),
	))

	properties.Property("iteration returns keys in order", prop.ForAll(
		func(raw []string, blockSize, restartInterval int) bool {
			keys := uniqueSorted(raw)
			r, err := buildProperty(keys, WriterOptions{
				BlockSize:            blockSize,
				BlockRestartInterval: restartInterval,
			})
			if err != nil {
				return false
			}
			defer r.Close()
			it := r.NewIter()
			var got [][]byte
			for k, v := range it.All() {
				if !bytes.Equal(k.UserKey, v) {
					return false
				}
				got = append(got, slices.Clone(k.UserKey))
			}
			if it.Close() != nil || len(got) != len(keys) {
				return false
			}
			for i := range got {
				if !bytes.Equal(got[i], keys[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 1024),
		gen.IntRange(1, 32),
	))

	properties.Property("seek finds the first key at or after the target", prop.ForAll(
		func(raw []string, target string, blockSize int) bool {
			keys := uniqueSorted(raw)
			r, err := buildProperty(keys, WriterOptions{BlockSize: blockSize})
			if err != nil {
				return false
			}
			defer r.Close()
			it := r.NewIter()
			defer it.Close()

			idx, _ := slices.BinarySearchFunc(keys, []byte(target), bytes.Compare)
			if !it.SeekGE([]byte(target)) {
				return idx == len(keys) && it.Error() == nil
			}
			if idx == len(keys) || !bytes.Equal(it.Key().UserKey, keys[idx]) {
				return false
			}
			if !it.SeekLT([]byte(target)) {
				return idx == 0 && it.Error() == nil
			}
			return idx > 0 && bytes.Equal(it.Key().UserKey, keys[idx-1])
		},
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
		gen.IntRange(1, 512),
	))

	properties.Property("internal seek finds the first version at or after the target", prop.ForAll(
		func(raw []string, versions, blockSize int, target string, targetSeq int) bool {
			var kvs []base.InternalKey
			for _, k := range uniqueSorted(raw) {
				for j := versions; j > 0; j-- {
					kvs = append(kvs, base.MakeInternalKey(k, base.SeqNum(2*j), base.InternalKeyKindSet))
				}
			}
			var obj objstorage.MemObj
			w := NewWriter(&obj, WriterOptions{BlockSize: blockSize, BlockRestartInterval: 2})
			for _, k := range kvs {
				if w.Add(k, k.UserKey) != nil {
					return false
				}
			}
			if w.Close() != nil {
				return false
			}
			r, err := NewReader(objstorage.NewMemReadable(obj.Data()), ReaderOptions{})
			if err != nil {
				return false
			}
			defer r.Close()
			it := r.NewIter()
			defer it.Close()

			seek := base.MakeInternalKey([]byte(target), base.SeqNum(targetSeq), base.InternalKeyKindSet)
			idx, _ := slices.BinarySearchFunc(kvs, seek, func(a, b base.InternalKey) int {
				return base.InternalCompare(bytes.Compare, a, b)
			})
			if !it.SeekInternalGE(seek) {
				return idx == len(kvs) && it.Error() == nil
			}
			return idx < len(kvs) && base.InternalCompare(bytes.Compare, it.Key(), kvs[idx]) == 0
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 4),
		gen.IntRange(1, 64),
		gen.AlphaString(),
		gen.IntRange(0, 10),
	))

	properties.Property("filters have no false negatives", prop.ForAll(
		func(raw []string, bitsPerKey int) bool {
			policy := bloom.FilterPolicy(bitsPerKey)
			w := newTableFilterWriter(policy, bytes.Equal)
			keys := uniqueSorted(raw)
			for _, k := range keys {
				w.addKey(k)
			}
			data := w.finish()
			for _, k := range keys {
				if !policy.MayContain(base.TableFilter, data, k) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
