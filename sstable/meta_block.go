// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"slices"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
)

// metaIndexWriter collects the handles of the meta blocks. The metaindex is a
// row block of raw keys (the meta block names) in bytewise order, mapping to
// encoded block handles.
type metaIndexWriter struct {
	names   []string
	handles map[string]block.Handle
}

func (w *metaIndexWriter) add(name string, bh block.Handle) {
	if w.handles == nil {
		w.handles = make(map[string]block.Handle)
	}
	if _, ok := w.handles[name]; !ok {
		w.names = append(w.names, name)
	}
	w.handles[name] = bh
}

func (w *metaIndexWriter) finish() ([]byte, error) {
	slices.Sort(w.names)
	bw := rowblk.Writer{RestartInterval: 1}
	var tmp [block.MaxHandleLen]byte
	for _, name := range w.names {
		n := w.handles[name].EncodeVarints(tmp[:])
		if err := bw.AddRawString(name, tmp[:n]); err != nil {
			return nil, err
		}
	}
	return bw.Finish(), nil
}

// metaIndex maps meta block names to their handles.
type metaIndex struct {
	m swiss.Map[string, block.Handle]
}

func readMetaIndex(data []byte) (*metaIndex, error) {
	it, err := rowblk.NewRawIter(bytesCompare, data)
	if err != nil {
		return nil, errors.Wrap(err, "metaindex block")
	}
	defer it.Close()

	mi := &metaIndex{}
	mi.m.Init(8)
	for valid := it.First(); valid; valid = it.Next() {
		bh, n := block.DecodeHandle(it.Value())
		if n == 0 || n != len(it.Value()) {
			return nil, base.CorruptionErrorf("invalid table (bad handle for meta block %q)", it.RawKey())
		}
		mi.m.Put(string(it.RawKey()), bh)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return mi, nil
}

func (mi *metaIndex) get(name string) (block.Handle, bool) {
	return mi.m.Get(name)
}

// names returns the meta block names in sorted order.
func (mi *metaIndex) names() []string {
	names := make([]string, 0, mi.m.Len())
	mi.m.All(func(k string, _ block.Handle) bool {
		names = append(names, k)
		return true
	})
	slices.Sort(names)
	return names
}

func bytesCompare(a, b []byte) int {
	return base.DefaultComparer.Compare(a, b)
}
