// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/blocktable/sstable/rowblk"
	"github.com/cockroachdb/errors"
)

// Layout describes the block organization of an sstable.
type Layout struct {
	// NOTE: changes to fields in this struct should also be reflected in
	// Handles, which is used to validate the checksums of every block.

	Data       []block.Handle
	Index      block.Handle
	Filter     block.Handle
	FilterName string
	RangeDel   block.Handle
	Properties block.Handle
	MetaIndex  block.Handle
	Footer     block.Handle
	Format     TableFormat
	Checksum   block.ChecksumType
}

// NamedHandle is a block handle together with the kind of block it refers to.
type NamedHandle struct {
	block.Handle
	Kind string
}

// Handles returns the handles of every checksummed block of the table in file
// order. The footer is not included.
func (l *Layout) Handles() []NamedHandle {
	var blocks []NamedHandle
	for _, bh := range l.Data {
		blocks = append(blocks, NamedHandle{bh, "data"})
	}
	add := func(bh block.Handle, kind string) {
		if bh.Length != 0 {
			blocks = append(blocks, NamedHandle{bh, kind})
		}
	}
	if l.FilterName != "" {
		add(l.Filter, "filter")
	}
	add(l.Index, "index")
	add(l.RangeDel, "range-del")
	add(l.Properties, "properties")
	add(l.MetaIndex, "meta-index")
	slices.SortFunc(blocks, func(a, b NamedHandle) int {
		return cmp.Compare(a.Offset, b.Offset)
	})
	return blocks
}

// Layout returns the layout (block organization) for an sstable.
func (r *Reader) Layout() (*Layout, error) {
	l := &Layout{
		Index:      r.footer.indexBH,
		Filter:     r.filterBH,
		FilterName: r.filterName,
		RangeDel:   r.rangeDelBH,
		Properties: r.propertiesBH,
		MetaIndex:  r.footer.metaindexBH,
		Footer:     r.footer.footerBH,
		Format:     r.footer.format,
		Checksum:   r.footer.checksum,
	}
	var it rowblk.Iter
	if err := r.index.newIter(&it); err != nil {
		return nil, err
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		bh, err := decodeIndexValue(it.Value())
		if err != nil {
			return nil, err
		}
		l.Data = append(l.Data, bh)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return l, nil
}

// Describe writes a description of the layout to w. If verbose is true, the
// entries of each block are described as well, and fmtRecord, if non-nil, is
// used to format the entries of data and range deletion blocks.
func (l *Layout) Describe(
	w io.Writer, verbose bool, r *Reader, fmtRecord func(key *base.InternalKey, value []byte),
) {
	blocks := l.Handles()
	if l.Footer.Length != 0 {
		name := "footer"
		if l.Format == TableFormatLevelDB {
			name = "leveldb-footer"
		}
		blocks = append(blocks, NamedHandle{l.Footer, name})
	}
	if len(blocks) == 0 {
		return
	}

	for i := range blocks {
		b := &blocks[i]
		length := b.Length
		if b.Kind == "footer" || b.Kind == "leveldb-footer" {
			fmt.Fprintf(w, "%10d  %s (%d)\n", b.Offset, b.Kind, length)
			if verbose {
				fmt.Fprintf(w, "%10s    format: %s\n", "", l.Format)
				fmt.Fprintf(w, "%10s    checksum type: %s\n", "", l.Checksum)
				fmt.Fprintf(w, "%10s    meta: offset=%d, length=%d\n", "", l.MetaIndex.Offset, l.MetaIndex.Length)
				fmt.Fprintf(w, "%10s    index: offset=%d, length=%d\n", "", l.Index.Offset, l.Index.Length)
			}
			continue
		}
		fmt.Fprintf(w, "%10d  %s (%d)\n", b.Offset, b.Kind, length)
		if !verbose || b.Kind == "filter" {
			continue
		}

		data, err := r.readBlock(nil, b.Handle)
		if err != nil {
			fmt.Fprintf(w, "  [err: %s]\n", err)
			continue
		}
		if err := describeBlock(w, b.Kind, data, r, fmtRecord); err != nil {
			fmt.Fprintf(w, "  [err: %s]\n", err)
		}
	}

	last := blocks[len(blocks)-1]
	end := last.Offset + last.Length
	if last.Kind != "footer" && last.Kind != "leveldb-footer" {
		end = last.End()
	}
	fmt.Fprintf(w, "%10d  EOF\n", end)
}

func describeBlock(
	w io.Writer,
	kind string,
	data []byte,
	r *Reader,
	fmtRecord func(key *base.InternalKey, value []byte),
) error {
	var it rowblk.Iter
	var err error
	switch kind {
	case "properties", "meta-index":
		err = it.InitRaw(bytesCompare, data)
	default:
		err = it.Init(r.comparer.Compare, data, base.SeqNumDisableGlobal)
	}
	if err != nil {
		return err
	}
	defer it.Close()

	var lastKey base.InternalKey
	n := 0
	for valid := it.First(); valid; valid = it.Next() {
		switch kind {
		case "data", "range-del":
			key := it.Key()
			if fmtRecord != nil {
				fmt.Fprintf(w, "              ")
				fmtRecord(&key, it.Value())
			} else {
				fmt.Fprintf(w, "              %s (%d)\n", key.Pretty(r.comparer.FormatKey), len(it.Value()))
			}
			if kind == "data" && n > 0 && base.InternalCompare(r.comparer.Compare, lastKey, key) >= 0 {
				fmt.Fprintf(w, "              WARNING: OUT OF ORDER KEYS!\n")
			}
			lastKey.Trailer = key.Trailer
			lastKey.UserKey = append(lastKey.UserKey[:0], key.UserKey...)
		case "index":
			bh, err := decodeIndexValue(it.Value())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "              %s block:%d/%d\n",
				it.Key().Pretty(r.comparer.FormatKey), bh.Offset, bh.Length)
		case "properties":
			fmt.Fprintf(w, "              %s (%d)\n", it.RawKey(), len(it.Value()))
		case "meta-index":
			bh, m := block.DecodeHandle(it.Value())
			if m == 0 || m != len(it.Value()) {
				return errors.Newf("bad handle for meta block %q", it.RawKey())
			}
			fmt.Fprintf(w, "              %s block:%d/%d\n", it.RawKey(), bh.Offset, bh.Length)
		}
		n++
	}
	if err := it.Error(); err != nil {
		return err
	}
	fmt.Fprintf(w, "              [%d entries, %d restarts]\n", n, it.NumRestarts())
	return nil
}
