// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/errors"
)

// TableFactory creates table writers and readers that share one
// configuration.
type TableFactory struct {
	writerOpts WriterOptions
	readerOpts ReaderOptions
	createOpts objstorage.CreateOptions
}

// NewTableFactory returns a factory for tables written with wo, read with ro
// and created with co.
func NewTableFactory(
	wo WriterOptions, ro ReaderOptions, co objstorage.CreateOptions,
) *TableFactory {
	wo = wo.ensureDefaults()
	if ro.Comparer == nil {
		ro.Comparer = wo.Comparer
	}
	if ro.Logger == nil {
		ro.Logger = wo.Logger
	}
	if wo.FilterPolicy != nil {
		if ro.Filters == nil {
			ro.Filters = make(FilterPolicies)
		}
		if _, ok := ro.Filters[wo.FilterPolicy.Name()]; !ok {
			ro.Filters[wo.FilterPolicy.Name()] = wo.FilterPolicy
		}
	}
	return &TableFactory{writerOpts: wo, readerOpts: ro, createOpts: co}
}

// Name returns the name of the table format built by the factory.
func (f *TableFactory) Name() string {
	return "BlockBasedTable"
}

// WriterOptions returns the options used for new writers.
func (f *TableFactory) WriterOptions() WriterOptions {
	return f.writerOpts
}

// ReaderOptions returns the options used for new readers.
func (f *TableFactory) ReaderOptions() ReaderOptions {
	return f.readerOpts
}

// NewWriter returns a writer for w.
func (f *TableFactory) NewWriter(w objstorage.Writable) *Writer {
	return NewWriter(w, f.writerOpts)
}

// Create creates the file at path and returns a writer for it.
func (f *TableFactory) Create(path string) (*Writer, error) {
	w, err := objstorage.Create(path, f.createOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}
	return f.NewWriter(w), nil
}

// NewReader returns a reader for r.
func (f *TableFactory) NewReader(r objstorage.Readable) (*Reader, error) {
	return NewReader(r, f.readerOpts)
}

// Open opens the table at path.
func (f *TableFactory) Open(path string) (*Reader, error) {
	r, err := objstorage.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	rd, err := NewReader(r, f.readerOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return rd, nil
}
