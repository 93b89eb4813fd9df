// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package tool implements the sstable introspection and construction
// commands of the blocktable binary.
package tool

import (
	"github.com/cockroachdb/blocktable/bloom"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/sstable"
	"github.com/spf13/cobra"
)

// Comparer exports the base.Comparer type.
type Comparer = base.Comparer

// FilterPolicy exports the base.FilterPolicy type.
type FilterPolicy = base.FilterPolicy

// T is the container for all of the introspection tools.
type T struct {
	Commands  []*cobra.Command
	sstable   *sstableT
	comparers sstable.Comparers
	filters   sstable.FilterPolicies
}

// New creates a new introspection tool.
func New() *T {
	t := &T{
		comparers: make(sstable.Comparers),
		filters:   make(sstable.FilterPolicies),
	}

	t.RegisterComparer(base.DefaultComparer)
	t.RegisterFilter(bloom.FilterPolicy(10))

	t.sstable = newSSTable(t.comparers, t.filters)
	t.Commands = []*cobra.Command{
		t.sstable.Root,
	}
	return t
}

// RegisterComparer registers a comparer for use by the introspection tools.
func (t *T) RegisterComparer(c *Comparer) {
	t.comparers[c.Name] = c
}

// RegisterFilter registers a filter policy for use by the introspection tools.
func (t *T) RegisterFilter(f FilterPolicy) {
	t.filters[f.Name()] = f
}
