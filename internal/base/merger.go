// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// Merge merges oldValue and newValue, and returns the merged value. The buf
// parameter can be used to store the newly merged value in order to avoid
// memory allocations. The merge operation must be associative.
type Merge func(key, oldValue, newValue, buf []byte) []byte

// Merger names the associative operation that combines the MERGE operands of
// a key. Tables store MERGE records as written and record only the name of
// the merger in their properties, so that a reader can refuse operands it
// does not know how to combine.
type Merger struct {
	Merge Merge

	// Name is the name of the merger, stored in the properties block.
	Name string
}

// DefaultMerger concatenates the two values to merge.
var DefaultMerger = &Merger{
	Merge: func(key, oldValue, newValue, buf []byte) []byte {
		return append(append(buf, oldValue...), newValue...)
	},

	Name: "pebble.concatenate",
}
