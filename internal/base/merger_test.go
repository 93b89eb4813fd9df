// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMerger(t *testing.T) {
	v := DefaultMerger.Merge([]byte("k"), []byte("a"), []byte("b"), nil)
	require.Equal(t, "ab", string(v))
	v = DefaultMerger.Merge([]byte("k"), v, []byte("c"), v[:0:0])
	require.Equal(t, "abc", string(v))
}
