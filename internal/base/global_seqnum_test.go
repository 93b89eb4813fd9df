// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestGlobalSeqNumKeyRewrite(t *testing.T) {
	k := MakeGlobalSeqNumKey(42, false)
	require.True(t, k.Enabled())
	require.Equal(t, SeqNum(42), k.GlobalSeqNum())

	stored := MakeInternalKey([]byte("apple"), 0, InternalKeyKindMerge).Append(nil)
	k.SetKey(stored)
	got := DecodeInternalKey(k.Key())
	require.Equal(t, "apple#42,MERGE", got.String())
	require.Equal(t, []byte("apple"), k.UserKey())
	require.Equal(t, stored, k.AppendStored(nil))

	// The input buffer is never modified.
	require.Equal(t, InternalKeyTrailer(InternalKeyKindMerge), DecodeTrailer(stored))

	// A second SetKey replaces the first key rather than appending to it.
	k.SetKey(MakeInternalKey([]byte("b"), 7, InternalKeyKindDelete).Append(nil))
	require.Equal(t, "b#42,DEL", DecodeInternalKey(k.Key()).String())

	require.Panics(t, func() { k.SetKey([]byte("short")) })
}

func TestGlobalSeqNumKeyDisabled(t *testing.T) {
	k := MakeGlobalSeqNumKey(SeqNumDisableGlobal, false)
	require.False(t, k.Enabled())
	require.Equal(t, "disabled", k.GlobalSeqNum().String())

	// Keys of any length pass through when rewriting is off.
	for _, key := range []string{"", "abc", "apple\x01\x07\x00\x00\x00\x00\x00\x00"} {
		k.SetKey([]byte(key))
		require.Equal(t, key, string(k.Key()))
		require.Equal(t, key, string(k.AppendStored(nil)))
	}
}

func TestGlobalSeqNumKeyUserKey(t *testing.T) {
	k := MakeGlobalSeqNumKey(9, false)
	k.SetUserKey([]byte("banana\x01\x02\x03\x04\x05\x06\x07\x08"))
	// User keys carry no trailer, so nothing is rewritten or stripped.
	require.Equal(t, "banana\x01\x02\x03\x04\x05\x06\x07\x08", string(k.Key()))
	require.Equal(t, k.Key(), k.UserKey())

	k.SetKey([]byte("x"))
	require.Equal(t, "x", string(k.UserKey()))

	// SetKey keeps the user-key mode set by SetUserKey.
	k.SetKey([]byte("cherry\x01\x02\x03\x04\x05\x06\x07\x08"))
	require.Equal(t, "cherry\x01\x02\x03\x04\x05\x06\x07\x08", string(k.Key()))
}

func TestGlobalSeqNumKeyTrimAppend(t *testing.T) {
	keys := [][]byte{
		MakeInternalKey([]byte("apple"), 3, InternalKeyKindSet).Append(nil),
		// Shares "apple" plus the first trailer byte.
		MakeInternalKey([]byte("apple"), 2, InternalKeyKindSet).Append(nil),
		MakeInternalKey([]byte("apricot"), 9, InternalKeyKindDelete).Append(nil),
	}
	k := MakeGlobalSeqNumKey(100, false)
	var prev []byte
	for _, key := range keys {
		shared := SharedPrefixLen(prev, key)
		k.TrimAppend(key, shared, shared, len(key)-shared)
		require.Equal(t, key, k.AppendStored(nil))
		ik := DecodeInternalKey(k.Key())
		require.Equal(t, SeqNum(100), ik.SeqNum())
		require.Equal(t, DecodeKind(key), ik.Kind())
		prev = key
	}

	k.Reset()
	require.Empty(t, k.Key())
	require.True(t, k.Enabled())
}

func TestGlobalSeqNumKeyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("rewrite stamps sequence number and keeps kind", prop.ForAll(
		func(userKey string, seq, global uint64, kind uint8) bool {
			stored := MakeInternalKey([]byte(userKey), SeqNum(seq), InternalKeyKind(kind)).Append(nil)
			k := MakeGlobalSeqNumKey(SeqNum(global), false)
			k.SetKey(stored)
			got := DecodeInternalKey(k.Key())
			return string(got.UserKey) == userKey &&
				got.SeqNum() == SeqNum(global) &&
				got.Kind() == InternalKeyKind(kind) &&
				bytes.Equal(k.AppendStored(nil), stored)
		},
		gen.AlphaString(),
		gen.UInt64Range(0, uint64(SeqNumMax)),
		gen.UInt64Range(0, uint64(SeqNumMax)),
		gen.UInt8Range(0, uint8(InternalKeyKindMax)),
	))

	properties.Property("disabled holder is the identity", prop.ForAll(
		func(key []byte) bool {
			k := MakeGlobalSeqNumKey(SeqNumDisableGlobal, false)
			k.SetKey(key)
			return bytes.Equal(k.Key(), key)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("prefix reconstruction", prop.ForAll(
		func(userKeys []string, global uint64, enabled bool) bool {
			sort.Strings(userKeys)
			seq := SeqNum(global)
			if !enabled {
				seq = SeqNumDisableGlobal
			}
			k := MakeGlobalSeqNumKey(seq, false)
			var prev []byte
			for i, uk := range userKeys {
				key := MakeInternalKey([]byte(uk), SeqNum(i), InternalKeyKindSet).Append(nil)
				shared := SharedPrefixLen(prev, key)
				k.TrimAppend(key, shared, shared, len(key)-shared)
				if !bytes.Equal(k.AppendStored(nil), key) {
					return false
				}
				want := SeqNum(i)
				if enabled {
					want = seq
				}
				if DecodeTrailer(k.Key()).SeqNum() != want {
					return false
				}
				prev = key
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.UInt64Range(0, uint64(SeqNumMax)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
