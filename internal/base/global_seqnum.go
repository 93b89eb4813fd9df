// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// GlobalSeqNumKey holds one internal key and stamps it with a fixed sequence
// number. It is used to read tables that were built with placeholder sequence
// numbers and later assigned a single sequence number at ingestion time.
//
// The holder owns a single buffer that is reused across keys. Slices returned
// by Key and UserKey are invalidated by the next call to SetKey, SetUserKey or
// TrimAppend.
type GlobalSeqNumKey struct {
	buf          []byte
	globalSeqNum SeqNum
	isUserKey    bool

	// rewritten is set when the trailer at the end of buf has been replaced.
	// origTrailer holds the bytes it replaced, which TrimAppend restores when
	// the next key shares a prefix that reaches into the trailer.
	rewritten   bool
	origTrailer [InternalTrailerLen]byte
}

// MakeGlobalSeqNumKey returns an empty holder. Passing SeqNumDisableGlobal
// turns rewriting off: keys pass through unchanged. If isUserKey is true the
// stored bytes are bare user keys without a trailer.
func MakeGlobalSeqNumKey(globalSeqNum SeqNum, isUserKey bool) GlobalSeqNumKey {
	return GlobalSeqNumKey{globalSeqNum: globalSeqNum, isUserKey: isUserKey}
}

// GlobalSeqNum returns the configured sequence number.
func (k *GlobalSeqNumKey) GlobalSeqNum() SeqNum {
	return k.globalSeqNum
}

// Enabled returns true if keys are rewritten.
func (k *GlobalSeqNumKey) Enabled() bool {
	return k.globalSeqNum != SeqNumDisableGlobal
}

// Key returns the current key bytes.
func (k *GlobalSeqNumKey) Key() []byte {
	return k.buf
}

// UserKey returns the user key portion of the current key.
func (k *GlobalSeqNumKey) UserKey() []byte {
	if k.isUserKey {
		return k.buf
	}
	return ExtractUserKey(k.buf)
}

// SetUserKey marks the holder as holding bare user keys and stores key.
func (k *GlobalSeqNumKey) SetUserKey(key []byte) {
	k.isUserKey = true
	k.SetKey(key)
}

// SetKey replaces the held key with key, rewriting its sequence number unless
// rewriting is disabled or the holder stores bare user keys. The value type of
// key is preserved. With rewriting active key must be at least
// InternalTrailerLen bytes long.
func (k *GlobalSeqNumKey) SetKey(key []byte) {
	if k.Enabled() && !k.isUserKey && len(key) < InternalTrailerLen {
		panic(errors.AssertionFailedf("internal key too short: %d bytes", len(key)))
	}
	k.buf = append(k.buf[:0], key...)
	k.rewritten = false
	k.apply()
}

// TrimAppend reconstructs a prefix-compressed key: the held key is truncated
// to its first shared bytes and data[offset:offset+nonShared] is appended. The
// shared prefix is taken from the key as it was stored, not as rewritten.
func (k *GlobalSeqNumKey) TrimAppend(data []byte, offset, shared, nonShared int) {
	if k.rewritten && shared > len(k.buf)-InternalTrailerLen {
		copy(k.buf[len(k.buf)-InternalTrailerLen:], k.origTrailer[:])
	}
	k.rewritten = false
	k.buf = append(k.buf[:shared], data[offset:offset+nonShared]...)
	k.apply()
}

// AppendStored appends the held key to dst as it was stored, before any
// rewrite.
func (k *GlobalSeqNumKey) AppendStored(dst []byte) []byte {
	dst = append(dst, k.buf...)
	if k.rewritten {
		copy(dst[len(dst)-InternalTrailerLen:], k.origTrailer[:])
	}
	return dst
}

// Reinit reconfigures the holder and empties it, keeping its buffer.
func (k *GlobalSeqNumKey) Reinit(globalSeqNum SeqNum, isUserKey bool) {
	k.globalSeqNum = globalSeqNum
	k.isUserKey = isUserKey
	k.Reset()
}

// Reset empties the holder, keeping its configuration and buffer.
func (k *GlobalSeqNumKey) Reset() {
	k.buf = k.buf[:0]
	k.rewritten = false
}

func (k *GlobalSeqNumKey) apply() {
	if !k.Enabled() || k.isUserKey {
		return
	}
	n := len(k.buf) - InternalTrailerLen
	if n < 0 {
		// Too short to carry a trailer. The block iterator reports this as
		// corruption after decoding.
		return
	}
	trailer := k.buf[n:]
	copy(k.origTrailer[:], trailer)
	kind := InternalKeyKind(trailer[0])
	binary.LittleEndian.PutUint64(trailer, uint64(MakeTrailer(k.globalSeqNum, kind)))
	k.rewritten = true
}
