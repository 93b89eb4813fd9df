// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rowblk

import (
	"encoding/binary"
	"iter"
	"sort"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/errors"
)

// Iter is an iterator over a single block of data.
//
// Keys are reconstructed into a single base.GlobalSeqNumKey, which also
// stamps every internal key with the block's global sequence number when one
// is configured. The key returned by a positioning call is invalidated by the
// next positioning call.
//
// Blocks are untrusted input: every varint and length is bounds checked, and a
// malformed entry makes the iterator invalid and sets a corruption error that
// sticks until the iterator is re-initialized.
type Iter struct {
	cmp base.Compare
	// rawKeys is set for blocks whose keys are not internal keys, such as the
	// meta index and properties blocks.
	rawKeys bool

	// offset is the byte index that marks where the current key/value is
	// encoded in the block.
	offset offsetInBlock
	// nextOffset is the byte index where the next key/value is encoded in the
	// block.
	nextOffset offsetInBlock
	// restarts is the offset of the restart array, which is also where the
	// entries end. numRestarts is the length of the array.
	restarts    offsetInBlock
	numRestarts int32
	data        []byte
	hash        HashIndex

	key  base.GlobalSeqNumKey
	ikey base.InternalKey
	val  base.Slice

	// cached and cachedBuf are used during reverse iteration. They are needed
	// because we can't perform prefix decoding in reverse, only in the forward
	// direction. In order to iterate in reverse, we decode and cache the entries
	// between two restart points.
	//
	// Note that cached[len(cached)-1] contains the previous entry to the one the
	// blockIter is currently pointed at. Keys are cached as stored, before any
	// sequence number rewrite.
	cached    []blockEntry
	cachedBuf []byte

	err error
}

// offsetInBlock represents an offset in a block. It is signed so that -1 can
// mark the position before the first entry.
type offsetInBlock int64

type blockEntry struct {
	offset offsetInBlock
	key    base.Slice // into cachedBuf
	val    base.Slice // into data
}

// NewIter constructs an iterator over a block of internal keys. Keys are
// rewritten to globalSeqNum unless it is base.SeqNumDisableGlobal.
func NewIter(cmp base.Compare, blk []byte, globalSeqNum base.SeqNum) (*Iter, error) {
	i := &Iter{}
	return i, i.Init(cmp, blk, globalSeqNum)
}

// NewRawIter constructs an iterator over a block whose keys are arbitrary
// byte strings.
func NewRawIter(cmp base.Compare, blk []byte) (*Iter, error) {
	i := &Iter{}
	return i, i.InitRaw(cmp, blk)
}

// String implements fmt.Stringer.
func (i *Iter) String() string {
	return "block"
}

// Init initializes the block iterator from the provided block of internal
// keys.
func (i *Iter) Init(cmp base.Compare, blk []byte, globalSeqNum base.SeqNum) error {
	return i.init(cmp, blk, globalSeqNum, false)
}

// InitRaw initializes the block iterator from the provided block of raw keys.
func (i *Iter) InitRaw(cmp base.Compare, blk []byte) error {
	return i.init(cmp, blk, base.SeqNumDisableGlobal, true)
}

func (i *Iter) init(cmp base.Compare, blk []byte, globalSeqNum base.SeqNum, rawKeys bool) error {
	i.Invalidate()
	i.err = nil
	restarts, numRestarts, h, err := decodeBlockTrailer(blk)
	if err != nil {
		return err
	}
	// Validate the restart array once so that positioning never has to.
	prev := offsetInBlock(-1)
	for j := 0; j < int(numRestarts); j++ {
		off := offsetInBlock(binary.LittleEndian.Uint32(blk[restarts+4*offsetInBlock(j):]))
		if off <= prev || (off >= restarts && restarts > 0) || (j == 0 && off != 0) {
			return base.CorruptionErrorf("block restart point %d at offset %d is out of order",
				errors.Safe(j), errors.Safe(off))
		}
		prev = off
	}
	if restarts == 0 && numRestarts != 1 {
		return base.CorruptionErrorf("empty block has %d restart points", errors.Safe(numRestarts))
	}
	if h.Present() && int(numRestarts) > MaxRestartsForHashIndex+1 {
		return base.CorruptionErrorf("block hash index with %d restart points", errors.Safe(numRestarts))
	}

	i.cmp = cmp
	i.rawKeys = rawKeys
	i.data = blk
	i.restarts = restarts
	i.numRestarts = numRestarts
	i.hash = h
	i.key.Reinit(globalSeqNum, rawKeys)
	i.offset = -1
	i.nextOffset = 0
	return nil
}

// Invalidate invalidates the block iterator, removing references to the block
// it was initialized with.
func (i *Iter) Invalidate() {
	i.clearCache()
	i.offset = 0
	i.nextOffset = 0
	i.restarts = 0
	i.numRestarts = 0
	i.data = nil
	i.hash = HashIndex{}
	i.key.Reset()
}

// IsDataInvalidated returns true when the iterator has been invalidated
// using an invalidate call. NB: this is different from Valid.
func (i *Iter) IsDataInvalidated() bool {
	return i.data == nil
}

// NumRestarts returns the number of restart points in the block.
func (i *Iter) NumRestarts() int {
	return int(i.numRestarts)
}

// HashIndex returns the block's hash index. It is empty if the block was
// written without one.
func (i *Iter) HashIndex() HashIndex {
	return i.hash
}

func (i *Iter) getRestart(idx int) offsetInBlock {
	return offsetInBlock(binary.LittleEndian.Uint32(i.data[i.restarts+4*offsetInBlock(idx):]))
}

func (i *Iter) corrupt(format string, args ...interface{}) bool {
	if i.err == nil {
		i.err = errors.Wrapf(base.CorruptionErrorf(format, args...),
			"block entry at offset %d", errors.Safe(i.offset))
	}
	i.clearCache()
	i.offset = i.restarts
	i.nextOffset = i.restarts
	return false
}

// readEntry decodes the entry at i.offset. It returns false, leaving the
// iterator invalid, if the entry is malformed.
func (i *Iter) readEntry() bool {
	p := i.data[i.offset:i.restarts]
	shared, n1 := binary.Uvarint(p)
	if n1 <= 0 {
		return i.corrupt("bad shared key length")
	}
	unshared, n2 := binary.Uvarint(p[n1:])
	if n2 <= 0 {
		return i.corrupt("bad unshared key length")
	}
	valLen, n3 := binary.Uvarint(p[n1+n2:])
	if n3 <= 0 {
		return i.corrupt("bad value length")
	}
	hdr := n1 + n2 + n3
	rest := uint64(len(p) - hdr)
	if unshared > rest || valLen > rest-unshared {
		return i.corrupt("entry of %d+%d bytes overruns block", errors.Safe(unshared), errors.Safe(valLen))
	}
	if shared > uint64(len(i.key.Key())) {
		return i.corrupt("shared key length %d exceeds previous key length %d",
			errors.Safe(shared), errors.Safe(len(i.key.Key())))
	}
	keyStart := int(i.offset) + hdr
	i.key.TrimAppend(i.data, keyStart, int(shared), int(unshared))
	valStart := keyStart + int(unshared)
	i.val = base.Slice{Offset: uint32(valStart), Limit: uint32(valStart + int(valLen))}
	i.nextOffset = offsetInBlock(valStart) + offsetInBlock(valLen)
	return i.decodeKey()
}

func (i *Iter) decodeKey() bool {
	if i.rawKeys {
		return true
	}
	k := i.key.Key()
	if len(k) < base.InternalTrailerLen {
		i.ikey = base.InvalidInternalKey
		return i.corrupt("invalid internal key of %d bytes", errors.Safe(len(k)))
	}
	if _, ok := base.ParseKindByte(k[len(k)-base.InternalTrailerLen]); !ok {
		i.ikey = base.InvalidInternalKey
		return i.corrupt("invalid internal key kind %d", errors.Safe(k[len(k)-base.InternalTrailerLen]))
	}
	i.ikey = base.DecodeInternalKey(k)
	return true
}

// readRestart positions the iterator at the given restart point.
func (i *Iter) readRestart(idx int) bool {
	i.offset = i.getRestart(idx)
	i.key.Reset()
	if !i.Valid() {
		return false
	}
	return i.readEntry()
}

func (i *Iter) clearCache() {
	i.cached = i.cached[:0]
	i.cachedBuf = i.cachedBuf[:0]
}

func (i *Iter) cacheEntry() {
	start := len(i.cachedBuf)
	i.cachedBuf = i.key.AppendStored(i.cachedBuf)
	i.cached = append(i.cached, blockEntry{
		offset: i.offset,
		key:    base.Slice{Offset: uint32(start), Limit: uint32(len(i.cachedBuf))},
		val:    i.val,
	})
}

func (i *Iter) compare(a, b []byte) int {
	if i.rawKeys {
		return i.cmp(a, b)
	}
	return base.CompareEncoded(i.cmp, a, b)
}

// searchRestarts returns the index of the first restart point whose key is >=
// key, or numRestarts if there is none.
func (i *Iter) searchRestarts(key []byte) int {
	return sort.Search(int(i.numRestarts), func(j int) bool {
		if i.err != nil || !i.readRestart(j) {
			return true
		}
		return i.compare(i.key.Key(), key) >= 0
	})
}

// SeekGE moves the iterator to the first entry whose key is greater than or
// equal to key. For internal key blocks key must be an encoded internal key.
func (i *Iter) SeekGE(key []byte) bool {
	if i.err != nil {
		return false
	}
	i.clearCache()
	index := i.searchRestarts(key)
	if i.err != nil {
		return false
	}
	// Keys at restart index-1 are < key; scan forward from there.
	if index > 0 {
		index--
	}
	if !i.readRestart(index) {
		return false
	}
	return i.scanForward(key)
}

// scanForward advances until the current key is >= key.
func (i *Iter) scanForward(key []byte) bool {
	for i.compare(i.key.Key(), key) < 0 {
		i.offset = i.nextOffset
		if !i.Valid() {
			return false
		}
		if !i.readEntry() {
			return false
		}
	}
	return true
}

// SeekUsingHash is like SeekGE for a point lookup of key's user key, using the
// hash index to skip the restart point search. ok is false if the hash index
// could not answer, in which case the iterator is unchanged and the caller
// should use SeekGE. If key's user key is definitely not in the block the
// iterator is positioned past the last entry.
func (i *Iter) SeekUsingHash(key []byte) (valid, ok bool) {
	if i.err != nil || i.rawKeys || !i.hash.Present() {
		return false, false
	}
	restart, found, ok := i.hash.Lookup(base.ExtractUserKey(key))
	if !ok {
		return false, false
	}
	i.clearCache()
	if !found {
		i.offset = i.restarts
		i.nextOffset = i.restarts
		return false, true
	}
	if restart >= int(i.numRestarts) {
		return i.corrupt("hash index names restart %d of %d", errors.Safe(restart), errors.Safe(i.numRestarts)), true
	}
	if !i.readRestart(restart) {
		return false, true
	}
	return i.scanForward(key), true
}

// SeekLT moves the iterator to the last entry whose key is less than key.
func (i *Iter) SeekLT(key []byte) bool {
	if i.err != nil {
		return false
	}
	i.clearCache()
	index := i.searchRestarts(key)
	if i.err != nil {
		return false
	}
	if index == 0 {
		// Every key in the block is >= key.
		i.offset = -1
		i.nextOffset = 0
		return false
	}
	// The entry at restart index-1 is < key. Scan forward to the last key < key
	// that precedes restart index, caching entries for Prev.
	limit := i.restarts
	if index < int(i.numRestarts) {
		limit = i.getRestart(index)
	}
	if !i.readRestart(index - 1) {
		return false
	}
	for i.nextOffset < limit {
		i.cacheEntry()
		i.offset = i.nextOffset
		if !i.readEntry() {
			return false
		}
		if i.compare(i.key.Key(), key) >= 0 {
			// Went one too far; step back to the cached entry.
			return i.Prev()
		}
	}
	return true
}

// First moves the iterator to the first entry in the block.
func (i *Iter) First() bool {
	if i.err != nil {
		return false
	}
	i.clearCache()
	return i.readRestart(0)
}

// Last moves the iterator to the last entry in the block.
func (i *Iter) Last() bool {
	if i.err != nil {
		return false
	}
	i.clearCache()
	if !i.readRestart(int(i.numRestarts) - 1) {
		return false
	}
	for i.nextOffset < i.restarts {
		i.cacheEntry()
		i.offset = i.nextOffset
		if !i.readEntry() {
			return false
		}
	}
	return true
}

// Next moves the iterator to the next entry.
func (i *Iter) Next() bool {
	if i.err != nil {
		return false
	}
	// Switching from reverse to forward iteration. The key holder already
	// holds the current key, which the next entry is prefix-compressed
	// against.
	i.clearCache()
	i.offset = i.nextOffset
	if !i.Valid() {
		return false
	}
	if i.offset == 0 {
		i.key.Reset()
	}
	return i.readEntry()
}

// Prev moves the iterator to the previous entry.
func (i *Iter) Prev() bool {
	if i.err != nil {
		return false
	}
	if n := len(i.cached) - 1; n >= 0 {
		e := i.cached[n]
		i.nextOffset = i.offset
		i.offset = e.offset
		i.val = e.val
		i.key.SetKey(e.key.Bytes(i.cachedBuf))
		i.cached = i.cached[:n]
		i.cachedBuf = i.cachedBuf[:e.key.Offset]
		return i.decodeKey()
	}

	i.clearCache()
	if i.offset <= 0 {
		i.offset = -1
		i.nextOffset = 0
		return false
	}

	targetOffset := i.offset
	// index is the first restart with offset >= targetOffset. The restart
	// before it has an offset < targetOffset.
	index := sort.Search(int(i.numRestarts), func(j int) bool {
		return i.getRestart(j) >= targetOffset
	})
	if index == 0 {
		return i.corrupt("no restart point precedes offset %d", errors.Safe(targetOffset))
	}
	if !i.readRestart(index - 1) {
		return false
	}
	// We stop when i.nextOffset == targetOffset since the targetOffset is the
	// entry we are stepping back from, and we don't need to cache the entry
	// before it, since it is the candidate to return.
	for i.nextOffset < targetOffset {
		i.cacheEntry()
		i.offset = i.nextOffset
		if !i.readEntry() {
			return false
		}
	}
	if i.nextOffset != targetOffset {
		return i.corrupt("entry overlaps offset %d", errors.Safe(targetOffset))
	}
	return true
}

// Key returns the internal key at the current position. The key is only
// meaningful for blocks of internal keys.
func (i *Iter) Key() base.InternalKey {
	return i.ikey
}

// RawKey returns the key at the current position as bytes, after any sequence
// number rewrite.
func (i *Iter) RawKey() []byte {
	return i.key.Key()
}

// Value returns the value at the current position.
func (i *Iter) Value() []byte {
	return i.val.Bytes(i.data)
}

// ValueSlice returns the location of the current value within the block.
func (i *Iter) ValueSlice() base.Slice {
	return i.val
}

// Valid returns true if the iterator is currently positioned at an entry.
func (i *Iter) Valid() bool {
	return i.offset >= 0 && i.offset < i.restarts
}

// Error returns the corruption error encountered, if any.
func (i *Iter) Error() error {
	return i.err
}

// Close releases the block, keeping buffers for reuse.
func (i *Iter) Close() error {
	key := i.key
	key.Reset()
	cached := i.cached[:0]
	cachedBuf := i.cachedBuf[:0]
	*i = Iter{
		key:       key,
		cached:    cached,
		cachedBuf: cachedBuf,
	}
	return nil
}

// All returns an iterator over the raw keys and values of the block. The
// caller should check Error afterwards.
func (i *Iter) All() iter.Seq2[[]byte, []byte] {
	return func(yield func(key []byte, value []byte) bool) {
		for valid := i.First(); valid; valid = i.Next() {
			if !yield(i.RawKey(), i.Value()) {
				return
			}
		}
	}
}
