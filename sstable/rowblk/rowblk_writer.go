// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rowblk defines facilities for row-oriented sstable blocks.
//
// A block is a sequence of prefix-compressed entries followed by a restart
// array:
//
//	entry:   varint shared | varint unshared | varint valueLen | key[shared:] | value
//	trailer: uint32 restart offsets... | [hash index] | uint32 footer
//
// Every RestartInterval-th entry is a restart point: it stores its key in full
// (shared is zero) and its offset is recorded in the restart array so that a
// search can binary search the restart points. The low 31 bits of the footer
// hold the number of restart points; the high bit marks the presence of a hash
// index (see HashIndexBuilder).
package rowblk

import (
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/errors"
)

const (
	// MaximumRestartOffset indicates the maximum offset that we can encode
	// within a restart point of a row-oriented block. If a block exceeds this
	// size and we attempt to add another KV pair, the restart points table will
	// be unable to express the position of the pair.
	MaximumRestartOffset = 1 << 31
	// EmptySize holds the size of an empty block. Every block ends in a uint32
	// trailer encoding the number of restart points within the block.
	EmptySize = 4
)

// ErrBlockTooBig is surfaced when a block exceeds the maximum size.
var ErrBlockTooBig = errors.New("rowblk: block size exceeds maximum size")

// Writer buffers and serializes key/value pairs into a row-oriented block.
type Writer struct {
	// RestartInterval configures the interval at which the writer will write a
	// full key without prefix compression, and encode a corresponding restart
	// point.
	RestartInterval int
	// HashIndexUtilRatio, if positive, enables the hash index: the expected
	// ratio of keys to hash buckets. It is only meaningful for blocks whose
	// keys are added with Add.
	HashIndexUtilRatio float64

	nEntries    int
	nextRestart int
	buf         []byte
	restarts    []uint32
	curKey      []byte
	curValue    []byte
	prevKey     []byte
	tmp         [4]byte
	hash        HashIndexBuilder
}

// Reset resets the block writer to empty, preserving buffers for reuse.
func (w *Writer) Reset() {
	hash := w.hash
	hash.Reset()
	*w = Writer{
		buf:      w.buf[:0],
		restarts: w.restarts[:0],
		curKey:   w.curKey[:0],
		curValue: w.curValue[:0],
		prevKey:  w.prevKey[:0],
		hash:     hash,
	}
}

// EntryCount returns the count of entries written to the writer.
func (w *Writer) EntryCount() int {
	return w.nEntries
}

// CurKey returns the most recently written key.
func (w *Writer) CurKey() base.InternalKey {
	return base.DecodeInternalKey(w.curKey)
}

// CurValue returns the most recently written value.
func (w *Writer) CurValue() []byte {
	return w.curValue
}

// CurUserKey returns the most recently written user key.
func (w *Writer) CurUserKey() []byte {
	n := len(w.curKey) - base.InternalTrailerLen
	if n < 0 {
		panic(errors.AssertionFailedf("corrupt key in blockWriter buffer"))
	}
	return w.curKey[:n:n]
}

// CurRawKey returns the most recently written key as stored.
func (w *Writer) CurRawKey() []byte {
	return w.curKey
}

func (w *Writer) store(keySize int, value []byte) (restartIndex int, err error) {
	// Check that the block does not already exceed MaximumRestartOffset. If it
	// does and we append the additional key-value pair, the new key-value pair's
	// offset in the block will be inexpressible as a restart point.
	if len(w.buf) >= MaximumRestartOffset {
		return 0, errors.WithDetailf(ErrBlockTooBig, "block is %d bytes long", len(w.buf))
	}
	if w.RestartInterval <= 0 {
		w.RestartInterval = 1
	}

	shared := 0
	if w.nEntries == w.nextRestart {
		w.nextRestart = w.nEntries + w.RestartInterval
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = base.SharedPrefixLen(w.curKey, w.prevKey)
	}

	needed := 3*binary.MaxVarintLen32 + len(w.curKey[shared:]) + len(value)
	n := len(w.buf)
	if cap(w.buf) < n+needed {
		newCap := 2 * cap(w.buf)
		if newCap == 0 {
			newCap = 1024
		}
		for newCap < n+needed {
			newCap *= 2
		}
		newBuf := make([]byte, n, newCap)
		copy(newBuf, w.buf)
		w.buf = newBuf
	}

	w.buf = binary.AppendUvarint(w.buf, uint64(shared))
	w.buf = binary.AppendUvarint(w.buf, uint64(keySize-shared))
	w.buf = binary.AppendUvarint(w.buf, uint64(len(value)))
	w.buf = append(w.buf, w.curKey[shared:]...)
	w.buf = append(w.buf, value...)
	w.curValue = w.buf[len(w.buf)-len(value):]

	w.nEntries++
	return len(w.restarts) - 1, nil
}

// Add adds a key value pair to the block.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	w.curKey, w.prevKey = w.prevKey, w.curKey

	size := key.Size()
	if cap(w.curKey) < size {
		w.curKey = make([]byte, 0, size*2)
	}
	w.curKey = w.curKey[:size]
	key.Encode(w.curKey)

	restart, err := w.store(size, value)
	if err != nil {
		return err
	}
	if w.HashIndexUtilRatio > 0 {
		if w.nEntries == 1 {
			w.hash.Init(w.HashIndexUtilRatio)
		}
		w.hash.Add(key.UserKey, restart)
	}
	return nil
}

// AddRaw adds a key value pair to the block. The key is stored as is.
func (w *Writer) AddRaw(key, value []byte) error {
	w.curKey, w.prevKey = w.prevKey, w.curKey

	size := len(key)
	if cap(w.curKey) < size {
		w.curKey = make([]byte, 0, size*2)
	}
	w.curKey = w.curKey[:size]
	copy(w.curKey, key)
	_, err := w.store(size, value)
	return err
}

// AddRawString is AddRaw but with a string key.
func (w *Writer) AddRawString(key string, value []byte) error {
	return w.AddRaw(unsafe.Slice(unsafe.StringData(key), len(key)), value)
}

func (w *Writer) hashIndexEnabled() bool {
	return w.HashIndexUtilRatio > 0 && w.nEntries > 0 && w.hash.Valid()
}

// Finish finalizes the block, serializes it and returns the serialized data.
// The returned slice is reused by the next block written.
func (w *Writer) Finish() []byte {
	// Write the restart points to the buffer.
	if w.nEntries == 0 {
		// Every block must have at least one restart point.
		if cap(w.restarts) > 0 {
			w.restarts = w.restarts[:1]
			w.restarts[0] = 0
		} else {
			w.restarts = append(w.restarts, 0)
		}
	}
	tmp4 := w.tmp[:4]
	for _, x := range w.restarts {
		binary.LittleEndian.PutUint32(tmp4, x)
		w.buf = append(w.buf, tmp4...)
	}
	footer := uint32(len(w.restarts))
	if w.hashIndexEnabled() {
		w.buf = w.hash.Finish(w.buf)
		footer |= hashIndexFooterBit
	}
	binary.LittleEndian.PutUint32(tmp4, footer)
	w.buf = append(w.buf, tmp4...)
	result := w.buf

	// Reset the block state.
	w.nEntries = 0
	w.nextRestart = 0
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.hash.Reset()
	return result
}

// EstimatedSize returns the estimated size of the block in bytes.
func (w *Writer) EstimatedSize() int {
	size := len(w.buf) + 4*len(w.restarts) + EmptySize
	if w.hashIndexEnabled() {
		size += w.hash.EstimatedSize()
	}
	return size
}
