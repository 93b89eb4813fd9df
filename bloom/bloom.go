// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bloom implements Bloom filters.
package bloom // import "github.com/cockroachdb/blocktable/bloom"

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/blocktable/internal/base"
)

const (
	cacheLineSize = 64
	cacheLineBits = cacheLineSize * 8
)

// This table contains the optimal number of probes for each bitsPerKey. For
// bits per key over 10, probes[10] should be used.
//
// The standard bloom filter formula does not yield the optimal number for our
// scheme, which constrains all probes to be inside the same cache line. This is
// especially true for larger bits-per-key values.
var probes = [11]uint32{
	1:  1,
	2:  1,
	3:  2,
	4:  3,
	5:  3,
	6:  4,
	7:  4,
	8:  5,
	9:  5,
	10: 6,
}

func calculateProbes(bitsPerKey int) uint32 {
	if bitsPerKey > 10 {
		return probes[10]
	}
	return probes[bitsPerKey]
}

// tableFilter is a full-table filter in the RocksDB cache-local format:
//   - nLines * cacheLineSize bytes of filter bits
//   - 1 byte: number of probes
//   - 4 bytes: number of lines (little-endian)
type tableFilter []byte

func (f tableFilter) MayContain(key []byte) bool {
	return f.mayContainHash(hash(key))
}

func (f tableFilter) mayContainHash(h uint32) bool {
	if len(f) <= 5 {
		return false
	}
	n := len(f) - 5
	nProbes := f[n]
	nLines := binary.LittleEndian.Uint32(f[n+1:])
	if nLines == 0 || uint32(n)%nLines != 0 || 8*(uint32(n)/nLines) != cacheLineBits {
		// Unknown layout. A filter that cannot be interpreted never excludes
		// a key.
		return true
	}
	if nProbes > 30 {
		// Reserved for newer filter implementations.
		return true
	}
	delta := h>>17 | h<<15 // rotate right 17 bits
	line := f[(h%nLines)*cacheLineSize:][:cacheLineSize]
	for j := uint8(0); j < nProbes; j++ {
		// The bit position within the line is (h % cacheLineBits).
		//  byte index: (h % cacheLineBits)/8 = (h/8) % cacheLineSize
		//  bit index: (h % cacheLineBits)%8 = h%8
		if line[(h>>3)&(cacheLineSize-1)]&(1<<(h&7)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

func calculateNumLines(numHashes int, bitsPerKey int) uint32 {
	nLines := (uint64(numHashes)*uint64(bitsPerKey) + cacheLineBits - 1) / (cacheLineBits)
	// Make nLines an odd number to make sure more bits are involved when
	// determining which block.
	return uint32(nLines | 1)
}

// blockFilter is a LevelDB style filter for the keys of one 2KB range of data
// blocks: the filter bits followed by a single byte holding the number of
// probes.
type blockFilter []byte

func (f blockFilter) MayContain(key []byte) bool {
	if len(f) < 2 {
		return false
	}
	k := f[len(f)-1]
	if k > 30 {
		// This is reserved for potentially new encodings for short Bloom
		// filters. Consider it a match.
		return true
	}
	nBits := uint32(8 * (len(f) - 1))
	h := hash(key)
	delta := h>>17 | h<<15
	for j := uint8(0); j < k; j++ {
		bitPos := h % nBits
		if f[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// hash implements a hashing algorithm similar to the Murmur hash.
func hash(b []byte) uint32 {
	const (
		seed = 0xbc9f1d34
		m    = 0xc6a4a793
	)
	h := uint32(seed) ^ (uint32(len(b)) * m)
	for ; len(b) >= 4; b = b[4:] {
		h += uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		h *= m
		h ^= h >> 16
	}

	// The code below first casts each byte to a signed 8-bit integer. This is
	// necessary to match RocksDB's behavior. Note that the `byte` type in Go is
	// unsigned. What is the difference between casting a signed 8-bit value vs
	// unsigned 8-bit value into an unsigned 32-bit value?
	// Sign-extension. Consider the value 250 which has the bit pattern 11111010:
	//
	//   uint32(250)        = 00000000000000000000000011111010
	//   uint32(int8(250))  = 11111111111111111111111111111010
	//
	// Note that the original LevelDB code did not explicitly cast to a signed
	// 8-bit value which left the behavior dependent on whether C characters were
	// signed or unsigned which is a compiler flag for gcc (-funsigned-char).
	switch len(b) {
	case 3:
		h += uint32(int8(b[2])) << 16
		fallthrough
	case 2:
		h += uint32(int8(b[1])) << 8
		fallthrough
	case 1:
		h += uint32(int8(b[0]))
		h *= m
		h ^= h >> 24
	}
	return h
}

// hashCollector accumulates the hashes of the keys added to a filter writer.
type hashCollector struct {
	hashes []uint32
}

func (c *hashCollector) Add(h uint32) {
	// Adjacent duplicates are common when several versions of one user key
	// are added in a row.
	if n := len(c.hashes); n > 0 && c.hashes[n-1] == h {
		return
	}
	c.hashes = append(c.hashes, h)
}

func (c *hashCollector) NumHashes() int {
	return len(c.hashes)
}

func (c *hashCollector) Reset() {
	c.hashes = c.hashes[:0]
}

// tableFilterWriter implements base.FilterWriter for full-table filters.
type tableFilterWriter struct {
	bitsPerKey int
	numProbes  uint32
	hc         hashCollector
}

func newTableFilterWriter(bitsPerKey int) *tableFilterWriter {
	return &tableFilterWriter{
		bitsPerKey: bitsPerKey,
		numProbes:  calculateProbes(bitsPerKey),
	}
}

// AddKey implements the base.FilterWriter interface.
func (w *tableFilterWriter) AddKey(key []byte) {
	w.hc.Add(hash(key))
}

// Finish implements the base.FilterWriter interface.
func (w *tableFilterWriter) Finish(buf []byte) []byte {
	// The table filter format matches the RocksDB full-file filter format.
	var nLines uint32
	if w.hc.NumHashes() != 0 {
		nLines = calculateNumLines(w.hc.NumHashes(), w.bitsPerKey)
	}
	nBytes := int(nLines) * cacheLineSize
	// +5: 4 bytes for num-lines, 1 byte for num-probes
	buf = append(buf[:0], make([]byte, nBytes+5)...)
	if nLines != 0 {
		for _, h := range w.hc.hashes {
			delta := h>>17 | h<<15 // rotate right 17 bits
			line := buf[(h%nLines)*cacheLineSize:][:cacheLineSize]
			for j := uint32(0); j < w.numProbes; j++ {
				line[(h>>3)&(cacheLineSize-1)] |= 1 << (h & 7)
				h += delta
			}
		}
	}
	buf[nBytes] = byte(w.numProbes)
	binary.LittleEndian.PutUint32(buf[nBytes+1:], nLines)
	w.hc.Reset()
	return buf
}

// blockFilterWriter implements base.FilterWriter for per-block filters.
type blockFilterWriter struct {
	bitsPerKey int
	hc         hashCollector
}

// AddKey implements the base.FilterWriter interface.
func (w *blockFilterWriter) AddKey(key []byte) {
	w.hc.Add(hash(key))
}

// Finish implements the base.FilterWriter interface.
func (w *blockFilterWriter) Finish(buf []byte) []byte {
	// 0.69 is approximately ln(2).
	k := uint32(float64(w.bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	nBits := w.hc.NumHashes() * w.bitsPerKey
	// For small n, we can see a very high false positive rate. Fix it by
	// enforcing a minimum bloom filter length.
	if nBits < 64 {
		nBits = 64
	}
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8

	buf = append(buf[:0], make([]byte, nBytes+1)...)
	for _, h := range w.hc.hashes {
		delta := h>>17 | h<<15
		for j := uint32(0); j < k; j++ {
			bitPos := h % uint32(nBits)
			buf[bitPos/8] |= 1 << (bitPos % 8)
			h += delta
		}
	}
	buf[nBytes] = uint8(k)
	w.hc.Reset()
	return buf
}

// FamilyName is the policy name of 10 bits-per-key bloom filters. This string
// looks arbitrary, but its value is written to LevelDB and RocksDB .sst files,
// and should be this exact value to be compatible with those files.
const FamilyName = "rocksdb.BuiltinBloomFilter"

// FilterPolicy is an implementation of the base.FilterPolicy interface that
// creates bloom filters with the given number of bits per key (approximately).
// A good value is 10, which yields a filter with ~1% false positive rate.
//
// The same policy writes both block filters and full-table filters; the filter
// type passed to NewWriter and MayContain selects the encoding.
type FilterPolicy int

var _ base.FilterPolicy = FilterPolicy(0)

// Name implements the base.FilterPolicy interface.
func (p FilterPolicy) Name() string {
	if p == 10 {
		// We return rocksdb.BuiltinBloomFilter for backward compatibility.
		return FamilyName
	}
	return fmt.Sprintf("bloom(%d)", int(p))
}

// MayContain implements the base.FilterPolicy interface.
func (p FilterPolicy) MayContain(ftype base.FilterType, f, key []byte) bool {
	switch ftype {
	case base.TableFilter:
		return tableFilter(f).MayContain(key)
	case base.BlockFilter:
		return blockFilter(f).MayContain(key)
	default:
		panic(fmt.Sprintf("unknown filter type: %v", ftype))
	}
}

// NewWriter implements the base.FilterPolicy interface.
func (p FilterPolicy) NewWriter(ftype base.FilterType) base.FilterWriter {
	if p < 1 {
		panic(fmt.Sprintf("invalid bitsPerKey %d", int(p)))
	}
	switch ftype {
	case base.TableFilter:
		return newTableFilterWriter(int(p))
	case base.BlockFilter:
		return &blockFilterWriter{bitsPerKey: int(p)}
	default:
		panic(fmt.Sprintf("unknown filter type: %v", ftype))
	}
}

// PolicyFromName returns the FilterPolicy corresponding to the given name
// (i.e. for which FilterPolicy.Name() == name), or false if the string is not
// recognized as a bloom filter policy.
func PolicyFromName(name string) (_ FilterPolicy, ok bool) {
	if name == FamilyName {
		return FilterPolicy(10), true
	}
	var bitsPerKey int
	if n, err := fmt.Sscanf(name, "bloom(%d)", &bitsPerKey); err == nil && n == 1 && bitsPerKey >= 1 {
		return FilterPolicy(bitsPerKey), true
	}
	return 0, false
}
