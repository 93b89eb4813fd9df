// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base // import "github.com/cockroachdb/blocktable/internal/base"

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// SeqNum is a sequence number defining precedence among identical keys. A key
// with a higher sequence number takes precedence over a key with an equal user
// key of a lower sequence number. Sequence numbers are stored durably within
// the internal key "trailer" as a 7-byte (uint56) uint, and the maximum
// sequence number is 2^56-1.
type SeqNum uint64

const (
	// SeqNumZero is the zero sequence number.
	SeqNumZero SeqNum = 0
	// SeqNumMax is the largest sequence number that fits in a trailer. It is
	// only used for search and separator keys; it is never assigned to a
	// write.
	SeqNumMax SeqNum = 1<<56 - 1
	// SeqNumDisableGlobal is the value of a global sequence number meaning
	// "do not rewrite". It does not fit in a trailer, so no allocated
	// sequence number can collide with it.
	SeqNumDisableGlobal SeqNum = math.MaxUint64
)

func (s SeqNum) String() string {
	switch s {
	case SeqNumMax:
		return "inf"
	case SeqNumDisableGlobal:
		return "disabled"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// SafeFormat implements redact.SafeFormatter.
func (s SeqNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(s.String()))
}

// InternalKeyKind enumerates the kind of key: a deletion tombstone, a set
// value, a merged value, etc.
type InternalKeyKind uint8

// These constants are part of the file format, and should not be changed.
const (
	InternalKeyKindDelete  InternalKeyKind = 0x0
	InternalKeyKindSet     InternalKeyKind = 0x1
	InternalKeyKindMerge   InternalKeyKind = 0x2
	InternalKeyKindLogData InternalKeyKind = 0x3

	// The column family variants only appear in write-ahead logs.
	InternalKeyKindColumnFamilyDeletion InternalKeyKind = 0x4
	InternalKeyKindColumnFamilyValue    InternalKeyKind = 0x5
	InternalKeyKindColumnFamilyMerge    InternalKeyKind = 0x6

	InternalKeyKindColumnFamilyRangeDelete InternalKeyKind = 0xE
	// InternalKeyKindRangeDelete is stored in the range deletion meta block.
	InternalKeyKindRangeDelete           InternalKeyKind = 0xF
	InternalKeyKindColumnFamilyBlobIndex InternalKeyKind = 0x10
	InternalKeyKindBlobIndex             InternalKeyKind = 0x11

	// InternalKeyKindValueTypeForSeek is the kind used when building a key to
	// seek to. It must be the largest kind that may appear in a table, so that
	// a search key sorts before every stored key with the same user key and
	// sequence number.
	InternalKeyKindValueTypeForSeek = InternalKeyKindBlobIndex

	// InternalKeyKindMax is a sentinel upper bound. It is never persisted.
	InternalKeyKindMax InternalKeyKind = 0x7F

	// InternalKeyKindInvalid marks a key that could not be decoded.
	InternalKeyKindInvalid InternalKeyKind = 0xFF
)

var internalKeyKindNames = map[InternalKeyKind]string{
	InternalKeyKindDelete:                  "DEL",
	InternalKeyKindSet:                     "SET",
	InternalKeyKindMerge:                   "MERGE",
	InternalKeyKindLogData:                 "LOGDATA",
	InternalKeyKindColumnFamilyDeletion:    "CFDEL",
	InternalKeyKindColumnFamilyValue:       "CFSET",
	InternalKeyKindColumnFamilyMerge:       "CFMERGE",
	InternalKeyKindColumnFamilyRangeDelete: "CFRANGEDEL",
	InternalKeyKindRangeDelete:             "RANGEDEL",
	InternalKeyKindColumnFamilyBlobIndex:   "CFBLOBINDEX",
	InternalKeyKindBlobIndex:               "BLOBINDEX",
	InternalKeyKindMax:                     "MAX",
	InternalKeyKindInvalid:                 "INVALID",
}

var kindsMap = func() map[string]InternalKeyKind {
	m := make(map[string]InternalKeyKind, len(internalKeyKindNames))
	for k, name := range internalKeyKindNames {
		m[name] = k
	}
	return m
}()

func (k InternalKeyKind) String() string {
	if name, ok := internalKeyKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN:%d", k)
}

// SafeFormat implements redact.SafeFormatter.
func (k InternalKeyKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

// ParseKindByte maps a raw trailer byte to a kind. It returns false for any
// byte that is not a defined kind, including InternalKeyKindMax, which is
// never persisted.
func ParseKindByte(b byte) (InternalKeyKind, bool) {
	switch k := InternalKeyKind(b); k {
	case InternalKeyKindDelete, InternalKeyKindSet, InternalKeyKindMerge,
		InternalKeyKindLogData, InternalKeyKindColumnFamilyDeletion,
		InternalKeyKindColumnFamilyValue, InternalKeyKindColumnFamilyMerge,
		InternalKeyKindColumnFamilyRangeDelete, InternalKeyKindRangeDelete,
		InternalKeyKindColumnFamilyBlobIndex, InternalKeyKindBlobIndex:
		return k, true
	default:
		return InternalKeyKindInvalid, false
	}
}

// IsValueType returns true for kinds that a scan surfaces to callers: point
// deletions, sets, merges and blob indexes.
func (k InternalKeyKind) IsValueType() bool {
	return k <= InternalKeyKindMerge || k == InternalKeyKindBlobIndex
}

// IsExtendedValueType is IsValueType extended with range deletions.
func (k InternalKeyKind) IsExtendedValueType() bool {
	return k.IsValueType() || k == InternalKeyKindRangeDelete
}

// InternalKeyTrailer encodes a SeqNum and an InternalKeyKind.
type InternalKeyTrailer uint64

// MakeTrailer constructs an internal key trailer from the specified sequence
// number and kind. The sequence number must fit in 56 bits.
func MakeTrailer(seqNum SeqNum, kind InternalKeyKind) InternalKeyTrailer {
	return (InternalKeyTrailer(seqNum) << 8) | InternalKeyTrailer(kind)
}

// String implements the fmt.Stringer interface.
func (t InternalKeyTrailer) String() string {
	return fmt.Sprintf("%s,%s", SeqNum(t>>8), InternalKeyKind(t&0xff))
}

// SeqNum returns the sequence number component of the trailer.
func (t InternalKeyTrailer) SeqNum() SeqNum {
	return SeqNum(t >> 8)
}

// Kind returns the key kind component of the trailer.
func (t InternalKeyTrailer) Kind() InternalKeyKind {
	return InternalKeyKind(t & 0xff)
}

// InternalTrailerLen is the number of bytes used to encode InternalKey.Trailer.
const InternalTrailerLen = 8

// DecodeTrailer returns the trailer of an encoded internal key. The key must
// be at least InternalTrailerLen bytes long; callers at the boundary where raw
// bytes enter the system validate that.
func DecodeTrailer(encodedKey []byte) InternalKeyTrailer {
	n := len(encodedKey) - InternalTrailerLen
	if n < 0 {
		panic(errors.AssertionFailedf("internal key too short: %d bytes", len(encodedKey)))
	}
	return InternalKeyTrailer(binary.LittleEndian.Uint64(encodedKey[n:]))
}

// DecodeKind returns the kind stored in the trailer of an encoded internal
// key.
func DecodeKind(encodedKey []byte) InternalKeyKind {
	return DecodeTrailer(encodedKey).Kind()
}

// ExtractUserKey returns the user key portion of an encoded internal key.
func ExtractUserKey(encodedKey []byte) []byte {
	n := len(encodedKey) - InternalTrailerLen
	if n < 0 {
		panic(errors.AssertionFailedf("internal key too short: %d bytes", len(encodedKey)))
	}
	return encodedKey[:n:n]
}

// InternalKey is a key used for the on-disk tables.
//
// It consists of the user key followed by 8-bytes of metadata:
//   - 1 byte for the type of internal key: delete, set, merge, etc,
//   - 7 bytes for a uint56 sequence number, in little-endian format.
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

// InvalidInternalKey is an invalid internal key for which Valid() will return
// false.
var InvalidInternalKey = MakeInternalKey(nil, SeqNumZero, InternalKeyKindInvalid)

// MakeInternalKey constructs an internal key from a specified user key,
// sequence number and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{
		UserKey: userKey,
		Trailer: MakeTrailer(seqNum, kind),
	}
}

// MakeSearchKey constructs an internal key that is appropriate for searching
// for the specified user key. The search key contains the maximal sequence
// number and seek kind ensuring that it sorts before any other internal keys
// for the same user key.
func MakeSearchKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, SeqNumMax, InternalKeyKindValueTypeForSeek)
}

// DecodeInternalKey decodes an encoded internal key. See InternalKey.Encode().
// A key shorter than the trailer decodes to a key with an invalid kind.
func DecodeInternalKey(encodedKey []byte) InternalKey {
	n := len(encodedKey) - InternalTrailerLen
	var trailer InternalKeyTrailer
	if n >= 0 {
		trailer = InternalKeyTrailer(binary.LittleEndian.Uint64(encodedKey[n:]))
		encodedKey = encodedKey[:n:n]
	} else {
		trailer = InternalKeyTrailer(InternalKeyKindInvalid)
		encodedKey = nil
	}
	return InternalKey{
		UserKey: encodedKey,
		Trailer: trailer,
	}
}

// InternalCompare compares two internal keys using the specified comparison
// function. For equal user keys, internal keys compare in descending sequence
// number order. For equal user keys and sequence numbers, internal keys
// compare in descending kind order.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if x := userCmp(a.UserKey, b.UserKey); x != 0 {
		return x
	}
	// Reverse order for trailer comparison.
	return cmp.Compare(b.Trailer, a.Trailer)
}

// CompareEncoded compares two encoded internal keys. Both keys must carry a
// trailer.
func CompareEncoded(userCmp Compare, a, b []byte) int {
	if x := userCmp(ExtractUserKey(a), ExtractUserKey(b)); x != 0 {
		return x
	}
	return cmp.Compare(DecodeTrailer(b), DecodeTrailer(a))
}

// Encode encodes the receiver into the buffer. The buffer must be large enough
// to hold the encoded data. See InternalKey.Size().
func (k InternalKey) Encode(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], uint64(k.Trailer))
}

// Append appends the encoded key to dst.
func (k InternalKey) Append(dst []byte) []byte {
	dst = append(dst, k.UserKey...)
	return binary.LittleEndian.AppendUint64(dst, uint64(k.Trailer))
}

// EncodeTrailer returns the trailer encoded to an 8-byte array.
func (k InternalKey) EncodeTrailer() [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k.Trailer))
	return buf
}

// Separator returns a separator key such that k <= x && x < other, where less
// than is consistent with the Compare function. The buf parameter may be used
// to store the returned InternalKey.UserKey, though it is valid to pass a
// nil. See the Separator type for details on separator keys.
func (k InternalKey) Separator(
	cmp Compare, sep Separator, buf []byte, other InternalKey,
) InternalKey {
	buf = sep(buf, k.UserKey, other.UserKey)
	if len(buf) <= len(k.UserKey) && cmp(k.UserKey, buf) < 0 {
		// The separator user key is physically shorter than k.UserKey (if it is
		// longer, we'll continue to use "k"), but logically after. Tack on the max
		// sequence number to the shortened user key. We use the max sequence
		// number to match the behavior of LevelDB and RocksDB.
		return MakeInternalKey(buf, SeqNumMax, InternalKeyKindValueTypeForSeek)
	}
	return k
}

// Successor returns a successor key such that k <= x. A simple implementation
// may return k unchanged. The buf parameter may be used to store the returned
// InternalKey.UserKey, though it is valid to pass a nil.
func (k InternalKey) Successor(cmp Compare, succ Successor, buf []byte) InternalKey {
	buf = succ(buf, k.UserKey)
	if len(buf) <= len(k.UserKey) && cmp(k.UserKey, buf) < 0 {
		return MakeInternalKey(buf, SeqNumMax, InternalKeyKindValueTypeForSeek)
	}
	return k
}

// Size returns the encoded size of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey) + InternalTrailerLen
}

// SetSeqNum sets the sequence number component of the key.
func (k *InternalKey) SetSeqNum(seqNum SeqNum) {
	k.Trailer = (InternalKeyTrailer(seqNum) << 8) | (k.Trailer & 0xff)
}

// SeqNum returns the sequence number component of the key.
func (k InternalKey) SeqNum() SeqNum {
	return SeqNum(k.Trailer >> 8)
}

// SetKind sets the kind component of the key.
func (k *InternalKey) SetKind(kind InternalKeyKind) {
	k.Trailer = (k.Trailer &^ 0xff) | InternalKeyTrailer(kind)
}

// Kind returns the kind component of the key.
func (k InternalKey) Kind() InternalKeyKind {
	return k.Trailer.Kind()
}

// Valid returns true if the key has a kind that may be stored in a table.
func (k InternalKey) Valid() bool {
	_, ok := ParseKindByte(byte(k.Kind()))
	return ok
}

// Clone clones the storage for the UserKey component of the key.
func (k InternalKey) Clone() InternalKey {
	if len(k.UserKey) == 0 {
		return k
	}
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

// CopyFrom converts this InternalKey into a clone of the passed-in InternalKey,
// reusing any space already used for the current UserKey.
func (k *InternalKey) CopyFrom(k2 InternalKey) {
	k.UserKey = append(k.UserKey[:0], k2.UserKey...)
	k.Trailer = k2.Trailer
}

// String returns a string representation of the key.
func (k InternalKey) String() string {
	return fmt.Sprintf("%s#%s,%s", FormatBytes(k.UserKey), k.SeqNum(), k.Kind())
}

// SafeFormat implements redact.SafeFormatter. The user key is treated as
// unsafe.
func (k InternalKey) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s#%s,%s", FormatBytes(k.UserKey), k.SeqNum(), k.Kind())
}

// Pretty returns a formatter for the key.
func (k InternalKey) Pretty(f FormatKey) fmt.Formatter {
	return prettyInternalKey{k, f}
}

type prettyInternalKey struct {
	InternalKey
	formatKey FormatKey
}

func (k prettyInternalKey) Format(s fmt.State, c rune) {
	fmt.Fprintf(s, "%s#%s,%s", k.formatKey(k.UserKey), k.SeqNum(), k.Kind())
}

// ParseSeqNum parses the string representation of a sequence number.
// "inf" is supported as the maximum sequence number.
func ParseSeqNum(s string) SeqNum {
	if s == "inf" {
		return SeqNumMax
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("error parsing %q as seqnum: %s", s, err))
	}
	return SeqNum(n)
}

// ParseKind parses the string representation of an internal key kind.
func ParseKind(s string) InternalKeyKind {
	kind, ok := kindsMap[s]
	if !ok {
		panic(fmt.Sprintf("unknown kind: %q", s))
	}
	return kind
}

// ParseInternalKey parses the string representation of an internal key. The
// format is `<user-key>#<seq-num>,<kind>`.
func ParseInternalKey(s string) InternalKey {
	sep1 := strings.LastIndex(s, "#")
	sep2 := strings.LastIndex(s, ",")
	if sep1 == -1 || sep2 == -1 || sep2 < sep1 {
		panic(fmt.Sprintf("invalid internal key %q", s))
	}
	userKey := []byte(s[:sep1])
	seqNum := ParseSeqNum(s[sep1+1 : sep2])
	return MakeInternalKey(userKey, seqNum, ParseKind(s[sep2+1:]))
}
