// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import "github.com/cockroachdb/blocktable/internal/base"

// These constants are part of the file format, and should not be changed.
const (
	InternalKeyKindDelete                  = base.InternalKeyKindDelete
	InternalKeyKindSet                     = base.InternalKeyKindSet
	InternalKeyKindMerge                   = base.InternalKeyKindMerge
	InternalKeyKindLogData                 = base.InternalKeyKindLogData
	InternalKeyKindColumnFamilyDeletion    = base.InternalKeyKindColumnFamilyDeletion
	InternalKeyKindColumnFamilyValue       = base.InternalKeyKindColumnFamilyValue
	InternalKeyKindColumnFamilyMerge       = base.InternalKeyKindColumnFamilyMerge
	InternalKeyKindColumnFamilyRangeDelete = base.InternalKeyKindColumnFamilyRangeDelete
	InternalKeyKindRangeDelete             = base.InternalKeyKindRangeDelete
	InternalKeyKindColumnFamilyBlobIndex   = base.InternalKeyKindColumnFamilyBlobIndex
	InternalKeyKindBlobIndex               = base.InternalKeyKindBlobIndex
	InternalKeyKindMax                     = base.InternalKeyKindMax
	InternalKeyKindInvalid                 = base.InternalKeyKindInvalid
)

// InternalKey exports the base.InternalKey type.
type InternalKey = base.InternalKey

// InternalKeyKind exports the base.InternalKeyKind type.
type InternalKeyKind = base.InternalKeyKind

// SeqNum exports the base.SeqNum type.
type SeqNum = base.SeqNum

// MakeInternalKey constructs an internal key from a user key, sequence number
// and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return base.MakeInternalKey(userKey, seqNum, kind)
}
