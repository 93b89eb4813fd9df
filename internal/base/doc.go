// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across blocktable, including
// internal keys, comparers, filter policies and error markers.
//
// # Internal keys
//
// Every key stored in a table is an internal key: the user key followed by an
// 8-byte little-endian trailer holding (seqnum << 8) | kind. Internal keys are
// ordered by user key ascending and then by trailer descending, so that for a
// given user key the newest entry is encountered first.
//
// A search key for a user key carries SeqNumMax and the seek kind. It sorts
// before every stored entry with the same user key.
//
// # Global sequence numbers
//
// Tables produced outside of the write path are written with placeholder
// sequence numbers and later assigned a single sequence number. Readers apply
// it with a GlobalSeqNumKey, which rewrites the trailer of each decoded key
// while preserving its kind. SeqNumDisableGlobal turns this off.
package base
