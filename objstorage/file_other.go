// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build !linux

package objstorage

func prefetch(fd uintptr, offset, size int64) error { return nil }

func fadviseRandom(fd uintptr) error { return nil }

func fadviseSequential(fd uintptr) error { return nil }

func syncRange(fd uintptr, offset int64) error { return nil }

func isSyncRangeSupported(fd uintptr) bool { return false }
