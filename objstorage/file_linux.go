// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build linux

package objstorage

import "golang.org/x/sys/unix"

// prefetch signals the OS to fetch the next size bytes in the file after
// offset into cache. Any subsequent reads in that range will not issue disk
// IO.
func prefetch(fd uintptr, offset, size int64) error {
	return unix.Fadvise(int(fd), offset, size, unix.FADV_WILLNEED)
}

func fadviseRandom(fd uintptr) error {
	return unix.Fadvise(int(fd), 0, 0, unix.FADV_RANDOM)
}

func fadviseSequential(fd uintptr) error {
	return unix.Fadvise(int(fd), 0, 0, unix.FADV_SEQUENTIAL)
}

func syncRange(fd uintptr, offset int64) error {
	const (
		waitBefore = 0x1
		write      = 0x2
	)
	// By specifying write|waitBefore for the flags, we're instructing
	// SyncFileRange to a) wait for any outstanding data being written to finish,
	// and b) to queue any other dirty data blocks in the range [0,offset] for
	// writing. The actual writing of this data will occur asynchronously.
	return unix.SyncFileRange(int(fd), 0, offset, write|waitBefore)
}

func isSyncRangeSupported(fd uintptr) bool {
	var stat unix.Statfs_t
	if err := unix.Fstatfs(int(fd), &stat); err != nil {
		return false
	}
	// Some filesystems treat sync_file_range as a noop (notably ZFS). Only
	// ext2/3/4 are known to work properly.
	const extMagic = 0xef53
	if stat.Type != extMagic {
		return false
	}
	// Windows Subsystem for Linux does not support sync_file_range, even when
	// used with ext{2,3,4}.
	return unix.SyncFileRange(int(fd), 0, 0, 0) != unix.ENOSYS
}
