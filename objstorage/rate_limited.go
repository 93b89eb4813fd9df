// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import "github.com/cockroachdb/tokenbucket"

// rateLimitedWritable throttles the bytes written to the wrapped Writable.
type rateLimitedWritable struct {
	Writable
	limiter tokenbucket.TokenBucket
}

// NewRateLimitedWritable returns a Writable that blocks in Write so that no
// more than bytesPerSecond bytes are written per second on average. Up to one
// second worth of writes may be issued in a burst.
func NewRateLimitedWritable(w Writable, bytesPerSecond int64) Writable {
	rw := &rateLimitedWritable{Writable: w}
	rw.limiter.Init(tokenbucket.TokensPerSecond(bytesPerSecond), tokenbucket.Tokens(bytesPerSecond))
	return rw
}

// Write is part of the Writable interface.
func (w *rateLimitedWritable) Write(p []byte) (int, error) {
	// A request larger than the burst puts the limiter into debt, which is
	// paid off by the next write.
	w.limiter.Wait(tokenbucket.Tokens(len(p)))
	return w.Writable.Write(p)
}
