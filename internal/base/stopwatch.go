// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"time"

	"github.com/cockroachdb/crlib/crtime"
)

// SlowReadThreshold is the duration above which a block read is reported as
// slow.
const SlowReadThreshold = 5 * time.Millisecond

// DeterministicReadDurationForTesting makes every Stopwatch report
// SlowReadThreshold until the returned function is called.
func DeterministicReadDurationForTesting() func() {
	prev := deterministicReadDurationForTesting
	deterministicReadDurationForTesting = true
	return func() {
		deterministicReadDurationForTesting = prev
	}
}

var deterministicReadDurationForTesting = false

// Stopwatch measures elapsed time on the monotonic clock.
type Stopwatch struct {
	startTime crtime.Mono
}

// MakeStopwatch returns a running stopwatch.
func MakeStopwatch() Stopwatch {
	return Stopwatch{startTime: crtime.NowMono()}
}

// Stop returns the time elapsed since the stopwatch was made.
func (w Stopwatch) Stop() time.Duration {
	dur := w.startTime.Elapsed()
	if deterministicReadDurationForTesting {
		dur = SlowReadThreshold
	}
	return dur
}
