// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package window contains window and pane representations plus the windowing
// strategy data the runner needs at execution time.
package window

import (
	"fmt"
	"time"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
)

// Window is a bounded time region an element belongs to. Windows are totally
// ordered by their max timestamp and otherwise opaque to the runner.
type Window interface {
	// MaxTimestamp returns the inclusive upper bound of timestamps for values
	// in this window.
	MaxTimestamp() mtime.Time

	// Equals returns true iff the windows are identical.
	Equals(o Window) bool
}

// SingleGlobalWindow is a slice of a single global window. Convenience value.
var SingleGlobalWindow = []Window{GlobalWindow{}}

// GlobalWindow represents the singleton, global window.
type GlobalWindow struct{}

// MaxTimestamp returns the maximum timestamp in the window.
func (GlobalWindow) MaxTimestamp() mtime.Time {
	return mtime.EndOfGlobalWindowTime
}

// Equals returns true iff the other window is also the global window.
func (GlobalWindow) Equals(o Window) bool {
	_, ok := o.(GlobalWindow)
	return ok
}

func (GlobalWindow) String() string {
	return "[*]"
}

// IntervalWindow represents a half-open bounded window [start,end).
type IntervalWindow struct {
	Start, End mtime.Time
}

// MaxTimestamp returns the maximum timestamp in the window.
func (w IntervalWindow) MaxTimestamp() mtime.Time {
	return mtime.Time(w.End.Milliseconds() - 1)
}

// Equals returns true iff the other window is an interval window with the
// same start and end timestamps.
func (w IntervalWindow) Equals(o Window) bool {
	ow, ok := o.(IntervalWindow)
	return ok && w.Start == ow.Start && w.End == ow.End
}

func (w IntervalWindow) String() string {
	return fmt.Sprintf("[%v:%v)", w.Start, w.End)
}

// IsEqualList returns true iff the lists of windows are equal.
// Note that ordering matters and that this is not set equality.
func IsEqualList(from, to []Window) bool {
	if len(from) != len(to) {
		return false
	}
	for i, w := range from {
		if !w.Equals(to[i]) {
			return false
		}
	}
	return true
}

// GCTime returns the garbage-collection time of a window: the point past
// which no event-time timer for the window may fire.
func GCTime(w Window, allowedLateness time.Duration) mtime.Time {
	return w.MaxTimestamp().Add(allowedLateness)
}

// Strategy carries the windowing strategy data the runner consults during
// execution. Triggering is resolved upstream; only the lateness bound is
// needed here.
type Strategy struct {
	AllowedLateness time.Duration
}

// DefaultStrategy returns the strategy of a globally windowed collection.
func DefaultStrategy() *Strategy {
	return &Strategy{}
}
