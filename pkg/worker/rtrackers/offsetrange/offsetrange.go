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

// Package offsetrange defines a restriction and restriction tracker for
// offset ranges. An offset range is a half-closed interval [start, end)
// commonly used to represent byte ranges in a file or indices in an
// iterable container.
package offsetrange

import (
	"math"

	"github.com/streampipe/worker/internal/errors"
)

// Restriction represents a range of integer offsets [Start, End).
type Restriction struct {
	Start, End int64
}

// EvenSplits splits a restriction into num evenly sized restrictions. Each
// split restriction is guaranteed to be non-empty, and each unit from the
// original restriction is guaranteed to be contained in exactly one split.
//
// Num should be greater than 0. Otherwise there is no way to split the
// restriction and the original is returned.
func (r Restriction) EvenSplits(num int64) (splits []Restriction) {
	if num <= 1 {
		return append(splits, r)
	}

	offset := r.Start
	size := r.End - r.Start
	for i := int64(0); i < num; i++ {
		split := Restriction{
			Start: offset + (i * size / num),
			End:   offset + ((i + 1) * size / num),
		}
		if split.End-split.Start <= 0 {
			continue
		}
		splits = append(splits, split)
	}
	return splits
}

// Size returns the restriction's size as the difference between Start and End.
func (r Restriction) Size() float64 {
	return float64(r.End - r.Start)
}

// Tracker tracks restrictions representable as a range of integer offsets.
// The tracker makes no assumption about the positions of blocks within the
// range, so callers must handle validation of block positions if needed.
type Tracker struct {
	rest    Restriction
	claimed int64 // last claimed position
	stopped bool  // TryClaim has signalled to stop processing
	err     error
}

// NewTracker is a constructor for a Tracker given an offset range.
func NewTracker(rest Restriction) *Tracker {
	return &Tracker{
		rest:    rest,
		claimed: rest.Start - 1,
	}
}

// TryClaim accepts an int64 position representing the starting position of
// a block of work. It claims it if the position is greater than the
// previously claimed position and within the restriction. Claiming a
// position at or beyond the end of the restriction signals that the entire
// restriction has been processed, at which point TryClaim signals to end
// processing.
//
// The tracker stops with an error if a claim is attempted after the tracker
// has signalled to stop, if a position is claimed before the start of the
// restriction, or if a position is claimed at or before the latest
// successfully claimed one.
func (t *Tracker) TryClaim(rawPos interface{}) bool {
	if t.stopped {
		t.err = errors.New("cannot claim work after the tracker signalled to stop")
		return false
	}

	pos := rawPos.(int64)

	if pos < t.rest.Start {
		t.stopped = true
		t.err = errors.Errorf("claimed position %v is before the start of the restriction %v", pos, t.rest.Start)
		return false
	}
	if pos <= t.claimed {
		t.stopped = true
		t.err = errors.Errorf("claimed position %v does not exceed the previously claimed position %v", pos, t.claimed)
		return false
	}

	t.claimed = pos
	if pos >= t.rest.End {
		t.stopped = true
		return false
	}
	return true
}

// GetError returns the error that caused the tracker to stop, if there is one.
func (t *Tracker) GetError() error {
	return t.err
}

// TrySplit splits at the nearest integer greater than the given fraction of
// the remainder. A fraction outside [0, 1] is clamped. If the tracker is
// already stopped or done, or the split point falls at or past the end, the
// tracker declines to split and returns a nil residual.
func (t *Tracker) TrySplit(fraction float64) (primary, residual interface{}, err error) {
	if t.stopped || t.IsDone() {
		return t.rest, nil, nil
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	// Ceil always rounds the float split point up to a full block, and the
	// claimed block always stays in the primary.
	splitPt := t.claimed + int64(math.Max(1, math.Ceil(fraction*float64(t.rest.End-1-t.claimed))))
	if splitPt >= t.rest.End {
		return t.rest, nil, nil
	}
	res := Restriction{Start: splitPt, End: t.rest.End}
	t.rest.End = splitPt
	return t.rest, res, nil
}

// GetProgress reports progress as the size of the restriction before the
// last claimed position (done) and the size from that position to the end
// (remaining). The last claimed block counts as remaining.
func (t *Tracker) GetProgress() (done, remaining float64) {
	done = float64(t.claimed - t.rest.Start)
	remaining = float64(t.rest.End - t.claimed)
	return
}

// IsDone returns true if the claimed position covers the last block of the
// restriction, or if the restriction is empty.
func (t *Tracker) IsDone() bool {
	return t.err == nil && (t.claimed >= t.rest.End-1 || t.rest.Start >= t.rest.End)
}

// GetRestriction returns the restriction as currently tracked, including
// any truncation performed by TrySplit.
func (t *Tracker) GetRestriction() interface{} {
	return t.rest
}
