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

// Package sdf contains the user-facing contracts for splittable transforms:
// restriction trackers, watermark estimators, and process continuations.
package sdf

import (
	"time"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
)

// RTracker is an interface used to interact with restrictions while
// processing elements in splittable transforms. Each implementation is
// expected to track a single restriction type, which is the type used to
// create the RTracker and the type output by TrySplit.
type RTracker interface {
	// TryClaim attempts to claim the block of work in the current restriction
	// located at a given position. This method must be called before
	// performing any work or emitting any outputs for the block. If the claim
	// fails, processing must return without further work or output.
	//
	// Claims must be monotonically increasing in reference to the
	// restriction's start and end points, and every block of work in a
	// restriction must be claimed.
	TryClaim(pos interface{}) (ok bool)

	// GetError returns the error that made this RTracker stop executing, and
	// nil if no error occurred.
	GetError() error

	// TrySplit splits the current restriction into a primary and residual
	// based on a fraction of the remaining work. The split is performed along
	// the first valid split point located after the given fraction of the
	// remainder.
	//
	// If no valid split point exists, TrySplit returns a nil residual without
	// an error: the tracker declined to split.
	TrySplit(fraction float64) (primary, residual interface{}, err error)

	// GetRestriction returns the restriction this tracker is tracking.
	GetRestriction() interface{}

	// IsDone returns whether all blocks inside the restriction have been
	// claimed. It is called after processing a restriction to validate that
	// the work was completed before finishing.
	IsDone() bool
}

// RTrackerProgress is implemented by trackers that can report how much work
// is done and how much remains. The two values have no specific units but
// must be self-consistent.
type RTrackerProgress interface {
	GetProgress() (done, remaining float64)
}

// Progress is one observation of an RTrackerProgress reading.
type Progress struct {
	Completed, Remaining float64
}

// WatermarkEstimator is a user-supplied oracle tracking the lower bound of
// unobserved event times for one element-and-restriction pair.
type WatermarkEstimator interface {
	// CurrentWatermark returns the estimator's current output watermark.
	CurrentWatermark() mtime.Time
}

// TimestampObservingEstimator is implemented by watermark estimators that
// derive their watermark from the timestamps of emitted elements.
type TimestampObservingEstimator interface {
	WatermarkEstimator

	// ObserveTimestamp is called with the timestamp of every emitted element.
	ObserveTimestamp(t mtime.Time)
}

// StatefulWatermarkEstimator is implemented by watermark estimators whose
// state survives a split: the extracted state rides along with the residual
// restriction.
type StatefulWatermarkEstimator interface {
	WatermarkEstimator

	// State returns a snapshot of the estimator's state.
	State() interface{}
}

// ProcessContinuation is returned from splittable element processing to
// signal whether the caller should resume the remainder of the restriction
// later.
type ProcessContinuation interface {
	// ShouldResume returns whether processing should be resumed.
	ShouldResume() bool

	// ResumeDelay returns the requested delay before resumption.
	ResumeDelay() time.Duration
}

type continuation struct {
	resumes bool
	delay   time.Duration
}

func (c continuation) ShouldResume() bool {
	return c.resumes
}

func (c continuation) ResumeDelay() time.Duration {
	return c.delay
}

// StopProcessing returns a continuation indicating that the restriction was
// fully processed (or permanently abandoned) and must not be resumed.
func StopProcessing() ProcessContinuation {
	return continuation{}
}

// ResumeProcessingIn returns a continuation requesting that the remainder of
// the restriction be scheduled for resumption after the given delay.
func ResumeProcessingIn(delay time.Duration) ProcessContinuation {
	return continuation{resumes: true, delay: delay}
}
