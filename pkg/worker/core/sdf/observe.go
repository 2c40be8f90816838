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

package sdf

// ClaimObserver is notified of the outcome of every TryClaim call on an
// observed tracker. It is a hook point for metrics; observers must not
// affect tracker behavior.
type ClaimObserver interface {
	// OnClaimed is called with the position of every successful claim.
	OnClaimed(pos interface{})

	// OnClaimFailed is called with the position of every failed claim.
	OnClaimFailed(pos interface{})
}

// NoopClaimObserver observes claims and does nothing.
type NoopClaimObserver struct{}

func (NoopClaimObserver) OnClaimed(pos interface{})     {}
func (NoopClaimObserver) OnClaimFailed(pos interface{}) {}

// Observe interposes a ClaimObserver on a restriction tracker. All methods
// forward unchanged; TryClaim outcomes additionally fire the observer. The
// returned tracker reports progress iff the delegate does.
func Observe(rt RTracker, obs ClaimObserver) RTracker {
	observed := observedTracker{rt: rt, obs: obs}
	if _, ok := rt.(RTrackerProgress); ok {
		return &observedProgressTracker{observedTracker: observed}
	}
	return &observed
}

type observedTracker struct {
	rt  RTracker
	obs ClaimObserver
}

func (t *observedTracker) TryClaim(pos interface{}) bool {
	ok := t.rt.TryClaim(pos)
	if ok {
		t.obs.OnClaimed(pos)
	} else {
		t.obs.OnClaimFailed(pos)
	}
	return ok
}

func (t *observedTracker) GetError() error {
	return t.rt.GetError()
}

func (t *observedTracker) TrySplit(fraction float64) (interface{}, interface{}, error) {
	return t.rt.TrySplit(fraction)
}

func (t *observedTracker) GetRestriction() interface{} {
	return t.rt.GetRestriction()
}

func (t *observedTracker) IsDone() bool {
	return t.rt.IsDone()
}

// observedProgressTracker retains the RTrackerProgress capability of the
// delegate.
type observedProgressTracker struct {
	observedTracker
}

func (t *observedProgressTracker) GetProgress() (done, remaining float64) {
	return t.rt.(RTrackerProgress).GetProgress()
}
