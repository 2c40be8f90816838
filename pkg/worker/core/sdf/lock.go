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

import "sync"

// NewLockRTracker creates a LockRTracker initialized with the specified
// restriction tracker as its underlying restriction tracker.
func NewLockRTracker(rt RTracker) *LockRTracker {
	return &LockRTracker{rt: rt}
}

// LockRTracker wraps another restriction tracker and adds thread safety to
// it by locking a mutex in each method before delegating. Splittable
// processing requires TryClaim on the user thread and TrySplit on the
// control thread to serialize against each other.
type LockRTracker struct {
	mu sync.Mutex
	rt RTracker
}

// TryClaim locks, then delegates to the underlying tracker's TryClaim.
func (t *LockRTracker) TryClaim(pos interface{}) (ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rt.TryClaim(pos)
}

// GetError locks, then delegates to the underlying tracker's GetError.
func (t *LockRTracker) GetError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rt.GetError()
}

// TrySplit locks, then delegates to the underlying tracker's TrySplit.
func (t *LockRTracker) TrySplit(fraction float64) (interface{}, interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rt.TrySplit(fraction)
}

// GetRestriction locks, then delegates to the underlying tracker's
// GetRestriction.
func (t *LockRTracker) GetRestriction() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rt.GetRestriction()
}

// IsDone locks, then delegates to the underlying tracker's IsDone.
func (t *LockRTracker) IsDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rt.IsDone()
}

// GetProgress locks, then delegates to the underlying tracker's GetProgress.
// If the underlying tracker does not report progress, zeroes are returned.
func (t *LockRTracker) GetProgress() (float64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.rt.(RTrackerProgress); ok {
		return p.GetProgress()
	}
	return 0, 0
}
