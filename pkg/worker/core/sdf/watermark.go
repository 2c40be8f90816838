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

import (
	"sync"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
)

// ThreadSafe wraps a user watermark estimator so that the element-processing
// thread and the split thread can call it concurrently. Every method runs
// under an exclusive per-estimator lock.
func ThreadSafe(est WatermarkEstimator) *SafeWatermarkEstimator {
	return &SafeWatermarkEstimator{est: est}
}

// SafeWatermarkEstimator serializes access to a wrapped user estimator.
type SafeWatermarkEstimator struct {
	mu  sync.Mutex
	est WatermarkEstimator
}

// CurrentWatermark returns the wrapped estimator's current watermark.
func (s *SafeWatermarkEstimator) CurrentWatermark() mtime.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.est.CurrentWatermark()
}

// ObserveTimestamp forwards an emitted element's timestamp to the wrapped
// estimator if it observes timestamps, and does nothing otherwise.
func (s *SafeWatermarkEstimator) ObserveTimestamp(t mtime.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obs, ok := s.est.(TimestampObservingEstimator); ok {
		obs.ObserveTimestamp(t)
	}
}

// WatermarkAndState atomically reads the current watermark together with a
// snapshot of the estimator state. The state is nil for stateless
// estimators. Split handling must use this single read so the watermark and
// the state it freezes are consistent.
func (s *SafeWatermarkEstimator) WatermarkAndState() (mtime.Time, interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm := s.est.CurrentWatermark()
	var state interface{}
	if st, ok := s.est.(StatefulWatermarkEstimator); ok {
		state = st.State()
	}
	return wm, state
}
