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

package exec

import (
	"bytes"
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/streampipe/worker/internal/errors"
	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/sdf"
	"github.com/streampipe/worker/pkg/worker/fnapi"
)

// SplitResult is the outcome of a successful self-split: the primary keeps
// executing in this bundle, the residual goes back to the orchestrator for
// rescheduling.
type SplitResult struct {
	Primary  *fnapi.BundleApplication
	Residual *fnapi.DelayedBundleApplication
}

// SplitCoordinator owns the split-critical view of a BundleRunner. Its
// methods are safe to call from a control thread at any moment, including
// while the process thread is inside a user callback.
type SplitCoordinator struct {
	r *BundleRunner
}

// Progress reads the current tracker's progress. It returns nil between
// element invocations and for trackers that do not report progress.
func (s *SplitCoordinator) Progress() *sdf.Progress {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.curTracker.(sdf.RTrackerProgress); ok {
		done, remaining := p.GetProgress()
		return &sdf.Progress{Completed: done, Remaining: remaining}
	}
	return nil
}

// ProgressFraction reads progress as a completed fraction of total work,
// and 0 when progress is unknown.
func (s *SplitCoordinator) ProgressFraction() float64 {
	p := s.Progress()
	if p == nil {
		return 0
	}
	if total := p.Completed + p.Remaining; total > 0 {
		return p.Completed / total
	}
	return 0
}

// TrySplit asks the current tracker to split off the remainder of its work
// after the given fraction, and encodes the two halves as bundle
// applications. A nil result with a nil error means nothing was available
// to split: no element is in flight, or the tracker declined. That is a
// transient condition, not a failure.
//
// The output watermark is frozen before the tracker splits so the frozen
// value is a valid lower bound for everything the residual may produce.
func (s *SplitCoordinator) TrySplit(fraction float64, resumeDelay time.Duration) (*SplitResult, error) {
	r := s.r

	r.mu.Lock()
	if r.curTracker == nil {
		// Between element invocations; nothing to split.
		r.mu.Unlock()
		return nil, nil
	}
	watermark, estimatorState := r.curEstimator.WatermarkAndState()
	primary, residual, err := r.curTracker.TrySplit(fraction)
	if err != nil {
		r.mu.Unlock()
		return nil, wrapUserCode(err, "invoking TrySplit")
	}
	if residual == nil {
		r.mu.Unlock()
		return nil, nil
	}
	primaryRoot, residualRoot, err := r.windowedSplitResult(primary, residual, estimatorState)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var primaryBytes, residualBytes bytes.Buffer
	if err := r.cfg.fullCodec.Encode(primaryRoot, &primaryBytes); err != nil {
		return nil, errors.WithContext(err, "encoding split primary")
	}
	if err := r.cfg.fullCodec.Encode(residualRoot, &residualBytes); err != nil {
		return nil, errors.WithContext(err, "encoding split residual")
	}

	residualApp := &fnapi.BundleApplication{
		TransformID: r.cfg.TransformID,
		InputID:     r.cfg.MainInputID,
		Element:     residualBytes.Bytes(),
	}
	var outputWatermarks map[string]*timestamppb.Timestamp
	if watermark != mtime.MinTimestamp {
		outputWatermarks = make(map[string]*timestamppb.Timestamp, len(r.cfg.OutputIDs))
		for _, outputID := range r.cfg.OutputIDs {
			outputWatermarks[outputID] = fnapi.WatermarkTimestamp(watermark.Milliseconds())
		}
	}
	r.log.Debug().Float64("fraction", fraction).Msg("split")
	return &SplitResult{
		Primary: &fnapi.BundleApplication{
			TransformID: r.cfg.TransformID,
			InputID:     r.cfg.MainInputID,
			Element:     primaryBytes.Bytes(),
		},
		Residual: &fnapi.DelayedBundleApplication{
			Application:        residualApp,
			RequestedTimeDelay: durationpb.New(resumeDelay),
			OutputWatermarks:   outputWatermarks,
		},
	}, nil
}

// windowedSplitResult rebuilds the primary and residual restrictions into
// main-input-shaped elements carrying the parent element's windows and
// pane. The caller holds the split lock.
func (r *BundleRunner) windowedSplitResult(primary, residual, residualState interface{}) (*FullValue, *FullValue, error) {
	switch r.cfg.Mode {
	case ModeProcessElements:
		primaryRoot := r.curElement.WithValue(
			r.curElement.Elm,
			&FullValue{Elm: primary, Elm2: r.curWatermarkState})
		residualRoot := r.curElement.WithValue(
			r.curElement.Elm,
			&FullValue{Elm: residual, Elm2: residualState})
		return primaryRoot, residualRoot, nil

	case ModeProcessSizedElementsAndRestrictions:
		primarySize, err := r.fn.RestrictionSize(r.curElement.Elm, primary)
		if err != nil {
			return nil, nil, wrapUserCode(err, "sizing split primary")
		}
		residualSize, err := r.fn.RestrictionSize(r.curElement.Elm, residual)
		if err != nil {
			return nil, nil, wrapUserCode(err, "sizing split residual")
		}
		primaryRoot := r.curElement.WithValue(
			&FullValue{Elm: r.curElement.Elm, Elm2: &FullValue{Elm: primary, Elm2: r.curWatermarkState}},
			primarySize)
		residualRoot := r.curElement.WithValue(
			&FullValue{Elm: r.curElement.Elm, Elm2: &FullValue{Elm: residual, Elm2: residualState}},
			residualSize)
		return primaryRoot, residualRoot, nil

	default:
		return nil, nil, configErrorf("no split conversion for mode %v", r.cfg.Mode)
	}
}

// MonitoringInfos encodes the current progress as the work-completed and
// work-remaining metrics the orchestrator polls. It returns no records
// when progress is unknown.
func (s *SplitCoordinator) MonitoringInfos() ([]*fnapi.MonitoringInfo, error) {
	p := s.Progress()
	if p == nil {
		return nil, nil
	}
	completed, err := encodeProgressPayload(p.Completed)
	if err != nil {
		return nil, errors.WithContext(err, "encoding work-completed metric")
	}
	remaining, err := encodeProgressPayload(p.Remaining)
	if err != nil {
		return nil, errors.WithContext(err, "encoding work-remaining metric")
	}
	labels := map[string]string{fnapi.LabelTransform: s.r.cfg.TransformID}
	return []*fnapi.MonitoringInfo{
		{Urn: fnapi.URNWorkCompleted, Type: fnapi.ProgressMetricType, Labels: labels, Payload: completed},
		{Urn: fnapi.URNWorkRemaining, Type: fnapi.ProgressMetricType, Labels: labels, Payload: remaining},
	}, nil
}
