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
	"context"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/sdf"
	"github.com/streampipe/worker/pkg/worker/core/timers"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// BundleContext is the view of the runner presented to StartBundle and
// FinishBundle callbacks.
type BundleContext struct {
	r *BundleRunner
}

// Options returns the pipeline options bag.
func (bc *BundleContext) Options() PipelineOptions {
	return bc.r.opts.Options
}

// BundleFinalizer returns the registry for callbacks to run once the
// bundle's outputs are durably committed, or nil if the host does not
// support finalization.
func (bc *BundleContext) BundleFinalizer() BundleFinalizer {
	return bc.r.opts.Finalizer
}

// ProcessContext is the view of the runner presented to ProcessElement,
// OnTimer, and the restriction callbacks. One value serves every mode;
// operations a mode does not support return usage errors.
//
// A ProcessContext is only valid for the duration of the callback it is
// passed to.
type ProcessContext struct {
	r *BundleRunner
}

// Element returns the current element's payload. KV payloads are *FullValue
// pairs.
func (pc *ProcessContext) Element() interface{} {
	if pc.r.curElement == nil {
		return nil
	}
	return elemValue(pc.r.curElement)
}

// Timestamp returns the current element's timestamp, or the hold timestamp
// of the firing timer in an on-timer context.
func (pc *ProcessContext) Timestamp() mtime.Time {
	if pc.r.curTimer != nil {
		return pc.r.curTimer.HoldTimestamp
	}
	if pc.r.curElement != nil {
		return pc.r.curElement.Timestamp
	}
	return mtime.ZeroTimestamp
}

// Window returns the window the callback is running in.
func (pc *ProcessContext) Window() window.Window {
	return pc.r.curWindow
}

// Pane returns the current element's or firing timer's pane.
func (pc *ProcessContext) Pane() window.PaneInfo {
	if pc.r.curTimer != nil {
		return pc.r.curTimer.Pane
	}
	if pc.r.curElement != nil {
		return pc.r.curElement.Pane
	}
	return window.PaneInfo{}
}

// TimeDomain returns the firing timer's time domain in an on-timer
// context.
func (pc *ProcessContext) TimeDomain() timers.TimeDomain {
	return pc.r.curTimeDomain
}

// FireTimestamp returns the firing timer's fire timestamp in an on-timer
// context.
func (pc *ProcessContext) FireTimestamp() mtime.Time {
	if pc.r.curTimer != nil {
		return pc.r.curTimer.FireTimestamp
	}
	return mtime.ZeroTimestamp
}

// Restriction returns the restriction of the current element in
// restriction-carrying modes.
func (pc *ProcessContext) Restriction() interface{} {
	return pc.r.curRestriction
}

// WatermarkEstimatorState returns the watermark estimator state paired with
// the current restriction.
func (pc *ProcessContext) WatermarkEstimatorState() interface{} {
	return pc.r.curWatermarkState
}

// Tracker returns the restriction tracker of the in-flight splittable
// element, and nil in every other context.
func (pc *ProcessContext) Tracker() sdf.RTracker {
	return pc.r.curTracker
}

// WatermarkEstimator returns the thread-safe watermark estimator of the
// in-flight splittable element, and nil in every other context.
func (pc *ProcessContext) WatermarkEstimator() sdf.WatermarkEstimator {
	if pc.r.curEstimator == nil {
		return nil
	}
	return pc.r.curEstimator
}

// Output emits a value on the main output with the current timestamp.
func (pc *ProcessContext) Output(ctx context.Context, value interface{}) error {
	return pc.OutputWithTimestamp(ctx, value, pc.Timestamp())
}

// OutputWithTimestamp emits a value on the main output with an explicit
// timestamp.
func (pc *ProcessContext) OutputWithTimestamp(ctx context.Context, value interface{}, ts mtime.Time) error {
	return pc.outputTagged(ctx, pc.r.cfg.MainOutputID, pc.r.mainOut, value, ts, true)
}

// OutputTo emits a value on a named output with an explicit timestamp.
// Non-main outputs carry the value unwrapped in every mode.
func (pc *ProcessContext) OutputTo(ctx context.Context, tag string, value interface{}, ts mtime.Time) error {
	consumers, ok := pc.r.outputs[tag]
	if !ok {
		return usageErrorf("transform %v declares no output %q", pc.r.cfg.TransformID, tag)
	}
	return pc.outputTagged(ctx, tag, consumers, value, ts, tag == pc.r.cfg.MainOutputID)
}

// outputTagged builds the mode-specific output wrapper around a value and
// forwards it. Only main-output emissions of the restriction-splitting
// modes are wrapped; everything else passes through plainly.
func (pc *ProcessContext) outputTagged(ctx context.Context, tag string, consumers []Receiver, value interface{}, ts mtime.Time, mainOutput bool) error {
	r := pc.r
	if r.curWindow == nil {
		return usageErrorf("output on %q outside an element or timer context", tag)
	}

	out := &FullValue{
		Timestamp: ts,
		Windows:   []window.Window{r.curWindow},
		Pane:      pc.Pane(),
	}
	switch {
	case mainOutput && r.cfg.Mode == ModeSplitRestriction && r.curTimer == nil:
		// value is a sub-restriction of the current element.
		out.Elm = elemValue(r.curElement)
		out.Elm2 = &FullValue{Elm: value, Elm2: r.curWatermarkState}
	case mainOutput && r.cfg.Mode == ModeSplitAndSizeRestrictions && r.curTimer == nil:
		size, err := r.fn.RestrictionSize(elemValue(r.curElement), value)
		if err != nil {
			return wrapUserCode(err, "sizing sub-restriction")
		}
		out.Elm = &FullValue{
			Elm:  elemValue(r.curElement),
			Elm2: &FullValue{Elm: value, Elm2: r.curWatermarkState},
		}
		out.Elm2 = size
	default:
		if fv, ok := value.(*FullValue); ok && fv.Elm2 != nil {
			out.Elm = fv.Elm
			out.Elm2 = fv.Elm2
		} else {
			out.Elm = value
		}
	}
	return r.outputTo(ctx, consumers, out)
}

// Timer returns the timer surface of a declared timer family for the
// current key and window.
func (pc *ProcessContext) Timer(familyID string) (*UserTimer, error) {
	return pc.r.newUserTimer(familyID)
}

// SideInput reads a declared side input in the current window.
func (pc *ProcessContext) SideInput(ctx context.Context, tag string) (interface{}, error) {
	if pc.r.state == nil {
		return nil, usageErrorf("side input %q read outside an active bundle", tag)
	}
	if pc.r.curWindow == nil {
		return nil, usageErrorf("side input %q read outside an element or timer context", tag)
	}
	return pc.r.state.SideInput(ctx, tag, pc.r.curWindow)
}

// State binds a user state cell in the current key and window context.
func (pc *ProcessContext) State(stateID string, spec StateSpec) (*StateHandle, error) {
	if pc.r.state == nil {
		return nil, usageErrorf("state %q bound outside an active bundle", stateID)
	}
	return pc.r.state.Bind(stateID, spec)
}

// Options returns the pipeline options bag.
func (pc *ProcessContext) Options() PipelineOptions {
	return pc.r.opts.Options
}

// BundleFinalizer returns the registry for callbacks to run once the
// bundle's outputs are durably committed, or nil if the host does not
// support finalization.
func (pc *ProcessContext) BundleFinalizer() BundleFinalizer {
	return pc.r.opts.Finalizer
}
