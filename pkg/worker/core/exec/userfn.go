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

	"github.com/streampipe/worker/internal/errors"
	"github.com/streampipe/worker/pkg/worker/core/sdf"
)

// UserFn is the opaque facade over a user transform definition: the
// callbacks extracted from it by upstream introspection, collapsed into one
// struct of closures. ProcessElement is mandatory except in the
// restriction-pairing and restriction-splitting modes; a nil callback means
// the transform does not declare it. Splittable modes additionally require
// the restriction callbacks their URN exercises.
type UserFn struct {
	// Setup runs once when the runner is constructed.
	Setup func(ctx context.Context) error
	// StartBundle runs at the start of every bundle.
	StartBundle func(ctx context.Context, bc *BundleContext) error
	// ProcessElement handles one element in one window. The continuation is
	// consulted only in splittable process modes; plain modes may return
	// nil.
	ProcessElement func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error)
	// OnTimer handles one timer firing in one window.
	OnTimer func(ctx context.Context, pc *ProcessContext, family, tag string) error
	// FinishBundle runs at the end of every bundle.
	FinishBundle func(ctx context.Context, bc *BundleContext) error
	// Teardown runs when the runner is discarded.
	Teardown func(ctx context.Context) error

	// InitialRestriction returns the restriction representing the whole of
	// the current element.
	InitialRestriction func(pc *ProcessContext) (interface{}, error)
	// InitialWatermarkEstimatorState returns the watermark estimator state
	// to pair with an initial restriction.
	InitialWatermarkEstimatorState func(pc *ProcessContext) (interface{}, error)
	// SplitRestriction splits the current restriction, emitting each
	// sub-restriction through pc.Output.
	SplitRestriction func(ctx context.Context, pc *ProcessContext) error
	// RestrictionSize sizes a candidate restriction of an element.
	RestrictionSize func(elem interface{}, restriction interface{}) (float64, error)
	// NewTracker constructs a tracker over the current restriction.
	NewTracker func(pc *ProcessContext) (sdf.RTracker, error)
	// NewWatermarkEstimator constructs an estimator from the current
	// watermark estimator state.
	NewWatermarkEstimator func(pc *ProcessContext) (sdf.WatermarkEstimator, error)
}

func (fn *UserFn) validate(mode Mode) error {
	if fn.ProcessElement == nil && mode != ModePairWithRestriction && mode != ModeSplitRestriction && mode != ModeSplitAndSizeRestrictions {
		return configErrorf("user fn declares no ProcessElement callback")
	}
	switch mode {
	case ModePairWithRestriction:
		if fn.InitialRestriction == nil {
			return configErrorf("mode %v requires an InitialRestriction callback", mode)
		}
	case ModeSplitRestriction:
		if fn.SplitRestriction == nil {
			return configErrorf("mode %v requires a SplitRestriction callback", mode)
		}
	case ModeSplitAndSizeRestrictions:
		if fn.SplitRestriction == nil || fn.RestrictionSize == nil {
			return configErrorf("mode %v requires SplitRestriction and RestrictionSize callbacks", mode)
		}
	case ModeProcessElements:
		if fn.NewTracker == nil {
			return configErrorf("mode %v requires a NewTracker callback", mode)
		}
	case ModeProcessSizedElementsAndRestrictions:
		if fn.NewTracker == nil || fn.RestrictionSize == nil {
			return configErrorf("mode %v requires NewTracker and RestrictionSize callbacks", mode)
		}
	}
	return nil
}

// checkDone validates that a tracker's restriction was fully claimed before
// a window's processing is allowed to finish.
func checkDone(rt sdf.RTracker) error {
	if rt.IsDone() {
		return nil
	}
	if err := rt.GetError(); err != nil {
		return wrapUserCode(err, "restriction tracker failed")
	}
	return wrapUserCode(
		errors.Errorf("processing returned without completing restriction %v; a splittable transform must claim all work in its restriction before stopping without requesting resumption", rt.GetRestriction()),
		"validating restriction completion")
}
