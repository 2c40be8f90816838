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
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/sdf"
	"github.com/streampipe/worker/pkg/worker/fnapi"
)

func processDescriptor() Descriptor {
	return plainDescriptor(URNProcessElements,
		NewKVCodec(StringCodec(), NewKVCodec(blockRangeCodec{}, StringCodec())))
}

func processElement(rest blockRange) *FullValue {
	return &FullValue{
		Elm:       "k",
		Elm2:      &FullValue{Elm: rest, Elm2: "W0"},
		Timestamp: testTimestamp,
		Windows:   testWindows,
		Pane:      testPane,
	}
}

// TestTrySplitNoTracker verifies the transient contract: a split between
// element invocations returns nothing, repeatedly, without mutating state.
func TestTrySplitNoTracker(t *testing.T) {
	fn := &UserFn{
		NewTracker: func(pc *ProcessContext) (sdf.RTracker, error) {
			return newBlockTracker(pc.Restriction().(blockRange)), nil
		},
		ProcessElement: func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error) {
			return nil, nil
		},
	}
	r, _ := startRunner(t, processDescriptor(), fn, Options{Splits: &collectSplits{}})

	for i := 0; i < 3; i++ {
		got, err := r.Splitter().TrySplit(0.5, 0)
		if err != nil {
			t.Fatalf("TrySplit failed: %v", err)
		}
		if got != nil {
			t.Errorf("TrySplit with no element in flight = %v, want nil", got)
		}
	}
	if p := r.Splitter().Progress(); p != nil {
		t.Errorf("Progress with no element in flight = %v, want nil", p)
	}
}

// TestExternalSplit drives a split from a control thread while the user
// callback is blocked mid-element: the frozen watermark becomes the
// residual's hold, the post-continuation checkpoint finds nothing left,
// and the restriction validates as done.
func TestExternalSplit(t *testing.T) {
	ctx := context.Background()
	splits := &collectSplits{}
	entered := make(chan struct{})
	release := make(chan struct{})

	fn := &UserFn{
		NewTracker: func(pc *ProcessContext) (sdf.RTracker, error) {
			return newBlockTracker(pc.Restriction().(blockRange)), nil
		},
		NewWatermarkEstimator: func(pc *ProcessContext) (sdf.WatermarkEstimator, error) {
			return &fixedEstimator{wm: mtime.Time(5), state: "S1"}, nil
		},
		ProcessElement: func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error) {
			pc.Tracker().TryClaim(int64(0))
			close(entered)
			<-release
			return sdf.ResumeProcessingIn(100), nil
		},
	}
	d := processDescriptor()
	r, _ := startRunner(t, d, fn, Options{Splits: splits})

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- r.Accept(ctx, processElement(blockRange{Start: 0, End: 2}))
	}()

	<-entered
	split, err := r.Splitter().TrySplit(0.5, 0)
	if err != nil {
		t.Fatalf("external TrySplit failed: %v", err)
	}
	if split == nil {
		t.Fatal("external TrySplit = nil, want a split result")
	}
	close(release)
	if err := <-acceptErr; err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	// The external split stole the remainder: the self checkpoint after the
	// resume continuation must have found nothing, so no split reaches the
	// listener.
	if splits.count() != 0 {
		t.Errorf("got %v listener splits, want 0: remainder was already stolen", splits.count())
	}

	cfg, _ := NewConfig(d)
	pr := decodeOne(t, cfg.fullCodec, split.Primary.Element)
	rr := decodeOne(t, cfg.fullCodec, split.Residual.Application.Element)
	wantPrimary := processElement(blockRange{Start: 0, End: 1})
	wantResidual := &FullValue{
		Elm:       "k",
		Elm2:      &FullValue{Elm: blockRange{Start: 1, End: 2}, Elm2: "S1"},
		Timestamp: testTimestamp,
		Windows:   testWindows,
		Pane:      testPane,
	}
	if diff := cmp.Diff(wantPrimary, pr); diff != "" {
		t.Errorf("unexpected primary (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff(wantResidual, rr); diff != "" {
		t.Errorf("unexpected residual (-want +got):\n%v", diff)
	}
	wm := split.Residual.OutputWatermarks["out"]
	if wm == nil || wm.Seconds != 0 || wm.Nanos != 5*1_000_000 {
		t.Errorf("residual output watermark = %v, want (0s, 5e6ns)", wm)
	}
	checkCleared(t, r)
}

// TestSizedSplitConversion verifies that the sized process mode sizes both
// halves of a split.
func TestSizedSplitConversion(t *testing.T) {
	ctx := context.Background()
	splits := &collectSplits{}
	fn := &UserFn{
		NewTracker: func(pc *ProcessContext) (sdf.RTracker, error) {
			return newBlockTracker(pc.Restriction().(blockRange)), nil
		},
		NewWatermarkEstimator: func(pc *ProcessContext) (sdf.WatermarkEstimator, error) {
			return &fixedEstimator{wm: mtime.Time(3), state: "W0"}, nil
		},
		RestrictionSize: func(elem, restriction interface{}) (float64, error) {
			r := restriction.(blockRange)
			return float64(r.End - r.Start), nil
		},
		ProcessElement: func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error) {
			pc.Tracker().TryClaim(int64(0))
			return sdf.ResumeProcessingIn(0), nil
		},
	}
	value := NewKVCodec(
		NewKVCodec(StringCodec(), NewKVCodec(blockRangeCodec{}, StringCodec())),
		DoubleCodec())
	d := plainDescriptor(URNProcessSizedElementsAndRestrictions, value)
	r, _ := startRunner(t, d, fn, Options{Splits: splits})

	in := &FullValue{
		Elm:       &FullValue{Elm: "k", Elm2: &FullValue{Elm: blockRange{Start: 0, End: 4}, Elm2: "W0"}},
		Elm2:      4.0,
		Timestamp: testTimestamp,
		Windows:   testWindows,
		Pane:      testPane,
	}
	if err := r.Accept(ctx, in); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if splits.count() != 1 {
		t.Fatalf("got %v forwarded splits, want 1", splits.count())
	}

	cfg, _ := NewConfig(d)
	pr := decodeOne(t, cfg.fullCodec, splits.primaries[0].Element)
	rr := decodeOne(t, cfg.fullCodec, splits.residuals[0].Application.Element)
	prPair := pr.Elm.(*FullValue)
	rrPair := rr.Elm.(*FullValue)
	prRest := prPair.Elm2.(*FullValue).Elm.(blockRange)
	rrRest := rrPair.Elm2.(*FullValue).Elm.(blockRange)
	if pr.Elm2 != float64(prRest.End-prRest.Start) {
		t.Errorf("primary size = %v, want %v", pr.Elm2, prRest.End-prRest.Start)
	}
	if rr.Elm2 != float64(rrRest.End-rrRest.Start) {
		t.Errorf("residual size = %v, want %v", rr.Elm2, rrRest.End-rrRest.Start)
	}
	if prRest.End != rrRest.Start {
		t.Errorf("primary %v and residual %v do not partition the restriction", prRest, rrRest)
	}
	checkCleared(t, r)
}

// TestProgressAndMonitoring verifies progress reads and the monitoring
// payload encoding: a one-element iterable of doubles.
func TestProgressAndMonitoring(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fn := &UserFn{
		NewTracker: func(pc *ProcessContext) (sdf.RTracker, error) {
			return newBlockTracker(pc.Restriction().(blockRange)), nil
		},
		ProcessElement: func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error) {
			rt := pc.Tracker()
			rt.TryClaim(int64(0))
			rt.TryClaim(int64(1))
			close(entered)
			<-release
			rt.TryClaim(int64(2))
			rt.TryClaim(int64(3))
			return sdf.StopProcessing(), nil
		},
	}
	r, _ := startRunner(t, processDescriptor(), fn, Options{Splits: &collectSplits{}})

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- r.Accept(context.Background(), processElement(blockRange{Start: 0, End: 4}))
	}()
	<-entered

	p := r.Splitter().Progress()
	if p == nil {
		t.Fatal("Progress = nil, want a reading")
	}
	want := sdf.Progress{Completed: 2, Remaining: 2}
	if *p != want {
		t.Errorf("Progress = %v, want %v", *p, want)
	}
	if got := r.Splitter().ProgressFraction(); got != 0.5 {
		t.Errorf("ProgressFraction = %v, want 0.5", got)
	}

	infos, err := r.Splitter().MonitoringInfos()
	if err != nil {
		t.Fatalf("MonitoringInfos failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %v monitoring infos, want 2", len(infos))
	}
	wantInfo := []*fnapi.MonitoringInfo{
		{
			Urn:     fnapi.URNWorkCompleted,
			Type:    fnapi.ProgressMetricType,
			Labels:  map[string]string{fnapi.LabelTransform: "ptr"},
			Payload: doubleIterablePayload(2),
		},
		{
			Urn:     fnapi.URNWorkRemaining,
			Type:    fnapi.ProgressMetricType,
			Labels:  map[string]string{fnapi.LabelTransform: "ptr"},
			Payload: doubleIterablePayload(2),
		},
	}
	if diff := cmp.Diff(wantInfo, infos); diff != "" {
		t.Errorf("unexpected monitoring infos (-want +got):\n%v", diff)
	}

	close(release)
	if err := <-acceptErr; err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	checkCleared(t, r)
}

// doubleIterablePayload builds the expected wire form of a progress
// metric: big-endian element count, then the IEEE-754 bits of each value.
func doubleIterablePayload(v float64) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[:4], 1)
	binary.BigEndian.PutUint64(buf[4:], math.Float64bits(v))
	return buf
}
