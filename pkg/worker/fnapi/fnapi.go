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

// Package fnapi holds the records the runner exchanges with the control
// plane: bundle applications produced by splits, monitoring infos produced
// by progress requests, and the endpoints timer streams are keyed by. The
// transport that carries them is owned by the host worker.
package fnapi

import (
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Monitoring URNs and types understood by the orchestrator.
const (
	// URNWorkCompleted keys the work-completed progress metric.
	URNWorkCompleted = "streampipe:metric:ptransform_progress:completed:v1"
	// URNWorkRemaining keys the work-remaining progress metric.
	URNWorkRemaining = "streampipe:metric:ptransform_progress:remaining:v1"
	// ProgressMetricType is the type URN of progress metrics. The payload is
	// a one-element iterable of IEEE-754 doubles.
	ProgressMetricType = "streampipe:metrics:progress:v1"
	// LabelTransform labels a monitoring info with its transform id.
	LabelTransform = "TRANSFORM"
)

// BundleApplication describes one element application: enough for the
// orchestrator to re-deliver the encoded element to a transform's input.
type BundleApplication struct {
	// TransformID identifies the transform the element applies to.
	TransformID string
	// InputID is the transform-local name of the input to re-deliver on.
	InputID string
	// Element is the element encoded with the input's full windowed-value
	// codec.
	Element []byte
}

// DelayedBundleApplication is a bundle application whose execution should
// not start before the requested delay, holding the output watermarks of
// the producing transform in the meantime.
type DelayedBundleApplication struct {
	Application *BundleApplication
	// RequestedTimeDelay is how long the orchestrator should wait before
	// scheduling the application.
	RequestedTimeDelay *durationpb.Duration
	// OutputWatermarks bounds, per output id, the event times of data the
	// application may still produce.
	OutputWatermarks map[string]*timestamppb.Timestamp
}

// MonitoringInfo is one metric observation reported to the orchestrator.
type MonitoringInfo struct {
	Urn     string
	Type    string
	Labels  map[string]string
	Payload []byte
}

// TimerEndpoint keys one logical timer stream.
type TimerEndpoint struct {
	InstructionID string
	TransformID   string
	TimerFamilyID string
}

// WatermarkTimestamp converts a millisecond watermark to the wire timestamp
// form: whole seconds plus the millisecond remainder in nanoseconds.
func WatermarkTimestamp(millis int64) *timestamppb.Timestamp {
	return &timestamppb.Timestamp{
		Seconds: millis / 1000,
		Nanos:   int32(millis%1000) * 1_000_000,
	}
}
