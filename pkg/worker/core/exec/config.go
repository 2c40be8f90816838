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
	"github.com/streampipe/worker/pkg/worker/core/timers"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// Transform URNs. The URN selects which of the six execution modes the
// runner drives for a bundle.
const (
	URNParDo                               = "streampipe:transform:pardo:v1"
	URNPairWithRestriction                 = "streampipe:transform:sdf_pair_with_restriction:v1"
	URNSplitRestriction                    = "streampipe:transform:sdf_split_restriction:v1"
	URNSplitAndSizeRestrictions            = "streampipe:transform:sdf_split_and_size_restrictions:v1"
	URNProcessElements                     = "streampipe:transform:sdf_process_elements:v1"
	URNProcessSizedElementsAndRestrictions = "streampipe:transform:sdf_process_sized_element_and_restrictions:v1"
)

// URNMultimapSideInput is the only side-input materialization the runner
// handles.
const URNMultimapSideInput = "streampipe:side_input:multimap:v1"

// Mode is the tagged form of a transform URN. It selects both the
// element-shape parser and the output wrapper of the dispatch machine.
type Mode int

const (
	// ModeParDo processes plain elements.
	ModeParDo Mode = iota
	// ModePairWithRestriction pairs each element with its initial
	// restriction and watermark estimator state.
	ModePairWithRestriction
	// ModeSplitRestriction performs initial splits of paired restrictions.
	ModeSplitRestriction
	// ModeSplitAndSizeRestrictions additionally sizes each split.
	ModeSplitAndSizeRestrictions
	// ModeProcessElements processes element-and-restriction pairs with
	// self-split support.
	ModeProcessElements
	// ModeProcessSizedElementsAndRestrictions is ModeProcessElements with a
	// size annotation on input elements and split outputs.
	ModeProcessSizedElementsAndRestrictions
)

func (m Mode) String() string {
	switch m {
	case ModeParDo:
		return "ParDo"
	case ModePairWithRestriction:
		return "PairWithRestriction"
	case ModeSplitRestriction:
		return "SplitRestriction"
	case ModeSplitAndSizeRestrictions:
		return "SplitAndSizeRestrictions"
	case ModeProcessElements:
		return "ProcessElements"
	case ModeProcessSizedElementsAndRestrictions:
		return "ProcessSizedElementsAndRestrictions"
	default:
		return "Invalid"
	}
}

// splittable reports whether the mode supports mid-bundle self-splits.
func (m Mode) splittable() bool {
	return m == ModeProcessElements || m == ModeProcessSizedElementsAndRestrictions
}

func modeFromURN(urn string) (Mode, bool) {
	switch urn {
	case URNParDo:
		return ModeParDo, true
	case URNPairWithRestriction:
		return ModePairWithRestriction, true
	case URNSplitRestriction:
		return ModeSplitRestriction, true
	case URNSplitAndSizeRestrictions:
		return ModeSplitAndSizeRestrictions, true
	case URNProcessElements:
		return ModeProcessElements, true
	case URNProcessSizedElementsAndRestrictions:
		return ModeProcessSizedElementsAndRestrictions, true
	default:
		return 0, false
	}
}

// SideInputSpec is the materialization recipe for one side input.
type SideInputSpec struct {
	// AccessPattern is the materialization URN. Only
	// URNMultimapSideInput is supported.
	AccessPattern string
	// Codec decodes the materialized values.
	Codec Codec
	// WindowCodec encodes the window a read targets.
	WindowCodec WindowCodec
	// ViewFn adapts the decoded values into the view user code observes. A
	// nil ViewFn presents the raw value slice.
	ViewFn func(values []interface{}) interface{}
	// WindowMappingFn maps a main-input window onto the side input's
	// windowing. A nil mapping is the identity.
	WindowMappingFn func(w window.Window) window.Window
}

// TimerFamilySpec declares one timer family of the transform.
type TimerFamilySpec struct {
	Domain timers.TimeDomain
	Codec  TimerCodec
}

// Descriptor is the rehydrated transform payload the host hands to the
// runner. Graph rehydration and codec resolution happen upstream.
type Descriptor struct {
	TransformID string
	URN         string

	// MainInputID is the transform-local name of the main input.
	MainInputID string
	// MainOutputID is the transform-local name of the main output.
	MainOutputID string
	// OutputIDs lists all transform-local output names, main output
	// included.
	OutputIDs []string

	// ValueCodec is the main input's raw element codec, shaped for the
	// mode (for restriction-carrying modes it covers the nested KV form).
	ValueCodec Codec
	// KeyCodec is set iff the main input is a KV; it encodes the key for
	// state addressing.
	KeyCodec Codec
	// WindowCodec is the main input's window codec.
	WindowCodec WindowCodec
	// Strategy is the main input's windowing strategy.
	Strategy *window.Strategy

	SideInputs    map[string]SideInputSpec
	TimerFamilies map[string]TimerFamilySpec
}

// Config is a validated Descriptor, ready to construct a BundleRunner.
type Config struct {
	Descriptor

	// Mode is the tagged transform URN.
	Mode Mode

	// fullCodec is the main input's windowed-value codec, used to encode
	// split artifacts.
	fullCodec Codec
}

// NewConfig validates a transform descriptor. All validation failures are
// configuration errors, fatal at construction.
func NewConfig(d Descriptor) (*Config, error) {
	mode, ok := modeFromURN(d.URN)
	if !ok {
		return nil, configErrorf("unknown transform urn %q", d.URN)
	}
	if d.MainInputID == "" {
		return nil, configErrorf("transform %v has no main input", d.TransformID)
	}
	if d.MainOutputID == "" && len(d.OutputIDs) > 0 {
		return nil, configErrorf("transform %v has outputs but no main output", d.TransformID)
	}
	if d.ValueCodec == nil {
		return nil, configErrorf("transform %v has no main input codec", d.TransformID)
	}
	if d.WindowCodec == nil {
		return nil, configErrorf("transform %v has no window codec", d.TransformID)
	}
	if d.Strategy == nil {
		d.Strategy = window.DefaultStrategy()
	}
	for tag, si := range d.SideInputs {
		if si.AccessPattern != URNMultimapSideInput {
			return nil, configErrorf("side input %v of transform %v uses materialization %q, only %q is supported",
				tag, d.TransformID, si.AccessPattern, URNMultimapSideInput)
		}
		if si.Codec == nil {
			return nil, configErrorf("side input %v of transform %v has no codec", tag, d.TransformID)
		}
	}
	for family, spec := range d.TimerFamilies {
		switch spec.Domain {
		case timers.TimeDomainEventTime, timers.TimeDomainProcessingTime, timers.TimeDomainSynchronizedProcessingTime:
		default:
			return nil, configErrorf("timer family %v of transform %v has unknown time domain %v", family, d.TransformID, spec.Domain)
		}
		if spec.Codec == nil {
			return nil, configErrorf("timer family %v of transform %v has no codec", family, d.TransformID)
		}
	}
	return &Config{
		Descriptor: d,
		Mode:       mode,
		fullCodec:  NewWindowedValueCodec(d.ValueCodec, d.WindowCodec),
	}, nil
}

// PipelineOptions is the opaque configuration bag handed through to user
// code.
type PipelineOptions map[string]string
