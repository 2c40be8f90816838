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

package window

import (
	"testing"
	"time"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
)

func TestIntervalWindowMaxTimestamp(t *testing.T) {
	w := IntervalWindow{Start: 0, End: 100}
	if got := w.MaxTimestamp(); got != 99 {
		t.Errorf("MaxTimestamp of [0,100) = %v, want 99", got)
	}
}

func TestEquals(t *testing.T) {
	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{name: "GlobalGlobal", a: GlobalWindow{}, b: GlobalWindow{}, want: true},
		{name: "GlobalInterval", a: GlobalWindow{}, b: IntervalWindow{Start: 0, End: 1}, want: false},
		{name: "SameInterval", a: IntervalWindow{Start: 0, End: 1}, b: IntervalWindow{Start: 0, End: 1}, want: true},
		{name: "ShiftedInterval", a: IntervalWindow{Start: 0, End: 1}, b: IntervalWindow{Start: 0, End: 2}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equals(tt.b); got != tt.want {
				t.Errorf("%v.Equals(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIsEqualList(t *testing.T) {
	a := []Window{IntervalWindow{Start: 0, End: 1}, GlobalWindow{}}
	if !IsEqualList(a, a) {
		t.Error("IsEqualList rejects identical lists")
	}
	if IsEqualList(a, a[:1]) {
		t.Error("IsEqualList accepts lists of different length")
	}
	if IsEqualList(a, []Window{GlobalWindow{}, IntervalWindow{Start: 0, End: 1}}) {
		t.Error("IsEqualList ignores ordering")
	}
}

func TestGCTime(t *testing.T) {
	w := IntervalWindow{Start: 0, End: 100}
	if got := GCTime(w, 0); got != 99 {
		t.Errorf("GCTime with no lateness = %v, want the max timestamp 99", got)
	}
	if got := GCTime(w, 50*time.Millisecond); got != 149 {
		t.Errorf("GCTime with 50ms lateness = %v, want 149", got)
	}
	if got := GCTime(GlobalWindow{}, 0); got != mtime.EndOfGlobalWindowTime {
		t.Errorf("GCTime of the global window = %v, want the end of the global window", got)
	}
}

func TestNoFiringPane(t *testing.T) {
	p := NoFiringPane()
	if !p.IsFirst || !p.IsLast || p.Timing != PaneUnknown {
		t.Errorf("NoFiringPane = %+v, want first, last, unknown timing", p)
	}
}
