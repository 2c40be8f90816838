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
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/streampipe/worker/pkg/worker/core/sdf"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// TestSideInput verifies a multimap side-input read through the state
// client, including window mapping and the view function.
func TestSideInput(t *testing.T) {
	ctx := context.Background()
	sc := newFakeStateClient()

	// Materialize ["a", "b"] for the mapped window.
	mapped := window.GlobalWindow{}
	var wbuf bytes.Buffer
	if err := GlobalWindowCodec().EncodeWindow(mapped, &wbuf); err != nil {
		t.Fatalf("encoding window failed: %v", err)
	}
	key := StateKey{
		Kind:        StateKindSideInput,
		TransformID: "ptr",
		StateID:     "side",
		Window:      wbuf.Bytes(),
	}
	for _, v := range []string{"a", "b"} {
		var buf bytes.Buffer
		if err := StringCodec().Encode(&FullValue{Elm: v}, &buf); err != nil {
			t.Fatalf("encoding value failed: %v", err)
		}
		if err := sc.Append(ctx, key, buf.Bytes()); err != nil {
			t.Fatalf("materializing side input failed: %v", err)
		}
	}

	var got interface{}
	fn := &UserFn{
		ProcessElement: func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error) {
			var err error
			got, err = pc.SideInput(ctx, "side")
			return nil, err
		},
	}
	d := plainDescriptor(URNParDo, VarIntCodec())
	d.WindowCodec = IntervalWindowCodec()
	d.SideInputs = map[string]SideInputSpec{
		"side": {
			AccessPattern: URNMultimapSideInput,
			Codec:         StringCodec(),
			WindowCodec:   GlobalWindowCodec(),
			// Side input is globally windowed; map every main window to it.
			WindowMappingFn: func(w window.Window) window.Window { return window.GlobalWindow{} },
			ViewFn: func(values []interface{}) interface{} {
				out := make([]string, 0, len(values))
				for _, v := range values {
					out = append(out, v.(string))
				}
				return out
			},
		},
	}
	r, _ := startRunner(t, d, fn, Options{State: sc})

	in := &FullValue{
		Elm:       int64(1),
		Timestamp: testTimestamp,
		Windows:   []window.Window{window.IntervalWindow{Start: 0, End: 100}},
	}
	if err := r.Accept(ctx, in); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("unexpected side input view (-want +got):\n%v", diff)
	}
}

// TestStateBindRequiresKey verifies that user state is rejected in an
// unkeyed context.
func TestStateBindRequiresKey(t *testing.T) {
	ctx := context.Background()
	fn := &UserFn{
		ProcessElement: func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error) {
			_, err := pc.State("cell", StateSpec{Codec: StringCodec()})
			return nil, err
		},
	}
	d := plainDescriptor(URNParDo, VarIntCodec())
	r, _ := startRunner(t, d, fn, Options{State: newFakeStateClient()})

	err := r.Accept(ctx, &FullValue{Elm: int64(1), Timestamp: testTimestamp, Windows: testWindows})
	if !IsUserCodeError(err) || !IsUsageError(err) {
		t.Fatalf("state in unkeyed context = %v, want wrapped usage error", err)
	}
}

// TestStateAppendAndFinalize verifies that writes buffer until
// FinalizeState and then land on the client.
func TestStateAppendAndFinalize(t *testing.T) {
	ctx := context.Background()
	sc := newFakeStateClient()
	fn := &UserFn{
		ProcessElement: func(ctx context.Context, pc *ProcessContext) (sdf.ProcessContinuation, error) {
			h, err := pc.State("cell", StateSpec{Codec: StringCodec()})
			if err != nil {
				return nil, err
			}
			if vs, err := h.Read(ctx); err != nil || len(vs) != 0 {
				return nil, err
			}
			return nil, h.Append("v1")
		},
	}
	d := plainDescriptor(URNParDo, NewKVCodec(StringCodec(), VarIntCodec()))
	d.KeyCodec = StringCodec()
	r, _ := startRunner(t, d, fn, Options{State: sc})

	in := &FullValue{Elm: "k", Elm2: int64(1), Timestamp: testTimestamp, Windows: testWindows}
	if err := r.Accept(ctx, in); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	// Nothing lands before finalize.
	if len(sc.data) != 0 {
		t.Errorf("state written before FinalizeState: %v", sc.data)
	}
	if err := r.FinishBundle(ctx); err != nil {
		t.Fatalf("FinishBundle failed: %v", err)
	}
	if len(sc.data) != 1 {
		t.Fatalf("got %v state cells after finalize, want 1", len(sc.data))
	}
}
