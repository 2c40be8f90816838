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

	"github.com/streampipe/worker/internal/errors"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// StateKeyKind distinguishes the addressable state families.
type StateKeyKind int

const (
	// StateKindSideInput addresses a materialized side-input view.
	StateKindSideInput StateKeyKind = iota
	// StateKindUserState addresses a user state cell.
	StateKindUserState
)

// StateKey addresses one state cell on the state service.
type StateKey struct {
	Kind          StateKeyKind
	InstructionID string
	TransformID   string
	// StateID is the side-input tag or the user state id.
	StateID string
	// Window is the target window, encoded with the owning collection's
	// window codec.
	Window []byte
	// UserKey is the encoded element key; empty for side inputs.
	UserKey []byte
}

// StateClient is the external state-service client. Values of a cell are
// individually encoded; Get returns them in service order.
type StateClient interface {
	Get(ctx context.Context, key StateKey) ([][]byte, error)
	Append(ctx context.Context, key StateKey, data []byte) error
	Clear(ctx context.Context, key StateKey) error
}

// StateSpec describes a user state cell binding.
type StateSpec struct {
	// Codec encodes and decodes the cell's values.
	Codec Codec
}

// StateAccessor is the per-bundle facade over the state service, keyed by
// the runner's current element or timer and the current window. It lives
// from StartBundle to FinishBundle and is driven by the process thread
// only.
type StateAccessor struct {
	client        StateClient
	instructionID string
	transformID   string
	sideInputs    map[string]SideInputSpec
	keyCodec      Codec
	windowCodec   WindowCodec

	// keyFn yields the current element's key or the current timer's user
	// key; windowFn yields the current window.
	keyFn    func() (interface{}, error)
	windowFn func() window.Window

	pending []pendingWrite
}

type pendingWrite struct {
	key   StateKey
	clear bool
	data  []byte
}

func newStateAccessor(cfg *Config, client StateClient, instructionID string,
	keyFn func() (interface{}, error), windowFn func() window.Window) *StateAccessor {
	return &StateAccessor{
		client:        client,
		instructionID: instructionID,
		transformID:   cfg.TransformID,
		sideInputs:    cfg.SideInputs,
		keyCodec:      cfg.KeyCodec,
		windowCodec:   cfg.WindowCodec,
		keyFn:         keyFn,
		windowFn:      windowFn,
	}
}

// SideInput reads the materialized view of a side input in the given
// window. The window is first mapped through the side input's window
// mapping function.
func (a *StateAccessor) SideInput(ctx context.Context, tag string, w window.Window) (interface{}, error) {
	spec, ok := a.sideInputs[tag]
	if !ok {
		return nil, usageErrorf("transform %v declares no side input %q", a.transformID, tag)
	}
	if spec.WindowMappingFn != nil {
		w = spec.WindowMappingFn(w)
	}
	var wbuf bytes.Buffer
	if err := spec.WindowCodec.EncodeWindow(w, &wbuf); err != nil {
		return nil, errors.WithContextf(err, "encoding window for side input %v", tag)
	}
	raw, err := a.client.Get(ctx, StateKey{
		Kind:          StateKindSideInput,
		InstructionID: a.instructionID,
		TransformID:   a.transformID,
		StateID:       tag,
		Window:        wbuf.Bytes(),
	})
	if err != nil {
		return nil, errors.WithContextf(err, "reading side input %v", tag)
	}
	values := make([]interface{}, 0, len(raw))
	for _, data := range raw {
		fv, err := spec.Codec.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.WithContextf(err, "decoding side input %v", tag)
		}
		values = append(values, fromFullValue(fv))
	}
	if spec.ViewFn == nil {
		return values, nil
	}
	return spec.ViewFn(values), nil
}

// Bind returns the handle for a user state cell in the current key and
// window context. It fails outside a keyed context.
func (a *StateAccessor) Bind(stateID string, spec StateSpec) (*StateHandle, error) {
	key, err := a.keyFn()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, usageErrorf("accessing state %v outside a keyed context", stateID)
	}
	if a.keyCodec == nil {
		return nil, usageErrorf("accessing state %v but the main input has no key codec", stateID)
	}
	w := a.windowFn()
	if w == nil {
		return nil, usageErrorf("accessing state %v outside a window context", stateID)
	}
	var kbuf, wbuf bytes.Buffer
	if err := a.keyCodec.Encode(asFullValue(key), &kbuf); err != nil {
		return nil, errors.WithContextf(err, "encoding key for state %v", stateID)
	}
	if err := a.windowCodec.EncodeWindow(w, &wbuf); err != nil {
		return nil, errors.WithContextf(err, "encoding window for state %v", stateID)
	}
	return &StateHandle{
		accessor: a,
		spec:     spec,
		key: StateKey{
			Kind:          StateKindUserState,
			InstructionID: a.instructionID,
			TransformID:   a.transformID,
			StateID:       stateID,
			Window:        wbuf.Bytes(),
			UserKey:       kbuf.Bytes(),
		},
	}, nil
}

// FinalizeState flushes pending writes to the state service and invalidates
// the accessor.
func (a *StateAccessor) FinalizeState(ctx context.Context) error {
	for _, p := range a.pending {
		var err error
		if p.clear {
			err = a.client.Clear(ctx, p.key)
		} else {
			err = a.client.Append(ctx, p.key, p.data)
		}
		if err != nil {
			return errors.WithContextf(err, "finalizing state %v", p.key.StateID)
		}
	}
	a.pending = nil
	return nil
}

// StateHandle is a bound user state cell.
type StateHandle struct {
	accessor *StateAccessor
	spec     StateSpec
	key      StateKey
}

// Read returns the decoded values of the cell.
func (h *StateHandle) Read(ctx context.Context) ([]interface{}, error) {
	raw, err := h.accessor.client.Get(ctx, h.key)
	if err != nil {
		return nil, errors.WithContextf(err, "reading state %v", h.key.StateID)
	}
	values := make([]interface{}, 0, len(raw))
	for _, data := range raw {
		fv, err := h.spec.Codec.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.WithContextf(err, "decoding state %v", h.key.StateID)
		}
		values = append(values, fromFullValue(fv))
	}
	return values, nil
}

// Append buffers a value to append to the cell. Writes are flushed on
// FinalizeState.
func (h *StateHandle) Append(value interface{}) error {
	var buf bytes.Buffer
	if err := h.spec.Codec.Encode(asFullValue(value), &buf); err != nil {
		return errors.WithContextf(err, "encoding state %v", h.key.StateID)
	}
	h.accessor.pending = append(h.accessor.pending, pendingWrite{key: h.key, data: buf.Bytes()})
	return nil
}

// Clear buffers a clear of the cell.
func (h *StateHandle) Clear() {
	h.accessor.pending = append(h.accessor.pending, pendingWrite{key: h.key, clear: true})
}
