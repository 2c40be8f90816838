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
	"fmt"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// FullValue represents the full runtime value for a data element, including
// the implicit windowing context. KV values nest: a KV element has its key
// in Elm and its value in Elm2, and a KV in either slot is itself a
// *FullValue.
type FullValue struct {
	Elm  interface{} // Element or KV key.
	Elm2 interface{} // KV value, if any.

	Timestamp mtime.Time
	Windows   []window.Window
	Pane      window.PaneInfo
}

func (v *FullValue) String() string {
	if v.Elm2 == nil {
		return fmt.Sprintf("%v [@%v:%v]", v.Elm, v.Timestamp, v.Windows)
	}
	return fmt.Sprintf("KV<%v,%v> [@%v:%v]", v.Elm, v.Elm2, v.Timestamp, v.Windows)
}

// WithValue returns a copy of the full value carrying a new element payload
// with the same timestamp, windows, and pane.
func (v *FullValue) WithValue(elm, elm2 interface{}) *FullValue {
	return &FullValue{
		Elm:       elm,
		Elm2:      elm2,
		Timestamp: v.Timestamp,
		Windows:   v.Windows,
		Pane:      v.Pane,
	}
}

// elemValue collapses a full value back to its element payload: the bare
// Elm for single values, a KV pair for keyed values.
func elemValue(v *FullValue) interface{} {
	if v.Elm2 != nil {
		return &FullValue{Elm: v.Elm, Elm2: v.Elm2}
	}
	return v.Elm
}

// asFullValue lifts an element payload into a *FullValue for codec
// composition. KV payloads are already *FullValue pairs.
func asFullValue(v interface{}) *FullValue {
	if fv, ok := v.(*FullValue); ok {
		return fv
	}
	return &FullValue{Elm: v}
}

// fromFullValue is the inverse of asFullValue: a pair stays a *FullValue, a
// single value collapses to its payload.
func fromFullValue(fv *FullValue) interface{} {
	if fv.Elm2 != nil {
		return &FullValue{Elm: fv.Elm, Elm2: fv.Elm2}
	}
	return fv.Elm
}

// Receiver consumes the windowed values produced for one output.
type Receiver interface {
	Receive(ctx context.Context, fv *FullValue) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, fv *FullValue) error

func (f ReceiverFunc) Receive(ctx context.Context, fv *FullValue) error {
	return f(ctx, fv)
}
