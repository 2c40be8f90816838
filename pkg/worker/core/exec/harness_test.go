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

// This file holds the test doubles shared by the runner, split, and timer
// tests: receivers, service clients, trackers, and estimators with
// testable behavior.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/timers"
	"github.com/streampipe/worker/pkg/worker/fnapi"
)

// captureReceiver records every value it receives.
type captureReceiver struct {
	mu  sync.Mutex
	got []*FullValue
}

func (c *captureReceiver) Receive(ctx context.Context, fv *FullValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, fv)
	return nil
}

func (c *captureReceiver) values() []*FullValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FullValue(nil), c.got...)
}

// fakeTimerChannel records outbound timers and lifecycle calls.
type fakeTimerChannel struct {
	mu       sync.Mutex
	accepted []timers.Timer
	awaited  bool
	closed   bool
}

func (c *fakeTimerChannel) Accept(t timers.Timer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("accept on closed timer channel")
	}
	c.accepted = append(c.accepted, t)
	return nil
}

func (c *fakeTimerChannel) AwaitCompletion(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaited = true
	return nil
}

func (c *fakeTimerChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeTimerChannel) timers() []timers.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]timers.Timer(nil), c.accepted...)
}

// fakeTimerClient hands out fakeTimerChannels and keeps the inbound fire
// callbacks so tests can deliver timer firings.
type fakeTimerClient struct {
	channels map[string]*fakeTimerChannel
	fires    map[string]func(ctx context.Context, t timers.Timer) error
}

func newFakeTimerClient() *fakeTimerClient {
	return &fakeTimerClient{
		channels: make(map[string]*fakeTimerChannel),
		fires:    make(map[string]func(ctx context.Context, t timers.Timer) error),
	}
}

func (c *fakeTimerClient) Register(endpoint fnapi.TimerEndpoint, _ TimerCodec, fire func(ctx context.Context, t timers.Timer) error) (TimerChannel, error) {
	ch := &fakeTimerChannel{}
	c.channels[endpoint.TimerFamilyID] = ch
	c.fires[endpoint.TimerFamilyID] = fire
	return ch, nil
}

func (c *fakeTimerClient) fire(ctx context.Context, family string, t timers.Timer) error {
	return c.fires[family](ctx, t)
}

// fakeStateClient is an in-memory multimap state service.
type fakeStateClient struct {
	mu   sync.Mutex
	data map[string][][]byte
}

func newFakeStateClient() *fakeStateClient {
	return &fakeStateClient{data: make(map[string][][]byte)}
}

func stateKeyString(key StateKey) string {
	return fmt.Sprintf("%v/%v/%v/%x/%x", key.Kind, key.TransformID, key.StateID, key.Window, key.UserKey)
}

func (c *fakeStateClient) Get(ctx context.Context, key StateKey) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[stateKeyString(key)], nil
}

func (c *fakeStateClient) Append(ctx context.Context, key StateKey, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := stateKeyString(key)
	c.data[k] = append(c.data[k], data)
	return nil
}

func (c *fakeStateClient) Clear(ctx context.Context, key StateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, stateKeyString(key))
	return nil
}

// collectSplits records forwarded self-splits.
type collectSplits struct {
	mu        sync.Mutex
	primaries []*fnapi.BundleApplication
	residuals []*fnapi.DelayedBundleApplication
}

func (c *collectSplits) Split(primary *fnapi.BundleApplication, residual *fnapi.DelayedBundleApplication) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primaries = append(c.primaries, primary)
	c.residuals = append(c.residuals, residual)
}

func (c *collectSplits) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.primaries)
}

// blockRange is a [Start, End) block restriction for tests.
type blockRange struct {
	Start, End int64
}

// blockTracker is a thread-safe tracker over a blockRange, one claim per
// block.
type blockTracker struct {
	mu      sync.Mutex
	rest    blockRange
	claimed int64
	err     error
}

func newBlockTracker(rest blockRange) *blockTracker {
	return &blockTracker{rest: rest, claimed: rest.Start - 1}
}

func (t *blockTracker) TryClaim(rawPos interface{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := rawPos.(int64)
	if pos <= t.claimed || pos < t.rest.Start {
		t.err = fmt.Errorf("out-of-order claim %v", pos)
		return false
	}
	t.claimed = pos
	return pos < t.rest.End
}

func (t *blockTracker) GetError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *blockTracker) TrySplit(fraction float64) (interface{}, interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	unclaimed := t.rest.End - 1 - t.claimed
	if unclaimed <= 0 {
		return t.rest, nil, nil
	}
	splitPt := t.claimed + 1 + int64(fraction*float64(unclaimed))
	if splitPt >= t.rest.End {
		return t.rest, nil, nil
	}
	res := blockRange{Start: splitPt, End: t.rest.End}
	t.rest.End = splitPt
	return t.rest, res, nil
}

func (t *blockTracker) GetRestriction() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rest
}

func (t *blockTracker) IsDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err == nil && t.claimed >= t.rest.End-1
}

func (t *blockTracker) GetProgress() (done, remaining float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.claimed - t.rest.Start + 1), float64(t.rest.End - 1 - t.claimed)
}

// fixedEstimator reports a fixed watermark and state.
type fixedEstimator struct {
	wm    mtime.Time
	state interface{}
}

func (e *fixedEstimator) CurrentWatermark() mtime.Time { return e.wm }
func (e *fixedEstimator) State() interface{}           { return e.state }

// decodeOne decodes a single encoded element, failing the test on error.
func decodeOne(t *testing.T, c Codec, data []byte) *FullValue {
	t.Helper()
	fv, err := c.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding element failed: %v", err)
	}
	return fv
}

// blockRangeCodec encodes blockRange as two varints.
type blockRangeCodec struct{}

func (blockRangeCodec) Encode(fv *FullValue, w io.Writer) error {
	r, ok := fv.Elm.(blockRange)
	if !ok {
		return fmt.Errorf("blockRange codec cannot encode %T", fv.Elm)
	}
	if err := writeVarInt(r.Start, w); err != nil {
		return err
	}
	return writeVarInt(r.End, w)
}

func (blockRangeCodec) Decode(r io.Reader) (*FullValue, error) {
	start, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	end, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	return &FullValue{Elm: blockRange{Start: start, End: end}}, nil
}
