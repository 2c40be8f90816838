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

// Package exec implements the bundle-scoped user-function runner: the
// dispatch machine that drives user transform callbacks over windowed
// elements and timers, with mid-bundle progress and self-split support for
// splittable transforms.
package exec

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/sdf"
	"github.com/streampipe/worker/pkg/worker/core/timers"
	"github.com/streampipe/worker/pkg/worker/core/window"
	"github.com/streampipe/worker/pkg/worker/fnapi"
)

// TimerChannel is one registered timer stream: user-set timers go out
// through Accept, and the channel is drained and closed at bundle finish.
type TimerChannel interface {
	// Accept writes one outbound timer record.
	Accept(t timers.Timer) error
	// AwaitCompletion blocks until the inbound side of the stream has been
	// fully delivered.
	AwaitCompletion(ctx context.Context) error
	// Close releases the channel. No Accept may follow.
	Close() error
}

// TimerClient registers timer streams with the external timer service.
type TimerClient interface {
	// Register opens the stream for one timer family. Inbound firings are
	// delivered to fire, one at a time.
	Register(endpoint fnapi.TimerEndpoint, c TimerCodec, fire func(ctx context.Context, t timers.Timer) error) (TimerChannel, error)
}

// SplitListener receives the result of successful self-initiated splits
// (checkpoints requested by a process continuation).
type SplitListener interface {
	Split(primary *fnapi.BundleApplication, residual *fnapi.DelayedBundleApplication)
}

// SplitListenerFunc adapts a function to the SplitListener interface.
type SplitListenerFunc func(primary *fnapi.BundleApplication, residual *fnapi.DelayedBundleApplication)

func (f SplitListenerFunc) Split(primary *fnapi.BundleApplication, residual *fnapi.DelayedBundleApplication) {
	f(primary, residual)
}

// ProgressRegistry collects callbacks the worker polls when the
// orchestrator requests bundle progress.
type ProgressRegistry interface {
	Register(cb func() ([]*fnapi.MonitoringInfo, error))
}

// BundleFinalizer registers callbacks to run after the bundle's outputs
// are durably committed.
type BundleFinalizer interface {
	RegisterCallback(timeout time.Duration, cb func() error)
}

// Options are the construction inputs of a BundleRunner beyond the
// transform configuration: the handles to the host worker's services.
type Options struct {
	// InstructionID identifies the bundle. Generated if empty.
	InstructionID string
	// Options is the opaque pipeline options bag.
	Options PipelineOptions
	// Outputs supplies the consumer list of every transform-local output.
	Outputs map[string][]Receiver
	// State is the state-service client; required if the transform declares
	// side inputs or user code binds state.
	State StateClient
	// Timers is the timer-service client; required if the transform
	// declares timer families.
	Timers TimerClient
	// Splits receives self-initiated splits. Required for splittable modes.
	Splits SplitListener
	// Progress, if set, is given the runner's progress callback for
	// splittable modes.
	Progress ProgressRegistry
	// Finalizer, if set, is surfaced to user code for bundle finalization.
	Finalizer BundleFinalizer
	// Clock drives processing-time timers. Defaults to the real clock.
	Clock clockz.Clock
	// Logger receives bundle lifecycle and split events. Defaults to a
	// no-op logger.
	Logger *zerolog.Logger
}

// BundleRunner accepts the windowed elements and timer firings of one
// bundle and dispatches them through the user transform's callbacks
// according to the transform's URN mode.
//
// A runner is reusable across bundles: StartBundle, any number of Accept
// and timer deliveries, FinishBundle. Accept must not be re-entered; a
// separate control thread may call the SplitCoordinator at any time.
type BundleRunner struct {
	cfg  *Config
	fn   *UserFn
	opts Options

	outputs map[string][]Receiver
	mainOut []Receiver
	clock   clockz.Clock
	log     zerolog.Logger

	splitter *SplitCoordinator

	// Per-bundle state, valid between StartBundle and FinishBundle.
	state      *StateAccessor
	timerChans map[string]TimerChannel

	// mu is the split lock. The per-element transient slots below are
	// written only while it is held. The process thread may read them after
	// publishing without re-acquiring; the split thread reads them only
	// under the lock.
	mu                sync.Mutex
	curElement        *FullValue
	curWindow         window.Window
	curRestriction    interface{}
	curWatermarkState interface{}
	curTracker        sdf.RTracker
	curEstimator      *sdf.SafeWatermarkEstimator
	curTimer          *timers.Timer
	curTimeDomain     timers.TimeDomain
}

// NewBundleRunner constructs a runner and invokes the user Setup callback.
func NewBundleRunner(ctx context.Context, cfg *Config, fn *UserFn, opts Options) (*BundleRunner, error) {
	if fn == nil {
		return nil, configErrorf("transform %v has no user fn", cfg.TransformID)
	}
	if err := fn.validate(cfg.Mode); err != nil {
		return nil, err
	}
	if cfg.Mode.splittable() && opts.Splits == nil {
		return nil, configErrorf("mode %v requires a split listener", cfg.Mode)
	}
	if len(cfg.TimerFamilies) > 0 && opts.Timers == nil {
		return nil, configErrorf("transform %v declares timer families but no timer client was supplied", cfg.TransformID)
	}
	if opts.InstructionID == "" {
		opts.InstructionID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = clockz.RealClock
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	r := &BundleRunner{
		cfg:     cfg,
		fn:      fn,
		opts:    opts,
		outputs: opts.Outputs,
		mainOut: opts.Outputs[cfg.MainOutputID],
		clock:   opts.Clock,
		log: opts.Logger.With().
			Str("transform", cfg.TransformID).
			Str("instruction", opts.InstructionID).
			Logger(),
	}
	r.splitter = &SplitCoordinator{r: r}

	if opts.Progress != nil && cfg.Mode.splittable() {
		opts.Progress.Register(r.splitter.MonitoringInfos)
	}

	if fn.Setup != nil {
		if err := fn.Setup(ctx); err != nil {
			return nil, wrapUserCode(err, "invoking Setup")
		}
	}
	return r, nil
}

// Splitter returns the coordinator the control thread uses for progress
// and split requests.
func (r *BundleRunner) Splitter() *SplitCoordinator {
	return r.splitter
}

// StartBundle constructs the per-bundle state accessor, registers the
// transform's timer streams, and invokes the user StartBundle callback.
func (r *BundleRunner) StartBundle(ctx context.Context) error {
	r.state = newStateAccessor(r.cfg, r.opts.State, r.opts.InstructionID, r.currentKey, r.currentWindow)

	r.timerChans = make(map[string]TimerChannel, len(r.cfg.TimerFamilies))
	for family, spec := range r.cfg.TimerFamilies {
		ch, err := r.opts.Timers.Register(
			fnapi.TimerEndpoint{
				InstructionID: r.opts.InstructionID,
				TransformID:   r.cfg.TransformID,
				TimerFamilyID: family,
			},
			spec.Codec,
			func(ctx context.Context, t timers.Timer) error {
				return r.onTimer(ctx, family, spec.Domain, t)
			})
		if err != nil {
			return configErrorf("registering timer family %v of transform %v: %v", family, r.cfg.TransformID, err)
		}
		r.timerChans[family] = ch
	}

	if r.fn.StartBundle != nil {
		if err := r.fn.StartBundle(ctx, &BundleContext{r: r}); err != nil {
			return wrapUserCode(err, "invoking StartBundle")
		}
	}
	r.log.Debug().Msg("bundle started")
	return nil
}

// Accept dispatches one main-input element according to the transform's
// URN mode. It must be called from the single process thread only, after
// StartBundle and before FinishBundle.
func (r *BundleRunner) Accept(ctx context.Context, elem *FullValue) error {
	switch r.cfg.Mode {
	case ModeParDo:
		return r.processParDo(ctx, elem)
	case ModePairWithRestriction:
		return r.processPairWithRestriction(ctx, elem)
	case ModeSplitRestriction, ModeSplitAndSizeRestrictions:
		return r.processSplitRestriction(ctx, elem)
	case ModeProcessElements:
		return r.processElementAndRestriction(ctx, elem)
	case ModeProcessSizedElementsAndRestrictions:
		inner, ok := elem.Elm.(*FullValue)
		if !ok {
			return configErrorf("malformed sized element %v: want ((elem, (restriction, state)), size)", elem)
		}
		return r.processElementAndRestriction(ctx, elem.WithValue(inner.Elm, inner.Elm2))
	default:
		return configErrorf("invalid mode %v", r.cfg.Mode)
	}
}

func (r *BundleRunner) processParDo(ctx context.Context, elem *FullValue) error {
	r.mu.Lock()
	r.curElement = elem
	r.mu.Unlock()
	defer r.clearElementState()

	pc := &ProcessContext{r: r}
	for _, w := range elem.Windows {
		r.setWindow(w)
		if _, err := r.fn.ProcessElement(ctx, pc); err != nil {
			return wrapUserCode(err, "invoking ProcessElement")
		}
	}
	return nil
}

func (r *BundleRunner) processPairWithRestriction(ctx context.Context, elem *FullValue) error {
	r.mu.Lock()
	r.curElement = elem
	r.mu.Unlock()
	defer r.clearElementState()

	pc := &ProcessContext{r: r}
	for _, w := range elem.Windows {
		r.setWindow(w)
		rest, err := r.fn.InitialRestriction(pc)
		if err != nil {
			return wrapUserCode(err, "invoking InitialRestriction")
		}
		r.mu.Lock()
		r.curRestriction = rest
		r.mu.Unlock()

		var state interface{}
		if r.fn.InitialWatermarkEstimatorState != nil {
			if state, err = r.fn.InitialWatermarkEstimatorState(pc); err != nil {
				return wrapUserCode(err, "invoking InitialWatermarkEstimatorState")
			}
		}
		out := elem.WithValue(elemValue(elem), &FullValue{Elm: rest, Elm2: state})
		if err := r.outputTo(ctx, r.mainOut, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *BundleRunner) processSplitRestriction(ctx context.Context, elem *FullValue) error {
	pair, ok := elem.Elm2.(*FullValue)
	if !ok {
		return configErrorf("malformed element %v: want (elem, (restriction, state))", elem)
	}
	r.mu.Lock()
	r.curElement = elem.WithValue(elem.Elm, nil)
	r.curRestriction = pair.Elm
	r.curWatermarkState = pair.Elm2
	r.mu.Unlock()
	defer r.clearElementState()

	pc := &ProcessContext{r: r}
	for _, w := range elem.Windows {
		r.setWindow(w)
		if err := r.fn.SplitRestriction(ctx, pc); err != nil {
			return wrapUserCode(err, "invoking SplitRestriction")
		}
	}
	return nil
}

// processElementAndRestriction is the splittable process path shared by
// ModeProcessElements and ModeProcessSizedElementsAndRestrictions. Each
// window runs as one split-critical section: tracker and estimator are
// published under the split lock, the user callback runs with the lock
// released, and the continuation decides between completion validation and
// a self-initiated checkpoint.
func (r *BundleRunner) processElementAndRestriction(ctx context.Context, elem *FullValue) error {
	pair, ok := elem.Elm2.(*FullValue)
	if !ok {
		return configErrorf("malformed element %v: want (elem, (restriction, state))", elem)
	}
	r.mu.Lock()
	r.curElement = elem.WithValue(elem.Elm, nil)
	r.mu.Unlock()
	defer r.clearElementState()

	pc := &ProcessContext{r: r}
	for _, w := range elem.Windows {
		r.mu.Lock()
		r.curRestriction = pair.Elm
		r.curWatermarkState = pair.Elm2
		r.curWindow = w
		tracker, err := r.fn.NewTracker(pc)
		if err != nil {
			r.mu.Unlock()
			return wrapUserCode(err, "invoking NewTracker")
		}
		r.curTracker = sdf.Observe(tracker, sdf.NoopClaimObserver{})
		var estimator sdf.WatermarkEstimator
		if r.fn.NewWatermarkEstimator != nil {
			if estimator, err = r.fn.NewWatermarkEstimator(pc); err != nil {
				r.mu.Unlock()
				return wrapUserCode(err, "invoking NewWatermarkEstimator")
			}
		} else {
			estimator = minimumWatermarkEstimator{}
		}
		r.curEstimator = sdf.ThreadSafe(estimator)
		r.mu.Unlock()

		// The split lock must not be held while the user callback runs: the
		// control thread takes it to split this very invocation.
		cont, err := r.fn.ProcessElement(ctx, pc)
		if err != nil {
			return wrapUserCode(err, "invoking ProcessElement")
		}
		if cont == nil || !cont.ShouldResume() {
			if err := checkDone(r.curTracker); err != nil {
				return err
			}
			continue
		}

		// The user asked to resume later: checkpoint the remainder. The
		// orchestrator may have stolen it through a split in the meantime,
		// in which case the restriction must be done.
		split, err := r.splitter.TrySplit(0, cont.ResumeDelay())
		if err != nil {
			return err
		}
		if split == nil {
			if err := checkDone(r.curTracker); err != nil {
				return err
			}
			continue
		}
		r.log.Debug().Dur("resume_delay", cont.ResumeDelay()).Msg("self checkpoint")
		r.opts.Splits.Split(split.Primary, split.Residual)
	}
	return nil
}

// onTimer delivers one inbound timer firing to the user OnTimer callback,
// once per window the timer names.
func (r *BundleRunner) onTimer(ctx context.Context, family string, domain timers.TimeDomain, t timers.Timer) error {
	if r.fn.OnTimer == nil {
		return usageErrorf("timer family %v fired but the transform declares no OnTimer callback", family)
	}
	r.mu.Lock()
	r.curTimer = &t
	r.curTimeDomain = domain
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.curTimer = nil
		r.curTimeDomain = timers.TimeDomainUnspecified
		r.curWindow = nil
		r.mu.Unlock()
	}()

	pc := &ProcessContext{r: r}
	for _, w := range t.Windows {
		r.setWindow(w)
		if err := r.fn.OnTimer(ctx, pc, family, ""); err != nil {
			return wrapUserCode(err, "invoking OnTimer")
		}
	}
	return nil
}

// FinishBundle drains and closes the timer streams, invokes the user
// FinishBundle callback, and finalizes the state accessor. Timer handlers
// are awaited before the user callback so firings delivered late in the
// bundle still run, and user-set timers during FinishBundle are rejected
// by the closed channels.
func (r *BundleRunner) FinishBundle(ctx context.Context) error {
	for family, ch := range r.timerChans {
		if err := ch.AwaitCompletion(ctx); err != nil {
			return configErrorf("awaiting timer family %v of transform %v: %v", family, r.cfg.TransformID, err)
		}
	}
	for family, ch := range r.timerChans {
		if err := ch.Close(); err != nil {
			return configErrorf("closing timer family %v of transform %v: %v", family, r.cfg.TransformID, err)
		}
	}

	if r.fn.FinishBundle != nil {
		if err := r.fn.FinishBundle(ctx, &BundleContext{r: r}); err != nil {
			return wrapUserCode(err, "invoking FinishBundle")
		}
	}

	if err := r.state.FinalizeState(ctx); err != nil {
		return err
	}
	r.state = nil
	r.timerChans = nil
	r.log.Debug().Msg("bundle finished")
	return nil
}

// Teardown invokes the user Teardown hook.
func (r *BundleRunner) Teardown(ctx context.Context) error {
	if r.fn.Teardown != nil {
		if err := r.fn.Teardown(ctx); err != nil {
			return wrapUserCode(err, "invoking Teardown")
		}
	}
	return nil
}

// outputTo forwards an output to a consumer list, feeding the element
// timestamp to the current watermark estimator first. Consumer failures
// are user-code failures: the consumer chain runs the downstream fused
// transforms.
func (r *BundleRunner) outputTo(ctx context.Context, consumers []Receiver, out *FullValue) error {
	if r.curEstimator != nil {
		r.curEstimator.ObserveTimestamp(out.Timestamp)
	}
	for _, c := range consumers {
		if err := c.Receive(ctx, out); err != nil {
			return wrapUserCode(err, "delivering output")
		}
	}
	return nil
}

// currentKey returns the key of the current element if it is a KV, the
// user key of the current timer, or nil between callbacks. A non-KV
// current element is a usage error.
func (r *BundleRunner) currentKey() (interface{}, error) {
	if r.curElement != nil {
		// A KV element is either inline (Elm and Elm2 set) or a payload-form
		// pair in Elm, as in the restriction-carrying modes.
		if kv, ok := r.curElement.Elm.(*FullValue); ok && r.curElement.Elm2 == nil {
			return kv.Elm, nil
		}
		if r.curElement.Elm2 != nil {
			return r.curElement.Elm, nil
		}
		return nil, usageErrorf("keyed operation in unkeyed context: element %v is not a KV", r.curElement)
	}
	if r.curTimer != nil {
		return r.curTimer.UserKey, nil
	}
	return nil, nil
}

func (r *BundleRunner) currentWindow() window.Window {
	return r.curWindow
}

func (r *BundleRunner) setWindow(w window.Window) {
	r.mu.Lock()
	r.curWindow = w
	r.mu.Unlock()
}

// clearElementState releases every per-element transient slot. It runs on
// every exit path of element dispatch.
func (r *BundleRunner) clearElementState() {
	r.mu.Lock()
	r.curElement = nil
	r.curWindow = nil
	r.curRestriction = nil
	r.curWatermarkState = nil
	r.curTracker = nil
	r.curEstimator = nil
	r.mu.Unlock()
}

// minimumWatermarkEstimator pins the watermark at the minimum sentinel for
// transforms that do not declare an estimator.
type minimumWatermarkEstimator struct{}

func (minimumWatermarkEstimator) CurrentWatermark() mtime.Time { return mtime.MinTimestamp }
