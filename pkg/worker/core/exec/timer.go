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
	"time"

	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/timers"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// UserTimer is the timer surface presented to user code for one timer
// family in the current element or timer context. Offset, Align, and
// WithOutputTimestamp accumulate configuration; Set or SetRelative commits
// the timer to its family's handler.
type UserTimer struct {
	r        *BundleRunner
	familyID string
	domain   timers.TimeDomain

	userKey    interface{}
	dynamicTag string
	window     window.Window
	pane       window.PaneInfo

	// holdTimestamp is the input element's timestamp, or the hold timestamp
	// of the firing timer.
	holdTimestamp mtime.Time
	// fireTimestamp is the reference point of relative scheduling: the
	// element or firing-timer timestamp in event time, the wall clock
	// otherwise.
	fireTimestamp mtime.Time

	allowedLateness time.Duration

	outputTimestamp    mtime.Time
	hasOutputTimestamp bool
	period             time.Duration
	offset             time.Duration
}

func (r *BundleRunner) newUserTimer(familyID string) (*UserTimer, error) {
	spec, ok := r.cfg.TimerFamilies[familyID]
	if !ok {
		return nil, usageErrorf("transform %v declares no timer family %q", r.cfg.TransformID, familyID)
	}
	if r.curWindow == nil {
		return nil, usageErrorf("timer family %q requested outside an element or timer context", familyID)
	}
	key, err := r.currentKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, usageErrorf("timer family %q requested in an unkeyed context", familyID)
	}

	t := &UserTimer{
		r:               r,
		familyID:        familyID,
		domain:          spec.Domain,
		userKey:         key,
		window:          r.curWindow,
		allowedLateness: r.cfg.Strategy.AllowedLateness,
	}
	if r.curTimer != nil {
		t.dynamicTag = r.curTimer.DynamicTag
		t.pane = r.curTimer.Pane
		t.holdTimestamp = r.curTimer.HoldTimestamp
	} else {
		t.pane = r.curElement.Pane
		t.holdTimestamp = r.curElement.Timestamp
	}
	switch spec.Domain {
	case timers.TimeDomainEventTime:
		if r.curTimer != nil {
			t.fireTimestamp = r.curTimer.FireTimestamp
		} else {
			t.fireTimestamp = r.curElement.Timestamp
		}
	case timers.TimeDomainProcessingTime, timers.TimeDomainSynchronizedProcessingTime:
		t.fireTimestamp = mtime.FromTime(r.clock.Now())
	}
	return t, nil
}

// Offset shifts the target of SetRelative by the given duration. Combined
// with Align, it shifts the alignment boundaries instead (see Align).
func (t *UserTimer) Offset(offset time.Duration) *UserTimer {
	t.offset = offset
	return t
}

// Align makes SetRelative round the reference point up to the next time
// that, plus any Offset, is a multiple of the given period. A reference
// point already on such a boundary is kept as the target.
func (t *UserTimer) Align(period time.Duration) *UserTimer {
	t.period = period
	return t
}

// WithOutputTimestamp sets the timer's output timestamp, the hold the timer
// imposes on the output watermark until it fires.
func (t *UserTimer) WithOutputTimestamp(ts mtime.Time) *UserTimer {
	t.outputTimestamp = ts
	t.hasOutputTimestamp = true
	return t
}

// Set schedules the timer at an absolute time. Absolute timers require the
// event-time domain; processing-time timers must use SetRelative. The time
// must not be after the garbage-collection time of the current window.
func (t *UserTimer) Set(absoluteTime mtime.Time) error {
	if t.domain != timers.TimeDomainEventTime {
		return usageErrorf("absolute timers require the event-time domain, timer family %q is %v; use SetRelative", t.familyID, t.domain)
	}
	if gc := window.GCTime(t.window, t.allowedLateness); absoluteTime > gc {
		return usageErrorf("event-time timer for %v is after the expiration %v of window %v", absoluteTime, gc, t.window)
	}
	return t.commit(absoluteTime)
}

// SetRelative schedules the timer relative to its reference point,
// honoring any Offset and Align configuration. Event-time targets clamp to
// the window's garbage-collection time.
func (t *UserTimer) SetRelative() error {
	var target mtime.Time
	if t.period == 0 {
		target = t.fireTimestamp.Add(t.offset)
	} else {
		m := t.fireTimestamp.Add(t.offset).Milliseconds() % t.period.Milliseconds()
		if m == 0 {
			target = t.fireTimestamp
		} else {
			target = t.fireTimestamp.Add(t.period).Subtract(time.Duration(m) * time.Millisecond)
		}
	}
	if t.domain == timers.TimeDomainEventTime {
		target = mtime.Min(target, window.GCTime(t.window, t.allowedLateness))
	}
	return t.commit(target)
}

// commit derives the output timestamp, enforces the scheduling invariants,
// and writes the timer record to its family's handler.
func (t *UserTimer) commit(scheduled mtime.Time) error {
	outputTimestamp := t.outputTimestamp
	switch {
	case t.hasOutputTimestamp:
		if outputTimestamp < t.holdTimestamp {
			return usageErrorf("output timestamp %v is before the input element timestamp or firing timer hold %v", outputTimestamp, t.holdTimestamp)
		}
	case t.domain == timers.TimeDomainEventTime:
		outputTimestamp = scheduled
	default:
		// Processing-time timers hold at the input element timestamp or the
		// firing timer's hold.
		outputTimestamp = t.holdTimestamp
	}

	gc := window.GCTime(t.window, t.allowedLateness)
	if t.domain == timers.TimeDomainEventTime {
		if outputTimestamp > scheduled {
			return usageErrorf("event-time timer output timestamp %v is after its firing timestamp %v", outputTimestamp, scheduled)
		}
		if scheduled > gc {
			return usageErrorf("event-time timer firing timestamp %v is after the expiration %v of window %v", scheduled, gc, t.window)
		}
	} else if outputTimestamp > gc {
		return usageErrorf("processing-time timer output timestamp %v is after the expiration %v of window %v", outputTimestamp, gc, t.window)
	}

	ch, ok := t.r.timerChans[t.familyID]
	if !ok {
		return usageErrorf("timer family %q set outside an active bundle", t.familyID)
	}
	err := ch.Accept(timers.Timer{
		UserKey:       t.userKey,
		DynamicTag:    t.dynamicTag,
		Windows:       []window.Window{t.window},
		FireTimestamp: scheduled,
		HoldTimestamp: outputTimestamp,
		Pane:          t.pane,
	})
	return wrapUserCode(err, "emitting timer")
}
