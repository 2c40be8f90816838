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

// Package timers provides the time-domain enumeration and the timer record
// exchanged with the timer service.
package timers

import (
	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// TimeDomain identifies the clock a timer fires against.
type TimeDomain int32

const (
	TimeDomainUnspecified TimeDomain = 0
	// TimeDomainEventTime fires against the input watermark.
	TimeDomainEventTime TimeDomain = 1
	// TimeDomainProcessingTime fires against wall-clock time.
	TimeDomainProcessingTime TimeDomain = 2
	// TimeDomainSynchronizedProcessingTime fires against the distributed
	// lower bound of processing time over upstream workers.
	TimeDomainSynchronizedProcessingTime TimeDomain = 3
)

func (d TimeDomain) String() string {
	switch d {
	case TimeDomainEventTime:
		return "event-time"
	case TimeDomainProcessingTime:
		return "processing-time"
	case TimeDomainSynchronizedProcessingTime:
		return "synchronized-processing-time"
	default:
		return "unspecified"
	}
}

// Timer is one scheduled (or cleared) firing for a timer family. The hold
// timestamp participates in the output watermark until the timer fires.
type Timer struct {
	UserKey       interface{}
	DynamicTag    string
	Windows       []window.Window
	Clear         bool
	FireTimestamp mtime.Time
	HoldTimestamp mtime.Time
	Pane          window.PaneInfo
}
