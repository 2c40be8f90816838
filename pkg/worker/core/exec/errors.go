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
	stderrors "errors"

	"github.com/streampipe/worker/internal/errors"
)

// The runner distinguishes three error kinds. Configuration errors are
// fatal at construction. Usage errors reject a bad request from user code
// (state outside a keyed context, unknown output tag, timer domain
// violations). UserCodeError wraps anything a user callback itself fails
// with. Transient conditions (a split with no tracker) are not errors at
// all; they return nil results.

type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func configErrorf(format string, args ...interface{}) error {
	return &configError{err: errors.Errorf(format, args...)}
}

// IsConfigurationError reports whether err is a transform-descriptor
// configuration error.
func IsConfigurationError(err error) bool {
	var ce *configError
	return stderrors.As(err, &ce)
}

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...interface{}) error {
	return &usageError{err: errors.Errorf(format, args...)}
}

// IsUsageError reports whether err was caused by user code asking the
// runner for something its current context does not support.
func IsUsageError(err error) bool {
	var ue *usageError
	return stderrors.As(err, &ue)
}

// UserCodeError marks a failure raised inside a user callback.
type UserCodeError struct {
	err error
}

func (e *UserCodeError) Error() string { return e.err.Error() }
func (e *UserCodeError) Unwrap() error { return e.err }

// wrapUserCode wraps an error from a user callback exactly once, attaching
// the given context. An error already marked as user code passes through
// unchanged.
func wrapUserCode(err error, context string) error {
	if err == nil {
		return nil
	}
	var uce *UserCodeError
	if stderrors.As(err, &uce) {
		return err
	}
	return &UserCodeError{err: errors.WithContext(err, context)}
}

// IsUserCodeError reports whether err originated inside a user callback.
func IsUserCodeError(err error) bool {
	var uce *UserCodeError
	return stderrors.As(err, &uce)
}
