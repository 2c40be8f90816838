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

// Package errors builds error chains that separate the failing operation's
// message from the layers of context wrapped around it, so that a bundle
// failure prints as a readable trace instead of a single run-on line.
package errors

import (
	"fmt"
	"io"
	"strings"
)

// New returns an error with the given message.
func New(message string) error {
	return &chainError{msg: message}
}

// Errorf returns an error with a message formatted according to the format
// specifier.
func Errorf(format string, args ...interface{}) error {
	return &chainError{msg: fmt.Sprintf(format, args...)}
}

// Wrap returns a new error annotating err with a new message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &chainError{cause: err, msg: message}
}

// Wrapf returns a new error annotating err with a new message according to
// the format specifier.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &chainError{cause: err, msg: fmt.Sprintf(format, args...)}
}

// WithContext returns a new error adding additional context to err.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return &chainError{cause: err, context: context}
}

// WithContextf returns a new error adding additional context to err according
// to the format specifier.
func WithContextf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &chainError{cause: err, context: fmt.Sprintf(format, args...)}
}

// chainError is a single link in an error chain. A link carries either a
// message (a description of the failure at that layer) or a context string
// (a description of the operation in flight when the cause occurred), plus
// the wrapped cause.
type chainError struct {
	cause   error
	context string
	msg     string
}

// Error prints the chain outermost-first: each context on its own indented
// line, each message followed by its cause.
func (e *chainError) Error() string {
	var b strings.Builder
	e.print(&b)
	return b.String()
}

func (e *chainError) print(b *strings.Builder) {
	if e.context != "" {
		b.WriteString(fmt.Sprintf("\t%s\n", strings.ReplaceAll(e.context, "\n", "\n\t")))
	}
	if e.msg != "" {
		b.WriteString(e.msg)
		if e.cause != nil {
			b.WriteString("\n\tcaused by:\n")
		}
	}
	if e.cause == nil {
		return
	}
	if ce, ok := e.cause.(*chainError); ok {
		ce.print(b)
		return
	}
	b.WriteString(e.cause.Error())
}

// Format implements the fmt.Formatter interface.
func (e *chainError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Unwrap returns the cause of this error if present.
func (e *chainError) Unwrap() error {
	return e.cause
}
