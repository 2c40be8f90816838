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
	"encoding/binary"
	"io"
	"math"

	"github.com/streampipe/worker/internal/errors"
	"github.com/streampipe/worker/pkg/worker/core/mtime"
	"github.com/streampipe/worker/pkg/worker/core/timers"
	"github.com/streampipe/worker/pkg/worker/core/window"
)

// WindowCodec encodes and decodes single windows.
type WindowCodec interface {
	EncodeWindow(w window.Window, out io.Writer) error
	DecodeWindow(r io.Reader) (window.Window, error)
}

// GlobalWindowCodec returns the codec for the global window, which encodes
// to nothing.
func GlobalWindowCodec() WindowCodec { return globalWindowCodec{} }

// IntervalWindowCodec returns the codec for interval windows: the end
// timestamp followed by the window duration in milliseconds as a varint.
func IntervalWindowCodec() WindowCodec { return intervalWindowCodec{} }

type globalWindowCodec struct{}

func (globalWindowCodec) EncodeWindow(w window.Window, out io.Writer) error {
	if _, ok := w.(window.GlobalWindow); !ok {
		return errors.Errorf("global window codec cannot encode %T", w)
	}
	return nil
}

func (globalWindowCodec) DecodeWindow(r io.Reader) (window.Window, error) {
	return window.GlobalWindow{}, nil
}

type intervalWindowCodec struct{}

func (intervalWindowCodec) EncodeWindow(w window.Window, out io.Writer) error {
	iw, ok := w.(window.IntervalWindow)
	if !ok {
		return errors.Errorf("interval window codec cannot encode %T", w)
	}
	if err := encodeEventTime(iw.End, out); err != nil {
		return err
	}
	return writeVarInt(iw.End.Milliseconds()-iw.Start.Milliseconds(), out)
}

func (intervalWindowCodec) DecodeWindow(r io.Reader) (window.Window, error) {
	end, err := decodeEventTime(r)
	if err != nil {
		return nil, err
	}
	dur, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	return window.IntervalWindow{Start: mtime.FromMilliseconds(end.Milliseconds() - dur), End: end}, nil
}

// encodeEventTime writes a timestamp as a big-endian uint64 shifted so that
// the encoding sorts lexicographically.
func encodeEventTime(t mtime.Time, w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.Milliseconds()-math.MinInt64))
	_, err := w.Write(buf[:])
	return err
}

func decodeEventTime(r io.Reader) (mtime.Time, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return mtime.Time(int64(binary.BigEndian.Uint64(buf[:])) + math.MinInt64), nil
}

// encodePane writes the single-byte form of simple panes: bit 0 first,
// bit 1 last, bits 2-3 timing. The never-fired pane encodes as 0x0f.
func encodePane(p window.PaneInfo, w io.Writer) error {
	var b byte
	if p.IsFirst {
		b |= 0x1
	}
	if p.IsLast {
		b |= 0x2
	}
	b |= byte(p.Timing) << 2
	_, err := w.Write([]byte{b})
	return err
}

func decodePane(r io.Reader) (window.PaneInfo, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return window.PaneInfo{}, err
	}
	return window.PaneInfo{
		IsFirst: buf[0]&0x1 != 0,
		IsLast:  buf[0]&0x2 != 0,
		Timing:  window.PaneTiming(buf[0] >> 2 & 0x3),
	}, nil
}

func encodeWindows(ws []window.Window, wc WindowCodec, out io.Writer) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(ws)))
	if _, err := out.Write(buf[:]); err != nil {
		return err
	}
	for _, w := range ws {
		if err := wc.EncodeWindow(w, out); err != nil {
			return err
		}
	}
	return nil
}

func decodeWindows(wc WindowCodec, r io.Reader) ([]window.Window, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(buf[:]))
	ws := make([]window.Window, 0, n)
	for i := 0; i < n; i++ {
		w, err := wc.DecodeWindow(r)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// NewWindowedValueCodec composes a value codec with a window codec into the
// full windowed-value codec: timestamp, windows, pane, then the value. Only
// the split path needs this full form; in-memory dispatch keeps the raw
// value codec separate.
func NewWindowedValueCodec(value Codec, win WindowCodec) Codec {
	return &windowedValueCodec{value: value, win: win}
}

type windowedValueCodec struct {
	value Codec
	win   WindowCodec
}

func (c *windowedValueCodec) Encode(fv *FullValue, w io.Writer) error {
	if err := encodeEventTime(fv.Timestamp, w); err != nil {
		return err
	}
	if err := encodeWindows(fv.Windows, c.win, w); err != nil {
		return err
	}
	if err := encodePane(fv.Pane, w); err != nil {
		return err
	}
	return c.value.Encode(&FullValue{Elm: fv.Elm, Elm2: fv.Elm2}, w)
}

func (c *windowedValueCodec) Decode(r io.Reader) (*FullValue, error) {
	ts, err := decodeEventTime(r)
	if err != nil {
		return nil, err
	}
	ws, err := decodeWindows(c.win, r)
	if err != nil {
		return nil, err
	}
	pane, err := decodePane(r)
	if err != nil {
		return nil, err
	}
	body, err := c.value.Decode(r)
	if err != nil {
		return nil, err
	}
	return &FullValue{Elm: body.Elm, Elm2: body.Elm2, Timestamp: ts, Windows: ws, Pane: pane}, nil
}

// TimerCodec encodes and decodes timer records for one timer family.
type TimerCodec interface {
	EncodeTimer(t timers.Timer, w io.Writer) error
	DecodeTimer(r io.Reader) (timers.Timer, error)
}

// NewTimerCodec returns the wire codec for timers keyed with the given key
// codec. The key codec may be nil for unkeyed timer families.
func NewTimerCodec(key Codec, win WindowCodec) TimerCodec {
	return &timerCodec{key: key, win: win}
}

type timerCodec struct {
	key Codec
	win WindowCodec
}

func (c *timerCodec) EncodeTimer(t timers.Timer, w io.Writer) error {
	if c.key != nil {
		if err := c.key.Encode(asFullValue(t.UserKey), w); err != nil {
			return err
		}
	}
	if err := writeVarInt(int64(len(t.DynamicTag)), w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, t.DynamicTag); err != nil {
		return err
	}
	if err := encodeWindows(t.Windows, c.win, w); err != nil {
		return err
	}
	var clear byte
	if t.Clear {
		clear = 1
	}
	if _, err := w.Write([]byte{clear}); err != nil {
		return err
	}
	if t.Clear {
		return nil
	}
	if err := encodeEventTime(t.FireTimestamp, w); err != nil {
		return err
	}
	if err := encodeEventTime(t.HoldTimestamp, w); err != nil {
		return err
	}
	return encodePane(t.Pane, w)
}

func (c *timerCodec) DecodeTimer(r io.Reader) (timers.Timer, error) {
	var t timers.Timer
	if c.key != nil {
		key, err := c.key.Decode(r)
		if err != nil {
			return t, err
		}
		t.UserKey = fromFullValue(key)
	}
	tag, err := readLengthPrefixed(r)
	if err != nil {
		return t, err
	}
	t.DynamicTag = string(tag)
	if t.Windows, err = decodeWindows(c.win, r); err != nil {
		return t, err
	}
	var clear [1]byte
	if _, err := io.ReadFull(r, clear[:]); err != nil {
		return t, err
	}
	if clear[0] != 0 {
		t.Clear = true
		return t, nil
	}
	if t.FireTimestamp, err = decodeEventTime(r); err != nil {
		return t, err
	}
	if t.HoldTimestamp, err = decodeEventTime(r); err != nil {
		return t, err
	}
	t.Pane, err = decodePane(r)
	return t, err
}

// encodeProgressPayload encodes one progress scalar as a one-element
// iterable of doubles, the payload form of progress metrics.
func encodeProgressPayload(v float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewIterableCodec(DoubleCodec()).Encode(&FullValue{Elm: []interface{}{v}}, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
