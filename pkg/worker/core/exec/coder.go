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
	"encoding/binary"
	"io"
	"math"

	"github.com/streampipe/worker/internal/errors"
)

// Codec encodes and decodes element payloads. Implementations are
// stateless; the same Codec may be used concurrently.
type Codec interface {
	Encode(fv *FullValue, w io.Writer) error
	Decode(r io.Reader) (*FullValue, error)
}

// Codec URNs for the standard codecs.
const (
	URNBytesCodec    = "streampipe:coder:bytes:v1"
	URNStringCodec   = "streampipe:coder:string_utf8:v1"
	URNVarIntCodec   = "streampipe:coder:varint:v1"
	URNDoubleCodec   = "streampipe:coder:double:v1"
	URNKVCodec       = "streampipe:coder:kv:v1"
	URNIterableCodec = "streampipe:coder:iterable:v1"
)

// CodecBuilder constructs a codec from its component codecs.
type CodecBuilder func(components ...Codec) (Codec, error)

var codecRegistry = map[string]CodecBuilder{
	URNBytesCodec:  leafBuilder(URNBytesCodec, bytesCodec{}),
	URNStringCodec: leafBuilder(URNStringCodec, stringCodec{}),
	URNVarIntCodec: leafBuilder(URNVarIntCodec, varIntCodec{}),
	URNDoubleCodec: leafBuilder(URNDoubleCodec, doubleCodec{}),
	URNKVCodec: func(components ...Codec) (Codec, error) {
		if len(components) != 2 {
			return nil, errors.Errorf("kv codec requires 2 components, got %v", len(components))
		}
		return NewKVCodec(components[0], components[1]), nil
	},
	URNIterableCodec: func(components ...Codec) (Codec, error) {
		if len(components) != 1 {
			return nil, errors.Errorf("iterable codec requires 1 component, got %v", len(components))
		}
		return NewIterableCodec(components[0]), nil
	},
}

func leafBuilder(urn string, c Codec) CodecBuilder {
	return func(components ...Codec) (Codec, error) {
		if len(components) != 0 {
			return nil, errors.Errorf("codec %v takes no components, got %v", urn, len(components))
		}
		return c, nil
	}
}

// RegisterCodec installs a builder for a codec URN. Re-registration
// replaces the previous builder.
func RegisterCodec(urn string, b CodecBuilder) {
	codecRegistry[urn] = b
}

// LookupCodec builds the codec registered under a URN.
func LookupCodec(urn string, components ...Codec) (Codec, error) {
	b, ok := codecRegistry[urn]
	if !ok {
		return nil, errors.Errorf("unknown codec urn %q", urn)
	}
	return b(components...)
}

// BytesCodec returns the codec for raw []byte elements: varint length
// prefix followed by the bytes.
func BytesCodec() Codec { return bytesCodec{} }

// StringCodec returns the codec for string elements in UTF-8.
func StringCodec() Codec { return stringCodec{} }

// VarIntCodec returns the codec for int64 elements in zig-zag-free varint
// form.
func VarIntCodec() Codec { return varIntCodec{} }

// DoubleCodec returns the codec for float64 elements as big-endian IEEE-754
// bits.
func DoubleCodec() Codec { return doubleCodec{} }

// NewKVCodec returns a codec for KV pairs, encoding the key then the value.
func NewKVCodec(key, value Codec) Codec {
	return &kvCodec{key: key, value: value}
}

// NewIterableCodec returns a codec for known-length iterables: a big-endian
// int32 count followed by that many elements.
func NewIterableCodec(elem Codec) Codec {
	return &iterableCodec{elem: elem}
}

type bytesCodec struct{}

func (bytesCodec) Encode(fv *FullValue, w io.Writer) error {
	data, ok := fv.Elm.([]byte)
	if !ok {
		return errors.Errorf("bytes codec cannot encode %T", fv.Elm)
	}
	if err := writeVarInt(int64(len(data)), w); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func (bytesCodec) Decode(r io.Reader) (*FullValue, error) {
	data, err := readLengthPrefixed(r)
	if err != nil {
		return nil, err
	}
	return &FullValue{Elm: data}, nil
}

type stringCodec struct{}

func (stringCodec) Encode(fv *FullValue, w io.Writer) error {
	s, ok := fv.Elm.(string)
	if !ok {
		return errors.Errorf("string codec cannot encode %T", fv.Elm)
	}
	if err := writeVarInt(int64(len(s)), w); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func (stringCodec) Decode(r io.Reader) (*FullValue, error) {
	data, err := readLengthPrefixed(r)
	if err != nil {
		return nil, err
	}
	return &FullValue{Elm: string(data)}, nil
}

type varIntCodec struct{}

func (varIntCodec) Encode(fv *FullValue, w io.Writer) error {
	n, ok := fv.Elm.(int64)
	if !ok {
		return errors.Errorf("varint codec cannot encode %T", fv.Elm)
	}
	return writeVarInt(n, w)
}

func (varIntCodec) Decode(r io.Reader) (*FullValue, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	return &FullValue{Elm: n}, nil
}

type doubleCodec struct{}

func (doubleCodec) Encode(fv *FullValue, w io.Writer) error {
	f, ok := fv.Elm.(float64)
	if !ok {
		return errors.Errorf("double codec cannot encode %T", fv.Elm)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
	_, err := w.Write(buf[:])
	return err
}

func (doubleCodec) Decode(r io.Reader) (*FullValue, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return &FullValue{Elm: math.Float64frombits(binary.BigEndian.Uint64(buf[:]))}, nil
}

type kvCodec struct {
	key, value Codec
}

func (c *kvCodec) Encode(fv *FullValue, w io.Writer) error {
	if err := c.key.Encode(asFullValue(fv.Elm), w); err != nil {
		return err
	}
	return c.value.Encode(asFullValue(fv.Elm2), w)
}

func (c *kvCodec) Decode(r io.Reader) (*FullValue, error) {
	key, err := c.key.Decode(r)
	if err != nil {
		return nil, err
	}
	value, err := c.value.Decode(r)
	if err != nil {
		return nil, err
	}
	return &FullValue{Elm: fromFullValue(key), Elm2: fromFullValue(value)}, nil
}

type iterableCodec struct {
	elem Codec
}

func (c *iterableCodec) Encode(fv *FullValue, w io.Writer) error {
	elems, ok := fv.Elm.([]interface{})
	if !ok {
		return errors.Errorf("iterable codec cannot encode %T", fv.Elm)
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(elems)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	for _, e := range elems {
		if err := c.elem.Encode(asFullValue(e), w); err != nil {
			return err
		}
	}
	return nil
}

func (c *iterableCodec) Decode(r io.Reader) (*FullValue, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(buf[:]))
	elems := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		fv, err := c.elem.Decode(r)
		if err != nil {
			return nil, err
		}
		elems = append(elems, fromFullValue(fv))
	}
	return &FullValue{Elm: elems}, nil
}

func writeVarInt(n int64, w io.Writer) error {
	var buf [binary.MaxVarintLen64]byte
	size := binary.PutUvarint(buf[:], uint64(n))
	_, err := w.Write(buf[:size])
	return err
}

func readVarInt(r io.Reader) (int64, error) {
	n, err := binary.ReadUvarint(byteReader{r})
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("negative length prefix %v", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// byteReader adapts an io.Reader to io.ByteReader for varint decoding.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
