/*
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package wire

import (
	"math"
	"math/bits"
	"strconv"

	"golang.org/x/sys/cpu"
)

// Fixed-endian integer and float primitives. Each stores its value in memory
// in the named byte order regardless of the host, so peers of different
// endianness agree on the encoding at compile time. All bit patterns are
// valid. Alignment is the natural alignment of the underlying Go integer.

// U16le is a little-endian uint16.
type U16le uint16

// U32le is a little-endian uint32.
type U32le uint32

// U64le is a little-endian uint64.
type U64le uint64

// I16le is a little-endian int16.
type I16le uint16

// I32le is a little-endian int32.
type I32le uint32

// I64le is a little-endian int64.
type I64le uint64

// F32le is a little-endian IEEE 754 float32.
type F32le uint32

// F64le is a little-endian IEEE 754 float64.
type F64le uint64

// U16be is a big-endian uint16.
type U16be uint16

// U32be is a big-endian uint32.
type U32be uint32

// U64be is a big-endian uint64.
type U64be uint64

// I16be is a big-endian int16.
type I16be uint16

// I32be is a big-endian int32.
type I32be uint32

// I64be is a big-endian int64.
type I64be uint64

func le16(v uint16) uint16 {
	if cpu.IsBigEndian {
		return bits.ReverseBytes16(v)
	}
	return v
}

func le32(v uint32) uint32 {
	if cpu.IsBigEndian {
		return bits.ReverseBytes32(v)
	}
	return v
}

func le64(v uint64) uint64 {
	if cpu.IsBigEndian {
		return bits.ReverseBytes64(v)
	}
	return v
}

func be16(v uint16) uint16 {
	if cpu.IsBigEndian {
		return v
	}
	return bits.ReverseBytes16(v)
}

func be32(v uint32) uint32 {
	if cpu.IsBigEndian {
		return v
	}
	return bits.ReverseBytes32(v)
}

func be64(v uint64) uint64 {
	if cpu.IsBigEndian {
		return v
	}
	return bits.ReverseBytes64(v)
}

func NewU16le(v uint16) U16le { return U16le(le16(v)) }
func NewU32le(v uint32) U32le { return U32le(le32(v)) }
func NewU64le(v uint64) U64le { return U64le(le64(v)) }
func NewI16le(v int16) I16le  { return I16le(le16(uint16(v))) }
func NewI32le(v int32) I32le  { return I32le(le32(uint32(v))) }
func NewI64le(v int64) I64le  { return I64le(le64(uint64(v))) }
func NewF32le(v float32) F32le {
	return F32le(le32(math.Float32bits(v)))
}
func NewF64le(v float64) F64le {
	return F64le(le64(math.Float64bits(v)))
}
func NewU16be(v uint16) U16be { return U16be(be16(v)) }
func NewU32be(v uint32) U32be { return U32be(be32(v)) }
func NewU64be(v uint64) U64be { return U64be(be64(v)) }
func NewI16be(v int16) I16be  { return I16be(be16(uint16(v))) }
func NewI32be(v int32) I32be  { return I32be(be32(uint32(v))) }
func NewI64be(v int64) I64be  { return I64be(be64(uint64(v))) }

func (x U16le) Get() uint16   { return le16(uint16(x)) }
func (x U32le) Get() uint32   { return le32(uint32(x)) }
func (x U64le) Get() uint64   { return le64(uint64(x)) }
func (x I16le) Get() int16    { return int16(le16(uint16(x))) }
func (x I32le) Get() int32    { return int32(le32(uint32(x))) }
func (x I64le) Get() int64    { return int64(le64(uint64(x))) }
func (x F32le) Get() float32  { return math.Float32frombits(le32(uint32(x))) }
func (x F64le) Get() float64  { return math.Float64frombits(le64(uint64(x))) }
func (x U16be) Get() uint16   { return be16(uint16(x)) }
func (x U32be) Get() uint32   { return be32(uint32(x)) }
func (x U64be) Get() uint64   { return be64(uint64(x)) }
func (x I16be) Get() int16    { return int16(be16(uint16(x))) }
func (x I32be) Get() int32    { return int32(be32(uint32(x))) }
func (x I64be) Get() int64    { return int64(be64(uint64(x))) }

func (x *U16le) Set(v uint16)  { *x = NewU16le(v) }
func (x *U32le) Set(v uint32)  { *x = NewU32le(v) }
func (x *U64le) Set(v uint64)  { *x = NewU64le(v) }
func (x *I16le) Set(v int16)   { *x = NewI16le(v) }
func (x *I32le) Set(v int32)   { *x = NewI32le(v) }
func (x *I64le) Set(v int64)   { *x = NewI64le(v) }
func (x *F32le) Set(v float32) { *x = NewF32le(v) }
func (x *F64le) Set(v float64) { *x = NewF64le(v) }
func (x *U16be) Set(v uint16)  { *x = NewU16be(v) }
func (x *U32be) Set(v uint32)  { *x = NewU32be(v) }
func (x *U64be) Set(v uint64)  { *x = NewU64be(v) }
func (x *I16be) Set(v int16)   { *x = NewI16be(v) }
func (x *I32be) Set(v int32)   { *x = NewI32be(v) }
func (x *I64be) Set(v int64)   { *x = NewI64be(v) }

func (x U16le) String() string { return strconv.FormatUint(uint64(x.Get()), 10) }
func (x U32le) String() string { return strconv.FormatUint(uint64(x.Get()), 10) }
func (x U64le) String() string { return strconv.FormatUint(x.Get(), 10) }
func (x I16le) String() string { return strconv.FormatInt(int64(x.Get()), 10) }
func (x I32le) String() string { return strconv.FormatInt(int64(x.Get()), 10) }
func (x I64le) String() string { return strconv.FormatInt(x.Get(), 10) }
func (x U16be) String() string { return strconv.FormatUint(uint64(x.Get()), 10) }
func (x U32be) String() string { return strconv.FormatUint(uint64(x.Get()), 10) }
func (x U64be) String() string { return strconv.FormatUint(x.Get(), 10) }
func (x I16be) String() string { return strconv.FormatInt(int64(x.Get()), 10) }
func (x I32be) String() string { return strconv.FormatInt(int64(x.Get()), 10) }
func (x I64be) String() string { return strconv.FormatInt(x.Get(), 10) }

// Bool is a one-byte boolean. Only 0 and 1 are valid encodings.
type Bool uint8

const (
	False Bool = 0
	True  Bool = 1
)

// NewBool encodes v.
func NewBool(v bool) Bool {
	if v {
		return True
	}
	return False
}

// Get decodes the boolean. Callers must only use validated values.
func (b Bool) Get() bool { return b != False }

// Set encodes v.
func (b *Bool) Set(v bool) { *b = NewBool(v) }

// CheckBytes rejects encodings other than 0 and 1.
func (b *Bool) CheckBytes() error {
	if *b > True {
		return ErrInvalidValue
	}
	return nil
}

func (b Bool) String() string { return strconv.FormatBool(b.Get()) }
