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
	"errors"
	"fmt"
	"unsafe"
)

var (
	// ErrShort indicates the byte region is smaller than the type.
	ErrShort = errors.New("wire: region shorter than type")
	// ErrMisaligned indicates the region does not start at an address
	// satisfying the type's alignment.
	ErrMisaligned = errors.New("wire: region misaligned for type")
	// ErrInvalidValue indicates the bytes do not encode a valid value.
	ErrInvalidValue = errors.New("wire: invalid value")
	// ErrNotCertified indicates the type cannot be a wire type.
	ErrNotCertified = errors.New("wire: type is not wire-safe")
)

// Yule is implemented, on the pointer receiver, by wire types whose bit
// patterns are not all valid. CheckBytes inspects the value in place and
// must run in time bounded by the size of the type.
//
// Records that contain constrained fields must implement Yule themselves
// and check every such field; unions check the tag and the selected arm.
type Yule interface {
	CheckBytes() error
}

// Sizeof returns the encoded size of T.
func Sizeof[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Alignof returns the required alignment of T.
func Alignof[T any]() int {
	var zero T
	return int(unsafe.Alignof(zero))
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// AlignOffset returns the number of bytes to skip from the start of b to
// reach an address aligned for T.
func AlignOffset[T any](b []byte) int {
	if len(b) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return int(AlignUp(addr, uintptr(Alignof[T]())) - addr)
}

// Check reports why b does not hold a valid T, or nil if it does. b must be
// at least Sizeof[T] bytes long and start at an address aligned for T; only
// the first Sizeof[T] bytes are inspected.
func Check[T any](b []byte) error {
	if err := Certify[T](); err != nil {
		return err
	}
	var zero T
	size := unsafe.Sizeof(zero)
	if uintptr(len(b)) < size {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShort, len(b), size)
	}
	if size == 0 {
		return nil
	}
	p := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(p)%unsafe.Alignof(zero) != 0 {
		return ErrMisaligned
	}
	return checkValue((*T)(p))
}

// Validate reports whether b holds a valid T.
func Validate[T any](b []byte) bool {
	return Check[T](b) == nil
}

// FromSlice validates b and returns a view of its first Sizeof[T] bytes as
// a T. The view aliases b.
func FromSlice[T any](b []byte) (*T, error) {
	if err := Check[T](b); err != nil {
		return nil, err
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(b))), nil
}

// FromMutSlice is FromSlice for callers that intend to write through the
// returned pointer.
func FromMutSlice[T any](b []byte) (*T, error) {
	return FromSlice[T](b)
}

// FromSliceUnchecked returns a view of b as a T without validation.
//
// The caller must guarantee that b is at least Sizeof[T] bytes, aligned for
// T and holds a valid T. Builds with the piton_debug tag assert this.
func FromSliceUnchecked[T any](b []byte) *T {
	if debugAsserts {
		if err := Check[T](b); err != nil {
			panic(fmt.Sprintf("wire: FromSliceUnchecked precondition: %v", err))
		}
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(b)))
}

// FromMutSliceUnchecked returns a writable view of b as a T without
// validation. Size and alignment are the caller's responsibility; the
// content may be anything until the caller writes it.
func FromMutSliceUnchecked[T any](b []byte) *T {
	if debugAsserts {
		var zero T
		if uintptr(len(b)) < unsafe.Sizeof(zero) {
			panic("wire: FromMutSliceUnchecked precondition: region too short")
		}
		if len(b) > 0 && uintptr(unsafe.Pointer(unsafe.SliceData(b)))%unsafe.Alignof(zero) != 0 {
			panic("wire: FromMutSliceUnchecked precondition: region misaligned")
		}
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(b)))
}

// AsSlice returns the bytes of *v. The slice aliases v.
func AsSlice[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// CheckAll runs CheckBytes on each field in order and returns the first
// failure. Generated records use it to implement Yule.
func CheckAll(fields ...Yule) error {
	for _, f := range fields {
		if err := f.CheckBytes(); err != nil {
			return err
		}
	}
	return nil
}

func checkValue[T any](v *T) error {
	if y, ok := any(v).(Yule); ok {
		return y.CheckBytes()
	}
	return nil
}
