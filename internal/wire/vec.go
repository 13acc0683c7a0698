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
	"reflect"
	"unsafe"
)

// ErrVecFull is returned by Vec.Push when the vector is at capacity.
var ErrVecFull = errors.New("wire: vec full")

// Vec is a bounded vector stored inline: a U64le length followed by backing
// storage A, which must be an array of T, e.g. Vec[U32le, [16]U32le].
//
// A value is valid iff its length does not exceed the capacity and every
// element of the storage, used or not, is a valid T. The size of A must be
// a multiple of 8 so that the vector carries no trailing padding.
type Vec[T any, A any] struct {
	n   U64le
	buf A
}

// Len returns the number of elements in use.
func (v *Vec[T, A]) Len() int { return int(v.n.Get()) }

// Cap returns the number of elements the storage holds.
func (v *Vec[T, A]) Cap() int {
	es := Sizeof[T]()
	if es == 0 {
		return 0
	}
	return Sizeof[A]() / es
}

// Slice returns the elements in use. The slice aliases v.
func (v *Vec[T, A]) Slice() []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&v.buf)), v.Len())
}

// Storage returns every element of the storage. The slice aliases v.
func (v *Vec[T, A]) Storage() []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&v.buf)), v.Cap())
}

// Push appends x.
func (v *Vec[T, A]) Push(x T) error {
	n := v.Len()
	if n >= v.Cap() {
		return ErrVecFull
	}
	v.Storage()[n] = x
	v.n.Set(uint64(n + 1))
	return nil
}

// Reset truncates the vector to zero length. Storage is left as is.
func (v *Vec[T, A]) Reset() { v.n.Set(0) }

// CheckBytes validates the length and every stored element.
func (v *Vec[T, A]) CheckBytes() error {
	if v.n.Get() > uint64(v.Cap()) {
		return fmt.Errorf("%w: vec length %d exceeds capacity %d", ErrInvalidValue, v.n.Get(), v.Cap())
	}
	if _, ok := any((*T)(nil)).(Yule); !ok {
		return nil
	}
	s := v.Storage()
	for i := range s {
		if err := any(&s[i]).(Yule).CheckBytes(); err != nil {
			return fmt.Errorf("vec element %d: %w", i, err)
		}
	}
	return nil
}

func (v *Vec[T, A]) wireShape() error {
	at, et := reflect.TypeFor[A](), reflect.TypeFor[T]()
	if at.Kind() != reflect.Array || at.Elem() != et {
		return fmt.Errorf("vec storage %s is not an array of %s", at, et)
	}
	if et.Size() == 0 {
		return fmt.Errorf("vec element %s has zero size", et)
	}
	return nil
}
