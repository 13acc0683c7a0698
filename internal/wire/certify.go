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
	"fmt"
	"reflect"
	"sync"
)

var (
	certCache sync.Map // reflect.Type -> certResult

	yuleType    = reflect.TypeOf((*Yule)(nil)).Elem()
	shaperType  = reflect.TypeOf((*shaper)(nil)).Elem()
	wirePkgPath = reflect.TypeOf(U16le(0)).PkgPath()
)

type certResult struct {
	err error
}

// shaper is implemented by generic wire containers whose type parameters
// must satisfy a relationship the reflection walk cannot see by itself.
type shaper interface {
	wireShape() error
}

// Field describes one top-level field of a wire record.
type Field struct {
	Name   string
	Offset uintptr
	Size   uintptr
	Align  uintptr
}

func (f Field) String() string {
	return fmt.Sprintf("%s@%d[%d/%d]", f.Name, f.Offset, f.Size, f.Align)
}

// Certify reports whether T may be used as a wire type. The result is
// computed once per type and cached.
//
// T is rejected if it contains references (pointers, slices, maps, strings,
// interfaces, channels, functions), native bool, native multi-byte numbers,
// implicit padding, or constrained fields that no enclosing Yule validates,
// or if its zero value fails validation.
func Certify[T any]() error {
	return certifyType(reflect.TypeFor[T]())
}

func certifyType(t reflect.Type) error {
	if r, ok := certCache.Load(t); ok {
		return r.(certResult).err
	}
	err := certifyUncached(t)
	certCache.Store(t, certResult{err: err})
	return err
}

func certifyUncached(t reflect.Type) error {
	constrained, err := walk(t, t.String())
	if err != nil {
		return err
	}
	if constrained && !implementsYule(t) {
		return fmt.Errorf("%w: %s has constrained elements but does not implement Yule", ErrNotCertified, t)
	}
	if implementsYule(t) {
		zero := reflect.New(t).Interface().(Yule)
		if err := zero.CheckBytes(); err != nil {
			return fmt.Errorf("%w: zero value of %s is invalid: %v", ErrNotCertified, t, err)
		}
	}
	return nil
}

func implementsYule(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(yuleType)
}

// walk checks t recursively and reports whether values of t have bit
// patterns that need validation.
func walk(t reflect.Type, path string) (bool, error) {
	if reflect.PointerTo(t).Implements(shaperType) {
		if err := reflect.New(t).Interface().(shaper).wireShape(); err != nil {
			return false, fmt.Errorf("%w: %s: %v", ErrNotCertified, path, err)
		}
	}
	switch t.Kind() {
	case reflect.Uint8, reflect.Int8:
		return implementsYule(t), nil
	case reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if t.PkgPath() != wirePkgPath || t.Name() == "" {
			return false, fmt.Errorf("%w: %s: native multi-byte number %s, use a fixed-endian type", ErrNotCertified, path, t)
		}
		return false, nil
	case reflect.Bool:
		return false, fmt.Errorf("%w: %s: native bool, use wire.Bool", ErrNotCertified, path)
	case reflect.Array:
		elem, err := walk(t.Elem(), path+"[]")
		if err != nil {
			return false, err
		}
		return elem || implementsYule(t), nil
	case reflect.Struct:
		return walkStruct(t, path)
	default:
		return false, fmt.Errorf("%w: %s: kind %s is not plain data", ErrNotCertified, path, t.Kind())
	}
}

func walkStruct(t reflect.Type, path string) (bool, error) {
	var end uintptr
	constrained := false
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fpath := path + "." + f.Name
		if f.Offset != end {
			return false, fmt.Errorf("%w: %s: %d bytes of implicit padding before field", ErrNotCertified, fpath, f.Offset-end)
		}
		c, err := walk(f.Type, fpath)
		if err != nil {
			return false, err
		}
		constrained = constrained || c
		end = f.Offset + f.Type.Size()
	}
	if end != t.Size() {
		return false, fmt.Errorf("%w: %s: %d bytes of implicit trailing padding", ErrNotCertified, path, t.Size()-end)
	}
	if constrained && !implementsYule(t) {
		return false, fmt.Errorf("%w: %s has constrained fields but does not implement Yule", ErrNotCertified, path)
	}
	return constrained || implementsYule(t), nil
}

// Layout returns the top-level fields of the record T in declaration order.
// Non-struct types yield a single unnamed field.
func Layout[T any]() []Field {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return []Field{{Offset: 0, Size: t.Size(), Align: uintptr(t.Align())}}
	}
	fields := make([]Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fields = append(fields, Field{
			Name:   f.Name,
			Offset: f.Offset,
			Size:   f.Type.Size(),
			Align:  uintptr(f.Type.Align()),
		})
	}
	return fields
}
