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
	"unsafe"
)

// Tagged unions are records holding a one-byte tag, explicit padding and a
// body array large enough for the biggest arm, e.g.
//
//	type Shape struct {
//		Tag  uint8
//		_    [7]uint8
//		Body [2]U64le
//	}
//
// The tag value 0 must select an arm whose all-zero body is valid. The
// union's CheckBytes rejects unknown tags and validates the selected arm,
// viewed through ArmOf.

// ArmOf views the union body b as arm A. It panics if A does not fit in B
// or needs stricter alignment than B provides; both are programming errors
// in the union declaration.
func ArmOf[A any, B any](b *B) *A {
	var (
		a    A
		body B
	)
	if unsafe.Sizeof(a) > unsafe.Sizeof(body) {
		panic(fmt.Sprintf("wire: arm %T (%d bytes) larger than union body %T (%d bytes)",
			a, unsafe.Sizeof(a), body, unsafe.Sizeof(body)))
	}
	if unsafe.Alignof(a) > unsafe.Alignof(body) {
		panic(fmt.Sprintf("wire: arm %T needs alignment %d, union body %T has %d",
			a, unsafe.Alignof(a), body, unsafe.Alignof(body)))
	}
	return (*A)(unsafe.Pointer(b))
}

// SetArm zeroes the union body and copies v into it as arm A.
func SetArm[A any, B any](b *B, v A) {
	var zero B
	*b = zero
	*ArmOf[A](b) = v
}
