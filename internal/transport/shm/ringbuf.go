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

package shm

import (
	"errors"
	"unsafe"
)

// roundUpPowerOfTwo returns the next power of two >= n, with a minimum of
// MinHeapRingCapacity.
func roundUpPowerOfTwo(n int) uint64 {
	if n < MinHeapRingCapacity {
		return MinHeapRingCapacity
	}
	return NextPowerOfTwo(uint64(n))
}

// NewHeapRing returns a single-consumer FrameRing backed by process memory,
// with at least the requested capacity. The actual capacity is the next
// power of two >= minCap and at least MinHeapRingCapacity bytes.
func NewHeapRing(minCap int, wait WaitStrategy, role string) (*FrameRing, error) {
	hdr, data, err := heapStorage(minCap)
	if err != nil {
		return nil, err
	}
	return newFrameRing(hdr, data, wait, role, false), nil
}

func newHeapFanoutRing(minCap int, wait WaitStrategy) (*FrameRing, error) {
	hdr, data, err := heapStorage(minCap)
	if err != nil {
		return nil, err
	}
	return newFrameRing(hdr, data, wait, RoleBus, true), nil
}

// heapStorage allocates a ring header and data area in one 8-byte aligned
// block, the same layout a segment ring has.
func heapStorage(minCap int) (*RingHeader, []byte, error) {
	if minCap <= 0 {
		return nil, nil, errors.New("ring: capacity must be positive")
	}
	capacity := roundUpPowerOfTwo(minCap)

	words := make([]uint64, (RingHeaderSize+capacity)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)

	hdr := (*RingHeader)(unsafe.Pointer(&mem[0]))
	hdr.init(capacity)
	data := mem[RingHeaderSize : RingHeaderSize+capacity : RingHeaderSize+capacity]
	return hdr, data, nil
}
