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
	"testing"

	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/wire"
)

func TestHeapRingCapacityRounding(t *testing.T) {
	tests := []struct {
		min  int
		want uint64
	}{
		{1, MinHeapRingCapacity},
		{64, 64},
		{65, 128},
		{4096, 4096},
		{5000, 8192},
	}
	for _, tt := range tests {
		r, err := NewHeapRing(tt.min, SpinWait{}, RoleRequest)
		if err != nil {
			t.Fatalf("NewHeapRing(%d): %v", tt.min, err)
		}
		if got := r.Capacity(); got != tt.want {
			t.Errorf("NewHeapRing(%d).Capacity() = %d, want %d", tt.min, got, tt.want)
		}
	}
	if _, err := NewHeapRing(0, SpinWait{}, RoleRequest); err == nil {
		t.Error("NewHeapRing(0) succeeded")
	}
}

// A 40 byte, 8-aligned value takes a 64 byte frame: 16 bytes of header and
// 48 bytes of payload with alignment slack. 4096 bytes hold exactly 64.
func TestRingCapacityFortyByteFrames(t *testing.T) {
	r := newTestRing(t, 4096)
	length := grantLength(wire.Sizeof[forty](), wire.Alignof[forty]())
	if got := frameSize(length); got != 64 {
		t.Fatalf("frameSize = %d, want 64", got)
	}

	for i := 0; i < 64; i++ {
		_, tok, err := r.Grant(1, length, FrameHeader{Type: FrameTypeMESSAGE})
		if err != nil {
			t.Fatalf("Grant %d: %v", i, err)
		}
		if err := r.Commit(1, tok, 0); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}
	if r.Available() != 0 {
		t.Fatalf("Available() = %d, want 0", r.Available())
	}
	if _, _, err := r.Grant(1, length, FrameHeader{}); !errors.Is(err, transport.ErrBufferOverflow) {
		t.Fatalf("65th Grant error = %v, want ErrBufferOverflow", err)
	}
}

func TestBusCapacityFortyByteMessages(t *testing.T) {
	bus, sub, err := Pair[forty](4096, WithWaitStrategy(YieldWait{}))
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer bus.Close()

	for i := 0; i < 64; i++ {
		w, err := bus.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		w.Get().Words[0].Set(uint64(i))
		if err := bus.Send(w); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if _, err := bus.Alloc(); !errors.Is(err, transport.ErrBufferOverflow) {
		t.Fatalf("Alloc on full bus error = %v, want ErrBufferOverflow", err)
	}

	// Receiving two messages releases the first of them.
	for i := 0; i < 2; i++ {
		m, err := sub.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if got := m.Get().Words[0].Get(); got != uint64(i) {
			t.Fatalf("message %d carries %d", i, got)
		}
	}
	w, err := bus.Alloc()
	if err != nil {
		t.Fatalf("Alloc after release: %v", err)
	}
	if err := w.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
}
