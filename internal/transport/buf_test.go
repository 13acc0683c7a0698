/*
 *
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
 *
 */

package transport

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/sphw/piton/internal/wire"
)

type sample struct {
	Seq  wire.U64le
	Done wire.Bool
	_    [7]uint8
}

func (s *sample) CheckBytes() error { return s.Done.CheckBytes() }

type recordingOwner struct {
	abandoned []uint64
	released  []uint64
}

func (o *recordingOwner) AbandonWrite(token uint64) error {
	o.abandoned = append(o.abandoned, token)
	return nil
}

func (o *recordingOwner) ReleaseRead(token uint64) {
	o.released = append(o.released, token)
}

// region returns n bytes whose first byte sits one past an 8-aligned
// address, like a frame payload preceded by an odd-sized header.
func region(n int) []byte {
	words := make([]uint64, (n+16)/8)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
	return b[1 : 1+n]
}

func TestBufWRecoversAlignment(t *testing.T) {
	owner := &recordingOwner{}
	r := region(wire.Sizeof[sample]() + wire.Alignof[sample]())

	w, err := NewBufW[sample](r, owner, 7)
	if err != nil {
		t.Fatalf("NewBufW() failed: %v", err)
	}
	if got := uintptr(unsafe.Pointer(w.Get())) % uintptr(wire.Alignof[sample]()); got != 0 {
		t.Fatalf("typed view misaligned by %d", got)
	}
	if !w.Valid() {
		t.Fatalf("Valid() = false for granted buffer")
	}

	w.Get().Seq.Set(99)
	w.Get().Done.Set(true)
	w.SetMsgType(3)
	if w.MsgType() != 3 {
		t.Fatalf("MsgType() = %d, want 3", w.MsgType())
	}

	rd, err := NewBufR[sample](r, w.MsgType(), owner, 8)
	if err != nil {
		t.Fatalf("NewBufR() failed: %v", err)
	}
	if rd.Get().Seq.Get() != 99 || !rd.Get().Done.Get() {
		t.Fatalf("read back %+v", *rd.Get())
	}
	if rd.MsgType() != 3 {
		t.Fatalf("BufR MsgType() = %d, want 3", rd.MsgType())
	}
	rd.Release()
	if len(owner.released) != 1 || owner.released[0] != 8 {
		t.Fatalf("released = %v, want [8]", owner.released)
	}
}

func TestBufRRejectsInvalid(t *testing.T) {
	r := region(wire.Sizeof[sample]() + wire.Alignof[sample]())
	w, err := NewBufW[sample](r, &recordingOwner{}, 1)
	if err != nil {
		t.Fatalf("NewBufW() failed: %v", err)
	}
	w.Get().Done = 4

	_, err = NewBufR[sample](r, 0, nil, 1)
	if !errors.Is(err, ErrInvalidMsg) {
		t.Fatalf("NewBufR() error = %v, want ErrInvalidMsg", err)
	}
	if !errors.Is(err, wire.ErrInvalidValue) {
		t.Fatalf("NewBufR() error = %v, want it to wrap wire.ErrInvalidValue", err)
	}
}

func TestBufRUnderflow(t *testing.T) {
	r := region(wire.Sizeof[sample]())
	if _, err := NewBufR[sample](r, 0, nil, 1); !errors.Is(err, ErrBufferUnderflow) {
		t.Fatalf("NewBufR() on a region without alignment slack: error = %v, want ErrBufferUnderflow", err)
	}
}

func TestBufWAbandon(t *testing.T) {
	owner := &recordingOwner{}
	w, err := NewBufW[sample](region(32), owner, 5)
	if err != nil {
		t.Fatalf("NewBufW() failed: %v", err)
	}
	if err := w.Abandon(); err != nil {
		t.Fatalf("Abandon() failed: %v", err)
	}
	if len(owner.abandoned) != 1 || owner.abandoned[0] != 5 {
		t.Fatalf("abandoned = %v, want [5]", owner.abandoned)
	}

	var zero BufW[sample]
	if zero.Valid() {
		t.Fatalf("zero BufW reports Valid")
	}
	if err := zero.Abandon(); !errors.Is(err, ErrTxFail) {
		t.Fatalf("zero BufW Abandon() error = %v, want ErrTxFail", err)
	}
}
