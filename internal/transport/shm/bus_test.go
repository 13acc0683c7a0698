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
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sphw/piton/internal/transport"
)

func newTickBus(t *testing.T, capacity int) *Bus[tick] {
	t.Helper()
	b, err := NewBus[tick](capacity, WithWaitStrategy(YieldWait{}))
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func publish(b *Bus[tick], seq uint64) error {
	for {
		w, err := b.Alloc()
		if errors.Is(err, transport.ErrBufferOverflow) {
			runtime.Gosched()
			continue
		}
		if err != nil {
			return err
		}
		w.Get().Seq.Set(seq)
		w.SetMsgType(uint32(seq % 7))
		return b.Send(w)
	}
}

func expectTicks(sub *Subscriber[tick], from, to uint64) error {
	for want := from; want < to; want++ {
		m, err := sub.Recv()
		if err != nil {
			return fmt.Errorf("tick %d: %w", want, err)
		}
		if got := m.Get().Seq.Get(); got != want {
			return fmt.Errorf("got tick %d, want %d", got, want)
		}
		if m.MsgType() != uint32(want%7) {
			return fmt.Errorf("tick %d has msg type %d", want, m.MsgType())
		}
	}
	return nil
}

func TestBusFanOut(t *testing.T) {
	b := newTickBus(t, 4096)

	var subs []*Subscriber[tick]
	for i := 0; i < 3; i++ {
		s, err := b.Subscribe()
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		subs = append(subs, s)
	}

	for seq := uint64(0); seq < 10; seq++ {
		if err := publish(b, seq); err != nil {
			t.Fatalf("publish %d: %v", seq, err)
		}
	}
	for i, s := range subs {
		if err := expectTicks(s, 0, 10); err != nil {
			t.Fatalf("subscriber %d: %v", i, err)
		}
	}

	// A late subscriber sees only what is sent after it attached.
	late, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := publish(b, 10); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := expectTicks(late, 10, 11); err != nil {
		t.Fatalf("late subscriber: %v", err)
	}
	if _, ok, err := late.TryRecv(); ok || err != nil {
		t.Fatalf("late subscriber TryRecv = ok %v, err %v", ok, err)
	}
	for i, s := range subs {
		if err := expectTicks(s, 10, 11); err != nil {
			t.Fatalf("subscriber %d: %v", i, err)
		}
	}
}

func TestBusInOrderAcrossWraps(t *testing.T) {
	const n = 500
	// 32 byte frames, eight to a ring.
	b := newTickBus(t, 256)

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		s, err := b.Subscribe()
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		g.Go(func() error { return expectTicks(s, 0, n) })
	}
	for seq := uint64(0); seq < n; seq++ {
		if err := publish(b, seq); err != nil {
			t.Fatalf("publish %d: %v", seq, err)
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestBusSlowSubscriberHoldsPublisher(t *testing.T) {
	b := newTickBus(t, 256)
	stuck, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for seq := uint64(0); seq < 8; seq++ {
		if err := publish(b, seq); err != nil {
			t.Fatalf("publish %d: %v", seq, err)
		}
	}
	if _, err := b.Alloc(); !errors.Is(err, transport.ErrBufferOverflow) {
		t.Fatalf("Alloc with a stuck subscriber error = %v, want ErrBufferOverflow", err)
	}
	if got := stuck.Pending(); got != 8 {
		t.Fatalf("Pending() = %d, want 8", got)
	}

	if err := stuck.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w, err := b.Alloc()
	if err != nil {
		t.Fatalf("Alloc after subscriber closed: %v", err)
	}
	if err := b.Send(w); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestBusCloseDrains(t *testing.T) {
	b, sub, err := Pair[tick](4096, WithWaitStrategy(YieldWait{}))
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if err := publish(b, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := b.Alloc(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Alloc after Close error = %v, want ErrClosed", err)
	}
	if err := expectTicks(sub, 0, 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.RecvContext(ctx); !errors.Is(err, ErrRingClosed) {
		t.Fatalf("RecvContext after drain error = %v, want ErrRingClosed", err)
	}
	if _, err := b.Subscribe(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Subscribe after Close error = %v, want ErrClosed", err)
	}
}

func TestBusRejectsForeignFrames(t *testing.T) {
	b, sub, err := Pair[tick](4096)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer b.Close()

	_, tok, err := b.ring.Grant(publisherID, 16, FrameHeader{Type: FrameTypeREPLY})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := b.ring.Commit(publisherID, tok, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok, err := sub.TryRecv(); ok || !errors.Is(err, transport.ErrInvalidMsg) {
		t.Fatalf("TryRecv of a reply frame = ok %v, err %v; want ErrInvalidMsg", ok, err)
	}
}
