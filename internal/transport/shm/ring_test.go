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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/sphw/piton/internal/transport"
)

func newTestRing(t *testing.T, capacity int) *FrameRing {
	t.Helper()
	r, err := NewHeapRing(capacity, YieldWait{}, RoleRequest)
	if err != nil {
		t.Fatalf("NewHeapRing(%d): %v", capacity, err)
	}
	return r
}

// put writes one frame carrying payload and commits it.
func put(t *testing.T, r *FrameRing, owner uint32, payload []byte, msgType uint32) {
	t.Helper()
	buf, tok, err := r.Grant(owner, uint64(len(payload)), FrameHeader{ClientID: owner, Type: FrameTypeMESSAGE})
	if err != nil {
		t.Fatalf("Grant(%d bytes): %v", len(payload), err)
	}
	copy(buf, payload)
	if err := r.Commit(owner, tok, msgType); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func mustTake(t *testing.T, c *Cursor) Frame {
	t.Helper()
	f, ok, err := c.TryRead()
	if err != nil {
		t.Fatalf("TryRead: %v", err)
	}
	if !ok {
		t.Fatal("TryRead: no frame")
	}
	return f
}

func TestFrameRingBasics(t *testing.T) {
	r := newTestRing(t, 4096)
	c := r.Consumer()

	if _, ok, err := c.TryRead(); ok || err != nil {
		t.Fatalf("TryRead on empty ring = ok %v, err %v", ok, err)
	}

	put(t, r, 3, []byte("hello world"), 9)
	if got := c.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1", got)
	}

	f := mustTake(t, c)
	want := FrameHeader{Length: 11, ClientID: 3, Type: FrameTypeMESSAGE, MsgType: 9}
	if diff := cmp.Diff(want, f.Header); diff != "" {
		t.Fatalf("frame header mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(f.Payload, []byte("hello world")) {
		t.Fatalf("payload = %q", f.Payload)
	}
	if r.Used() != frameSize(11) {
		t.Fatalf("Used() before release = %d, want %d", r.Used(), frameSize(11))
	}
	c.ReleaseRead(f.Token)
	if r.Used() != 0 {
		t.Fatalf("Used() after release = %d, want 0", r.Used())
	}
	// A second release of the same token is a no-op.
	c.ReleaseRead(f.Token)
}

func TestFrameRingGrantIsZeroed(t *testing.T) {
	r := newTestRing(t, 64)
	c := r.Consumer()

	put(t, r, 1, bytes.Repeat([]byte{0xFF}, 40), 0)
	mustTake(t, c)
	c.release()

	buf, tok, err := r.Grant(1, 40, FrameHeader{Type: FrameTypeMESSAGE})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !bytes.Equal(buf, make([]byte, 40)) {
		t.Fatalf("granted payload not zeroed: % x", buf)
	}
	if err := r.Abandon(1, tok); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
}

func TestFrameRingWrapWritesPad(t *testing.T) {
	r := newTestRing(t, 256)
	c := r.Consumer()
	payload := make([]byte, 72) // 88 bytes per frame

	put(t, r, 1, payload, 0)
	put(t, r, 1, payload, 0)
	mustTake(t, c)
	mustTake(t, c)
	c.release()

	// 80 bytes remain before the end; the next frame goes to offset 0.
	for i := range payload {
		payload[i] = byte(i)
	}
	put(t, r, 1, payload, 5)

	pad, err := decodeFrameHeader(r.data[176:])
	if err != nil {
		t.Fatalf("decode pad: %v", err)
	}
	if pad.Type != FrameTypePAD || pad.Length != 64 {
		t.Fatalf("pad header = %+v, want PAD of 64 bytes", pad)
	}

	f := mustTake(t, c)
	if f.Header.MsgType != 5 || !bytes.Equal(f.Payload, payload) {
		t.Fatalf("wrapped frame = %+v", f.Header)
	}
	if s := r.DebugState(); s.Widx != 256+88 {
		t.Fatalf("Widx = %d, want %d", s.Widx, 256+88)
	}
}

func TestFrameRingShortTailSkipped(t *testing.T) {
	r := newTestRing(t, 64)
	c := r.Consumer()
	payload := make([]byte, 40) // 56 bytes per frame, leaving an 8 byte tail

	put(t, r, 1, payload, 1)
	mustTake(t, c)
	c.release()

	payload[0] = 0xAB
	put(t, r, 1, payload, 2)
	f := mustTake(t, c)
	if f.Header.MsgType != 2 || f.Payload[0] != 0xAB {
		t.Fatalf("frame after short tail = %+v", f.Header)
	}
}

func TestFrameRingAbandon(t *testing.T) {
	r := newTestRing(t, 4096)
	c := r.Consumer()

	_, tok, err := r.Grant(2, 32, FrameHeader{Type: FrameTypeMESSAGE})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := r.Abandon(2, tok); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, ok, _ := c.TryRead(); ok {
		t.Fatal("abandoned frame became visible")
	}
	if r.Used() != 0 {
		t.Fatalf("Used() = %d after abandon", r.Used())
	}
	if err := r.Commit(2, tok, 0); !errors.Is(err, transport.ErrTxFail) {
		t.Fatalf("Commit after Abandon error = %v, want ErrTxFail", err)
	}
	if err := r.Abandon(2, tok); !errors.Is(err, transport.ErrTxFail) {
		t.Fatalf("second Abandon error = %v, want ErrTxFail", err)
	}
}

func TestFrameRingSecondGrantFails(t *testing.T) {
	r := newTestRing(t, 4096)

	_, tok, err := r.Grant(4, 8, FrameHeader{})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, _, err := r.Grant(4, 8, FrameHeader{}); !errors.Is(err, transport.ErrTxFail) {
		t.Fatalf("second Grant error = %v, want ErrTxFail", err)
	}
	if err := r.Commit(5, tok, 0); !errors.Is(err, transport.ErrTxFail) {
		t.Fatalf("Commit by other owner error = %v, want ErrTxFail", err)
	}
	if err := r.Commit(4, tok, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.Commit(4, tok, 0); !errors.Is(err, transport.ErrTxFail) {
		t.Fatalf("second Commit error = %v, want ErrTxFail", err)
	}
}

func TestFrameRingOverflow(t *testing.T) {
	r := newTestRing(t, 256)

	if _, _, err := r.Grant(1, 256, FrameHeader{}); !errors.Is(err, transport.ErrBufferOverflow) {
		t.Fatalf("oversized Grant error = %v, want ErrBufferOverflow", err)
	}

	// Eight 32-byte frames fill the ring.
	for i := 0; i < 8; i++ {
		put(t, r, 1, make([]byte, 16), 0)
	}
	if _, _, err := r.Grant(1, 16, FrameHeader{}); !errors.Is(err, transport.ErrBufferOverflow) {
		t.Fatalf("Grant on full ring error = %v, want ErrBufferOverflow", err)
	}
	// The failed grant must not keep the producer lock.
	if owner := r.DebugState().Owner; owner != 0 {
		t.Fatalf("owner word = %d after failed grant", owner)
	}

	c := r.Consumer()
	mustTake(t, c)
	c.release()
	put(t, r, 1, make([]byte, 16), 0)
}

func TestFrameRingCloseDrains(t *testing.T) {
	r := newTestRing(t, 4096)
	c := r.Consumer()

	put(t, r, 1, []byte("last"), 0)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := r.Grant(1, 8, FrameHeader{}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Grant after Close error = %v, want ErrClosed", err)
	}

	f := mustTake(t, c)
	if string(f.Payload) != "last" {
		t.Fatalf("drained payload = %q", f.Payload)
	}
	if _, err := c.Read(); !errors.Is(err, ErrRingClosed) {
		t.Fatalf("Read after drain error = %v, want ErrRingClosed", err)
	}
}

func TestFrameRingCloseUnblocksReader(t *testing.T) {
	r := newTestRing(t, 4096)
	c := r.Consumer()

	done := make(chan error, 1)
	go func() {
		_, err := c.Read()
		done <- err
	}()
	time.AfterFunc(50*time.Millisecond, func() { r.Close() })

	select {
	case err := <-done:
		if !errors.Is(err, ErrRingClosed) {
			t.Fatalf("Read error = %v, want ErrRingClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read should have returned after ring close")
	}
}

func TestFrameRingReadContext(t *testing.T) {
	r := newTestRing(t, 4096)
	c := r.Consumer()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.ReadContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadContext error = %v, want DeadlineExceeded", err)
	}
}

func TestFrameRingUnderflow(t *testing.T) {
	r := newTestRing(t, 4096)
	c := r.Consumer()

	put(t, r, 1, make([]byte, 8), 0)
	put(t, r, 1, make([]byte, 8), 0)
	// Corrupt the first header so its length overruns what was committed.
	encodeFrameHeaderTo(r.data, FrameHeader{Length: 1000, Type: FrameTypeMESSAGE})

	if _, _, err := c.TryRead(); !errors.Is(err, transport.ErrBufferUnderflow) {
		t.Fatalf("TryRead error = %v, want ErrBufferUnderflow", err)
	}
	if r.Used() != 0 {
		t.Fatalf("Used() = %d, want the reader skipped to the write index", r.Used())
	}
	// The second frame's signal surfaces once more, then the ring is empty.
	if _, _, err := c.TryRead(); !errors.Is(err, transport.ErrBufferUnderflow) {
		t.Fatalf("second TryRead error = %v, want ErrBufferUnderflow", err)
	}
	if _, ok, err := c.TryRead(); ok || err != nil {
		t.Fatalf("third TryRead = ok %v, err %v", ok, err)
	}

	put(t, r, 1, []byte("fine"), 0)
	if f := mustTake(t, c); string(f.Payload) != "fine" {
		t.Fatalf("payload after recovery = %q", f.Payload)
	}
}

func TestFrameRingConcurrentProducers(t *testing.T) {
	const (
		producers = 4
		perProd   = 200
	)
	r := newTestRing(t, 1024)
	c := r.Consumer()

	var g errgroup.Group
	for p := uint32(1); p <= producers; p++ {
		g.Go(func() error {
			for i := uint64(0); i < perProd; {
				buf, tok, err := r.Grant(p, 8, FrameHeader{ClientID: p, Type: FrameTypeMESSAGE})
				if errors.Is(err, transport.ErrBufferOverflow) {
					runtime.Gosched()
					continue
				}
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint64(buf, i)
				if err := r.Commit(p, tok, 0); err != nil {
					return err
				}
				i++
			}
			return nil
		})
	}

	next := make(map[uint32]uint64)
	for n := 0; n < producers*perProd; n++ {
		f, err := c.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		id := f.Header.ClientID
		if got := binary.LittleEndian.Uint64(f.Payload); got != next[id] {
			t.Fatalf("producer %d: got sequence %d, want %d", id, got, next[id])
		}
		next[id]++
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("producer: %v", err)
	}
}

func TestFrameRingSingleConsumerCannotSubscribe(t *testing.T) {
	r := newTestRing(t, 4096)
	if _, err := r.Subscribe(); !errors.Is(err, transport.ErrRxFail) {
		t.Fatalf("Subscribe error = %v, want ErrRxFail", err)
	}
}

func TestDiagnoseRings(t *testing.T) {
	idle := newTestRing(t, 256)
	full := newTestRing(t, 256)
	for i := 0; i < 8; i++ {
		put(t, full, 1, make([]byte, 16), 0)
	}

	stalled, report := DiagnoseRings(map[string]*FrameRing{"idle": idle, "full": full})
	if !stalled {
		t.Fatalf("DiagnoseRings did not flag the full ring:\n%s", report)
	}
	lines := strings.Split(strings.TrimSpace(report), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "full:") || !strings.HasSuffix(lines[0], "NEARLY FULL") {
		t.Fatalf("unexpected report:\n%s", report)
	}
	if strings.Contains(lines[1], "NEARLY FULL") {
		t.Fatalf("idle ring flagged:\n%s", report)
	}
}
