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

package shm

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sphw/piton/internal/transport"
)

// ErrRingClosed indicates that the ring has been closed.
var ErrRingClosed = fmt.Errorf("ring: %w", transport.ErrClosed)

// Producer lock owners that are not client identities.
const (
	serverOwner = math.MaxUint32 - 2
	adminOwner  = math.MaxUint32 - 1
	publisherID = 0
)

// grantTokens hands out process-wide unique grant tokens. Zero is never
// issued.
var grantTokens atomic.Uint64

// RingState represents a snapshot of ring buffer state for debugging and diagnostics
type RingState struct {
	Capacity    uint64 // Total ring capacity in bytes
	Widx        uint64 // Current write index (monotonic)
	Ridx        uint64 // Read index of the slowest consumer (monotonic)
	Used        uint64 // Bytes currently in ring (Widx - Ridx)
	Signal      uint32 // Frames committed but not taken (single-consumer rings)
	Owner       uint32 // Producer lock word
	Closed      uint32 // Ring closed flag (0 = open, 1 = closed)
	Subscribers int    // Attached cursors (fan-out rings)
}

// FrameRing is a fixed-capacity ring of variable-length frames. Producers
// reserve a frame with Grant, fill it in place and publish it with Commit;
// a producer lock word in the ring header serializes producers, which may
// live in different processes. Consumers read through a Cursor.
//
// A single-consumer ring keeps its read index and signal counter in the
// ring header. A fan-out ring gives every subscribed Cursor its own read
// index and signal counter; free space is measured against the slowest one.
type FrameRing struct {
	hdr      *RingHeader
	data     []byte
	capacity uint64
	mask     uint64
	wait     WaitStrategy
	m        ringMetrics

	fanout  bool
	adminMu sync.Mutex
	subs    atomic.Pointer[[]*Cursor]

	// Grant state. Only the current holder of hdr.owner touches it.
	grantTok    uint64
	grantStart  uint64
	grantLength uint64
	grantHdr    FrameHeader
}

func newFrameRing(hdr *RingHeader, data []byte, wait WaitStrategy, role string, fanout bool) *FrameRing {
	capacity := hdr.Capacity()
	r := &FrameRing{
		hdr:      hdr,
		data:     data,
		capacity: capacity,
		mask:     capacity - 1,
		wait:     wait,
		m:        metricsFor(role),
		fanout:   fanout,
	}
	r.subs.Store(&[]*Cursor{})
	return r
}

// Capacity returns the ring capacity in bytes.
func (r *FrameRing) Capacity() uint64 {
	return r.capacity
}

// Used returns the bytes between the slowest consumer and the write index.
func (r *FrameRing) Used() uint64 {
	w := r.hdr.WriteIndex()
	return w - r.slowest(w)
}

// Available returns the number of free bytes.
func (r *FrameRing) Available() uint64 {
	return r.capacity - r.Used()
}

// IsClosed returns true if the ring is closed.
func (r *FrameRing) IsClosed() bool {
	return r.hdr.Closed()
}

// Close closes the ring. Producers fail from now on; consumers drain the
// frames already committed and then see ErrRingClosed.
func (r *FrameRing) Close() error {
	r.hdr.SetClosed(true)
	if !r.fanout {
		r.wait.Wake(&r.hdr.signal)
		return nil
	}
	for _, c := range *r.subs.Load() {
		r.wait.Wake(c.signal)
	}
	return nil
}

// DebugState returns a snapshot of the current ring state for debugging and
// diagnostics.
func (r *FrameRing) DebugState() RingState {
	widx := r.hdr.WriteIndex()
	ridx := r.slowest(widx)
	return RingState{
		Capacity:    r.capacity,
		Widx:        widx,
		Ridx:        ridx,
		Used:        widx - ridx,
		Signal:      r.hdr.Signal(),
		Owner:       r.hdr.Owner(),
		Closed:      boolWord(r.hdr.Closed()),
		Subscribers: len(*r.subs.Load()),
	}
}

// slowest returns the read index furthest behind widx.
func (r *FrameRing) slowest(widx uint64) uint64 {
	if !r.fanout {
		return r.hdr.ReadIndex()
	}
	slow := widx
	for _, c := range *r.subs.Load() {
		if rd := atomic.LoadUint64(c.ridx); widx-rd > widx-slow {
			slow = rd
		}
	}
	return slow
}

func (r *FrameRing) lock(owner uint32) error {
	want := owner + 1
	for i := 0; ; i++ {
		cur := atomic.LoadUint32(&r.hdr.owner)
		if cur == want {
			return fmt.Errorf("%w: producer %d already holds a grant", transport.ErrTxFail, owner)
		}
		if cur == 0 && atomic.CompareAndSwapUint32(&r.hdr.owner, 0, want) {
			return nil
		}
		if r.hdr.Closed() {
			return ErrRingClosed
		}
		if i%64 == 63 {
			runtime.Gosched()
		}
	}
}

func (r *FrameRing) unlock() {
	atomic.StoreUint32(&r.hdr.owner, 0)
}

func (r *FrameRing) holds(owner uint32, token uint64) bool {
	return token != 0 && atomic.LoadUint32(&r.hdr.owner) == owner+1 && r.grantTok == token
}

// Grant reserves a frame with a zeroed payload of length bytes for owner and
// returns the payload and the grant token. The frame header is fh with the
// length filled in; the message type is set at Commit. The owner holds the
// producer lock until Commit or Abandon.
func (r *FrameRing) Grant(owner uint32, length uint64, fh FrameHeader) ([]byte, uint64, error) {
	if r.hdr.Closed() {
		return nil, 0, ErrRingClosed
	}
	total := frameSize(length)
	if total > r.capacity {
		r.m.capacity.Inc()
		return nil, 0, fmt.Errorf("%w: frame of %d bytes exceeds ring capacity %d", transport.ErrBufferOverflow, total, r.capacity)
	}
	if err := r.lock(owner); err != nil {
		return nil, 0, err
	}

	widx := r.hdr.WriteIndex()
	free := r.capacity - (widx - r.slowest(widx))
	start, need := widx, total
	if toEnd := r.capacity - widx&r.mask; total > toEnd {
		start, need = widx+toEnd, toEnd+total
	}
	if need > free {
		r.unlock()
		r.m.capacity.Inc()
		return nil, 0, fmt.Errorf("%w: need %d bytes, %d free", transport.ErrBufferOverflow, need, free)
	}

	r.grantTok = grantTokens.Add(1)
	r.grantStart = start
	r.grantLength = length
	r.grantHdr = fh

	pos := start&r.mask + frameHeaderSize
	payload := r.data[pos : pos+length : pos+length]
	clear(payload)
	return payload, r.grantTok, nil
}

// Commit publishes the granted frame with the given message type, signals
// the consumers and releases the producer lock.
func (r *FrameRing) Commit(owner uint32, token uint64, msgType uint32) error {
	if !r.holds(owner, token) {
		return fmt.Errorf("%w: no live grant for this buffer", transport.ErrTxFail)
	}

	widx := r.hdr.WriteIndex()
	if r.grantStart != widx {
		// The frame wrapped; mark the tail as padding. A tail shorter than
		// a header is skipped by readers from geometry alone.
		pos := widx & r.mask
		if toEnd := r.capacity - pos; toEnd >= frameHeaderSize {
			encodeFrameHeaderTo(r.data[pos:], FrameHeader{
				Length: uint32(toEnd - frameHeaderSize),
				Type:   FrameTypePAD,
			})
		}
	}

	fh := r.grantHdr
	fh.Length = uint32(r.grantLength)
	fh.MsgType = msgType
	encodeFrameHeaderTo(r.data[r.grantStart&r.mask:], fh)

	atomic.StoreUint64(&r.hdr.widx, r.grantStart+frameSize(r.grantLength))
	r.grantTok = 0
	r.signal()
	r.unlock()
	r.m.committed.Inc()
	return nil
}

// Abandon drops the grant. Nothing of it becomes visible.
func (r *FrameRing) Abandon(owner uint32, token uint64) error {
	if !r.holds(owner, token) {
		return fmt.Errorf("%w: no live grant for this buffer", transport.ErrTxFail)
	}
	r.grantTok = 0
	r.unlock()
	return nil
}

// signal raises the consumers' counters. Called with the producer lock held
// so the subscriber set cannot change underneath.
func (r *FrameRing) signal() {
	if !r.fanout {
		atomic.AddUint32(&r.hdr.signal, 1)
		r.wait.Wake(&r.hdr.signal)
		return
	}
	for _, c := range *r.subs.Load() {
		atomic.AddUint32(c.signal, 1)
		r.wait.Wake(c.signal)
	}
}

// Consumer returns the cursor of a single-consumer ring. Only one goroutine
// may read through it.
func (r *FrameRing) Consumer() *Cursor {
	return &Cursor{
		ring:   r,
		ridx:   &r.hdr.ridx,
		signal: &r.hdr.signal,
	}
}

// Subscribe attaches a new cursor to a fan-out ring, positioned at the
// current write index: it sees only frames committed from now on. It waits
// for an outstanding grant to be committed, so it must not be called by the
// goroutine holding one.
func (r *FrameRing) Subscribe() (*Cursor, error) {
	if !r.fanout {
		return nil, fmt.Errorf("%w: ring has a single consumer", transport.ErrRxFail)
	}
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	if err := r.lock(adminOwner); err != nil {
		return nil, err
	}
	defer r.unlock()

	c := &Cursor{ring: r}
	c.ridx = &c.words.ridx
	c.signal = &c.words.signal
	c.words.ridx = r.hdr.WriteIndex()

	next := append(slices.Clone(*r.subs.Load()), c)
	r.subs.Store(&next)
	return c, nil
}

func (r *FrameRing) unsubscribe(c *Cursor) {
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	if err := r.lock(adminOwner); err != nil {
		// Closed ring: nobody produces any more, detach without the lock.
		r.removeSub(c)
		return
	}
	defer r.unlock()
	r.removeSub(c)
}

func (r *FrameRing) removeSub(c *Cursor) {
	next := slices.DeleteFunc(slices.Clone(*r.subs.Load()), func(s *Cursor) bool { return s == c })
	r.subs.Store(&next)
}

// Frame is one frame taken by a cursor. Payload aliases ring memory and
// stays valid until the cursor releases it.
type Frame struct {
	Header  FrameHeader
	Payload []byte
	Token   uint64
}

type cursorWords struct {
	ridx   uint64
	signal uint32
	closed uint32
}

// Cursor is a consumer's position in a FrameRing. It is used by one
// goroutine at a time. Taking a frame releases the previous one.
type Cursor struct {
	ring   *FrameRing
	ridx   *uint64
	signal *uint32
	words  cursorWords

	next  uint64 // read index past the current frame
	token uint64 // current read grant, 0 if none
}

// ReleaseRead returns the frame identified by token to the producer. Stale
// tokens are ignored.
func (c *Cursor) ReleaseRead(token uint64) {
	if token != 0 && token == c.token {
		c.release()
	}
}

func (c *Cursor) release() {
	if c.token == 0 {
		return
	}
	atomic.StoreUint64(c.ridx, c.next)
	c.token = 0
}

func (c *Cursor) closed() bool {
	return c.ring.hdr.Closed() || atomic.LoadUint32(&c.words.closed) != 0
}

// Pending returns the number of committed frames not yet taken.
func (c *Cursor) Pending() uint32 {
	return atomic.LoadUint32(c.signal)
}

// TryRead takes the next frame if one is committed. ok is false when there
// is none. Frames committed before the ring closed are still delivered.
func (c *Cursor) TryRead() (f Frame, ok bool, err error) {
	c.release()
	if atomic.LoadUint32(c.signal) == 0 {
		if c.closed() {
			return Frame{}, false, ErrRingClosed
		}
		return Frame{}, false, nil
	}
	atomic.AddUint32(c.signal, ^uint32(0))
	f, err = c.take()
	if err != nil {
		return Frame{}, false, err
	}
	c.ring.m.received.Inc()
	return f, true, nil
}

// Read waits for the next frame using the ring's wait strategy.
func (c *Cursor) Read() (Frame, error) {
	for {
		f, ok, err := c.TryRead()
		if ok || err != nil {
			return f, err
		}
		c.ring.wait.Wait(c.signal)
	}
}

// ReadContext is Read bounded by ctx.
func (c *Cursor) ReadContext(ctx context.Context) (Frame, error) {
	for {
		f, ok, err := c.TryRead()
		if ok || err != nil {
			return f, err
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		c.ring.wait.Wait(c.signal)
	}
}

// take parses the frame at the read index, skipping end-of-ring padding.
func (c *Cursor) take() (Frame, error) {
	r := c.ring
	widx := r.hdr.WriteIndex()
	idx := atomic.LoadUint64(c.ridx)
	for {
		if idx > widx || widx-idx < frameHeaderSize {
			return Frame{}, c.underflow(widx, "no committed frame at read index")
		}
		pos := idx & r.mask
		toEnd := r.capacity - pos
		if toEnd < frameHeaderSize {
			idx += toEnd
			continue
		}
		fh, err := decodeFrameHeader(r.data[pos : pos+frameHeaderSize])
		if err != nil {
			return Frame{}, c.underflow(widx, err.Error())
		}
		if fh.Type == FrameTypePAD {
			idx += toEnd
			continue
		}
		size := frameSize(uint64(fh.Length))
		if size > toEnd || size > widx-idx {
			return Frame{}, c.underflow(widx, fmt.Sprintf("frame of %d bytes overruns ring", size))
		}

		c.next = idx + size
		c.token = grantTokens.Add(1)
		start := pos + frameHeaderSize
		end := start + uint64(fh.Length)
		return Frame{Header: fh, Payload: r.data[start:end:end], Token: c.token}, nil
	}
}

// underflow skips everything committed so far. Remaining signal counts for
// the skipped frames surface as further underflows until they drain.
func (c *Cursor) underflow(widx uint64, reason string) error {
	if idx := atomic.LoadUint64(c.ridx); idx < widx {
		atomic.StoreUint64(c.ridx, widx)
	}
	c.ring.m.invalid.Inc()
	return fmt.Errorf("%w: %s", transport.ErrBufferUnderflow, reason)
}

// Close detaches a subscriber cursor so it no longer holds back the
// producer. Closing a single-consumer cursor only stops it.
func (c *Cursor) Close() error {
	if !atomic.CompareAndSwapUint32(&c.words.closed, 0, 1) {
		return nil
	}
	c.release()
	if c.ring.fanout {
		c.ring.unsubscribe(c)
	}
	c.ring.wait.Wake(c.signal)
	return nil
}

// DiagnoseRings reports the state of the named rings and whether any of them
// is nearly full, which usually means a consumer stopped reading.
func DiagnoseRings(rings map[string]*FrameRing) (bool, string) {
	names := make([]string, 0, len(rings))
	for name := range rings {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	stalled := false
	for _, name := range names {
		s := rings[name].DebugState()
		pct := float64(s.Used) / float64(s.Capacity) * 100
		flag := ""
		if pct >= 95.0 {
			stalled = true
			flag = " NEARLY FULL"
		}
		fmt.Fprintf(&b, "%s: Used=%d/%d (%.1f%%) Widx=%d Ridx=%d Signal=%d Owner=%d Closed=%d Subscribers=%d%s\n",
			name, s.Used, s.Capacity, pct, s.Widx, s.Ridx, s.Signal, s.Owner, s.Closed, s.Subscribers, flag)
	}
	if stalled {
		b.WriteString("A nearly full ring means its consumer is not reading or not releasing frames.\n")
	}
	return stalled, b.String()
}
