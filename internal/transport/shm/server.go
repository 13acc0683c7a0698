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
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/wire"
)

// ErrNoClientSlots is returned when every reply ring of a segment has been
// claimed.
var ErrNoClientSlots = fmt.Errorf("%w: no free client slots", transport.ErrRxFail)

// Server is the receiving end of a request/reply service. All clients write
// requests into one inbound ring; each client has its own reply ring.
//
// Recv, TryRecv and RecvContext must be called from one goroutine. Taking a
// request releases the previous one, and the reply to a request must be sent
// or abandoned before the next request from the same client is taken.
//
// When the caller's reply ring has no room for the reply, the receive fails
// with ErrBufferOverflow and keeps the request; the next receive retries it
// before taking anything else from the inbound ring.
type Server[Arg, Ret any] struct {
	opts    options
	log     zerolog.Logger
	inbound *FrameRing
	cursor  *Cursor

	mu      sync.Mutex // serializes attach
	replies atomic.Pointer[[]*replyEdge[Ret]]

	seg    *segRef // nil for heap servers
	closed atomic.Bool

	// held is a request taken from the inbound ring whose reply did not fit
	// yet. It is handed out again by the next receive.
	held    Frame
	holding bool
}

// NewServer returns a server whose rings live in process memory.
func NewServer[Arg, Ret any](opts ...Option) (*Server[Arg, Ret], error) {
	if err := certifyPair[Arg, Ret](); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	inbound, err := NewHeapRing(o.capacity, o.wait, RoleRequest)
	if err != nil {
		return nil, err
	}
	if err := checkFit[Arg, Ret](inbound.Capacity()); err != nil {
		return nil, err
	}
	return newServer[Arg, Ret](o, inbound, nil), nil
}

func newServer[Arg, Ret any](o options, inbound *FrameRing, seg *segRef) *Server[Arg, Ret] {
	s := &Server[Arg, Ret]{
		opts:    o,
		log:     o.logger.With().Str("component", "server").Logger(),
		inbound: inbound,
		cursor:  inbound.Consumer(),
		seg:     seg,
	}
	s.replies.Store(&[]*replyEdge[Ret]{})
	return s
}

func certifyPair[Arg, Ret any]() error {
	if err := wire.Certify[Arg](); err != nil {
		return fmt.Errorf("request type: %w", err)
	}
	if err := wire.Certify[Ret](); err != nil {
		return fmt.Errorf("reply type: %w", err)
	}
	return nil
}

// checkFit fails when a ring of the given capacity cannot hold one request
// or one reply frame.
func checkFit[Arg, Ret any](capacity uint64) error {
	for _, f := range []struct {
		what string
		size uint64
	}{
		{"request", frameSize(grantLength(wire.Sizeof[Arg](), wire.Alignof[Arg]()))},
		{"reply", frameSize(grantLength(wire.Sizeof[Ret](), wire.Alignof[Ret]()))},
	} {
		if f.size > capacity {
			return fmt.Errorf("%w: %s frame of %d bytes exceeds ring capacity %d", transport.ErrBufferOverflow, f.what, f.size, capacity)
		}
	}
	return nil
}

// Client attaches a new client in this process. Heap servers grow their
// reply ring set; segment servers claim the next free slot.
func (s *Server[Arg, Ret]) Client() (*Client[Arg, Ret], error) {
	if s.closed.Load() {
		return nil, ErrRingClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var edge *replyEdge[Ret]
	if s.seg != nil {
		id, ok := s.seg.seg.H.claimClient()
		if !ok {
			return nil, ErrNoClientSlots
		}
		edge = (*s.replies.Load())[id]
		s.seg.acquire()
	} else {
		ring, err := NewHeapRing(s.opts.capacity, s.opts.wait, RoleReply)
		if err != nil {
			return nil, err
		}
		cur := *s.replies.Load()
		edge = &replyEdge[Ret]{ring: ring, id: uint32(len(cur))}
		next := append(slices.Clone(cur), edge)
		s.replies.Store(&next)
	}

	s.log.Info().Uint32("client", edge.id).Msg("client attached")
	return newClient[Arg, Ret](edge.id, s.inbound, edge.ring, s.opts, s.seg), nil
}

// Clients returns the number of clients attached so far.
func (s *Server[Arg, Ret]) Clients() int {
	if s.seg != nil {
		if s.closed.Load() {
			return 0
		}
		return int(s.seg.seg.H.Clients())
	}
	return len(*s.replies.Load())
}

func (s *Server[Arg, Ret]) edge(id uint32) (*replyEdge[Ret], bool) {
	edges := *s.replies.Load()
	if int(id) >= len(edges) {
		return nil, false
	}
	if s.seg != nil && id >= s.seg.seg.H.Clients() {
		return nil, false
	}
	return edges[id], true
}

// Recv waits for the next request using the configured wait strategy.
func (s *Server[Arg, Ret]) Recv() (transport.Recv[Arg, Ret], error) {
	if s.closed.Load() {
		return transport.Recv[Arg, Ret]{}, ErrRingClosed
	}
	if f, ok := s.takeHeld(); ok {
		return s.accept(f)
	}
	f, err := s.cursor.Read()
	if err != nil {
		return transport.Recv[Arg, Ret]{}, err
	}
	return s.accept(f)
}

// TryRecv takes the next request if one is queued. ok is false when the
// inbound ring is empty or the frame was dropped.
func (s *Server[Arg, Ret]) TryRecv() (r transport.Recv[Arg, Ret], ok bool, err error) {
	if s.closed.Load() {
		return transport.Recv[Arg, Ret]{}, false, ErrRingClosed
	}
	if f, ok := s.takeHeld(); ok {
		r, err = s.accept(f)
		return r, err == nil, err
	}
	f, ok, err := s.cursor.TryRead()
	if err != nil || !ok {
		return transport.Recv[Arg, Ret]{}, false, err
	}
	r, err = s.accept(f)
	return r, err == nil, err
}

// RecvContext is Recv bounded by ctx.
func (s *Server[Arg, Ret]) RecvContext(ctx context.Context) (transport.Recv[Arg, Ret], error) {
	if s.closed.Load() {
		return transport.Recv[Arg, Ret]{}, ErrRingClosed
	}
	if f, ok := s.takeHeld(); ok {
		return s.accept(f)
	}
	f, err := s.cursor.ReadContext(ctx)
	if err != nil {
		return transport.Recv[Arg, Ret]{}, err
	}
	return s.accept(f)
}

func (s *Server[Arg, Ret]) takeHeld() (Frame, bool) {
	if !s.holding {
		return Frame{}, false
	}
	f := s.held
	s.held, s.holding = Frame{}, false
	return f, true
}

// accept validates a request frame and reserves its reply.
func (s *Server[Arg, Ret]) accept(f Frame) (transport.Recv[Arg, Ret], error) {
	fh := f.Header
	if fh.Type != FrameTypeREQUEST {
		return s.drop(f, fmt.Errorf("%w: unexpected %s frame on inbound ring", transport.ErrInvalidMsg, fh.Type))
	}
	req, err := transport.NewBufR[Arg](f.Payload, fh.MsgType, s.cursor, f.Token)
	if err != nil {
		return s.drop(f, fmt.Errorf("request from client %d: %w", fh.ClientID, err))
	}
	edge, ok := s.edge(fh.ClientID)
	if !ok {
		return s.drop(f, fmt.Errorf("%w: request from unknown client %d", transport.ErrRxFail, fh.ClientID))
	}

	payload, token, err := edge.ring.Grant(serverOwner, grantLength(wire.Sizeof[Ret](), wire.Alignof[Ret]()), FrameHeader{
		ClientID: fh.ClientID,
		Type:     FrameTypeREPLY,
		Seq:      fh.Seq,
	})
	if errors.Is(err, transport.ErrBufferOverflow) {
		s.held, s.holding = f, true
		s.log.Debug().Err(err).Uint32("client", fh.ClientID).Msg("reply ring full, holding request")
		return transport.Recv[Arg, Ret]{}, fmt.Errorf("reply to client %d: %w", fh.ClientID, err)
	}
	if err != nil {
		s.cursor.ReleaseRead(f.Token)
		if errors.Is(err, transport.ErrClosed) {
			err = fmt.Errorf("%w: client %d detached: %w", transport.ErrRxFail, fh.ClientID, err)
		}
		s.log.Debug().Err(err).Uint32("client", fh.ClientID).Msg("reply grant failed")
		return transport.Recv[Arg, Ret]{}, err
	}
	resp, err := transport.NewBufW[Ret](payload, edge, token)
	if err != nil {
		_ = edge.ring.Abandon(serverOwner, token)
		s.cursor.ReleaseRead(f.Token)
		return transport.Recv[Arg, Ret]{}, err
	}
	return transport.Recv[Arg, Ret]{Req: req, Resp: resp, Responder: edge}, nil
}

func (s *Server[Arg, Ret]) drop(f Frame, err error) (transport.Recv[Arg, Ret], error) {
	s.cursor.ReleaseRead(f.Token)
	s.inbound.m.invalid.Inc()
	s.log.Debug().Err(err).
		Uint32("client", f.Header.ClientID).
		Uint16("seq", f.Header.Seq).
		Msg("dropping request frame")
	return transport.Recv[Arg, Ret]{}, err
}

// Rings returns the server's rings by name for DiagnoseRings.
func (s *Server[Arg, Ret]) Rings() map[string]*FrameRing {
	rings := map[string]*FrameRing{"inbound": s.inbound}
	for _, e := range *s.replies.Load() {
		rings[fmt.Sprintf("reply-%d", e.id)] = e.ring
	}
	return rings
}

// Close closes every ring. Clients see ErrRingClosed once they have drained
// their replies. A segment server also marks the segment closed and removes
// its name; the mapping is released when the last in-process user is done,
// so Close must not race with a Recv on a segment server.
func (s *Server[Arg, Ret]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.inbound.Close()
	for _, e := range *s.replies.Load() {
		_ = e.ring.Close()
	}
	s.log.Info().Msg("server closed")
	if s.seg == nil {
		return nil
	}
	s.seg.seg.H.SetClosed(true)
	s.seg.seg.H.SetServerReady(false)
	err := RemoveSegment(s.seg.name)
	if rerr := s.seg.release(); err == nil {
		err = rerr
	}
	return err
}

// replyEdge is the server's producer handle on one client's reply ring.
type replyEdge[Ret any] struct {
	ring *FrameRing
	id   uint32
}

func (e *replyEdge[Ret]) AbandonWrite(token uint64) error {
	return e.ring.Abandon(serverOwner, token)
}

// Send commits the reply and signals the client.
func (e *replyEdge[Ret]) Send(w transport.BufW[Ret]) error {
	return e.ring.Commit(serverOwner, w.Token(), w.MsgType())
}
