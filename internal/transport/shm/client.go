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
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/wire"
)

// Client is the calling end of a request/reply service. A client has at
// most one call outstanding and is used by one goroutine at a time.
type Client[Arg, Ret any] struct {
	id     uint32
	req    *FrameRing // the server's inbound ring, shared with other clients
	reply  *FrameRing
	cursor *Cursor
	log    zerolog.Logger

	seq    uint64 // sequence number of the latest request
	acked  uint64 // latest request known to be answered
	seg    *segRef
	closed atomic.Bool
}

func newClient[Arg, Ret any](id uint32, req, reply *FrameRing, o options, seg *segRef) *Client[Arg, Ret] {
	return &Client[Arg, Ret]{
		id:     id,
		req:    req,
		reply:  reply,
		cursor: reply.Consumer(),
		log:    o.logger.With().Str("component", "client").Uint32("client", id).Logger(),
		seg:    seg,
	}
}

// ID returns the identity assigned when the client attached.
func (c *Client[Arg, Ret]) ID() uint32 { return c.id }

// AbandonWrite drops an allocated request.
func (c *Client[Arg, Ret]) AbandonWrite(token uint64) error {
	return c.req.Abandon(c.id, token)
}

// Alloc reserves a zeroed request in the inbound ring. The inbound ring is
// locked for other clients until the request is sent or abandoned.
//
// Alloc releases the reply of the previous call and drops replies to calls
// that gave up waiting, so the server always has room for the next reply.
// Frame headers carry 16 bits of the sequence number; Alloc fails with
// ErrTxFail while 65535 earlier requests are still unanswered.
func (c *Client[Arg, Ret]) Alloc() (transport.BufW[Arg], error) {
	if c.closed.Load() {
		return transport.BufW[Arg]{}, fmt.Errorf("%w: client %d is closed", transport.ErrTxFail, c.id)
	}
	c.drain()
	next := c.seq + 1
	if next-c.acked > math.MaxUint16 {
		return transport.BufW[Arg]{}, fmt.Errorf("%w: client %d has %d unanswered requests", transport.ErrTxFail, c.id, c.seq-c.acked)
	}
	payload, token, err := c.req.Grant(c.id, grantLength(wire.Sizeof[Arg](), wire.Alignof[Arg]()), FrameHeader{
		ClientID: c.id,
		Type:     FrameTypeREQUEST,
		Seq:      uint16(next),
	})
	if err != nil {
		return transport.BufW[Arg]{}, err
	}
	c.seq = next
	return transport.NewBufW[Arg](payload, c, token)
}

// drain drops every queued reply. No call is outstanding, so all of them
// are stale.
func (c *Client[Arg, Ret]) drain() {
	for {
		f, ok, err := c.cursor.TryRead()
		if err != nil || !ok {
			c.cursor.release()
			return
		}
		c.observe(f.Header)
		c.log.Debug().
			Stringer("type", f.Header.Type).
			Uint16("seq", f.Header.Seq).
			Msg("dropping stale reply")
	}
}

// observe records that a reply arrived. Replies come in request order, so
// every request up to its sequence number has been answered.
func (c *Client[Arg, Ret]) observe(fh FrameHeader) {
	if fh.Type != FrameTypeREPLY {
		return
	}
	seq := c.seq - uint64(uint16(c.seq)-fh.Seq)
	if seq > c.acked && seq <= c.seq {
		c.acked = seq
	}
}

// Call sends the request and waits for its reply using the configured wait
// strategy.
func (c *Client[Arg, Ret]) Call(w transport.BufW[Arg]) (transport.BufR[Ret], error) {
	return c.CallContext(context.Background(), w)
}

// CallContext is Call bounded by ctx. A reply that arrives after ctx is done
// is discarded by the next call.
func (c *Client[Arg, Ret]) CallContext(ctx context.Context, w transport.BufW[Arg]) (transport.BufR[Ret], error) {
	if c.closed.Load() {
		return transport.BufR[Ret]{}, fmt.Errorf("%w: client %d is closed", transport.ErrTxFail, c.id)
	}
	if err := c.req.Commit(c.id, w.Token(), w.MsgType()); err != nil {
		return transport.BufR[Ret]{}, err
	}
	for {
		f, err := c.cursor.ReadContext(ctx)
		if err != nil {
			return transport.BufR[Ret]{}, err
		}
		if f.Header.Type != FrameTypeREPLY || f.Header.Seq != uint16(c.seq) {
			c.observe(f.Header)
			c.cursor.ReleaseRead(f.Token)
			c.log.Debug().
				Stringer("type", f.Header.Type).
				Uint16("seq", f.Header.Seq).
				Uint16("want", uint16(c.seq)).
				Msg("dropping stale reply")
			continue
		}
		c.acked = c.seq
		r, err := transport.NewBufR[Ret](f.Payload, f.Header.MsgType, c.cursor, f.Token)
		if err != nil {
			c.cursor.ReleaseRead(f.Token)
			c.reply.m.invalid.Inc()
			return transport.BufR[Ret]{}, fmt.Errorf("reply from server: %w", err)
		}
		return r, nil
	}
}

// Close detaches the client. Its reply ring is closed, so the server fails
// to route further replies to it, and later calls return ErrTxFail.
func (c *Client[Arg, Ret]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cursor.release()
	_ = c.reply.Close()
	c.log.Info().Msg("client detached")
	if c.seg != nil {
		return c.seg.release()
	}
	return nil
}
