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
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/wire"
)

// Bus is the publisher of a one-to-many channel. Every message is written
// once into a fan-out ring and read in place by each subscriber. A slow
// subscriber holds back the publisher: Alloc fails with ErrBufferOverflow
// until it catches up or closes.
//
// Alloc and Send are called from one goroutine.
type Bus[Msg any] struct {
	ring   *FrameRing
	log    zerolog.Logger
	closed atomic.Bool
}

// NewBus returns a bus whose ring holds at least capacity bytes.
func NewBus[Msg any](capacity int, opts ...Option) (*Bus[Msg], error) {
	if err := wire.Certify[Msg](); err != nil {
		return nil, fmt.Errorf("message type: %w", err)
	}
	o := buildOptions(opts)
	ring, err := newHeapFanoutRing(capacity, o.wait)
	if err != nil {
		return nil, err
	}
	return &Bus[Msg]{
		ring: ring,
		log:  o.logger.With().Str("component", "bus").Logger(),
	}, nil
}

// Pair returns a bus with one subscriber already attached.
func Pair[Msg any](capacity int, opts ...Option) (*Bus[Msg], *Subscriber[Msg], error) {
	b, err := NewBus[Msg](capacity, opts...)
	if err != nil {
		return nil, nil, err
	}
	sub, err := b.Subscribe()
	if err != nil {
		return nil, nil, err
	}
	return b, sub, nil
}

// AbandonWrite drops an allocated message.
func (b *Bus[Msg]) AbandonWrite(token uint64) error {
	return b.ring.Abandon(publisherID, token)
}

// Alloc reserves a zeroed message.
func (b *Bus[Msg]) Alloc() (transport.BufW[Msg], error) {
	payload, token, err := b.ring.Grant(publisherID, grantLength(wire.Sizeof[Msg](), wire.Alignof[Msg]()), FrameHeader{
		Type: FrameTypeMESSAGE,
	})
	if err != nil {
		return transport.BufW[Msg]{}, err
	}
	return transport.NewBufW[Msg](payload, b, token)
}

// Send publishes the message to every subscriber attached at this point.
func (b *Bus[Msg]) Send(w transport.BufW[Msg]) error {
	return b.ring.Commit(publisherID, w.Token(), w.MsgType())
}

// Subscribe attaches a subscriber that sees messages sent from now on. It
// waits for an allocated message to be sent, so the publishing goroutine
// must not call it between Alloc and Send.
func (b *Bus[Msg]) Subscribe() (*Subscriber[Msg], error) {
	if b.closed.Load() {
		return nil, ErrRingClosed
	}
	c, err := b.ring.Subscribe()
	if err != nil {
		return nil, err
	}
	n := len(*b.ring.subs.Load())
	b.log.Info().Int("subscribers", n).Msg("subscriber attached")
	return &Subscriber[Msg]{cursor: c, ring: b.ring, log: b.log}, nil
}

// Ring returns the underlying ring for diagnostics.
func (b *Bus[Msg]) Ring() *FrameRing { return b.ring }

// Close stops the bus. Subscribers drain what was sent and then see
// ErrRingClosed.
func (b *Bus[Msg]) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.ring.Close()
}

// Subscriber is one reader of a Bus, used by one goroutine at a time.
// Receiving a message releases the previous one.
type Subscriber[Msg any] struct {
	cursor *Cursor
	ring   *FrameRing
	log    zerolog.Logger
}

// Recv waits for the next message.
func (s *Subscriber[Msg]) Recv() (transport.BufR[Msg], error) {
	f, err := s.cursor.Read()
	if err != nil {
		return transport.BufR[Msg]{}, err
	}
	return s.accept(f)
}

// TryRecv takes the next message if one is queued.
func (s *Subscriber[Msg]) TryRecv() (m transport.BufR[Msg], ok bool, err error) {
	f, ok, err := s.cursor.TryRead()
	if err != nil || !ok {
		return transport.BufR[Msg]{}, false, err
	}
	m, err = s.accept(f)
	return m, err == nil, err
}

// RecvContext is Recv bounded by ctx.
func (s *Subscriber[Msg]) RecvContext(ctx context.Context) (transport.BufR[Msg], error) {
	f, err := s.cursor.ReadContext(ctx)
	if err != nil {
		return transport.BufR[Msg]{}, err
	}
	return s.accept(f)
}

func (s *Subscriber[Msg]) accept(f Frame) (transport.BufR[Msg], error) {
	var err error
	if f.Header.Type != FrameTypeMESSAGE {
		err = fmt.Errorf("%w: unexpected %s frame on bus", transport.ErrInvalidMsg, f.Header.Type)
	} else {
		var m transport.BufR[Msg]
		if m, err = transport.NewBufR[Msg](f.Payload, f.Header.MsgType, s.cursor, f.Token); err == nil {
			return m, nil
		}
	}
	s.cursor.ReleaseRead(f.Token)
	s.ring.m.invalid.Inc()
	s.log.Debug().Err(err).Msg("dropping bus message")
	return transport.BufR[Msg]{}, err
}

// Pending returns the number of messages sent but not yet received.
func (s *Subscriber[Msg]) Pending() uint32 { return s.cursor.Pending() }

// Close detaches the subscriber.
func (s *Subscriber[Msg]) Close() error {
	return s.cursor.Close()
}
