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

// Package broadcast is a bus backend for subscribers in one process that
// do not share the publisher's memory. Every Send copies the message bytes
// once per subscriber into a bounded queue.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/wire"
)

type options struct {
	logger zerolog.Logger
}

// Option configures a bus.
type Option func(*options)

// WithLogger sets the logger for subscribe, unsubscribe and full queue
// events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type message struct {
	payload []byte
	msgType uint32
}

type queue struct {
	ch chan message
}

// Tx is the publisher. Alloc and Send are called from one goroutine.
type Tx[Msg any] struct {
	capacity int
	log      zerolog.Logger

	mu     sync.Mutex
	subs   []*queue
	closed bool

	nextToken atomic.Uint64
	live      atomic.Uint64 // token of the outstanding Alloc, 0 if none
}

// Rx is one subscriber, used by one goroutine at a time.
type Rx[Msg any] struct {
	tx *Tx[Msg]
	q  *queue
}

// Pair returns a publisher and one subscriber. Each subscriber queue holds
// up to capacity messages.
func Pair[Msg any](capacity int, opts ...Option) (*Tx[Msg], *Rx[Msg], error) {
	if err := wire.Certify[Msg](); err != nil {
		return nil, nil, fmt.Errorf("message type: %w", err)
	}
	if capacity <= 0 {
		return nil, nil, fmt.Errorf("broadcast: capacity must be positive, got %d", capacity)
	}
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	tx := &Tx[Msg]{
		capacity: capacity,
		log:      o.logger.With().Str("component", "broadcast").Logger(),
	}
	rx, err := tx.subscribe()
	if err != nil {
		return nil, nil, err
	}
	return tx, rx, nil
}

// Alloc returns a zeroed message owned by the publisher.
func (t *Tx[Msg]) Alloc() (transport.BufW[Msg], error) {
	token := t.nextToken.Add(1)
	if !t.live.CompareAndSwap(0, token) {
		return transport.BufW[Msg]{}, fmt.Errorf("%w: a message is already allocated", transport.ErrTxFail)
	}
	return transport.NewBufW[Msg](region[Msg](), t, token)
}

// AbandonWrite drops the allocated message.
func (t *Tx[Msg]) AbandonWrite(token uint64) error {
	if token == 0 || !t.live.CompareAndSwap(token, 0) {
		return fmt.Errorf("%w: no live allocation for this buffer", transport.ErrTxFail)
	}
	return nil
}

// Send copies the message to every subscriber. It fails with ErrTxFail,
// delivering to nobody, if any subscriber's queue is full.
func (t *Tx[Msg]) Send(w transport.BufW[Msg]) error {
	if w.Token() == 0 || t.live.Load() != w.Token() {
		return fmt.Errorf("%w: no live allocation for this buffer", transport.ErrTxFail)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("broadcast: %w", transport.ErrClosed)
	}
	for i, q := range t.subs {
		if len(q.ch) == cap(q.ch) {
			t.log.Debug().Int("subscriber", i).Msg("subscriber queue full")
			return fmt.Errorf("%w: subscriber queue full", transport.ErrTxFail)
		}
	}
	for _, q := range t.subs {
		q.ch <- message{payload: clone[Msg](w.Frame()), msgType: w.MsgType()}
	}
	t.live.Store(0)
	return nil
}

// Subscribers returns the number of attached subscribers.
func (t *Tx[Msg]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends the bus. Subscribers drain their queues and then see
// ErrClosed.
func (t *Tx[Msg]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, q := range t.subs {
		close(q.ch)
	}
	t.subs = nil
	return nil
}

func (t *Tx[Msg]) subscribe() (*Rx[Msg], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("broadcast: %w", transport.ErrClosed)
	}
	q := &queue{ch: make(chan message, t.capacity)}
	t.subs = append(t.subs, q)
	t.log.Info().Int("subscribers", len(t.subs)).Msg("subscriber attached")
	return &Rx[Msg]{tx: t, q: q}, nil
}

func (t *Tx[Msg]) unsubscribe(q *queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s == q {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			close(q.ch)
			t.log.Info().Int("subscribers", len(t.subs)).Msg("subscriber detached")
			return
		}
	}
}

// Subscribe attaches another subscriber that sees messages sent from now
// on.
func (r *Rx[Msg]) Subscribe() (*Rx[Msg], error) {
	return r.tx.subscribe()
}

// ReleaseRead is a no-op: every subscriber owns its copy.
func (r *Rx[Msg]) ReleaseRead(uint64) {}

// Recv waits for the next message.
func (r *Rx[Msg]) Recv() (transport.BufR[Msg], error) {
	m, ok := <-r.q.ch
	return r.accept(m, ok)
}

// TryRecv takes the next message if one is queued.
func (r *Rx[Msg]) TryRecv() (transport.BufR[Msg], bool, error) {
	select {
	case m, ok := <-r.q.ch:
		b, err := r.accept(m, ok)
		return b, err == nil, err
	default:
		return transport.BufR[Msg]{}, false, nil
	}
}

// RecvContext is Recv bounded by ctx.
func (r *Rx[Msg]) RecvContext(ctx context.Context) (transport.BufR[Msg], error) {
	select {
	case m, ok := <-r.q.ch:
		return r.accept(m, ok)
	case <-ctx.Done():
		return transport.BufR[Msg]{}, ctx.Err()
	}
}

func (r *Rx[Msg]) accept(m message, ok bool) (transport.BufR[Msg], error) {
	if !ok {
		return transport.BufR[Msg]{}, fmt.Errorf("broadcast: %w", transport.ErrClosed)
	}
	return transport.NewBufR[Msg](m.payload, m.msgType, r, 0)
}

// Close detaches the subscriber. Messages still queued are dropped.
func (r *Rx[Msg]) Close() error {
	r.tx.unsubscribe(r.q)
	return nil
}

// region returns zeroed memory with room for an aligned Msg.
func region[Msg any]() []byte {
	return make([]byte, wire.Sizeof[Msg]()+wire.Alignof[Msg]())
}

// clone copies a typed view into fresh memory with room for realignment.
func clone[Msg any](b []byte) []byte {
	r := region[Msg]()
	off := wire.AlignOffset[Msg](r)
	copy(r[off:], b)
	return r
}
