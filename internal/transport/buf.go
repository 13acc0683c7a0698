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
	"fmt"

	"github.com/sphw/piton/internal/wire"
)

// WriteOwner is the backend side of a write grant.
type WriteOwner interface {
	// AbandonWrite drops the grant identified by token without making any
	// of it visible to the consumer.
	AbandonWrite(token uint64) error
}

// ReadOwner is the backend side of a read grant.
type ReadOwner interface {
	// ReleaseRead returns the frame identified by token to the producer.
	// Releasing a token that is no longer current is a no-op.
	ReleaseRead(token uint64)
}

// BufW is a writable view of transport-owned memory typed as T. It is
// obtained from an Alloc and must be handed back to the transport that
// produced it (Call, Send or Responder.Send) or abandoned.
//
// BufW is a small value type; copies refer to the same grant.
type BufW[T any] struct {
	frame   []byte
	owner   WriteOwner
	token   uint64
	msgType uint32
}

// NewBufW wraps region, a granted frame payload with alignment slack, as a
// BufW. The typed view starts at the first address in region aligned for T.
func NewBufW[T any](region []byte, owner WriteOwner, token uint64) (BufW[T], error) {
	frame, err := typedRegion[T](region)
	if err != nil {
		return BufW[T]{}, err
	}
	return BufW[T]{frame: frame, owner: owner, token: token}, nil
}

// Get returns the typed view. Writes through it land directly in the frame.
func (w BufW[T]) Get() *T {
	return wire.FromMutSliceUnchecked[T](w.frame)
}

// Set overwrites the whole value.
func (w BufW[T]) Set(v T) {
	*w.Get() = v
}

// SetMsgType sets the message type discriminant carried in the frame header.
func (w *BufW[T]) SetMsgType(t uint32) { w.msgType = t }

// MsgType returns the message type discriminant.
func (w BufW[T]) MsgType() uint32 { return w.msgType }

// Abandon drops the grant; none of it becomes visible to the consumer.
func (w BufW[T]) Abandon() error {
	if w.owner == nil {
		return ErrTxFail
	}
	return w.owner.AbandonWrite(w.token)
}

// Frame returns the bytes of the typed view.
func (w BufW[T]) Frame() []byte { return w.frame }

// Token identifies the grant to its owner.
func (w BufW[T]) Token() uint64 { return w.token }

// Owner returns the backend holding the grant.
func (w BufW[T]) Owner() WriteOwner { return w.owner }

// Valid reports whether w came from a grant.
func (w BufW[T]) Valid() bool { return w.owner != nil && w.token != 0 }

// BufR is a read-only view of transport-owned memory that has passed
// validation as T. It stays valid until released, explicitly or by the next
// receive on the same endpoint.
type BufR[T any] struct {
	frame   []byte
	owner   ReadOwner
	token   uint64
	msgType uint32
}

// NewBufR validates region as T and wraps it. On failure the error wraps
// ErrBufferUnderflow or ErrInvalidMsg; the caller still owns the frame.
func NewBufR[T any](region []byte, msgType uint32, owner ReadOwner, token uint64) (BufR[T], error) {
	frame, err := typedRegion[T](region)
	if err != nil {
		return BufR[T]{}, err
	}
	if err := wire.Check[T](frame); err != nil {
		return BufR[T]{}, fmt.Errorf("%w: %w", ErrInvalidMsg, err)
	}
	return BufR[T]{frame: frame, owner: owner, token: token, msgType: msgType}, nil
}

// Get returns the typed view.
func (r BufR[T]) Get() *T {
	return wire.FromSliceUnchecked[T](r.frame)
}

// MsgType returns the message type discriminant from the frame header.
func (r BufR[T]) MsgType() uint32 { return r.msgType }

// Bytes returns the bytes of the typed view.
func (r BufR[T]) Bytes() []byte { return r.frame }

// Release hands the frame back to the producer. It is idempotent.
func (r BufR[T]) Release() {
	if r.owner != nil {
		r.owner.ReleaseRead(r.token)
	}
}

func typedRegion[T any](region []byte) ([]byte, error) {
	off := wire.AlignOffset[T](region)
	size := wire.Sizeof[T]()
	if off+size > len(region) {
		return nil, fmt.Errorf("%w: region of %d bytes cannot hold %d aligned bytes", ErrBufferUnderflow, len(region), size)
	}
	return region[off : off+size : off+size], nil
}
