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

import "errors"

// Error kinds shared by every backend. Backends wrap them with context, so
// callers test with errors.Is.
var (
	// ErrBufferUnderflow indicates a frame shorter than its header or than
	// the payload type it claims to carry.
	ErrBufferUnderflow = errors.New("transport: buffer underflow")
	// ErrBufferOverflow indicates the queue has no room for the requested
	// allocation.
	ErrBufferOverflow = errors.New("transport: buffer overflow")
	// ErrInvalidMsg indicates a received payload failed validation.
	ErrInvalidMsg = errors.New("transport: invalid message")
	// ErrTxFail indicates the producer side could not enqueue.
	ErrTxFail = errors.New("transport: send failed")
	// ErrRxFail indicates the consumer side could not dequeue or route.
	ErrRxFail = errors.New("transport: receive failed")
	// ErrClosed indicates the endpoint or its peer has been closed.
	ErrClosed = errors.New("transport: closed")
)
