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

// Package transport defines the typed buffers and the protocol interfaces
// that service and bus backends implement.
//
// A service call moves through Idle, Allocated (the client holds a BufW from
// Alloc), Sent (Call is waiting for the reply) and Completed (Call returned a
// BufR). One call may be outstanding per client.
package transport

// ServiceTx is the client side of a request/reply service.
type ServiceTx[Arg, Ret any] interface {
	// Alloc reserves space for one request.
	Alloc() (BufW[Arg], error)
	// Call commits the request, waits for the correlated reply and returns
	// it validated as Ret.
	Call(w BufW[Arg]) (BufR[Ret], error)
}

// ServiceRx is the server side of a request/reply service.
type ServiceRx[Arg, Ret any] interface {
	// Recv waits for the next request.
	Recv() (Recv[Arg, Ret], error)
}

// Responder sends the reply to one received request.
type Responder[Ret any] interface {
	// Send commits the reply. A reply can be sent once.
	Send(w BufW[Ret]) error
}

// Recv is one received request: the validated request, a zeroed reply buffer
// already reserved on the caller's reply queue, and the responder that sends
// it. A handler that never calls Send leaves its client waiting.
type Recv[Arg, Ret any] struct {
	Req       BufR[Arg]
	Resp      BufW[Ret]
	Responder Responder[Ret]
}

// MsgType returns the request's message type discriminant.
func (r Recv[Arg, Ret]) MsgType() uint32 { return r.Req.MsgType() }

// Reply sends Resp with the given message type.
func (r Recv[Arg, Ret]) Reply(msgType uint32) error {
	r.Resp.SetMsgType(msgType)
	return r.Responder.Send(r.Resp)
}

// BusTx is the publisher side of a bus.
type BusTx[Msg any] interface {
	Alloc() (BufW[Msg], error)
	Send(w BufW[Msg]) error
}

// BusRx is one subscriber of a bus.
type BusRx[Msg any] interface {
	Recv() (BufR[Msg], error)
}
