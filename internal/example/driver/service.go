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

package driver

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/wire"
)

// ErrMethodFailed is returned by DriverClient when the server reports that
// the method failed or is unknown.
var ErrMethodFailed = errors.New("driver: method failed")

// DriverService implements the Driver methods. Handlers fill resp in place;
// it starts zeroed.
type DriverService interface {
	Xyz(msg *Bar, resp *Test) error
	Echo(msg *Echo, resp *Echo) error
}

// contextRx is implemented by receivers that can stop waiting.
type contextRx[Arg, Ret any] interface {
	RecvContext(ctx context.Context) (transport.Recv[Arg, Ret], error)
}

// DriverServer dispatches requests from a service receiver to a
// DriverService.
type DriverServer struct {
	rx  transport.ServiceRx[DriverReq, DriverResp]
	svc DriverService
	log zerolog.Logger
}

// NewDriverServer returns a server for svc reading from rx.
func NewDriverServer(rx transport.ServiceRx[DriverReq, DriverResp], svc DriverService, log zerolog.Logger) *DriverServer {
	return &DriverServer{rx: rx, svc: svc, log: log.With().Str("service", "Driver").Logger()}
}

// Run serves requests until ctx is done or the receiver closes. Invalid
// requests are skipped; a request whose reply does not fit yet is retried.
func (s *DriverServer) Run(ctx context.Context) error {
	for {
		r, err := s.recv(ctx)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrInvalidMsg), errors.Is(err, transport.ErrRxFail), errors.Is(err, transport.ErrBufferUnderflow):
			s.log.Debug().Err(err).Msg("skipping request")
			continue
		case errors.Is(err, transport.ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, transport.ErrBufferOverflow):
			// The request is kept and retried once the caller drains its
			// reply ring.
			runtime.Gosched()
			continue
		default:
			return err
		}
		if err := s.dispatch(r); err != nil {
			return err
		}
	}
}

func (s *DriverServer) recv(ctx context.Context) (transport.Recv[DriverReq, DriverResp], error) {
	if rx, ok := s.rx.(contextRx[DriverReq, DriverResp]); ok {
		return rx.RecvContext(ctx)
	}
	return s.rx.Recv()
}

// dispatch runs one method and sends its reply. A method's failure is
// reported to the caller, not returned.
func (s *DriverServer) dispatch(r transport.Recv[DriverReq, DriverResp]) error {
	req, resp := r.Req.Get(), r.Resp.Get()
	method := r.MsgType()

	var err error
	switch {
	case req.Method.Get() != method:
		err = fmt.Errorf("request method %d does not match message type %d", req.Method.Get(), method)
	case method == DriverReqXyz:
		err = s.svc.Xyz(wire.ArmOf[Bar](&req.Body), wire.ArmOf[Test](&resp.Body))
	case method == DriverReqEcho:
		err = s.svc.Echo(wire.ArmOf[Echo](&req.Body), wire.ArmOf[Echo](&resp.Body))
	default:
		err = fmt.Errorf("unknown method %d", method)
	}

	if err != nil {
		s.log.Debug().Err(err).Uint32("method", method).Msg("method failed")
		*resp = DriverResp{}
		return r.Reply(DriverStatusError)
	}
	resp.Method.Set(method)
	return r.Reply(method)
}

// Reply is a typed view of one method's result inside the reply frame.
type Reply[T any] struct {
	buf transport.BufR[DriverResp]
	val *T
}

// Get returns the result. It is valid until Release or the next call on
// the same client.
func (r Reply[T]) Get() *T { return r.val }

// Release hands the reply frame back to the transport.
func (r Reply[T]) Release() { r.buf.Release() }

// DriverClient calls Driver methods over a service transmitter.
type DriverClient struct {
	tx transport.ServiceTx[DriverReq, DriverResp]
}

func NewDriverClient(tx transport.ServiceTx[DriverReq, DriverResp]) *DriverClient {
	return &DriverClient{tx: tx}
}

// Xyz calls Driver.xyz.
func (c *DriverClient) Xyz(msg Bar) (Reply[Test], error) {
	r, err := call(c.tx, DriverReqXyz, msg)
	if err != nil {
		return Reply[Test]{}, err
	}
	return Reply[Test]{buf: r, val: wire.ArmOf[Test](&r.Get().Body)}, nil
}

// Echo calls Driver.echo.
func (c *DriverClient) Echo(nonce uint64) (Reply[Echo], error) {
	r, err := call(c.tx, DriverReqEcho, Echo{Nonce: wire.NewU64le(nonce)})
	if err != nil {
		return Reply[Echo]{}, err
	}
	return Reply[Echo]{buf: r, val: wire.ArmOf[Echo](&r.Get().Body)}, nil
}

func call[A any](tx transport.ServiceTx[DriverReq, DriverResp], method uint32, arg A) (transport.BufR[DriverResp], error) {
	w, err := tx.Alloc()
	if err != nil {
		return transport.BufR[DriverResp]{}, err
	}
	req := w.Get()
	req.Method.Set(method)
	wire.SetArm(&req.Body, arg)
	w.SetMsgType(method)

	r, err := tx.Call(w)
	if err != nil {
		return transport.BufR[DriverResp]{}, err
	}
	if r.MsgType() != method || r.Get().Method.Get() != method {
		r.Release()
		return transport.BufR[DriverResp]{}, fmt.Errorf("%w: method %d", ErrMethodFailed, method)
	}
	return r, nil
}
