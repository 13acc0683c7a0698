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

	"github.com/sphw/piton/internal/transport"
)

// TelemetryPublisher publishes on the Telemetry bus and numbers messages
// from 1.
type TelemetryPublisher struct {
	tx  transport.BusTx[Telemetry]
	seq uint64
}

func NewTelemetryPublisher(tx transport.BusTx[Telemetry]) *TelemetryPublisher {
	return &TelemetryPublisher{tx: tx}
}

// Publish allocates a message, lets fill write it in place and sends it.
func (p *TelemetryPublisher) Publish(fill func(*Telemetry)) error {
	w, err := p.tx.Alloc()
	if err != nil {
		return err
	}
	m := w.Get()
	m.Seq.Set(p.seq + 1)
	if fill != nil {
		fill(m)
	}
	w.SetMsgType(TelemetryMsg)
	if err := p.tx.Send(w); err != nil {
		w.Abandon()
		return err
	}
	p.seq++
	return nil
}

type contextBusRx[Msg any] interface {
	RecvContext(ctx context.Context) (transport.BufR[Msg], error)
}

// TelemetrySubscriber reads the Telemetry bus.
type TelemetrySubscriber struct {
	rx transport.BusRx[Telemetry]
}

func NewTelemetrySubscriber(rx transport.BusRx[Telemetry]) *TelemetrySubscriber {
	return &TelemetrySubscriber{rx: rx}
}

// Next waits for the next message. Receivers that support it stop waiting
// when ctx is done.
func (s *TelemetrySubscriber) Next(ctx context.Context) (transport.BufR[Telemetry], error) {
	if rx, ok := s.rx.(contextBusRx[Telemetry]); ok {
		return rx.RecvContext(ctx)
	}
	return s.rx.Recv()
}
