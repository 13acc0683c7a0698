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

// Package driver holds the wire types and typed stubs of the Driver service
// and the Telemetry bus, in the shape a code generator emits them:
//
//	struct "Test" {
//	  field "foo" "u16"
//	  field "bar" "u16"
//	  field "boolean" "bool"
//	  field "array" "[u8; 20]"
//	  field "samples" "vec<u32, 6>"
//	}
//	enum "Bar" {
//	  variant "test"
//	  variant "b" "u16"
//	}
//	struct "Echo" {
//	  field "nonce" "u64"
//	}
//	service "Driver" {
//	  method "xyz" "Bar" "Test"
//	  method "echo" "Echo" "Echo"
//	}
//	bus "Telemetry" "Telemetry"
package driver

import (
	"fmt"

	"github.com/sphw/piton/internal/wire"
)

// Bar variants.
const (
	BarTagTest uint8 = 0
	BarTagB    uint8 = 1
)

// Bar is a tagged union of Test (no payload) and B(u16).
type Bar struct {
	Tag  uint8
	Pad  [1]uint8
	Body [1]wire.U16le
}

// BarTest returns the Test variant.
func BarTest() Bar { return Bar{Tag: BarTagTest} }

// BarB returns the B variant holding v.
func BarB(v uint16) Bar {
	b := Bar{Tag: BarTagB}
	wire.SetArm(&b.Body, wire.NewU16le(v))
	return b
}

// B returns the payload of the B variant.
func (b *Bar) B() (uint16, bool) {
	if b.Tag != BarTagB {
		return 0, false
	}
	return wire.ArmOf[wire.U16le](&b.Body).Get(), true
}

func (b *Bar) CheckBytes() error {
	switch b.Tag {
	case BarTagTest, BarTagB:
		return nil
	default:
		return fmt.Errorf("%w: Bar tag %d", wire.ErrInvalidValue, b.Tag)
	}
}

func (b Bar) String() string {
	if v, ok := b.B(); ok {
		return fmt.Sprintf("B(%#x)", v)
	}
	return "Test"
}

// Test is the reply of Driver.xyz.
type Test struct {
	Foo     wire.U16le
	Bar     wire.U16le
	Boolean wire.Bool
	Array   [20]uint8
	Pad     [7]uint8
	Samples wire.Vec[wire.U32le, [6]wire.U32le]
}

func (t *Test) CheckBytes() error {
	return wire.CheckAll(&t.Boolean, &t.Samples)
}

// Echo carries a nonce to Driver.echo and back.
type Echo struct {
	Nonce wire.U64le
}

// Driver method discriminants. They travel as the frame message type and
// in the Method field of requests and replies. A reply whose message type
// is DriverStatusError reports a failed or unknown method.
const (
	DriverStatusError uint32 = 0
	DriverReqXyz      uint32 = 1
	DriverReqEcho     uint32 = 2
)

// DriverReq is the request of every Driver method; Method selects the arm
// of Body.
type DriverReq struct {
	Method wire.U32le
	Pad    [4]uint8
	Body   [1]wire.U64le
}

func (r *DriverReq) CheckBytes() error {
	switch m := r.Method.Get(); m {
	case DriverStatusError, DriverReqEcho:
		return nil
	case DriverReqXyz:
		return wire.ArmOf[Bar](&r.Body).CheckBytes()
	default:
		return fmt.Errorf("%w: Driver method %d", wire.ErrInvalidValue, m)
	}
}

// DriverResp is the reply of every Driver method.
type DriverResp struct {
	Method wire.U32le
	Pad    [4]uint8
	Body   [8]wire.U64le
}

func (r *DriverResp) CheckBytes() error {
	switch m := r.Method.Get(); m {
	case DriverStatusError, DriverReqEcho:
		return nil
	case DriverReqXyz:
		return wire.ArmOf[Test](&r.Body).CheckBytes()
	default:
		return fmt.Errorf("%w: Driver method %d", wire.ErrInvalidValue, m)
	}
}

// TelemetryMsg is the message type of Telemetry messages.
const TelemetryMsg uint32 = 1

// Telemetry is published on the Telemetry bus.
type Telemetry struct {
	Seq      wire.U64le
	UptimeNs wire.U64le
	TempC    wire.F32le
	Active   wire.Bool
	Pad      [3]uint8
}

func (t *Telemetry) CheckBytes() error { return t.Active.CheckBytes() }
