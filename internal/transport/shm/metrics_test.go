/*
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
 */

package shm

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sphw/piton/internal/transport"
)

func TestRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("second RegisterMetrics: %v", err)
	}
}

func TestRingMetricsCount(t *testing.T) {
	m := metricsFor(RoleBus)
	committed := testutil.ToFloat64(m.committed)
	received := testutil.ToFloat64(m.received)
	invalid := testutil.ToFloat64(m.invalid)
	capacity := testutil.ToFloat64(m.capacity)

	b, sub, err := Pair[tick](64)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer b.Close()

	// 64 bytes hold two ticks.
	for i := uint64(0); i < 2; i++ {
		if err := publish(b, i); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if _, err := b.Alloc(); !errors.Is(err, transport.ErrBufferOverflow) {
		t.Fatalf("Alloc error = %v, want ErrBufferOverflow", err)
	}
	if _, err := sub.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	// Overwrite the second frame's type to make it invalid for a bus.
	encodeFrameHeaderTo(b.ring.data[32:], FrameHeader{Length: 16, Type: FrameTypeREQUEST})
	if _, err := sub.Recv(); !errors.Is(err, transport.ErrInvalidMsg) {
		t.Fatalf("Recv error = %v, want ErrInvalidMsg", err)
	}

	for name, tc := range map[string]struct {
		c    prometheus.Counter
		from float64
		want float64
	}{
		"committed": {m.committed, committed, 2},
		"received":  {m.received, received, 2},
		"invalid":   {m.invalid, invalid, 1},
		"capacity":  {m.capacity, capacity, 1},
	} {
		if got := testutil.ToFloat64(tc.c) - tc.from; got != tc.want {
			t.Errorf("%s counter moved by %v, want %v", name, got, tc.want)
		}
	}
}
