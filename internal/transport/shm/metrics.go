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
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ring roles used as the "role" metric label.
const (
	RoleRequest = "request"
	RoleReply   = "reply"
	RoleBus     = "bus"
)

var (
	registerOnce sync.Once
	registerErr  error

	framesCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piton",
			Subsystem: "ring",
			Name:      "frames_committed_total",
			Help:      "Frames committed by producers.",
		},
		[]string{"role"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piton",
			Subsystem: "ring",
			Name:      "frames_received_total",
			Help:      "Frames taken by consumers.",
		},
		[]string{"role"},
	)
	framesInvalid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piton",
			Subsystem: "ring",
			Name:      "frames_invalid_total",
			Help:      "Frames dropped because they failed validation or routing.",
		},
		[]string{"role"},
	)
	capacityErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piton",
			Subsystem: "ring",
			Name:      "capacity_errors_total",
			Help:      "Grants refused because the ring was full.",
		},
		[]string{"role"},
	)
)

// RegisterMetrics registers the ring counters with reg, once per process.
// Counters are maintained whether or not they are registered.
func RegisterMetrics(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{framesCommitted, framesReceived, framesInvalid, capacityErrors} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					registerErr = err
					return
				}
			}
		}
	})
	return registerErr
}

// ringMetrics holds counters curried for one role so the hot path does not
// hash label values.
type ringMetrics struct {
	committed prometheus.Counter
	received  prometheus.Counter
	invalid   prometheus.Counter
	capacity  prometheus.Counter
}

func metricsFor(role string) ringMetrics {
	return ringMetrics{
		committed: framesCommitted.WithLabelValues(role),
		received:  framesReceived.WithLabelValues(role),
		invalid:   framesInvalid.WithLabelValues(role),
		capacity:  capacityErrors.WithLabelValues(role),
	}
}
