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

import "github.com/rs/zerolog"

// DefaultHeapRingCapacity is the capacity of heap rings created without
// WithCapacity.
const DefaultHeapRingCapacity = 4096

type options struct {
	capacity int
	wait     WaitStrategy
	logger   zerolog.Logger
}

func defaultOptions() options {
	return options{
		capacity: DefaultHeapRingCapacity,
		wait:     SpinWait{},
		logger:   zerolog.Nop(),
	}
}

// Option configures a Server, Client or Bus.
type Option func(*options)

// WithCapacity sets the capacity in bytes of each heap ring. It is rounded up
// to a power of two. Segment-backed endpoints take capacity from the segment.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithWaitStrategy sets how consumers wait for frames.
func WithWaitStrategy(w WaitStrategy) Option {
	return func(o *options) {
		if w != nil {
			o.wait = w
		}
	}
}

// WithLogger sets the logger for attach/detach and dropped frame events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
