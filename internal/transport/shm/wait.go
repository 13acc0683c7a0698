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
	"fmt"
	"runtime"
	"time"
)

// WaitStrategy decides what a consumer does between polls of a signal
// counter that reads zero, and what a producer does after raising it.
//
// Wait may return early or spuriously; callers re-check the counter.
type WaitStrategy interface {
	// Wait is called after the counter at addr was observed to be zero.
	Wait(addr *uint32)
	// Wake is called after the counter at addr was incremented.
	Wake(addr *uint32)
	String() string
}

// SpinWait busy-polls without ever yielding. It is the default and needs no
// operating system support.
type SpinWait struct{}

func (SpinWait) Wait(*uint32)   {}
func (SpinWait) Wake(*uint32)   {}
func (SpinWait) String() string { return "spin" }

// YieldWait busy-polls but yields the processor between polls.
type YieldWait struct{}

func (YieldWait) Wait(*uint32)   { runtime.Gosched() }
func (YieldWait) Wake(*uint32)   {}
func (YieldWait) String() string { return "yield" }

// futexPollInterval bounds each futex sleep so waiters notice a closed ring
// even when nobody wakes them.
const futexPollInterval = 10 * time.Millisecond

// FutexWait sleeps in the kernel on the counter word. The word may live in a
// segment mapped by another process. Linux only.
type FutexWait struct{}

func (FutexWait) Wait(addr *uint32) {
	// Errors are spurious wakeups from the caller's point of view.
	_ = futexWaitTimeout(addr, 0, int64(futexPollInterval))
}

func (FutexWait) Wake(addr *uint32) {
	_, _ = futexWake(addr, 1)
}

func (FutexWait) String() string { return "futex" }

// ParseWaitStrategy maps a configuration name to a strategy.
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch name {
	case "", "spin":
		return SpinWait{}, nil
	case "yield":
		return YieldWait{}, nil
	case "futex":
		if !futexSupported {
			return nil, fmt.Errorf("wait strategy %q: %w", name, ErrUnsupported)
		}
		return FutexWait{}, nil
	default:
		return nil, fmt.Errorf("unknown wait strategy %q", name)
	}
}
