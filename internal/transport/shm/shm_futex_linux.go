//go:build linux

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
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations. The words live in memory that may be mapped by
// several processes, so the private variants are not used.
const (
	futexOpWait = 0 // FUTEX_WAIT
	futexOpWake = 1 // FUTEX_WAKE
)

const futexSupported = true

// futexWait waits for the value at addr to change from val.
// It returns when either:
//   - The value at addr is no longer equal to val
//   - Another thread calls futexWake on the same address
//   - The system call is interrupted
//
// Always re-check the condition after this returns due to possible
// spurious wakeups.
func futexWait(addr *uint32, val uint32) error {
	return futexWaitTimeout(addr, val, 0)
}

// futexWaitTimeout waits on addr until the value changes from val or timeout
// elapses. A non-positive timeout waits forever. Returns ErrFutexTimeout if
// the wait timed out.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	// Re-check before entering the syscall to avoid sleeping on a value
	// that has already moved.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsp unsafe.Pointer
	if timeoutNs > 0 {
		ts := unix.NsecToTimespec(timeoutNs)
		tsp = unsafe.Pointer(&ts)
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		uintptr(tsp),
		0,
		0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n threads waiting on addr.
// Returns the number of threads actually woken up.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
