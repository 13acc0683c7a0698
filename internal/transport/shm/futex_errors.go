package shm

import "errors"

// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
var ErrFutexTimeout = errors.New("futex timeout")

// ErrUnsupported is returned by operations the platform cannot provide,
// such as futex waits or mapped segments.
var ErrUnsupported = errors.New("shm: not supported on this platform")
