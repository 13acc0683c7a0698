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
	"context"
	"time"
)

const handshakePoll = time.Millisecond

// WaitForServer waits for the server to mark the segment ready.
// A client calls this after opening a segment and before dialing.
func (s *Segment) WaitForServer(ctx context.Context) error {
	return pollUntil(ctx, s.H.ServerReady)
}

// WaitForClients waits until at least n clients have claimed an identity.
func (s *Segment) WaitForClients(ctx context.Context, n uint32) error {
	return pollUntil(ctx, func() bool { return s.H.Clients() >= n })
}

func pollUntil(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(handshakePoll)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
