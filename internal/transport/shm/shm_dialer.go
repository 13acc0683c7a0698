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
	"fmt"
)

// DialSegment attaches a client to the server of the named segment, waiting
// for the server to be ready until ctx is done. Both sides must agree on Arg
// and Ret; the segment does not record them. Capacity options are ignored:
// the segment fixes the ring sizes.
func DialSegment[Arg, Ret any](ctx context.Context, name string, opts ...Option) (*Client[Arg, Ret], error) {
	if err := certifyPair[Arg, Ret](); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	seg, err := OpenSegment(name)
	if err != nil {
		return nil, err
	}
	if err := seg.WaitForServer(ctx); err != nil {
		seg.Close()
		return nil, fmt.Errorf("failed to establish connection: %w", err)
	}
	if seg.H.Closed() {
		seg.Close()
		return nil, ErrRingClosed
	}
	if err := checkFit[Arg, Ret](seg.H.RingCapacity()); err != nil {
		seg.Close()
		return nil, err
	}
	id, ok := seg.H.claimClient()
	if !ok {
		seg.Close()
		return nil, ErrNoClientSlots
	}

	inHdr, inData := seg.InboundRing()
	repHdr, repData := seg.ReplyRing(id)
	c := newClient[Arg, Ret](id,
		newFrameRing(inHdr, inData, o.wait, RoleRequest, false),
		newFrameRing(repHdr, repData, o.wait, RoleReply, false),
		o, newSegRef(seg, name))
	c.log.Info().Str("segment", seg.Path).Msg("client attached")
	return c, nil
}
