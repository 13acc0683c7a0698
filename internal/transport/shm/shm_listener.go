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
)

// segRef counts the in-process users of one segment mapping. The mapping
// is released with the last reference.
type segRef struct {
	seg  *Segment
	name string
	refs atomic.Int32
}

func newSegRef(seg *Segment, name string) *segRef {
	r := &segRef{seg: seg, name: name}
	r.refs.Store(1)
	return r
}

func (r *segRef) acquire() {
	r.refs.Add(1)
}

func (r *segRef) release() error {
	if r.refs.Add(-1) != 0 {
		return nil
	}
	return r.seg.Close()
}

// NewSegmentServer creates the named segment with room for maxClients and
// serves over it. Clients in this or other processes attach with
// DialSegment; Server.Client also works. The segment's ring capacity is the
// configured capacity rounded up to a power of two, at least
// MinRingCapacity.
func NewSegmentServer[Arg, Ret any](name string, maxClients uint32, opts ...Option) (*Server[Arg, Ret], error) {
	if err := certifyPair[Arg, Ret](); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	ringCap := NextPowerOfTwo(uint64(max(o.capacity, MinRingCapacity)))
	if err := checkFit[Arg, Ret](ringCap); err != nil {
		return nil, err
	}

	seg, err := CreateSegment(name, ringCap, maxClients)
	if err != nil {
		return nil, fmt.Errorf("create segment %q: %w", name, err)
	}
	ref := newSegRef(seg, name)

	hdr, data := seg.InboundRing()
	s := newServer[Arg, Ret](o, newFrameRing(hdr, data, o.wait, RoleRequest, false), ref)

	edges := make([]*replyEdge[Ret], maxClients)
	for i := range edges {
		hdr, data := seg.ReplyRing(uint32(i))
		edges[i] = &replyEdge[Ret]{ring: newFrameRing(hdr, data, o.wait, RoleReply, false), id: uint32(i)}
	}
	s.replies.Store(&edges)

	seg.H.SetServerReady(true)
	s.log.Info().
		Str("segment", seg.Path).
		Uint64("ring_capacity", ringCap).
		Uint32("max_clients", maxClients).
		Msg("segment server ready")
	return s, nil
}
