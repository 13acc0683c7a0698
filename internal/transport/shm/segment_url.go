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
	"net/url"
	"strconv"
	"strings"
)

// SegmentURL names a segment and optionally its geometry. Zero fields were
// not given.
type SegmentURL struct {
	Name         string
	RingCapacity int
	MaxClients   uint32
}

// ParseSegmentURL parses a segment address of the form
//
//	shm://name?cap=65536&clients=8
//
// A bare name without a scheme is accepted as well. cap is the per-ring
// capacity in bytes and clients the number of reply rings; both are only
// used by the side that creates the segment.
func ParseSegmentURL(raw string) (SegmentURL, error) {
	if !strings.Contains(raw, "://") {
		if raw == "" || strings.Contains(raw, "/") {
			return SegmentURL{}, fmt.Errorf("invalid segment name %q", raw)
		}
		return SegmentURL{Name: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return SegmentURL{}, fmt.Errorf("parse segment url: %w", err)
	}
	if u.Scheme != "shm" {
		return SegmentURL{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	name := u.Host
	if name == "" {
		// shm:///name
		name = strings.TrimPrefix(u.Path, "/")
	}
	if name == "" || strings.Contains(name, "/") {
		return SegmentURL{}, fmt.Errorf("missing or invalid segment name in %q", raw)
	}

	out := SegmentURL{Name: name}
	q := u.Query()
	if s := q.Get("cap"); s != "" {
		v, err := strconv.ParseUint(s, 10, 31)
		if err != nil {
			return SegmentURL{}, fmt.Errorf("invalid cap: %w", err)
		}
		out.RingCapacity = int(v)
	}
	if s := q.Get("clients"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return SegmentURL{}, fmt.Errorf("invalid clients: %w", err)
		}
		out.MaxClients = uint32(v)
	}
	return out, nil
}

func (u SegmentURL) String() string {
	q := url.Values{}
	if u.RingCapacity > 0 {
		q.Set("cap", strconv.Itoa(u.RingCapacity))
	}
	if u.MaxClients > 0 {
		q.Set("clients", strconv.FormatUint(uint64(u.MaxClients), 10))
	}
	s := "shm://" + u.Name
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}
