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

// Package shm implements the service and bus transports over rings of
// framed, typed messages.
//
// A ring lives either in process memory (NewServer, NewBus) or in a
// memory-mapped segment file that several processes map (NewSegmentServer,
// DialSegment). Producers reserve a zeroed frame, fill it in place and
// commit it; consumers validate the frame as the expected type and read it
// where it lies. Nothing is copied or serialized on the way.
//
// A service has one inbound ring shared by all clients and one reply ring
// per client. Requests carry the client's identity and a sequence number,
// and the server reserves the reply on the caller's ring before handing the
// request to the handler. A bus has one fan-out ring with a read cursor per
// subscriber.
package shm
