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

package shm

import "github.com/sphw/piton/internal/wire"

// echoReq is a request carrying a nonce and a flag that must hold a valid
// boolean.
type echoReq struct {
	Nonce  wire.U64le
	Client wire.U32le
	Ok     wire.Bool
	Pad    [3]uint8
}

func (r *echoReq) CheckBytes() error { return r.Ok.CheckBytes() }

type echoResp struct {
	Nonce  wire.U64le
	Client wire.U32le
	Count  wire.U32le
}

// wideResp takes a 96 byte frame, so a 128 byte ring holds one at a time.
type wideResp struct {
	Words [9]wire.U64le
}

// forty is 40 bytes with 8 byte alignment.
type forty struct {
	Words [5]wire.U64le
}

type tick struct {
	Seq wire.U64le
}
