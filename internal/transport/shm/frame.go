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
	"encoding/binary"
	"errors"
)

// Frame header layout (16 bytes, little-endian). Frames start 8-aligned and
// their total length is a multiple of 8.
//
//	uint32 length   // payload bytes after the header, alignment slack included
//	uint32 clientID // sender identity on request frames, target on replies
//	uint8  type     // FrameType
//	uint8  flags    // reserved, zero
//	uint16 seq      // call sequence, echoed by the reply
//	uint32 msgType  // message type discriminant
const frameHeaderSize = 16

// frameAlign is the alignment of every frame start and frame length.
const frameAlign = 8

type FrameType uint8

const (
	// FrameTypePAD fills the tail of the ring when the next frame does not
	// fit before the wrap point. Its length covers the rest of the ring.
	FrameTypePAD     FrameType = 0x00
	FrameTypeREQUEST FrameType = 0x01
	FrameTypeREPLY   FrameType = 0x02
	FrameTypeMESSAGE FrameType = 0x03
)

func (t FrameType) String() string {
	switch t {
	case FrameTypePAD:
		return "PAD"
	case FrameTypeREQUEST:
		return "REQUEST"
	case FrameTypeREPLY:
		return "REPLY"
	case FrameTypeMESSAGE:
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// FrameHeader represents the on-wire 16B header.
type FrameHeader struct {
	Length   uint32
	ClientID uint32
	Type     FrameType
	Flags    uint8
	Seq      uint16
	MsgType  uint32
}

var errShortHeader = errors.New("frame header too short")

func encodeFrameHeaderTo(b []byte, fh FrameHeader) {
	_ = b[frameHeaderSize-1]
	binary.LittleEndian.PutUint32(b[0:4], fh.Length)
	binary.LittleEndian.PutUint32(b[4:8], fh.ClientID)
	b[8] = byte(fh.Type)
	b[9] = fh.Flags
	binary.LittleEndian.PutUint16(b[10:12], fh.Seq)
	binary.LittleEndian.PutUint32(b[12:16], fh.MsgType)
}

func decodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < frameHeaderSize {
		return FrameHeader{}, errShortHeader
	}
	var fh FrameHeader
	fh.Length = binary.LittleEndian.Uint32(b[0:4])
	fh.ClientID = binary.LittleEndian.Uint32(b[4:8])
	fh.Type = FrameType(b[8])
	fh.Flags = b[9]
	fh.Seq = binary.LittleEndian.Uint16(b[10:12])
	fh.MsgType = binary.LittleEndian.Uint32(b[12:16])
	return fh, nil
}

// frameSize returns the ring bytes taken by a frame with the given payload
// length.
func frameSize(length uint64) uint64 {
	return (frameHeaderSize + length + frameAlign - 1) &^ (frameAlign - 1)
}

// grantLength returns the payload length reserved for a value of the given
// size and alignment: enough slack that an aligned sub-region exists
// wherever the frame starts.
func grantLength(size, align int) uint64 {
	return uint64(size) + uint64(align)
}
