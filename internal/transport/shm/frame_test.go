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

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFrameHeaderLayout(t *testing.T) {
	fh := FrameHeader{
		Length:   0x01020304,
		ClientID: 7,
		Type:     FrameTypeREPLY,
		Flags:    0,
		Seq:      0xBEEF,
		MsgType:  42,
	}
	buf := make([]byte, frameHeaderSize)
	encodeFrameHeaderTo(buf, fh)

	want := []byte{
		0x04, 0x03, 0x02, 0x01, // length
		0x07, 0x00, 0x00, 0x00, // client
		0x02, 0x00, // type, flags
		0xEF, 0xBE, // seq
		0x2A, 0x00, 0x00, 0x00, // msg type
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("encoded header = % x, want % x", buf, want)
	}

	got, err := decodeFrameHeader(buf)
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if diff := cmp.Diff(fh, got); diff != "" {
		t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
	}

	if _, err := decodeFrameHeader(buf[:frameHeaderSize-1]); err != errShortHeader {
		t.Fatalf("decodeFrameHeader(short) error = %v, want %v", err, errShortHeader)
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		length uint64
		want   uint64
	}{
		{0, 16},
		{1, 24},
		{8, 24},
		{9, 32},
		{48, 64},
		{4080, 4096},
	}
	for _, tt := range tests {
		if got := frameSize(tt.length); got != tt.want {
			t.Errorf("frameSize(%d) = %d, want %d", tt.length, got, tt.want)
		}
	}
	if got := grantLength(40, 8); got != 48 {
		t.Errorf("grantLength(40, 8) = %d, want 48", got)
	}
}

func TestFrameTypeString(t *testing.T) {
	for ft, want := range map[FrameType]string{
		FrameTypePAD:     "PAD",
		FrameTypeREQUEST: "REQUEST",
		FrameTypeREPLY:   "REPLY",
		FrameTypeMESSAGE: "MESSAGE",
		FrameType(0x7F):  "UNKNOWN",
	} {
		if got := ft.String(); got != want {
			t.Errorf("FrameType(%d).String() = %q, want %q", uint8(ft), got, want)
		}
	}
}
