/*
 * Copyright 2024 gRPC authors.
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
	"fmt"
	"strings"
	"testing"
	"time"
)

// testSegmentName returns a segment name unique to the test and removes any
// leftover segment of that name when the test ends.
func testSegmentName(t testing.TB, baseName string) string {
	t.Helper()

	name := fmt.Sprintf("%s-%s-%d", baseName, strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	RemoveSegment(name)
	t.Cleanup(func() { RemoveSegment(name) })
	return name
}

// createTestSegment creates a segment with a unique name and closes and
// removes it when the test ends, even if the test fails or panics.
func createTestSegment(t testing.TB, baseName string, ringCap uint64, maxClients uint32) (*Segment, string) {
	t.Helper()

	name := testSegmentName(t, baseName)
	seg, err := CreateSegment(name, ringCap, maxClients)
	if err != nil {
		t.Fatalf("Failed to create test segment %s: %v", name, err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg, name
}
