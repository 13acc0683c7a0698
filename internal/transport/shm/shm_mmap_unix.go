//go:build unix

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
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// CreateSegment creates a new shared memory segment holding one inbound ring
// and maxClients reply rings of ringCap bytes each. The server calls it.
func CreateSegment(name string, ringCap uint64, maxClients uint32) (*Segment, error) {
	path := generateSegmentPath(name)

	layout, err := CalculateSegmentLayout(ringCap, maxClients)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(layout.TotalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(layout.TotalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
		H:    (*SegmentHeader)(unsafe.Pointer(&mem[0])),
	}

	h := seg.H
	copy(h.magic[:], SegmentMagic)
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint64(&h.totalSize, layout.TotalSize)
	atomic.StoreUint64(&h.ringCap, ringCap)
	atomic.StoreUint64(&h.inboundOff, layout.InboundOff)
	atomic.StoreUint64(&h.replyOff, layout.ReplyOff)
	atomic.StoreUint64(&h.replyStride, layout.ReplyStride)
	atomic.StoreUint32(&h.maxClients, maxClients)
	atomic.StoreUint32(&h.nextClient, 0)
	atomic.StoreUint32(&h.serverPID, uint32(unix.Getpid()))

	(*RingHeader)(unsafe.Pointer(&mem[layout.InboundOff])).init(ringCap)
	for i := uint32(0); i < maxClients; i++ {
		off := layout.ReplyOff + uint64(i)*layout.ReplyStride
		(*RingHeader)(unsafe.Pointer(&mem[off])).init(ringCap)
	}

	return seg, nil
}

// OpenSegment opens an existing shared memory segment. Clients call it.
func OpenSegment(name string) (*Segment, error) {
	path := generateSegmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	h := (*SegmentHeader)(unsafe.Pointer(&mem[0]))
	if err := ValidateSegmentHeader(h, uint64(size)); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, fmt.Errorf("invalid segment header: %w", err)
	}

	return &Segment{
		File: file,
		Mem:  mem,
		Path: path,
		H:    h,
	}, nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// munmapImpl unmaps a memory-mapped region
func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
