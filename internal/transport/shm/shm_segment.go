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
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "PITONSHM"

	// Current protocol version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 128 bytes)
	SegmentHeaderSize = 128

	// Ring header size (aligned to 64 bytes)
	RingHeaderSize = 64

	// Minimum capacity of a segment ring (4KB)
	MinRingCapacity = 4096

	// Minimum capacity of a heap ring
	MinHeapRingCapacity = 64

	// Default ring capacity (64KB)
	DefaultRingCapacity = 65536

	// Default number of reply rings in a segment
	DefaultMaxClients = 8

	segmentPrefix = "piton_shm_"
)

// SegmentHeader is the first 128 bytes of a shared-memory segment. It is
// followed by the inbound ring and maxClients reply rings, each a
// RingHeader plus data, at 64-byte aligned offsets.
type SegmentHeader struct {
	magic       [8]byte  // 0x00: "PITONSHM"
	version     uint32   // 0x08: protocol version
	flags       uint32   // 0x0C: reserved flags
	totalSize   uint64   // 0x10: total segment size
	ringCap     uint64   // 0x18: capacity of every ring (power of 2)
	inboundOff  uint64   // 0x20: offset to the inbound ring header
	replyOff    uint64   // 0x28: offset to reply ring 0
	replyStride uint64   // 0x30: distance between reply rings
	maxClients  uint32   // 0x38: number of reply rings
	nextClient  uint32   // 0x3C: next client identity to hand out
	serverPID   uint32   // 0x40: server process ID
	serverReady uint32   // 0x44: server ready flag (0->1)
	closed      uint32   // 0x48: closed flag (0 open, 1 closed)
	pad         uint32   // 0x4C: padding
	reserved    [48]byte // 0x50-0x7F: reserved/padding to 128B
}

// Magic returns the magic bytes
func (h *SegmentHeader) Magic() [8]byte {
	return h.magic
}

// Version returns the protocol version
func (h *SegmentHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// TotalSize returns the total segment size
func (h *SegmentHeader) TotalSize() uint64 {
	return atomic.LoadUint64(&h.totalSize)
}

// RingCapacity returns the capacity of each ring
func (h *SegmentHeader) RingCapacity() uint64 {
	return atomic.LoadUint64(&h.ringCap)
}

// InboundOffset returns the offset to the inbound ring header
func (h *SegmentHeader) InboundOffset() uint64 {
	return atomic.LoadUint64(&h.inboundOff)
}

// ReplyOffset returns the offset to the ring header of reply ring i
func (h *SegmentHeader) ReplyOffset(i uint32) uint64 {
	return atomic.LoadUint64(&h.replyOff) + uint64(i)*atomic.LoadUint64(&h.replyStride)
}

// MaxClients returns the number of reply rings
func (h *SegmentHeader) MaxClients() uint32 {
	return atomic.LoadUint32(&h.maxClients)
}

// Clients returns the number of client identities handed out so far
func (h *SegmentHeader) Clients() uint32 {
	return atomic.LoadUint32(&h.nextClient)
}

// claimClient hands out the next client identity. ok is false when every
// reply ring has been claimed.
func (h *SegmentHeader) claimClient() (id uint32, ok bool) {
	for {
		n := atomic.LoadUint32(&h.nextClient)
		if n >= h.MaxClients() {
			return 0, false
		}
		if atomic.CompareAndSwapUint32(&h.nextClient, n, n+1) {
			return n, true
		}
	}
}

// ServerPID returns the server process ID
func (h *SegmentHeader) ServerPID() uint32 {
	return atomic.LoadUint32(&h.serverPID)
}

// ServerReady returns the server ready flag
func (h *SegmentHeader) ServerReady() bool {
	return atomic.LoadUint32(&h.serverReady) != 0
}

// SetServerReady sets the server ready flag
func (h *SegmentHeader) SetServerReady(ready bool) {
	atomic.StoreUint32(&h.serverReady, boolWord(ready))
}

// Closed returns the closed flag
func (h *SegmentHeader) Closed() bool {
	return atomic.LoadUint32(&h.closed) != 0
}

// SetClosed sets the closed flag
func (h *SegmentHeader) SetClosed(closed bool) {
	atomic.StoreUint32(&h.closed, boolWord(closed))
}

// RingHeader is the 64-byte control block in front of every ring's data.
// All fields are accessed atomically; the block may be shared between
// processes.
type RingHeader struct {
	capacity uint64   // 0x00: power-of-two capacity in bytes
	widx     uint64   // 0x08: monotonic write index (producer)
	ridx     uint64   // 0x10: monotonic read index (single consumer)
	signal   uint32   // 0x18: committed frames not yet taken by the consumer
	owner    uint32   // 0x1C: producer lock, 0 free, else owner id + 1
	closed   uint32   // 0x20: closed flag
	pad      uint32   // 0x24: padding
	reserved [24]byte // 0x28-0x3F: reserved/padding to 64B
	// data area starts at offset 0x40
}

// Capacity returns the ring capacity
func (r *RingHeader) Capacity() uint64 {
	return atomic.LoadUint64(&r.capacity)
}

// WriteIndex returns the monotonic write index (producer)
func (r *RingHeader) WriteIndex() uint64 {
	return atomic.LoadUint64(&r.widx)
}

// ReadIndex returns the monotonic read index (consumer)
func (r *RingHeader) ReadIndex() uint64 {
	return atomic.LoadUint64(&r.ridx)
}

// Signal returns the number of committed frames the consumer has not taken.
func (r *RingHeader) Signal() uint32 {
	return atomic.LoadUint32(&r.signal)
}

// Owner returns the producer lock word.
func (r *RingHeader) Owner() uint32 {
	return atomic.LoadUint32(&r.owner)
}

// Closed returns the closed flag
func (r *RingHeader) Closed() bool {
	return atomic.LoadUint32(&r.closed) != 0
}

// SetClosed sets the closed flag
func (r *RingHeader) SetClosed(closed bool) {
	atomic.StoreUint32(&r.closed, boolWord(closed))
}

func (r *RingHeader) init(capacity uint64) {
	atomic.StoreUint64(&r.capacity, capacity)
	atomic.StoreUint64(&r.widx, 0)
	atomic.StoreUint64(&r.ridx, 0)
	atomic.StoreUint32(&r.signal, 0)
	atomic.StoreUint32(&r.owner, 0)
	atomic.StoreUint32(&r.closed, 0)
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Layout calculation and validation helpers

// IsPowerOfTwo returns true if n is a power of two
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// NextPowerOfTwo returns the next power of two >= n
func NextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if IsPowerOfTwo(n) {
		return n
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// SegmentLayout describes where the rings of a segment live.
type SegmentLayout struct {
	TotalSize   uint64
	InboundOff  uint64
	ReplyOff    uint64
	ReplyStride uint64
}

// CalculateSegmentLayout calculates the memory layout for a segment with one
// inbound ring and maxClients reply rings of ringCap bytes each.
func CalculateSegmentLayout(ringCap uint64, maxClients uint32) (SegmentLayout, error) {
	if !IsPowerOfTwo(ringCap) {
		return SegmentLayout{}, fmt.Errorf("ring capacity %d is not a power of two", ringCap)
	}
	if ringCap < MinRingCapacity {
		return SegmentLayout{}, fmt.Errorf("ring capacity %d is below minimum %d", ringCap, MinRingCapacity)
	}
	if maxClients == 0 {
		return SegmentLayout{}, fmt.Errorf("segment needs at least one client slot")
	}

	stride := alignTo64(RingHeaderSize + ringCap)
	l := SegmentLayout{
		InboundOff:  alignTo64(SegmentHeaderSize),
		ReplyStride: stride,
	}
	l.ReplyOff = l.InboundOff + stride
	l.TotalSize = l.ReplyOff + uint64(maxClients)*stride
	return l, nil
}

// alignTo64 aligns a size to 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// ValidateSegmentHeader validates a segment header for consistency
func ValidateSegmentHeader(h *SegmentHeader, size uint64) error {
	if magic := h.Magic(); string(magic[:]) != SegmentMagic {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), SegmentVersion)
	}

	l, err := CalculateSegmentLayout(h.RingCapacity(), h.MaxClients())
	if err != nil {
		return fmt.Errorf("layout calculation failed: %w", err)
	}
	if h.TotalSize() != l.TotalSize {
		return fmt.Errorf("total size mismatch: got %d, expected %d", h.TotalSize(), l.TotalSize)
	}
	if size < l.TotalSize {
		return fmt.Errorf("mapping of %d bytes is smaller than segment size %d", size, l.TotalSize)
	}
	if h.InboundOffset() != l.InboundOff {
		return fmt.Errorf("inbound offset mismatch: got %d, expected %d", h.InboundOffset(), l.InboundOff)
	}
	if h.ReplyOffset(0) != l.ReplyOff {
		return fmt.Errorf("reply offset mismatch: got %d, expected %d", h.ReplyOffset(0), l.ReplyOff)
	}
	if h.Clients() > h.MaxClients() {
		return fmt.Errorf("client count %d exceeds %d slots", h.Clients(), h.MaxClients())
	}
	return nil
}

// Segment represents a mapped shared memory segment
type Segment struct {
	File *os.File       // File descriptor for the shared memory file
	Mem  []byte         // Memory-mapped region
	H    *SegmentHeader // Typed view of the segment header
	Path string         // File path
}

// Close unmaps the memory and closes the file
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := munmapImpl(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
		s.H = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	return firstErr
}

// ringAt returns the ring header and data area at off.
func (s *Segment) ringAt(off uint64) (*RingHeader, []byte) {
	hdr := (*RingHeader)(unsafe.Pointer(&s.Mem[off]))
	capacity := hdr.Capacity()
	data := s.Mem[off+RingHeaderSize : off+RingHeaderSize+capacity : off+RingHeaderSize+capacity]
	return hdr, data
}

// InboundRing returns the ring all clients write requests to.
func (s *Segment) InboundRing() (*RingHeader, []byte) {
	return s.ringAt(s.H.InboundOffset())
}

// ReplyRing returns the reply ring of client id.
func (s *Segment) ReplyRing(id uint32) (*RingHeader, []byte) {
	return s.ringAt(s.H.ReplyOffset(id))
}

// Utility functions

func segmentPaths(name string) []string {
	return []string{
		filepath.Join("/dev/shm", segmentPrefix+name),
		filepath.Join(os.TempDir(), segmentPrefix+name),
	}
}

// generateSegmentPath generates the file path for a shared memory segment
func generateSegmentPath(name string) string {
	paths := segmentPaths(name)
	if isDevShmAvailable() {
		return paths[0]
	}
	return paths[1]
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RemoveSegment removes a shared memory segment file
func RemoveSegment(name string) error {
	var lastErr error
	for _, path := range segmentPaths(name) {
		if err := os.Remove(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return os.ErrNotExist
}

// SegmentExists checks if a shared memory segment exists
func SegmentExists(name string) bool {
	for _, path := range segmentPaths(name) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
