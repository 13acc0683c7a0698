package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/peterbourgon/ff/v3"

	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/transport/shm"
)

const probeOwner = 1

func main() {
	fs := flag.NewFlagSet("debug-capacity", flag.ExitOnError)
	var (
		capacity = fs.Int("capacity", 65536, "minimum ring capacity in bytes")
		chunk    = fs.Int("chunk", 1000, "payload size for the backpressure test")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("PITON")); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	ring, err := shm.NewHeapRing(*capacity, shm.SpinWait{}, shm.RoleRequest)
	if err != nil {
		log.Fatalf("Failed to create ring: %v", err)
	}
	defer ring.Close()
	cursor := ring.Consumer()

	fmt.Printf("=== Ring Capacity Analysis ===\n")
	fmt.Printf("Requested capacity: %d bytes\n", *capacity)
	fmt.Printf("Actual ring capacity: %d bytes\n", ring.Capacity())

	// Each probe is written, read back and released so the ring starts
	// empty for the next size.
	fmt.Printf("\n=== Single Frame Tests ===\n")
	testSizes := []int{10, 20, 30, 40, 50, 100, 200, 500, 1000, 5000, 10000, 32768, 65000, 65536}
	for _, size := range testSizes {
		if err := probe(ring, size); err != nil {
			fmt.Printf("Size %d bytes: FAIL (%v)\n", size, err)
			break
		}
		f, err := cursor.Read()
		if err != nil {
			log.Fatalf("read back %d bytes: %v", size, err)
		}
		if f.Payload[0] != byte(size) {
			log.Fatalf("read back %d bytes: payload mismatch", size)
		}
		cursor.ReleaseRead(f.Token)
		fmt.Printf("Size %d bytes: OK (frame length %d)\n", size, f.Header.Length)
	}

	// Fill the ring without reading to see where backpressure starts.
	fmt.Printf("\n=== Backpressure Test ===\n")
	written := 0
	for i := 0; ; i++ {
		err := probe(ring, *chunk)
		if errors.Is(err, transport.ErrBufferOverflow) {
			fmt.Printf("Overflow after %d payload bytes (%d frames), %d ring bytes used\n", written, i, ring.Used())
			break
		}
		if err != nil {
			log.Fatalf("write frame %d: %v", i, err)
		}
		written += *chunk
	}

	_, report := shm.DiagnoseRings(map[string]*shm.FrameRing{"probe": ring})
	fmt.Printf("\n=== Ring State ===\n%s", report)
}

// probe writes one request frame with a size-byte payload.
func probe(ring *shm.FrameRing, size int) error {
	payload, token, err := ring.Grant(probeOwner, uint64(size), shm.FrameHeader{
		ClientID: probeOwner,
		Type:     shm.FrameTypeREQUEST,
	})
	if err != nil {
		return err
	}
	for i := range payload {
		payload[i] = byte(size + i)
	}
	return ring.Commit(probeOwner, token, 0)
}
