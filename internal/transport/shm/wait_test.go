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
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestParseWaitStrategy(t *testing.T) {
	for name, want := range map[string]string{"": "spin", "spin": "spin", "yield": "yield"} {
		w, err := ParseWaitStrategy(name)
		if err != nil {
			t.Fatalf("ParseWaitStrategy(%q): %v", name, err)
		}
		if w.String() != want {
			t.Errorf("ParseWaitStrategy(%q) = %s, want %s", name, w, want)
		}
	}

	w, err := ParseWaitStrategy("futex")
	if futexSupported {
		if err != nil || w.String() != "futex" {
			t.Errorf("ParseWaitStrategy(futex) = %v, %v", w, err)
		}
	} else if !errors.Is(err, ErrUnsupported) {
		t.Errorf("ParseWaitStrategy(futex) error = %v, want ErrUnsupported", err)
	}

	if _, err := ParseWaitStrategy("sleep"); err == nil {
		t.Error("ParseWaitStrategy accepted an unknown name")
	}
}

// Every strategy must carry a stream of calls to completion.
func TestWaitStrategiesCarryCalls(t *testing.T) {
	strategies := []WaitStrategy{SpinWait{}, YieldWait{}}
	if futexSupported {
		strategies = append(strategies, FutexWait{})
	}
	for _, ws := range strategies {
		t.Run(ws.String(), func(t *testing.T) {
			srv := newEchoServer(t, WithWaitStrategy(ws))
			c := newEchoClient(t, srv)

			var g errgroup.Group
			g.Go(func() error { return serveEcho(srv, 100) })
			for i := uint64(0); i < 100; i++ {
				r, err := call(c, i, 0)
				if err != nil {
					t.Fatalf("Call %d: %v", i, err)
				}
				if r.Get().Nonce.Get() != i {
					t.Fatalf("reply %d carries nonce %d", i, r.Get().Nonce.Get())
				}
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}
