package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sphw/piton/internal/config"
	"github.com/sphw/piton/internal/example/driver"
	"github.com/sphw/piton/internal/transport"
	"github.com/sphw/piton/internal/transport/broadcast"
	"github.com/sphw/piton/internal/transport/shm"
)

// newTelemetryBus builds the configured bus backend with every subscriber
// attached before the first message.
func (d *demo) newTelemetryBus() (transport.BusTx[driver.Telemetry], []transport.BusRx[driver.Telemetry], func() error, error) {
	n := d.cfg.Bus.Subscribers
	rxs := make([]transport.BusRx[driver.Telemetry], 0, n)

	switch d.cfg.Bus.Backend {
	case config.BackendBroadcast:
		tx, rx, err := broadcast.Pair[driver.Telemetry](d.cfg.Bus.Capacity, broadcast.WithLogger(d.log))
		if err != nil {
			return nil, nil, nil, err
		}
		if n == 0 {
			rx.Close()
			return tx, nil, tx.Close, nil
		}
		rxs = append(rxs, rx)
		for len(rxs) < n {
			more, err := rx.Subscribe()
			if err != nil {
				tx.Close()
				return nil, nil, nil, err
			}
			rxs = append(rxs, more)
		}
		return tx, rxs, tx.Close, nil
	default:
		bus, err := shm.NewBus[driver.Telemetry](d.cfg.Bus.Capacity, d.opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		for len(rxs) < n {
			sub, err := bus.Subscribe()
			if err != nil {
				bus.Close()
				return nil, nil, nil, err
			}
			rxs = append(rxs, sub)
		}
		return bus, rxs, bus.Close, nil
	}
}

// runTelemetry publishes d.ticks messages and has every subscriber read
// all of them.
func (d *demo) runTelemetry(ctx context.Context) error {
	tx, rxs, closeBus, err := d.newTelemetryBus()
	if err != nil {
		return fmt.Errorf("telemetry bus: %w", err)
	}
	defer closeBus()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, rx := range rxs {
		g.Go(func() error {
			sub := driver.NewTelemetrySubscriber(rx)
			for n := 1; n <= d.ticks; n++ {
				m, err := sub.Next(gctx)
				if err != nil {
					return fmt.Errorf("subscriber %d: %w", i, err)
				}
				if got := m.Get().Seq.Get(); got != uint64(n) {
					return fmt.Errorf("subscriber %d: got message %d, want %d", i, got, n)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		pub := driver.NewTelemetryPublisher(tx)
		for n := 0; n < d.ticks; {
			err := pub.Publish(func(m *driver.Telemetry) {
				m.UptimeNs.Set(uint64(time.Since(start)))
				m.TempC.Set(20 + float32(n%10)/10)
				m.Active.Set(true)
			})
			switch {
			case err == nil:
				n++
			case errors.Is(err, transport.ErrBufferOverflow), errors.Is(err, transport.ErrTxFail):
				// Subscribers are behind.
				if err := gctx.Err(); err != nil {
					return err
				}
				runtime.Gosched()
			default:
				return fmt.Errorf("publish: %w", err)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	d.log.Info().
		Str("backend", d.cfg.Bus.Backend).
		Int("subscribers", len(rxs)).
		Int("messages", d.ticks).
		Dur("elapsed", time.Since(start)).
		Msg("telemetry complete")
	return nil
}
