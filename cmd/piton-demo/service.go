package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sphw/piton/internal/example/driver"
	"github.com/sphw/piton/internal/wire"
)

// demoService answers xyz with a few samples derived from the B payload
// and echoes nonces back.
type demoService struct{}

func (demoService) Xyz(msg *driver.Bar, resp *driver.Test) error {
	v, ok := msg.B()
	resp.Bar.Set(v)
	resp.Boolean.Set(ok)
	for i := range resp.Array {
		resp.Array[i] = byte(v) + byte(i)
	}
	for i := uint32(0); i < 4; i++ {
		if err := resp.Samples.Push(wire.NewU32le(uint32(v) * i)); err != nil {
			return err
		}
	}
	resp.Foo.Set(uint16(resp.Samples.Len()))
	return nil
}

func (demoService) Echo(msg *driver.Echo, resp *driver.Echo) error {
	*resp = *msg
	return nil
}

// callAll drives every client concurrently and checks each reply.
func (d *demo) callAll(ctx context.Context, clients []*driver.DriverClient) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range clients {
		g.Go(func() error { return d.callLoop(gctx, uint64(i), c) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	total := 2 * d.calls * len(clients)
	ev := d.log.Info().Int("clients", len(clients)).Int("calls", total).Dur("elapsed", elapsed)
	if total > 0 {
		ev = ev.Dur("per_call", elapsed/time.Duration(total))
	}
	ev.Msg("calls complete")
	return nil
}

func (d *demo) callLoop(ctx context.Context, id uint64, c *driver.DriverClient) error {
	for n := 0; n < d.calls; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		nonce := id<<32 | uint64(n)
		e, err := c.Echo(nonce)
		if err != nil {
			return fmt.Errorf("client %d echo: %w", id, err)
		}
		if got := e.Get().Nonce.Get(); got != nonce {
			return fmt.Errorf("client %d echo: got nonce %#x, want %#x", id, got, nonce)
		}

		b := uint16(n)
		r, err := c.Xyz(driver.BarB(b))
		if err != nil {
			return fmt.Errorf("client %d xyz: %w", id, err)
		}
		t := r.Get()
		if t.Bar.Get() != b || !t.Boolean.Get() || t.Foo.Get() != 4 {
			return fmt.Errorf("client %d xyz(%d): unexpected reply bar=%d boolean=%v foo=%d",
				id, b, t.Bar.Get(), t.Boolean.Get(), t.Foo.Get())
		}
		r.Release()
	}
	d.log.Debug().Uint64("client", id).Int("calls", d.calls).Msg("client done")
	return nil
}
