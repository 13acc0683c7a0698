package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sphw/piton/internal/config"
	"github.com/sphw/piton/internal/example/driver"
	"github.com/sphw/piton/internal/transport/shm"
)

type driverServer = shm.Server[driver.DriverReq, driver.DriverResp]

type demo struct {
	cfg        config.Config
	log        zerolog.Logger
	opts       []shm.Option
	seg        shm.SegmentURL
	maxClients uint32
	clients    int
	calls      int
	ticks      int
}

func newDemo(cfg config.Config, f flags, log zerolog.Logger) (*demo, error) {
	wait, err := shm.ParseWaitStrategy(cfg.Service.Wait)
	if err != nil {
		return nil, err
	}
	d := &demo{
		cfg:        cfg,
		log:        log,
		maxClients: cfg.Service.MaxClients,
		clients:    f.clients,
		calls:      f.calls,
		ticks:      f.ticks,
	}
	capacity := cfg.Service.RingCapacity
	if cfg.Service.Segment != "" {
		if d.seg, err = shm.ParseSegmentURL(cfg.Service.Segment); err != nil {
			return nil, err
		}
		if d.seg.RingCapacity > 0 {
			capacity = d.seg.RingCapacity
		}
		if d.seg.MaxClients > 0 {
			d.maxClients = d.seg.MaxClients
		}
	}
	d.opts = []shm.Option{
		shm.WithCapacity(capacity),
		shm.WithWaitStrategy(wait),
		shm.WithLogger(log),
	}
	return d, nil
}

func (d *demo) newServer() (*driverServer, error) {
	if d.seg.Name == "" {
		return shm.NewServer[driver.DriverReq, driver.DriverResp](d.opts...)
	}
	return shm.NewSegmentServer[driver.DriverReq, driver.DriverResp](d.seg.Name, d.maxClients, d.opts...)
}

// runAll serves the clients of this process and publishes telemetry until
// both are done.
func (d *demo) runAll(ctx context.Context) error {
	srv, err := d.newServer()
	if err != nil {
		return err
	}
	defer srv.Close()

	clients := make([]*driver.DriverClient, d.clients)
	for i := range clients {
		c, err := srv.Client()
		if err != nil {
			return fmt.Errorf("attach client %d: %w", i, err)
		}
		defer c.Close()
		clients[i] = driver.NewDriverClient(c)
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := driver.NewDriverServer(srv, demoService{}, d.log).Run(serveCtx)
		if err != nil {
			// Unblock clients waiting for replies that will never come.
			srv.Close()
		}
		return err
	})
	g.Go(func() error {
		defer stopServe()
		return d.callAll(gctx, clients)
	})
	g.Go(func() error { return d.runTelemetry(gctx) })
	err = g.Wait()
	d.report(srv)
	return err
}

// runServer serves a segment until ctx is done.
func (d *demo) runServer(ctx context.Context) error {
	srv, err := d.newServer()
	if err != nil {
		return err
	}
	defer srv.Close()
	d.log.Info().Stringer("segment", d.seg).Uint32("max_clients", d.maxClients).Msg("serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return driver.NewDriverServer(srv, demoService{}, d.log).Run(gctx) })
	g.Go(func() error { return d.runTelemetry(gctx) })
	err = g.Wait()
	d.report(srv)
	return err
}

// runClients dials a segment served by another process.
func (d *demo) runClients(ctx context.Context) error {
	clients := make([]*driver.DriverClient, d.clients)
	for i := range clients {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		c, err := shm.DialSegment[driver.DriverReq, driver.DriverResp](dctx, d.seg.Name, d.opts...)
		cancel()
		if err != nil {
			return fmt.Errorf("dial client %d: %w", i, err)
		}
		defer c.Close()
		clients[i] = driver.NewDriverClient(c)
	}
	return d.callAll(ctx, clients)
}

func (d *demo) report(srv *driverServer) {
	stalled, report := shm.DiagnoseRings(srv.Rings())
	ev := d.log.Debug()
	if stalled {
		ev = d.log.Warn()
	}
	ev.Int("clients", srv.Clients()).Msg("ring state\n" + report)
}
