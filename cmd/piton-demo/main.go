// Command piton-demo runs the Driver example service and its Telemetry bus.
//
// With -role all (the default) the server, the clients and the bus run in
// one process, over heap rings or over a named segment. With a segment the
// server and the clients can also run in separate processes:
//
//	piton-demo -role server -segment 'shm://driver?cap=65536&clients=4'
//	piton-demo -role client -segment driver -clients 4
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sphw/piton/internal/config"
	"github.com/sphw/piton/internal/observability"
	"github.com/sphw/piton/internal/transport/shm"
)

const (
	roleAll    = "all"
	roleServer = "server"
	roleClient = "client"
)

type flags struct {
	configPath  string
	role        string
	segment     string
	wait        string
	backend     string
	logLevel    string
	metricsAddr string
	clients     int
	calls       int
	ticks       int
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "piton-demo: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var f flags
	fs := flag.NewFlagSet("piton-demo", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&f.role, "role", roleAll, "all, server or client")
	fs.StringVar(&f.segment, "segment", "", "segment name or shm:// URL; empty uses heap rings")
	fs.StringVar(&f.wait, "wait", "", "wait strategy: spin, yield or futex")
	fs.StringVar(&f.backend, "bus-backend", "", "telemetry bus backend: ring or broadcast")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	fs.IntVar(&f.clients, "clients", 4, "number of concurrent clients")
	fs.IntVar(&f.calls, "calls", 10000, "calls per client")
	fs.IntVar(&f.ticks, "ticks", 1000, "telemetry messages to publish")
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("PITON")); err != nil {
		return err
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	lvl, err := cfg.Log.ZerologLevel()
	if err != nil {
		return err
	}
	log := observability.InitLogger("piton-demo", lvl)

	d, err := newDemo(cfg, f, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if err := shm.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if f.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: f.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", f.metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		switch f.role {
		case roleServer:
			return d.runServer(gctx)
		case roleClient:
			return d.runClients(gctx)
		default:
			return d.runAll(gctx)
		}
	})
	return g.Wait()
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if f.segment != "" {
		cfg.Service.Segment = strings.TrimSpace(f.segment)
	}
	if f.wait != "" {
		cfg.Service.Wait = strings.ToLower(f.wait)
	}
	if f.backend != "" {
		cfg.Bus.Backend = strings.ToLower(f.backend)
	}
	if f.logLevel != "" {
		cfg.Log.Level = strings.ToLower(f.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	switch f.role {
	case roleAll:
	case roleServer, roleClient:
		if cfg.Service.Segment == "" {
			return config.Config{}, fmt.Errorf("-role %s needs a segment", f.role)
		}
	default:
		return config.Config{}, fmt.Errorf("unknown role %q", f.role)
	}
	if f.clients < 0 || f.calls < 0 || f.ticks < 0 {
		return config.Config{}, errors.New("-clients, -calls and -ticks must not be negative")
	}
	return cfg, nil
}
