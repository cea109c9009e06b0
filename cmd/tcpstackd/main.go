// Command tcpstackd runs the user-space TCP/IP stack as a standalone
// daemon: one Core per configured shard, a Prometheus /metrics endpoint,
// and a periodic CSV stats snapshot, grounded on the teacher's cmd/
// tinyrange/main.go flag+config+run wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinyrange/tcpstack/internal/config"
	"github.com/tinyrange/tcpstack/internal/core"
	"github.com/tinyrange/tcpstack/internal/ingress"
	"github.com/tinyrange/tcpstack/internal/metrics"
	"github.com/tinyrange/tcpstack/internal/nic"
	"github.com/tinyrange/tcpstack/internal/sockfd"
	"github.com/tinyrange/tcpstack/internal/statsexport"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tcpstackd exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	apply := config.BindFlags(flag.CommandLine, &cfg)
	flag.Parse()
	apply()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	reg := prometheus.NewRegistry()
	metrics.NewRegistry(reg)
	go serveMetrics(cfg.MetricsAddr, reg, log)

	addr, err := parseIPv4(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("tcpstackd: %w", err)
	}

	sys := sockfd.NewSysCounter(cfg.SysFDCap)
	icfg := ingress.Config{
		MSS:          cfg.MSS,
		RcvWnd:       cfg.RcvWndBytes,
		RcvWScale:    cfg.WScale,
		EnableWScale: cfg.WScale > 0,
		EnableSACK:   cfg.EnableSACK,
		EnableTS:     cfg.EnableTS,
		CongVariant:  cfg.CongVariant,
		Backlog:      cfg.Backlog,
	}

	numCores := cfg.NumCores
	if numCores < 1 {
		numCores = 1
	}
	// The reference driver is an in-memory loopback: each core gets its own
	// half of a crossover pair so the daemon is runnable without a real
	// AF_XDP/DPDK binding (none of the retrieved examples vendor one).
	cores := make([]*core.Core, numCores)
	for i := 0; i < numCores; i++ {
		drv := nic.NewMemDriver()
		loop := nic.NewMemDriver()
		nic.Connect(drv, loop)
		cores[i] = core.New(i, numCores, addr, drv, sys, icfg, log.With("core", i))
	}

	if cfg.StatsCSVPath != "" {
		f, err := os.Create(cfg.StatsCSVPath)
		if err != nil {
			return fmt.Errorf("tcpstackd: stats csv: %w", err)
		}
		defer f.Close()
		stop := make(chan struct{})
		defer close(stop)
		go statsexport.WriteTicker(f, cfg.StatsPeriod, func() []*tcpcb.ConnState {
			var all []*tcpcb.ConnState
			for _, c := range cores {
				all = append(all, snapshotCore(c)...)
			}
			return all
		}, stop)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("tcpstackd starting", "cores", numCores, "addr", cfg.ListenAddr, "congestion", cfg.CongVariant)
	return core.RunGroup(ctx, cores)
}

// snapshotCore walks a core's flow table for statsexport; Core doesn't
// expose this directly since ordinary operation never needs every
// ConnState at once, so the walk lives here rather than growing the
// package's API for a diagnostics-only path.
func snapshotCore(c *core.Core) []*tcpcb.ConnState {
	return c.Flows.All()
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server stopped", "err", err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	var a, b, c, d int
	if n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); err != nil || n != 4 {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	out[0], out[1], out[2], out[3] = byte(a), byte(b), byte(c), byte(d)
	return out, nil
}
