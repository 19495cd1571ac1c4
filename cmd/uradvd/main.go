package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/netradv/uradvd"
	"github.com/netradv/uradvd/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	raw, help, err := parseFlags(os.Args[1:])
	if err != nil {
		logger.Error("failed to parse flags", "error", err.Error())
		return 1
	}
	if help {
		return 0
	}

	cfg, err := uradvd.NewConfig(raw)
	if err != nil {
		logger.Error("invalid configuration", "error", err.Error())
		return 1
	}

	diag := uradvd.NewDiagnostics(logger.With("component", "reactor"))

	clock, err := uradvd.NewSystemClock()
	if err != nil {
		logger.Error("failed to seed PRNG", "error", err.Error())
		return 1
	}

	icmp, err := uradvd.NewICMPSocket()
	if err != nil {
		logger.Error("failed to open ICMPv6 socket", "error", err.Error())
		return 1
	}
	defer icmp.Close()

	kev, err := uradvd.NewNetlinkSocket()
	if err != nil {
		logger.Error("failed to open kernel event channel", "error", err.Error())
		return 1
	}
	defer kev.Close()

	registry := prometheus.NewRegistry()
	metrics := uradvd.NewMetrics(registry)

	reactor := uradvd.NewReactor(cfg, clock, icmp, kev, uradvd.NewPoller(), diag, metrics)

	srv := server.New("localhost:8888", reactor, registry, logger.With("component", "httpServer"))
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("HTTP server stopped", "error", err.Error())
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	if err := reactor.Run(ctx); err != nil {
		logger.Error("reactor stopped with error", "error", err.Error())
		return 1
	}

	return 0
}
