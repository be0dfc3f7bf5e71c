package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Dipeshbist/Yeti-Server/internal/logging"
)

func main() {
	addr := pflag.String("addr", ":18080", "listen address")
	devices := pflag.Int("devices", 6, "number of simulated devices")
	interval := pflag.Duration("interval", 2*time.Second, "stream push interval")
	latency := pflag.Duration("latency", 0, "artificial REST latency")
	hotRate := pflag.Float64("hot-rate", 0.1, "probability a pushed temperature breaches 80")
	seed := pflag.Int64("seed", 0, "random seed, 0 for time based")
	logLevel := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	logger, err := logging.New(*logLevel, "console", "fake-tb")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srv := newFakeTBServer(serverConfig{
		Devices:  *devices,
		Latency:  *latency,
		Interval: *interval,
		HotRate:  *hotRate,
		Seed:     *seed,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: *addr, Handler: srv.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("fake thingsboard listening", zap.String("addr", *addr), zap.Strings("devices", srv.deviceIDs()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("listen", zap.Error(err))
	}
}
