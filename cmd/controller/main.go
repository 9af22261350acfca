// Command controller runs the centralized concurrency controller: the
// global lock table, transaction registry, deadlock detector, and
// commit-time replication coordinator that every site registers with.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kavindu-dev/distribtx/pkg/config"
	"github.com/kavindu-dev/distribtx/pkg/controller"
	"github.com/kavindu-dev/distribtx/pkg/logging"
)

func main() {
	addr := flag.String("addr", "", "Address to bind the controller (overrides config file)")
	configPath := flag.String("config", "", "Path to a controller TOML config file (optional)")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9100", "Address to serve /metrics on")
	debug := flag.Bool("debug", false, "Enable development-mode logging")
	flag.Parse()

	cfg, err := config.LoadControllerConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	logger, err := logging.New("controller", *debug)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	c := controller.New(controller.Config{
		LivenessInterval:   cfg.LivenessInterval.Get(),
		ReplicationTimeout: cfg.ReplicationTimeout.Get(),
		LockWaitTimeout:    cfg.DefaultLockWaitTimeout.Get(),
		DeadlockPolicy:     cfg.DeadlockPolicy,
	}, logger, reg)

	c.StartLiveness()

	server := controller.NewServer(c, cfg.ListenAddr)

	metricsServer := &http.Server{
		Addr:    *metricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Errorf("metrics server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Sugar().Info("shutting down controller...")
		c.StopLiveness()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
		_ = server.Shutdown()
		os.Exit(0)
	}()

	logger.Sugar().Infof("controller listening on %s (metrics on %s)", cfg.ListenAddr, *metricsAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Sugar().Fatalf("controller server: %v", err)
	}
}
