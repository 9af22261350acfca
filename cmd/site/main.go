// Command site runs one site's Local Executor: the embedded SQL engine,
// the history log, and the RPC surface clients and peers talk to.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kavindu-dev/distribtx/pkg/config"
	"github.com/kavindu-dev/distribtx/pkg/controllerclient"
	"github.com/kavindu-dev/distribtx/pkg/history"
	"github.com/kavindu-dev/distribtx/pkg/logging"
	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/siteserver"
	"github.com/kavindu-dev/distribtx/pkg/sqlengine"
)

func main() {
	addr := flag.String("addr", "", "Address to bind this site (overrides config file)")
	configPath := flag.String("config", "", "Path to a site TOML config file (optional)")
	controllerAddr := flag.String("controller-addr", "", "Concurrency controller address (overrides config file)")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9101", "Address to serve /metrics on")
	debug := flag.Bool("debug", false, "Enable development-mode logging")
	flag.Parse()

	cfg, err := config.LoadSiteConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *controllerAddr != "" {
		cfg.ControllerAddr = *controllerAddr
	}

	logger, err := logging.New("site", *debug)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	engine, err := sqlengine.Open(cfg.DBPath)
	if err != nil {
		logger.Sugar().Fatalf("open sql engine: %v", err)
	}
	defer engine.Close()

	var historyLogger history.Logger
	if cfg.HistoryLogPath != "" {
		fileLogger, err := history.OpenFileLogger(cfg.HistoryLogPath)
		if err != nil {
			logger.Sugar().Fatalf("open history log: %v", err)
		}
		defer fileLogger.Close()
		historyLogger = fileLogger
	} else {
		historyLogger = history.NopLogger{}
	}

	ccClient := controllerclient.New(cfg.ControllerAddr, 10*time.Second)

	host, port, err := splitHostPort(cfg.ListenAddr)
	if err != nil {
		logger.Sugar().Fatalf("parse listen-addr: %v", err)
	}

	regCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	regResp, err := ccClient.RegisterSite(regCtx, &protocol.RegisterSiteRequest{Host: host, Port: port})
	cancel()
	if err != nil {
		logger.Sugar().Fatalf("register with controller: %v", err)
	}
	if regResp.Ret != protocol.ReturnStatusOk {
		logger.Sugar().Fatalf("controller rejected registration: %v", regResp.Error)
	}

	reg := prometheus.NewRegistry()
	executor := siteserver.New(regResp.SiteID, engine, ccClient, historyLogger, logger, reg, cfg.LockWaitTimeout.Get())

	server := siteserver.NewServer(executor, cfg.ListenAddr)

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
		logger.Sugar().Info("shutting down site...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		_ = server.Shutdown()
		engine.Close()
		os.Exit(0)
	}()

	logger.Sugar().Infof("site %d listening on %s, controller at %s, %d peers known",
		regResp.SiteID, cfg.ListenAddr, cfg.ControllerAddr, len(regResp.Peers))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Sugar().Fatalf("site server: %v", err)
	}
}

func splitHostPort(addr string) (string, uint32, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return "", 0, err
	}
	return host, uint32(port), nil
}
