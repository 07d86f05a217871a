package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/signalzero/core/internal/broker"
	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/httpapi"
	"github.com/signalzero/core/internal/identity"
	"github.com/signalzero/core/internal/logging"
	"github.com/signalzero/core/internal/metrics"
	"github.com/signalzero/core/internal/orchestrator"
	"github.com/signalzero/core/internal/pushbus"
	"github.com/signalzero/core/internal/responsehandler"
	"github.com/signalzero/core/internal/shamelist"
	"github.com/signalzero/core/internal/store"
	"github.com/signalzero/core/internal/sweeper"
	"github.com/signalzero/core/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Error().Err(err).Msg("load config")
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stdout)
	logger.Info().Msg("starting signalzero core")

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	sampler := metrics.NewSystemSampler(metricsRegistry)
	go sampler.Run(5 * time.Second)
	defer sampler.Stop()

	st := store.New(metricsRegistry)
	meter := usage.New(st, cfg, metricsRegistry)

	var brk broker.Broker
	if cfg.Broker.URL == "memory" {
		brk = broker.NewMemory()
	} else {
		brk, err = broker.NewNATS(cfg.Broker, metricsRegistry, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to broker")
		}
	}
	defer brk.Close()

	push := pushbus.New(cfg.Push.SubscriberCap, metricsRegistry)
	orch := orchestrator.New(st, meter, brk, push, metricsRegistry, logger, cfg)

	handler := responsehandler.New(st, brk, orch, metricsRegistry, logger)
	sub, err := handler.Start()
	if err != nil {
		logger.Fatal().Err(err).Msg("subscribe response handler")
	}
	defer sub.Unsubscribe()

	sweep := sweeper.New(st, logger, time.Minute, 2*cfg.Orchestrator.AgentTimeout())
	go sweep.Run()
	defer sweep.Stop()

	idMgr := identity.NewManager(cfg.Auth.JWTSecret, 24*time.Hour)

	httpSrv := httpapi.New(cfg, httpapi.Deps{
		Orchestrator: orch,
		Store:        st,
		ShameList:    shamelist.New(st),
		Push:         push,
		Identity:     idMgr,
		Metrics:      metricsRegistry,
		Registry:     reg,
	}, os.Stdout, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))).Msg("http server listening")
		serveErr <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	case <-stop:
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainBudget()+5*time.Second)
	defer cancel()

	orch.Shutdown(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}

	logger.Info().Msg("signalzero core stopped")
}
