package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"policy-core/internal/archive"
	"policy-core/internal/config"
	"policy-core/internal/factory"
	"policy-core/internal/handler"
	"policy-core/internal/metrics"
	"policy-core/internal/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	if err := cfg.Validate(); err != nil {
		util.Fatal("Invalid configuration", util.ErrorField(err))
	}
	if cfg.UnverifiedTokensAllowed() {
		util.Warn("Unverified bearer tokens are accepted - never enable this outside tests")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector(reg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	f, err := factory.NewFactory(ctx, cfg, m)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	services := f.ServiceFactory()
	f.Start(ctx)

	var scheduler *archive.Scheduler
	if cfg.Archival.Enabled {
		scheduler, err = archive.NewScheduler(services.ArchivalJob(), cfg.Archival.Schedule, util.Named("archival"))
		if err != nil {
			util.Fatal("Failed to create archival scheduler", util.ErrorField(err))
		}
		scheduler.Start()
	}

	router := handler.NewRouter(cfg, services, m, f.HealthChecks(), util.Base())
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	startServer(server, cfg)
	waitForShutdown(server, scheduler, cfg)
}

func startServer(server *http.Server, cfg *config.Config) {
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("address", server.Addr),
	)
}

func waitForShutdown(server *http.Server, scheduler *archive.Scheduler, cfg *config.Config) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop(ctx)
	}
	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}
}
