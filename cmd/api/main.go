package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callpilot/internal/app"
	"callpilot/internal/config"
	"callpilot/internal/httpapi"
	"callpilot/internal/metrics"
	"callpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Level())
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New(metrics.DefaultNamespace)
	a, err := app.New(rootCtx, cfg, log, app.WithMetrics(m))
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	if err := a.Start(rootCtx); err != nil {
		log.Error("app start failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		Orch:     a.Orch,
		Provider: a.Provider,
		Reports:  a.Reports,
		Bus:      a.Bus,
		Metrics:  m,
		Settings: gin.H{
			"env":          cfg.App.Env,
			"store_driver": cfg.Store.Driver,
			"redis":        cfg.RedisEnabled(),
			"phrases_file": cfg.Classifier.PhrasesFile,
			"sweep_every":  cfg.Orchestrator.SweepInterval.String(),
		},
	}

	// Event streams hold their request open and only end when this is
	// cancelled; Shutdown would otherwise wait out its deadline on them.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	h.Streams = streamCtx

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(log, h),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "in_flight", a.Orch.InFlight())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	cancelStreams()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("app shutdown failed", "err", err)
	}
}
