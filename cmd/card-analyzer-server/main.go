package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/internal/app"
	"github.com/menta2k/card-analyzer/internal/config"
	"github.com/menta2k/card-analyzer/internal/server"
	"github.com/menta2k/card-analyzer/internal/utils"
)

const shutdownGrace = 15 * time.Second

func main() {
	var cfgPath, envFile, addr string
	flag.StringVar(&cfgPath, "config", config.GetConfigPath(), "JSON configuration file (optional)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded before the environment")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config and CARD_ANALYZER_ADDR)")
	flag.Parse()

	if !utils.FileExists(cfgPath) {
		cfgPath = ""
	}
	cfg, err := config.Load(cfgPath, envFile)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalf("build analyzer: %v", err)
	}
	defer a.Close()

	srv := server.New(a.Analyzer, server.Options{
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}
}
