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

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/backend/imagebackend"
	"github.com/previewd/previewd/internal/backend/officebackend"
	"github.com/previewd/previewd/internal/backend/pdfbackend"
	"github.com/previewd/previewd/internal/backend/videobackend"
	"github.com/previewd/previewd/internal/config"
	"github.com/previewd/previewd/internal/coordinator"
	"github.com/previewd/previewd/internal/httpapi"
	"github.com/previewd/previewd/internal/icons"
	"github.com/previewd/previewd/internal/janitor"
	"github.com/previewd/previewd/internal/metrics"
	"github.com/previewd/previewd/internal/source"
	"github.com/previewd/previewd/internal/store"
	"github.com/previewd/previewd/internal/workpool"
)

func main() {
	// Self-contained healthcheck for scratch containers (no curl/wget available).
	// Usage: previewd -healthcheck
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		resp, err := http.Get("http://127.0.0.1:3000/")
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	img := imagebackend.New(logger, cfg.FileRoot)
	pdf := pdfbackend.New(logger, img)
	office := officebackend.New(logger, pdf, officebackend.Config{
		Addr:       cfg.SofficeAddr,
		Port:       cfg.SofficePort,
		Timeout:    cfg.SofficeTimeout,
		Retry:      cfg.SofficeRetry,
		MaxWorkers: cfg.MaxOfficeWorkers,
	})
	video := videobackend.New(logger, "images/film-overlay.png")

	registry := backend.NewRegistry(office, pdf, img, video)

	st := store.New(cfg.StoreRoot, logger)
	fallback := icons.New(cfg.IconRoot, cfg.IconRedirect, cfg.IconResize, img, logger)

	coord := &coordinator.Coordinator{
		Source:    source.New(cfg.FileRoot, cfg.MaxFileSize, nil),
		Store:     st,
		Icons:     fallback,
		Registry:  registry,
		Pool:      workpool.New(cfg.Workers),
		Logger:    logger,
		Observer:  m,
		MaxWidth:  cfg.MaxWidth,
		MaxHeight: cfg.MaxHeight,
		MaxPages:  cfg.MaxPages,
	}

	handler := httpapi.NewHandler(coord, registry, m, logger)
	handler.DefaultFormat = cfg.DefaultFormat
	handler.DefaultWidth = cfg.DefaultWidth
	handler.DefaultHeight = cfg.DefaultHeight
	handler.CacheControl = cfg.CacheControl
	handler.XAccelRedirect = cfg.XAccelRedirect
	handler.FileRoot = cfg.FileRoot
	handler.StoreRoot = cfg.StoreRoot

	if st.Enabled() {
		jan := janitor.New(cfg.StoreRoot, cfg.CleanupInterval, cfg.CleanupMaxSize,
			cfg.CleanupMaxAge, logger, m)
		go jan.Run(ctx)
	}

	// Wrap with h2c for cleartext HTTP/2 support alongside HTTP/1.1
	h2s := &http2.Server{}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h2c.NewHandler(handler, h2s),
	}

	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr, "store", cfg.StoreRoot != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
