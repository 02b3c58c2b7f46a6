// Command devmatrix-opsd serves the ops-only HTTP surface (liveness,
// Prometheus scraping, run-status lookup) described in SPEC_FULL.md §12.1.
// Grounded on the teacher's cmd/server/main.go: OTel initializes before the
// logger, http.Server gets the same timeout profile, and shutdown follows
// the identical ListenAndServe/signal/Shutdown sequence.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"devmatrix.dev/core/common/logger"
	"devmatrix.dev/core/common/otel"
	"devmatrix.dev/core/core/config"
	"devmatrix.dev/core/core/db"
	"devmatrix.dev/core/internal/opsapi"
	"devmatrix.dev/core/internal/store"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	runs := store.NewRunStore(database)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := opsapi.Router(cfg, runs)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "ops api starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}
