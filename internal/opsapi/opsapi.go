// Package opsapi exposes the ops-only HTTP surface named in SPEC_FULL.md
// §12.1: liveness, Prometheus scraping, and run-status lookup. Routing and
// middleware ordering (OTel span first, recovery, then request logging)
// are grounded on the teacher's cmd/server/main.go setupRouter; the route
// set itself is trimmed to these three endpoints since the Core has no
// end-user-facing dashboard.
package opsapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"log/slog"

	"devmatrix.dev/core/core/config"
	"devmatrix.dev/core/internal/store"
)

// Router builds the ops API's gin engine.
func Router(cfg config.Config, runs store.RunStore) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates the span, recovery catches panics inside
	// it, logging runs last so it can see the final status code.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(recovery())
	router.Use(requestLogger())

	router.GET("/healthz", handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/runs/:id", handleGetRun(runs))

	return router
}

func handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleGetRun(runs store.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("id")

		rec, err := runs.GetByID(c.Request.Context(), runID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "get run failed", "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"run_id":     rec.RunID,
			"status":     rec.Status,
			"report":     rec.Report,
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
		})
	}
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(c.Request.Context(), "ops api panic recovered", "error", r, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "ops api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
