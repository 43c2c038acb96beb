package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/checkin/api"
	"github.com/Domenick1991/checkin/config"
	"github.com/Domenick1991/checkin/internal/service/events"
	"github.com/Domenick1991/checkin/internal/service/scanner"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether an optional backend such as the event cache is up.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Scanner scanner.ScannerUseCase
	Camera  api.CameraController
	Events  events.EventUseCase
	// Cache may be nil when no Redis is configured.
	Cache Pinger
}

// Run serves the station API and blocks until ctx is canceled or the server fails.
func Run(ctx context.Context, cfg *config.Config, deps Deps) error {
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           NewRouter(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http %s: %w", cfg.HTTP.Address, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthHandler(deps.Cache))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	api.NewScannerHandler(deps.Scanner, deps.Camera).Register(v1)
	api.NewEventHandler(deps.Events).Register(v1)

	return router
}

func healthHandler(cache Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if cache != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := cache.Ping(ctx); err != nil {
				// The station scans without a cache, so this is informational.
				status["cache"] = err.Error()
			} else {
				status["cache"] = "ok"
			}
		}
		c.JSON(http.StatusOK, status)
	}
}
