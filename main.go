package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// newRouter builds the gin engine with recovery, request logging and metrics.
func newRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), requestMetrics())
	_ = router.SetTrustedProxies(nil)
	h.registerRoutes(router)
	return router
}

// requestLogger logs one line per request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if uid, ok := c.Get("user_id"); ok {
			entry = entry.WithField("user_id", uid)
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	closeLog := setupLogging(cfg)

	if err := run(cfg); err != nil {
		log.Error(err)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

// run serves until SIGINT/SIGTERM or a server failure, then shuts down. Only
// a failure is returned as an error.
func run(cfg *Config) error {
	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := newDBPool(dbCtx, cfg.DBURL)
	dbCancel()
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	log.Info("database connected")

	hub := newRealtimeHub()
	coordinator := newDashboardCoordinator(pgDashboardSource{db: pool}, hub, cfg.DashboardDebounce)
	limiter := newUserRateLimiter(cfg.AIRequestsPerMinute)

	if cfg.OpenAIKey == "" {
		log.Warn("OPENAI_API_KEY not set, AI endpoints will fail")
	}

	h := &Handler{
		db:         pool,
		ai:         newAIClient(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.OpenAIModel),
		aiLimiter:  limiter,
		dashboards: coordinator,
		hub:        hub,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); coordinator.Run(ctx) }()
	go func() { defer wg.Done(); limiter.run(ctx) }()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failure error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			failure = fmt.Errorf("http server: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	wg.Wait()
	log.Info("server stopped")
	return failure
}
