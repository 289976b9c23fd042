package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// dashboardNotifier is told whenever a user's profile, meals or workouts change.
type dashboardNotifier interface {
	Notify(userID int)
}

// Handler holds shared dependencies (db pool, AI client, dashboard fan-out)
// for all route handlers.
type Handler struct {
	db         *pgxpool.Pool
	ai         *aiClient
	aiLimiter  *userRateLimiter
	dashboards dashboardNotifier
	hub        *realtimeHub
	workouts   workoutStore     // nil means Postgres via db
	community  communityStore   // nil means Postgres via db
	now        func() time.Time // overridable for tests
}

// clock returns the current time, via h.now when set.
func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// notifyDashboard queues a dashboard recompute for userID. No-op without a
// coordinator (e.g. in handler tests).
func (h *Handler) notifyDashboard(userID int) {
	if h.dashboards != nil {
		h.dashboards.Notify(userID)
	}
}

/* ─── Database helpers ────────────────────────────────────────────────── */

// queryOne runs a query and scans the first row into T using RowToStructByName.
// Logs query and scan errors for debugging (e.g. struct/column mismatches).
func queryOne[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args pgx.NamedArgs) (T, error) {
	rows, err := pool.Query(ctx, sql, args)
	if err != nil {
		log.Errorf("[queryOne] query error: %v", err)
		var zero T
		return zero, err
	}
	result, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		log.Errorf("[queryOne] scan error: %v", err)
	}
	return result, err
}

// queryMany runs a query and scans all rows into []T using RowToStructByName.
func queryMany[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args pgx.NamedArgs) ([]T, error) {
	rows, err := pool.Query(ctx, sql, args)
	if err != nil {
		log.Errorf("[queryMany] query error: %v", err)
		return nil, err
	}
	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		log.Errorf("[queryMany] scan error: %v", err)
	}
	return results, err
}

// apiError returns a consistent JSON error response: {"error": "message"}.
func apiError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

/* ─── Server setup ────────────────────────────────────────────────────── */

// newDBPool creates a connection pool. A pool (not a single conn) survives the
// provider closing idle connections.
func newDBPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse DB URL: %w", err)
	}
	// Use simple query protocol to avoid "cached plan must not change result type"
	// errors from server-side prepared statement caches after schema changes.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// registerRoutes registers all API routes on the router.
func (h *Handler) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public routes
	router.POST("/api/login", h.login)

	// Authenticated routes
	api := router.Group("/api", h.authMiddleware())
	api.GET("/dashboard", h.getDashboard)
	api.GET("/dashboard/ws", h.dashboardWS)

	api.GET("/meals/daily", h.getDailySummary)
	api.GET("/meals/week-summary", h.getWeekSummary)
	api.GET("/meals/progress", h.getProgress)
	api.GET("/meals/earliest-date", h.getEarliestLogDate)
	api.POST("/meals/items", h.createMealItem)
	api.PUT("/meals/items/:id", h.updateMealItem)
	api.DELETE("/meals/items/:id", h.deleteMealItem)
	api.POST("/meals/suggest", h.aiLimiter.middleware(), h.suggestMealItem)

	api.GET("/profile", h.getProfile)
	api.PATCH("/profile", h.patchProfile)

	api.GET("/weight-log", h.getWeightLog)
	api.POST("/weight-log", h.upsertWeightEntry)
	api.PUT("/weight-log/:id", h.updateWeightEntry)
	api.DELETE("/weight-log/:id", h.deleteWeightEntry)

	api.GET("/workouts/plans", h.listWorkoutPlans)
	api.POST("/workouts/plans", h.createWorkoutPlan)
	api.PUT("/workouts/plans/:id", h.updateWorkoutPlan)
	api.DELETE("/workouts/plans/:id", h.deleteWorkoutPlan)
	api.POST("/workouts/plans/generate", h.aiLimiter.middleware(), h.generateWorkoutPlan)
	api.POST("/workouts/complete", h.completeWorkout)
	api.GET("/workouts/log", h.getWorkoutLog)

	api.GET("/community/search", h.searchUsers)
	api.GET("/community/users/:id", h.getPublicProfile)
	api.GET("/friends", h.listFriends)
	api.POST("/friends", h.addFriend)
	api.DELETE("/friends/:id", h.removeFriend)
}
