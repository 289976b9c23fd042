package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"lg/fitness-api/fitness"
)

// dashboard is the home-screen view of a user's day: targets, what has been
// eaten so far, progress per macro and the current streak.
type dashboard struct {
	UserID             int                   `json:"user_id"`
	Date               string                `json:"date"`
	Timezone           string                `json:"timezone"`
	Targets            fitness.Targets       `json:"targets"`
	Consumed           fitness.Consumption   `json:"consumed"`
	Progress           fitness.MacroProgress `json:"progress"`
	CaloriesLeft       int                   `json:"calories_left"`
	Streak             int                   `json:"streak"`
	LastWorkoutAt      *time.Time            `json:"last_workout_at"`
	SubscriptionStatus string                `json:"subscription_status"`
	ComputedAt         time.Time             `json:"computed_at"`
}

// dashboardUpdate is the websocket message pushed when a dashboard changes.
type dashboardUpdate struct {
	Kind      string    `json:"kind"`
	Dashboard dashboard `json:"dashboard"`
}

const dashboardUpdatedKind = "dashboard.updated"

// dashboardSource loads the inputs of a dashboard.
type dashboardSource interface {
	profile(ctx context.Context, userID int) (userProfile, error)
	mealsBetween(ctx context.Context, userID int, start, end time.Time) ([]mealLogItem, error)
}

// dashboardPublisher delivers computed dashboards to connected clients.
type dashboardPublisher interface {
	HasClients(userID int) bool
	WatchedUsers() []int
	Broadcast(userID int, payload any) error
}

// pgDashboardSource reads dashboard inputs from Postgres.
type pgDashboardSource struct {
	db *pgxpool.Pool
}

func (s pgDashboardSource) profile(ctx context.Context, userID int) (userProfile, error) {
	return loadProfile(ctx, s.db, userID)
}

func (s pgDashboardSource) mealsBetween(ctx context.Context, userID int, start, end time.Time) ([]mealLogItem, error) {
	return queryMany[mealLogItem](ctx, s.db,
		`SELECT * FROM meal_log_items
		 WHERE user_id = @userID AND logged_at >= @start AND logged_at < @end
		 ORDER BY logged_at`,
		pgx.NamedArgs{"userID": userID, "start": start, "end": end})
}

// buildDashboard computes userID's dashboard as of now. The meal query is
// narrowed to the local day; the aggregator applies the authoritative window.
func buildDashboard(ctx context.Context, src dashboardSource, userID int, now time.Time) (dashboard, error) {
	p, err := src.profile(ctx, userID)
	if err != nil {
		return dashboard{}, fmt.Errorf("load profile: %w", err)
	}

	loc := p.location()
	asOf := now.In(loc)
	start, end := fitness.DayWindow(asOf)

	items, err := src.mealsBetween(ctx, userID, start, end)
	if err != nil {
		return dashboard{}, fmt.Errorf("load meals: %w", err)
	}

	targets := fitness.ComputeTargets(p.fitnessProfile())
	consumed := fitness.AggregateConsumption(toMeals(items), asOf)

	return dashboard{
		UserID:             userID,
		Date:               asOf.Format("2006-01-02"),
		Timezone:           loc.String(),
		Targets:            targets,
		Consumed:           consumed,
		Progress:           fitness.Progress(consumed, targets),
		CaloriesLeft:       caloriesLeft(targets, consumed),
		Streak:             fitness.EvaluateStreak(p.StreakCount, p.LastWorkoutAt, asOf),
		LastWorkoutAt:      p.LastWorkoutAt,
		SubscriptionStatus: string(fitness.ParseSubscriptionStatus(p.SubscriptionStatus)),
		ComputedAt:         now,
	}, nil
}

/* ─── Coordinator ────────────────────────────────────────────────────── */

// rolloverInterval is how often watched dashboards are checked for a new
// local day.
const rolloverInterval = time.Minute

// dashboardCoordinator recomputes dashboards when their inputs change. Each
// change calls Notify; notifications that arrive within one debounce window
// are merged so a burst of edits produces a single recompute and publish.
// Watched dashboards are also recomputed once their user's local day ends.
type dashboardCoordinator struct {
	src      dashboardSource
	pub      dashboardPublisher
	debounce time.Duration
	now      func() time.Time

	mu    sync.Mutex
	dirty map[int]struct{}
	wake  chan struct{}

	// owned by the Run goroutine
	published map[int]publishedDay
}

// publishedDay is the local date of the last dashboard sent to a user.
type publishedDay struct {
	date string
	loc  *time.Location
}

func newDashboardCoordinator(src dashboardSource, pub dashboardPublisher, debounce time.Duration) *dashboardCoordinator {
	return &dashboardCoordinator{
		src:      src,
		pub:      pub,
		debounce: debounce,
		now:      time.Now,
		dirty:    make(map[int]struct{}),
		wake:     make(chan struct{}, 1),

		published: make(map[int]publishedDay),
	}
}

// Notify marks userID's dashboard stale. Never blocks.
func (d *dashboardCoordinator) Notify(userID int) {
	d.mu.Lock()
	if _, pending := d.dirty[userID]; pending {
		dashboardNotificationsCoalesced.Inc()
	} else {
		d.dirty[userID] = struct{}{}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run processes notifications until ctx is cancelled.
func (d *dashboardCoordinator) Run(ctx context.Context) {
	timer := time.NewTimer(d.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	ticker := time.NewTicker(rolloverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.rollover(d.now())
			continue
		case <-d.wake:
		}

		timer.Reset(d.debounce)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		d.flush(ctx)
	}
}

// takeDirty swaps out the pending set.
func (d *dashboardCoordinator) takeDirty() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dirty) == 0 {
		return nil
	}
	ids := make([]int, 0, len(d.dirty))
	for id := range d.dirty {
		ids = append(ids, id)
	}
	d.dirty = make(map[int]struct{})
	return ids
}

func (d *dashboardCoordinator) flush(ctx context.Context) {
	for _, userID := range d.takeDirty() {
		if ctx.Err() != nil {
			return
		}
		// Nobody is watching; the next GET computes it fresh.
		if !d.pub.HasClients(userID) {
			continue
		}
		d.refresh(ctx, userID)
	}
}

// rollover notifies watched users whose local date moved past the last
// published dashboard, or who have not had one from the coordinator yet.
// Users nobody watches are forgotten.
func (d *dashboardCoordinator) rollover(now time.Time) {
	watched := make(map[int]struct{})
	for _, userID := range d.pub.WatchedUsers() {
		watched[userID] = struct{}{}
		day, ok := d.published[userID]
		if !ok || now.In(day.loc).Format("2006-01-02") != day.date {
			d.Notify(userID)
		}
	}
	for userID := range d.published {
		if _, ok := watched[userID]; !ok {
			delete(d.published, userID)
		}
	}
}

func (d *dashboardCoordinator) refresh(ctx context.Context, userID int) {
	logger := log.WithField("user_id", userID)

	dash, err := buildDashboard(ctx, d.src, userID, d.now())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			dashboardFailures.WithLabelValues("compute").Inc()
			logger.Errorf("[dashboardCoordinator] recompute failed: %v", err)
		}
		return
	}
	dashboardsRecomputed.Inc()

	if loc, err := time.LoadLocation(dash.Timezone); err == nil {
		d.published[userID] = publishedDay{date: dash.Date, loc: loc}
	}

	if err := d.pub.Broadcast(userID, dashboardUpdate{Kind: dashboardUpdatedKind, Dashboard: dash}); err != nil {
		dashboardFailures.WithLabelValues("broadcast").Inc()
		logger.Warnf("[dashboardCoordinator] broadcast failed: %v", err)
	}
}

/* ─── Handlers ───────────────────────────────────────────────────────── */

// getDashboard returns the current dashboard.
// GET /api/dashboard.
func (h *Handler) getDashboard(c *gin.Context) {
	userID := c.GetInt("user_id")

	dash, err := buildDashboard(c, pgDashboardSource{db: h.db}, userID, h.clock())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			apiError(c, http.StatusNotFound, "profile not found")
		} else {
			apiError(c, http.StatusInternalServerError, "failed to build dashboard")
		}
		return
	}

	c.JSON(http.StatusOK, dash)
}

// dashboardWS streams dashboard updates over a websocket. The current
// dashboard is sent first, then one message per recompute.
// GET /api/dashboard/ws (token may be passed as ?token= for browsers).
func (h *Handler) dashboardWS(c *gin.Context) {
	userID := c.GetInt("user_id")
	if h.hub == nil {
		apiError(c, http.StatusServiceUnavailable, "realtime updates unavailable")
		return
	}

	var initial any
	if dash, err := buildDashboard(c, pgDashboardSource{db: h.db}, userID, h.clock()); err != nil {
		log.WithField("user_id", userID).Warnf("[dashboardWS] initial dashboard: %v", err)
	} else {
		initial = dashboardUpdate{Kind: dashboardUpdatedKind, Dashboard: dash}
	}

	if err := h.hub.serve(c.Writer, c.Request, userID, initial); err != nil {
		log.WithField("user_id", userID).Debugf("[dashboardWS] %v", err)
	}
}
