package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lg/fitness-api/fitness"
)

// fakeSource serves fixed profiles and meals from memory.
type fakeSource struct {
	mu       sync.Mutex
	profiles map[int]userProfile
	meals    map[int][]mealLogItem
	loads    map[int]int
	err      error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		profiles: make(map[int]userProfile),
		meals:    make(map[int][]mealLogItem),
		loads:    make(map[int]int),
	}
}

func (s *fakeSource) profile(_ context.Context, userID int) (userProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[userID]++
	if s.err != nil {
		return userProfile{}, s.err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return userProfile{}, errors.New("no profile")
	}
	return p, nil
}

// mealsBetween ignores the window so tests can check the aggregator filters.
func (s *fakeSource) mealsBetween(_ context.Context, userID int, _, _ time.Time) ([]mealLogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meals[userID], nil
}

func (s *fakeSource) loadCount(userID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[userID]
}

// fakePublisher records published payloads per user.
type fakePublisher struct {
	mu        sync.Mutex
	watching  map[int]bool
	published map[int][]dashboardUpdate
	sent      chan int
}

func newFakePublisher(watching ...int) *fakePublisher {
	p := &fakePublisher{
		watching:  make(map[int]bool),
		published: make(map[int][]dashboardUpdate),
		sent:      make(chan int, 64),
	}
	for _, id := range watching {
		p.watching[id] = true
	}
	return p
}

func (p *fakePublisher) HasClients(userID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watching[userID]
}

func (p *fakePublisher) WatchedUsers() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []int
	for id, on := range p.watching {
		if on {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *fakePublisher) watch(userID int, on bool) {
	p.mu.Lock()
	p.watching[userID] = on
	p.mu.Unlock()
}

func (p *fakePublisher) Broadcast(userID int, payload any) error {
	p.mu.Lock()
	p.published[userID] = append(p.published[userID], payload.(dashboardUpdate))
	p.mu.Unlock()
	p.sent <- userID
	return nil
}

func (p *fakePublisher) count(userID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published[userID])
}

func (p *fakePublisher) last(userID int) dashboardUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.published[userID]
	return list[len(list)-1]
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }
func strp(v string) *string  { return &v }

func referenceProfile(userID int) userProfile {
	return userProfile{
		UserID:             userID,
		WeightKg:           f64(70),
		HeightCm:           f64(175),
		AgeYears:           intp(30),
		ActivityLevel:      strp("moderate"),
		Goal:               strp("generalFitness"),
		Timezone:           "UTC",
		SubscriptionStatus: "free",
	}
}

/* ─── buildDashboard ─────────────────────────────────────────────────── */

func TestBuildDashboard(t *testing.T) {
	now := time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	src := newFakeSource()
	p := referenceProfile(1)
	p.StreakCount = 4
	p.LastWorkoutAt = &yesterday
	src.profiles[1] = p
	src.meals[1] = []mealLogItem{
		{LoggedAt: now.Add(-10 * time.Hour), Calories: 500, ProteinG: 30, CarbsG: 60, FatG: 10},
		{LoggedAt: now.Add(-2 * time.Hour), Calories: 700, ProteinG: 50, CarbsG: 70, FatG: 20},
		// Yesterday and later than now: both outside the day window.
		{LoggedAt: yesterday, Calories: 999},
		{LoggedAt: now.Add(time.Hour), Calories: 888},
	}

	dash, err := buildDashboard(context.Background(), src, 1, now)
	require.NoError(t, err)

	assert.Equal(t, "2026-06-10", dash.Date)
	assert.Equal(t, fitness.Targets{Calories: 2638, ProteinG: 198, CarbsG: 264, FatG: 88}, dash.Targets)
	assert.Equal(t, fitness.Consumption{Calories: 1200, ProteinG: 80, CarbsG: 130, FatG: 30}, dash.Consumed)
	assert.Equal(t, 1438, dash.CaloriesLeft)
	assert.Equal(t, 4, dash.Streak)
	assert.Equal(t, "free", dash.SubscriptionStatus)
	assert.InDelta(t, 1200.0/2638.0, dash.Progress.Calories.Percent, 1e-9)
}

// TestBuildDashboard_UsesProfileTimezone checks the day and streak follow the
// user's zone, not the server's.
func TestBuildDashboard_UsesProfileTimezone(t *testing.T) {
	// 22:30 UTC on the 9th is 01:30 on the 10th in Istanbul.
	now := time.Date(2026, 6, 9, 22, 30, 0, 0, time.UTC)
	lastWorkout := time.Date(2026, 6, 8, 20, 0, 0, 0, time.UTC) // 23:00 on the 8th local

	src := newFakeSource()
	p := referenceProfile(1)
	p.Timezone = "Europe/Istanbul"
	p.StreakCount = 2
	p.LastWorkoutAt = &lastWorkout
	src.profiles[1] = p
	src.meals[1] = []mealLogItem{
		{LoggedAt: time.Date(2026, 6, 9, 21, 30, 0, 0, time.UTC), Calories: 300}, // 00:30 local on the 10th
		{LoggedAt: time.Date(2026, 6, 9, 20, 30, 0, 0, time.UTC), Calories: 400}, // 23:30 local on the 9th
	}

	dash, err := buildDashboard(context.Background(), src, 1, now)
	require.NoError(t, err)

	assert.Equal(t, "2026-06-10", dash.Date)
	assert.Equal(t, "Europe/Istanbul", dash.Timezone)
	assert.Equal(t, 300.0, dash.Consumed.Calories)
	assert.Equal(t, 0, dash.Streak, "last workout was two local days ago")
}

func TestBuildDashboard_MissingMetricsUsesDefaults(t *testing.T) {
	src := newFakeSource()
	src.profiles[1] = userProfile{UserID: 1, Timezone: "UTC"}

	dash, err := buildDashboard(context.Background(), src, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, fitness.DefaultTargets, dash.Targets)
	assert.Equal(t, 0, dash.Streak)
}

func TestBuildDashboard_SourceError(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("db down")

	_, err := buildDashboard(context.Background(), src, 1, time.Now())
	assert.ErrorContains(t, err, "db down")
}

/* ─── Coordinator ────────────────────────────────────────────────────── */

func startCoordinator(t *testing.T, d *dashboardCoordinator) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("coordinator did not stop")
		}
	}
}

func waitPublished(t *testing.T, pub *fakePublisher, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-pub.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for publish %d of %d", i+1, n)
		}
	}
}

// TestCoordinator_CoalescesBurst checks a burst of notifications for one user
// yields a single recompute and a single publish.
func TestCoordinator_CoalescesBurst(t *testing.T) {
	src := newFakeSource()
	src.profiles[1] = referenceProfile(1)
	src.profiles[2] = referenceProfile(2)
	pub := newFakePublisher(1, 2)

	d := newDashboardCoordinator(src, pub, 20*time.Millisecond)
	stop := startCoordinator(t, d)
	defer stop()

	for i := 0; i < 10; i++ {
		d.Notify(1)
	}
	d.Notify(2)

	waitPublished(t, pub, 2)
	// Give a stray extra publish a chance to show up.
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, pub.count(1))
	assert.Equal(t, 1, pub.count(2))
	assert.Equal(t, 1, src.loadCount(1))

	update := pub.last(1)
	assert.Equal(t, dashboardUpdatedKind, update.Kind)
	assert.Equal(t, 2638, update.Dashboard.Targets.Calories)
}

func TestCoordinator_SeparateBurstsPublishAgain(t *testing.T) {
	src := newFakeSource()
	src.profiles[1] = referenceProfile(1)
	pub := newFakePublisher(1)

	d := newDashboardCoordinator(src, pub, 10*time.Millisecond)
	stop := startCoordinator(t, d)
	defer stop()

	d.Notify(1)
	waitPublished(t, pub, 1)
	d.Notify(1)
	waitPublished(t, pub, 1)

	assert.Equal(t, 2, pub.count(1))
}

func TestCoordinator_SkipsUnwatchedUsers(t *testing.T) {
	src := newFakeSource()
	src.profiles[1] = referenceProfile(1)
	src.profiles[2] = referenceProfile(2)
	pub := newFakePublisher(2)

	d := newDashboardCoordinator(src, pub, 10*time.Millisecond)
	stop := startCoordinator(t, d)
	defer stop()

	d.Notify(1)
	d.Notify(2)
	waitPublished(t, pub, 1)

	assert.Equal(t, 0, pub.count(1))
	assert.Equal(t, 0, src.loadCount(1))
}

func TestCoordinator_ComputeErrorDoesNotPublish(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("db down")
	pub := newFakePublisher(1)

	d := newDashboardCoordinator(src, pub, 5*time.Millisecond)
	stop := startCoordinator(t, d)
	defer stop()

	d.Notify(1)
	require.Eventually(t, func() bool { return src.loadCount(1) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pub.count(1))
}

// TestCoordinator_NotifyNeverBlocks checks Notify returns even when no Run
// loop is draining.
func TestCoordinator_NotifyNeverBlocks(t *testing.T) {
	d := newDashboardCoordinator(newFakeSource(), newFakePublisher(), time.Second)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.Notify(i % 7)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
	assert.Len(t, d.takeDirty(), 7)
	assert.Empty(t, d.takeDirty())
}

func TestCoordinator_StopsOnCancelDuringDebounce(t *testing.T) {
	src := newFakeSource()
	src.profiles[1] = referenceProfile(1)
	pub := newFakePublisher(1)

	d := newDashboardCoordinator(src, pub, time.Hour)
	stop := startCoordinator(t, d)

	d.Notify(1)
	time.Sleep(10 * time.Millisecond)
	stop()

	assert.Equal(t, 0, pub.count(1))
}

/* ─── Day rollover ───────────────────────────────────────────────────── */

// TestCoordinator_RolloverAtLocalMidnight checks a watched dashboard is
// recomputed once its user's local date changes, and not before.
func TestCoordinator_RolloverAtLocalMidnight(t *testing.T) {
	src := newFakeSource()
	p := referenceProfile(1)
	p.Timezone = "Europe/Istanbul"
	src.profiles[1] = p
	pub := newFakePublisher(1)

	// 20:50 UTC is 23:50 in Istanbul.
	clock := time.Date(2026, 6, 9, 20, 50, 0, 0, time.UTC)
	d := newDashboardCoordinator(src, pub, time.Millisecond)
	d.now = func() time.Time { return clock }

	d.refresh(context.Background(), 1)
	require.Equal(t, 1, pub.count(1))
	assert.Equal(t, "2026-06-09", pub.last(1).Dashboard.Date)

	d.rollover(clock.Add(5 * time.Minute))
	assert.Empty(t, d.takeDirty(), "still the 9th locally")

	// 21:01 UTC is 00:01 on the 10th, while the server's UTC date is still the 9th.
	clock = time.Date(2026, 6, 9, 21, 1, 0, 0, time.UTC)
	d.rollover(clock)
	assert.Equal(t, []int{1}, d.takeDirty())

	d.flush(context.Background())
	require.Equal(t, 2, pub.count(1))
	assert.Equal(t, "2026-06-10", pub.last(1).Dashboard.Date)

	d.rollover(clock.Add(time.Minute))
	assert.Empty(t, d.takeDirty(), "already published for the 10th")
}

func TestCoordinator_RolloverNotifiesUnpublishedWatchers(t *testing.T) {
	d := newDashboardCoordinator(newFakeSource(), newFakePublisher(3), time.Millisecond)

	d.rollover(time.Now())
	assert.Equal(t, []int{3}, d.takeDirty())
}

func TestCoordinator_RolloverForgetsUnwatchedUsers(t *testing.T) {
	src := newFakeSource()
	src.profiles[1] = referenceProfile(1)
	pub := newFakePublisher(1)
	now := time.Date(2026, 6, 9, 12, 0, 0, 0, time.UTC)

	d := newDashboardCoordinator(src, pub, time.Millisecond)
	d.now = func() time.Time { return now }
	d.refresh(context.Background(), 1)
	require.Contains(t, d.published, 1)

	pub.watch(1, false)
	d.rollover(now.AddDate(0, 0, 1))
	assert.Empty(t, d.takeDirty())
	assert.NotContains(t, d.published, 1)
}
