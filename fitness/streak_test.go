package fitness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(t time.Time) *time.Time { return &t }

/* ─── EvaluateStreak ─────────────────────────────────────────────────── */

func TestEvaluateStreak(t *testing.T) {
	today := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		previous int
		last     *time.Time
		want     int
	}{
		{"no workout yet", 5, nil, 0},
		{"today starts streak", 0, ptr(today.Add(-time.Hour)), 1},
		{"today keeps streak", 4, ptr(today.Add(-time.Hour)), 4},
		{"yesterday grace period", 3, ptr(today.AddDate(0, 0, -1)), 3},
		{"yesterday with zero streak", 0, ptr(today.AddDate(0, 0, -1)), 0},
		{"two days ago breaks", 3, ptr(today.AddDate(0, 0, -2)), 0},
		{"last month breaks", 30, ptr(today.AddDate(0, -1, 0)), 0},
		{"negative previous clamps", -2, ptr(today), 1},
		{"future workout counts as today", 2, ptr(today.AddDate(0, 0, 1)), 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateStreak(tc.previous, tc.last, today))
		})
	}
}

// TestEvaluateStreak_CalendarNotHours verifies a workout late yesterday is
// "yesterday" even when fewer than 24h have passed, and one early yesterday
// is still "yesterday" when more than 24h have passed.
func TestEvaluateStreak_CalendarNotHours(t *testing.T) {
	today := time.Date(2026, 6, 10, 0, 30, 0, 0, time.UTC)

	lateYesterday := time.Date(2026, 6, 9, 23, 45, 0, 0, time.UTC)
	assert.Equal(t, 3, EvaluateStreak(3, &lateYesterday, today))

	now := time.Date(2026, 6, 10, 23, 0, 0, 0, time.UTC)
	earlyYesterday := time.Date(2026, 6, 9, 0, 15, 0, 0, time.UTC)
	assert.Equal(t, 3, EvaluateStreak(3, &earlyYesterday, now))

	// Only 24h20m earlier, but two calendar days back.
	justAfterMidnight := time.Date(2026, 6, 10, 0, 10, 0, 0, time.UTC)
	dayBefore := time.Date(2026, 6, 8, 23, 50, 0, 0, time.UTC)
	assert.Equal(t, 0, EvaluateStreak(3, &dayBefore, justAfterMidnight))
}

// TestEvaluateStreak_ObserverTimezone verifies days are compared in today's
// location: 22:00 UTC on the 9th is already the 10th in Istanbul.
func TestEvaluateStreak_ObserverTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Istanbul")
	require.NoError(t, err)

	last := time.Date(2026, 6, 9, 22, 0, 0, 0, time.UTC)
	today := time.Date(2026, 6, 10, 9, 0, 0, 0, loc)
	assert.Equal(t, 1, EvaluateStreak(0, &last, today))

	todayUTC := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, EvaluateStreak(0, &last, todayUTC))
}

func TestEvaluateStreak_Pure(t *testing.T) {
	today := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	last := today.AddDate(0, 0, -1)
	before := last

	for i := 0; i < 3; i++ {
		assert.Equal(t, 7, EvaluateStreak(7, &last, today))
	}
	assert.Equal(t, before, last)
}

/* ─── RecordWorkout ──────────────────────────────────────────────────── */

func TestRecordWorkout_FirstWorkout(t *testing.T) {
	at := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)

	got := RecordWorkout(StreakState{}, at)
	assert.Equal(t, 1, got.Count)
	require.NotNil(t, got.LastWorkoutDate)
	assert.Equal(t, at, *got.LastWorkoutDate)
}

// TestRecordWorkout_ConsecutiveDays walks a week of daily workouts.
func TestRecordWorkout_ConsecutiveDays(t *testing.T) {
	start := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

	var s StreakState
	for i := 0; i < 7; i++ {
		s = RecordWorkout(s, start.AddDate(0, 0, i))
		assert.Equal(t, i+1, s.Count)
	}
}

func TestRecordWorkout_SameDayCountsOnce(t *testing.T) {
	morning := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 6, 10, 19, 0, 0, 0, time.UTC)

	s := RecordWorkout(StreakState{Count: 4, LastWorkoutDate: ptr(morning.AddDate(0, 0, -1))}, morning)
	require.Equal(t, 5, s.Count)

	s = RecordWorkout(s, evening)
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, evening, *s.LastWorkoutDate)
}

func TestRecordWorkout_SameDayOutOfOrderKeepsLatest(t *testing.T) {
	morning := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 6, 10, 19, 0, 0, 0, time.UTC)

	s := RecordWorkout(StreakState{Count: 2, LastWorkoutDate: &evening}, morning)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, evening, *s.LastWorkoutDate)
}

func TestRecordWorkout_GapRestarts(t *testing.T) {
	at := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)

	s := RecordWorkout(StreakState{Count: 12, LastWorkoutDate: ptr(at.AddDate(0, 0, -3))}, at)
	assert.Equal(t, 1, s.Count)
}

func TestRecordWorkout_ZeroCountYesterday(t *testing.T) {
	at := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)

	s := RecordWorkout(StreakState{Count: 0, LastWorkoutDate: ptr(at.AddDate(0, 0, -1))}, at)
	assert.Equal(t, 1, s.Count)
}

// TestRecordWorkout_StaleEventIgnored verifies a completion from an earlier day
// than the stored last workout does not rewind the state.
func TestRecordWorkout_StaleEventIgnored(t *testing.T) {
	last := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	in := StreakState{Count: 6, LastWorkoutDate: &last}

	got := RecordWorkout(in, last.AddDate(0, 0, -2))
	assert.Equal(t, in, got)
}

// TestRecordWorkout_ThenEvaluate checks the two functions agree: right after
// recording, the evaluator shows the recorded count today and tomorrow, and
// drops to zero the day after.
func TestRecordWorkout_ThenEvaluate(t *testing.T) {
	at := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	s := RecordWorkout(StreakState{Count: 2, LastWorkoutDate: ptr(at.AddDate(0, 0, -1))}, at)

	assert.Equal(t, 3, EvaluateStreak(s.Count, s.LastWorkoutDate, at.Add(time.Hour)))
	assert.Equal(t, 3, EvaluateStreak(s.Count, s.LastWorkoutDate, at.AddDate(0, 0, 1)))
	assert.Equal(t, 0, EvaluateStreak(s.Count, s.LastWorkoutDate, at.AddDate(0, 0, 2)))
}

/* ─── RecordWorkoutAsOf ──────────────────────────────────────────────── */

// TestRecordWorkoutAsOf_RefusesFutureDays checks a run of forward-dated
// completions cannot build a streak.
func TestRecordWorkoutAsOf_RefusesFutureDays(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

	state, ok := RecordWorkoutAsOf(StreakState{}, now, now)
	require.True(t, ok)
	require.Equal(t, 1, state.Count)

	for i := 1; i <= 30; i++ {
		next, ok := RecordWorkoutAsOf(state, now.AddDate(0, 0, i), now)
		assert.False(t, ok, "day +%d", i)
		assert.Equal(t, state, next)
	}
	assert.Equal(t, 1, EvaluateStreak(state.Count, state.LastWorkoutDate, now))

	// A genuine workout later today still counts once.
	state, ok = RecordWorkoutAsOf(state, now.Add(time.Hour), now.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, 1, state.Count)
}

func TestRecordWorkoutAsOf_LaterTodayAllowed(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	state, ok := RecordWorkoutAsOf(StreakState{Count: 2, LastWorkoutDate: &yesterday}, now.Add(3*time.Hour), now)
	require.True(t, ok, "same local day, only hours ahead")
	assert.Equal(t, 3, state.Count)
}

// TestRecordWorkoutAsOf_LocalDay checks the day comparison happens in the
// completion's zone, not UTC.
func TestRecordWorkoutAsOf_LocalDay(t *testing.T) {
	ist, err := time.LoadLocation("Europe/Istanbul")
	require.NoError(t, err)

	// 20:30 UTC is 23:30 in Istanbul; 21:30 UTC is already tomorrow there.
	now := time.Date(2026, 6, 10, 20, 30, 0, 0, time.UTC)
	_, ok := RecordWorkoutAsOf(StreakState{}, time.Date(2026, 6, 10, 21, 30, 0, 0, time.UTC).In(ist), now)
	assert.False(t, ok)

	_, ok = RecordWorkoutAsOf(StreakState{}, time.Date(2026, 6, 10, 20, 45, 0, 0, time.UTC).In(ist), now)
	assert.True(t, ok)
}
