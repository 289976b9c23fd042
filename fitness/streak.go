package fitness

import "time"

// StreakState is the persisted streak counter and the last day it counted.
type StreakState struct {
	Count           int        `json:"streak_count"`
	LastWorkoutDate *time.Time `json:"last_workout_date"`
}

// dayRelation classifies a workout day against a reference day.
type dayRelation int

const (
	dayNone dayRelation = iota
	daySame
	dayPrevious
	dayOlder
)

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// relate compares calendar dates in today's location. A workout dated after
// today counts as today.
func relate(last *time.Time, today time.Time) dayRelation {
	if last == nil {
		return dayNone
	}
	loc := today.Location()
	if SameDay(*last, today, loc) {
		return daySame
	}
	if last.After(today) {
		return daySame
	}
	if SameDay(*last, today.AddDate(0, 0, -1), loc) {
		return dayPrevious
	}
	return dayOlder
}

// EvaluateStreak returns the streak to display today. A workout yesterday keeps
// the streak alive until today ends; anything older breaks it. It never
// increments; RecordWorkout does that.
func EvaluateStreak(previous int, lastWorkout *time.Time, today time.Time) int {
	if previous < 0 {
		previous = 0
	}
	switch relate(lastWorkout, today) {
	case daySame:
		return max(previous, 1)
	case dayPrevious:
		return previous
	default:
		return 0
	}
}

// RecordWorkout advances s for a workout completed at completedAt. Several
// workouts on one day count once, and a completion older than the stored last
// workout day leaves s unchanged. completedAt must not fall on a later local
// day than the current one; RecordWorkoutAsOf checks that.
func RecordWorkout(s StreakState, completedAt time.Time) StreakState {
	count := max(s.Count, 0)
	if s.LastWorkoutDate == nil {
		return StreakState{Count: 1, LastWorkoutDate: &completedAt}
	}

	last := *s.LastWorkoutDate
	loc := completedAt.Location()
	switch {
	case SameDay(last, completedAt, loc):
		// Keep the later timestamp when events arrive out of order.
		if last.After(completedAt) {
			completedAt = last
		}
		return StreakState{Count: max(count, 1), LastWorkoutDate: &completedAt}
	case last.After(completedAt):
		return s
	case SameDay(last, completedAt.AddDate(0, 0, -1), loc):
		return StreakState{Count: count + 1, LastWorkoutDate: &completedAt}
	default:
		return StreakState{Count: 1, LastWorkoutDate: &completedAt}
	}
}

// RecordWorkoutAsOf is RecordWorkout for a completion reported at now. A
// completion dated on a local day after now's is refused: s comes back
// unchanged with ok=false. Days are compared in completedAt's location.
func RecordWorkoutAsOf(s StreakState, completedAt, now time.Time) (next StreakState, ok bool) {
	if StartOfDay(completedAt).After(StartOfDay(now.In(completedAt.Location()))) {
		return s, false
	}
	return RecordWorkout(s, completedAt), true
}
