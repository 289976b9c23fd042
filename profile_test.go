package main

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lg/fitness-api/fitness"
)

func TestValidateProfilePatch_Normalises(t *testing.T) {
	body := patchProfileRequest{
		Gender:        strp("FEMALE"),
		ActivityLevel: strp("Active"),
		Goal:          strp("musclegain"),
		Timezone:      strp("America/New_York"),
		WeightKg:      f64(62.5),
		HeightCm:      f64(168),
		AgeYears:      intp(41),
	}
	require.Empty(t, validateProfilePatch(&body))

	assert.Equal(t, "female", *body.Gender)
	assert.Equal(t, "active", *body.ActivityLevel)
	assert.Equal(t, "muscleGain", *body.Goal)
}

func TestValidateProfilePatch_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body patchProfileRequest
	}{
		{"negative weight", patchProfileRequest{WeightKg: f64(-1)}},
		{"weight NaN", patchProfileRequest{WeightKg: f64(math.NaN())}},
		{"huge height", patchProfileRequest{HeightCm: f64(301)}},
		{"infinite height", patchProfileRequest{HeightCm: f64(math.Inf(1))}},
		{"negative age", patchProfileRequest{AgeYears: intp(-3)}},
		{"age too high", patchProfileRequest{AgeYears: intp(131)}},
		{"unknown gender", patchProfileRequest{Gender: strp("robot")}},
		{"unknown activity", patchProfileRequest{ActivityLevel: strp("extreme")}},
		{"unknown goal", patchProfileRequest{Goal: strp("bulk")}},
		{"unknown timezone", patchProfileRequest{Timezone: strp("Mars/Olympus")}},
		{"empty timezone", patchProfileRequest{Timezone: strp("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, validateProfilePatch(&tt.body))
		})
	}
}

// TestValidateProfilePatch_ZeroClearsMetric checks zero is accepted so the
// client can reset a metric back to "unknown".
func TestValidateProfilePatch_ZeroClearsMetric(t *testing.T) {
	body := patchProfileRequest{WeightKg: f64(0), HeightCm: f64(0), AgeYears: intp(0)}
	assert.Empty(t, validateProfilePatch(&body))
}

func TestPopulateComputed(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	p := referenceProfile(1)
	p.StreakCount = 6
	p.LastWorkoutAt = &yesterday
	populateComputed(&p, now)

	require.NotNil(t, p.Targets)
	assert.Equal(t, 2638, p.Targets.Calories)
	require.NotNil(t, p.ComputedBMR)
	require.NotNil(t, p.ComputedTDEE)
	assert.Equal(t, 1702, *p.ComputedBMR)
	assert.Equal(t, 2638, *p.ComputedTDEE)
	require.NotNil(t, p.Streak)
	assert.Equal(t, 6, *p.Streak)
}

func TestPopulateComputed_NoMetrics(t *testing.T) {
	lastWeek := time.Now().AddDate(0, 0, -7)
	p := userProfile{UserID: 1, Timezone: "UTC", StreakCount: 9, LastWorkoutAt: &lastWeek}
	populateComputed(&p, time.Now())

	assert.Equal(t, fitness.DefaultTargets, *p.Targets)
	assert.Nil(t, p.ComputedBMR)
	assert.Nil(t, p.ComputedTDEE)
	assert.Equal(t, 0, *p.Streak, "a week-old workout breaks the streak")
}

func TestUserProfileLocation(t *testing.T) {
	assert.Equal(t, time.UTC, (&userProfile{}).location())
	assert.Equal(t, time.UTC, (&userProfile{Timezone: "Not/AZone"}).location())
	assert.Equal(t, "Europe/Istanbul", (&userProfile{Timezone: "Europe/Istanbul"}).location().String())
}

func TestFitnessProfileFromNulls(t *testing.T) {
	p := userProfile{Gender: strp("female"), Goal: strp("fatLoss")}
	fp := p.fitnessProfile()

	assert.Equal(t, fitness.GenderFemale, fp.Gender)
	assert.Equal(t, fitness.GoalFatLoss, fp.Goal)
	assert.False(t, fp.HasBodyMetrics())
}
