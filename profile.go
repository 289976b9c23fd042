package main

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"lg/fitness-api/fitness"
)

// loadProfile fetches a user's profile row.
func loadProfile(ctx context.Context, pool *pgxpool.Pool, userID int) (userProfile, error) {
	return queryOne[userProfile](ctx, pool,
		"SELECT * FROM user_profiles WHERE user_id = @userID",
		pgx.NamedArgs{"userID": userID})
}

// populateComputed fills the computed-only fields on p: targets always (the
// engine falls back to defaults), BMR/TDEE only when body metrics are present,
// and the streak as it should read at now in the user's timezone.
func populateComputed(p *userProfile, now time.Time) {
	fp := p.fitnessProfile()

	targets := fitness.ComputeTargets(fp)
	p.Targets = &targets

	if fp.HasBodyMetrics() {
		bmr := int(math.Round(fitness.BMR(fp)))
		tdee := int(math.Round(fitness.TDEE(fp)))
		p.ComputedBMR = &bmr
		p.ComputedTDEE = &tdee
	}

	streak := fitness.EvaluateStreak(p.StreakCount, p.LastWorkoutAt, now.In(p.location()))
	p.Streak = &streak
}

// getProfile returns the authenticated user's profile with computed targets.
// GET /api/profile.
func (h *Handler) getProfile(c *gin.Context) {
	userID := c.GetInt("user_id")

	p, err := loadProfile(c, h.db, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			apiError(c, http.StatusNotFound, "profile not found")
		} else {
			apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		}
		return
	}

	populateComputed(&p, h.clock())
	c.JSON(http.StatusOK, p)
}

// validateProfilePatch rejects values the engine must never see: negative or
// non-finite numbers, unknown enum strings and unknown timezones. Enum values
// are normalised to their canonical spelling in place.
func validateProfilePatch(body *patchProfileRequest) string {
	if body.WeightKg != nil && !validMeasure(*body.WeightKg, 500) {
		return "weight_kg must be between 0 and 500"
	}
	if body.HeightCm != nil && !validMeasure(*body.HeightCm, 300) {
		return "height_cm must be between 0 and 300"
	}
	if body.AgeYears != nil && (*body.AgeYears < 0 || *body.AgeYears > 130) {
		return "age_years must be between 0 and 130"
	}
	if body.Gender != nil {
		g, ok := fitness.ParseGender(*body.Gender)
		if !ok {
			return "gender must be one of: male, female"
		}
		s := string(g)
		body.Gender = &s
	}
	if body.ActivityLevel != nil {
		level, ok := fitness.ParseActivityLevel(*body.ActivityLevel)
		if !ok {
			names := make([]string, 0, 4)
			for _, l := range fitness.ActivityLevels() {
				names = append(names, string(l))
			}
			return "activity_level must be one of: " + strings.Join(names, ", ")
		}
		s := string(level)
		body.ActivityLevel = &s
	}
	if body.Goal != nil {
		goal, ok := fitness.ParseGoal(*body.Goal)
		if !ok {
			return "goal must be one of: fatLoss, muscleGain, generalFitness"
		}
		s := string(goal)
		body.Goal = &s
	}
	if body.Timezone != nil {
		if _, err := time.LoadLocation(*body.Timezone); err != nil || *body.Timezone == "" {
			return "timezone must be an IANA zone name such as Europe/Istanbul"
		}
	}
	return ""
}

// validMeasure reports whether v is finite and within [0, upper].
func validMeasure(v, upper float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= upper
}

// patchProfile updates only the provided profile fields.
// PATCH /api/profile. Uses pointer fields in the request body to distinguish
// "not provided" from zero; only non-nil fields get updated. A weight change
// also records today's entry in the weight log.
func (h *Handler) patchProfile(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body patchProfileRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateProfilePatch(&body); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	// Build SET clause dynamically, only for fields the client actually sent
	setClauses := []string{}
	args := pgx.NamedArgs{"userID": userID}

	add := func(column, arg string, value any) {
		setClauses = append(setClauses, column+" = @"+arg)
		args[arg] = value
	}
	if body.Name != nil {
		add("name", "name", *body.Name)
	}
	if body.WeightKg != nil {
		add("weight_kg", "weightKg", *body.WeightKg)
	}
	if body.HeightCm != nil {
		add("height_cm", "heightCm", *body.HeightCm)
	}
	if body.AgeYears != nil {
		add("age_years", "ageYears", *body.AgeYears)
	}
	if body.Gender != nil {
		add("gender", "gender", *body.Gender)
	}
	if body.ActivityLevel != nil {
		add("activity_level", "activityLevel", *body.ActivityLevel)
	}
	if body.Goal != nil {
		add("goal", "goal", *body.Goal)
	}
	if body.Timezone != nil {
		add("timezone", "timezone", *body.Timezone)
	}
	if body.SetupComplete != nil {
		add("setup_complete", "setupComplete", *body.SetupComplete)
	}

	if len(setClauses) == 0 {
		apiError(c, http.StatusBadRequest, "no fields to update")
		return
	}

	before, err := loadProfile(c, h.db, userID)
	if err != nil {
		apiError(c, http.StatusNotFound, "profile not found")
		return
	}

	query := "UPDATE user_profiles SET " +
		strings.Join(setClauses, ", ") +
		", updated_at = now() WHERE user_id = @userID RETURNING *"

	p, err := queryOne[userProfile](c, h.db, query, args)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to update profile")
		return
	}

	if body.WeightKg != nil && *body.WeightKg > 0 &&
		(before.WeightKg == nil || *before.WeightKg != *body.WeightKg) {
		today := h.clock().In(p.location()).Format("2006-01-02")
		if _, err := h.db.Exec(c,
			`INSERT INTO weight_log (user_id, date, weight_kg)
			 VALUES (@userID, @date, @weightKg)
			 ON CONFLICT (user_id, date) DO UPDATE SET weight_kg = EXCLUDED.weight_kg`,
			pgx.NamedArgs{"userID": userID, "date": today, "weightKg": *body.WeightKg}); err != nil {
			log.WithField("user_id", userID).Errorf("[patchProfile] weight log insert failed: %v", err)
		}
	}

	h.notifyDashboard(userID)
	populateComputed(&p, h.clock())
	c.JSON(http.StatusOK, p)
}
