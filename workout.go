package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"lg/fitness-api/fitness"
)

const planLimitMessage = "free plan limit reached, upgrade to premium for more workout plans"

// maxPlanExercises bounds the size of a stored plan.
const maxPlanExercises = 50

// createPlanRequest is the request body for POST /api/workouts/plans.
type createPlanRequest struct {
	Name      string         `json:"name"`
	Exercises []planExercise `json:"exercises"`
}

// updatePlanRequest is the request body for PUT /api/workouts/plans/:id.
// Exercises, when present, replaces the whole list.
type updatePlanRequest struct {
	Name      *string        `json:"name"`
	Exercises []planExercise `json:"exercises"`
}

// completeWorkoutRequest is the request body for POST /api/workouts/complete.
// CompletedAt defaults to now.
type completeWorkoutRequest struct {
	PlanID         *int       `json:"plan_id"`
	CompletedAt    *time.Time `json:"completed_at"`
	CaloriesBurned *int       `json:"calories_burned"`
}

// completeWorkoutResponse returns the logged entry and the streak after it.
type completeWorkoutResponse struct {
	Entry  workoutLogEntry     `json:"entry"`
	Streak int                 `json:"streak"`
	State  fitness.StreakState `json:"state"`
}

// validateExercises rejects unnamed exercises and negative set values.
func validateExercises(exercises []planExercise) string {
	if len(exercises) > maxPlanExercises {
		return fmt.Sprintf("a plan may hold at most %d exercises", maxPlanExercises)
	}
	for i, ex := range exercises {
		if strings.TrimSpace(ex.Name) == "" {
			return fmt.Sprintf("exercise %d is missing a name", i+1)
		}
		for _, s := range ex.Sets {
			if s.Reps < 0 || !nonNegativeFinite(s.WeightKg) {
				return fmt.Sprintf("exercise %q has a negative set", ex.Name)
			}
		}
	}
	return ""
}

/* ─── Plans ──────────────────────────────────────────────────────────── */

// listWorkoutPlans returns the user's plans, newest first.
// GET /api/workouts/plans.
func (h *Handler) listWorkoutPlans(c *gin.Context) {
	userID := c.GetInt("user_id")

	plans, err := queryMany[workoutPlan](c, h.db,
		"SELECT * FROM workout_plans WHERE user_id = @userID ORDER BY created_at DESC, id DESC",
		pgx.NamedArgs{"userID": userID})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch plans")
		return
	}
	if plans == nil {
		plans = []workoutPlan{}
	}
	c.JSON(http.StatusOK, plans)
}

// createWorkoutPlan saves a hand-built plan. Free users are limited to
// fitness.FreePlanLimit plans and get 403 beyond that.
// POST /api/workouts/plans.
func (h *Handler) createWorkoutPlan(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body createPlanRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		apiError(c, http.StatusBadRequest, "name is required")
		return
	}
	if msg := validateExercises(body.Exercises); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	plan, err := h.workoutDB().createPlan(c, userID, body.Name, body.Exercises, fitness.CanCreatePlan)
	if err != nil {
		writePlanError(c, userID, "createWorkoutPlan", err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// writePlanError maps plan store errors to responses.
func writePlanError(c *gin.Context, userID int, fn string, err error) {
	switch {
	case errors.Is(err, errPlanLimit):
		apiError(c, http.StatusForbidden, planLimitMessage)
	case errors.Is(err, errPlanNotFound):
		apiError(c, http.StatusNotFound, "plan not found")
	case errors.Is(err, pgx.ErrNoRows):
		apiError(c, http.StatusNotFound, "profile not found")
	default:
		log.WithField("user_id", userID).Errorf("[%s] %v", fn, err)
		apiError(c, http.StatusInternalServerError, "failed to save plan")
	}
}

// updateWorkoutPlan renames a plan or replaces its exercise list, which is
// how exercises and sets are added to an existing plan.
// PUT /api/workouts/plans/:id. Body: { "name"?, "exercises"? }.
func (h *Handler) updateWorkoutPlan(c *gin.Context) {
	userID := c.GetInt("user_id")
	planID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid plan id")
		return
	}

	var body updatePlanRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validatePlanUpdate(&body); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	plan, err := h.workoutDB().updatePlan(c, userID, planID, body.Name, body.Exercises)
	if err != nil {
		writePlanError(c, userID, "updateWorkoutPlan", err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// validatePlanUpdate trims the name and checks at least one field is set.
func validatePlanUpdate(body *updatePlanRequest) string {
	if body.Name == nil && body.Exercises == nil {
		return "no fields to update"
	}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			return "name must not be blank"
		}
		body.Name = &name
	}
	return validateExercises(body.Exercises)
}

// deleteWorkoutPlan removes a plan. Logged completions keep their history
// with plan_id cleared.
// DELETE /api/workouts/plans/:id.
func (h *Handler) deleteWorkoutPlan(c *gin.Context) {
	userID := c.GetInt("user_id")
	id := c.Param("id")

	result, err := h.db.Exec(c,
		"DELETE FROM workout_plans WHERE id = @id AND user_id = @userID",
		pgx.NamedArgs{"id": id, "userID": userID})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to delete plan")
		return
	}
	if result.RowsAffected() == 0 {
		apiError(c, http.StatusNotFound, "plan not found")
		return
	}
	c.Status(http.StatusNoContent)
}

/* ─── Completions ────────────────────────────────────────────────────── */

// maxCompletionSkew tolerates client clocks running slightly ahead.
const maxCompletionSkew = 5 * time.Minute

// validateCompletion fills the default time and rejects future or negative
// values. now is the server clock.
func validateCompletion(body *completeWorkoutRequest, now time.Time) string {
	if body.CompletedAt == nil {
		body.CompletedAt = &now
	}
	if body.CompletedAt.After(now.Add(maxCompletionSkew)) {
		return "completed_at must not be in the future"
	}
	if body.CaloriesBurned != nil && *body.CaloriesBurned < 0 {
		return "calories_burned must not be negative"
	}
	return ""
}

// completeWorkout records a finished workout and returns the updated streak.
// POST /api/workouts/complete.
func (h *Handler) completeWorkout(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body completeWorkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	now := h.clock()
	if msg := validateCompletion(&body, now); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	done := completion{PlanID: body.PlanID, CompletedAt: *body.CompletedAt, CaloriesBurned: body.CaloriesBurned}
	advance := func(state fitness.StreakState, loc *time.Location) (fitness.StreakState, error) {
		next, ok := fitness.RecordWorkoutAsOf(state, done.CompletedAt.In(loc), now)
		if !ok {
			return state, errFutureCompletion
		}
		return next, nil
	}

	entry, state, loc, err := h.workoutDB().recordCompletion(c, userID, done, advance)
	if err != nil {
		switch {
		case errors.Is(err, errFutureCompletion):
			apiError(c, http.StatusBadRequest, "completed_at must not be in the future")
		case errors.Is(err, errPlanNotFound):
			apiError(c, http.StatusNotFound, "plan not found")
		case errors.Is(err, pgx.ErrNoRows):
			apiError(c, http.StatusNotFound, "profile not found")
		default:
			log.WithField("user_id", userID).Errorf("[completeWorkout] %v", err)
			apiError(c, http.StatusInternalServerError, "failed to record workout")
		}
		return
	}

	h.notifyDashboard(userID)
	c.JSON(http.StatusCreated, completeWorkoutResponse{
		Entry:  entry,
		Streak: fitness.EvaluateStreak(state.Count, state.LastWorkoutDate, now.In(loc)),
		State:  state,
	})
}

// getWorkoutLog returns completions within [start, end] local dates, newest
// first. GET /api/workouts/log?start=YYYY-MM-DD&end=YYYY-MM-DD. Both optional;
// the default is the last 30 days.
func (h *Handler) getWorkoutLog(c *gin.Context) {
	userID := c.GetInt("user_id")

	profile, err := loadProfile(c, h.db, userID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}
	loc := profile.location()
	today := fitness.StartOfDay(h.clock().In(loc))

	start, end := today.AddDate(0, 0, -29), today
	if s := c.Query("start"); s != "" {
		if start, err = parseLocalDate(s, loc); err != nil {
			apiError(c, http.StatusBadRequest, "invalid start, expected YYYY-MM-DD")
			return
		}
	}
	if s := c.Query("end"); s != "" {
		if end, err = parseLocalDate(s, loc); err != nil {
			apiError(c, http.StatusBadRequest, "invalid end, expected YYYY-MM-DD")
			return
		}
	}
	if start.After(end) {
		apiError(c, http.StatusBadRequest, "start must not be after end")
		return
	}

	entries, err := queryMany[workoutLogEntry](c, h.db,
		`SELECT * FROM workout_log
		 WHERE user_id = @userID AND completed_at >= @start AND completed_at < @end
		 ORDER BY completed_at DESC`,
		pgx.NamedArgs{"userID": userID, "start": start, "end": end.AddDate(0, 0, 1)})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch workout log")
		return
	}
	if entries == nil {
		entries = []workoutLogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
