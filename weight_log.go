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
	log "github.com/sirupsen/logrus"

	"lg/fitness-api/fitness"
)

// The newest weigh-in is the user's current weight. Every write to the log
// re-syncs user_profiles.weight_kg, which the calorie targets are derived from.

// weighIn is the request body for POST and PUT /api/weight-log. Date is a
// local YYYY-MM-DD; POST defaults it to the user's today.
type weighIn struct {
	Date     *string  `json:"date"`
	WeightKg *float64 `json:"weight_kg"`
}

// validWeight reports whether kg is a plausible body weight. Zero is rejected
// here even though profiles may leave weight unset.
func validWeight(kg float64) bool {
	return validMeasure(kg, 500) && kg > 0
}

// validateWeighIn checks the fields that are present against the user's local
// today. Weigh-ins cannot be dated in the future.
func validateWeighIn(in weighIn, today time.Time) string {
	if in.WeightKg != nil && !validWeight(*in.WeightKg) {
		return "weight_kg must be greater than 0 and at most 500"
	}
	if in.Date != nil {
		day, err := parseLocalDate(*in.Date, today.Location())
		if err != nil {
			return "invalid date, expected YYYY-MM-DD"
		}
		if day.After(today) {
			return "date must not be in the future"
		}
	}
	return ""
}

// validateDateRange checks the start/end query pair of GET /api/weight-log.
func validateDateRange(start, end string) string {
	if start == "" || end == "" {
		return "start and end query params are required"
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return "invalid start, expected YYYY-MM-DD"
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return "invalid end, expected YYYY-MM-DD"
	}
	if s.After(e) {
		return "start must not be after end"
	}
	return ""
}

// syncProfileWeight copies the newest weigh-in onto the profile and reports
// whether the stored weight changed. With no entries left the profile keeps
// its last weight.
func syncProfileWeight(ctx context.Context, pool *pgxpool.Pool, userID int) (bool, error) {
	tag, err := pool.Exec(ctx,
		`UPDATE user_profiles p SET weight_kg = latest.weight_kg, updated_at = now()
		 FROM (SELECT weight_kg FROM weight_log
		       WHERE user_id = @userID ORDER BY date DESC LIMIT 1) latest
		 WHERE p.user_id = @userID AND p.weight_kg IS DISTINCT FROM latest.weight_kg`,
		pgx.NamedArgs{"userID": userID})
	if err != nil {
		return false, fmt.Errorf("sync profile weight: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// afterWeighIn re-syncs the profile weight and refreshes the dashboard when
// the targets' input moved. Failures are logged; the log write already
// succeeded.
func (h *Handler) afterWeighIn(ctx context.Context, userID int) {
	changed, err := syncProfileWeight(ctx, h.db, userID)
	if err != nil {
		log.WithField("user_id", userID).Errorf("[weightLog] %v", err)
		return
	}
	if changed {
		h.notifyDashboard(userID)
	}
}

// userToday loads the profile and returns local midnight of today for it.
func (h *Handler) userToday(ctx context.Context, userID int) (time.Time, error) {
	p, err := loadProfile(ctx, h.db, userID)
	if err != nil {
		return time.Time{}, err
	}
	return fitness.StartOfDay(h.clock().In(p.location())), nil
}

/* ─── Handlers ───────────────────────────────────────────────────────── */

// getWeightLog returns weigh-ins within [start, end], oldest first.
// GET /api/weight-log?start=YYYY-MM-DD&end=YYYY-MM-DD.
func (h *Handler) getWeightLog(c *gin.Context) {
	userID := c.GetInt("user_id")
	start, end := c.Query("start"), c.Query("end")
	if msg := validateDateRange(start, end); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	entries, err := queryMany[weightEntry](c, h.db,
		`SELECT * FROM weight_log
		 WHERE user_id = @userID AND date BETWEEN @start AND @end
		 ORDER BY date`,
		pgx.NamedArgs{"userID": userID, "start": start, "end": end})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch weight log")
		return
	}
	if entries == nil {
		entries = []weightEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// upsertWeightEntry records the weigh-in for a date, replacing any earlier
// value for that date.
// POST /api/weight-log. Body: { "date"?: "YYYY-MM-DD", "weight_kg": 84.2 }.
func (h *Handler) upsertWeightEntry(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body weighIn
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.WeightKg == nil {
		apiError(c, http.StatusBadRequest, "weight_kg is required")
		return
	}

	today, err := h.userToday(c, userID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}
	if body.Date == nil {
		d := today.Format("2006-01-02")
		body.Date = &d
	}
	if msg := validateWeighIn(body, today); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	entry, err := queryOne[weightEntry](c, h.db,
		`INSERT INTO weight_log (user_id, date, weight_kg)
		 VALUES (@userID, @date, @weightKg)
		 ON CONFLICT (user_id, date) DO UPDATE SET weight_kg = EXCLUDED.weight_kg
		 RETURNING *`,
		pgx.NamedArgs{"userID": userID, "date": *body.Date, "weightKg": *body.WeightKg})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to save weigh-in")
		return
	}

	h.afterWeighIn(c, userID)
	c.JSON(http.StatusCreated, entry)
}

// updateWeightEntry corrects the date or weight of a weigh-in. Omitted fields
// keep their stored values.
// PUT /api/weight-log/:id.
func (h *Handler) updateWeightEntry(c *gin.Context) {
	userID := c.GetInt("user_id")
	id := c.Param("id")

	var body weighIn
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Date == nil && body.WeightKg == nil {
		apiError(c, http.StatusBadRequest, "no fields to update")
		return
	}

	today, err := h.userToday(c, userID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}
	if msg := validateWeighIn(body, today); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	entry, err := queryOne[weightEntry](c, h.db,
		`UPDATE weight_log SET
			date      = COALESCE(@date::date, date),
			weight_kg = COALESCE(@weightKg, weight_kg)
		 WHERE id = @id AND user_id = @userID
		 RETURNING *`,
		pgx.NamedArgs{"id": id, "userID": userID, "date": body.Date, "weightKg": body.WeightKg})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		apiError(c, http.StatusNotFound, "weight entry not found")
		return
	case err != nil:
		apiError(c, http.StatusInternalServerError, "failed to update weight entry")
		return
	}

	h.afterWeighIn(c, userID)
	c.JSON(http.StatusOK, entry)
}

// deleteWeightEntry removes a weigh-in. When it was the newest, the profile
// falls back to the one before it.
// DELETE /api/weight-log/:id.
func (h *Handler) deleteWeightEntry(c *gin.Context) {
	userID := c.GetInt("user_id")

	result, err := h.db.Exec(c,
		"DELETE FROM weight_log WHERE id = @id AND user_id = @userID",
		pgx.NamedArgs{"id": c.Param("id"), "userID": userID})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to delete weight entry")
		return
	}
	if result.RowsAffected() == 0 {
		apiError(c, http.StatusNotFound, "weight entry not found")
		return
	}

	h.afterWeighIn(c, userID)
	c.Status(http.StatusNoContent)
}
