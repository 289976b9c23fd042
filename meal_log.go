package main

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"lg/fitness-api/fitness"
)

// validMealTypes is the set of allowed values for meal_log_items.meal_type.
// Reject unknown values with 400 rather than letting the DB return a cryptic 500.
var validMealTypes = map[string]bool{
	"breakfast": true,
	"lunch":     true,
	"dinner":    true,
	"snack":     true,
}

// nonNegativeFinite reports whether every value is a usable macro amount.
func nonNegativeFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

// parseLocalDate parses a YYYY-MM-DD value as local midnight in loc.
func parseLocalDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, loc)
}

// dayAsOf picks the instant a day's totals are evaluated at: now while the day
// is still running, otherwise the last instant of that day.
func dayAsOf(dayStart, now time.Time) time.Time {
	start, end := fitness.DayWindow(dayStart)
	now = now.In(start.Location())
	if !now.Before(start) && now.Before(end) {
		return now
	}
	return end.Add(-time.Nanosecond)
}

// splitAtAsOf separates items logged by asOf from ones scheduled after it.
// items must be sorted by LoggedAt. Both results are non-nil.
func splitAtAsOf(items []mealLogItem, asOf time.Time) (eaten, upcoming []mealLogItem) {
	eaten, upcoming = []mealLogItem{}, []mealLogItem{}
	for _, it := range items {
		if it.LoggedAt.After(asOf) {
			upcoming = append(upcoming, it)
		} else {
			eaten = append(eaten, it)
		}
	}
	return eaten, upcoming
}

// mondayOf returns local midnight of the Monday in t's week.
func mondayOf(t time.Time) time.Time {
	weekday := int(t.Weekday()) // 0=Sun
	if weekday == 0 {
		weekday = 7 // treat Sunday as day 7 so Mon=1..Sun=7
	}
	return fitness.StartOfDay(t.AddDate(0, 0, -(weekday - 1)))
}

// caloriesLeft is the remaining calorie budget, which may go negative.
func caloriesLeft(targets fitness.Targets, consumed fitness.Consumption) int {
	return targets.Calories - int(math.Round(consumed.Calories))
}

// rowConsumption converts a grouped DB row into engine totals.
func rowConsumption(r weekDayDBRow) fitness.Consumption {
	return fitness.Consumption{Calories: r.Calories, ProteinG: r.ProteinG, CarbsG: r.CarbsG, FatG: r.FatG}
}

// fillWeek builds a full 7-day response starting at weekStart, filling zeros
// for days with no data. Every day carries the profile's current targets.
func fillWeek(weekStart time.Time, rows []weekDayDBRow, targets fitness.Targets) []daySummary {
	rowByDate := make(map[string]weekDayDBRow, len(rows))
	for _, r := range rows {
		rowByDate[r.Date.Time.Format("2006-01-02")] = r
	}

	result := make([]daySummary, 7)
	for i := range result {
		d := weekStart.AddDate(0, 0, i)
		day := daySummary{Date: DateOnly{d}, Targets: targets}
		if row, ok := rowByDate[d.Format("2006-01-02")]; ok {
			day.HasData = true
			day.Consumed = rowConsumption(row)
			day.Meals = row.Meals
		}
		day.CaloriesLeft = caloriesLeft(targets, day.Consumed)
		result[i] = day
	}
	return result
}

// summarizeDays converts grouped rows into day summaries and range stats. A day
// is on target when its calories do not exceed the calorie target.
func summarizeDays(rows []weekDayDBRow, targets fitness.Targets) progressResponse {
	days := make([]daySummary, 0, len(rows))
	var stats progressStats
	for _, row := range rows {
		consumed := rowConsumption(row)
		left := caloriesLeft(targets, consumed)
		days = append(days, daySummary{
			Date:         row.Date,
			Targets:      targets,
			Consumed:     consumed,
			CaloriesLeft: left,
			Meals:        row.Meals,
			HasData:      true,
		})
		stats.DaysTracked++
		if left >= 0 {
			stats.DaysOnTarget++
		}
		stats.AvgCalories += consumed.Calories
		stats.AvgProteinG += consumed.ProteinG
		stats.AvgCarbsG += consumed.CarbsG
		stats.AvgFatG += consumed.FatG
		stats.TotalCaloriesLeft += left
	}

	if n := float64(stats.DaysTracked); n > 0 {
		stats.AvgCalories = math.Round(stats.AvgCalories / n)
		stats.AvgProteinG = math.Round(stats.AvgProteinG/n*10) / 10
		stats.AvgCarbsG = math.Round(stats.AvgCarbsG/n*10) / 10
		stats.AvgFatG = math.Round(stats.AvgFatG/n*10) / 10
	}
	return progressResponse{Days: days, Stats: stats}
}

// dailyTotalsSQL groups meal items by local calendar day in @tz.
const dailyTotalsSQL = `SELECT
	(logged_at AT TIME ZONE @tz)::date AS date,
	COALESCE(SUM(calories),  0) AS calories,
	COALESCE(SUM(protein_g), 0) AS protein_g,
	COALESCE(SUM(carbs_g),   0) AS carbs_g,
	COALESCE(SUM(fat_g),     0) AS fat_g,
	COUNT(*)                    AS meals
 FROM meal_log_items
 WHERE user_id = @userID AND logged_at >= @start AND logged_at < @end
 GROUP BY 1
 ORDER BY 1`

/* ─── Summaries ──────────────────────────────────────────────────────── */

// getDailySummary returns a local day's meal items with totals, targets and
// progress. Items logged for later than now are listed under upcoming and are
// not counted. GET /api/meals/daily?date=YYYY-MM-DD (defaults to today in the
// profile's timezone).
func (h *Handler) getDailySummary(c *gin.Context) {
	userID := c.GetInt("user_id")

	profile, err := loadProfile(c, h.db, userID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}
	loc := profile.location()
	now := h.clock().In(loc)

	date := c.DefaultQuery("date", now.Format("2006-01-02"))
	day, err := parseLocalDate(date, loc)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	start, end := fitness.DayWindow(day)

	items, err := queryMany[mealLogItem](c, h.db,
		`SELECT * FROM meal_log_items
		 WHERE user_id = @userID AND logged_at >= @start AND logged_at < @end
		 ORDER BY logged_at`,
		pgx.NamedArgs{"userID": userID, "start": start, "end": end})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch items")
		return
	}
	asOf := dayAsOf(day, now)
	eaten, upcoming := splitAtAsOf(items, asOf)

	targets := fitness.ComputeTargets(profile.fitnessProfile())
	consumed := fitness.AggregateConsumption(toMeals(eaten), asOf)

	c.JSON(http.StatusOK, dailySummary{
		Date:         date,
		Targets:      targets,
		Consumed:     consumed,
		Progress:     fitness.Progress(consumed, targets),
		CaloriesLeft: caloriesLeft(targets, consumed),
		Items:        eaten,
		Upcoming:     upcoming,
	})
}

// getWeekSummary returns per-day totals for the Mon-Sun week containing
// week_start. Days with no logged items are included with has_data=false.
// GET /api/meals/week-summary?week_start=YYYY-MM-DD (defaults to current week).
func (h *Handler) getWeekSummary(c *gin.Context) {
	userID := c.GetInt("user_id")

	profile, err := loadProfile(c, h.db, userID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}
	loc := profile.location()

	var weekStart time.Time
	if s := c.Query("week_start"); s != "" {
		t, err := parseLocalDate(s, loc)
		if err != nil {
			apiError(c, http.StatusBadRequest, "invalid week_start, expected YYYY-MM-DD")
			return
		}
		weekStart = t
	} else {
		weekStart = mondayOf(h.clock().In(loc))
	}
	weekEnd := weekStart.AddDate(0, 0, 7)

	rows, err := queryMany[weekDayDBRow](c, h.db, dailyTotalsSQL, pgx.NamedArgs{
		"userID": userID,
		"tz":     loc.String(),
		"start":  weekStart,
		"end":    weekEnd,
	})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch week data")
		return
	}

	targets := fitness.ComputeTargets(profile.fitnessProfile())
	c.JSON(http.StatusOK, fillWeek(weekStart, rows, targets))
}

// getProgress returns per-day totals and aggregate stats for a date range.
// GET /api/meals/progress?start=YYYY-MM-DD&end=YYYY-MM-DD. Both params required.
// Only days with logged items are returned; the client fills gaps.
func (h *Handler) getProgress(c *gin.Context) {
	userID := c.GetInt("user_id")
	startParam := c.Query("start")
	endParam := c.Query("end")

	if startParam == "" || endParam == "" {
		apiError(c, http.StatusBadRequest, "start and end query params are required")
		return
	}

	profile, err := loadProfile(c, h.db, userID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}
	loc := profile.location()

	start, err := parseLocalDate(startParam, loc)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid start, expected YYYY-MM-DD")
		return
	}
	end, err := parseLocalDate(endParam, loc)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid end, expected YYYY-MM-DD")
		return
	}
	if start.After(end) {
		apiError(c, http.StatusBadRequest, "start must not be after end")
		return
	}

	rows, err := queryMany[weekDayDBRow](c, h.db, dailyTotalsSQL, pgx.NamedArgs{
		"userID": userID,
		"tz":     loc.String(),
		"start":  start,
		"end":    end.AddDate(0, 0, 1),
	})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch progress data")
		return
	}

	targets := fitness.ComputeTargets(profile.fitnessProfile())
	c.JSON(http.StatusOK, summarizeDays(rows, targets))
}

// getEarliestLogDate returns the local date of the user's first meal entry.
// GET /api/meals/earliest-date. Returns { "date": null } if no entries exist.
func (h *Handler) getEarliestLogDate(c *gin.Context) {
	userID := c.GetInt("user_id")

	profile, err := loadProfile(c, h.db, userID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}

	var earliest *time.Time
	err = h.db.QueryRow(c,
		"SELECT MIN(logged_at) FROM meal_log_items WHERE user_id = @userID",
		pgx.NamedArgs{"userID": userID}).Scan(&earliest)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to fetch earliest date")
		return
	}
	if earliest == nil {
		c.JSON(http.StatusOK, gin.H{"date": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"date": earliest.In(profile.location()).Format("2006-01-02")})
}

/* ─── Item CRUD ──────────────────────────────────────────────────────── */

// validateCreateMealItem checks a create request and defaults LoggedAt to now.
func validateCreateMealItem(body *createMealItemRequest, now time.Time) string {
	if body.ItemName == "" {
		return "item_name is required"
	}
	if body.MealType == "" {
		return "meal_type is required"
	}
	if !validMealTypes[body.MealType] {
		return "meal_type must be one of: breakfast, lunch, dinner, snack"
	}
	if !nonNegativeFinite(body.Calories, body.ProteinG, body.CarbsG, body.FatG) {
		return "calories and macros must be non-negative numbers"
	}
	if body.Qty != nil && !nonNegativeFinite(*body.Qty) {
		return "qty must be a non-negative number"
	}
	if body.LoggedAt == nil {
		body.LoggedAt = &now
	}
	return ""
}

// validateUpdateMealItem checks only the fields present in an update request.
func validateUpdateMealItem(body *updateMealItemRequest) string {
	if body.ItemName != nil && *body.ItemName == "" {
		return "item_name must not be empty"
	}
	if body.MealType != nil && !validMealTypes[*body.MealType] {
		return "meal_type must be one of: breakfast, lunch, dinner, snack"
	}
	for _, v := range []*float64{body.Qty, body.Calories, body.ProteinG, body.CarbsG, body.FatG} {
		if v != nil && !nonNegativeFinite(*v) {
			return "qty, calories and macros must be non-negative numbers"
		}
	}
	return ""
}

// createMealItem inserts a new meal entry.
// POST /api/meals/items. Defaults logged_at to now if omitted.
func (h *Handler) createMealItem(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body createMealItemRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateCreateMealItem(&body, h.clock()); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	item, err := queryOne[mealLogItem](c, h.db,
		`INSERT INTO meal_log_items (user_id, logged_at, item_name, meal_type, qty, uom, calories, protein_g, carbs_g, fat_g)
		 VALUES (@userID, @loggedAt, @itemName, @mealType, @qty, @uom, @calories, @proteinG, @carbsG, @fatG)
		 RETURNING *`,
		pgx.NamedArgs{
			"userID": userID, "loggedAt": *body.LoggedAt, "itemName": body.ItemName,
			"mealType": body.MealType, "qty": body.Qty, "uom": body.Uom,
			"calories": body.Calories, "proteinG": body.ProteinG,
			"carbsG": body.CarbsG, "fatG": body.FatG,
		})
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to create item")
		return
	}

	h.notifyDashboard(userID)
	c.JSON(http.StatusCreated, item)
}

// updateMealItem updates an existing meal entry.
// PUT /api/meals/items/:id. Uses COALESCE so omitted fields keep their current value.
func (h *Handler) updateMealItem(c *gin.Context) {
	userID := c.GetInt("user_id")
	id := c.Param("id")

	var body updateMealItemRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateUpdateMealItem(&body); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	item, err := queryOne[mealLogItem](c, h.db,
		`UPDATE meal_log_items SET
			logged_at = COALESCE(@loggedAt, logged_at),
			item_name = COALESCE(@itemName, item_name),
			meal_type = COALESCE(@mealType, meal_type),
			qty = COALESCE(@qty, qty),
			uom = COALESCE(@uom, uom),
			calories = COALESCE(@calories, calories),
			protein_g = COALESCE(@proteinG, protein_g),
			carbs_g = COALESCE(@carbsG, carbs_g),
			fat_g = COALESCE(@fatG, fat_g),
			updated_at = now()
		 WHERE id = @id AND user_id = @userID
		 RETURNING *`,
		pgx.NamedArgs{
			"id": id, "userID": userID,
			"loggedAt": body.LoggedAt, "itemName": body.ItemName, "mealType": body.MealType,
			"qty": body.Qty, "uom": body.Uom, "calories": body.Calories,
			"proteinG": body.ProteinG, "carbsG": body.CarbsG, "fatG": body.FatG,
		})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			apiError(c, http.StatusNotFound, "item not found")
		} else {
			apiError(c, http.StatusInternalServerError, "failed to update item")
		}
		return
	}

	h.notifyDashboard(userID)
	c.JSON(http.StatusOK, item)
}

// deleteMealItem removes a meal entry. Returns 204 on success.
// DELETE /api/meals/items/:id.
func (h *Handler) deleteMealItem(c *gin.Context) {
	userID := c.GetInt("user_id")
	id := c.Param("id")

	result, err := h.db.Exec(c,
		"DELETE FROM meal_log_items WHERE id = @id AND user_id = @userID",
		pgx.NamedArgs{"id": id, "userID": userID})
	if err != nil {
		log.WithField("user_id", userID).Errorf("[deleteMealItem] %v", err)
		apiError(c, http.StatusInternalServerError, "failed to delete item")
		return
	}
	if result.RowsAffected() == 0 {
		apiError(c, http.StatusNotFound, "item not found")
		return
	}

	h.notifyDashboard(userID)
	c.Status(http.StatusNoContent)
}
