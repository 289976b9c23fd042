package main

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	log "github.com/sirupsen/logrus"

	"lg/fitness-api/fitness"
)

// DateOnly wraps time.Time to serialize as "YYYY-MM-DD" in JSON.
type DateOnly struct{ time.Time }

func (d DateOnly) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time.Format("2006-01-02") + `"`), nil
}

func (d *DateOnly) UnmarshalJSON(b []byte) error {
	t, err := time.Parse(`"2006-01-02"`, string(b))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// ScanDate implements pgtype.DateScanner so pgx can scan PostgreSQL date
// columns (OID 1082) into DateOnly. NULL values zero the time and return nil
// so that *DateOnly pointer fields can be set to nil by pgx's NULL handling.
func (d *DateOnly) ScanDate(v pgtype.Date) error {
	if !v.Valid {
		d.Time = time.Time{}
		return nil
	}
	d.Time = v.Time
	return nil
}

/* ─── Domain structs ─────────────────────────────────────────────────── */

// user maps to the users table. AuthToken and Password are hidden from JSON responses.
type user struct {
	ID        int        `json:"id" db:"id"`
	Username  string     `json:"username" db:"username"`
	Email     string     `json:"email" db:"email"`
	AuthToken string     `json:"-" db:"auth_token"`
	Password  string     `json:"-" db:"password"`
	CreatedAt *time.Time `json:"created_at" db:"created_at"`
}

// mealLogItem maps to meal_log_items. LoggedAt is the instant the food was
// eaten; the local day it belongs to depends on the profile's timezone.
type mealLogItem struct {
	ID        int        `json:"id" db:"id"`
	UserID    int        `json:"user_id" db:"user_id"`
	LoggedAt  time.Time  `json:"logged_at" db:"logged_at"`
	ItemName  string     `json:"item_name" db:"item_name"`
	MealType  string     `json:"meal_type" db:"meal_type"`
	Qty       *float64   `json:"qty" db:"qty"`
	Uom       *string    `json:"uom" db:"uom"`
	Calories  float64    `json:"calories" db:"calories"`
	ProteinG  float64    `json:"protein_g" db:"protein_g"`
	CarbsG    float64    `json:"carbs_g" db:"carbs_g"`
	FatG      float64    `json:"fat_g" db:"fat_g"`
	CreatedAt *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at" db:"updated_at"`
}

func (m mealLogItem) toMeal() fitness.Meal {
	return fitness.Meal{
		Timestamp:     m.LoggedAt,
		TotalCalories: m.Calories,
		TotalProtein:  m.ProteinG,
		TotalCarbs:    m.CarbsG,
		TotalFat:      m.FatG,
	}
}

func toMeals(items []mealLogItem) []fitness.Meal {
	meals := make([]fitness.Meal, len(items))
	for i, it := range items {
		meals[i] = it.toMeal()
	}
	return meals
}

// userProfile maps to user_profiles. One row per user with body metrics, goal,
// subscription tier and the persisted streak counter.
type userProfile struct {
	UserID        int      `json:"user_id"        db:"user_id"`
	Name          string   `json:"name"           db:"name"`
	WeightKg      *float64 `json:"weight_kg"      db:"weight_kg"`
	HeightCm      *float64 `json:"height_cm"      db:"height_cm"`
	AgeYears      *int     `json:"age_years"      db:"age_years"`
	Gender        *string  `json:"gender"         db:"gender"`
	ActivityLevel *string  `json:"activity_level" db:"activity_level"`
	Goal          *string  `json:"goal"           db:"goal"`
	Timezone      string   `json:"timezone"       db:"timezone"`

	SubscriptionStatus string     `json:"subscription_status" db:"subscription_status"`
	StreakCount        int        `json:"-"                   db:"streak_count"`
	LastWorkoutAt      *time.Time `json:"last_workout_at"     db:"last_workout_at"`
	SetupComplete      bool       `json:"setup_complete"      db:"setup_complete"`
	CreatedAt          *time.Time `json:"created_at"          db:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at"          db:"updated_at"`

	// Computed fields, populated server-side from the profile. Not stored in DB.
	ComputedBMR  *int             `json:"computed_bmr,omitempty"  db:"-"`
	ComputedTDEE *int             `json:"computed_tdee,omitempty" db:"-"`
	Targets      *fitness.Targets `json:"targets,omitempty"       db:"-"`
	Streak       *int             `json:"streak,omitempty"        db:"-"`
}

// fitnessProfile converts the nullable DB columns into the engine's profile.
// NULLs become zero values, which the engine treats as "unknown".
func (p *userProfile) fitnessProfile() fitness.Profile {
	var fp fitness.Profile
	if p.WeightKg != nil {
		fp.WeightKg = *p.WeightKg
	}
	if p.HeightCm != nil {
		fp.HeightCm = *p.HeightCm
	}
	if p.AgeYears != nil {
		fp.AgeYears = *p.AgeYears
	}
	if p.Gender != nil {
		fp.Gender = fitness.Gender(*p.Gender)
	}
	if p.ActivityLevel != nil {
		fp.ActivityLevel = fitness.ActivityLevel(*p.ActivityLevel)
	}
	if p.Goal != nil {
		fp.Goal = fitness.Goal(*p.Goal)
	}
	return fp
}

func (p *userProfile) streakState() fitness.StreakState {
	return fitness.StreakState{Count: p.StreakCount, LastWorkoutDate: p.LastWorkoutAt}
}

// location returns the profile's timezone, falling back to UTC when the stored
// name is empty or unknown to the tz database.
func (p *userProfile) location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		log.WithField("user_id", p.UserID).Warnf("unknown timezone %q, using UTC", p.Timezone)
		return time.UTC
	}
	return loc
}

// weekDayDBRow is the shape of each row returned by the per-day GROUP BY query.
// Used only for scanning; the final response uses daySummary.
type weekDayDBRow struct {
	Date     DateOnly `db:"date"`
	Calories float64  `db:"calories"`
	ProteinG float64  `db:"protein_g"`
	CarbsG   float64  `db:"carbs_g"`
	FatG     float64  `db:"fat_g"`
	Meals    int      `db:"meals"`
}

// daySummary is one day's entry in the week-summary and progress responses.
// Days with no logged items have HasData=false and zero totals.
type daySummary struct {
	Date         DateOnly            `json:"date"`
	Targets      fitness.Targets     `json:"targets"`
	Consumed     fitness.Consumption `json:"consumed"`
	CaloriesLeft int                 `json:"calories_left"`
	Meals        int                 `json:"meals"`
	HasData      bool                `json:"has_data"`
}

// dailySummary is the response shape for GET /meals/daily.
type dailySummary struct {
	Date         string                `json:"date"`
	Targets      fitness.Targets       `json:"targets"`
	Consumed     fitness.Consumption   `json:"consumed"`
	Progress     fitness.MacroProgress `json:"progress"`
	CaloriesLeft int                   `json:"calories_left"`
	Items        []mealLogItem         `json:"items"`
	Upcoming     []mealLogItem         `json:"upcoming"`
}

// weightEntry maps to weight_log. One row per user per date.
type weightEntry struct {
	ID        int        `json:"id"         db:"id"`
	UserID    int        `json:"user_id"    db:"user_id"`
	Date      DateOnly   `json:"date"       db:"date"`
	WeightKg  float64    `json:"weight_kg"  db:"weight_kg"`
	CreatedAt *time.Time `json:"created_at" db:"created_at"`
}

// planExercise is one exercise inside a workout plan, stored in a JSONB array.
type planExercise struct {
	Name   string    `json:"name"`
	Muscle string    `json:"muscle"`
	Gif    string    `json:"gif,omitempty"`
	Sets   []planSet `json:"sets"`
}

type planSet struct {
	Reps     int     `json:"reps"`
	WeightKg float64 `json:"weight_kg"`
}

// workoutPlan maps to workout_plans. Exercises is a JSONB array.
type workoutPlan struct {
	ID        int            `json:"id"         db:"id"`
	UserID    int            `json:"user_id"    db:"user_id"`
	Name      string         `json:"name"       db:"name"`
	Exercises []planExercise `json:"exercises"  db:"exercises"`
	CreatedAt *time.Time     `json:"created_at" db:"created_at"`
}

// workoutLogEntry maps to workout_log: one row per completed workout.
type workoutLogEntry struct {
	ID             int        `json:"id"              db:"id"`
	UserID         int        `json:"user_id"         db:"user_id"`
	PlanID         *int       `json:"plan_id"         db:"plan_id"`
	CompletedAt    time.Time  `json:"completed_at"    db:"completed_at"`
	CaloriesBurned *int       `json:"calories_burned" db:"calories_burned"`
	CreatedAt      *time.Time `json:"created_at"      db:"created_at"`
}

// createMealItemRequest is the request body for POST /api/meals/items.
type createMealItemRequest struct {
	LoggedAt *time.Time `json:"logged_at"`
	ItemName string     `json:"item_name"`
	MealType string     `json:"meal_type"`
	Qty      *float64   `json:"qty"`
	Uom      *string    `json:"uom"`
	Calories float64    `json:"calories"`
	ProteinG float64    `json:"protein_g"`
	CarbsG   float64    `json:"carbs_g"`
	FatG     float64    `json:"fat_g"`
}

// updateMealItemRequest is the request body for PUT /api/meals/items/:id.
// Omitted fields keep their stored value.
type updateMealItemRequest struct {
	LoggedAt *time.Time `json:"logged_at"`
	ItemName *string    `json:"item_name"`
	MealType *string    `json:"meal_type"`
	Qty      *float64   `json:"qty"`
	Uom      *string    `json:"uom"`
	Calories *float64   `json:"calories"`
	ProteinG *float64   `json:"protein_g"`
	CarbsG   *float64   `json:"carbs_g"`
	FatG     *float64   `json:"fat_g"`
}

// progressStats aggregates tracked days in a progress range.
type progressStats struct {
	DaysTracked       int     `json:"days_tracked"`
	DaysOnTarget      int     `json:"days_on_target"`
	AvgCalories       float64 `json:"avg_calories"`
	AvgProteinG       float64 `json:"avg_protein_g"`
	AvgCarbsG         float64 `json:"avg_carbs_g"`
	AvgFatG           float64 `json:"avg_fat_g"`
	TotalCaloriesLeft int     `json:"total_calories_left"`
}

// progressResponse is the response shape for GET /meals/progress.
type progressResponse struct {
	Days  []daySummary  `json:"days"`
	Stats progressStats `json:"stats"`
}

// patchProfileRequest is the request body for PATCH /api/profile.
// All fields are pointers; only non-nil fields get written to the database.
type patchProfileRequest struct {
	Name          *string  `json:"name"`
	WeightKg      *float64 `json:"weight_kg"`
	HeightCm      *float64 `json:"height_cm"`
	AgeYears      *int     `json:"age_years"`
	Gender        *string  `json:"gender"`
	ActivityLevel *string  `json:"activity_level"`
	Goal          *string  `json:"goal"`
	Timezone      *string  `json:"timezone"`
	SetupComplete *bool    `json:"setup_complete"`
}
