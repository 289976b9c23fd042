// Package fitness holds the pure nutrition and training computations behind
// the dashboard: calorie/macro targets, daily consumption and workout streaks.
// Nothing here touches the database or the network.
package fitness

import (
	"math"
	"strings"
)

// ActivityLevel is how active a user is outside of logged workouts.
type ActivityLevel string

const (
	ActivitySedentary ActivityLevel = "sedentary"
	ActivityLight     ActivityLevel = "light"
	ActivityModerate  ActivityLevel = "moderate"
	ActivityActive    ActivityLevel = "active"
)

// Goal is the user's training goal; it shifts the calorie target.
type Goal string

const (
	GoalFatLoss        Goal = "fatLoss"
	GoalMuscleGain     Goal = "muscleGain"
	GoalGeneralFitness Goal = "generalFitness"
)

// Gender selects the BMR formula branch.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// DefaultGender is the formula branch used for any gender that isn't female,
// including an unset one.
const DefaultGender = GenderMale

// DefaultActivityLevel is applied when the activity level is unset or unknown.
const DefaultActivityLevel = ActivityModerate

// activityMultipliers maps activity levels to their TDEE multiplier.
// Also the source of truth for valid levels in ParseActivityLevel.
var activityMultipliers = map[ActivityLevel]float64{
	ActivitySedentary: 1.2,
	ActivityLight:     1.375,
	ActivityModerate:  1.55,
	ActivityActive:    1.725,
}

// goalAdjustments is the daily kcal offset applied on top of TDEE.
var goalAdjustments = map[Goal]float64{
	GoalFatLoss:        -400,
	GoalMuscleGain:     300,
	GoalGeneralFitness: 0,
}

// Macro split as a share of calories, and energy density in kcal per gram.
const (
	proteinShare = 0.30
	carbsShare   = 0.40
	fatShare     = 0.30

	KcalPerGramProtein = 4
	KcalPerGramCarbs   = 4
	KcalPerGramFat     = 9
)

// Profile is the subset of a user profile the target calculator reads.
type Profile struct {
	WeightKg      float64
	HeightCm      float64
	AgeYears      int
	ActivityLevel ActivityLevel
	Goal          Goal
	Gender        Gender
}

// Targets are daily calorie and macro targets.
type Targets struct {
	Calories int `json:"calories"`
	ProteinG int `json:"protein_g"`
	CarbsG   int `json:"carbs_g"`
	FatG     int `json:"fat_g"`
}

// DefaultTargets is returned when the profile lacks weight, height or age.
var DefaultTargets = Targets{Calories: 2200, ProteinG: 140, CarbsG: 250, FatG: 70}

// HasBodyMetrics reports whether weight, height and age are all set.
func (p Profile) HasBodyMetrics() bool {
	return p.WeightKg > 0 && p.HeightCm > 0 && p.AgeYears > 0
}

// ActivityMultiplier returns the TDEE multiplier for level, falling back to
// DefaultActivityLevel for unknown values.
func ActivityMultiplier(level ActivityLevel) float64 {
	if m, ok := activityMultipliers[level]; ok {
		return m
	}
	return activityMultipliers[DefaultActivityLevel]
}

// GoalAdjustment returns the kcal offset for goal. Unknown goals get 0.
func GoalAdjustment(goal Goal) float64 {
	return goalAdjustments[goal]
}

// BMR computes basal metabolic rate with the revised Harris-Benedict formula.
func BMR(p Profile) float64 {
	w, h, a := p.WeightKg, p.HeightCm, float64(p.AgeYears)
	if p.Gender == GenderFemale {
		return 655.1 + 9.563*w + 1.850*h - 4.676*a
	}
	return 66.47 + 13.75*w + 5.003*h - 6.755*a
}

// TDEE is BMR scaled by the activity multiplier.
func TDEE(p Profile) float64 {
	return BMR(p) * ActivityMultiplier(p.ActivityLevel)
}

// ComputeTargets derives daily calorie and macro targets from a profile.
// Profiles without body metrics get DefaultTargets rather than an error.
func ComputeTargets(p Profile) Targets {
	if !p.HasBodyMetrics() {
		return DefaultTargets
	}

	calories := TDEE(p) + GoalAdjustment(p.Goal)
	if calories < 0 {
		calories = 0
	}

	// Macros come from the unrounded calorie value.
	return Targets{
		Calories: roundNonNegative(calories),
		ProteinG: roundNonNegative(calories * proteinShare / KcalPerGramProtein),
		CarbsG:   roundNonNegative(calories * carbsShare / KcalPerGramCarbs),
		FatG:     roundNonNegative(calories * fatShare / KcalPerGramFat),
	}
}

func roundNonNegative(v float64) int {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int(math.Round(v))
}

/* ─── Parsing ────────────────────────────────────────────────────────── */

// ParseActivityLevel matches s case-insensitively against the known levels.
// ok=false means s was not recognised; the returned level is then the default.
func ParseActivityLevel(s string) (ActivityLevel, bool) {
	for level := range activityMultipliers {
		if strings.EqualFold(string(level), s) {
			return level, true
		}
	}
	return DefaultActivityLevel, false
}

// ParseGoal matches s case-insensitively against the known goals.
func ParseGoal(s string) (Goal, bool) {
	for goal := range goalAdjustments {
		if strings.EqualFold(string(goal), s) {
			return goal, true
		}
	}
	return GoalGeneralFitness, false
}

// ParseGender accepts "male" or "female" in any case.
func ParseGender(s string) (Gender, bool) {
	switch {
	case strings.EqualFold(s, string(GenderFemale)):
		return GenderFemale, true
	case strings.EqualFold(s, string(GenderMale)):
		return GenderMale, true
	}
	return DefaultGender, false
}

// ActivityLevels lists the valid activity levels, least to most active.
func ActivityLevels() []ActivityLevel {
	return []ActivityLevel{ActivitySedentary, ActivityLight, ActivityModerate, ActivityActive}
}
