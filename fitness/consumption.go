package fitness

import "time"

// Meal is one logged food entry with its totals.
type Meal struct {
	Timestamp     time.Time
	TotalCalories float64
	TotalProtein  float64
	TotalCarbs    float64
	TotalFat      float64
}

// Consumption is the summed intake over a set of meals.
type Consumption struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// StartOfDay returns local midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayWindow returns [start, end) covering t's local calendar day. end is the
// next local midnight, so DST days are 23 or 25 hours long.
func DayWindow(t time.Time) (start, end time.Time) {
	start = StartOfDay(t)
	return start, start.AddDate(0, 0, 1)
}

// AggregateConsumption sums the meals logged between local midnight of asOf's
// day and asOf itself. Meals outside that window are ignored, so passing an
// already-windowed slice or a full history gives the same answer.
func AggregateConsumption(meals []Meal, asOf time.Time) Consumption {
	start := StartOfDay(asOf)
	var c Consumption
	for _, m := range meals {
		if m.Timestamp.Before(start) || m.Timestamp.After(asOf) {
			continue
		}
		c.add(m)
	}
	return c
}

// SumMeals sums every meal without any day filtering.
func SumMeals(meals []Meal) Consumption {
	var c Consumption
	for _, m := range meals {
		c.add(m)
	}
	return c
}

func (c *Consumption) add(m Meal) {
	c.Calories += m.TotalCalories
	c.ProteinG += m.TotalProtein
	c.CarbsG += m.TotalCarbs
	c.FatG += m.TotalFat
}
