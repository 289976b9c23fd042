package fitness

// MacroStat is one macro's intake against its daily goal.
type MacroStat struct {
	Consumed float64 `json:"consumed"`
	Goal     float64 `json:"goal"`
	Percent  float64 `json:"percent"` // 0..1
}

// MacroProgress is today's intake against targets, per macro.
type MacroProgress struct {
	Calories MacroStat `json:"calories"`
	Protein  MacroStat `json:"protein"`
	Carbs    MacroStat `json:"carbs"`
	Fat      MacroStat `json:"fat"`
}

// Progress compares consumption with targets. Percent is capped at 1 and is
// 0 when the goal is not positive.
func Progress(consumed Consumption, targets Targets) MacroProgress {
	return MacroProgress{
		Calories: stat(consumed.Calories, targets.Calories),
		Protein:  stat(consumed.ProteinG, targets.ProteinG),
		Carbs:    stat(consumed.CarbsG, targets.CarbsG),
		Fat:      stat(consumed.FatG, targets.FatG),
	}
}

func stat(consumed float64, goal int) MacroStat {
	s := MacroStat{Consumed: consumed, Goal: float64(goal)}
	if goal <= 0 || consumed <= 0 {
		return s
	}
	s.Percent = min(consumed/s.Goal, 1)
	return s
}
