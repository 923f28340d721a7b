package pipeline

import "time"

// summarizeCalories computes the energy picture for the target date:
// consumed from food logs, burned from exercise logs, and
// net = TDEE - consumed + burned. Net stays nil when TDEE is unknown,
// never zero.
func summarizeCalories(food []FoodLogEntry, exercise []ExerciseLogEntry, profile *UserProfile) CalorieSummary {
	summary := CalorieSummary{}
	for _, entry := range food {
		summary.Consumed += entry.Calories
	}
	for _, entry := range exercise {
		summary.Burned += entry.CaloriesBurned
	}
	if profile != nil && profile.TDEE != nil {
		tdee := *profile.TDEE
		net := tdee - summary.Consumed + summary.Burned
		summary.TDEE = &tdee
		summary.Net = &net
	}
	return summary
}

// timeOfDayLabel buckets the turn clock for prompt tailoring.
func timeOfDayLabel(t time.Time) string {
	switch hour := t.Hour(); {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 21:
		return "evening"
	default:
		return "night"
	}
}
