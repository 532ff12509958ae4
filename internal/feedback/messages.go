package feedback

import (
	"fmt"
	"strings"
)

func poorFormMessage(f Finding) string {
	return fmt.Sprintf("Your notes flag a form issue on %s (\"%s\"). Clean technique first, load second.",
		strings.Join(f.References, ", "), f.Detail)
}

func poorFormAction(f Finding) string {
	return "Drop the weight by 10-20% next session and film one working set to check your technique"
}

func inconsistentRPEMessage(f Finding) string {
	return fmt.Sprintf("Your effort ratings are all over the place (variance %.1f across %d sets). Consistent RPE makes it easier to pick the right load.",
		f.Value, f.Count)
}

func inconsistentRPEAction(f Finding) string {
	return "Aim for RPE 7-8 on working sets and rate each set right after finishing it"
}

func significantImprovementMessage(f Finding) string {
	return fmt.Sprintf("¡Excelente! %s is up %.0f%% compared with a month ago. That progress is real.",
		f.Detail, f.Value)
}

func significantImprovementAction(f Finding) string {
	return "Review your goals and consider setting a new, more ambitious target"
}

func consistencyStreakMessage(f Finding) string {
	return fmt.Sprintf("%d workouts logged in a row. Consistency like this is what builds results.", f.Count)
}

func consistencyStreakAction(f Finding) string {
	return "Keep the rhythm and plan a recovery day so the streak stays sustainable"
}

func lowMotivationMessage(f Finding) string {
	return fmt.Sprintf("Motivation at %.0f/10 is part of the journey. Every champion has days like this, and showing up counts.", f.Value)
}

func lowMotivationAction(f Finding) string {
	return "Pick the shortest workout you enjoy and do only that today"
}

func highStressMessage(f Finding) string {
	return fmt.Sprintf("Your stress is at %.0f/10. Training can help, but today recovery matters as much as intensity.", f.Value)
}

func highStressAction(f Finding) string {
	return "Choose a light session or a walk, and add 5 minutes of breathing work afterwards"
}

func confidenceBoostMessage(f Finding) string {
	return "You've had a run of wins lately. Trust the process, you're more capable than you think."
}

func confidenceBoostAction(f Finding) string {
	return "Try one slightly heavier set or a new exercise this week"
}
