package proactivity

import (
	"math"
	"sort"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/util"
)

// Trigger ids.
const (
	TriggerPoorSleepPattern     = "poor_sleep_pattern"
	TriggerInjuryRisk           = "injury_risk"
	TriggerPerformancePlateau   = "performance_plateau"
	TriggerRecoveryWindow       = "recovery_window"
	TriggerMotivationDip        = "motivation_dip"
	TriggerHabitStreak          = "habit_streak"
	TriggerTechniqueOpportunity = "technique_opportunity"
	TriggerHabitBreakage        = "habit_breakage"
)

// Trigger categories.
const (
	CategoryHealthSafety = "health_safety"
	CategoryPerformance  = "performance"
	CategoryMotivation   = "motivation"
	CategoryHabits       = "habits"
	CategoryEducation    = "education"
)

// plateauThreshold is the relative change below which two windows count as flat.
const plateauThreshold = 0.02

var defaultTriggers = []models.ProactiveTrigger{
	{
		ID:         TriggerPoorSleepPattern,
		Category:   CategoryHealthSafety,
		Priority:   models.PriorityCritical,
		Condition:  poorSleepPattern,
		Confidence: 95,
		Cooldown:   24 * time.Hour,
	},
	{
		ID:         TriggerInjuryRisk,
		Category:   CategoryHealthSafety,
		Priority:   models.PriorityCritical,
		Condition:  injuryRisk,
		Confidence: 90,
		Cooldown:   48 * time.Hour,
	},
	{
		ID:         TriggerPerformancePlateau,
		Category:   CategoryPerformance,
		Priority:   models.PriorityHigh,
		Condition:  func(s models.UserDataSnapshot) bool { return len(plateauedMetrics(s)) > 0 },
		Confidence: 85,
		Cooldown:   168 * time.Hour,
	},
	{
		ID:         TriggerRecoveryWindow,
		Category:   CategoryPerformance,
		Priority:   models.PriorityHigh,
		Condition:  recoveryWindow,
		Confidence: 80,
		Cooldown:   72 * time.Hour,
	},
	{
		ID:         TriggerMotivationDip,
		Category:   CategoryMotivation,
		Priority:   models.PriorityMedium,
		Condition:  motivationDip,
		Confidence: 75,
		Cooldown:   48 * time.Hour,
	},
	{
		ID:         TriggerHabitStreak,
		Category:   CategoryHabits,
		Priority:   models.PriorityMedium,
		Condition:  habitStreak,
		Confidence: 85,
		Cooldown:   168 * time.Hour,
	},
	{
		ID:         TriggerTechniqueOpportunity,
		Category:   CategoryEducation,
		Priority:   models.PriorityLow,
		Condition:  techniqueOpportunity,
		Confidence: 70,
		Cooldown:   168 * time.Hour,
	},
	{
		ID:         TriggerHabitBreakage,
		Category:   CategoryHabits,
		Priority:   models.PriorityMedium,
		Condition:  habitBreakage,
		Confidence: 80,
		Cooldown:   24 * time.Hour,
	},
}

// DefaultTriggers returns a copy of the built-in trigger catalog in registration order.
// The predicates are pure, so the returned slice may be shared by any number of engines.
func DefaultTriggers() []models.ProactiveTrigger {
	out := make([]models.ProactiveTrigger, len(defaultTriggers))
	copy(out, defaultTriggers)
	return out
}

func poorSleepPattern(s models.UserDataSnapshot) bool {
	return util.AllLast(s.SleepHours, 3, func(h float64) bool { return h < 6 })
}

func injuryRisk(s models.UserDataSnapshot) bool {
	if len(s.PainReports) < 2 {
		return false
	}
	return util.AnyLast(s.WorkoutIntensity, 3, func(i float64) bool { return i > 8 })
}

// plateauedMetrics returns, sorted, the names of performance metrics whose last two values
// average within plateauThreshold of the two values before them.
func plateauedMetrics(s models.UserDataSnapshot) []string {
	var names []string
	for name, values := range s.PerformanceMetrics {
		if len(values) < 4 {
			continue
		}
		recent := util.Mean(values[len(values)-2:])
		previous := util.Mean(values[len(values)-4 : len(values)-2])
		if previous == 0 {
			continue
		}
		change := math.Abs(recent-previous) / math.Abs(previous)
		if change < plateauThreshold {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func recoveryWindow(s models.UserDataSnapshot) bool {
	return util.MeanLast(s.SleepQuality, 3) > 7 &&
		util.MeanLast(s.HydrationLevels, 3) > 7 &&
		util.MeanLast(s.StressLevels, 3) < 4
}

func motivationDip(s models.UserDataSnapshot) bool {
	usage := s.AppUsageFrequency
	if len(usage) < 7 {
		return false
	}
	recent := util.MeanLast(usage, 3)
	baseline := util.Mean(usage[len(usage)-7 : len(usage)-3])
	return recent < baseline*0.5
}

func habitStreak(s models.UserDataSnapshot) bool {
	return util.Latest(s.WorkoutConsistency) > 8 &&
		util.AllLast(s.AppUsageFrequency, 7, func(u float64) bool { return u > 0 })
}

func techniqueOpportunity(s models.UserDataSnapshot) bool {
	if len(s.FormQuality) < 3 {
		return false
	}
	intensity := util.MeanLast(s.WorkoutIntensity, 3)
	return util.MeanLast(s.FormQuality, 3) > 7 && intensity > 5 && intensity < 8
}

func habitBreakage(s models.UserDataSnapshot) bool {
	return util.Latest(s.WorkoutConsistency) > 7 &&
		util.AllLast(s.AppUsageFrequency, 3, func(u float64) bool { return u == 0 })
}
