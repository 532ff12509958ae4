package proactivity

import (
	"testing"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/google/go-cmp/cmp"
)

func triggerByID(t *testing.T, id string) models.ProactiveTrigger {
	t.Helper()
	for _, trigger := range DefaultTriggers() {
		if trigger.ID == id {
			return trigger
		}
	}
	t.Fatalf("trigger %s not in catalog", id)
	return models.ProactiveTrigger{}
}

func TestTriggerConditions(t *testing.T) {
	tests := []struct {
		name     string
		trigger  string
		snapshot models.UserDataSnapshot
		want     bool
	}{
		{"poor sleep three short nights", TriggerPoorSleepPattern, models.UserDataSnapshot{SleepHours: []float64{8, 5, 5.5, 4}}, true},
		{"poor sleep one good night", TriggerPoorSleepPattern, models.UserDataSnapshot{SleepHours: []float64{5, 7, 5}}, false},
		{"poor sleep too little history", TriggerPoorSleepPattern, models.UserDataSnapshot{SleepHours: []float64{4, 4}}, false},

		{"injury two reports high intensity", TriggerInjuryRisk, models.UserDataSnapshot{PainReports: []string{"knee", "knee"}, WorkoutIntensity: []float64{7, 9, 6}}, true},
		{"injury one report", TriggerInjuryRisk, models.UserDataSnapshot{PainReports: []string{"knee"}, WorkoutIntensity: []float64{10, 10, 10}}, false},
		{"injury moderate intensity", TriggerInjuryRisk, models.UserDataSnapshot{PainReports: []string{"knee", "hip"}, WorkoutIntensity: []float64{8, 8, 8}}, false},
		{"injury spike outside window", TriggerInjuryRisk, models.UserDataSnapshot{PainReports: []string{"knee", "hip"}, WorkoutIntensity: []float64{10, 5, 5, 5}}, false},

		{"plateau flat metric", TriggerPerformancePlateau, models.UserDataSnapshot{PerformanceMetrics: map[string][]float64{"bench": {60, 61, 61, 60.5}}}, true},
		{"plateau improving metric", TriggerPerformancePlateau, models.UserDataSnapshot{PerformanceMetrics: map[string][]float64{"bench": {60, 62, 66, 68}}}, false},
		{"plateau short series", TriggerPerformancePlateau, models.UserDataSnapshot{PerformanceMetrics: map[string][]float64{"bench": {60, 60, 60}}}, false},
		{"plateau zero baseline", TriggerPerformancePlateau, models.UserDataSnapshot{PerformanceMetrics: map[string][]float64{"bench": {0, 0, 0, 0}}}, false},

		{"recovery all good", TriggerRecoveryWindow, models.UserDataSnapshot{SleepQuality: []float64{8, 8, 9}, HydrationLevels: []float64{8, 9, 8}, StressLevels: []float64{2, 3, 2}}, true},
		{"recovery stressed", TriggerRecoveryWindow, models.UserDataSnapshot{SleepQuality: []float64{8, 8, 9}, HydrationLevels: []float64{8, 9, 8}, StressLevels: []float64{6, 5, 6}}, false},
		{"recovery missing hydration", TriggerRecoveryWindow, models.UserDataSnapshot{SleepQuality: []float64{8, 8, 9}, StressLevels: []float64{2, 2, 2}}, false},

		{"motivation halved usage", TriggerMotivationDip, models.UserDataSnapshot{AppUsageFrequency: []float64{10, 10, 10, 10, 2, 2, 2}}, true},
		{"motivation slight drop", TriggerMotivationDip, models.UserDataSnapshot{AppUsageFrequency: []float64{10, 10, 10, 10, 8, 8, 8}}, false},
		{"motivation short history", TriggerMotivationDip, models.UserDataSnapshot{AppUsageFrequency: []float64{10, 10, 1, 1}}, false},

		{"streak seven active days", TriggerHabitStreak, models.UserDataSnapshot{WorkoutConsistency: []float64{5, 9}, AppUsageFrequency: []float64{2, 1, 1, 3, 1, 2, 1}}, true},
		{"streak one idle day", TriggerHabitStreak, models.UserDataSnapshot{WorkoutConsistency: []float64{9}, AppUsageFrequency: []float64{2, 1, 0, 3, 1, 2, 1}}, false},
		{"streak low consistency", TriggerHabitStreak, models.UserDataSnapshot{WorkoutConsistency: []float64{9, 7}, AppUsageFrequency: []float64{1, 1, 1, 1, 1, 1, 1}}, false},

		{"technique good form moderate intensity", TriggerTechniqueOpportunity, models.UserDataSnapshot{FormQuality: []float64{8, 9, 8}, WorkoutIntensity: []float64{6, 6, 7}}, true},
		{"technique intensity too high", TriggerTechniqueOpportunity, models.UserDataSnapshot{FormQuality: []float64{8, 9, 8}, WorkoutIntensity: []float64{9, 9, 9}}, false},
		{"technique too few form ratings", TriggerTechniqueOpportunity, models.UserDataSnapshot{FormQuality: []float64{9, 9}, WorkoutIntensity: []float64{6, 6, 6}}, false},

		{"breakage consistent user went idle", TriggerHabitBreakage, models.UserDataSnapshot{WorkoutConsistency: []float64{8}, AppUsageFrequency: []float64{3, 0, 0, 0}}, true},
		{"breakage only two idle days", TriggerHabitBreakage, models.UserDataSnapshot{WorkoutConsistency: []float64{8}, AppUsageFrequency: []float64{0, 0}}, false},
		{"breakage inconsistent user", TriggerHabitBreakage, models.UserDataSnapshot{WorkoutConsistency: []float64{4}, AppUsageFrequency: []float64{0, 0, 0}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := triggerByID(t, tt.trigger)
			if got := trigger.Condition(tt.snapshot); got != tt.want {
				t.Errorf("%s condition = %v, want %v", tt.trigger, got, tt.want)
			}
		})
	}
}

func TestEmptySnapshotFiresNothing(t *testing.T) {
	for _, trigger := range DefaultTriggers() {
		if trigger.Condition(models.UserDataSnapshot{}) {
			t.Errorf("%s fired for an empty snapshot", trigger.ID)
		}
	}
}

func TestPlateauedMetricsSorted(t *testing.T) {
	s := models.UserDataSnapshot{PerformanceMetrics: map[string][]float64{
		"squat":    {100, 100, 100, 100},
		"bench":    {60, 60, 60, 60},
		"deadlift": {120, 130, 140, 150},
	}}
	if diff := cmp.Diff([]string{"bench", "squat"}, plateauedMetrics(s)); diff != "" {
		t.Errorf("plateaued metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultTriggersReturnsCopy(t *testing.T) {
	catalog := DefaultTriggers()
	catalog[0].Confidence = 1
	if DefaultTriggers()[0].Confidence == 1 {
		t.Error("mutating the returned catalog changed the defaults")
	}
}
