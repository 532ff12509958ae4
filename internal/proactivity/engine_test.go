package proactivity

import (
	"testing"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/google/go-cmp/cmp"
)

// testClock is a settable clock for engines under test.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

// openSettings has no quiet window and no daily cap.
func openSettings() models.ProactivitySettings {
	return models.ProactivitySettings{Timezone: "UTC"}
}

// busySnapshot fires poor_sleep_pattern, injury_risk, performance_plateau, habit_streak and
// technique_opportunity.
func busySnapshot() models.UserDataSnapshot {
	return models.UserDataSnapshot{
		SleepHours:         []float64{5, 5, 5},
		PainReports:        []string{"knee", "lower back"},
		WorkoutIntensity:   []float64{6, 7, 9},
		FormQuality:        []float64{8, 8, 8},
		WorkoutConsistency: []float64{9},
		AppUsageFrequency:  []float64{1, 1, 1, 1, 1, 1, 1},
		PerformanceMetrics: map[string][]float64{"squat": {100, 100, 101, 100}},
	}
}

func triggerIDs(interventions []models.ProactiveIntervention) []string {
	ids := make([]string, 0, len(interventions))
	for _, in := range interventions {
		ids = append(ids, in.TriggerID)
	}
	return ids
}

func containsTrigger(interventions []models.ProactiveIntervention, id string) bool {
	for _, in := range interventions {
		if in.TriggerID == id {
			return true
		}
	}
	return false
}

func TestEvaluateTriggers_PriorityOrdering(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(openSettings(), WithClock(clock.Now))

	got := triggerIDs(e.EvaluateTriggers(busySnapshot()))
	want := []string{
		TriggerPoorSleepPattern,
		TriggerInjuryRisk,
		TriggerPerformancePlateau,
		TriggerHabitStreak,
		TriggerTechniqueOpportunity,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fired triggers mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateTriggers_CriticalBeforeHigh(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(openSettings(), WithClock(clock.Now))

	result := e.EvaluateTriggers(busySnapshot())
	for i := range result {
		for j := i + 1; j < len(result); j++ {
			if result[i].Priority.Rank() > result[j].Priority.Rank() {
				t.Errorf("%s (%s) appears before %s (%s)", result[i].TriggerID, result[i].Priority, result[j].TriggerID, result[j].Priority)
			}
		}
	}
}

func TestEvaluateTriggers_QuietHoursSuppressEverything(t *testing.T) {
	clock := newTestClock()
	clock.now = time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	settings := openSettings()
	settings.QuietHours = models.QuietHours{Start: "22:00", End: "07:00"}
	e := NewEngine(settings, WithClock(clock.Now))

	if got := e.EvaluateTriggers(busySnapshot()); len(got) != 0 {
		t.Fatalf("expected no interventions during quiet hours, got %v", triggerIDs(got))
	}
	if len(e.LastTriggered()) != 0 {
		t.Error("no trigger should start its cooldown during quiet hours")
	}

	clock.now = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	if got := e.EvaluateTriggers(busySnapshot()); len(got) == 0 {
		t.Error("expected interventions outside quiet hours")
	}
}

func TestInQuietHours(t *testing.T) {
	overnight := models.QuietHours{Start: "22:00", End: "07:00"}
	daytime := models.QuietHours{Start: "13:00", End: "15:00"}
	at := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name  string
		q     models.QuietHours
		now   time.Time
		quiet bool
	}{
		{"overnight late evening", overnight, at(23, 30), true},
		{"overnight early morning", overnight, at(3, 0), true},
		{"overnight at start", overnight, at(22, 0), true},
		{"overnight at end", overnight, at(7, 0), false},
		{"overnight noon", overnight, at(12, 0), false},
		{"daytime inside", daytime, at(14, 0), true},
		{"daytime outside", daytime, at(16, 0), false},
		{"empty window", models.QuietHours{}, at(3, 0), false},
		{"zero-length window", models.QuietHours{Start: "08:00", End: "08:00"}, at(8, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quiet, err := InQuietHours(tt.now, tt.q)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if quiet != tt.quiet {
				t.Errorf("InQuietHours(%s, %+v) = %v, want %v", tt.now.Format("15:04"), tt.q, quiet, tt.quiet)
			}
		})
	}
}

func TestEvaluateTriggers_MalformedQuietHoursIgnored(t *testing.T) {
	clock := newTestClock()
	settings := openSettings()
	settings.QuietHours = models.QuietHours{Start: "late", End: "07:00"}
	e := NewEngine(settings, WithClock(clock.Now))

	if _, err := InQuietHours(clock.now, settings.QuietHours); err == nil {
		t.Error("expected parse error for malformed window")
	}
	if got := e.EvaluateTriggers(busySnapshot()); len(got) == 0 {
		t.Error("malformed quiet hours should not block evaluation")
	}
}

func TestEvaluateTriggers_CooldownHoldsThenExpires(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(openSettings(), WithClock(clock.Now))
	snapshot := models.UserDataSnapshot{SleepHours: []float64{5, 4, 5}}

	if got := e.EvaluateTriggers(snapshot); !containsTrigger(got, TriggerPoorSleepPattern) {
		t.Fatal("expected poor_sleep_pattern to fire initially")
	}

	clock.Advance(23 * time.Hour)
	if got := e.EvaluateTriggers(snapshot); containsTrigger(got, TriggerPoorSleepPattern) {
		t.Error("poor_sleep_pattern re-fired inside its 24h cooldown")
	}

	clock.Advance(2 * time.Hour)
	if got := e.EvaluateTriggers(snapshot); !containsTrigger(got, TriggerPoorSleepPattern) {
		t.Error("poor_sleep_pattern should fire again after 25 hours")
	}
}

func TestEvaluateTriggers_CooldownOverrideUsesLongerPeriod(t *testing.T) {
	snapshot := models.UserDataSnapshot{SleepHours: []float64{5, 4, 5}}

	t.Run("longer override extends cooldown", func(t *testing.T) {
		clock := newTestClock()
		settings := openSettings()
		settings.CooldownOverridesHours = map[string]int{TriggerPoorSleepPattern: 48}
		e := NewEngine(settings, WithClock(clock.Now))
		e.EvaluateTriggers(snapshot)
		clock.Advance(25 * time.Hour)
		if got := e.EvaluateTriggers(snapshot); containsTrigger(got, TriggerPoorSleepPattern) {
			t.Error("48h override should still hold at 25 hours")
		}
	})

	t.Run("shorter override does not shorten cooldown", func(t *testing.T) {
		clock := newTestClock()
		settings := openSettings()
		settings.CooldownOverridesHours = map[string]int{TriggerPoorSleepPattern: 12}
		e := NewEngine(settings, WithClock(clock.Now))
		e.EvaluateTriggers(snapshot)
		clock.Advance(13 * time.Hour)
		if got := e.EvaluateTriggers(snapshot); containsTrigger(got, TriggerPoorSleepPattern) {
			t.Error("trigger's own 24h cooldown should win over a 12h override")
		}
	})
}

func TestEvaluateTriggers_DailyLimitKeepsHighestPriority(t *testing.T) {
	clock := newTestClock()
	settings := openSettings()
	settings.MaxDailyInterventions = 2
	e := NewEngine(settings, WithClock(clock.Now))

	got := triggerIDs(e.EvaluateTriggers(busySnapshot()))
	if diff := cmp.Diff([]string{TriggerPoorSleepPattern, TriggerInjuryRisk}, got); diff != "" {
		t.Errorf("capped result mismatch (-want +got):\n%s", diff)
	}

	clock.Advance(time.Hour)
	if got := e.EvaluateTriggers(busySnapshot()); len(got) != 0 {
		t.Errorf("daily budget exhausted, expected nothing, got %v", triggerIDs(got))
	}

	// Next day: the budget resets and triggers dropped by the cap never started a cooldown.
	clock.Advance(24 * time.Hour)
	got = triggerIDs(e.EvaluateTriggers(busySnapshot()))
	if diff := cmp.Diff([]string{TriggerPoorSleepPattern, TriggerPerformancePlateau}, got); diff != "" {
		t.Errorf("next-day result mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateTriggers_AnalyticsCounters(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(openSettings(), WithClock(clock.Now))

	before := e.Analytics()
	if before.InterventionsTriggered != 0 || before.LastIntervention != nil {
		t.Fatalf("expected zeroed analytics, got %+v", before)
	}

	e.EvaluateTriggers(models.UserDataSnapshot{
		SleepHours:  []float64{5, 5, 5},
		PainReports: []string{"wrist", "wrist"}, WorkoutIntensity: []float64{9},
	})
	e.RecordResponse(true)

	a := e.Analytics()
	if a.InterventionsTriggered != 2 {
		t.Errorf("expected 2 interventions, got %d", a.InterventionsTriggered)
	}
	if a.CategoryBreakdown[CategoryHealthSafety] != 2 {
		t.Errorf("expected 2 health_safety, got %v", a.CategoryBreakdown)
	}
	if a.ResponseRate != 0.5 || a.SuccessRate != 1 {
		t.Errorf("unexpected rates: response=%v success=%v", a.ResponseRate, a.SuccessRate)
	}
	if a.LastIntervention == nil || !a.LastIntervention.Equal(clock.now) {
		t.Errorf("expected last intervention at %v, got %v", clock.now, a.LastIntervention)
	}

	a.CategoryBreakdown[CategoryHealthSafety] = 99
	if e.Analytics().CategoryBreakdown[CategoryHealthSafety] != 2 {
		t.Error("Analytics must return a copy")
	}
}

func TestEvaluateTriggers_ResponsesDoNotChangeEvaluation(t *testing.T) {
	clock := newTestClock()
	snapshot := busySnapshot()

	a := NewEngine(openSettings(), WithClock(clock.Now))
	b := NewEngine(openSettings(), WithClock(clock.Now))
	b.RecordResponse(false)
	b.RecordResponse(true)

	if diff := cmp.Diff(triggerIDs(a.EvaluateTriggers(snapshot)), triggerIDs(b.EvaluateTriggers(snapshot))); diff != "" {
		t.Errorf("recorded responses changed evaluation (-plain +responded):\n%s", diff)
	}
}

func TestRestoreLastTriggered(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(openSettings(), WithClock(clock.Now))
	e.RestoreLastTriggered(map[string]time.Time{TriggerPoorSleepPattern: clock.now.Add(-time.Hour)})

	got := e.EvaluateTriggers(models.UserDataSnapshot{SleepHours: []float64{5, 5, 5}})
	if containsTrigger(got, TriggerPoorSleepPattern) {
		t.Error("restored fire time should keep poor_sleep_pattern on cooldown")
	}
	if !e.LastTriggered()[TriggerPoorSleepPattern].Equal(clock.now.Add(-time.Hour)) {
		t.Error("restored fire time should be preserved")
	}
}

func TestSharedCatalogKeepsEnginesIndependent(t *testing.T) {
	clock := newTestClock()
	catalog := DefaultTriggers()
	snapshot := models.UserDataSnapshot{SleepHours: []float64{5, 5, 5}}

	first := NewEngine(openSettings(), WithClock(clock.Now), WithCatalog(catalog))
	second := NewEngine(openSettings(), WithClock(clock.Now), WithCatalog(catalog))

	first.EvaluateTriggers(snapshot)
	if got := second.EvaluateTriggers(snapshot); !containsTrigger(got, TriggerPoorSleepPattern) {
		t.Error("cooldown of one engine leaked into another engine sharing the catalog")
	}
}

func TestUpdateSettingsShallowMerge(t *testing.T) {
	clock := newTestClock()
	settings := openSettings()
	settings.MaxDailyInterventions = 4
	e := NewEngine(settings, WithClock(clock.Now))

	quiet := models.QuietHours{Start: "11:00", End: "13:00"}
	e.UpdateSettings(models.ProactivitySettingsUpdate{QuietHours: &quiet})

	if e.Settings().MaxDailyInterventions != 4 {
		t.Error("untouched fields must survive a partial update")
	}
	if got := e.EvaluateTriggers(busySnapshot()); len(got) != 0 {
		t.Error("new quiet window should apply immediately")
	}
}

func TestInterventionFields(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(openSettings(), WithClock(clock.Now))

	got := e.EvaluateTriggers(models.UserDataSnapshot{SleepHours: []float64{5, 5, 5}})
	if len(got) != 1 {
		t.Fatalf("expected one intervention, got %d", len(got))
	}
	in := got[0]
	if in.ID == "" || in.Message == "" || in.SuggestedAction == "" {
		t.Errorf("intervention missing fields: %+v", in)
	}
	if in.Category != CategoryHealthSafety || in.Priority != models.PriorityCritical || in.Confidence != 95 {
		t.Errorf("unexpected metadata: %+v", in)
	}
	if !in.CreatedAt.Equal(clock.now) {
		t.Errorf("expected CreatedAt %v, got %v", clock.now, in.CreatedAt)
	}
}

func TestEveryTriggerHasMessageBuilder(t *testing.T) {
	seen := make(map[string]bool)
	for _, trigger := range DefaultTriggers() {
		if seen[trigger.ID] {
			t.Errorf("duplicate trigger id %s", trigger.ID)
		}
		seen[trigger.ID] = true
		if _, ok := messageBuilders[trigger.ID]; !ok {
			t.Errorf("trigger %s has no message builder", trigger.ID)
		}
	}
	if len(messageBuilders) != len(seen) {
		t.Errorf("message builders (%d) and triggers (%d) differ", len(messageBuilders), len(seen))
	}
}

func TestRollbackUndoesEvaluation(t *testing.T) {
	clock := newTestClock()
	settings := openSettings()
	settings.MaxDailyInterventions = 2
	e := NewEngine(settings, WithClock(clock.Now))

	checkpoint := e.Checkpoint()
	if got := e.EvaluateTriggers(busySnapshot()); len(got) != 2 {
		t.Fatalf("expected 2 capped interventions, got %v", triggerIDs(got))
	}
	e.Rollback(checkpoint)

	a := e.Analytics()
	if a.InterventionsTriggered != 0 || a.LastIntervention != nil || len(a.CategoryBreakdown) != 0 {
		t.Errorf("analytics not rolled back: %+v", a)
	}
	if len(e.LastTriggered()) != 0 {
		t.Errorf("fire times not rolled back: %v", e.LastTriggered())
	}

	clock.Advance(time.Minute)
	got := triggerIDs(e.EvaluateTriggers(busySnapshot()))
	if diff := cmp.Diff([]string{TriggerPoorSleepPattern, TriggerInjuryRisk}, got); diff != "" {
		t.Errorf("retry after rollback mismatch (-want +got):\n%s", diff)
	}
}
