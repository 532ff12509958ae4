package coach

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/feedback"
	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/proactivity"
	"github.com/BTreeMap/ChatMaestro/internal/store"
	"github.com/google/go-cmp/cmp"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

// sleepyPlateauSnapshot fires poor_sleep_pattern (critical), performance_plateau (high) and
// habit_streak (medium).
func sleepyPlateauSnapshot() models.UserDataSnapshot {
	return models.UserDataSnapshot{
		SleepHours:         []float64{5, 5, 5},
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

func ruleIDs(items []models.FeedbackItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.RuleID)
	}
	return ids
}

func TestProactivityServiceDisabledLeavesEngineUntouched(t *testing.T) {
	clock := newTestClock()
	svc := NewProactivityService(models.ProactivitySettings{Timezone: "UTC"}, WithClock(clock.Now))

	svc.SetEnabled(false)
	got := svc.Evaluate(sleepyPlateauSnapshot())
	if got == nil || len(got) != 0 {
		t.Fatalf("disabled service should return an empty non-nil list, got %v", got)
	}
	if n := svc.Analytics().InterventionsTriggered; n != 0 {
		t.Errorf("disabled evaluation counted %d interventions", n)
	}

	svc.SetEnabled(true)
	if !svc.Enabled() {
		t.Fatal("expected service to be enabled")
	}
	got = svc.Evaluate(sleepyPlateauSnapshot())
	want := []string{proactivity.TriggerPoorSleepPattern, proactivity.TriggerPerformancePlateau, proactivity.TriggerHabitStreak}
	if diff := cmp.Diff(want, triggerIDs(got)); diff != "" {
		t.Errorf("fired triggers mismatch (-want +got):\n%s", diff)
	}
}

func TestProactivityServiceRecordUserResponse(t *testing.T) {
	clock := newTestClock()
	st := store.NewInMemoryStore()
	svc := NewProactivityService(models.ProactivitySettings{Timezone: "UTC"}, WithClock(clock.Now), WithResponseRecorder(st))

	fired := svc.Evaluate(sleepyPlateauSnapshot())
	if len(fired) == 0 {
		t.Fatal("expected interventions")
	}

	if err := svc.RecordUserResponse(models.UserResponse{ParticipantID: "p1", Kind: models.ResponseAccepted}); !errors.Is(err, models.ErrEmptyInterventionID) {
		t.Fatalf("expected ErrEmptyInterventionID, got %v", err)
	}
	if err := svc.RecordUserResponse(models.UserResponse{ParticipantID: "p1", InterventionID: fired[0].ID, Kind: "shrug"}); !errors.Is(err, models.ErrInvalidResponseKind) {
		t.Fatalf("expected ErrInvalidResponseKind, got %v", err)
	}
	if err := svc.RecordUserResponse(models.UserResponse{ParticipantID: "p1", InterventionID: fired[0].ID, Kind: models.ResponseAccepted}); err != nil {
		t.Fatalf("RecordUserResponse: %v", err)
	}

	stored, err := st.ListUserResponses("p1")
	if err != nil {
		t.Fatalf("ListUserResponses: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored response, got %d", len(stored))
	}
	if stored[0].Source != models.SourceProactivity || stored[0].ID == "" || !stored[0].RecordedAt.Equal(clock.Now()) {
		t.Errorf("unexpected stored response: %+v", stored[0])
	}

	a := svc.Analytics()
	if a.ResponsesRecorded != 1 || a.SuccessRate != 1 {
		t.Errorf("analytics not updated: %+v", a)
	}

	// Responses never change what fires.
	clock.Advance(25 * time.Hour)
	if got := triggerIDs(svc.Evaluate(sleepyPlateauSnapshot())); !cmp.Equal(got, []string{proactivity.TriggerPoorSleepPattern}) {
		t.Errorf("after cooldown got %v, want only poor_sleep_pattern", got)
	}
}

func psychContext(motivation, stress float64) models.FeedbackContext {
	return models.FeedbackContext{
		User: models.UserData{
			ID:            "p1",
			Psychological: models.PsychologicalState{Energy: 5, Motivation: motivation, Stress: stress, Confidence: 5},
		},
	}
}

func TestFeedbackServiceDailyCap(t *testing.T) {
	clock := newTestClock()
	settings := models.DefaultFeedbackSettings()
	settings.MaxFeedbackPerDay = 1
	svc := NewFeedbackService(settings, WithClock(clock.Now), WithLocation(time.UTC))

	first := svc.GenerateFeedback(psychContext(2, 9))
	if diff := cmp.Diff([]string{feedback.RuleLowMotivation}, ruleIDs(first)); diff != "" {
		t.Errorf("first call mismatch (-want +got):\n%s", diff)
	}
	if got := svc.GenerateFeedback(psychContext(2, 9)); len(got) != 0 {
		t.Errorf("cap reached, expected nothing, got %v", ruleIDs(got))
	}

	clock.Advance(24 * time.Hour)
	if got := svc.GenerateFeedback(psychContext(2, 9)); len(got) != 1 {
		t.Errorf("next day expected 1 item, got %v", ruleIDs(got))
	}
}

func TestFeedbackServiceUnlimited(t *testing.T) {
	clock := newTestClock()
	settings := models.DefaultFeedbackSettings()
	settings.MaxFeedbackPerDay = 0
	svc := NewFeedbackService(settings, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		if got := svc.GenerateFeedback(psychContext(2, 9)); len(got) < 2 {
			t.Fatalf("call %d: expected at least 2 items, got %v", i, ruleIDs(got))
		}
	}
}

func TestFeedbackServiceHistory(t *testing.T) {
	clock := newTestClock()
	settings := models.DefaultFeedbackSettings()
	settings.MaxFeedbackPerDay = 0
	svc := NewFeedbackService(settings, WithClock(clock.Now))

	var restored []models.FeedbackItem
	for i := 0; i < 60; i++ {
		restored = append(restored, models.FeedbackItem{ID: "h", Category: models.CategoryTechnical})
	}
	svc.Restore(restored, 0)
	if n := len(svc.History()); n != historyCapacity {
		t.Fatalf("history length = %d, want %d", n, historyCapacity)
	}

	// Technical history does not boost confidence.
	neutral := psychContext(5, 5)
	if got := ruleIDs(svc.GenerateFeedback(neutral)); len(got) != 0 {
		t.Fatalf("expected no feedback, got %v", got)
	}

	// Emitted motivational items flow back in as history and eventually trigger
	// confidence_boost.
	svc.GenerateFeedback(psychContext(2, 5))
	svc.GenerateFeedback(psychContext(2, 5))
	svc.GenerateFeedback(psychContext(2, 5))
	got := ruleIDs(svc.GenerateFeedback(neutral))
	if diff := cmp.Diff([]string{feedback.RuleConfidenceBoost}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if n := len(svc.History()); n != historyCapacity {
		t.Errorf("history should stay capped at %d, got %d", historyCapacity, n)
	}
}

func TestFeedbackServiceDisabled(t *testing.T) {
	svc := NewFeedbackService(models.DefaultFeedbackSettings())
	svc.SetEnabled(false)
	got := svc.GenerateFeedback(psychContext(2, 9))
	if got == nil || len(got) != 0 {
		t.Fatalf("disabled service should return an empty non-nil list, got %v", got)
	}
	if len(svc.History()) != 0 {
		t.Error("disabled service must not record history")
	}
}

func TestFeedbackServiceRecordUserResponse(t *testing.T) {
	st := store.NewInMemoryStore()
	svc := NewFeedbackService(models.DefaultFeedbackSettings(), WithResponseRecorder(st))
	if err := svc.RecordUserResponse(models.UserResponse{ParticipantID: "p1", InterventionID: "low_motivation_1", Kind: models.ResponseDismissed}); err != nil {
		t.Fatalf("RecordUserResponse: %v", err)
	}
	stored, _ := st.ListUserResponses("p1")
	if len(stored) != 1 || stored[0].Source != models.SourceFeedback {
		t.Fatalf("unexpected stored responses: %+v", stored)
	}
}

func newTestRegistry(t *testing.T, clock *testClock) (*Registry, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.SaveParticipant(models.Participant{ID: "p1", PhoneNumber: "34600111222", Timezone: "UTC"}); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}
	return NewRegistry(st, WithRegistryClock(clock.Now)), st
}

func TestRegistryUnknownParticipant(t *testing.T) {
	r, _ := newTestRegistry(t, newTestClock())
	if _, err := r.Session("ghost"); !errors.Is(err, models.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if _, err := r.Session(""); !errors.Is(err, models.ErrEmptyParticipantID) {
		t.Fatalf("expected ErrEmptyParticipantID, got %v", err)
	}
}

func TestSessionEvaluatePersistsAndQueues(t *testing.T) {
	clock := newTestClock()
	r, st := newTestRegistry(t, clock)

	s, err := r.Session("p1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s.ProactivitySettings().Timezone != "UTC" {
		t.Errorf("participant timezone not applied: %q", s.ProactivitySettings().Timezone)
	}

	got, err := s.EvaluateSnapshot(sleepyPlateauSnapshot())
	if err != nil {
		t.Fatalf("EvaluateSnapshot: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 interventions, got %v", triggerIDs(got))
	}
	for _, in := range got {
		if in.ParticipantID != "p1" {
			t.Errorf("intervention %s missing participant id", in.TriggerID)
		}
	}

	stored, _ := st.ListInterventions("p1", 0)
	if len(stored) != 3 {
		t.Errorf("expected 3 stored interventions, got %d", len(stored))
	}

	// Default notification preferences deliver high and above.
	outbox := st.OutboxMessages()
	if len(outbox) != 2 {
		t.Fatalf("expected 2 queued deliveries, got %d", len(outbox))
	}
	var queued []string
	for _, msg := range outbox {
		var in models.ProactiveIntervention
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &in); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if msg.DedupeKey != "intervention:"+in.ID {
			t.Errorf("dedupe key = %q", msg.DedupeKey)
		}
		queued = append(queued, in.TriggerID)
	}
	if diff := cmp.Diff([]string{proactivity.TriggerPoorSleepPattern, proactivity.TriggerPerformancePlateau}, queued); diff != "" {
		t.Errorf("queued mismatch (-want +got):\n%s", diff)
	}

	state, err := st.GetSessionState("p1")
	if err != nil || state == nil {
		t.Fatalf("GetSessionState: %v, %v", state, err)
	}
	if _, ok := state.LastTriggered[proactivity.TriggerPoorSleepPattern]; !ok {
		t.Errorf("fire time not persisted: %v", state.LastTriggered)
	}
}

func TestSessionStateSurvivesReload(t *testing.T) {
	clock := newTestClock()
	r, st := newTestRegistry(t, clock)

	s, _ := r.Session("p1")
	if _, err := s.EvaluateSnapshot(sleepyPlateauSnapshot()); err != nil {
		t.Fatalf("EvaluateSnapshot: %v", err)
	}
	limit := 10
	if _, err := s.UpdateProactivitySettings(models.ProactivitySettingsUpdate{MaxDailyInterventions: &limit}); err != nil {
		t.Fatalf("UpdateProactivitySettings: %v", err)
	}
	if err := s.SetFeedbackEnabled(false); err != nil {
		t.Fatalf("SetFeedbackEnabled: %v", err)
	}

	// A new registry over the same store stands in for a restart.
	clock.Advance(time.Hour)
	reloaded, err := NewRegistry(st, WithRegistryClock(clock.Now)).Session("p1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if reloaded.ProactivitySettings().MaxDailyInterventions != 10 {
		t.Errorf("settings not restored: %+v", reloaded.ProactivitySettings())
	}
	if reloaded.FeedbackEnabled() {
		t.Error("feedback enabled flag not restored")
	}

	got, err := reloaded.EvaluateSnapshot(sleepyPlateauSnapshot())
	if err != nil {
		t.Fatalf("EvaluateSnapshot: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("cooldowns should survive reload, got %v", triggerIDs(got))
	}
}

func TestSessionDailyCapSurvivesReload(t *testing.T) {
	clock := newTestClock()
	r, st := newTestRegistry(t, clock)
	if err := st.SaveSessionState(models.SessionState{
		ParticipantID:       "p1",
		ProactivityEnabled:  true,
		FeedbackEnabled:     true,
		ProactivitySettings: models.ProactivitySettings{Timezone: "UTC", MaxDailyInterventions: 2},
		FeedbackSettings:    models.DefaultFeedbackSettings(),
	}); err != nil {
		t.Fatalf("SaveSessionState: %v", err)
	}
	if err := st.AddInterventions([]models.ProactiveIntervention{
		{ID: "old1", ParticipantID: "p1", TriggerID: "x", CreatedAt: clock.Now().Add(-time.Hour)},
	}); err != nil {
		t.Fatalf("AddInterventions: %v", err)
	}

	s, err := r.Session("p1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	got, _ := s.EvaluateSnapshot(sleepyPlateauSnapshot())
	if diff := cmp.Diff([]string{proactivity.TriggerPoorSleepPattern}, triggerIDs(got)); diff != "" {
		t.Errorf("one slot left today (-want +got):\n%s", diff)
	}
}

func TestSessionFeedbackAndResponses(t *testing.T) {
	clock := newTestClock()
	r, st := newTestRegistry(t, clock)
	s, _ := r.Session("p1")

	ctx := psychContext(2, 5)
	ctx.User.ID = ""
	items, err := s.GenerateFeedback(ctx)
	if err != nil {
		t.Fatalf("GenerateFeedback: %v", err)
	}
	if len(items) != 1 || items[0].ParticipantID != "p1" {
		t.Fatalf("unexpected items: %+v", items)
	}
	stored, _ := st.ListFeedbackItems("p1", 0)
	if len(stored) != 1 {
		t.Errorf("expected 1 stored feedback item, got %d", len(stored))
	}
	if len(s.FeedbackHistory()) != 1 {
		t.Errorf("history not updated")
	}

	if err := s.RecordUserResponse(models.UserResponse{InterventionID: items[0].ID, Source: models.SourceFeedback, Kind: models.ResponseAccepted}); err != nil {
		t.Fatalf("RecordUserResponse: %v", err)
	}
	if err := s.RecordUserResponse(models.UserResponse{InterventionID: "i1", Kind: models.ResponseIgnored}); err != nil {
		t.Fatalf("RecordUserResponse: %v", err)
	}
	responses, _ := st.ListUserResponses("p1")
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if responses[0].Source != models.SourceFeedback || responses[1].Source != models.SourceProactivity {
		t.Errorf("responses routed to wrong source: %+v", responses)
	}
	if s.Analytics().ResponsesRecorded != 1 {
		t.Errorf("only the proactivity response counts in analytics")
	}
}

// flakyStore fails writes of interventions and feedback while failing is set.
type flakyStore struct {
	*store.InMemoryStore
	failing bool
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) AddInterventions(items []models.ProactiveIntervention) error {
	if s.failing {
		return errDiskFull
	}
	return s.InMemoryStore.AddInterventions(items)
}

func (s *flakyStore) AddFeedbackItems(items []models.FeedbackItem) error {
	if s.failing {
		return errDiskFull
	}
	return s.InMemoryStore.AddFeedbackItems(items)
}

func TestSessionEvaluateStoreFailureKeepsTriggersEligible(t *testing.T) {
	clock := newTestClock()
	_, mem := newTestRegistry(t, clock)
	st := &flakyStore{InMemoryStore: mem, failing: true}
	r := NewRegistry(st, WithRegistryClock(clock.Now))
	s, err := r.Session("p1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	if _, err := s.EvaluateSnapshot(sleepyPlateauSnapshot()); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected store error, got %v", err)
	}
	if a := s.Analytics(); a.InterventionsTriggered != 0 || a.LastIntervention != nil {
		t.Errorf("failed evaluation left analytics behind: %+v", a)
	}

	st.failing = false
	clock.Advance(time.Minute)
	got, err := s.EvaluateSnapshot(sleepyPlateauSnapshot())
	if err != nil {
		t.Fatalf("EvaluateSnapshot: %v", err)
	}
	want := []string{proactivity.TriggerPoorSleepPattern, proactivity.TriggerPerformancePlateau, proactivity.TriggerHabitStreak}
	if diff := cmp.Diff(want, triggerIDs(got)); diff != "" {
		t.Errorf("retry mismatch (-want +got):\n%s", diff)
	}
	if n := s.Analytics().InterventionsTriggered; n != 3 {
		t.Errorf("InterventionsTriggered = %d, want 3", n)
	}
}

func TestSessionFeedbackStoreFailureKeepsBudget(t *testing.T) {
	clock := newTestClock()
	_, mem := newTestRegistry(t, clock)
	st := &flakyStore{InMemoryStore: mem, failing: true}
	s, err := NewRegistry(st, WithRegistryClock(clock.Now)).Session("p1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	limit := 1
	if _, err := s.UpdateFeedbackSettings(models.FeedbackSettingsUpdate{MaxFeedbackPerDay: &limit}); err != nil {
		t.Fatalf("UpdateFeedbackSettings: %v", err)
	}

	if _, err := s.GenerateFeedback(psychContext(2, 9)); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected store error, got %v", err)
	}
	if h := s.FeedbackHistory(); len(h) != 0 {
		t.Errorf("failed generation left history behind: %v", ruleIDs(h))
	}

	st.failing = false
	items, err := s.GenerateFeedback(psychContext(2, 9))
	if err != nil {
		t.Fatalf("GenerateFeedback: %v", err)
	}
	if diff := cmp.Diff([]string{feedback.RuleLowMotivation}, ruleIDs(items)); diff != "" {
		t.Errorf("retry mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryRefreshKeepsSessionState(t *testing.T) {
	clock := newTestClock()
	r, st := newTestRegistry(t, clock)
	s, _ := r.Session("p1")
	if _, err := s.EvaluateSnapshot(sleepyPlateauSnapshot()); err != nil {
		t.Fatalf("EvaluateSnapshot: %v", err)
	}

	updated := models.Participant{ID: "p1", PhoneNumber: "34600999888", Timezone: "Europe/Madrid"}
	if err := st.SaveParticipant(updated); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}
	if err := r.Refresh(updated); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	again, err := r.Session("p1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if again != s {
		t.Fatal("Refresh must keep the cached session")
	}
	if tz := again.ProactivitySettings().Timezone; tz != "Europe/Madrid" {
		t.Errorf("timezone = %q, want Europe/Madrid", tz)
	}
	if n := again.Analytics().InterventionsTriggered; n != 3 {
		t.Errorf("analytics reset by profile update: InterventionsTriggered = %d", n)
	}
	clock.Advance(time.Minute)
	if got, _ := again.EvaluateSnapshot(sleepyPlateauSnapshot()); len(got) != 0 {
		t.Errorf("triggers re-fired inside their cooldown: %v", triggerIDs(got))
	}

	state, _ := st.GetSessionState("p1")
	if state == nil || state.ProactivitySettings.Timezone != "Europe/Madrid" {
		t.Errorf("timezone change not persisted: %+v", state)
	}
	if err := r.Refresh(models.Participant{ID: "uncached", Timezone: "UTC"}); err != nil {
		t.Errorf("Refresh of an uncached participant should be a no-op, got %v", err)
	}
}

func TestProactivityTimezoneMovesFeedbackDay(t *testing.T) {
	clock := newTestClock()
	clock.Advance(11*time.Hour + 30*time.Minute) // 23:30 UTC
	r, _ := newTestRegistry(t, clock)
	s, _ := r.Session("p1")
	limit := 1
	if _, err := s.UpdateFeedbackSettings(models.FeedbackSettingsUpdate{MaxFeedbackPerDay: &limit}); err != nil {
		t.Fatalf("UpdateFeedbackSettings: %v", err)
	}
	if items, _ := s.GenerateFeedback(psychContext(2, 9)); len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", ruleIDs(items))
	}
	if items, _ := s.GenerateFeedback(psychContext(2, 9)); len(items) != 0 {
		t.Fatalf("cap reached, got %v", ruleIDs(items))
	}

	// It is already the next morning in Tokyo.
	tz := "Asia/Tokyo"
	if _, err := s.UpdateProactivitySettings(models.ProactivitySettingsUpdate{Timezone: &tz}); err != nil {
		t.Fatalf("UpdateProactivitySettings: %v", err)
	}
	if items, _ := s.GenerateFeedback(psychContext(2, 9)); len(items) != 1 {
		t.Errorf("feedback cap should roll over with the new timezone, got %v", ruleIDs(items))
	}
}

func TestSessionRejectsInvalidSettings(t *testing.T) {
	r, _ := newTestRegistry(t, newTestClock())
	s, _ := r.Session("p1")

	bad := models.QuietHours{Start: "25:00", End: "07:00"}
	if _, err := s.UpdateProactivitySettings(models.ProactivitySettingsUpdate{QuietHours: &bad}); !errors.Is(err, models.ErrInvalidQuietHours) {
		t.Errorf("expected ErrInvalidQuietHours, got %v", err)
	}
	negative := -1
	if _, err := s.UpdateFeedbackSettings(models.FeedbackSettingsUpdate{MaxFeedbackPerDay: &negative}); !errors.Is(err, models.ErrNegativeLimit) {
		t.Errorf("expected ErrNegativeLimit, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	clock := newTestClock()
	r, st := newTestRegistry(t, clock)
	if err := st.SaveParticipant(models.Participant{ID: "p2", PhoneNumber: "34600333444", Timezone: "UTC"}); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}
	if err := st.SaveSnapshot("p1", sleepyPlateauSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	sw := NewSweeper(r, st, nil)
	res := sw.Sweep(context.Background())
	want := SweepResult{Participants: 2, Evaluated: 1, Interventions: 3}
	if res != want {
		t.Errorf("Sweep() = %+v, want %+v", res, want)
	}

	// Cooldowns hold on the next sweep.
	res = sw.Sweep(context.Background())
	if res.Interventions != 0 {
		t.Errorf("second sweep fired %d interventions", res.Interventions)
	}
	if n := len(st.OutboxMessages()); n != 2 {
		t.Errorf("expected 2 queued deliveries, got %d", n)
	}
}

func TestSweepCancelled(t *testing.T) {
	clock := newTestClock()
	r, st := newTestRegistry(t, clock)
	if err := st.SaveSnapshot("p1", sleepyPlateauSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := NewSweeper(r, st, nil).Sweep(ctx); res.Evaluated != 0 {
		t.Errorf("cancelled sweep evaluated %d participants", res.Evaluated)
	}
}

func TestSweeperStartWithoutScheduler(t *testing.T) {
	r, st := newTestRegistry(t, newTestClock())
	if err := NewSweeper(r, st, nil).Start(context.Background(), ""); err == nil {
		t.Error("expected error without scheduler")
	}
}
