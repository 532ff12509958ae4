package coach

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/store"
)

// Session serializes all coaching work for one participant and keeps the store in sync
// with the in-memory engines.
type Session struct {
	mu            sync.Mutex
	participantID string
	proactivity   *ProactivityService
	feedback      *FeedbackService
	store         store.Store
	now           func() time.Time
}

// RegistryOpts holds configuration for a Registry.
type RegistryOpts struct {
	ProactivityDefaults models.ProactivitySettings
	FeedbackDefaults    models.FeedbackSettings
	Now                 func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*RegistryOpts)

// WithProactivityDefaults sets the settings new participants start with.
func WithProactivityDefaults(s models.ProactivitySettings) RegistryOption {
	return func(o *RegistryOpts) {
		o.ProactivityDefaults = s
	}
}

// WithFeedbackDefaults sets the feedback settings new participants start with.
func WithFeedbackDefaults(s models.FeedbackSettings) RegistryOption {
	return func(o *RegistryOpts) {
		o.FeedbackDefaults = s
	}
}

// WithRegistryClock replaces time.Now for every session.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(o *RegistryOpts) {
		o.Now = now
	}
}

// Registry hands out one Session per participant.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    store.Store
	cfg      RegistryOpts
}

// NewRegistry creates a Registry backed by st.
func NewRegistry(st store.Store, opts ...RegistryOption) *Registry {
	cfg := RegistryOpts{
		ProactivityDefaults: models.DefaultProactivitySettings(),
		FeedbackDefaults:    models.DefaultFeedbackSettings(),
		Now:                 time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{sessions: make(map[string]*Session), store: st, cfg: cfg}
}

// Session returns the participant's session, loading it from the store on first use.
// It fails with models.ErrParticipantNotFound for unknown participants.
func (r *Registry) Session(participantID string) (*Session, error) {
	if participantID == "" {
		return nil, models.ErrEmptyParticipantID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[participantID]; ok {
		return s, nil
	}
	s, err := r.load(participantID)
	if err != nil {
		return nil, err
	}
	r.sessions[participantID] = s
	return s, nil
}

// Refresh applies an updated participant profile to the cached session, if any. The session
// keeps its engines, so cooldowns and analytics carry over. Uncached participants pick the
// profile up from the store on first use.
func (r *Registry) Refresh(p models.Participant) error {
	r.mu.Lock()
	s, ok := r.sessions[p.ID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.applyParticipant(p)
}

func (r *Registry) load(participantID string) (*Session, error) {
	p, err := r.store.GetParticipant(participantID)
	if err != nil {
		return nil, fmt.Errorf("load participant %s: %w", participantID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrParticipantNotFound, participantID)
	}
	state, err := r.store.GetSessionState(participantID)
	if err != nil {
		return nil, fmt.Errorf("load session state %s: %w", participantID, err)
	}

	pSettings := r.cfg.ProactivityDefaults
	fSettings := r.cfg.FeedbackDefaults
	if state != nil {
		pSettings = state.ProactivitySettings
		fSettings = state.FeedbackSettings
	} else if p.Timezone != "" {
		pSettings.Timezone = p.Timezone
	}

	loc := locationFor(pSettings.Timezone)
	opts := []Option{WithResponseRecorder(r.store), WithClock(r.cfg.Now), WithLocation(loc)}
	s := &Session{
		participantID: participantID,
		proactivity:   NewProactivityService(pSettings, opts...),
		feedback:      NewFeedbackService(fSettings, opts...),
		store:         r.store,
		now:           r.cfg.Now,
	}

	dayStart := startOfDay(r.cfg.Now().In(loc))
	interventionsToday, err := r.store.CountInterventionsSince(participantID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("count interventions %s: %w", participantID, err)
	}
	feedbackToday, err := r.store.CountFeedbackItemsSince(participantID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("count feedback %s: %w", participantID, err)
	}
	history, err := r.store.ListFeedbackItems(participantID, historyCapacity)
	if err != nil {
		return nil, fmt.Errorf("load feedback history %s: %w", participantID, err)
	}

	var lastTriggered map[string]time.Time
	if state != nil {
		s.proactivity.SetEnabled(state.ProactivityEnabled)
		s.feedback.SetEnabled(state.FeedbackEnabled)
		lastTriggered = state.LastTriggered
	}
	s.proactivity.Restore(lastTriggered, interventionsToday)
	s.feedback.Restore(history, feedbackToday)

	slog.Debug("Registry.load: session loaded", "participantID", participantID, "restored", state != nil, "interventionsToday", interventionsToday, "feedbackToday", feedbackToday)
	return s, nil
}

// locationFor resolves a settings timezone the way the proactivity engine does: empty or
// unknown names fall back to local time.
func locationFor(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParticipantID returns the id the session belongs to.
func (s *Session) ParticipantID() string {
	return s.participantID
}

// EvaluateSnapshot runs the proactivity engine, stores the interventions and queues the
// ones the participant wants delivered.
func (s *Session) EvaluateSnapshot(snapshot models.UserDataSnapshot) ([]models.ProactiveIntervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpoint := s.proactivity.Checkpoint()
	interventions := s.proactivity.Evaluate(snapshot)
	for i := range interventions {
		interventions[i].ParticipantID = s.participantID
	}
	if len(interventions) == 0 {
		return interventions, nil
	}

	if err := s.store.AddInterventions(interventions); err != nil {
		// Nothing was kept, so the triggers must stay eligible.
		s.proactivity.Rollback(checkpoint)
		slog.Error("Session.EvaluateSnapshot: failed to store interventions", "participantID", s.participantID, "error", err)
		return nil, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}

	prefs := s.proactivity.Settings().NotificationPreferences
	for _, in := range interventions {
		if !prefs.Allows(in.Priority) {
			continue
		}
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode intervention %s: %w", in.ID, err)
		}
		if _, err := s.store.EnqueueOutboxMessage(s.participantID, store.OutboxKindIntervention, string(payload), "intervention:"+in.ID); err != nil {
			slog.Error("Session.EvaluateSnapshot: failed to enqueue delivery", "participantID", s.participantID, "interventionID", in.ID, "error", err)
			return nil, err
		}
	}
	slog.Debug("Session.EvaluateSnapshot: evaluated", "participantID", s.participantID, "interventions", len(interventions))
	return interventions, nil
}

// GenerateFeedback runs the feedback service and stores the emitted items.
func (s *Session) GenerateFeedback(ctx models.FeedbackContext) ([]models.FeedbackItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.User.ID == "" {
		ctx.User.ID = s.participantID
	}
	checkpoint := s.feedback.checkpoint()
	items := s.feedback.GenerateFeedback(ctx)
	if len(items) == 0 {
		return items, nil
	}
	if err := s.store.AddFeedbackItems(items); err != nil {
		s.feedback.rollback(checkpoint)
		slog.Error("Session.GenerateFeedback: failed to store feedback", "participantID", s.participantID, "error", err)
		return nil, err
	}
	return items, nil
}

// RecordUserResponse routes r to the service named by r.Source. An empty source means
// proactivity.
func (s *Session) RecordUserResponse(r models.UserResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ParticipantID = s.participantID
	if r.Source == models.SourceFeedback {
		return s.feedback.RecordUserResponse(r)
	}
	return s.proactivity.RecordUserResponse(r)
}

// UpdateProactivitySettings validates and applies a partial settings update.
func (s *Session) UpdateProactivitySettings(update models.ProactivitySettingsUpdate) (models.ProactivitySettings, error) {
	if err := update.Validate(); err != nil {
		return models.ProactivitySettings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proactivity.UpdateSettings(update)
	s.feedback.SetLocation(locationFor(s.proactivity.Settings().Timezone))
	return s.proactivity.Settings(), s.persist()
}

// applyParticipant moves the session to the participant's registered timezone.
func (s *Session) applyParticipant(p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Timezone == "" || p.Timezone == s.proactivity.Settings().Timezone {
		return nil
	}
	tz := p.Timezone
	s.proactivity.UpdateSettings(models.ProactivitySettingsUpdate{Timezone: &tz})
	s.feedback.SetLocation(locationFor(tz))
	slog.Info("Session.applyParticipant: timezone updated", "participantID", s.participantID, "timezone", tz)
	return s.persist()
}

// UpdateFeedbackSettings validates and applies a partial settings update.
func (s *Session) UpdateFeedbackSettings(update models.FeedbackSettingsUpdate) (models.FeedbackSettings, error) {
	if err := update.Validate(); err != nil {
		return models.FeedbackSettings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback.UpdateSettings(update)
	return s.feedback.Settings(), s.persist()
}

func (s *Session) SetProactivityEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proactivity.SetEnabled(enabled)
	return s.persist()
}

func (s *Session) SetFeedbackEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback.SetEnabled(enabled)
	return s.persist()
}

func (s *Session) ProactivitySettings() models.ProactivitySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proactivity.Settings()
}

func (s *Session) FeedbackSettings() models.FeedbackSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback.Settings()
}

func (s *Session) ProactivityEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proactivity.Enabled()
}

func (s *Session) FeedbackEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback.Enabled()
}

func (s *Session) Analytics() models.ProactivityAnalytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proactivity.Analytics()
}

func (s *Session) FeedbackHistory() []models.FeedbackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback.History()
}

// persist saves settings, flags and trigger fire times. Callers hold s.mu.
func (s *Session) persist() error {
	state := models.SessionState{
		ParticipantID:       s.participantID,
		ProactivityEnabled:  s.proactivity.Enabled(),
		FeedbackEnabled:     s.feedback.Enabled(),
		ProactivitySettings: s.proactivity.Settings(),
		FeedbackSettings:    s.feedback.Settings(),
		LastTriggered:       s.proactivity.LastTriggered(),
		UpdatedAt:           s.now(),
	}
	if err := s.store.SaveSessionState(state); err != nil {
		slog.Error("Session.persist: failed to save session state", "participantID", s.participantID, "error", err)
		return fmt.Errorf("save session state %s: %w", s.participantID, err)
	}
	return nil
}
