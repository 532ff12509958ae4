// Package coach wraps the proactivity and feedback engines in stateful services and
// serializes their use per participant.
//
// ProactivityService and FeedbackService are thin facades: an enabled flag, one engine,
// and (for feedback) a bounded history. A Session bundles both services for one
// participant behind a mutex and persists their state; the Registry hands out sessions and
// the Sweeper evaluates every participant on a cron schedule.
package coach

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/proactivity"
	"github.com/BTreeMap/ChatMaestro/internal/util"
)

// ResponseRecorder persists user responses.
type ResponseRecorder interface {
	AddUserResponse(r models.UserResponse) error
}

// Opts holds options shared by both services.
type Opts struct {
	Recorder ResponseRecorder
	Now      func() time.Time
	Location *time.Location
}

// Option configures a service.
type Option func(*Opts)

// WithResponseRecorder persists every recorded response through r.
func WithResponseRecorder(r ResponseRecorder) Option {
	return func(o *Opts) {
		o.Recorder = r
	}
}

// WithClock replaces time.Now for the service and its engine.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// WithLocation sets the location used to find day boundaries for daily caps.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{Now: time.Now, Location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ProactivityService owns one proactivity engine and an enabled flag.
type ProactivityService struct {
	engine   *proactivity.Engine
	enabled  bool
	recorder ResponseRecorder
	now      func() time.Time
}

// NewProactivityService creates an enabled service.
func NewProactivityService(settings models.ProactivitySettings, opts ...Option) *ProactivityService {
	cfg := buildOpts(opts)
	return &ProactivityService{
		engine:   proactivity.NewEngine(settings, proactivity.WithClock(cfg.Now)),
		enabled:  true,
		recorder: cfg.Recorder,
		now:      cfg.Now,
	}
}

// Evaluate runs the engine unless the service is disabled, in which case it returns an
// empty list without touching engine state.
func (s *ProactivityService) Evaluate(snapshot models.UserDataSnapshot) []models.ProactiveIntervention {
	if !s.enabled {
		slog.Debug("ProactivityService.Evaluate: disabled, skipping")
		return []models.ProactiveIntervention{}
	}
	return s.engine.EvaluateTriggers(snapshot)
}

// SetEnabled turns evaluation on or off.
func (s *ProactivityService) SetEnabled(enabled bool) {
	s.enabled = enabled
	slog.Info("ProactivityService.SetEnabled", "enabled", enabled)
}

func (s *ProactivityService) Enabled() bool {
	return s.enabled
}

func (s *ProactivityService) UpdateSettings(update models.ProactivitySettingsUpdate) {
	s.engine.UpdateSettings(update)
}

func (s *ProactivityService) Settings() models.ProactivitySettings {
	return s.engine.Settings()
}

func (s *ProactivityService) Analytics() models.ProactivityAnalytics {
	return s.engine.Analytics()
}

// LastTriggered returns the engine's per-trigger fire times for persistence.
func (s *ProactivityService) LastTriggered() map[string]time.Time {
	return s.engine.LastTriggered()
}

// Restore seeds the engine with persisted fire times and today's intervention count.
func (s *ProactivityService) Restore(lastTriggered map[string]time.Time, emittedToday int) {
	s.engine.RestoreLastTriggered(lastTriggered)
	s.engine.RestoreDailyCount(s.now(), emittedToday)
}

// Checkpoint captures the engine state an evaluation changes.
func (s *ProactivityService) Checkpoint() proactivity.Checkpoint {
	return s.engine.Checkpoint()
}

// Rollback undoes the evaluations made since c, used when their results could not be stored.
func (s *ProactivityService) Rollback(c proactivity.Checkpoint) {
	s.engine.Rollback(c)
}

// RecordUserResponse logs r and counts it in the analytics. It never affects which
// triggers fire later.
func (s *ProactivityService) RecordUserResponse(r models.UserResponse) error {
	r, err := prepareResponse(r, models.SourceProactivity, s.now())
	if err != nil {
		slog.Warn("ProactivityService.RecordUserResponse: invalid response", "error", err)
		return err
	}
	s.engine.RecordResponse(r.Kind.IsPositive())
	slog.Info("ProactivityService.RecordUserResponse", "participantID", r.ParticipantID, "interventionID", r.InterventionID, "kind", r.Kind)
	return persistResponse(s.recorder, r)
}

func prepareResponse(r models.UserResponse, source string, now time.Time) (models.UserResponse, error) {
	if err := r.Validate(); err != nil {
		return r, err
	}
	if r.ID == "" {
		r.ID = util.GenerateResponseID()
	}
	r.Source = source
	if r.RecordedAt.IsZero() {
		r.RecordedAt = now
	}
	return r, nil
}

func persistResponse(recorder ResponseRecorder, r models.UserResponse) error {
	if recorder == nil {
		return nil
	}
	if err := recorder.AddUserResponse(r); err != nil {
		slog.Error("coach: failed to persist user response", "participantID", r.ParticipantID, "error", err)
		return err
	}
	return nil
}
