package coach

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/feedback"
	"github.com/BTreeMap/ChatMaestro/internal/models"
)

const (
	// historyCapacity bounds the feedback history kept by a service.
	historyCapacity = 50
	// historyWindow is how many recent items are fed back into each evaluation.
	historyWindow = 10
)

// FeedbackService owns one feedback engine, an enabled flag and the recent feedback history.
type FeedbackService struct {
	engine       *feedback.Engine
	enabled      bool
	history      []models.FeedbackItem
	recorder     ResponseRecorder
	now          func() time.Time
	loc          *time.Location
	emittedDay   string
	emittedToday int
}

// NewFeedbackService creates an enabled service with an empty history.
func NewFeedbackService(settings models.FeedbackSettings, opts ...Option) *FeedbackService {
	cfg := buildOpts(opts)
	return &FeedbackService{
		engine:   feedback.NewEngine(settings, feedback.WithClock(cfg.Now)),
		enabled:  true,
		recorder: cfg.Recorder,
		now:      cfg.Now,
		loc:      cfg.Location,
	}
}

// GenerateFeedback runs the engine with the last entries of the service history as
// ctx.RecentFeedbackHistory, applies the daily cap and appends the result to the history.
func (s *FeedbackService) GenerateFeedback(ctx models.FeedbackContext) []models.FeedbackItem {
	if !s.enabled {
		slog.Debug("FeedbackService.GenerateFeedback: disabled, skipping")
		return []models.FeedbackItem{}
	}

	recent := s.history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	ctx.RecentFeedbackHistory = append([]models.FeedbackItem(nil), recent...)

	items := s.capToDailyLimit(s.engine.GenerateFeedback(ctx))
	s.appendHistory(items)
	slog.Debug("FeedbackService.GenerateFeedback: generated", "participantID", ctx.User.ID, "items", len(items), "history", len(s.history))
	return items
}

// capToDailyLimit keeps the leading items that still fit today's budget. Items are already
// sorted by priority, so the least important ones are dropped.
func (s *FeedbackService) capToDailyLimit(items []models.FeedbackItem) []models.FeedbackItem {
	day := s.now().In(s.loc).Format("2006-01-02")
	if day != s.emittedDay {
		s.emittedDay = day
		s.emittedToday = 0
	}
	limit := s.engine.Settings().MaxFeedbackPerDay
	if limit > 0 {
		remaining := limit - s.emittedToday
		if remaining < 0 {
			remaining = 0
		}
		if len(items) > remaining {
			slog.Debug("FeedbackService.GenerateFeedback: daily limit reached", "limit", limit, "dropped", len(items)-remaining)
			items = items[:remaining]
		}
	}
	s.emittedToday += len(items)
	return items
}

func (s *FeedbackService) appendHistory(items []models.FeedbackItem) {
	s.history = append(s.history, items...)
	if over := len(s.history) - historyCapacity; over > 0 {
		s.history = append([]models.FeedbackItem(nil), s.history[over:]...)
	}
}

// History returns a copy of the retained feedback items, oldest first.
func (s *FeedbackService) History() []models.FeedbackItem {
	out := make([]models.FeedbackItem, len(s.history))
	copy(out, s.history)
	return out
}

// Restore seeds the history and today's emitted count from persisted data.
func (s *FeedbackService) Restore(history []models.FeedbackItem, emittedToday int) {
	s.history = nil
	s.appendHistory(history)
	s.emittedDay = s.now().In(s.loc).Format("2006-01-02")
	s.emittedToday = emittedToday
}

// feedbackCheckpoint is the service state GenerateFeedback changes.
type feedbackCheckpoint struct {
	history      []models.FeedbackItem
	emittedDay   string
	emittedToday int
}

func (s *FeedbackService) checkpoint() feedbackCheckpoint {
	return feedbackCheckpoint{history: s.History(), emittedDay: s.emittedDay, emittedToday: s.emittedToday}
}

func (s *FeedbackService) rollback(c feedbackCheckpoint) {
	s.history = c.history
	s.emittedDay = c.emittedDay
	s.emittedToday = c.emittedToday
}

// SetLocation changes the location whose midnight resets the daily cap.
func (s *FeedbackService) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.loc = loc
}

func (s *FeedbackService) SetEnabled(enabled bool) {
	s.enabled = enabled
	slog.Info("FeedbackService.SetEnabled", "enabled", enabled)
}

func (s *FeedbackService) Enabled() bool {
	return s.enabled
}

func (s *FeedbackService) UpdateSettings(update models.FeedbackSettingsUpdate) {
	s.engine.UpdateSettings(update)
}

func (s *FeedbackService) Settings() models.FeedbackSettings {
	return s.engine.Settings()
}

// RecordUserResponse logs r and persists it when a recorder is configured. History and
// later evaluations are unaffected.
func (s *FeedbackService) RecordUserResponse(r models.UserResponse) error {
	r, err := prepareResponse(r, models.SourceFeedback, s.now())
	if err != nil {
		slog.Warn("FeedbackService.RecordUserResponse: invalid response", "error", err)
		return err
	}
	slog.Info("FeedbackService.RecordUserResponse", "participantID", r.ParticipantID, "feedbackID", r.InterventionID, "kind", r.Kind)
	return persistResponse(s.recorder, r)
}
