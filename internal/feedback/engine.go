// Package feedback turns recent workouts, progress metrics and psychological state into
// ordered coaching feedback.
package feedback

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/tone"
)

// Engine evaluates the feedback rule catalog. It holds no per-call state besides settings.
type Engine struct {
	rules    []Rule
	settings models.FeedbackSettings
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRules replaces the default rule catalog.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		e.rules = rules
	}
}

// NewEngine creates a feedback engine.
func NewEngine(settings models.FeedbackSettings, opts ...Option) *Engine {
	e := &Engine{
		rules:    defaultRules,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateFeedback evaluates every rule whose category is enabled and returns the resulting
// items ordered high, medium, low. Items of equal priority keep catalog order.
func (e *Engine) GenerateFeedback(ctx models.FeedbackContext) []models.FeedbackItem {
	now := e.now()
	items := make([]models.FeedbackItem, 0)

	for _, rule := range e.rules {
		if !e.settings.CategoryEnabled(rule.Category) {
			continue
		}
		finding, ok := rule.Evaluate(ctx, now)
		if !ok {
			continue
		}
		refs := finding.References
		if refs == nil {
			refs = []string{}
		}
		item := models.FeedbackItem{
			ID:             fmt.Sprintf("%s_%d", rule.ID, now.UnixMilli()),
			RuleID:         rule.ID,
			ParticipantID:  ctx.User.ID,
			Category:       rule.Category,
			Message:        tone.Apply(e.settings.TonePreferences.For(rule.Category), rule.Message(finding)),
			Priority:       rule.Priority,
			Timestamp:      now,
			DataReferences: refs,
		}
		if rule.Action != nil {
			item.Action = rule.Action(finding)
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority.Rank() < items[j].Priority.Rank()
	})

	slog.Debug("feedback.GenerateFeedback: evaluation complete", "user", ctx.User.ID, "rules", len(e.rules), "items", len(items))
	return items
}

// UpdateSettings shallow-merges update into the current settings.
func (e *Engine) UpdateSettings(update models.FeedbackSettingsUpdate) {
	e.settings = update.Apply(e.settings)
	slog.Debug("feedback.UpdateSettings: settings updated",
		"technical", e.settings.EnableTechnicalFeedback,
		"progress", e.settings.EnableProgressFeedback,
		"motivational", e.settings.EnableMotivationalFeedback)
}

// Settings returns the current settings.
func (e *Engine) Settings() models.FeedbackSettings {
	return e.settings
}
