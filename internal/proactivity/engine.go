// Package proactivity decides which proactive coaching interventions should fire for a
// participant right now.
//
// An Engine evaluates a models.UserDataSnapshot against a catalog of triggers, honoring
// quiet hours, per-trigger cooldowns and an optional daily cap, and returns the fired
// interventions ordered critical first. The catalog is immutable and may be shared; the
// time each trigger last fired is engine state, so one engine per participant is expected.
//
// An Engine is not safe for concurrent use. Callers serialize evaluations per participant.
package proactivity

import (
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/google/uuid"
)

// Engine evaluates proactive triggers for a single participant.
type Engine struct {
	catalog       []models.ProactiveTrigger
	settings      models.ProactivitySettings
	loc           *time.Location
	lastTriggered map[string]time.Time
	analytics     models.ProactivityAnalytics
	emittedDay    string
	emittedToday  int
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCatalog replaces the default trigger catalog.
func WithCatalog(catalog []models.ProactiveTrigger) Option {
	return func(e *Engine) {
		e.catalog = catalog
	}
}

// NewEngine creates an engine with the given settings.
func NewEngine(settings models.ProactivitySettings, opts ...Option) *Engine {
	e := &Engine{
		catalog:       defaultTriggers,
		lastTriggered: make(map[string]time.Time),
		analytics:     models.ProactivityAnalytics{CategoryBreakdown: make(map[string]int)},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.applySettings(settings)
	slog.Debug("proactivity.NewEngine: engine created", "triggers", len(e.catalog), "quietStart", settings.QuietHours.Start, "quietEnd", settings.QuietHours.End)
	return e
}

func (e *Engine) applySettings(settings models.ProactivitySettings) {
	e.settings = settings
	e.loc = time.Local
	if settings.Timezone != "" {
		loc, err := time.LoadLocation(settings.Timezone)
		if err != nil {
			slog.Warn("proactivity.Engine: unknown timezone, using local time", "timezone", settings.Timezone, "error", err)
		} else {
			e.loc = loc
		}
	}
}

// EvaluateTriggers returns the interventions that fire for snapshot, ordered by priority.
// Every returned trigger starts its cooldown at the current time.
func (e *Engine) EvaluateTriggers(snapshot models.UserDataSnapshot) []models.ProactiveIntervention {
	now := e.now().In(e.loc)

	quiet, err := InQuietHours(now, e.settings.QuietHours)
	if err != nil {
		slog.Warn("proactivity.EvaluateTriggers: malformed quiet hours ignored", "error", err)
	}
	if quiet {
		slog.Debug("proactivity.EvaluateTriggers: inside quiet hours", "now", now.Format("15:04"))
		return []models.ProactiveIntervention{}
	}

	var fired []models.ProactiveTrigger
	for _, trigger := range e.catalog {
		if e.onCooldown(trigger, now) {
			slog.Debug("proactivity.EvaluateTriggers: trigger on cooldown", "trigger", trigger.ID)
			continue
		}
		if trigger.Condition != nil && trigger.Condition(snapshot) {
			fired = append(fired, trigger)
		}
	}

	sort.SliceStable(fired, func(i, j int) bool {
		return fired[i].Priority.Rank() < fired[j].Priority.Rank()
	})

	fired = e.capToDailyLimit(fired, now)

	interventions := make([]models.ProactiveIntervention, 0, len(fired))
	for _, trigger := range fired {
		e.lastTriggered[trigger.ID] = now
		message, action := buildMessage(trigger.ID, snapshot)
		interventions = append(interventions, models.ProactiveIntervention{
			ID:              uuid.NewString(),
			TriggerID:       trigger.ID,
			Priority:        trigger.Priority,
			Confidence:      trigger.Confidence,
			Message:         message,
			SuggestedAction: action,
			Category:        trigger.Category,
			CreatedAt:       now,
		})
		e.analytics.InterventionsTriggered++
		e.analytics.CategoryBreakdown[trigger.Category]++
	}
	if len(interventions) > 0 {
		last := now
		e.analytics.LastIntervention = &last
		e.recomputeRates()
	}

	slog.Debug("proactivity.EvaluateTriggers: evaluation complete", "evaluated", len(e.catalog), "fired", len(interventions))
	return interventions
}

// onCooldown reports whether trigger fired too recently. The effective cooldown is the
// larger of the trigger's own period and the settings override.
func (e *Engine) onCooldown(trigger models.ProactiveTrigger, now time.Time) bool {
	last, ok := e.lastTriggered[trigger.ID]
	if !ok {
		return false
	}
	cooldown := trigger.Cooldown
	if hours, ok := e.settings.CooldownOverridesHours[trigger.ID]; ok {
		if override := time.Duration(hours) * time.Hour; override > cooldown {
			cooldown = override
		}
	}
	return now.Sub(last) < cooldown
}

// capToDailyLimit keeps the highest priority triggers that still fit in today's budget.
// A limit of zero disables the cap.
func (e *Engine) capToDailyLimit(fired []models.ProactiveTrigger, now time.Time) []models.ProactiveTrigger {
	day := now.Format("2006-01-02")
	if day != e.emittedDay {
		e.emittedDay = day
		e.emittedToday = 0
	}
	limit := e.settings.MaxDailyInterventions
	if limit <= 0 {
		e.emittedToday += len(fired)
		return fired
	}
	remaining := limit - e.emittedToday
	if remaining < 0 {
		remaining = 0
	}
	if len(fired) > remaining {
		slog.Debug("proactivity.EvaluateTriggers: daily limit reached", "limit", limit, "dropped", len(fired)-remaining)
		fired = fired[:remaining]
	}
	e.emittedToday += len(fired)
	return fired
}

// UpdateSettings shallow-merges update into the current settings.
func (e *Engine) UpdateSettings(update models.ProactivitySettingsUpdate) {
	e.applySettings(update.Apply(e.settings))
	slog.Debug("proactivity.UpdateSettings: settings updated", "maxDaily", e.settings.MaxDailyInterventions, "timezone", e.settings.Timezone)
}

// Settings returns the current settings.
func (e *Engine) Settings() models.ProactivitySettings {
	return e.settings
}

// Analytics returns a copy of the running counters.
func (e *Engine) Analytics() models.ProactivityAnalytics {
	out := e.analytics
	out.CategoryBreakdown = make(map[string]int, len(e.analytics.CategoryBreakdown))
	for k, v := range e.analytics.CategoryBreakdown {
		out.CategoryBreakdown[k] = v
	}
	return out
}

// RecordResponse updates response and success rates. It has no effect on evaluation.
func (e *Engine) RecordResponse(positive bool) {
	e.analytics.ResponsesRecorded++
	if positive {
		e.analytics.PositiveResponses++
	}
	e.recomputeRates()
}

func (e *Engine) recomputeRates() {
	if e.analytics.InterventionsTriggered > 0 {
		e.analytics.ResponseRate = float64(e.analytics.ResponsesRecorded) / float64(e.analytics.InterventionsTriggered)
	}
	if e.analytics.ResponsesRecorded > 0 {
		e.analytics.SuccessRate = float64(e.analytics.PositiveResponses) / float64(e.analytics.ResponsesRecorded)
	}
}

// LastTriggered returns a copy of the per-trigger fire times.
func (e *Engine) LastTriggered() map[string]time.Time {
	out := make(map[string]time.Time, len(e.lastTriggered))
	for k, v := range e.lastTriggered {
		out[k] = v
	}
	return out
}

// RestoreLastTriggered loads previously persisted fire times, keeping the later time when
// both the engine and the input know a trigger.
func (e *Engine) RestoreLastTriggered(fired map[string]time.Time) {
	for id, at := range fired {
		if current, ok := e.lastTriggered[id]; !ok || at.After(current) {
			e.lastTriggered[id] = at
		}
	}
}

// RestoreDailyCount seeds the number of interventions already emitted on the day of at.
func (e *Engine) RestoreDailyCount(at time.Time, count int) {
	e.emittedDay = at.In(e.loc).Format("2006-01-02")
	e.emittedToday = count
}

// Checkpoint is a copy of the state an evaluation mutates: fire times, analytics and the
// daily count.
type Checkpoint struct {
	lastTriggered map[string]time.Time
	analytics     models.ProactivityAnalytics
	emittedDay    string
	emittedToday  int
}

// Checkpoint captures the engine's evaluation state.
func (e *Engine) Checkpoint() Checkpoint {
	return Checkpoint{
		lastTriggered: e.LastTriggered(),
		analytics:     e.Analytics(),
		emittedDay:    e.emittedDay,
		emittedToday:  e.emittedToday,
	}
}

// Rollback returns the engine to c, undoing every evaluation made since c was taken.
// Settings are not part of a checkpoint.
func (e *Engine) Rollback(c Checkpoint) {
	e.lastTriggered = make(map[string]time.Time, len(c.lastTriggered))
	for k, v := range c.lastTriggered {
		e.lastTriggered[k] = v
	}
	e.analytics = c.analytics
	e.analytics.CategoryBreakdown = make(map[string]int, len(c.analytics.CategoryBreakdown))
	for k, v := range c.analytics.CategoryBreakdown {
		e.analytics.CategoryBreakdown[k] = v
	}
	e.emittedDay = c.emittedDay
	e.emittedToday = c.emittedToday
	slog.Debug("proactivity.Rollback: evaluation state restored", "emittedToday", e.emittedToday)
}
