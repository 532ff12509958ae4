package models

import (
	"time"
)

// UserDataSnapshot is a point-in-time aggregate of a participant's recent behavioral and
// physiological signals. Every sequence is ordered oldest first. Engines never mutate it.
type UserDataSnapshot struct {
	SleepHours         []float64            `json:"sleep_hours,omitempty"`
	SleepQuality       []float64            `json:"sleep_quality,omitempty"`
	WorkoutConsistency []float64            `json:"workout_consistency,omitempty"`
	WorkoutIntensity   []float64            `json:"workout_intensity,omitempty"`
	FormQuality        []float64            `json:"form_quality,omitempty"`
	PainReports        []string             `json:"pain_reports,omitempty"`
	NutritionAdherence []float64            `json:"nutrition_adherence,omitempty"`
	HydrationLevels    []float64            `json:"hydration_levels,omitempty"`
	AppUsageFrequency  []float64            `json:"app_usage_frequency,omitempty"`
	ResponseRate       []float64            `json:"response_rate,omitempty"`
	PerformanceMetrics map[string][]float64 `json:"performance_metrics,omitempty"`
	EnergyLevels       []float64            `json:"energy_levels,omitempty"`
	MotivationLevels   []float64            `json:"motivation_levels,omitempty"`
	StressLevels       []float64            `json:"stress_levels,omitempty"`
	CapturedAt         time.Time            `json:"captured_at"`
}

// Priority orders proactive interventions. Critical is the most urgent.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank of the priority; lower ranks sort first.
// Unknown priorities sort after low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// IsValidPriority checks if the given priority is supported.
func IsValidPriority(p Priority) bool {
	return p.Rank() < 4
}

// ProactiveTrigger is a static rule definition evaluated against a snapshot.
// Catalog entries are immutable; the time a trigger last fired is owned by the engine.
type ProactiveTrigger struct {
	ID         string
	Category   string
	Priority   Priority
	Condition  func(UserDataSnapshot) bool
	Confidence float64 // 0-100
	Cooldown   time.Duration
}

// ProactiveIntervention is emitted when a trigger fires.
type ProactiveIntervention struct {
	ID              string    `json:"id"`
	TriggerID       string    `json:"trigger_id"`
	ParticipantID   string    `json:"participant_id,omitempty"`
	Priority        Priority  `json:"priority"`
	Confidence      float64   `json:"confidence"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
	Category        string    `json:"category"`
	CreatedAt       time.Time `json:"created_at"`
}

// QuietHours is a daily window, in HH:MM, during which no interventions are emitted.
// A window whose start is after its end spans midnight.
type QuietHours struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Validate checks both bounds parse as HH:MM. An empty window is valid.
func (q QuietHours) Validate() error {
	if q.Start == "" && q.End == "" {
		return nil
	}
	if _, err := time.Parse("15:04", q.Start); err != nil {
		return ErrInvalidQuietHours
	}
	if _, err := time.Parse("15:04", q.End); err != nil {
		return ErrInvalidQuietHours
	}
	return nil
}

// NotificationPreferences controls outbound delivery of interventions.
type NotificationPreferences struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	MinPriority Priority `json:"min_priority,omitempty" yaml:"min_priority,omitempty"`
}

// Allows reports whether an intervention with priority p should be delivered.
func (n NotificationPreferences) Allows(p Priority) bool {
	if !n.Enabled {
		return false
	}
	if n.MinPriority == "" {
		return true
	}
	return p.Rank() <= n.MinPriority.Rank()
}

// ProactivitySettings configures a proactivity engine.
type ProactivitySettings struct {
	QuietHours              QuietHours              `json:"quiet_hours" yaml:"quiet_hours"`
	Timezone                string                  `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	MaxDailyInterventions   int                     `json:"max_daily_interventions" yaml:"max_daily_interventions"`
	CooldownOverridesHours  map[string]int          `json:"cooldown_overrides_hours,omitempty" yaml:"cooldown_overrides_hours,omitempty"`
	CommunicationStyle      string                  `json:"communication_style,omitempty" yaml:"communication_style,omitempty"`
	NotificationPreferences NotificationPreferences `json:"notification_preferences" yaml:"notification_preferences"`
}

// DefaultProactivitySettings returns the settings used when none are configured.
func DefaultProactivitySettings() ProactivitySettings {
	return ProactivitySettings{
		QuietHours:            QuietHours{Start: "22:00", End: "07:00"},
		MaxDailyInterventions: 3,
		CommunicationStyle:    "supportive",
		NotificationPreferences: NotificationPreferences{
			Enabled:     true,
			MinPriority: PriorityHigh,
		},
	}
}

// ProactivitySettingsUpdate is a partial update. Nil fields are left unchanged; non-nil
// nested values replace the current value wholesale.
type ProactivitySettingsUpdate struct {
	QuietHours              *QuietHours              `json:"quiet_hours,omitempty"`
	Timezone                *string                  `json:"timezone,omitempty"`
	MaxDailyInterventions   *int                     `json:"max_daily_interventions,omitempty"`
	CooldownOverridesHours  map[string]int           `json:"cooldown_overrides_hours,omitempty"`
	CommunicationStyle      *string                  `json:"communication_style,omitempty"`
	NotificationPreferences *NotificationPreferences `json:"notification_preferences,omitempty"`
}

// Validate checks the fields that would otherwise silently disable behavior.
func (u *ProactivitySettingsUpdate) Validate() error {
	if u.QuietHours != nil {
		if err := u.QuietHours.Validate(); err != nil {
			return err
		}
	}
	if u.Timezone != nil && *u.Timezone != "" {
		if _, err := time.LoadLocation(*u.Timezone); err != nil {
			return ErrInvalidTimezone
		}
	}
	if u.MaxDailyInterventions != nil && *u.MaxDailyInterventions < 0 {
		return ErrNegativeLimit
	}
	if u.NotificationPreferences != nil && u.NotificationPreferences.MinPriority != "" &&
		!IsValidPriority(u.NotificationPreferences.MinPriority) {
		return ErrInvalidPriority
	}
	return nil
}

// Apply shallow-merges the update into s and returns the result.
func (u ProactivitySettingsUpdate) Apply(s ProactivitySettings) ProactivitySettings {
	if u.QuietHours != nil {
		s.QuietHours = *u.QuietHours
	}
	if u.Timezone != nil {
		s.Timezone = *u.Timezone
	}
	if u.MaxDailyInterventions != nil {
		s.MaxDailyInterventions = *u.MaxDailyInterventions
	}
	if u.CooldownOverridesHours != nil {
		overrides := make(map[string]int, len(u.CooldownOverridesHours))
		for k, v := range u.CooldownOverridesHours {
			overrides[k] = v
		}
		s.CooldownOverridesHours = overrides
	}
	if u.CommunicationStyle != nil {
		s.CommunicationStyle = *u.CommunicationStyle
	}
	if u.NotificationPreferences != nil {
		s.NotificationPreferences = *u.NotificationPreferences
	}
	return s
}

// ProactivityAnalytics holds running counters for one engine.
type ProactivityAnalytics struct {
	InterventionsTriggered int            `json:"interventions_triggered"`
	ResponsesRecorded      int            `json:"responses_recorded"`
	PositiveResponses      int            `json:"positive_responses"`
	ResponseRate           float64        `json:"response_rate"`
	SuccessRate            float64        `json:"success_rate"`
	LastIntervention       *time.Time     `json:"last_intervention,omitempty"`
	CategoryBreakdown      map[string]int `json:"category_breakdown"`
}

// ResponseKind describes how a participant reacted to an intervention or feedback item.
type ResponseKind string

const (
	ResponseAccepted  ResponseKind = "accepted"
	ResponseCompleted ResponseKind = "completed"
	ResponseDismissed ResponseKind = "dismissed"
	ResponseIgnored   ResponseKind = "ignored"
)

// IsPositive reports whether the response counts towards the success rate.
func (k ResponseKind) IsPositive() bool {
	return k == ResponseAccepted || k == ResponseCompleted
}

// IsValidResponseKind checks if the given response kind is supported.
func IsValidResponseKind(k ResponseKind) bool {
	switch k {
	case ResponseAccepted, ResponseCompleted, ResponseDismissed, ResponseIgnored:
		return true
	default:
		return false
	}
}

// UserResponse records a participant reaction. It is analytics only and is never
// consumed by the engines.
type UserResponse struct {
	ID             string       `json:"id"`
	ParticipantID  string       `json:"participant_id"`
	InterventionID string       `json:"intervention_id"`
	Source         string       `json:"source"` // "proactivity" or "feedback"
	Kind           ResponseKind `json:"kind"`
	Comment        string       `json:"comment,omitempty"`
	RecordedAt     time.Time    `json:"recorded_at"`
}

// Response sources.
const (
	SourceProactivity = "proactivity"
	SourceFeedback    = "feedback"
)

// Validate validates a UserResponse.
func (r *UserResponse) Validate() error {
	if r.InterventionID == "" {
		return ErrEmptyInterventionID
	}
	if !IsValidResponseKind(r.Kind) {
		return ErrInvalidResponseKind
	}
	return nil
}
