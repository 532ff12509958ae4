package models

import (
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/tone"
)

// FeedbackCategory groups feedback rules.
type FeedbackCategory string

const (
	CategoryTechnical    FeedbackCategory = "technical"
	CategoryProgress     FeedbackCategory = "progress"
	CategoryMotivational FeedbackCategory = "motivational"
)

// FeedbackPriority orders feedback items. High sorts first.
type FeedbackPriority string

const (
	FeedbackHigh   FeedbackPriority = "high"
	FeedbackMedium FeedbackPriority = "medium"
	FeedbackLow    FeedbackPriority = "low"
)

// Rank returns the sort rank of the priority; lower ranks sort first.
func (p FeedbackPriority) Rank() int {
	switch p {
	case FeedbackHigh:
		return 0
	case FeedbackMedium:
		return 1
	case FeedbackLow:
		return 2
	default:
		return 3
	}
}

// ProgramPhase is the participant's current training phase.
type ProgramPhase string

const (
	PhaseInitiation   ProgramPhase = "initiation"
	PhasePlateau      ProgramPhase = "plateau"
	PhaseBreakthrough ProgramPhase = "breakthrough"
	PhaseMaintenance  ProgramPhase = "maintenance"
)

// PsychologicalState holds self-reported 1-10 scores.
type PsychologicalState struct {
	Energy     float64 `json:"energy"`
	Motivation float64 `json:"motivation"`
	Stress     float64 `json:"stress"`
	Confidence float64 `json:"confidence"`
}

// UserData is the profile part of a feedback context.
type UserData struct {
	ID              string             `json:"id"`
	Goals           []string           `json:"goals,omitempty"`
	ExperienceLevel string             `json:"experience_level,omitempty"`
	Psychological   PsychologicalState `json:"psychological"`
}

// WorkoutRecord is one exercise performed in a recent workout.
type WorkoutRecord struct {
	Exercise  string    `json:"exercise"`
	Date      time.Time `json:"date"`
	Sets      int       `json:"sets"`
	Reps      []int     `json:"reps,omitempty"`
	Weights   []float64 `json:"weights,omitempty"`
	RPE       []float64 `json:"rpe,omitempty"`
	FormNotes []string  `json:"form_notes,omitempty"`
}

// ProgressMetric is a named measurement series. Values and Dates are parallel.
type ProgressMetric struct {
	Name   string      `json:"name"`
	Values []float64   `json:"values"`
	Dates  []time.Time `json:"dates"`
	Goal   *float64    `json:"goal,omitempty"`
}

// FeedbackContext is everything the feedback engine looks at in one call.
type FeedbackContext struct {
	User                  UserData         `json:"user"`
	RecentWorkouts        []WorkoutRecord  `json:"recent_workouts,omitempty"`
	ProgressData          []ProgressMetric `json:"progress_data,omitempty"`
	CurrentPhase          ProgramPhase     `json:"current_phase,omitempty"`
	RecentFeedbackHistory []FeedbackItem   `json:"recent_feedback_history,omitempty"`
}

// FeedbackItem is emitted when a feedback rule holds.
type FeedbackItem struct {
	ID             string           `json:"id"`
	RuleID         string           `json:"rule_id"`
	ParticipantID  string           `json:"participant_id,omitempty"`
	Category       FeedbackCategory `json:"category"`
	Message        string           `json:"message"`
	Action         string           `json:"action,omitempty"`
	Priority       FeedbackPriority `json:"priority"`
	Timestamp      time.Time        `json:"timestamp"`
	DataReferences []string         `json:"data_references"`
}

// TonePreferences selects a voice per feedback category.
type TonePreferences struct {
	Technical    string `json:"technical,omitempty" yaml:"technical,omitempty"`
	Progress     string `json:"progress,omitempty" yaml:"progress,omitempty"`
	Motivational string `json:"motivational,omitempty" yaml:"motivational,omitempty"`
}

// For returns the tone configured for category c.
func (p TonePreferences) For(c FeedbackCategory) string {
	switch c {
	case CategoryTechnical:
		return p.Technical
	case CategoryProgress:
		return p.Progress
	case CategoryMotivational:
		return p.Motivational
	default:
		return ""
	}
}

// Validate rejects tags outside the tone whitelist.
func (p TonePreferences) Validate() error {
	for _, tag := range []string{p.Technical, p.Progress, p.Motivational} {
		if !tone.Valid(tag) {
			return ErrInvalidTone
		}
	}
	return nil
}

// FeedbackSettings configures a feedback engine.
type FeedbackSettings struct {
	EnableTechnicalFeedback    bool            `json:"enable_technical_feedback" yaml:"enable_technical_feedback"`
	EnableProgressFeedback     bool            `json:"enable_progress_feedback" yaml:"enable_progress_feedback"`
	EnableMotivationalFeedback bool            `json:"enable_motivational_feedback" yaml:"enable_motivational_feedback"`
	MaxFeedbackPerDay          int             `json:"max_feedback_per_day" yaml:"max_feedback_per_day"`
	PreferredTiming            string          `json:"preferred_timing,omitempty" yaml:"preferred_timing,omitempty"`
	TonePreferences            TonePreferences `json:"tone_preferences" yaml:"tone_preferences"`
}

// CategoryEnabled reports whether rules of category c may emit items.
func (s FeedbackSettings) CategoryEnabled(c FeedbackCategory) bool {
	switch c {
	case CategoryTechnical:
		return s.EnableTechnicalFeedback
	case CategoryProgress:
		return s.EnableProgressFeedback
	case CategoryMotivational:
		return s.EnableMotivationalFeedback
	default:
		return false
	}
}

// DefaultFeedbackSettings returns the settings used when none are configured.
func DefaultFeedbackSettings() FeedbackSettings {
	return FeedbackSettings{
		EnableTechnicalFeedback:    true,
		EnableProgressFeedback:     true,
		EnableMotivationalFeedback: true,
		MaxFeedbackPerDay:          5,
		PreferredTiming:            "post_workout",
		TonePreferences: TonePreferences{
			Technical:    "direct",
			Progress:     "celebratory",
			Motivational: "supportive",
		},
	}
}

// FeedbackSettingsUpdate is a partial update with the same shallow-merge rules as
// ProactivitySettingsUpdate.
type FeedbackSettingsUpdate struct {
	EnableTechnicalFeedback    *bool            `json:"enable_technical_feedback,omitempty"`
	EnableProgressFeedback     *bool            `json:"enable_progress_feedback,omitempty"`
	EnableMotivationalFeedback *bool            `json:"enable_motivational_feedback,omitempty"`
	MaxFeedbackPerDay          *int             `json:"max_feedback_per_day,omitempty"`
	PreferredTiming            *string          `json:"preferred_timing,omitempty"`
	TonePreferences            *TonePreferences `json:"tone_preferences,omitempty"`
}

// Validate validates a FeedbackSettingsUpdate.
func (u *FeedbackSettingsUpdate) Validate() error {
	if u.MaxFeedbackPerDay != nil && *u.MaxFeedbackPerDay < 0 {
		return ErrNegativeLimit
	}
	if u.TonePreferences != nil {
		return u.TonePreferences.Validate()
	}
	return nil
}

// Apply shallow-merges the update into s and returns the result.
func (u FeedbackSettingsUpdate) Apply(s FeedbackSettings) FeedbackSettings {
	if u.EnableTechnicalFeedback != nil {
		s.EnableTechnicalFeedback = *u.EnableTechnicalFeedback
	}
	if u.EnableProgressFeedback != nil {
		s.EnableProgressFeedback = *u.EnableProgressFeedback
	}
	if u.EnableMotivationalFeedback != nil {
		s.EnableMotivationalFeedback = *u.EnableMotivationalFeedback
	}
	if u.MaxFeedbackPerDay != nil {
		s.MaxFeedbackPerDay = *u.MaxFeedbackPerDay
	}
	if u.PreferredTiming != nil {
		s.PreferredTiming = *u.PreferredTiming
	}
	if u.TonePreferences != nil {
		s.TonePreferences = *u.TonePreferences
	}
	return s
}
