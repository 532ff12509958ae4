package models

import "time"

// SessionState is the persisted part of a participant's coaching session: service flags,
// engine settings and the time each proactive trigger last fired.
type SessionState struct {
	ParticipantID       string               `json:"participant_id"`
	ProactivityEnabled  bool                 `json:"proactivity_enabled"`
	FeedbackEnabled     bool                 `json:"feedback_enabled"`
	ProactivitySettings ProactivitySettings  `json:"proactivity_settings"`
	FeedbackSettings    FeedbackSettings     `json:"feedback_settings"`
	LastTriggered       map[string]time.Time `json:"last_triggered,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
}
