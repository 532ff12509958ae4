package proactivity

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/util"
)

// messageBuilder renders the coaching text for a fired trigger.
type messageBuilder func(s models.UserDataSnapshot) (message, action string)

// messageBuilders has one entry per catalog trigger id.
var messageBuilders = map[string]messageBuilder{
	TriggerPoorSleepPattern: func(s models.UserDataSnapshot) (string, string) {
		return fmt.Sprintf("Your last three nights averaged %.1f hours of sleep. Recovery comes first: today we lower training volume by about 30%% and focus on mobility.",
				util.MeanLast(s.SleepHours, 3)),
			"Swap today's session for a 30% lighter version plus 15 minutes of mobility work"
	},
	TriggerInjuryRisk: func(s models.UserDataSnapshot) (string, string) {
		return fmt.Sprintf("You've reported pain %d times recently while training at very high intensity. Let's pause the heavy work and protect your body.",
				len(s.PainReports)),
			"Take a deload session, avoid intensity above 7/10, and see a professional if the pain persists"
	},
	TriggerPerformancePlateau: func(s models.UserDataSnapshot) (string, string) {
		names := plateauedMetrics(s)
		return fmt.Sprintf("Your numbers on %s have been flat for a while. A plateau means your body has adapted, so it's time for a new stimulus.",
				strings.Join(names, ", ")),
			"Change the rep scheme or exercise variation this week, or plan a short deload"
	},
	TriggerRecoveryWindow: func(s models.UserDataSnapshot) (string, string) {
		return "¡Estás listo! Sleep, hydration and stress all look great. This is an ideal window for a high-quality session.",
			"Schedule your most demanding workout of the week in the next 24 hours"
	},
	TriggerMotivationDip: func(s models.UserDataSnapshot) (string, string) {
		return "I've noticed you've been checking in less than usual. That's normal, and one small win is enough to get the momentum back.",
			"Do a short 15-minute session today and revisit why you started"
	},
	TriggerHabitStreak: func(s models.UserDataSnapshot) (string, string) {
		return "Seven days in a row! Your consistency is building a real habit. ¡Sigue así!",
			"Log today's session to keep the streak alive"
	},
	TriggerTechniqueOpportunity: func(s models.UserDataSnapshot) (string, string) {
		return fmt.Sprintf("Your form has been excellent lately (%.1f/10). You're ready to learn a more advanced cue or progression.",
				util.MeanLast(s.FormQuality, 3)),
			"Try the next progression of your main lift with a technique focus"
	},
	TriggerHabitBreakage: func(s models.UserDataSnapshot) (string, string) {
		return "We haven't seen you for a few days. No judgment, life happens. Want to restart with something easy?",
			"Do a 10-minute restart session today"
	},
}

// buildMessage renders the message for id, falling back to a generic text for ids
// registered through WithCatalog without a builder.
func buildMessage(id string, s models.UserDataSnapshot) (string, string) {
	if build, ok := messageBuilders[id]; ok {
		return build(s)
	}
	return "Chat Maestro has a new recommendation for you.", ""
}
