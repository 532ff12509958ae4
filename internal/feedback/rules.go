package feedback

import (
	"strings"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/util"
)

// Rule ids.
const (
	RulePoorFormDetection      = "poor_form_detection"
	RuleInconsistentRPE        = "inconsistent_rpe"
	RuleSignificantImprovement = "significant_improvement"
	RuleConsistencyStreak      = "consistency_streak"
	RuleLowMotivation          = "low_motivation"
	RuleHighStress             = "high_stress"
	RuleConfidenceBoost        = "confidence_boost"
)

const (
	rpeVarianceThreshold = 2.0
	improvementRatio     = 1.10
	streakWorkouts       = 7
	confidenceWindow     = 5
	confidenceMinimum    = 3
)

// formKeywords flag a form note as a problem. Matching is a case-insensitive substring test.
var formKeywords = []string{"poor", "incorrect", "fix"}

// Finding is what a rule computed while evaluating. The message and action builders read
// it instead of recomputing from the context.
type Finding struct {
	// References names the exercises or metrics the finding is about.
	References []string
	Count      int
	Value      float64
	Detail     string
}

// Rule is a static feedback rule.
type Rule struct {
	ID       string
	Category models.FeedbackCategory
	Priority models.FeedbackPriority
	Evaluate func(ctx models.FeedbackContext, now time.Time) (Finding, bool)
	Message  func(f Finding) string
	Action   func(f Finding) string
}

var defaultRules = []Rule{
	{
		ID:       RulePoorFormDetection,
		Category: models.CategoryTechnical,
		Priority: models.FeedbackHigh,
		Evaluate: poorFormDetection,
		Message:  poorFormMessage,
		Action:   poorFormAction,
	},
	{
		ID:       RuleInconsistentRPE,
		Category: models.CategoryTechnical,
		Priority: models.FeedbackMedium,
		Evaluate: inconsistentRPE,
		Message:  inconsistentRPEMessage,
		Action:   inconsistentRPEAction,
	},
	{
		ID:       RuleSignificantImprovement,
		Category: models.CategoryProgress,
		Priority: models.FeedbackHigh,
		Evaluate: significantImprovement,
		Message:  significantImprovementMessage,
		Action:   significantImprovementAction,
	},
	{
		ID:       RuleConsistencyStreak,
		Category: models.CategoryProgress,
		Priority: models.FeedbackHigh,
		Evaluate: consistencyStreak,
		Message:  consistencyStreakMessage,
		Action:   consistencyStreakAction,
	},
	{
		ID:       RuleLowMotivation,
		Category: models.CategoryMotivational,
		Priority: models.FeedbackHigh,
		Evaluate: lowMotivation,
		Message:  lowMotivationMessage,
		Action:   lowMotivationAction,
	},
	{
		ID:       RuleHighStress,
		Category: models.CategoryMotivational,
		Priority: models.FeedbackMedium,
		Evaluate: highStress,
		Message:  highStressMessage,
		Action:   highStressAction,
	},
	{
		ID:       RuleConfidenceBoost,
		Category: models.CategoryMotivational,
		Priority: models.FeedbackMedium,
		Evaluate: confidenceBoost,
		Message:  confidenceBoostMessage,
		Action:   confidenceBoostAction,
	},
}

// DefaultRules returns a copy of the built-in rule catalog in registration order.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

// appendUnique appends name to names unless it is already present.
func appendUnique(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

func poorFormDetection(ctx models.FeedbackContext, _ time.Time) (Finding, bool) {
	var f Finding
	for _, w := range ctx.RecentWorkouts {
		for _, note := range w.FormNotes {
			lower := strings.ToLower(note)
			for _, kw := range formKeywords {
				if strings.Contains(lower, kw) {
					f.References = appendUnique(f.References, w.Exercise)
					f.Count++
					if f.Detail == "" {
						f.Detail = note
					}
					break
				}
			}
		}
	}
	return f, f.Count > 0
}

func inconsistentRPE(ctx models.FeedbackContext, _ time.Time) (Finding, bool) {
	var f Finding
	var samples []float64
	workouts := 0
	for _, w := range ctx.RecentWorkouts {
		if len(w.RPE) == 0 {
			continue
		}
		workouts++
		samples = append(samples, w.RPE...)
		f.References = appendUnique(f.References, w.Exercise)
	}
	if workouts < 3 || len(samples) < 5 {
		return Finding{}, false
	}
	f.Count = len(samples)
	f.Value = util.PopulationVariance(samples)
	return f, f.Value > rpeVarianceThreshold
}

// significantImprovement compares each metric's latest value with the average of the values
// dated strictly before one month ago. Values without a matching date are ignored for the
// baseline.
func significantImprovement(ctx models.FeedbackContext, now time.Time) (Finding, bool) {
	var f Finding
	cutoff := now.AddDate(0, -1, 0)
	for _, metric := range ctx.ProgressData {
		if len(metric.Values) < 2 {
			continue
		}
		var baseline []float64
		for i, v := range metric.Values {
			if i < len(metric.Dates) && metric.Dates[i].Before(cutoff) {
				baseline = append(baseline, v)
			}
		}
		avg := util.Mean(baseline)
		if !(avg > 0) {
			continue
		}
		latest := util.Latest(metric.Values)
		if latest >= avg*improvementRatio {
			f.References = appendUnique(f.References, metric.Name)
			if gain := (latest - avg) / avg * 100; gain > f.Value {
				f.Value = gain
				f.Detail = metric.Name
			}
		}
	}
	f.Count = len(f.References)
	return f, f.Count > 0
}

// consistencyStreak treats seven workout records as a week-long streak; dates are not checked.
func consistencyStreak(ctx models.FeedbackContext, _ time.Time) (Finding, bool) {
	n := len(ctx.RecentWorkouts)
	if n < streakWorkouts {
		return Finding{}, false
	}
	return Finding{Count: n}, true
}

// validScore reports whether a self-reported 1-10 score was supplied. Zero means unreported.
func validScore(v float64) bool {
	return v >= 1 && v <= 10
}

func lowMotivation(ctx models.FeedbackContext, _ time.Time) (Finding, bool) {
	m := ctx.User.Psychological.Motivation
	if !validScore(m) || m >= 4 {
		return Finding{}, false
	}
	return Finding{Value: m}, true
}

func highStress(ctx models.FeedbackContext, _ time.Time) (Finding, bool) {
	s := ctx.User.Psychological.Stress
	if !validScore(s) || s <= 7 {
		return Finding{}, false
	}
	return Finding{Value: s}, true
}

func confidenceBoost(ctx models.FeedbackContext, _ time.Time) (Finding, bool) {
	history := ctx.RecentFeedbackHistory
	if len(history) > confidenceWindow {
		history = history[len(history)-confidenceWindow:]
	}
	var f Finding
	for _, item := range history {
		if item.Category == models.CategoryProgress || item.Category == models.CategoryMotivational {
			f.Count++
		}
	}
	return f, f.Count >= confidenceMinimum
}
