package proactivity

import (
	"fmt"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
)

// clockMinutes parses an HH:MM string into minutes since midnight.
func clockMinutes(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InQuietHours reports whether now falls inside the window q. When the window's start is
// after its end it spans midnight. An empty window, or one where start equals end, is never
// active. A malformed window returns an error and is treated as inactive by the engine.
func InQuietHours(now time.Time, q models.QuietHours) (bool, error) {
	if q.Start == "" && q.End == "" {
		return false, nil
	}
	start, err := clockMinutes(q.Start)
	if err != nil {
		return false, err
	}
	end, err := clockMinutes(q.End)
	if err != nil {
		return false, err
	}
	current := now.Hour()*60 + now.Minute()

	switch {
	case start == end:
		return false, nil
	case start > end:
		return current >= start || current < end, nil
	default:
		return current >= start && current < end, nil
	}
}
