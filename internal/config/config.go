// Package config loads the default coaching settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"gopkg.in/yaml.v3"
)

// Settings are the defaults every new participant starts with.
type Settings struct {
	Proactivity models.ProactivitySettings `yaml:"proactivity"`
	Feedback    models.FeedbackSettings    `yaml:"feedback"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Proactivity: models.DefaultProactivitySettings(),
		Feedback:    models.DefaultFeedbackSettings(),
	}
}

// Load reads path over the built-in defaults. Keys missing from the file keep their default
// value. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	slog.Debug("config.Load: settings loaded", "path", path, "quietStart", s.Proactivity.QuietHours.Start, "quietEnd", s.Proactivity.QuietHours.End)
	return s, nil
}

// Validate checks the values the engines would otherwise silently misread.
func (s Settings) Validate() error {
	p := s.Proactivity
	if err := p.QuietHours.Validate(); err != nil {
		return err
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return models.ErrInvalidTimezone
		}
	}
	if p.MaxDailyInterventions < 0 || s.Feedback.MaxFeedbackPerDay < 0 {
		return models.ErrNegativeLimit
	}
	if mp := p.NotificationPreferences.MinPriority; mp != "" && !models.IsValidPriority(mp) {
		return models.ErrInvalidPriority
	}
	if err := s.Feedback.TonePreferences.Validate(); err != nil {
		return err
	}
	for id, hours := range p.CooldownOverridesHours {
		if hours < 0 {
			return errors.New("cooldown override for " + id + " cannot be negative")
		}
	}
	return nil
}
