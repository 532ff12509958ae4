// Package util provides environment variable parsing helpers shared by the ChatMaestro
// entry point and its components.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads key as a boolean. true/1/yes/on and false/0/no/off are accepted in any
// case; an unset or unrecognized value yields defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("util.ParseBoolEnv: unrecognized boolean, keeping default", "key", key, "value", raw, "default", defaultValue)
	return defaultValue
}

// FirstEnv returns the value of the first key that is set to a non-blank value, or "".
func FirstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
