// Package tone provides the fixed set of coaching voices a participant can pick per
// feedback category, validation for them, and the rendering applied to generated messages.
package tone

import (
	"strings"
	"unicode/utf8"
)

// Known tone tags.
const (
	Neutral     = "neutral"
	Direct      = "direct"
	Celebratory = "celebratory"
	Supportive  = "supportive"
	Gentle      = "gentle"
)

// AllTags is the whitelist of accepted tone tags.
var AllTags = map[string]bool{
	Neutral:     true,
	Direct:      true,
	Celebratory: true,
	Supportive:  true,
	Gentle:      true,
}

const (
	celebratoryPrefix = "🎉 "
	gentlePrefix      = "No pressure: "
	supportiveSuffix  = " I'm with you on this."

	// Opening exclamations longer than this are part of the message, not an interjection.
	maxInterjectionRunes = 16
)

// Normalize lowercases and trims a tag.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Valid reports whether tag is empty or on the whitelist. An empty tag means neutral.
func Valid(tag string) bool {
	tag = Normalize(tag)
	return tag == "" || AllTags[tag]
}

// Apply renders message in the given voice. Unknown or empty tags leave it unchanged.
// Applying the same tone twice has no further effect.
func Apply(tag, message string) string {
	if message == "" {
		return message
	}
	switch Normalize(tag) {
	case Direct:
		return stripInterjection(message)
	case Celebratory:
		if strings.HasPrefix(message, celebratoryPrefix) {
			return message
		}
		return celebratoryPrefix + message
	case Supportive:
		if strings.HasSuffix(message, supportiveSuffix) {
			return message
		}
		return message + supportiveSuffix
	case Gentle:
		if strings.HasPrefix(message, gentlePrefix) {
			return message
		}
		return gentlePrefix + message
	default:
		return message
	}
}

// stripInterjection drops a short leading exclamation such as "¡Excelente! ".
func stripInterjection(message string) string {
	idx := strings.Index(message, "! ")
	if idx <= 0 || utf8.RuneCountInString(message[:idx]) > maxInterjectionRunes {
		return message
	}
	if strings.ContainsAny(message[:idx], ".?") {
		return message
	}
	rest := strings.TrimSpace(message[idx+2:])
	if rest == "" {
		return message
	}
	return rest
}
