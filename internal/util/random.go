// Package util holds small helpers shared across ChatMaestro: random identifiers,
// environment parsing and the numeric helpers the rule engines use.
package util

import (
	"math/rand/v2"
	"strings"
)

const (
	responseIDPrefix = "r_"
	outboxIDPrefix   = "outbox_"
	idHexLength      = 32
)

// GenerateRandomID returns prefix followed by hexLength random hex characters.
// The IDs are not cryptographically secure.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random lowercase hex characters.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}
	return builder.String()
}

// GenerateResponseID returns an id for a recorded user response.
func GenerateResponseID() string {
	return GenerateRandomID(responseIDPrefix, idHexLength)
}

// GenerateOutboxID returns an id for a queued outbound message.
func GenerateOutboxID() string {
	return GenerateRandomID(outboxIDPrefix, idHexLength)
}
