// Package notify delivers proactive interventions to participants over WhatsApp.
//
// A Sender is a transport (whatsmeow, Twilio or a mock). The Dispatcher turns queued outbox
// messages into formatted chat messages and hands them to the Sender.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/store"
)

// Sender sends a plain-text message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// ParticipantLookup resolves a participant id to its contact details.
type ParticipantLookup interface {
	GetParticipant(id string) (*models.Participant, error)
}

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalizeRecipient strips everything but digits from a phone number and requires at
// least 6 digits.
func CanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

var priorityMarks = map[models.Priority]string{
	models.PriorityCritical: "⚠️",
	models.PriorityHigh:     "💪",
	models.PriorityMedium:   "🙂",
	models.PriorityLow:      "💡",
}

// FormatIntervention renders an intervention as a chat message.
func FormatIntervention(in models.ProactiveIntervention) string {
	var b strings.Builder
	if mark, ok := priorityMarks[in.Priority]; ok {
		b.WriteString(mark)
		b.WriteString(" ")
	}
	b.WriteString(in.Message)
	if in.SuggestedAction != "" {
		b.WriteString("\n\n👉 ")
		b.WriteString(in.SuggestedAction)
	}
	return b.String()
}

// Dispatcher delivers outbox messages through a Sender.
type Dispatcher struct {
	sender       Sender
	participants ParticipantLookup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender Sender, participants ParticipantLookup) *Dispatcher {
	return &Dispatcher{sender: sender, participants: participants}
}

// Send delivers one outbox message. It has the signature of store.OutboxSendFunc.
func (d *Dispatcher) Send(ctx context.Context, msg store.OutboxMessage) error {
	if msg.Kind != store.OutboxKindIntervention {
		return fmt.Errorf("unsupported outbox message kind %q", msg.Kind)
	}
	var in models.ProactiveIntervention
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &in); err != nil {
		return fmt.Errorf("decode intervention payload: %w", err)
	}

	p, err := d.participants.GetParticipant(msg.ParticipantID)
	if err != nil {
		return fmt.Errorf("look up participant %s: %w", msg.ParticipantID, err)
	}
	if p == nil {
		return fmt.Errorf("%w: %s", models.ErrParticipantNotFound, msg.ParticipantID)
	}
	return d.DeliverIntervention(ctx, p.PhoneNumber, in)
}

// DeliverIntervention formats in and sends it to phone.
func (d *Dispatcher) DeliverIntervention(ctx context.Context, phone string, in models.ProactiveIntervention) error {
	to, err := CanonicalizeRecipient(phone)
	if err != nil {
		slog.Warn("Dispatcher.DeliverIntervention: bad recipient", "participantID", in.ParticipantID, "error", err)
		return err
	}
	if err := d.sender.SendMessage(ctx, to, FormatIntervention(in)); err != nil {
		return err
	}
	slog.Debug("Dispatcher.DeliverIntervention: delivered", "participantID", in.ParticipantID, "trigger", in.TriggerID, "priority", in.Priority)
	return nil
}
