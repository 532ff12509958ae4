// Package store provides storage backends for ChatMaestro.
//
// It persists participants, their latest data snapshot, emitted interventions and feedback
// items, recorded user responses, per-participant session state, and the delivery outbox.
// The in-memory store is used in tests and when no database is configured.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/util"
)

// Store is the persistence interface used by the coaching services, API and sweeper.
// Getters return nil, nil when nothing is stored.
type Store interface {
	OutboxRepo

	SaveParticipant(p models.Participant) error
	GetParticipant(id string) (*models.Participant, error)
	ListParticipants() ([]models.Participant, error)

	// SaveSnapshot replaces the participant's latest snapshot.
	SaveSnapshot(participantID string, s models.UserDataSnapshot) error
	GetLatestSnapshot(participantID string) (*models.UserDataSnapshot, error)

	AddInterventions(items []models.ProactiveIntervention) error
	// ListInterventions returns up to limit of the most recent interventions in
	// chronological order. A limit of zero returns all of them.
	ListInterventions(participantID string, limit int) ([]models.ProactiveIntervention, error)
	CountInterventionsSince(participantID string, since time.Time) (int, error)

	AddFeedbackItems(items []models.FeedbackItem) error
	ListFeedbackItems(participantID string, limit int) ([]models.FeedbackItem, error)
	CountFeedbackItemsSince(participantID string, since time.Time) (int, error)

	AddUserResponse(r models.UserResponse) error
	ListUserResponses(participantID string) ([]models.UserResponse, error)

	SaveSessionState(state models.SessionState) error
	GetSessionState(participantID string) (*models.SessionState, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// InMemoryStore is a Store kept entirely in process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu            sync.RWMutex
	participants  map[string]models.Participant
	snapshots     map[string]models.UserDataSnapshot
	interventions map[string][]models.ProactiveIntervention
	feedback      map[string][]models.FeedbackItem
	responses     map[string][]models.UserResponse
	sessions      map[string]models.SessionState
	outbox        []OutboxMessage
	now           func() time.Time
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		participants:  make(map[string]models.Participant),
		snapshots:     make(map[string]models.UserDataSnapshot),
		interventions: make(map[string][]models.ProactiveIntervention),
		feedback:      make(map[string][]models.FeedbackItem),
		responses:     make(map[string][]models.UserResponse),
		sessions:      make(map[string]models.SessionState),
		now:           time.Now,
	}
}

func (s *InMemoryStore) SaveParticipant(p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.participants[p.ID]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	s.participants[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetParticipant(id string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListParticipants() ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SaveSnapshot(participantID string, snap models.UserDataSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[participantID] = snap
	return nil
}

func (s *InMemoryStore) GetLatestSnapshot(participantID string) (*models.UserDataSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[participantID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *InMemoryStore) AddInterventions(items []models.ProactiveIntervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range items {
		s.interventions[in.ParticipantID] = append(s.interventions[in.ParticipantID], in)
	}
	return nil
}

func (s *InMemoryStore) ListInterventions(participantID string, limit int) ([]models.ProactiveIntervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.interventions[participantID], limit), nil
}

func (s *InMemoryStore) CountInterventionsSince(participantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, in := range s.interventions[participantID] {
		if !in.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) AddFeedbackItems(items []models.FeedbackItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.feedback[item.ParticipantID] = append(s.feedback[item.ParticipantID], item)
	}
	return nil
}

func (s *InMemoryStore) ListFeedbackItems(participantID string, limit int) ([]models.FeedbackItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.feedback[participantID], limit), nil
}

func (s *InMemoryStore) CountFeedbackItemsSince(participantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.feedback[participantID] {
		if !item.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) AddUserResponse(r models.UserResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[r.ParticipantID] = append(s.responses[r.ParticipantID], r)
	return nil
}

func (s *InMemoryStore) ListUserResponses(participantID string) ([]models.UserResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.responses[participantID], 0), nil
}

func (s *InMemoryStore) SaveSessionState(state models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.LastTriggered = copyTimes(state.LastTriggered)
	s.sessions[state.ParticipantID] = state
	return nil
}

func (s *InMemoryStore) GetSessionState(participantID string) (*models.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[participantID]
	if !ok {
		return nil, nil
	}
	state.LastTriggered = copyTimes(state.LastTriggered)
	return &state, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// Compile-time check that InMemoryStore implements OutboxRepo.
var _ OutboxRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) EnqueueOutboxMessage(participantID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := s.now()
	id := util.GenerateOutboxID()
	s.outbox = append(s.outbox, OutboxMessage{
		ID:            id,
		ParticipantID: participantID,
		Kind:          kind,
		PayloadJSON:   payloadJSON,
		Status:        OutboxStatusQueued,
		DedupeKey:     dedupeKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []OutboxMessage
	for i := range s.outbox {
		if len(claimed) >= limit {
			break
		}
		m := &s.outbox[i]
		if m.Status != OutboxStatusQueued || (m.NextAttemptAt != nil && m.NextAttemptAt.After(now)) {
			continue
		}
		lockedAt := now
		m.Status = OutboxStatusSending
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findOutbox(id); m != nil {
		m.Status = OutboxStatusSent
		m.UpdatedAt = s.now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findOutbox(id); m != nil {
		next := nextAttemptAt
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &next
		m.LockedAt = nil
		m.UpdatedAt = s.now()
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.outbox {
		m := &s.outbox[i]
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a copy of every outbox record, for tests and diagnostics.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OutboxMessage, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *InMemoryStore) findOutbox(id string) *OutboxMessage {
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			return &s.outbox[i]
		}
	}
	return nil
}

// tail returns a copy of the last limit entries of xs, or all of them when limit is zero.
func tail[T any](xs []T, limit int) []T {
	if limit > 0 && len(xs) > limit {
		xs = xs[len(xs)-limit:]
	}
	out := make([]T, len(xs))
	copy(out, xs)
	return out
}

func copyTimes(m map[string]time.Time) map[string]time.Time {
	if m == nil {
		return nil
	}
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
