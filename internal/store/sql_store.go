package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/util"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends. Queries are
// written with ? placeholders and passed through bind before execution.
type sqlStore struct {
	db   *sql.DB
	name string
	bind func(string) string
}

func (s *sqlStore) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.db.Exec(s.bind(query), args...)
}

func (s *sqlStore) query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.Query(s.bind(query), args...)
}

func (s *sqlStore) queryRow(query string, args ...interface{}) *sql.Row {
	return s.db.QueryRow(s.bind(query), args...)
}

// inTx runs fn inside a transaction, rolling back when fn fails.
func (s *sqlStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error(s.name+": rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) SaveParticipant(p models.Participant) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	_, err := s.exec(`
		INSERT INTO participants (id, phone_number, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			phone_number = excluded.phone_number,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		p.ID, p.PhoneNumber, p.Timezone, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		slog.Error(s.name+".SaveParticipant failed", "error", err, "participantID", p.ID)
		return fmt.Errorf("failed to save participant %s: %w", p.ID, err)
	}
	slog.Debug(s.name+".SaveParticipant succeeded", "participantID", p.ID)
	return nil
}

func (s *sqlStore) GetParticipant(id string) (*models.Participant, error) {
	var p models.Participant
	err := s.queryRow(`SELECT id, phone_number, timezone, created_at, updated_at FROM participants WHERE id = ?`, id).
		Scan(&p.ID, &p.PhoneNumber, &p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetParticipant failed", "error", err, "participantID", id)
		return nil, fmt.Errorf("failed to get participant %s: %w", id, err)
	}
	return &p, nil
}

func (s *sqlStore) ListParticipants() ([]models.Participant, error) {
	rows, err := s.query(`SELECT id, phone_number, timezone, created_at, updated_at FROM participants ORDER BY id`)
	if err != nil {
		slog.Error(s.name+".ListParticipants query failed", "error", err)
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	out := make([]models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.PhoneNumber, &p.Timezone, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participant rows: %w", err)
	}
	slog.Debug(s.name+".ListParticipants succeeded", "count", len(out))
	return out, nil
}

func (s *sqlStore) SaveSnapshot(participantID string, snap models.UserDataSnapshot) error {
	payload, err := marshalJSON(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	captured := snap.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	_, err = s.exec(`
		INSERT INTO snapshots (participant_id, payload, captured_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (participant_id) DO UPDATE SET
			payload = excluded.payload,
			captured_at = excluded.captured_at,
			updated_at = excluded.updated_at`,
		participantID, payload, captured.UTC(), time.Now().UTC())
	if err != nil {
		slog.Error(s.name+".SaveSnapshot failed", "error", err, "participantID", participantID)
		return fmt.Errorf("failed to save snapshot for %s: %w", participantID, err)
	}
	slog.Debug(s.name+".SaveSnapshot succeeded", "participantID", participantID)
	return nil
}

func (s *sqlStore) GetLatestSnapshot(participantID string) (*models.UserDataSnapshot, error) {
	var payload string
	err := s.queryRow(`SELECT payload FROM snapshots WHERE participant_id = ?`, participantID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetLatestSnapshot failed", "error", err, "participantID", participantID)
		return nil, fmt.Errorf("failed to get snapshot for %s: %w", participantID, err)
	}
	var snap models.UserDataSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", participantID, err)
	}
	return &snap, nil
}

func (s *sqlStore) AddInterventions(items []models.ProactiveIntervention) error {
	if len(items) == 0 {
		return nil
	}
	query := s.bind(`
		INSERT INTO interventions (id, participant_id, trigger_id, category, priority, confidence, message, suggested_action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	err := s.inTx(func(tx *sql.Tx) error {
		for _, in := range items {
			if _, err := tx.Exec(query, in.ID, in.ParticipantID, in.TriggerID, in.Category, string(in.Priority),
				in.Confidence, in.Message, in.SuggestedAction, in.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("failed to insert intervention %s: %w", in.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error(s.name+".AddInterventions failed", "error", err, "count", len(items))
		return err
	}
	slog.Debug(s.name+".AddInterventions succeeded", "count", len(items))
	return nil
}

func (s *sqlStore) ListInterventions(participantID string, limit int) ([]models.ProactiveIntervention, error) {
	query := `SELECT id, participant_id, trigger_id, category, priority, confidence, message, suggested_action, created_at
		FROM interventions WHERE participant_id = ? ORDER BY seq DESC`
	args := []interface{}{participantID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(query, args...)
	if err != nil {
		slog.Error(s.name+".ListInterventions query failed", "error", err, "participantID", participantID)
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	out := make([]models.ProactiveIntervention, 0)
	for rows.Next() {
		var in models.ProactiveIntervention
		var priority string
		if err := rows.Scan(&in.ID, &in.ParticipantID, &in.TriggerID, &in.Category, &priority,
			&in.Confidence, &in.Message, &in.SuggestedAction, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intervention row: %w", err)
		}
		in.Priority = models.Priority(priority)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intervention rows: %w", err)
	}
	reverse(out)
	return out, nil
}

func (s *sqlStore) CountInterventionsSince(participantID string, since time.Time) (int, error) {
	var n int
	err := s.queryRow(`SELECT COUNT(*) FROM interventions WHERE participant_id = ? AND created_at >= ?`,
		participantID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count interventions: %w", err)
	}
	return n, nil
}

func (s *sqlStore) AddFeedbackItems(items []models.FeedbackItem) error {
	if len(items) == 0 {
		return nil
	}
	query := s.bind(`
		INSERT INTO feedback_items (id, rule_id, participant_id, category, priority, message, action, data_references, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	err := s.inTx(func(tx *sql.Tx) error {
		for _, item := range items {
			refs, err := marshalJSON(item.DataReferences)
			if err != nil {
				return fmt.Errorf("failed to encode data references: %w", err)
			}
			if _, err := tx.Exec(query, item.ID, item.RuleID, item.ParticipantID, string(item.Category),
				string(item.Priority), item.Message, item.Action, refs, item.Timestamp.UTC()); err != nil {
				return fmt.Errorf("failed to insert feedback item %s: %w", item.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error(s.name+".AddFeedbackItems failed", "error", err, "count", len(items))
		return err
	}
	slog.Debug(s.name+".AddFeedbackItems succeeded", "count", len(items))
	return nil
}

func (s *sqlStore) ListFeedbackItems(participantID string, limit int) ([]models.FeedbackItem, error) {
	query := `SELECT id, rule_id, participant_id, category, priority, message, action, data_references, created_at
		FROM feedback_items WHERE participant_id = ? ORDER BY seq DESC`
	args := []interface{}{participantID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(query, args...)
	if err != nil {
		slog.Error(s.name+".ListFeedbackItems query failed", "error", err, "participantID", participantID)
		return nil, fmt.Errorf("failed to query feedback items: %w", err)
	}
	defer rows.Close()

	out := make([]models.FeedbackItem, 0)
	for rows.Next() {
		var item models.FeedbackItem
		var category, priority, refs string
		if err := rows.Scan(&item.ID, &item.RuleID, &item.ParticipantID, &category, &priority,
			&item.Message, &item.Action, &refs, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		item.Category = models.FeedbackCategory(category)
		item.Priority = models.FeedbackPriority(priority)
		item.DataReferences = []string{}
		if refs != "" {
			if err := json.Unmarshal([]byte(refs), &item.DataReferences); err != nil {
				slog.Warn(s.name+".ListFeedbackItems: bad data references", "id", item.ID, "error", err)
				item.DataReferences = []string{}
			}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback rows: %w", err)
	}
	reverse(out)
	return out, nil
}

func (s *sqlStore) CountFeedbackItemsSince(participantID string, since time.Time) (int, error) {
	var n int
	err := s.queryRow(`SELECT COUNT(*) FROM feedback_items WHERE participant_id = ? AND created_at >= ?`,
		participantID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback items: %w", err)
	}
	return n, nil
}

func (s *sqlStore) AddUserResponse(r models.UserResponse) error {
	_, err := s.exec(`
		INSERT INTO user_responses (id, participant_id, intervention_id, source, kind, comment, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParticipantID, r.InterventionID, r.Source, string(r.Kind), r.Comment, r.RecordedAt.UTC())
	if err != nil {
		slog.Error(s.name+".AddUserResponse failed", "error", err, "participantID", r.ParticipantID)
		return fmt.Errorf("failed to insert response for %s: %w", r.ParticipantID, err)
	}
	slog.Debug(s.name+".AddUserResponse succeeded", "participantID", r.ParticipantID, "kind", r.Kind)
	return nil
}

func (s *sqlStore) ListUserResponses(participantID string) ([]models.UserResponse, error) {
	rows, err := s.query(`SELECT id, participant_id, intervention_id, source, kind, comment, recorded_at
		FROM user_responses WHERE participant_id = ? ORDER BY seq`, participantID)
	if err != nil {
		slog.Error(s.name+".ListUserResponses query failed", "error", err, "participantID", participantID)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	out := make([]models.UserResponse, 0)
	for rows.Next() {
		var r models.UserResponse
		var kind string
		if err := rows.Scan(&r.ID, &r.ParticipantID, &r.InterventionID, &r.Source, &kind, &r.Comment, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		r.Kind = models.ResponseKind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	return out, nil
}

func (s *sqlStore) SaveSessionState(state models.SessionState) error {
	proactivity, err := marshalJSON(state.ProactivitySettings)
	if err != nil {
		return fmt.Errorf("failed to encode proactivity settings: %w", err)
	}
	feedback, err := marshalJSON(state.FeedbackSettings)
	if err != nil {
		return fmt.Errorf("failed to encode feedback settings: %w", err)
	}
	fired, err := marshalJSON(state.LastTriggered)
	if err != nil {
		return fmt.Errorf("failed to encode trigger state: %w", err)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.exec(`
		INSERT INTO session_states (participant_id, proactivity_enabled, feedback_enabled, proactivity_settings, feedback_settings, last_triggered, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (participant_id) DO UPDATE SET
			proactivity_enabled = excluded.proactivity_enabled,
			feedback_enabled = excluded.feedback_enabled,
			proactivity_settings = excluded.proactivity_settings,
			feedback_settings = excluded.feedback_settings,
			last_triggered = excluded.last_triggered,
			updated_at = excluded.updated_at`,
		state.ParticipantID, state.ProactivityEnabled, state.FeedbackEnabled, proactivity, feedback, fired, updated.UTC())
	if err != nil {
		slog.Error(s.name+".SaveSessionState failed", "error", err, "participantID", state.ParticipantID)
		return fmt.Errorf("failed to save session state for %s: %w", state.ParticipantID, err)
	}
	slog.Debug(s.name+".SaveSessionState succeeded", "participantID", state.ParticipantID, "triggers", len(state.LastTriggered))
	return nil
}

func (s *sqlStore) GetSessionState(participantID string) (*models.SessionState, error) {
	state := models.SessionState{ParticipantID: participantID}
	var proactivity, feedback, fired string
	err := s.queryRow(`SELECT proactivity_enabled, feedback_enabled, proactivity_settings, feedback_settings, last_triggered, updated_at
		FROM session_states WHERE participant_id = ?`, participantID).
		Scan(&state.ProactivityEnabled, &state.FeedbackEnabled, &proactivity, &feedback, &fired, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetSessionState failed", "error", err, "participantID", participantID)
		return nil, fmt.Errorf("failed to get session state for %s: %w", participantID, err)
	}
	if err := json.Unmarshal([]byte(proactivity), &state.ProactivitySettings); err != nil {
		return nil, fmt.Errorf("failed to decode proactivity settings: %w", err)
	}
	if err := json.Unmarshal([]byte(feedback), &state.FeedbackSettings); err != nil {
		return nil, fmt.Errorf("failed to decode feedback settings: %w", err)
	}
	if fired != "" && fired != "null" {
		if err := json.Unmarshal([]byte(fired), &state.LastTriggered); err != nil {
			return nil, fmt.Errorf("failed to decode trigger state: %w", err)
		}
	}
	return &state, nil
}

func (s *sqlStore) EnqueueOutboxMessage(participantID, kind, payloadJSON, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := s.queryRow(`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN ('sent', 'canceled')`,
			dedupeKey).Scan(&existingID)
		if err == nil {
			slog.Debug(s.name+".EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	id := util.GenerateOutboxID()
	now := time.Now().UTC()
	_, err := s.exec(`
		INSERT INTO outbox_messages (id, participant_id, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, participantID, kind, payloadJSON, nilIfEmpty(dedupeKey), now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug(s.name+".EnqueueOutboxMessage", "id", id, "participantID", participantID, "kind", kind)
	return id, nil
}

func (s *sqlStore) MarkOutboxMessageSent(id string) error {
	_, err := s.exec(`UPDATE outbox_messages SET status = 'sent', updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *sqlStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.exec(`
		UPDATE outbox_messages
		SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		WHERE id = ?`,
		errMsg, nextAttemptAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *sqlStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	result, err := s.exec(`
		UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ?
		WHERE status = 'sending' AND locked_at < ?`,
		time.Now().UTC(), staleBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info(s.name+".RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name + ": closing database connection")
	if err := s.db.Close(); err != nil {
		slog.Error(s.name+": close failed", "error", err)
		return err
	}
	return nil
}

func reverse[T any](xs []T) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}
