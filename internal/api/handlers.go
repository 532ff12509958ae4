package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/ChatMaestro/internal/coach"
	"github.com/BTreeMap/ChatMaestro/internal/models"
	"github.com/BTreeMap/ChatMaestro/internal/notify"
)

// defaultListLimit caps list endpoints when no limit is given.
const defaultListLimit = 50

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type enabledResponse struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, "Server.healthHandler", http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// sweepHandler runs one proactive sweep immediately (POST /sweep).
func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, "Server.sweepHandler", http.MethodPost) {
		return
	}
	if s.sweeper == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Sweeper not configured"))
		return
	}
	res := s.sweeper.Sweep(r.Context())
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// registerParticipantHandler creates or updates a participant (POST /participants).
func (s *Server) registerParticipantHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethods(w, r, "Server.registerParticipantHandler", http.MethodPost) {
		return
	}
	var req models.ParticipantRequest
	if !decodeJSON(w, r, "Server.registerParticipantHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.registerParticipantHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone, err := notify.CanonicalizeRecipient(req.PhoneNumber)
	if err != nil {
		slog.Warn("Server.registerParticipantHandler: phone validation failed", "error", err, "phone", req.PhoneNumber)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	existing, err := s.st.GetParticipant(req.ID)
	if err != nil {
		slog.Error("Server.registerParticipantHandler: lookup failed", "error", err, "participantID", req.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up participant"))
		return
	}

	now := s.now()
	p := models.Participant{
		ID:          req.ID,
		PhoneNumber: phone,
		Timezone:    req.Timezone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	status := http.StatusCreated
	if existing != nil {
		p.CreatedAt = existing.CreatedAt
		status = http.StatusOK
	}
	if err := s.st.SaveParticipant(p); err != nil {
		slog.Error("Server.registerParticipantHandler: save failed", "error", err, "participantID", req.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save participant"))
		return
	}
	if err := s.registry.Refresh(p); err != nil {
		slog.Error("Server.registerParticipantHandler: session refresh failed", "error", err, "participantID", p.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update participant session"))
		return
	}

	slog.Info("Server.registerParticipantHandler: participant saved", "participantID", p.ID, "created", existing == nil)
	writeJSONResponse(w, status, models.Success(p))
}

// getParticipantHandler returns one participant (GET /participants/{id}).
func (s *Server) getParticipantHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, "Server.getParticipantHandler", http.MethodGet) {
		return
	}
	id := r.PathValue("id")
	p, err := s.st.GetParticipant(id)
	if err != nil {
		slog.Error("Server.getParticipantHandler: lookup failed", "error", err, "participantID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up participant"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrParticipantNotFound.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(p))
}

// session resolves the participant's session, writing an error response on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request, handler string) (*coach.Session, bool) {
	id := r.PathValue("id")
	sess, err := s.registry.Session(id)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error(handler+": failed to load session", "error", err, "participantID", id)
			writeJSONResponse(w, status, models.Error("Failed to load participant session"))
		} else {
			writeJSONResponse(w, status, models.Error(err.Error()))
		}
		return nil, false
	}
	return sess, true
}

// writeSessionError reports an error returned by a session operation.
func writeSessionError(w http.ResponseWriter, handler string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(handler+": operation failed", "error", err)
		writeJSONResponse(w, status, models.Error("Internal server error"))
		return
	}
	slog.Warn(handler+": rejected", "error", err)
	writeJSONResponse(w, status, models.Error(err.Error()))
}

// snapshotHandler stores a snapshot and evaluates it (POST /participants/{id}/snapshots).
func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.snapshotHandler"
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethods(w, r, handler, http.MethodPost) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	var snap models.UserDataSnapshot
	if !decodeJSON(w, r, handler, &snap) {
		return
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = s.now()
	}
	if err := s.st.SaveSnapshot(sess.ParticipantID(), snap); err != nil {
		writeSessionError(w, handler, err)
		return
	}
	interventions, err := sess.EvaluateSnapshot(snap)
	if err != nil {
		writeSessionError(w, handler, err)
		return
	}
	slog.Debug(handler+": snapshot evaluated", "participantID", sess.ParticipantID(), "interventions", len(interventions))
	writeJSONResponse(w, http.StatusOK, models.Success(interventions))
}

// feedbackHandler generates feedback for a context (POST /participants/{id}/feedback).
func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.feedbackHandler"
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethods(w, r, handler, http.MethodPost) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	var fctx models.FeedbackContext
	if !decodeJSON(w, r, handler, &fctx) {
		return
	}
	fctx.User.ID = sess.ParticipantID()
	items, err := sess.GenerateFeedback(fctx)
	if err != nil {
		writeSessionError(w, handler, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

// proactivitySettingsHandler reads or patches proactivity settings.
func (s *Server) proactivitySettingsHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.proactivitySettingsHandler"
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethods(w, r, handler, http.MethodGet, http.MethodPatch) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		writeJSONResponse(w, http.StatusOK, models.Success(sess.ProactivitySettings()))
		return
	}
	var update models.ProactivitySettingsUpdate
	if !decodeJSON(w, r, handler, &update) {
		return
	}
	settings, err := sess.UpdateProactivitySettings(update)
	if err != nil {
		writeSessionError(w, handler, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Settings updated", settings))
}

// feedbackSettingsHandler reads or patches feedback settings.
func (s *Server) feedbackSettingsHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.feedbackSettingsHandler"
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethods(w, r, handler, http.MethodGet, http.MethodPatch) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		writeJSONResponse(w, http.StatusOK, models.Success(sess.FeedbackSettings()))
		return
	}
	var update models.FeedbackSettingsUpdate
	if !decodeJSON(w, r, handler, &update) {
		return
	}
	settings, err := sess.UpdateFeedbackSettings(update)
	if err != nil {
		writeSessionError(w, handler, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Settings updated", settings))
}

func (s *Server) proactivityEnabledHandler(w http.ResponseWriter, r *http.Request) {
	s.enabledHandler(w, r, "Server.proactivityEnabledHandler",
		(*coach.Session).ProactivityEnabled, (*coach.Session).SetProactivityEnabled)
}

func (s *Server) feedbackEnabledHandler(w http.ResponseWriter, r *http.Request) {
	s.enabledHandler(w, r, "Server.feedbackEnabledHandler",
		(*coach.Session).FeedbackEnabled, (*coach.Session).SetFeedbackEnabled)
}

// enabledHandler serves GET and PUT for an enabled flag.
func (s *Server) enabledHandler(w http.ResponseWriter, r *http.Request, handler string,
	get func(*coach.Session) bool, set func(*coach.Session, bool) error) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethods(w, r, handler, http.MethodGet, http.MethodPut) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	if r.Method == http.MethodPut {
		var req enabledRequest
		if !decodeJSON(w, r, handler, &req) {
			return
		}
		if req.Enabled == nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("enabled is required"))
			return
		}
		if err := set(sess, *req.Enabled); err != nil {
			writeSessionError(w, handler, err)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(enabledResponse{Enabled: get(sess)}))
}

func (s *Server) analyticsHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.analyticsHandler"
	if !allowMethods(w, r, handler, http.MethodGet) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess.Analytics()))
}

// parseLimit reads ?limit=, defaulting to defaultListLimit. Zero means no limit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

// interventionsHandler lists stored interventions, oldest first.
func (s *Server) interventionsHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.interventionsHandler"
	if !allowMethods(w, r, handler, http.MethodGet) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	items, err := s.st.ListInterventions(sess.ParticipantID(), limit)
	if err != nil {
		writeSessionError(w, handler, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

// feedbackHistoryHandler lists stored feedback items, oldest first.
func (s *Server) feedbackHistoryHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.feedbackHistoryHandler"
	if !allowMethods(w, r, handler, http.MethodGet) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	items, err := s.st.ListFeedbackItems(sess.ParticipantID(), limit)
	if err != nil {
		writeSessionError(w, handler, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

// responsesHandler records (POST) or lists (GET) participant responses.
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	const handler = "Server.responsesHandler"
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethods(w, r, handler, http.MethodGet, http.MethodPost) {
		return
	}
	sess, ok := s.session(w, r, handler)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		responses, err := s.st.ListUserResponses(sess.ParticipantID())
		if err != nil {
			writeSessionError(w, handler, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(responses))
		return
	}

	var resp models.UserResponse
	if !decodeJSON(w, r, handler, &resp) {
		return
	}
	if resp.Source != "" && resp.Source != models.SourceProactivity && resp.Source != models.SourceFeedback {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("source must be proactivity or feedback"))
		return
	}
	if err := sess.RecordUserResponse(resp); err != nil {
		writeSessionError(w, handler, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Recorded())
}
