package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fwb-labs/langlab_service/internal/errors"
	"github.com/fwb-labs/langlab_service/internal/repository"
	"github.com/fwb-labs/langlab_service/internal/service"
	"github.com/fwb-labs/langlab_service/pkg/response"
)

// SessionHandler exposes the student exercise session endpoints.
type SessionHandler struct {
	log            zerolog.Logger
	sessionService *service.SessionService
	maxAudioBytes  int64
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(log zerolog.Logger, sessionService *service.SessionService, maxAudioBytes int64) *SessionHandler {
	return &SessionHandler{
		log:            log,
		sessionService: sessionService,
		maxAudioBytes:  maxAudioBytes,
	}
}

type createSessionRequest struct {
	StudentName string                     `json:"student_name"`
	Config      *repository.ExerciseConfig `json:"config,omitempty"`
	// ShareQuery is the query-string part of a teacher share link, used to
	// pre-configure the session without re-entering settings.
	ShareQuery string `json:"share_query,omitempty"`
}

type sessionResponse struct {
	ID          uuid.UUID                 `json:"id"`
	StudentName string                    `json:"student_name"`
	Config      repository.ExerciseConfig `json:"config"`
	History     []repository.Turn         `json:"history"`
}

// Create handles POST /api/v1/sessions
//
// The exercise config comes either inline or from a share-link query
// string; omitted fields fall back to the classroom defaults.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, errors.Validation("invalid request body"))
		return
	}

	cfg := repository.DefaultExerciseConfig()
	switch {
	case req.Config != nil:
		cfg = mergeConfig(cfg, *req.Config)
	case req.ShareQuery != "":
		values, err := url.ParseQuery(strings.TrimPrefix(req.ShareQuery, "?"))
		if err != nil {
			h.handleError(w, errors.Validation("invalid share query"))
			return
		}
		cfg = repository.ConfigFromQuery(values)
	}

	sess, err := h.sessionService.CreateSession(r.Context(), req.StudentName, cfg)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.Created(w, sessionResponse{
		ID:          sess.ID,
		StudentName: sess.StudentName,
		Config:      sess.Config,
		History:     sess.History(),
	})
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.sessionService.GetSession(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, sessionResponse{
		ID:          sess.ID,
		StudentName: sess.StudentName,
		Config:      sess.Config,
		History:     sess.History(),
	})
}

// SubmitTurn handles POST /api/v1/sessions/{id}/turns
//
// Request: multipart/form-data with an "audio_file" field and an optional
// "fingerprint" field (content hash is derived server-side when absent).
// Resubmitting the same recording returns the prior result without running
// the pipeline again.
func (h *SessionHandler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(h.maxAudioBytes); err != nil {
		h.handleError(w, errors.Validation("failed to parse multipart form"))
		return
	}

	file, _, err := r.FormFile("audio_file")
	if err != nil {
		h.handleError(w, errors.Validation("audio_file is required"))
		return
	}
	defer file.Close()

	// Read one byte past the limit so truncation is detectable: a clip cut
	// mid-sentence must be rejected, not transcribed as if it were whole.
	audio, err := io.ReadAll(io.LimitReader(file, h.maxAudioBytes+1))
	if err != nil {
		h.handleError(w, errors.Validation("failed to read audio file"))
		return
	}
	if int64(len(audio)) > h.maxAudioBytes {
		h.handleError(w, errors.Validation("audio file exceeds the upload limit"))
		return
	}

	fingerprint := r.FormValue("fingerprint")

	result, err := h.sessionService.SubmitTurn(r.Context(), id, audio, fingerprint)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, result)
}

// Audio handles GET /api/v1/sessions/{id}/audio
//
// Returns the synthesized tutor reply exactly once; after that (or when no
// reply is pending) the endpoint responds 204.
func (h *SessionHandler) Audio(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	audio, err := h.sessionService.ConsumePendingAudio(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if len(audio) == 0 {
		response.NoContent(w)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

type reportResponse struct {
	Report string `json:"report"`
}

// Report handles POST /api/v1/sessions/{id}/report
//
// Query param "append=true" records the report as a tutor turn; the default
// leaves the history untouched.
func (h *SessionHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	appendToHistory := r.URL.Query().Get("append") == "true"

	report, err := h.sessionService.GenerateReport(r.Context(), id, appendToHistory)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, reportResponse{Report: report})
}

// ExportReport handles GET /api/v1/sessions/{id}/report/export
//
// Serves the most recent report as a plain-text download named after the
// student.
func (h *SessionHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.sessionService.GetSession(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}

	report := sess.LastReport()
	if report == "" {
		h.handleError(w, errors.NotFound("report"))
		return
	}

	filename := exportFilename(sess.StudentName)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, report)
}

// Delete handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.sessionService.DeleteSession(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}

	response.NoContent(w)
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, errors.Validation("invalid session id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandler) handleError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		details := appErr.Details
		if appErr.Recoverable() {
			if details == nil {
				details = map[string]interface{}{}
			}
			details["retryable"] = true
		}
		response.Error(w, appErr.HTTPStatus(), &response.ErrorBody{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: details,
		})
		return
	}
	response.InternalError(w, "unexpected error")
}

// mergeConfig overlays the provided config on the defaults so omitted
// fields keep their classroom values.
func mergeConfig(base, override repository.ExerciseConfig) repository.ExerciseConfig {
	if override.TargetLanguage != "" {
		base.TargetLanguage = override.TargetLanguage
	}
	if override.Level != "" {
		base.Level = override.Level
	}
	if override.GrammarFocus != "" {
		base.GrammarFocus = override.GrammarFocus
	}
	if override.Mode != "" {
		base.Mode = override.Mode
	}
	if override.ScenarioPrompt != "" {
		base.ScenarioPrompt = override.ScenarioPrompt
	}
	if override.TutorPersona != "" {
		base.TutorPersona = override.TutorPersona
	}
	return base
}

// exportFilename derives a safe download filename from the student's
// display name.
func exportFilename(studentName string) string {
	name := strings.TrimSpace(studentName)
	if name == "" {
		name = "student"
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	if name == "" {
		name = "student"
	}
	return fmt.Sprintf("report-%s.txt", name)
}
