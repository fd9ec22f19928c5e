package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fwb-labs/langlab_service/internal/client"
	"github.com/fwb-labs/langlab_service/internal/repository"
	"github.com/fwb-labs/langlab_service/internal/service"
)

type stubProviders struct {
	transcript string
	reply      string
	audio      []byte
	replyErr   error
}

func (s *stubProviders) Transcribe(ctx context.Context, audio []byte, hint string) (string, error) {
	return s.transcript, nil
}

func (s *stubProviders) Converse(ctx context.Context, prompt string, history []client.Message) (string, error) {
	if s.replyErr != nil {
		return "", s.replyErr
	}
	return s.reply, nil
}

func (s *stubProviders) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.audio, nil
}

func newTestRouter(stub *stubProviders) (chi.Router, *service.SessionService) {
	repo := repository.NewInMemorySessionRepository()
	svc := service.NewSessionService(repo, stub, stub, stub, 5*time.Second, zerolog.Nop())
	h := NewSessionHandler(zerolog.Nop(), svc, 1<<20)

	r := chi.NewRouter()
	r.Post("/sessions", h.Create)
	r.Get("/sessions/{id}", h.Get)
	r.Post("/sessions/{id}/turns", h.SubmitTurn)
	r.Get("/sessions/{id}/audio", h.Audio)
	r.Post("/sessions/{id}/report", h.Report)
	r.Get("/sessions/{id}/report/export", h.ExportReport)
	r.Delete("/sessions/{id}", h.Delete)
	return r, svc
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func createSession(t *testing.T, router chi.Router, body string) string {
	t.Helper()
	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	return created.ID
}

func multipartAudio(t *testing.T, audio []byte, fingerprint string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio_file", "turn.wav")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write(audio)
	if fingerprint != "" {
		mw.WriteField("fingerprint", fingerprint)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func submitTurn(t *testing.T, router chi.Router, id string, audio []byte, fingerprint string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartAudio(t, audio, fingerprint)
	req := httptest.NewRequest("POST", fmt.Sprintf("/sessions/%s/turns", id), body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionWithDefaults(t *testing.T) {
	router, _ := newTestRouter(&stubProviders{})

	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(`{"student_name":"Lena"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var created struct {
		Config repository.ExerciseConfig `json:"config"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	if created.Config.Level != repository.LevelA2 {
		t.Errorf("Expected default level A2, got %s", created.Config.Level)
	}
	if created.Config.TargetLanguage != repository.LanguageEnglish {
		t.Errorf("Expected default language English, got %s", created.Config.TargetLanguage)
	}
}

func TestCreateSessionFromShareQuery(t *testing.T) {
	router, _ := newTestRouter(&stubProviders{})

	body := `{"student_name":"Lena","share_query":"?lang=German&level=B2&focus=Modal+verbs&mode=dialogue"}`
	id := createSession(t, router, body)

	req := httptest.NewRequest("GET", "/sessions/"+id, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec)
	var got struct {
		Config repository.ExerciseConfig `json:"config"`
	}
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	if got.Config.TargetLanguage != repository.LanguageGerman || got.Config.Level != repository.LevelB2 {
		t.Errorf("Share query not applied: %+v", got.Config)
	}
	if got.Config.GrammarFocus != "Modal verbs" {
		t.Errorf("Expected grammar focus from link, got %q", got.Config.GrammarFocus)
	}
}

func TestCreateSessionRequiresName(t *testing.T) {
	router, _ := newTestRouter(&stubProviders{})

	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestSubmitTurnReturnsTurnResult(t *testing.T) {
	stub := &stubProviders{
		transcript: "I want to order pizza",
		reply:      "Sure, what size would you like?",
		audio:      []byte("mp3-bytes"),
	}
	router, _ := newTestRouter(stub)
	id := createSession(t, router, `{"student_name":"Lena"}`)

	rec := submitTurn(t, router, id, []byte("recording"), "x1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var result repository.TurnResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.Transcript != "I want to order pizza" || result.TutorReply != "Sure, what size would you like?" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if !result.HasAudioReply {
		t.Error("Expected an audio reply flag")
	}
}

func TestSubmitTurnRejectsMissingFile(t *testing.T) {
	router, _ := newTestRouter(&stubProviders{})
	id := createSession(t, router, `{"student_name":"Lena"}`)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("fingerprint", "x1")
	mw.Close()

	req := httptest.NewRequest("POST", fmt.Sprintf("/sessions/%s/turns", id), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestSubmitTurnDialogueFailure(t *testing.T) {
	stub := &stubProviders{
		transcript: "hello",
		replyErr:   fmt.Errorf("provider down"),
	}
	router, _ := newTestRouter(stub)
	id := createSession(t, router, `{"student_name":"Lena"}`)

	rec := submitTurn(t, router, id, []byte("recording"), "x1")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "DIALOGUE_FAILED" {
		t.Fatalf("Expected DIALOGUE_FAILED error, got %+v", env.Error)
	}
	if env.Error.Details["retryable"] != true {
		t.Errorf("Expected retryable hint, got %+v", env.Error.Details)
	}
	if env.Error.Details["transcript"] != "hello" {
		t.Errorf("Expected the transcript in error details, got %+v", env.Error.Details)
	}
}

func TestSubmitTurnRejectsOversizedAudio(t *testing.T) {
	stub := &stubProviders{transcript: "partial", reply: "hi", audio: []byte("mp3")}
	repo := repository.NewInMemorySessionRepository()
	svc := service.NewSessionService(repo, stub, stub, stub, 5*time.Second, zerolog.Nop())
	h := NewSessionHandler(zerolog.Nop(), svc, 64)

	router := chi.NewRouter()
	router.Post("/sessions/{id}/turns", h.SubmitTurn)

	sess, err := svc.CreateSession(context.Background(), "Lena", repository.DefaultExerciseConfig())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	oversized := bytes.Repeat([]byte("a"), 65)
	rec := submitTurn(t, router, sess.ID.String(), oversized, "x1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for oversized audio, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR, got %+v", env.Error)
	}
	if len(sess.History()) != 0 {
		t.Errorf("Truncated audio must not reach the pipeline, got %d turns", len(sess.History()))
	}

	// A clip at exactly the limit goes through.
	atLimit := bytes.Repeat([]byte("a"), 64)
	if rec := submitTurn(t, router, sess.ID.String(), atLimit, "x2"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 at the limit, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAudioEndpointSingleConsume(t *testing.T) {
	stub := &stubProviders{transcript: "hello", reply: "hi", audio: []byte("mp3-bytes")}
	router, _ := newTestRouter(stub)
	id := createSession(t, router, `{"student_name":"Lena"}`)

	if rec := submitTurn(t, router, id, []byte("recording"), "x1"); rec.Code != http.StatusOK {
		t.Fatalf("SubmitTurn failed: %d", rec.Code)
	}

	req := httptest.NewRequest("GET", fmt.Sprintf("/sessions/%s/audio", id), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %s", ct)
	}
	if rec.Body.String() != "mp3-bytes" {
		t.Errorf("Unexpected audio payload: %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", fmt.Sprintf("/sessions/%s/audio", id), nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on second fetch, got %d", rec.Code)
	}
}

func TestReportEndpointAndExport(t *testing.T) {
	stub := &stubProviders{transcript: "hello", reply: "hi", audio: []byte("mp3")}
	router, _ := newTestRouter(stub)
	id := createSession(t, router, `{"student_name":"Lena Van Damme"}`)

	if rec := submitTurn(t, router, id, []byte("recording"), "x1"); rec.Code != http.StatusOK {
		t.Fatalf("SubmitTurn failed: %d", rec.Code)
	}

	stub.reply = "Fluency: good. Richness: fair. Intelligibility: clear."
	req := httptest.NewRequest("POST", fmt.Sprintf("/sessions/%s/report", id), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var report struct {
		Report string `json:"report"`
	}
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if !strings.Contains(report.Report, "Fluency") {
		t.Errorf("Unexpected report: %q", report.Report)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", fmt.Sprintf("/sessions/%s/report/export", id), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 export, got %d", rec.Code)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, `filename="report-Lena_Van_Damme.txt"`) {
		t.Errorf("Unexpected disposition: %s", disposition)
	}
	if rec.Body.String() != report.Report {
		t.Errorf("Export body mismatch: %q", rec.Body.String())
	}
}

func TestExportReportBeforeGeneration(t *testing.T) {
	router, _ := newTestRouter(&stubProviders{})
	id := createSession(t, router, `{"student_name":"Lena"}`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", fmt.Sprintf("/sessions/%s/report/export", id), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	router, _ := newTestRouter(&stubProviders{})
	id := createSession(t, router, `{"student_name":"Lena"}`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/sessions/"+id, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestInvalidSessionID(t *testing.T) {
	router, _ := newTestRouter(&stubProviders{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestExportFilename(t *testing.T) {
	cases := map[string]string{
		"Lena":           "report-Lena.txt",
		"Lena Van Damme": "report-Lena_Van_Damme.txt",
		"  éé!!  ":       "report-student.txt",
		"":               "report-student.txt",
	}
	for in, want := range cases {
		if got := exportFilename(in); got != want {
			t.Errorf("exportFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
