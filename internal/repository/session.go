package repository

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerStudent Speaker = "student"
	SpeakerTutor   Speaker = "tutor"
)

// Mode governs whether the tutor replies after every student turn or only
// evaluates at report time.
type Mode string

const (
	ModeInteractiveDialogue  Mode = "dialogue"
	ModeContinuousProduction Mode = "production"
)

// Level is a CEFR proficiency tier.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
)

var validLevels = map[Level]bool{
	LevelA1: true, LevelA2: true, LevelB1: true, LevelB2: true, LevelC1: true,
}

// Language is the target language of an exercise. The four values below are
// the ones offered in the teacher dashboard; other strings are tolerated and
// simply get no transcription hint.
type Language string

const (
	LanguageEnglish Language = "English"
	LanguageDutch   Language = "Dutch"
	LanguageGerman  Language = "German"
	LanguageSpanish Language = "Spanish"
)

var sttHints = map[Language]string{
	LanguageEnglish: "en",
	LanguageDutch:   "nl",
	LanguageGerman:  "de",
	LanguageSpanish: "es",
}

// STTHint returns the ISO-639-1 hint passed to the transcription provider,
// or an empty string (provider auto-detect) for unknown languages.
func (l Language) STTHint() string {
	return sttHints[l]
}

// ExerciseConfig holds the teacher-authored parameters for one exercise.
// It is written by the teacher dashboard and read-only once a student
// session starts.
type ExerciseConfig struct {
	TargetLanguage Language `json:"target_language"`
	Level          Level    `json:"level"`
	GrammarFocus   string   `json:"grammar_focus"`
	Mode           Mode     `json:"mode"`
	ScenarioPrompt string   `json:"scenario_prompt"`
	TutorPersona   string   `json:"tutor_persona"`
}

// DefaultExerciseConfig returns the configuration a fresh classroom starts
// with, matching the defaults teachers see before touching anything.
func DefaultExerciseConfig() ExerciseConfig {
	return ExerciseConfig{
		TargetLanguage: LanguageEnglish,
		Level:          LevelA2,
		GrammarFocus:   "General (present/past tense)",
		Mode:           ModeInteractiveDialogue,
		ScenarioPrompt: "",
		TutorPersona:   "You are a supportive language tutor for secondary school students.",
	}
}

// Validate checks enum membership. TargetLanguage is deliberately open.
func (c ExerciseConfig) Validate() error {
	if c.TargetLanguage == "" {
		return fmt.Errorf("target_language is required")
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid level %q", c.Level)
	}
	if c.Mode != ModeInteractiveDialogue && c.Mode != ModeContinuousProduction {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	return nil
}

// Query parameter keys for the shareable deep link. The persona is a hidden
// instruction and is never encoded into links.
const (
	queryKeyLanguage = "lang"
	queryKeyLevel    = "level"
	queryKeyFocus    = "focus"
	queryKeyMode     = "mode"
	queryKeyScenario = "scenario"
)

// EncodeQuery encodes the shareable subset of the config as URL parameters.
func (c ExerciseConfig) EncodeQuery() url.Values {
	v := url.Values{}
	v.Set(queryKeyLanguage, string(c.TargetLanguage))
	v.Set(queryKeyLevel, string(c.Level))
	if c.GrammarFocus != "" {
		v.Set(queryKeyFocus, c.GrammarFocus)
	}
	v.Set(queryKeyMode, string(c.Mode))
	if c.ScenarioPrompt != "" {
		v.Set(queryKeyScenario, c.ScenarioPrompt)
	}
	return v
}

// ConfigFromQuery builds a config from deep-link parameters, filling absent
// fields from the defaults. The persona always comes from the defaults.
func ConfigFromQuery(v url.Values) ExerciseConfig {
	c := DefaultExerciseConfig()
	if s := v.Get(queryKeyLanguage); s != "" {
		c.TargetLanguage = Language(s)
	}
	if s := v.Get(queryKeyLevel); s != "" {
		c.Level = Level(s)
	}
	if s := v.Get(queryKeyFocus); s != "" {
		c.GrammarFocus = s
	}
	if s := v.Get(queryKeyMode); s != "" {
		c.Mode = Mode(s)
	}
	if s := v.Get(queryKeyScenario); s != "" {
		c.ScenarioPrompt = s
	}
	return c
}

// Turn is one utterance appended to the conversation history.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// TurnResult is what a single audio submission produced: the turns appended
// by that submission and whether a synthesized reply is waiting.
type TurnResult struct {
	Transcript    string `json:"transcript"`
	TutorReply    string `json:"tutor_reply,omitempty"`
	Turns         []Turn `json:"turns"`
	HasAudioReply bool   `json:"has_audio_reply"`
}

// Session owns one student's conversation state. All mutable state is
// guarded by mu; holding the lock across a whole turn pipeline is what
// serializes duplicate submissions (one in-flight pipeline per session).
type Session struct {
	mu sync.Mutex

	ID          uuid.UUID      `json:"id"`
	StudentName string         `json:"student_name"`
	Config      ExerciseConfig `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`

	history         []Turn
	lastFingerprint string
	lastResult      *TurnResult
	pendingAudio    []byte
	lastReport      string
}

// NewSession creates a session for one student with a frozen copy of the
// exercise config.
func NewSession(studentName string, cfg ExerciseConfig) *Session {
	return &Session{
		ID:          uuid.New(),
		StudentName: studentName,
		Config:      cfg,
		CreatedAt:   time.Now(),
		history:     make([]Turn, 0, 8),
	}
}

// Lock serializes turn pipelines for this session. The session service holds
// it for the whole STT/tutor/TTS sequence.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the pipeline lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// PriorResult returns the cached result when fp matches the most recently
// processed submission. Caller must hold the lock.
func (s *Session) PriorResult(fp string) (*TurnResult, bool) {
	if fp != "" && fp == s.lastFingerprint {
		return s.lastResult, true
	}
	return nil, false
}

// AppendTurn appends one utterance to the history. Caller must hold the lock.
func (s *Session) AppendTurn(speaker Speaker, text string) Turn {
	t := Turn{Speaker: speaker, Text: text, At: time.Now()}
	s.history = append(s.history, t)
	return t
}

// RememberSubmission marks fp as processed and caches its result so that
// re-renders replaying the same submission become no-ops. Caller must hold
// the lock.
func (s *Session) RememberSubmission(fp string, result *TurnResult) {
	s.lastFingerprint = fp
	s.lastResult = result
}

// LastFingerprint returns the most recently processed submission id.
func (s *Session) LastFingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFingerprint
}

// SetPendingAudio buffers one synthesized reply. Caller must hold the lock.
func (s *Session) SetPendingAudio(audio []byte) {
	s.pendingAudio = audio
}

// ConsumePendingAudio returns the buffered reply audio and clears it. The
// payload is surfaced exactly once; subsequent calls return nil until a new
// turn produces audio.
func (s *Session) ConsumePendingAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	audio := s.pendingAudio
	s.pendingAudio = nil
	return audio
}

// HasPendingAudio reports whether a reply is buffered without consuming it.
func (s *Session) HasPendingAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingAudio) > 0
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLocked is the in-pipeline variant of History; caller must hold the
// lock.
func (s *Session) HistoryLocked() []Turn {
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// SetLastReport keeps the most recent report text for export. Caller must
// hold the lock.
func (s *Session) SetLastReport(text string) {
	s.lastReport = text
}

// LastReport returns the most recently generated report, if any.
func (s *Session) LastReport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// Reset clears history, the submission fingerprint and any buffered audio
// in one critical section, returning the session to its initial state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = s.history[:0]
	s.lastFingerprint = ""
	s.lastResult = nil
	s.pendingAudio = nil
	s.lastReport = ""
}

// SessionRepository stores active sessions. Session data is ephemeral and
// scoped to the process lifetime.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Common repository errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrAlreadyExists = fmt.Errorf("already exists")
)

// InMemorySessionRepository keeps sessions in a process-local map.
type InMemorySessionRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*Session
}

// NewInMemorySessionRepository creates an empty session store.
func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{
		data: make(map[uuid.UUID]*Session),
	}
}

// Create stores a new session.
func (r *InMemorySessionRepository) Create(ctx context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[session.ID]; ok {
		return ErrAlreadyExists
	}
	r.data[session.ID] = session
	return nil
}

// GetByID retrieves a session by id.
func (r *InMemorySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.data[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

// Delete removes a session.
func (r *InMemorySessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return ErrNotFound
	}
	delete(r.data, id)
	return nil
}
