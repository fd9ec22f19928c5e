package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fwb-labs/langlab_service/internal/client"
	"github.com/fwb-labs/langlab_service/internal/errors"
	"github.com/fwb-labs/langlab_service/internal/repository"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error)
}

// Dialogue produces the next assistant utterance from a system prompt and
// ordered conversation history.
type Dialogue interface {
	Converse(ctx context.Context, systemPrompt string, history []client.Message) (string, error)
}

// Synthesizer converts text into playback-ready audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SessionService orchestrates student conversation sessions: one audio turn
// runs transcription, optionally the tutor reply, then speech synthesis,
// with duplicate submissions suppressed by fingerprint.
type SessionService struct {
	repo            repository.SessionRepository
	transcriber     Transcriber
	dialogue        Dialogue
	synthesizer     Synthesizer
	providerTimeout time.Duration
	log             zerolog.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(
	repo repository.SessionRepository,
	transcriber Transcriber,
	dialogue Dialogue,
	synthesizer Synthesizer,
	providerTimeout time.Duration,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		repo:            repo,
		transcriber:     transcriber,
		dialogue:        dialogue,
		synthesizer:     synthesizer,
		providerTimeout: providerTimeout,
		log:             log,
	}
}

// Fingerprint derives a stable identifier for one audio submission. A
// content hash, not the byte length: two different short recordings must
// never collide.
func Fingerprint(audio []byte) string {
	sum := sha256.Sum256(audio)
	return hex.EncodeToString(sum[:])
}

// CreateSession starts a session for one student with a frozen exercise
// config.
func (s *SessionService) CreateSession(ctx context.Context, studentName string, cfg repository.ExerciseConfig) (*repository.Session, error) {
	if studentName == "" {
		return nil, errors.Validation("student name is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "invalid exercise config", err)
	}

	sess := repository.NewSession(studentName, cfg)
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, errors.InternalWrap("failed to store session", err)
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("student", studentName).
		Str("language", string(cfg.TargetLanguage)).
		Str("level", string(cfg.Level)).
		Str("mode", string(cfg.Mode)).
		Msg("Session created")

	return sess, nil
}

// GetSession returns an active session by id.
func (s *SessionService) GetSession(ctx context.Context, id uuid.UUID) (*repository.Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.NotFound("session")
	}
	return sess, nil
}

// SubmitTurn runs the turn pipeline for one audio submission.
//
// The fingerprint identifies the submission; when the caller sends none, a
// content hash of the audio is used. A submission whose fingerprint matches
// the last processed one is a no-op returning the prior result: the
// presentation layer may replay the same recording on every re-render and
// must not re-invoke providers or duplicate history entries. The session
// lock is held across the whole pipeline, so concurrent duplicates
// serialize and the second one hits the fingerprint check.
func (s *SessionService) SubmitTurn(ctx context.Context, id uuid.UUID, audio []byte, fingerprint string) (*repository.TurnResult, error) {
	if len(audio) == 0 {
		return nil, errors.Validation("audio submission is empty")
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if fingerprint == "" {
		fingerprint = Fingerprint(audio)
	}

	sess.Lock()
	defer sess.Unlock()

	if prior, ok := sess.PriorResult(fingerprint); ok {
		s.log.Debug().
			Str("session_id", id.String()).
			Str("fingerprint", fingerprint).
			Msg("Duplicate submission suppressed")
		return prior, nil
	}

	// Stage 1: transcription. On failure the fingerprint is not advanced,
	// so the same recording can be resubmitted.
	transcript, err := s.transcribe(ctx, audio, sess.Config.TargetLanguage.STTHint())
	if err != nil {
		return nil, err
	}

	studentTurn := sess.AppendTurn(repository.SpeakerStudent, transcript)
	result := &repository.TurnResult{
		Transcript: transcript,
		Turns:      []repository.Turn{studentTurn},
	}

	if sess.Config.Mode != repository.ModeInteractiveDialogue {
		// Continuous production: the student keeps talking, the tutor only
		// evaluates at report time.
		sess.RememberSubmission(fingerprint, result)
		return result, nil
	}

	// Stage 2: tutor reply over the full history, student turn included.
	reply, err := s.converse(ctx, NewTutorPrompt(sess.Config).Render(), sess.HistoryLocked())
	if err != nil {
		// The submission is marked processed anyway: transcription already
		// ran and the student turn is kept, so replaying the same clip must
		// not append it twice or bill the transcription again. The student
		// records a new clip to continue. The transcript travels in the
		// error details; the cached partial result answers any replay.
		sess.RememberSubmission(fingerprint, result)
		if appErr, ok := err.(*errors.AppError); ok {
			appErr.WithDetails(map[string]interface{}{"transcript": transcript})
		}
		return nil, err
	}

	tutorTurn := sess.AppendTurn(repository.SpeakerTutor, reply)
	result.TutorReply = reply
	result.Turns = append(result.Turns, tutorTurn)

	// Stage 3: speech synthesis. Non-fatal: the text turn stands even when
	// no audio could be produced.
	speech, err := s.synthesize(ctx, reply)
	if err != nil {
		s.log.Warn().Err(err).
			Str("session_id", id.String()).
			Msg("Speech synthesis failed, turn continues text-only")
	} else {
		sess.SetPendingAudio(speech)
		result.HasAudioReply = true
	}

	sess.RememberSubmission(fingerprint, result)

	s.log.Info().
		Str("session_id", id.String()).
		Str("fingerprint", fingerprint).
		Int("history_len", len(sess.HistoryLocked())).
		Bool("audio_reply", result.HasAudioReply).
		Msg("Turn processed")

	return result, nil
}

// ConsumePendingAudio returns the buffered tutor reply audio exactly once.
// Safe to call when nothing is pending; returns nil then.
func (s *SessionService) ConsumePendingAudio(ctx context.Context, id uuid.UUID) ([]byte, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.ConsumePendingAudio(), nil
}

// GenerateReport produces the competency report from a snapshot of the
// conversation. It does not mutate the history unless appendToHistory is
// set, in which case the report is added as a tutor turn. The report text
// is retained for export and generation may be retried on failure.
func (s *SessionService) GenerateReport(ctx context.Context, id uuid.UUID, appendToHistory bool) (string, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return "", err
	}

	sess.Lock()
	defer sess.Unlock()

	if len(sess.HistoryLocked()) == 0 {
		return "", errors.Validation("nothing to assess yet")
	}

	prompt := NewReportPrompt(sess.StudentName, sess.Config).Render()
	report, err := s.converse(ctx, prompt, sess.HistoryLocked())
	if err != nil {
		return "", err
	}

	if appendToHistory {
		sess.AppendTurn(repository.SpeakerTutor, report)
	}
	sess.SetLastReport(report)

	s.log.Info().
		Str("session_id", id.String()).
		Bool("appended", appendToHistory).
		Msg("Report generated")

	return report, nil
}

// Reset clears the session's conversation state atomically.
func (s *SessionService) Reset(ctx context.Context, id uuid.UUID) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.Reset()
	s.log.Info().Str("session_id", id.String()).Msg("Session reset")
	return nil
}

// DeleteSession removes a session entirely (student exited).
func (s *SessionService) DeleteSession(ctx context.Context, id uuid.UUID) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.Reset()
	if err := s.repo.Delete(ctx, sess.ID); err != nil {
		return errors.InternalWrap("failed to delete session", err)
	}
	return nil
}

func (s *SessionService) transcribe(ctx context.Context, audio []byte, hint string) (string, error) {
	if s.transcriber == nil {
		return "", errors.New(errors.ErrTranscription, "transcription provider not configured")
	}
	cctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	text, err := s.transcriber.Transcribe(cctx, audio, hint)
	if err != nil {
		return "", errors.Wrap(errors.ErrTranscription, "could not transcribe the recording", err)
	}
	return text, nil
}

func (s *SessionService) converse(ctx context.Context, prompt string, history []repository.Turn) (string, error) {
	if s.dialogue == nil {
		return "", errors.New(errors.ErrDialogue, "dialogue provider not configured")
	}
	cctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	reply, err := s.dialogue.Converse(cctx, prompt, toMessages(history))
	if err != nil {
		return "", errors.Wrap(errors.ErrDialogue, "the tutor could not reply", err)
	}
	return reply, nil
}

func (s *SessionService) synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.synthesizer == nil {
		return nil, errors.New(errors.ErrSynthesis, "speech provider not configured")
	}
	cctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	audio, err := s.synthesizer.Synthesize(cctx, text)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSynthesis, "could not synthesize the reply", err)
	}
	return audio, nil
}

func toMessages(history []repository.Turn) []client.Message {
	out := make([]client.Message, 0, len(history))
	for _, t := range history {
		out = append(out, client.Message{
			Assistant: t.Speaker == repository.SpeakerTutor,
			Text:      t.Text,
		})
	}
	return out
}
