package service

import (
	"fmt"
	"strings"

	"github.com/fwb-labs/langlab_service/internal/repository"
)

// TutorPrompt is the structured system instruction that fully determines the
// tutor's behavior for one exercise. Rendering is deterministic so prompts
// can be asserted in tests instead of being assembled ad hoc at call sites.
type TutorPrompt struct {
	Persona      string
	Scenario     string
	Language     repository.Language
	Level        repository.Level
	GrammarFocus string
}

// NewTutorPrompt builds the dialogue prompt from an exercise config.
func NewTutorPrompt(cfg repository.ExerciseConfig) TutorPrompt {
	return TutorPrompt{
		Persona:      cfg.TutorPersona,
		Scenario:     cfg.ScenarioPrompt,
		Language:     cfg.TargetLanguage,
		Level:        cfg.Level,
		GrammarFocus: cfg.GrammarFocus,
	}
}

// Render produces the system instruction string sent to the dialogue
// provider. Every config field appears in the output.
func (p TutorPrompt) Render() string {
	var b strings.Builder
	b.WriteString(p.Persona)
	if p.Scenario != "" {
		fmt.Fprintf(&b, " Scenario for this exercise: %s.", p.Scenario)
	}
	fmt.Fprintf(&b, " The student is working at CEFR level %s.", p.Level)
	fmt.Fprintf(&b, " Grammar focus: %s.", p.GrammarFocus)
	fmt.Fprintf(&b, " Always reply in %s, with vocabulary appropriate for that level.", p.Language)
	return b.String()
}

// ReportPrompt is the one-shot evaluation instruction used at report time.
// It explicitly forbids continuing the dialogue.
type ReportPrompt struct {
	Language     repository.Language
	Level        repository.Level
	GrammarFocus string
	StudentName  string
}

// NewReportPrompt builds the evaluation prompt from an exercise config.
func NewReportPrompt(studentName string, cfg repository.ExerciseConfig) ReportPrompt {
	return ReportPrompt{
		Language:     cfg.TargetLanguage,
		Level:        cfg.Level,
		GrammarFocus: cfg.GrammarFocus,
		StudentName:  studentName,
	}
}

// Render produces the evaluation system instruction. The three assessment
// axes are fixed: fluency, richness, intelligibility.
func (p ReportPrompt) Render() string {
	var b strings.Builder
	b.WriteString("You are a language examiner. Do not continue the conversation and do not address the student directly.")
	fmt.Fprintf(&b, " Assess the %s conversation below, produced by %s at CEFR level %s.", p.Language, p.StudentName, p.Level)
	fmt.Fprintf(&b, " The exercise's grammar focus was: %s.", p.GrammarFocus)
	b.WriteString(" Write a short competency report along exactly three axes:" +
		" fluency, richness (vocabulary and grammar relative to the configured focus), and intelligibility." +
		" Reference the CEFR level in your judgement.")
	return b.String()
}
