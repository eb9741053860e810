// Package prompt renders the interviewer system instruction for a scenario.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/MrWong99/casecoach/internal/scenario"
)

//go:embed template.tmpl
var instructionSource string

var instruction = template.Must(template.New("instruction").Parse(instructionSource))

// Language is the language the interview is conducted in.
type Language string

const (
	English Language = "English"
	Chinese Language = "Chinese"
)

// ParseLanguage maps a user-supplied name or tag to a Language. Matching is
// case-insensitive; an empty string selects English.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "english", "en":
		return English, nil
	case "chinese", "zh", "zh-cn", "中文":
		return Chinese, nil
	}
	return "", fmt.Errorf("prompt: unsupported language %q", s)
}

// Mode selects the response style the interviewer is asked to keep.
type Mode int

const (
	// Text asks for concise written answers.
	Text Mode = iota
	// Voice asks for short spoken answers, one question at a time.
	Voice
)

func (m Mode) String() string {
	if m == Voice {
		return "Voice Interview"
	}
	return "Text Chat"
}

// SystemInstruction renders the interviewer persona for s, conducted in lang.
func SystemInstruction(s scenario.Scenario, lang Language, mode Mode) string {
	var b strings.Builder
	// The template only references fields that always exist, so Execute
	// cannot fail on a strings.Builder.
	_ = instruction.Execute(&b, struct {
		Scenario scenario.Scenario
		Language Language
		Voice    bool
	}{s, lang, mode == Voice})
	return b.String()
}
