// Package models defines the collaborator wire shapes and the step payload
// consumed by the conversation engine.
package models

import (
	"sort"
	"strconv"
	"strings"
)

// Answers is the structured answer snapshot returned by the collaborator,
// keyed by answer field (color, moisture, ph_category, ph_value, ...).
type Answers map[string]any

// Lookup returns the recorded value for a parameter as display text.
// Parameters whose answer is split across fields (ph → ph_category,
// ph_value) are resolved through the _category and _value suffixes.
func (a Answers) Lookup(parameter string) (string, bool) {
	if a == nil || parameter == "" {
		return "", false
	}
	for _, key := range []string{parameter, parameter + "_category", parameter + "_value"} {
		if v, ok := formatAnswer(a[key]); ok {
			return v, true
		}
	}
	return "", false
}

// Keys returns the answered fields in sorted order.
func (a Answers) Keys() []string {
	keys := make([]string, 0, len(a))
	for k, v := range a {
		if _, ok := formatAnswer(v); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func formatAnswer(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// StepPayload is one immutable step delivery from the collaborator.
type StepPayload struct {
	SessionID  string
	Parameter  string
	Prompt     string
	HelperText string
	AudioURL   string
	StepNumber int
	TotalSteps int
	IsComplete bool
	HelperMode bool
	Answers    Answers
	// Transcription of a voice answer, when the collaborator reports one.
	ASRText string
}

// HasPrompt reports whether the payload carries a question to display.
func (p StepPayload) HasPrompt() bool {
	return strings.TrimSpace(p.Prompt) != ""
}

// HasHelper reports whether the payload carries helper guidance.
func (p StepPayload) HasHelper() bool {
	return strings.TrimSpace(p.HelperText) != ""
}

// StartSessionRequest is the body of POST /session/start.
type StartSessionRequest struct {
	Language string `json:"language"`
}

// StartSessionResponse is returned by POST /session/start.
type StartSessionResponse struct {
	SessionID  string `json:"session_id" jsonschema:"required,minLength=1"`
	Parameter  string `json:"parameter" jsonschema:"required"`
	Question   string `json:"question" jsonschema:"required"`
	StepNumber int    `json:"step_number" jsonschema:"required,minimum=1"`
	TotalSteps int    `json:"total_steps" jsonschema:"required,minimum=1"`
	AudioURL   string `json:"audio_url,omitempty" jsonschema:"nullable"`
}

// Payload converts the response into a step payload.
func (r StartSessionResponse) Payload() StepPayload {
	return StepPayload{
		SessionID:  r.SessionID,
		Parameter:  r.Parameter,
		Prompt:     r.Question,
		AudioURL:   r.AudioURL,
		StepNumber: r.StepNumber,
		TotalSteps: r.TotalSteps,
	}
}

// Audit carries the collaborator's confidence scores for an answer.
type Audit struct {
	ASRConf       float64 `json:"asr_conf,omitempty"`
	ValidatorConf float64 `json:"validator_conf,omitempty"`
	LLMConf       float64 `json:"llm_conf,omitempty"`
	CombinedConf  float64 `json:"combined_conf,omitempty"`
	ASRText       string  `json:"asr_text,omitempty" jsonschema:"nullable"`
}

// AdvanceSessionResponse is returned by POST /session/next.
type AdvanceSessionResponse struct {
	SessionID  string  `json:"session_id,omitempty"`
	Parameter  string  `json:"parameter" jsonschema:"required"`
	Question   string  `json:"question,omitempty" jsonschema:"nullable"`
	HelperText string  `json:"helper_text,omitempty" jsonschema:"nullable"`
	Answers    Answers `json:"answers" jsonschema:"required"`
	IsComplete bool    `json:"is_complete" jsonschema:"required"`
	StepNumber int     `json:"step_number" jsonschema:"required,minimum=0"`
	TotalSteps int     `json:"total_steps" jsonschema:"required,minimum=1"`
	HelperMode bool    `json:"helper_mode,omitempty"`
	AudioURL   string  `json:"audio_url,omitempty" jsonschema:"nullable"`
	Audit      *Audit  `json:"audit,omitempty" jsonschema:"nullable"`
}

// Payload converts the response into a step payload for sessionID.
func (r AdvanceSessionResponse) Payload(sessionID string) StepPayload {
	p := StepPayload{
		SessionID:  sessionID,
		Parameter:  r.Parameter,
		Prompt:     r.Question,
		HelperText: r.HelperText,
		AudioURL:   r.AudioURL,
		StepNumber: r.StepNumber,
		TotalSteps: r.TotalSteps,
		IsComplete: r.IsComplete,
		HelperMode: r.HelperMode,
		Answers:    r.Answers,
	}
	if r.SessionID != "" {
		p.SessionID = r.SessionID
	}
	if r.Audit != nil {
		p.ASRText = strings.TrimSpace(r.Audit.ASRText)
	}
	return p
}

// SessionStateResponse is returned by GET /session/state/{id}.
type SessionStateResponse struct {
	SessionID        string  `json:"session_id,omitempty"`
	Language         string  `json:"language,omitempty"`
	CurrentParameter string  `json:"current_parameter" jsonschema:"required,nullable"`
	Answers          Answers `json:"answers" jsonschema:"required"`
	StepNumber       int     `json:"step_number" jsonschema:"required,minimum=0"`
	TotalSteps       int     `json:"total_steps" jsonschema:"required,minimum=1"`
	IsComplete       bool    `json:"is_complete" jsonschema:"required"`
}
