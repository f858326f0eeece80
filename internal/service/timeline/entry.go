// Package timeline builds the append-only message history shown to the user.
package timeline

import (
	"fmt"
	"time"
)

// Kind discriminates timeline entries.
type Kind int

const (
	KindAssistantQuestion Kind = iota
	KindAssistantHelper
	KindUserAnswer
	KindStepCompletion
)

func (k Kind) String() string {
	switch k {
	case KindAssistantQuestion:
		return "assistant_question"
	case KindAssistantHelper:
		return "assistant_helper"
	case KindUserAnswer:
		return "user_answer"
	case KindStepCompletion:
		return "step_completion"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for c := KindAssistantQuestion; c <= KindStepCompletion; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown entry kind %q", text)
}

// Entry is one immutable timeline message.
//
// StepNumber is the step the entry belongs to. Parameter, Value,
// DisplayValue and Swatch are only set on step-completion entries
// (Parameter is also set on questions and helpers for context).
type Entry struct {
	ID           string    `json:"id"`
	Seq          uint64    `json:"seq"`
	Kind         Kind      `json:"kind"`
	Text         string    `json:"text,omitempty"`
	AudioURL     string    `json:"audioUrl,omitempty"`
	IsVoice      bool      `json:"isVoice,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StepNumber   int       `json:"stepNumber"`
	Parameter    string    `json:"parameter,omitempty"`
	Value        string    `json:"value,omitempty"`
	DisplayValue string    `json:"displayValue,omitempty"`
	Swatch       string    `json:"swatch,omitempty"`
}
