// Package gateway submits answers to the answer-processing service and
// returns the next step.
package gateway

import (
	"context"
	"errors"
	"strings"

	"soil-assistant-client/internal/models"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected collaborator status")
	ErrInvalidPayload   = errors.New("invalid collaborator payload")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidAnswer    = errors.New("exactly one of text or audio must be supplied")
)

// Answer is one submission for the current step. Exactly one of Text and
// Audio is set.
type Answer struct {
	Text  string
	Audio *models.Blob
}

func TextAnswer(text string) Answer {
	return Answer{Text: text}
}

func AudioAnswer(blob *models.Blob) Answer {
	return Answer{Audio: blob}
}

// IsVoice reports whether the answer carries audio.
func (a Answer) IsVoice() bool {
	return a.Audio != nil
}

// Validate enforces that exactly one of text or audio is present.
func (a Answer) Validate() error {
	hasText := strings.TrimSpace(a.Text) != ""
	hasAudio := !a.Audio.Empty()
	if hasText == hasAudio {
		return ErrInvalidAnswer
	}
	return nil
}

// Gateway is the answer-processing collaborator.
type Gateway interface {
	// StartSession opens a session and returns its first step.
	StartSession(ctx context.Context, language string) (models.StartSessionResponse, error)

	// AdvanceSession submits an answer for the current step.
	AdvanceSession(ctx context.Context, sessionID string, answer Answer) (models.AdvanceSessionResponse, error)

	// SessionState returns the collaborator's view of a session.
	SessionState(ctx context.Context, sessionID string) (models.SessionStateResponse, error)
}
