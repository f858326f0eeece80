package conversation

import (
	"fmt"

	"soil-assistant-client/internal/service/timeline"
)

// EventKind discriminates orchestrator events.
type EventKind int

const (
	EventEntryAppended EventKind = iota
	EventStateChanged
	EventPlayback
	EventRecording
	EventSubmissionFailed
	EventTranscription
	EventSessionReset
)

func (k EventKind) String() string {
	switch k {
	case EventEntryAppended:
		return "entry_appended"
	case EventStateChanged:
		return "state_changed"
	case EventPlayback:
		return "playback"
	case EventRecording:
		return "recording"
	case EventSubmissionFailed:
		return "submission_failed"
	case EventTranscription:
		return "transcription"
	case EventSessionReset:
		return "session_reset"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for c := EventEntryAppended; c <= EventSessionReset; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is delivered to subscribers after the orchestrator's state has
// changed.
//
// Entry is set for entry_appended. State carries the new orchestrator,
// playback or recording state name. EntryID and Text identify the voice
// entry a transcription belongs to.
type Event struct {
	Kind      EventKind       `json:"kind"`
	SessionID string          `json:"sessionId,omitempty"`
	Entry     *timeline.Entry `json:"entry,omitempty"`
	State     string          `json:"state,omitempty"`
	URL       string          `json:"url,omitempty"`
	EntryID   string          `json:"entryId,omitempty"`
	Text      string          `json:"text,omitempty"`
	Step      int             `json:"step,omitempty"`
	Error     string          `json:"error,omitempty"`
	Err       error           `json:"-"`
}

// Listener receives orchestrator events. Listeners are called without the
// orchestrator's lock held, possibly from media goroutines, and must not
// block.
type Listener func(Event)

func entryEvent(sessionID string, e timeline.Entry) Event {
	return Event{Kind: EventEntryAppended, SessionID: sessionID, Entry: &e, Step: e.StepNumber}
}

func errorEvent(kind EventKind, sessionID string, err error) Event {
	ev := Event{Kind: kind, SessionID: sessionID, Err: err}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
