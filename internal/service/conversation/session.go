package conversation

import "soil-assistant-client/internal/models"

// Session is the orchestrator's view of the active conversation.
type Session struct {
	ID         string         `json:"sessionId"`
	Language   string         `json:"language"`
	Parameter  string         `json:"parameter"`
	StepNumber int            `json:"stepNumber"`
	TotalSteps int            `json:"totalSteps"`
	Complete   bool           `json:"isComplete"`
	HelperMode bool           `json:"helperMode"`
	Answers    models.Answers `json:"answers,omitempty"`
}

func (s *Session) snapshot() Session {
	out := *s
	if s.Answers != nil {
		out.Answers = make(models.Answers, len(s.Answers))
		for k, v := range s.Answers {
			out.Answers[k] = v
		}
	}
	return out
}

var voicePlaceholders = map[string]string{
	"en": "🎤 Processing...",
	"hi": "🎤 प्रोसेसिंग...",
}

func voicePlaceholder(language string) string {
	if p, ok := voicePlaceholders[language]; ok {
		return p
	}
	return voicePlaceholders["en"]
}
