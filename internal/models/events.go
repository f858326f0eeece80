package models

// TimelineEntryEvent is published for every entry appended to a session timeline.
type TimelineEntryEvent struct {
	EventType  string `json:"eventType"`
	EventID    string `json:"eventId"`
	SessionID  string `json:"sessionId"`
	Principal  string `json:"principal"`
	Timestamp  int64  `json:"timestamp"`
	EntryID    string `json:"entryId"`
	Kind       string `json:"kind"`
	StepNumber int    `json:"stepNumber"`
	Text       string `json:"text,omitempty"`
	AudioURL   string `json:"audioUrl,omitempty"`
	IsVoice    bool   `json:"isVoice,omitempty"`
}

// StepCompletedEvent is published when a step's answer is accepted.
type StepCompletedEvent struct {
	EventType    string `json:"eventType"`
	EventID      string `json:"eventId"`
	SessionID    string `json:"sessionId"`
	Principal    string `json:"principal"`
	Timestamp    int64  `json:"timestamp"`
	StepNumber   int    `json:"stepNumber"`
	Parameter    string `json:"parameter"`
	Value        string `json:"value"`
	DisplayValue string `json:"displayValue,omitempty"`
}
