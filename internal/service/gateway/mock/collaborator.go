// Package mock provides a scripted answer-processing collaborator for
// demos and tests. It walks a fixed parameter order, accepts any confident
// answer, and answers help requests with guidance on the same step.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/service/gateway"
)

// Parameter is one scripted question.
type Parameter struct {
	Name      string
	Questions map[string]string // by language
	Hints     map[string]string // helper text by language
	// Spoken is what the scripted transcriber "hears" for a voice answer.
	Spoken string
}

// DefaultParameters is the soil questionnaire in wizard order.
var DefaultParameters = []Parameter{
	{
		Name: "color",
		Questions: map[string]string{
			"en": "What is the color of your soil?",
			"hi": "आपकी मिट्टी का रंग क्या है?",
		},
		Hints: map[string]string{
			"en": "Take a handful of moist soil and compare it in daylight: Black, Red, Brown, Yellow or Grey.",
			"hi": "थोड़ी नम मिट्टी हाथ में लेकर दिन की रोशनी में देखें: काली, लाल, भूरी, पीली या धूसर।",
		},
		Spoken: "Brown",
	},
	{
		Name: "moisture",
		Questions: map[string]string{
			"en": "What is the moisture level of your soil?",
			"hi": "आपकी मिट्टी में नमी का स्तर क्या है?",
		},
		Hints: map[string]string{
			"en": "Squeeze the soil: if water drips it is Wet, if it holds shape it is Moist, if it crumbles it is Dry.",
			"hi": "मिट्टी को दबाएं: पानी टपके तो गीली, आकार बने तो नम, बिखर जाए तो सूखी।",
		},
		Spoken: "Moist",
	},
	{
		Name: "smell",
		Questions: map[string]string{
			"en": "What does your soil smell like?",
			"hi": "आपकी मिट्टी से कैसी गंध आती है?",
		},
		Hints: map[string]string{
			"en": "Healthy soil smells Earthy. A Sour or Rotten smell points to poor drainage.",
			"hi": "स्वस्थ मिट्टी से सोंधी गंध आती है। खट्टी या सड़ी गंध खराब जल निकासी का संकेत है।",
		},
		Spoken: "Earthy",
	},
	{
		Name: "ph",
		Questions: map[string]string{
			"en": "What is the pH level of your soil?",
			"hi": "आपकी मिट्टी का pH स्तर क्या है?",
		},
		Hints: map[string]string{
			"en": "Use a pH strip or kit. You can answer with a number like 6.5 or Acidic, Neutral or Alkaline.",
			"hi": "pH पट्टी या किट का उपयोग करें। 6.5 जैसी संख्या या अम्लीय, उदासीन या क्षारीय बताएं।",
		},
		Spoken: "Neutral",
	},
	{
		Name: "soil_type",
		Questions: map[string]string{
			"en": "What type of soil do you have?",
			"hi": "आपकी मिट्टी किस प्रकार की है?",
		},
		Hints: map[string]string{
			"en": "Rub wet soil between your fingers: gritty is Sandy, sticky is Clay, smooth is Loamy.",
			"hi": "गीली मिट्टी उंगलियों में रगड़ें: किरकिरी रेतीली, चिपचिपी चिकनी, मुलायम दोमट।",
		},
		Spoken: "Loamy",
	},
	{
		Name: "earthworms",
		Questions: map[string]string{
			"en": "Are there earthworms in your soil?",
			"hi": "क्या आपकी मिट्टी में केंचुए हैं?",
		},
		Hints: map[string]string{
			"en": "Dig a small pit one spade deep and count the earthworms you see: Many, Few or None.",
			"hi": "एक फावड़ा गहरा गड्ढा खोदें और केंचुए गिनें: बहुत, कुछ या कोई नहीं।",
		},
		Spoken: "Few",
	},
	{
		Name: "location",
		Questions: map[string]string{
			"en": "Where is your farm located? (village, district, state)",
			"hi": "आपका खेत कहाँ स्थित है? (गाँव, जिला, राज्य)",
		},
		Hints: map[string]string{
			"en": "Tell us the village, district and state where the field is.",
			"hi": "खेत का गाँव, जिला और राज्य बताएं।",
		},
		Spoken: "Nashik, Maharashtra",
	},
	{
		Name: "fertilizer_used",
		Questions: map[string]string{
			"en": "What fertilizers have you used recently?",
			"hi": "आपने हाल ही में कौन सी खाद का उपयोग किया है?",
		},
		Hints: map[string]string{
			"en": "Name any fertilizer or manure used this season, for example Urea, DAP or cow dung.",
			"hi": "इस मौसम में उपयोग की गई खाद बताएं, जैसे यूरिया, डीएपी या गोबर।",
		},
		Spoken: "Urea",
	},
	{
		Name: "name",
		Questions: map[string]string{
			"en": "Finally, what is your name?",
			"hi": "अंत में, आपका नाम क्या है?",
		},
		Hints: map[string]string{
			"en": "Your name is printed on the soil report.",
			"hi": "आपका नाम मिट्टी रिपोर्ट पर छपेगा।",
		},
		Spoken: "Ramesh",
	},
}

// helpMarkers trigger helper mode in addition to the configured phrases.
var helpMarkers = []string{"help", "don't know", "dont know", "not sure", "मदद", "पता नहीं"}

type session struct {
	id       string
	language string
	step     int // index into parameters
	answers  models.Answers
	complete bool
}

// Collaborator implements gateway.Gateway in process.
type Collaborator struct {
	mu          sync.Mutex
	parameters  []Parameter
	helpPhrases []string
	audioBase   string
	latency     time.Duration
	sessions    map[string]*session
	failNext    error
	calls       int
}

// Option configures a Collaborator.
type Option func(*Collaborator)

// WithParameters replaces the scripted questionnaire.
func WithParameters(p []Parameter) Option {
	return func(c *Collaborator) { c.parameters = p }
}

// WithHelpPhrases adds phrases that request guidance instead of answering.
func WithHelpPhrases(phrases ...string) Option {
	return func(c *Collaborator) {
		for _, p := range phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.helpPhrases = append(c.helpPhrases, p)
			}
		}
	}
}

// WithAudioBaseURL makes every question carry a synthesized-speech URL
// under base.
func WithAudioBaseURL(base string) Option {
	return func(c *Collaborator) { c.audioBase = strings.TrimRight(base, "/") }
}

// WithLatency delays every call, honoring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(c *Collaborator) { c.latency = d }
}

func New(opts ...Option) *Collaborator {
	c := &Collaborator{
		parameters:  DefaultParameters,
		helpPhrases: append([]string(nil), helpMarkers...),
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FailNext makes the next call return err.
func (c *Collaborator) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// Calls returns the number of calls served, failed ones included.
func (c *Collaborator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Collaborator) enter(ctx context.Context) error {
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := c.failNext; err != nil {
		c.failNext = nil
		return err
	}
	return nil
}

// StartSession implements gateway.Gateway.
func (c *Collaborator) StartSession(ctx context.Context, language string) (models.StartSessionResponse, error) {
	if err := c.enter(ctx); err != nil {
		return models.StartSessionResponse{}, err
	}
	lang, err := models.ParseLanguage(language)
	if err != nil {
		return models.StartSessionResponse{}, fmt.Errorf("%w %d: %v", gateway.ErrUnexpectedStatus, 422, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := &session{id: uuid.NewString(), language: lang, answers: models.Answers{}}
	c.sessions[s.id] = s

	first := c.parameters[0]
	return models.StartSessionResponse{
		SessionID:  s.id,
		Parameter:  first.Name,
		Question:   first.Questions[lang],
		StepNumber: 1,
		TotalSteps: len(c.parameters),
		AudioURL:   c.audioURL(s, 0),
	}, nil
}

// AdvanceSession implements gateway.Gateway.
func (c *Collaborator) AdvanceSession(ctx context.Context, sessionID string, answer gateway.Answer) (models.AdvanceSessionResponse, error) {
	if err := answer.Validate(); err != nil {
		return models.AdvanceSessionResponse{}, err
	}
	if err := c.enter(ctx); err != nil {
		return models.AdvanceSessionResponse{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return models.AdvanceSessionResponse{}, fmt.Errorf("%w: %s", gateway.ErrSessionNotFound, sessionID)
	}
	if s.complete {
		return c.responseLocked(s, false, ""), nil
	}

	param := c.parameters[s.step]
	text := strings.TrimSpace(answer.Text)
	var audit *models.Audit
	if answer.IsVoice() {
		text = param.Spoken
		audit = &models.Audit{ASRConf: 0.92, CombinedConf: 0.9, ASRText: text}
	}

	if c.isHelpRequest(text) || len([]rune(text)) < 2 {
		resp := c.responseLocked(s, true, param.Hints[s.language])
		resp.Audit = audit
		return resp, nil
	}

	record(s.answers, param.Name, text)
	if s.step == len(c.parameters)-1 {
		s.complete = true
	} else {
		s.step++
	}
	resp := c.responseLocked(s, false, "")
	resp.Audit = audit
	return resp, nil
}

// SessionState implements gateway.Gateway.
func (c *Collaborator) SessionState(ctx context.Context, sessionID string) (models.SessionStateResponse, error) {
	if err := c.enter(ctx); err != nil {
		return models.SessionStateResponse{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return models.SessionStateResponse{}, fmt.Errorf("%w: %s", gateway.ErrSessionNotFound, sessionID)
	}
	return models.SessionStateResponse{
		SessionID:        s.id,
		Language:         s.language,
		CurrentParameter: c.parameters[s.step].Name,
		Answers:          copyAnswers(s.answers),
		StepNumber:       c.stepNumber(s),
		TotalSteps:       len(c.parameters),
		IsComplete:       s.complete,
	}, nil
}

func (c *Collaborator) responseLocked(s *session, helper bool, hint string) models.AdvanceSessionResponse {
	param := c.parameters[s.step]
	resp := models.AdvanceSessionResponse{
		SessionID:  s.id,
		Parameter:  param.Name,
		Answers:    copyAnswers(s.answers),
		IsComplete: s.complete,
		StepNumber: c.stepNumber(s),
		TotalSteps: len(c.parameters),
		HelperMode: helper,
	}
	switch {
	case s.complete:
	case helper:
		resp.HelperText = hint
	default:
		resp.Question = param.Questions[s.language]
		resp.AudioURL = c.audioURL(s, s.step)
	}
	return resp
}

func (c *Collaborator) stepNumber(s *session) int {
	if s.complete {
		return len(c.parameters)
	}
	return s.step + 1
}

func (c *Collaborator) audioURL(s *session, step int) string {
	if c.audioBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s_%s.mp3", c.audioBase, s.id, c.parameters[step].Name, s.language)
}

func (c *Collaborator) isHelpRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range c.helpPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// record stores an answer the way the collaborator splits pH into a
// numeric value or a category.
func record(answers models.Answers, parameter, text string) {
	if parameter != "ph" {
		answers[parameter] = text
		return
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		answers["ph_value"] = v
		return
	}
	answers["ph_category"] = text
}

func copyAnswers(a models.Answers) models.Answers {
	out := make(models.Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
