// Package conversation drives a questionnaire session: it applies step
// payloads from the collaborator to the timeline, serializes answer
// submissions, and coordinates prompt playback and voice capture.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/observability/logging"
	"soil-assistant-client/internal/observability/metrics"
	"soil-assistant-client/internal/service/capture"
	"soil-assistant-client/internal/service/gateway"
	"soil-assistant-client/internal/service/playback"
	"soil-assistant-client/internal/service/step"
	"soil-assistant-client/internal/service/timeline"
)

var (
	ErrEmptyInput         = errors.New("empty input")
	ErrSubmissionInFlight = errors.New("submission already in flight")
	ErrNetworkFailure     = errors.New("network failure")
	ErrNoSession          = errors.New("no active session")
	ErrSessionActive      = errors.New("session already active")
	ErrSessionComplete    = errors.New("session is complete")
	ErrSessionReset       = errors.New("session was reset")
)

// Submission kinds, also used as metric labels.
const (
	kindText  = "text"
	kindAudio = "audio"
	kindHelp  = "help"
)

// DefaultHelpPhrases is what RequestHelp sends when no phrase is
// configured for the session language.
var DefaultHelpPhrases = map[string]string{
	"en": "I don't know, I need help",
	"hi": "मदद चाहिए",
}

// Orchestrator owns the session and its timeline.
//
// All orchestrator logic runs under one mutex; the only suspension points
// (collaborator calls, microphone acquisition, clip buffering) happen
// outside it. Every operation captures the session epoch before
// suspending, and a result that returns after Reset has bumped the epoch
// is dropped with ErrSessionReset.
//
// State transitions follow step.Lifecycle:
//
//	AWAITING_FIRST_STEP → STEP_ACTIVE → SUBMITTING → STEP_ACTIVE → … → COMPLETE
type Orchestrator struct {
	mu        sync.Mutex
	gateway   gateway.Gateway
	player    *playback.Coordinator
	recorder  *capture.Recorder
	lifecycle *step.Lifecycle

	labels      timeline.Labels
	ids         *timeline.Generator
	clock       func() time.Time
	helpPhrases map[string]string
	language    string

	session    *Session
	timeline   *timeline.Builder
	starting   bool
	epoch      uint64
	lastPlayed string
	submitted  map[int]string // last typed or transcribed answer per step

	subMu   sync.RWMutex
	subs    map[uint64]Listener
	nextSub uint64

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPlayback attaches the coordinator that owns the audio output.
func WithPlayback(c *playback.Coordinator) Option {
	return func(o *Orchestrator) { o.player = c }
}

// WithRecorder attaches the recorder that owns the microphone.
func WithRecorder(r *capture.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLabels sets the dictionary used to decorate completion entries.
func WithLabels(l timeline.Labels) Option {
	return func(o *Orchestrator) { o.labels = l }
}

// WithHelpPhrases sets the per-language text RequestHelp submits.
func WithHelpPhrases(phrases map[string]string) Option {
	return func(o *Orchestrator) {
		for lang, p := range phrases {
			if strings.TrimSpace(p) != "" {
				o.helpPhrases[lang] = p
			}
		}
	}
}

// WithDefaultLanguage sets the language used when Start is given none.
func WithDefaultLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator in AWAITING_FIRST_STEP. Without WithPlayback
// prompts are acknowledged silently; without WithRecorder voice capture is
// denied.
func New(gw gateway.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:     gw,
		lifecycle:   step.NewLifecycle(),
		labels:      timeline.DefaultLabels(),
		ids:         timeline.NewGenerator(),
		clock:       time.Now,
		helpPhrases: make(map[string]string),
		language:    "en",
		submitted:   make(map[int]string),
		subs:        make(map[uint64]Listener),
		logger:      logging.WithComponent("conversation"),
		metrics:     metrics.DefaultMetrics,
	}
	for lang, p := range DefaultHelpPhrases {
		o.helpPhrases[lang] = p
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.player == nil {
		o.player = playback.NewCoordinator(playback.SilentPlayer{},
			playback.WithLogger(o.logger), playback.WithMetrics(o.metrics))
	}
	if o.recorder == nil {
		o.recorder = capture.NewRecorder(capture.NoMicrophone{},
			capture.WithLogger(o.logger), capture.WithMetrics(o.metrics))
	}
	o.player.SetListener(o.onPlayback)
	o.recorder.SetListener(o.onRecording)
	return o
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it.
func (o *Orchestrator) Subscribe(fn Listener) (unsubscribe func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.nextSub++
	id := o.nextSub
	o.subs[id] = fn
	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, id)
	}
}

// Start opens a session with the collaborator and applies its first step.
// An empty language selects the default. Starting while a session is in
// progress fails with ErrSessionActive; a completed session is replaced.
func (o *Orchestrator) Start(ctx context.Context, language string) (Session, error) {
	lang := o.language
	if strings.TrimSpace(language) != "" {
		parsed, err := models.ParseLanguage(language)
		if err != nil {
			return Session{}, err
		}
		lang = parsed
	}

	o.mu.Lock()
	if o.starting || (o.session != nil && !o.session.Complete) {
		o.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	o.starting = true
	epoch := o.epoch
	o.mu.Unlock()

	started := time.Now()
	resp, err := o.gateway.StartSession(ctx, lang)
	o.metrics.RecordSubmission("start", err, time.Since(started).Seconds())

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		o.metrics.RecordStaleResponse()
		return Session{}, ErrSessionReset
	}
	o.starting = false
	if err != nil {
		o.mu.Unlock()
		o.logger.Warn().Err(err).Str("language", lang).Msg("Failed to start session")
		return Session{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}

	prev := o.lifecycle.State()
	o.session = &Session{ID: resp.SessionID, Language: lang}
	o.timeline = timeline.NewBuilder(
		timeline.WithLabels(o.labels),
		timeline.WithLanguage(lang),
		timeline.WithGenerator(o.ids),
		timeline.WithClock(o.clock),
	)
	o.submitted = make(map[int]string)
	o.lastPlayed = ""
	o.lifecycle.Reset()

	evs, clip := o.applyLocked(resp.Payload())
	evs = append(evs, o.stateEventsLocked(prev)...)
	snap := o.session.snapshot()
	o.mu.Unlock()

	o.metrics.RecordSessionStart()
	sessionLog := logging.WithSession(o.logger, snap.ID, lang)
	sessionLog.Info().
		Int("totalSteps", snap.TotalSteps).
		Msg("Session started")
	o.emit(evs)
	o.play(epoch, clip)
	return snap, nil
}

// OnStepPayload applies a step delivered by the collaborator. A payload is
// a step transition only when its step number moves forward or it marks
// completion; re-deliveries of the current step only contribute helper
// text and playback. A payload addressed to another session is dropped
// with ErrSessionReset.
func (o *Orchestrator) OnStepPayload(p models.StepPayload) error {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	if p.SessionID != "" && p.SessionID != o.session.ID {
		o.mu.Unlock()
		o.metrics.RecordStaleResponse()
		return ErrSessionReset
	}
	epoch := o.epoch
	prev := o.lifecycle.State()
	evs, clip := o.applyLocked(p)
	evs = append(evs, o.stateEventsLocked(prev)...)
	o.mu.Unlock()

	o.emit(evs)
	o.play(epoch, clip)
	return nil
}

// applyLocked folds p into the session and timeline. It returns the events
// to publish and the clip to play, if any.
func (o *Orchestrator) applyLocked(p models.StepPayload) ([]Event, string) {
	s := o.session
	last := s.StepNumber

	advanced := false
	switch {
	case s.Complete:
	case p.IsComplete:
		advanced = true
	case p.StepNumber > last:
		advanced = true
	}

	var evs []Event
	if advanced {
		// Completion of the previous step always precedes the next question.
		if last > 0 {
			if value, ok := o.completionValueLocked(p.Answers, s.Parameter, last); ok {
				if e, ok := o.timeline.AppendCompletion(last, s.Parameter, value); ok {
					evs = append(evs, entryEvent(s.ID, e))
				}
			}
		}

		if p.Parameter != "" {
			s.Parameter = p.Parameter
		}
		if p.StepNumber > 0 {
			s.StepNumber = p.StepNumber
		}
		if p.TotalSteps > 0 {
			s.TotalSteps = p.TotalSteps
		}
		o.lastPlayed = ""

		if p.IsComplete {
			s.Complete = true
			o.lifecycle.Complete()
			o.metrics.RecordSessionEnd(true)
		} else {
			o.lifecycle.Activate()
			if p.HasPrompt() {
				if e, ok := o.timeline.AppendQuestion(s.StepNumber, s.Parameter, p.Prompt, p.AudioURL); ok {
					evs = append(evs, entryEvent(s.ID, e))
				}
			}
		}

		o.metrics.RecordStepAccepted()
		stepLog := logging.WithStep(o.logger, s.ID, s.Parameter, s.StepNumber)
		stepLog.Info().
			Int("totalSteps", s.TotalSteps).
			Bool("complete", s.Complete).
			Msg("Step accepted")
	} else if !p.HasHelper() {
		o.metrics.RecordDuplicatePayload()
		o.logger.Debug().
			Str("sessionId", s.ID).
			Int("step", p.StepNumber).
			Msg("Ignoring re-delivered step payload")
	}

	if p.Answers != nil {
		s.Answers = p.Answers
	}
	s.HelperMode = p.HelperMode

	if p.HasHelper() && !s.Complete {
		e := o.timeline.AppendHelper(s.StepNumber, s.Parameter, p.HelperText, p.AudioURL)
		evs = append(evs, entryEvent(s.ID, e))
	}

	var clip string
	if p.AudioURL != "" && p.AudioURL != o.lastPlayed {
		o.lastPlayed = p.AudioURL
		clip = p.AudioURL
	}
	return evs, clip
}

// completionValueLocked resolves the accepted value for step: the
// collaborator's answer snapshot first, then the last answer submitted on
// that step.
func (o *Orchestrator) completionValueLocked(answers models.Answers, parameter string, stepNumber int) (string, bool) {
	if v, ok := answers.Lookup(parameter); ok {
		return v, true
	}
	v, ok := o.submitted[stepNumber]
	return v, ok && v != ""
}

// SubmitText submits a typed answer. The answer is appended to the
// timeline before the collaborator responds and is kept if the call fails.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		o.metrics.RecordSubmissionRejected("empty_input")
		return ErrEmptyInput
	}
	return o.submit(ctx, kindText, gateway.TextAnswer(text), text)
}

// SubmitAudio submits a recorded answer. A voice placeholder entry is
// appended before the collaborator responds; the transcription, when
// reported, is published as a transcription event.
func (o *Orchestrator) SubmitAudio(ctx context.Context, blob *models.Blob) error {
	if blob.Empty() {
		o.metrics.RecordSubmissionRejected("empty_input")
		return ErrEmptyInput
	}
	return o.submit(ctx, kindAudio, gateway.AudioAnswer(blob), "")
}

// RequestHelp asks the collaborator for guidance on the current parameter.
// It shares the submission guard with answers but appends no user entry;
// the guidance arrives as a helper-only payload.
func (o *Orchestrator) RequestHelp(ctx context.Context) error {
	return o.submit(ctx, kindHelp, gateway.Answer{}, "")
}

func (o *Orchestrator) submit(ctx context.Context, kind string, answer gateway.Answer, text string) error {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		o.metrics.RecordSubmissionRejected("no_session")
		return ErrNoSession
	}
	// The in-flight flag is set before the lock is released so a second
	// submission can never reach the collaborator.
	if err := o.lifecycle.BeginSubmit(); err != nil {
		o.mu.Unlock()
		return o.rejected(err)
	}

	epoch := o.epoch
	s := o.session
	sessionID, stepNumber, parameter := s.ID, s.StepNumber, s.Parameter

	var evs []Event
	var voiceEntryID string
	switch kind {
	case kindText:
		o.submitted[stepNumber] = text
		evs = append(evs, entryEvent(sessionID, o.timeline.AppendUserAnswer(stepNumber, text, false)))
	case kindAudio:
		e := o.timeline.AppendUserAnswer(stepNumber, voicePlaceholder(s.Language), true)
		voiceEntryID = e.ID
		evs = append(evs, entryEvent(sessionID, e))
	case kindHelp:
		answer = gateway.TextAnswer(o.helpPhraseLocked(s.Language))
	}
	evs = append(evs, o.stateEvent(sessionID, step.StateSubmitting))
	o.mu.Unlock()

	o.emit(evs)

	started := time.Now()
	resp, err := o.gateway.AdvanceSession(ctx, sessionID, answer)
	o.metrics.RecordSubmission(kind, err, time.Since(started).Seconds())

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		o.metrics.RecordStaleResponse()
		o.logger.Info().Str("sessionId", sessionID).Str("kind", kind).Msg("Dropping response for discarded session")
		return ErrSessionReset
	}

	if err != nil {
		o.lifecycle.Fail()
		failed := errorEvent(EventSubmissionFailed, sessionID, err)
		failed.Step = stepNumber
		evs = []Event{o.stateEvent(sessionID, o.lifecycle.State()), failed}
		o.mu.Unlock()

		stepLog := logging.WithStep(o.logger, sessionID, parameter, stepNumber)
		stepLog.Warn().
			Err(err).
			Str("kind", kind).
			Msg("Submission failed, answer kept for retry")
		o.emit(evs)
		return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}

	o.lifecycle.Resolve()
	payload := resp.Payload(sessionID)

	evs = nil
	if kind == kindAudio && payload.ASRText != "" {
		o.submitted[stepNumber] = payload.ASRText
		evs = append(evs, Event{
			Kind:      EventTranscription,
			SessionID: sessionID,
			EntryID:   voiceEntryID,
			Text:      payload.ASRText,
			Step:      stepNumber,
		})
	}
	applied, clip := o.applyLocked(payload)
	evs = append(evs, applied...)
	evs = append(evs, o.stateEvent(sessionID, o.lifecycle.State()))
	o.mu.Unlock()

	o.emit(evs)
	o.play(epoch, clip)
	return nil
}

func (o *Orchestrator) rejected(err error) error {
	switch {
	case errors.Is(err, step.ErrSubmissionInFlight):
		o.metrics.RecordSubmissionRejected("in_flight")
		return ErrSubmissionInFlight
	case errors.Is(err, step.ErrComplete):
		o.metrics.RecordSubmissionRejected("complete")
		return ErrSessionComplete
	default:
		o.metrics.RecordSubmissionRejected("no_session")
		return fmt.Errorf("%w: %w", ErrNoSession, err)
	}
}

func (o *Orchestrator) helpPhraseLocked(language string) string {
	if p, ok := o.helpPhrases[language]; ok {
		return p
	}
	return o.helpPhrases["en"]
}

// StartRecording acquires the microphone for a voice answer. It is a no-op
// while already recording.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	if err := o.requireActive(); err != nil {
		return err
	}
	return o.recorder.Start(ctx)
}

// StopRecording finishes the active recording and submits it. When no
// recording is active, a blob held from an earlier failed submission is
// resubmitted. The submitted blob is released once the collaborator
// accepts it.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	if err := o.requireActive(); err != nil {
		return err
	}
	blob, err := o.recorder.Stop()
	if errors.Is(err, capture.ErrNotRecording) {
		if blob = o.recorder.Blob(); blob == nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if err := o.SubmitAudio(ctx, blob); err != nil {
		return err
	}
	// A recording started while the upload was in flight is left alone.
	o.recorder.ClearBlob(blob)
	return nil
}

// ClearRecording discards any recording without submitting it.
func (o *Orchestrator) ClearRecording() {
	o.recorder.Clear()
}

func (o *Orchestrator) requireActive() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.session == nil:
		return ErrNoSession
	case o.session.Complete:
		return ErrSessionComplete
	}
	return nil
}

// Refresh returns the collaborator's view of the session. The timeline is
// not touched.
func (o *Orchestrator) Refresh(ctx context.Context) (models.SessionStateResponse, error) {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return models.SessionStateResponse{}, ErrNoSession
	}
	id, epoch := o.session.ID, o.epoch
	o.mu.Unlock()

	started := time.Now()
	st, err := o.gateway.SessionState(ctx, id)
	o.metrics.RecordSubmission("state", err, time.Since(started).Seconds())
	if err != nil {
		return models.SessionStateResponse{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}

	o.mu.Lock()
	stale := epoch != o.epoch
	o.mu.Unlock()
	if stale {
		o.metrics.RecordStaleResponse()
		return models.SessionStateResponse{}, ErrSessionReset
	}
	return st, nil
}

// Reset discards the session and timeline, stops playback, aborts any
// recording, and abandons in-flight calls. Their results are dropped when
// they arrive.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.epoch++
	prev := o.lifecycle.State()
	var sessionID string
	if s := o.session; s != nil {
		sessionID = s.ID
		if !s.Complete {
			o.metrics.RecordSessionEnd(false)
		}
	}
	o.session = nil
	o.timeline = nil
	o.starting = false
	o.submitted = make(map[int]string)
	o.lastPlayed = ""
	o.lifecycle.Reset()
	o.mu.Unlock()

	o.player.Stop()
	o.recorder.Clear()

	if sessionID != "" {
		o.logger.Info().Str("sessionId", sessionID).Msg("Session reset")
	}
	evs := []Event{{Kind: EventSessionReset, SessionID: sessionID}}
	if prev != step.StateAwaitingFirstStep {
		evs = append(evs, o.stateEvent("", step.StateAwaitingFirstStep))
	}
	o.emit(evs)
}

// Close releases the audio output and microphone.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.Reset()
	if err := o.recorder.Close(); err != nil {
		return err
	}
	return o.player.Close(ctx)
}

// Session returns a snapshot of the active session.
func (o *Orchestrator) Session() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return Session{}, false
	}
	return o.session.snapshot(), true
}

// State returns the orchestrator state.
func (o *Orchestrator) State() step.State {
	return o.lifecycle.State()
}

// Timeline returns a snapshot of the session timeline.
func (o *Orchestrator) Timeline() []timeline.Entry {
	o.mu.Lock()
	b := o.timeline
	o.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Entries()
}

// Entries returns a restartable iterator over the session timeline as it
// stood when Entries was called; entries appended later are visited too.
func (o *Orchestrator) Entries() iter.Seq[timeline.Entry] {
	o.mu.Lock()
	b := o.timeline
	o.mu.Unlock()
	if b == nil {
		return func(func(timeline.Entry) bool) {}
	}
	return b.All()
}

// TimelineSince returns the entries appended after sequence number seq.
func (o *Orchestrator) TimelineSince(seq uint64) []timeline.Entry {
	o.mu.Lock()
	b := o.timeline
	o.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Since(seq)
}

// PlaybackState returns the prompt playback state.
func (o *Orchestrator) PlaybackState() playback.State {
	return o.player.State()
}

// RecordingState returns the voice capture state.
func (o *Orchestrator) RecordingState() capture.State {
	return o.recorder.State()
}

func (o *Orchestrator) onPlayback(ev playback.Event) {
	out := errorEvent(EventPlayback, o.sessionID(), ev.Err)
	out.State = ev.State.String()
	out.URL = ev.URL
	o.emit([]Event{out})
}

func (o *Orchestrator) onRecording(ev capture.Event) {
	out := errorEvent(EventRecording, o.sessionID(), ev.Err)
	out.State = ev.State.String()
	o.emit([]Event{out})
}

func (o *Orchestrator) sessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.ID
}

func (o *Orchestrator) stateEvent(sessionID string, s step.State) Event {
	return Event{Kind: EventStateChanged, SessionID: sessionID, State: s.String()}
}

func (o *Orchestrator) stateEventsLocked(prev step.State) []Event {
	cur := o.lifecycle.State()
	if cur == prev {
		return nil
	}
	id := ""
	if o.session != nil {
		id = o.session.ID
	}
	return []Event{o.stateEvent(id, cur)}
}

// play starts clip unless the session it belongs to was reset meanwhile.
func (o *Orchestrator) play(epoch uint64, clip string) {
	if clip == "" {
		return
	}
	o.mu.Lock()
	current := epoch == o.epoch
	o.mu.Unlock()
	if current {
		o.player.Play(clip)
	}
}

func (o *Orchestrator) emit(evs []Event) {
	if len(evs) == 0 {
		return
	}
	o.subMu.RLock()
	ids := make([]uint64, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]Listener, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, o.subs[id])
	}
	o.subMu.RUnlock()

	for _, ev := range evs {
		if ev.Kind == EventEntryAppended && ev.Entry != nil {
			o.metrics.RecordTimelineEntry(ev.Entry.Kind.String())
		}
		for _, fn := range subs {
			fn(ev)
		}
	}
}
