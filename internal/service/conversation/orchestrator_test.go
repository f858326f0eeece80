package conversation

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/observability/metrics"
	"soil-assistant-client/internal/service/capture"
	"soil-assistant-client/internal/service/gateway"
	"soil-assistant-client/internal/service/gateway/mock"
	"soil-assistant-client/internal/service/playback"
	"soil-assistant-client/internal/service/step"
	"soil-assistant-client/internal/service/timeline"
)

// gatedGateway wraps the scripted collaborator and can hold answers in
// flight until the test releases them.
type gatedGateway struct {
	gateway.Gateway
	gate     chan struct{}
	entered  chan struct{}
	advances int32

	mu      sync.Mutex
	answers []gateway.Answer
}

func newGatedGateway(opts ...mock.Option) *gatedGateway {
	return &gatedGateway{Gateway: mock.New(opts...)}
}

func (g *gatedGateway) hold() {
	g.gate = make(chan struct{})
	g.entered = make(chan struct{}, 4)
}

func (g *gatedGateway) AdvanceSession(ctx context.Context, sessionID string, a gateway.Answer) (models.AdvanceSessionResponse, error) {
	atomic.AddInt32(&g.advances, 1)
	g.mu.Lock()
	g.answers = append(g.answers, a)
	g.mu.Unlock()
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.gate != nil {
		<-g.gate
	}
	return g.Gateway.AdvanceSession(ctx, sessionID, a)
}

func (g *gatedGateway) collaborator() *mock.Collaborator {
	return g.Gateway.(*mock.Collaborator)
}

func (g *gatedGateway) lastAnswer() gateway.Answer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.answers[len(g.answers)-1]
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) listen(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) of(kind EventKind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// urlPlayer records every clip and finishes it immediately.
type urlPlayer struct {
	mu   sync.Mutex
	urls []string
}

func (p *urlPlayer) Play(ctx context.Context, url string, started func()) error {
	p.mu.Lock()
	p.urls = append(p.urls, url)
	p.mu.Unlock()
	started()
	return nil
}

func (p *urlPlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func newTestOrchestrator(gw gateway.Gateway, opts ...Option) (*Orchestrator, *collector) {
	base := []Option{WithLogger(zerolog.Nop()), WithMetrics(testMetrics())}
	o := New(gw, append(base, opts...)...)
	c := &collector{}
	o.Subscribe(c.listen)
	return o, c
}

func kindsOf(entries []timeline.Entry) []timeline.Kind {
	out := make([]timeline.Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func mustStart(t *testing.T, o *Orchestrator) Session {
	t.Helper()
	s, err := o.Start(context.Background(), "en")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func TestScenario_ColorThenMoisture(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())

	s := mustStart(t, o)
	if s.Parameter != "color" || s.StepNumber != 1 || s.TotalSteps != 9 {
		t.Fatalf("unexpected first step %+v", s)
	}
	if o.State() != step.StateStepActive {
		t.Fatalf("expected STEP_ACTIVE, got %v", o.State())
	}

	if err := o.SubmitText(context.Background(), "Black"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	entries := o.Timeline()
	want := []timeline.Kind{
		timeline.KindAssistantQuestion,
		timeline.KindUserAnswer,
		timeline.KindStepCompletion,
		timeline.KindAssistantQuestion,
	}
	got := kindsOf(entries)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if entries[0].Parameter != "color" || entries[1].Text != "Black" {
		t.Errorf("unexpected first entries %+v %+v", entries[0], entries[1])
	}
	done := entries[2]
	if done.StepNumber != 1 || done.Parameter != "color" || done.Value != "Black" {
		t.Errorf("unexpected completion %+v", done)
	}
	if done.Swatch != "#1f1a17" {
		t.Errorf("expected black swatch, got %q", done.Swatch)
	}
	if entries[3].Parameter != "moisture" || entries[3].StepNumber != 2 {
		t.Errorf("unexpected second question %+v", entries[3])
	}

	sess, _ := o.Session()
	if sess.StepNumber != 2 || sess.Parameter != "moisture" {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestOnStepPayload_DuplicateDeliveryIsIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())
	s := mustStart(t, o)

	p := models.StepPayload{
		SessionID:  s.ID,
		Parameter:  "color",
		Prompt:     "What is the color of your soil?",
		StepNumber: 1,
		TotalSteps: 9,
	}
	for i := 0; i < 3; i++ {
		if err := o.OnStepPayload(p); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}

	if n := len(o.Timeline()); n != 1 {
		t.Errorf("expected a single question, got %d entries", n)
	}
}

func TestOnStepPayload_TimelineInvariants(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())
	s := mustStart(t, o)

	steps := []int{1, 2, 2, 3, 3, 3, 5, 4, 5, 6}
	for _, n := range steps {
		err := o.OnStepPayload(models.StepPayload{
			SessionID:  s.ID,
			Parameter:  "p" + string(rune('0'+n)),
			Prompt:     "question " + string(rune('0'+n)),
			StepNumber: n,
			TotalSteps: 9,
			Answers:    models.Answers{"p" + string(rune('0'+n-1)): "v"},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	questions := map[int]int{}
	completions := map[int]int{}
	lastStep := 0
	for e := range o.Entries() {
		if e.StepNumber < lastStep {
			t.Errorf("step order went backwards at %+v", e)
		}
		lastStep = e.StepNumber
		switch e.Kind {
		case timeline.KindAssistantQuestion:
			questions[e.StepNumber]++
		case timeline.KindStepCompletion:
			completions[e.StepNumber]++
		}
	}
	for n, c := range questions {
		if c != 1 {
			t.Errorf("step %d has %d questions", n, c)
		}
	}
	for n, c := range completions {
		if c > 1 {
			t.Errorf("step %d has %d completions", n, c)
		}
	}
	for _, n := range []int{1, 2, 3, 5, 6} {
		if questions[n] != 1 {
			t.Errorf("expected a question for step %d", n)
		}
	}
	if questions[4] != 0 {
		t.Error("a backwards payload must not add a question")
	}
}

func TestOnStepPayload_OtherSession(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())
	mustStart(t, o)

	err := o.OnStepPayload(models.StepPayload{SessionID: "someone-else", StepNumber: 2, Prompt: "q"})
	if !errors.Is(err, ErrSessionReset) {
		t.Errorf("expected ErrSessionReset, got %v", err)
	}
}

func TestSubmitText_EmptyInput(t *testing.T) {
	gw := newGatedGateway()
	o, _ := newTestOrchestrator(gw)
	mustStart(t, o)

	for _, text := range []string{"", "   ", "\t\n"} {
		if err := o.SubmitText(context.Background(), text); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("SubmitText(%q): expected ErrEmptyInput, got %v", text, err)
		}
	}
	if n := len(o.Timeline()); n != 1 {
		t.Errorf("expected no new entries, got %d", n)
	}
	if gw.advances != 0 {
		t.Errorf("expected no collaborator calls, got %d", gw.advances)
	}
}

func TestSubmitAudio_EmptyInput(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())
	mustStart(t, o)

	for _, blob := range []*models.Blob{nil, {MimeType: "audio/wav"}} {
		if err := o.SubmitAudio(context.Background(), blob); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("expected ErrEmptyInput, got %v", err)
		}
	}
}

func TestSubmit_InFlightRejected(t *testing.T) {
	gw := newGatedGateway()
	o, _ := newTestOrchestrator(gw)
	mustStart(t, o)
	gw.hold()

	errc := make(chan error, 1)
	go func() { errc <- o.SubmitText(context.Background(), "Black") }()
	<-gw.entered

	if o.State() != step.StateSubmitting {
		t.Errorf("expected SUBMITTING, got %v", o.State())
	}
	if err := o.SubmitText(context.Background(), "Red"); !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight, got %v", err)
	}
	if err := o.SubmitAudio(context.Background(), &models.Blob{Data: []byte{1}}); !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight for audio, got %v", err)
	}
	if err := o.RequestHelp(context.Background()); !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight for help, got %v", err)
	}

	close(gw.gate)
	if err := <-errc; err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if n := atomic.LoadInt32(&gw.advances); n != 1 {
		t.Errorf("expected exactly one collaborator call, got %d", n)
	}

	users := 0
	for _, e := range o.Timeline() {
		if e.Kind == timeline.KindUserAnswer {
			users++
		}
	}
	if users != 1 {
		t.Errorf("rejected submissions must not append entries, got %d answers", users)
	}
}

func TestSubmit_ConcurrentCallersSingleNetworkCall(t *testing.T) {
	gw := newGatedGateway()
	o, _ := newTestOrchestrator(gw)
	mustStart(t, o)
	gw.hold()

	const callers = 8
	var wg sync.WaitGroup
	var inFlight int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := o.SubmitText(context.Background(), "Black")
			if errors.Is(err, ErrSubmissionInFlight) {
				atomic.AddInt32(&inFlight, 1)
			}
		}()
	}

	<-gw.entered
	// Give the losers time to be rejected before releasing the winner.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&inFlight) < callers-1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(gw.gate)
	wg.Wait()

	if n := atomic.LoadInt32(&inFlight); n != callers-1 {
		t.Errorf("expected %d rejections, got %d", callers-1, n)
	}
	if n := atomic.LoadInt32(&gw.advances); n != 1 {
		t.Errorf("expected one network call, got %d", n)
	}
}

func TestScenario_HelpOnStepThree(t *testing.T) {
	gw := newGatedGateway()
	o, _ := newTestOrchestrator(gw)
	mustStart(t, o)

	for _, a := range []string{"Black", "Moist"} {
		if err := o.SubmitText(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := o.Session()
	if before.StepNumber != 3 {
		t.Fatalf("expected step 3, got %d", before.StepNumber)
	}
	n := len(o.Timeline())

	if err := o.RequestHelp(context.Background()); err != nil {
		t.Fatalf("help: %v", err)
	}

	after, _ := o.Session()
	if after.StepNumber != before.StepNumber || after.TotalSteps != before.TotalSteps {
		t.Errorf("help changed the step: %+v -> %+v", before, after)
	}
	if !after.HelperMode {
		t.Error("expected helper mode")
	}

	added := o.Timeline()[n:]
	if len(added) != 1 || added[0].Kind != timeline.KindAssistantHelper {
		t.Fatalf("expected exactly one helper entry, got %+v", added)
	}
	if added[0].StepNumber != 3 || added[0].Text == "" {
		t.Errorf("unexpected helper entry %+v", added[0])
	}
	if got := gw.lastAnswer().Text; got != DefaultHelpPhrases["en"] {
		t.Errorf("expected the help phrase to be sent, got %q", got)
	}
	if o.State() != step.StateStepActive {
		t.Errorf("expected STEP_ACTIVE after help, got %v", o.State())
	}

	// Helper entries are not deduplicated.
	_ = o.RequestHelp(context.Background())
	helpers := 0
	for _, e := range o.Timeline() {
		if e.Kind == timeline.KindAssistantHelper {
			helpers++
		}
	}
	if helpers != 2 {
		t.Errorf("expected repeated helper entries, got %d", helpers)
	}
}

func TestScenario_NetworkFailureThenRetry(t *testing.T) {
	gw := newGatedGateway()
	o, events := newTestOrchestrator(gw)
	mustStart(t, o)

	boom := errors.New("connection refused")
	gw.collaborator().FailNext(boom)

	err := o.SubmitText(context.Background(), "Red")
	if !errors.Is(err, ErrNetworkFailure) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped network failure, got %v", err)
	}
	if o.State() != step.StateStepActive {
		t.Errorf("expected STEP_ACTIVE after failure, got %v", o.State())
	}
	entries := o.Timeline()
	if last := entries[len(entries)-1]; last.Kind != timeline.KindUserAnswer || last.Text != "Red" {
		t.Errorf("optimistic answer must be kept, got %+v", last)
	}
	if failed := events.of(EventSubmissionFailed); len(failed) != 1 || failed[0].Error == "" {
		t.Errorf("expected one submission_failed event, got %+v", failed)
	}

	if err := o.SubmitText(context.Background(), "Red"); err != nil {
		t.Fatalf("retry should be accepted: %v", err)
	}

	got := kindsOf(o.Timeline())
	want := []timeline.Kind{
		timeline.KindAssistantQuestion,
		timeline.KindUserAnswer,
		timeline.KindUserAnswer,
		timeline.KindStepCompletion,
		timeline.KindAssistantQuestion,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestReset_DropsStaleResponse(t *testing.T) {
	gw := newGatedGateway()
	o, events := newTestOrchestrator(gw)
	mustStart(t, o)
	gw.hold()

	errc := make(chan error, 1)
	go func() { errc <- o.SubmitText(context.Background(), "Black") }()
	<-gw.entered

	o.Reset()
	if o.State() != step.StateAwaitingFirstStep {
		t.Errorf("expected AWAITING_FIRST_STEP, got %v", o.State())
	}
	if o.Timeline() != nil {
		t.Error("reset must discard the timeline")
	}

	close(gw.gate)
	if err := <-errc; !errors.Is(err, ErrSessionReset) {
		t.Errorf("expected ErrSessionReset, got %v", err)
	}
	if _, ok := o.Session(); ok {
		t.Error("a stale response must not revive the session")
	}
	if len(events.of(EventSessionReset)) != 1 {
		t.Error("expected a session_reset event")
	}

	// A new session starts clean.
	gw.gate, gw.entered = nil, nil
	mustStart(t, o)
	if n := len(o.Timeline()); n != 1 {
		t.Errorf("expected only the new first question, got %d entries", n)
	}
}

func TestVoiceSubmission_PlaceholderAndTranscription(t *testing.T) {
	gw := newGatedGateway()
	o, events := newTestOrchestrator(gw)
	mustStart(t, o)

	blob := &models.Blob{Data: []byte("RIFF....WAVE"), MimeType: "audio/wav"}
	if err := o.SubmitAudio(context.Background(), blob); err != nil {
		t.Fatalf("submit audio: %v", err)
	}

	entries := o.Timeline()
	voice := entries[1]
	if voice.Kind != timeline.KindUserAnswer || !voice.IsVoice {
		t.Fatalf("expected voice placeholder, got %+v", voice)
	}
	if voice.Text != "🎤 Processing..." {
		t.Errorf("unexpected placeholder %q", voice.Text)
	}

	tr := events.of(EventTranscription)
	if len(tr) != 1 || tr[0].EntryID != voice.ID || tr[0].Text != "Brown" {
		t.Errorf("expected transcription for %s, got %+v", voice.ID, tr)
	}
	if entries[2].Kind != timeline.KindStepCompletion || entries[2].Value != "Brown" {
		t.Errorf("expected completion with transcribed value, got %+v", entries[2])
	}
	if !gw.lastAnswer().IsVoice() {
		t.Error("expected the blob to be sent as audio")
	}
}

func TestCompletion(t *testing.T) {
	o, events := newTestOrchestrator(newGatedGateway())
	mustStart(t, o)

	answers := []string{"Black", "Moist", "Earthy", "6.5", "Loamy", "Few", "Nashik", "Urea", "Ramesh"}
	for _, a := range answers {
		if err := o.SubmitText(context.Background(), a); err != nil {
			t.Fatalf("answer %q: %v", a, err)
		}
	}

	if o.State() != step.StateComplete {
		t.Fatalf("expected COMPLETE, got %v", o.State())
	}
	s, _ := o.Session()
	if !s.Complete {
		t.Error("expected session complete")
	}

	completions := 0
	questions := 0
	for _, e := range o.Timeline() {
		switch e.Kind {
		case timeline.KindStepCompletion:
			completions++
		case timeline.KindAssistantQuestion:
			questions++
		}
	}
	if completions != 9 || questions != 9 {
		t.Errorf("expected 9 questions and 9 completions, got %d and %d", questions, completions)
	}
	entries := o.Timeline()
	if last := entries[len(entries)-1]; last.Parameter != "name" || last.Value != "Ramesh" {
		t.Errorf("expected final completion for name, got %+v", last)
	}

	if err := o.SubmitText(context.Background(), "more"); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("expected ErrSessionComplete, got %v", err)
	}
	if err := o.StartRecording(context.Background()); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("expected ErrSessionComplete for recording, got %v", err)
	}

	states := events.of(EventStateChanged)
	if last := states[len(states)-1]; last.State != "COMPLETE" {
		t.Errorf("expected final COMPLETE state event, got %+v", last)
	}

	// A completed session may be replaced without reset.
	mustStart(t, o)
	if o.State() != step.StateStepActive {
		t.Errorf("expected STEP_ACTIVE for the new session, got %v", o.State())
	}
}

func TestStart_Guards(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())

	if err := o.SubmitText(context.Background(), "Black"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if err := o.OnStepPayload(models.StepPayload{StepNumber: 1}); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if _, err := o.Start(context.Background(), "fr"); !errors.Is(err, models.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}

	mustStart(t, o)
	if _, err := o.Start(context.Background(), "en"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestStart_NetworkFailure(t *testing.T) {
	gw := newGatedGateway()
	gw.collaborator().FailNext(errors.New("dial tcp: refused"))
	o, _ := newTestOrchestrator(gw)

	if _, err := o.Start(context.Background(), "hi"); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
	// The failed start does not block a retry.
	s, err := o.Start(context.Background(), "hi")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.Language != "hi" {
		t.Errorf("expected hi, got %s", s.Language)
	}
}

func TestPlayback_OncePerStep(t *testing.T) {
	player := &urlPlayer{}
	coord := playback.NewCoordinator(player, playback.WithLogger(zerolog.Nop()), playback.WithMetrics(testMetrics()))
	gw := newGatedGateway(mock.WithAudioBaseURL("http://tts.test"))
	o, events := newTestOrchestrator(gw, WithPlayback(coord))

	s := mustStart(t, o)
	first := "http://tts.test/" + s.ID + "/color_en.mp3"
	waitPlayed(t, player, 1)

	// Re-delivery of the same step does not replay its clip.
	_ = o.OnStepPayload(models.StepPayload{
		SessionID: s.ID, Parameter: "color", Prompt: "What is the color of your soil?",
		StepNumber: 1, TotalSteps: 9, AudioURL: first,
	})

	if err := o.SubmitText(context.Background(), "Black"); err != nil {
		t.Fatal(err)
	}
	waitPlayed(t, player, 2)
	time.Sleep(20 * time.Millisecond)

	urls := player.played()
	if len(urls) != 2 || urls[0] != first || urls[1] != "http://tts.test/"+s.ID+"/moisture_en.mp3" {
		t.Errorf("unexpected playback sequence %v", urls)
	}
	if len(events.of(EventPlayback)) == 0 {
		t.Error("expected playback events to be forwarded")
	}
}

func waitPlayed(t *testing.T, p *urlPlayer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(p.played()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clips, have %v", n, p.played())
}

// chunkMic produces one scripted chunk and then blocks until closed.
type chunkMic struct {
	opens  int32
	closes int32
	chunk  []byte
}

type chunkStream struct {
	mic    *chunkMic
	chunk  []byte
	sent   bool
	closed chan struct{}
	once   sync.Once
}

func (m *chunkMic) Open(ctx context.Context) (capture.Stream, error) {
	atomic.AddInt32(&m.opens, 1)
	return &chunkStream{mic: m, chunk: m.chunk, closed: make(chan struct{})}, nil
}

func (s *chunkStream) Read(p []byte) (int, error) {
	if !s.sent {
		s.sent = true
		return copy(p, s.chunk), nil
	}
	<-s.closed
	return 0, io.ErrClosedPipe
}

func (s *chunkStream) Close() error {
	s.once.Do(func() {
		atomic.AddInt32(&s.mic.closes, 1)
		close(s.closed)
	})
	return nil
}

func (s *chunkStream) MimeType() string { return "audio/wav" }

func TestRecording_StopSubmitsBlob(t *testing.T) {
	mic := &chunkMic{chunk: []byte("RIFFdataWAVE")}
	rec := capture.NewRecorder(mic, capture.WithLogger(zerolog.Nop()), capture.WithMetrics(testMetrics()))
	gw := newGatedGateway()
	o, events := newTestOrchestrator(gw, WithRecorder(rec))
	mustStart(t, o)

	if err := o.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := o.StartRecording(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	if o.RecordingState() != capture.StateRecording {
		t.Fatalf("expected recording, got %v", o.RecordingState())
	}

	// Wait for the chunk to be buffered before stopping.
	time.Sleep(20 * time.Millisecond)
	if err := o.StopRecording(context.Background()); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	sent := gw.lastAnswer()
	if !sent.IsVoice() || string(sent.Audio.Data) != "RIFFdataWAVE" {
		t.Errorf("expected recorded blob to be submitted, got %+v", sent)
	}
	if o.RecordingState() != capture.StateIdle {
		t.Errorf("expected recorder cleared after submission, got %v", o.RecordingState())
	}
	if atomic.LoadInt32(&mic.opens) != 1 || atomic.LoadInt32(&mic.closes) != 1 {
		t.Errorf("expected one acquisition released once, got opens=%d closes=%d", mic.opens, mic.closes)
	}
	if len(events.of(EventRecording)) < 2 {
		t.Error("expected recording events to be forwarded")
	}
}

func TestRecording_FailedSubmissionKeepsBlob(t *testing.T) {
	mic := &chunkMic{chunk: []byte("RIFF")}
	rec := capture.NewRecorder(mic, capture.WithLogger(zerolog.Nop()), capture.WithMetrics(testMetrics()))
	gw := newGatedGateway()
	o, _ := newTestOrchestrator(gw, WithRecorder(rec))
	mustStart(t, o)

	_ = o.StartRecording(context.Background())
	time.Sleep(20 * time.Millisecond)
	gw.collaborator().FailNext(errors.New("timeout"))

	if err := o.StopRecording(context.Background()); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
	if o.RecordingState() != capture.StateStopped || rec.Blob() == nil {
		t.Fatalf("expected the blob to be held for retry, got %v", o.RecordingState())
	}

	if err := o.StopRecording(context.Background()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if atomic.LoadInt32(&mic.opens) != 1 {
		t.Error("resubmission must not reacquire the microphone")
	}
}

func TestRecording_NewRecordingDuringUploadSurvives(t *testing.T) {
	mic := &chunkMic{chunk: []byte("RIFF")}
	rec := capture.NewRecorder(mic, capture.WithLogger(zerolog.Nop()), capture.WithMetrics(testMetrics()))
	gw := newGatedGateway()
	o, _ := newTestOrchestrator(gw, WithRecorder(rec))
	mustStart(t, o)

	_ = o.StartRecording(context.Background())
	time.Sleep(20 * time.Millisecond)
	gw.hold()

	errc := make(chan error, 1)
	go func() { errc <- o.StopRecording(context.Background()) }()
	<-gw.entered

	if err := o.StartRecording(context.Background()); err != nil {
		t.Fatalf("start while uploading: %v", err)
	}
	close(gw.gate)
	if err := <-errc; err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	if o.RecordingState() != capture.StateRecording {
		t.Errorf("the newer recording must keep running, got %v", o.RecordingState())
	}
	if opens, closes := atomic.LoadInt32(&mic.opens), atomic.LoadInt32(&mic.closes); opens != 2 || closes != 1 {
		t.Errorf("expected opens=2 closes=1, got %d %d", opens, closes)
	}
	o.ClearRecording()
}

func TestRecording_PermissionDenied(t *testing.T) {
	o, events := newTestOrchestrator(newGatedGateway())
	mustStart(t, o)

	if err := o.StartRecording(context.Background()); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
	rec := events.of(EventRecording)
	if len(rec) != 1 || rec[0].State != "error" || rec[0].Error == "" {
		t.Errorf("expected one recording error event, got %+v", rec)
	}
	// The conversation continues.
	if err := o.SubmitText(context.Background(), "Black"); err != nil {
		t.Errorf("typed answers must still work: %v", err)
	}
}

func TestReset_ReleasesMedia(t *testing.T) {
	mic := &chunkMic{chunk: []byte("RIFF")}
	rec := capture.NewRecorder(mic, capture.WithLogger(zerolog.Nop()), capture.WithMetrics(testMetrics()))
	o, _ := newTestOrchestrator(newGatedGateway(), WithRecorder(rec))
	mustStart(t, o)

	_ = o.StartRecording(context.Background())
	o.Reset()

	if o.RecordingState() != capture.StateIdle {
		t.Errorf("expected recorder idle, got %v", o.RecordingState())
	}
	if atomic.LoadInt32(&mic.closes) != 1 {
		t.Error("reset must release the microphone")
	}
	if o.PlaybackState() != playback.StateIdle {
		t.Errorf("expected playback idle, got %v", o.PlaybackState())
	}
}

func TestRefresh(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())
	if _, err := o.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}

	mustStart(t, o)
	_ = o.SubmitText(context.Background(), "Black")
	n := len(o.Timeline())

	st, err := o.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentParameter != "moisture" || st.StepNumber != 2 {
		t.Errorf("unexpected state %+v", st)
	}
	if len(o.Timeline()) != n {
		t.Error("refresh must not touch the timeline")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())

	var count int32
	unsubscribe := o.Subscribe(func(Event) { atomic.AddInt32(&count, 1) })
	mustStart(t, o)
	seen := atomic.LoadInt32(&count)
	if seen == 0 {
		t.Fatal("expected events after start")
	}

	unsubscribe()
	_ = o.SubmitText(context.Background(), "Black")
	if atomic.LoadInt32(&count) != seen {
		t.Error("unsubscribed listener was called")
	}
}

func TestEntries_Restartable(t *testing.T) {
	o, _ := newTestOrchestrator(newGatedGateway())
	for range o.Entries() {
		t.Fatal("no entries expected before start")
	}

	mustStart(t, o)
	_ = o.SubmitText(context.Background(), "Black")

	seq := o.Entries()
	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 4 || second != first {
		t.Errorf("expected repeatable traversal of 4 entries, got %d and %d", first, second)
	}
	if since := o.TimelineSince(2); len(since) != 2 {
		t.Errorf("expected 2 entries after seq 2, got %d", len(since))
	}
}

func TestEventKind_String(t *testing.T) {
	if EventSessionReset.String() != "session_reset" || EventKind(42).String() != "unknown(42)" {
		t.Error("unexpected event kind strings")
	}
}
