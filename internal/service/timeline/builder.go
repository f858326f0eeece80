package timeline

import (
	"iter"
	"strings"
	"sync"
	"time"
)

// Builder appends entries to a session timeline. Entries are never
// mutated or removed once appended.
//
// Dedup rules:
//   - at most one assistant-question entry per step number (which also
//     rejects re-delivery of an identical question);
//   - at most one step-completion entry per step number.
//
// Helper and user-answer entries are never deduplicated.
type Builder struct {
	mu        sync.RWMutex
	entries   []Entry
	questions map[int]string
	completed map[int]bool

	ids      *Generator
	labels   Labels
	language string
	now      func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithLabels decorates completion entries with display values and swatches.
func WithLabels(l Labels) Option {
	return func(b *Builder) { b.labels = l }
}

// WithLanguage sets the language used to pick display values.
func WithLanguage(lang string) Option {
	return func(b *Builder) { b.language = lang }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithGenerator shares an id generator across builders so identifiers stay
// unique for the life of the process.
func WithGenerator(g *Generator) Option {
	return func(b *Builder) { b.ids = g }
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		questions: make(map[int]string),
		completed: make(map[int]bool),
		ids:       NewGenerator(),
		language:  "en",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AppendQuestion appends the assistant question for step. It returns false
// if the step already has a question.
func (b *Builder) AppendQuestion(step int, parameter, text, audioURL string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.questions[step]; ok {
		return Entry{}, false
	}
	b.questions[step] = text
	return b.appendLocked(Entry{
		Kind:       KindAssistantQuestion,
		Text:       text,
		AudioURL:   audioURL,
		StepNumber: step,
		Parameter:  parameter,
	}), true
}

// AppendHelper appends helper guidance for step. Helpers may repeat.
func (b *Builder) AppendHelper(step int, parameter, text, audioURL string) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(Entry{
		Kind:       KindAssistantHelper,
		Text:       text,
		AudioURL:   audioURL,
		StepNumber: step,
		Parameter:  parameter,
	})
}

// AppendUserAnswer appends the user's answer. Voice answers carry a
// placeholder text until the collaborator transcribes them.
func (b *Builder) AppendUserAnswer(step int, text string, isVoice bool) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(Entry{
		Kind:       KindUserAnswer,
		Text:       text,
		IsVoice:    isVoice,
		StepNumber: step,
	})
}

// AppendCompletion appends the completion card for step. It returns false
// if the step was already completed or the value is blank.
func (b *Builder) AppendCompletion(step int, parameter, value string) (Entry, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Entry{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completed[step] {
		return Entry{}, false
	}
	b.completed[step] = true

	display, swatch := b.labels.Decorate(parameter, b.language, value)
	return b.appendLocked(Entry{
		Kind:         KindStepCompletion,
		Text:         value,
		StepNumber:   step,
		Parameter:    parameter,
		Value:        value,
		DisplayValue: display,
		Swatch:       swatch,
	}), true
}

func (b *Builder) appendLocked(e Entry) Entry {
	e.Seq, e.ID = b.ids.Next(e.Kind)
	e.CreatedAt = b.now()
	b.entries = append(b.entries, e)
	return e
}

// HasQuestion reports whether step already has a question entry.
func (b *Builder) HasQuestion(step int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.questions[step]
	return ok
}

// IsCompleted reports whether step already has a completion entry.
func (b *Builder) IsCompleted(step int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.completed[step]
}

// Len returns the number of entries.
func (b *Builder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Entries returns a snapshot copy of the timeline.
func (b *Builder) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// All returns a restartable iterator over the timeline. Entries appended
// while iterating are visited too.
func (b *Builder) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := 0; ; i++ {
			b.mu.RLock()
			if i >= len(b.entries) {
				b.mu.RUnlock()
				return
			}
			e := b.entries[i]
			b.mu.RUnlock()
			if !yield(e) {
				return
			}
		}
	}
}

// Since returns the entries appended after sequence number seq.
func (b *Builder) Since(seq uint64) []Entry {
	var out []Entry
	for e := range b.All() {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
