package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/service/conversation"
	"soil-assistant-client/internal/service/timeline"
)

const defaultRelayBuffer = 256

// Relay forwards appended timeline entries from the orchestrator to the
// publisher. Handle never blocks the orchestrator; entries are queued and
// written by Run.
type Relay struct {
	publisher *Publisher
	queue     chan conversation.Event
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRelay creates a relay with a queue of size buffer (256 when <= 0).
func NewRelay(p *Publisher, buffer int) *Relay {
	if buffer <= 0 {
		buffer = defaultRelayBuffer
	}
	return &Relay{
		publisher: p,
		queue:     make(chan conversation.Event, buffer),
		now:       time.Now,
		logger:    p.logger.With().Str("subcomponent", "relay").Logger(),
	}
}

// Handle is a conversation.Listener. Events other than appended entries are
// ignored. When the queue is full the entry is dropped and logged.
func (r *Relay) Handle(ev conversation.Event) {
	if ev.Kind != conversation.EventEntryAppended || ev.Entry == nil {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn().
			Str("sessionId", ev.SessionID).
			Str("entryId", ev.Entry.ID).
			Msg("Relay queue full, dropping timeline entry")
	}
}

// Run publishes queued entries until ctx is done, then drains what is
// already queued with a short grace period.
func (r *Relay) Run(ctx context.Context) error {
	// A write already started is bounded by the writer's timeout, not ctx.
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case ev := <-r.queue:
			r.publish(writeCtx, ev)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-r.queue:
			r.publish(ctx, ev)
		default:
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev conversation.Event) {
	e := ev.Entry
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = r.now()
	}

	// Errors are logged and counted by the publisher.
	_ = r.publisher.PublishTimelineEntry(ctx, ev.SessionID, models.TimelineEntryEvent{
		EventType:  EventTypeTimelineEntry,
		EventID:    uuid.NewString(),
		SessionID:  ev.SessionID,
		Principal:  r.publisher.Principal(),
		Timestamp:  ts.UnixMilli(),
		EntryID:    e.ID,
		Kind:       e.Kind.String(),
		StepNumber: e.StepNumber,
		Text:       e.Text,
		AudioURL:   e.AudioURL,
		IsVoice:    e.IsVoice,
	})

	if e.Kind != timeline.KindStepCompletion {
		return
	}
	_ = r.publisher.PublishStepCompleted(ctx, ev.SessionID, models.StepCompletedEvent{
		EventType:    EventTypeStepCompleted,
		EventID:      uuid.NewString(),
		SessionID:    ev.SessionID,
		Principal:    r.publisher.Principal(),
		Timestamp:    ts.UnixMilli(),
		StepNumber:   e.StepNumber,
		Parameter:    e.Parameter,
		Value:        e.Value,
		DisplayValue: e.DisplayValue,
	})
}
