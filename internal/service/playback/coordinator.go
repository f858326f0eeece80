// Package playback coordinates spoken playback of assistant prompts.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soil-assistant-client/internal/observability/logging"
	"soil-assistant-client/internal/observability/metrics"
)

// State represents the playback state of the attached clip.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for c := StateIdle; c <= StateFailed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown playback state %q", text)
}

// ErrPlaybackFailure wraps load and decode errors reported by a Player.
var ErrPlaybackFailure = errors.New("playback failed")

// Player renders one audio clip on the output device.
type Player interface {
	// Play fetches and renders the clip at url, calling started once sound
	// begins. It blocks until the clip ends, fails, or ctx is cancelled.
	Play(ctx context.Context, url string, started func()) error
}

// Event reports a playback state transition.
type Event struct {
	State State
	URL   string
	Err   error
}

// Listener receives playback events. It is never called with the
// coordinator's lock held.
type Listener func(Event)

// Coordinator owns the audio output and plays at most one clip at a time.
//
// State transitions:
//
//	idle → loading → playing → ended
//	loading | playing → failed
//	any ─ Stop() ─→ idle
//
// A newer Play cancels the current clip; events from the cancelled clip
// are discarded.
type Coordinator struct {
	mu        sync.Mutex
	player    Player
	state     State
	url       string
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	listener  Listener

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates an idle coordinator driving player.
func NewCoordinator(player Player, opts ...Option) *Coordinator {
	c := &Coordinator{
		player:  player,
		state:   StateIdle,
		logger:  logging.WithComponent("playback"),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetListener installs the event listener, replacing any previous one.
func (c *Coordinator) SetListener(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

// State returns the current playback state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the attached clip reference and its state.
func (c *Coordinator) Current() (string, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url, c.state
}

// Play attaches url and starts playback, cancelling any current clip.
// Requesting the clip that is already loading or playing is a no-op.
// It returns false when the request was ignored.
func (c *Coordinator) Play(url string) bool {
	c.mu.Lock()
	if url == "" || (url == c.url && (c.state == StatePlaying || c.state == StateLoading)) {
		c.mu.Unlock()
		c.metrics.RecordPlaybackSkipped()
		return false
	}

	if c.cancel != nil {
		c.cancel()
		if c.state == StateLoading || c.state == StatePlaying {
			c.metrics.RecordPlayback("cancelled", 0)
		}
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.url = url
	c.state = StateLoading
	c.startedAt = time.Now()
	listener := c.listener
	c.mu.Unlock()

	c.logger.Debug().Str("url", url).Msg("Playback loading")
	notify(listener, Event{State: StateLoading, URL: url})

	go c.run(ctx, gen, url, done)
	return true
}

func (c *Coordinator) run(ctx context.Context, gen uint64, url string, done chan struct{}) {
	defer close(done)

	err := c.player.Play(ctx, url, func() {
		c.transition(gen, StatePlaying, nil)
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.transition(gen, StateFailed, fmt.Errorf("%w: %v", ErrPlaybackFailure, err))
		return
	}
	c.transition(gen, StateEnded, nil)
}

func (c *Coordinator) transition(gen uint64, next State, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch next {
	case StatePlaying:
		if c.state != StateLoading {
			c.mu.Unlock()
			return
		}
	case StateEnded, StateFailed:
		if c.state != StateLoading && c.state != StatePlaying {
			c.mu.Unlock()
			return
		}
		c.cancel()
	}
	c.state = next
	url := c.url
	elapsed := time.Since(c.startedAt)
	listener := c.listener
	c.mu.Unlock()

	switch next {
	case StateEnded:
		c.metrics.RecordPlayback("ended", elapsed.Seconds())
		c.logger.Debug().Str("url", url).Dur("elapsed", elapsed).Msg("Playback ended")
	case StateFailed:
		c.metrics.RecordPlayback("failed", elapsed.Seconds())
		c.logger.Warn().Err(err).Str("url", url).Msg("Playback failed, continuing without audio")
	case StatePlaying:
		c.logger.Debug().Str("url", url).Msg("Playback started")
	}
	notify(listener, Event{State: next, URL: url, Err: err})
}

// Stop cancels any clip and forces the coordinator to idle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	prev := c.state
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.state = StateIdle
	c.url = ""
	listener := c.listener
	c.mu.Unlock()

	if prev == StateLoading || prev == StatePlaying {
		c.metrics.RecordPlayback("cancelled", 0)
	}
	if prev != StateIdle {
		notify(listener, Event{State: StateIdle})
	}
}

// Wait blocks until the current clip's goroutine has released the output
// device or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops playback and waits for the output device to be released.
func (c *Coordinator) Close(ctx context.Context) error {
	c.Stop()
	return c.Wait(ctx)
}

func notify(fn Listener, ev Event) {
	if fn != nil {
		fn(ev)
	}
}
