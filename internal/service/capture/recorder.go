// Package capture records voice answers from a microphone.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/observability/logging"
	"soil-assistant-client/internal/observability/metrics"
)

// State represents the recorder lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped // stopped with a blob
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for c := StateIdle; c <= StateError; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown recorder state %q", text)
}

var (
	ErrPermissionDenied = errors.New("microphone access denied")
	ErrNotRecording     = errors.New("recorder is not recording")
	ErrRecorderFailure  = errors.New("recorder failure")
	ErrLimitExceeded    = errors.New("recording limit exceeded")
)

// Stream is an acquired microphone track.
type Stream interface {
	io.Reader
	// Close stops the track and releases the device.
	Close() error
	// MimeType is the container format of the bytes produced.
	MimeType() string
}

// Microphone grants access to the capture device.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// Limits bounds a single recording. Zero disables a limit.
type Limits struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
}

// DefaultLimits returns the default per-recording limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 10 * 1024 * 1024, // ~5 minutes at 16kHz 16-bit mono
		MaxDuration:   2 * time.Minute,
	}
}

// Event reports a recorder state transition.
type Event struct {
	State State
	Blob  *models.Blob
	Err   error
}

// Listener receives recorder events outside the recorder's lock.
type Listener func(Event)

// Recorder owns the microphone and buffers one recording at a time.
//
// State transitions:
//
//	idle → recording → stopped
//	idle | recording → error
//	any ─ Clear() ─→ idle
//
// The device stream is held only while recording.
type Recorder struct {
	mu         sync.Mutex
	mic        Microphone
	limits     Limits
	chunkBytes int

	state     State
	acquiring bool
	stopping  bool
	epoch     uint64
	stream    Stream
	done      chan struct{}
	buf       bytes.Buffer
	startedAt time.Time
	blob      *models.Blob
	err       error
	listener  Listener

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithLimits(l Limits) Option {
	return func(r *Recorder) { r.limits = l }
}

// WithChunkBytes sets the read size used when draining the stream.
func WithChunkBytes(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.chunkBytes = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder creates an idle recorder for mic.
func NewRecorder(mic Microphone, opts ...Option) *Recorder {
	r := &Recorder{
		mic:        mic,
		limits:     DefaultLimits(),
		chunkBytes: 3200,
		logger:     logging.WithComponent("capture"),
		metrics:    metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetListener installs the event listener, replacing any previous one.
func (r *Recorder) SetListener(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// State returns the current recorder state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Blob returns the held recording, if any.
func (r *Recorder) Blob() *models.Blob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blob
}

// Err returns the failure that moved the recorder to StateError.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Start acquires the microphone and begins buffering. It is a no-op while
// a recording is active or the device is being acquired. A held blob is
// discarded.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRecording || r.acquiring {
		r.mu.Unlock()
		return nil
	}
	r.acquiring = true
	r.epoch++
	epoch := r.epoch
	r.blob = nil
	r.err = nil
	r.mu.Unlock()

	stream, err := r.mic.Open(ctx)

	r.mu.Lock()
	r.acquiring = false
	if epoch != r.epoch {
		// Cleared while waiting for the device.
		r.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return fmt.Errorf("%w: cleared during acquisition", ErrNotRecording)
	}
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", ErrRecorderFailure, err)
		}
		r.state = StateError
		r.err = err
		listener := r.listener
		r.mu.Unlock()

		r.metrics.RecordRecording("denied", 0, 0)
		r.logger.Warn().Err(err).Msg("Microphone acquisition failed")
		notify(listener, Event{State: StateError, Err: err})
		return err
	}

	done := make(chan struct{})
	r.state = StateRecording
	r.stopping = false
	r.stream = stream
	r.done = done
	r.buf.Reset()
	r.startedAt = time.Now()
	listener := r.listener
	r.mu.Unlock()

	r.logger.Debug().Str("mimeType", stream.MimeType()).Msg("Recording started")
	notify(listener, Event{State: StateRecording})

	go r.drain(epoch, stream, done)
	return nil
}

func (r *Recorder) drain(epoch uint64, stream Stream, done chan struct{}) {
	defer close(done)

	chunk := make([]byte, r.chunkBytes)
	for {
		n, readErr := stream.Read(chunk)

		r.mu.Lock()
		if epoch != r.epoch {
			r.mu.Unlock()
			return
		}
		if n > 0 {
			r.buf.Write(chunk[:n])
		}
		if r.stopping {
			r.mu.Unlock()
			if readErr != nil {
				return
			}
			continue
		}

		var failure error
		switch {
		case r.limits.MaxAudioBytes > 0 && int64(r.buf.Len()) > r.limits.MaxAudioBytes:
			r.metrics.RecordLimitExceeded("audio_bytes")
			failure = fmt.Errorf("%w: %w: max audio bytes %d", ErrRecorderFailure, ErrLimitExceeded, r.limits.MaxAudioBytes)
		case r.limits.MaxDuration > 0 && time.Since(r.startedAt) > r.limits.MaxDuration:
			r.metrics.RecordLimitExceeded("duration")
			failure = fmt.Errorf("%w: %w: max duration %v", ErrRecorderFailure, ErrLimitExceeded, r.limits.MaxDuration)
		case readErr == io.EOF:
			failure = fmt.Errorf("%w: stream ended unexpectedly", ErrRecorderFailure)
		case readErr != nil:
			failure = fmt.Errorf("%w: %w", ErrRecorderFailure, readErr)
		}
		if failure == nil {
			r.mu.Unlock()
			continue
		}

		// The partial buffer is discarded; no blob is produced.
		size := int64(r.buf.Len())
		r.buf.Reset()
		r.state = StateError
		r.err = failure
		r.stream = nil
		listener := r.listener
		r.mu.Unlock()

		_ = stream.Close()
		r.metrics.RecordRecording("failed", size, 0)
		r.logger.Warn().Err(failure).Int64("discardedBytes", size).Msg("Recording aborted")
		notify(listener, Event{State: StateError, Err: failure})
		return
	}
}

// Stop releases the device and finalizes the buffered audio into a blob.
// It fails with ErrNotRecording unless a recording is active.
func (r *Recorder) Stop() (*models.Blob, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.stopping = true
	epoch := r.epoch
	stream := r.stream
	done := r.done
	r.stream = nil
	r.mu.Unlock()

	// Release happens before the blob is handed out.
	_ = stream.Close()
	<-done

	r.mu.Lock()
	if epoch != r.epoch {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()
	blob := &models.Blob{
		Data:     data,
		MimeType: stream.MimeType(),
		Duration: time.Since(r.startedAt),
	}
	r.blob = blob
	r.state = StateStopped
	r.stopping = false
	listener := r.listener
	r.mu.Unlock()

	r.metrics.RecordRecording("stopped", int64(blob.Len()), blob.Duration.Seconds())
	r.logger.Debug().Int("bytes", blob.Len()).Dur("duration", blob.Duration).Msg("Recording stopped")
	notify(listener, Event{State: StateStopped, Blob: blob})
	return blob, nil
}

// Clear discards any held blob or error and returns to idle. An active
// recording is aborted and its device released. Permission is not
// re-requested.
func (r *Recorder) Clear() {
	r.mu.Lock()
	prev := r.state
	r.epoch++
	stream := r.stream
	done := r.done
	r.stream = nil
	r.buf.Reset()
	r.blob = nil
	r.err = nil
	r.stopping = false
	r.state = StateIdle
	listener := r.listener
	r.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
		<-done
		r.metrics.RecordRecording("cleared", 0, 0)
	}
	if prev != StateIdle {
		r.logger.Debug().Str("from", prev.String()).Msg("Recorder cleared")
		notify(listener, Event{State: StateIdle})
	}
}

// ClearBlob discards b once it has been delivered. It is a no-op when the
// recorder has since moved on, such as to a newer recording.
func (r *Recorder) ClearBlob(b *models.Blob) {
	r.mu.Lock()
	if b == nil || r.blob != b || r.state != StateStopped {
		r.mu.Unlock()
		return
	}
	r.epoch++
	r.blob = nil
	r.state = StateIdle
	listener := r.listener
	r.mu.Unlock()

	r.logger.Debug().Int("bytes", b.Len()).Msg("Delivered recording released")
	notify(listener, Event{State: StateIdle})
}

// Close aborts any recording and releases the device.
func (r *Recorder) Close() error {
	r.Clear()
	return nil
}

func notify(fn Listener, ev Event) {
	if fn != nil {
		fn(ev)
	}
}
