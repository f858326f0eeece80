package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// defaultStopGrace bounds how long a recorder process may take to flush
// after an interrupt before it is killed.
const defaultStopGrace = 2 * time.Second

// containerTypes are the recording formats the collaborator accepts.
var containerTypes = map[string]bool{
	"audio/wav":  true,
	"audio/webm": true,
	"audio/ogg":  true,
	"audio/mpeg": true,
}

// NegotiateMimeType picks preferred when supported, otherwise fallback.
// Codec parameters ("audio/webm;codecs=opus") are ignored for the check.
func NegotiateMimeType(preferred, fallback string, supported func(string) bool) string {
	if supported == nil {
		supported = func(m string) bool { return containerTypes[m] }
	}
	for _, candidate := range []string{preferred, fallback} {
		base := strings.TrimSpace(candidate)
		if i := strings.IndexByte(base, ';'); i >= 0 {
			base = strings.TrimSpace(base[:i])
		}
		if base != "" && supported(base) {
			return strings.TrimSpace(candidate)
		}
	}
	return "audio/wav"
}

// CommandConfig configures a CommandMicrophone.
type CommandConfig struct {
	Command          string
	Args             []string
	MimeType         string
	FallbackMimeType string
	// StopGrace is the time allowed between interrupt and kill.
	StopGrace time.Duration
}

// CommandMicrophone captures audio from an external recorder process
// (arecord, ffmpeg, sox) writing the container to stdout.
type CommandMicrophone struct {
	cfg  CommandConfig
	mime string
}

func NewCommandMicrophone(cfg CommandConfig) *CommandMicrophone {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "arecord"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &CommandMicrophone{
		cfg:  cfg,
		mime: NegotiateMimeType(cfg.MimeType, cfg.FallbackMimeType, nil),
	}
}

// MimeType returns the negotiated recording format.
func (m *CommandMicrophone) MimeType() string {
	return m.mime
}

// Open starts the recorder process. A missing recorder binary is reported
// as ErrPermissionDenied since the device cannot be reached.
func (m *CommandMicrophone) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(m.cfg.Command); err != nil {
		return nil, fmt.Errorf("%w: %s is required for voice capture: %v", ErrPermissionDenied, m.cfg.Command, err)
	}

	// Not CommandContext: the process outlives the acquisition context.
	cmd := exec.Command(m.cfg.Command, m.cfg.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open %s stdout: %w", m.cfg.Command, err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrPermissionDenied, m.cfg.Command, err)
	}
	return &commandStream{
		cmd:    cmd,
		stdout: stdout,
		mime:   m.mime,
		grace:  m.cfg.StopGrace,
		exited: make(chan struct{}),
	}, nil
}

// commandStream reaps the process once stdout reaches EOF. Wait closes the
// pipe, so it must not run while the reader still has output to drain.
type commandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	mime   string
	grace  time.Duration

	closeOnce sync.Once
	waitOnce  sync.Once
	exited    chan struct{}
}

func (s *commandStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil {
		s.reap()
	}
	return n, err
}

func (s *commandStream) reap() {
	s.waitOnce.Do(func() {
		_ = s.cmd.Wait()
		close(s.exited)
	})
}

// Close interrupts the recorder so it can flush its tail and finalize the
// container. Remaining output stays readable until EOF. A process that has
// not exited within the grace period is killed. Close does not block.
func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.exited:
			return
		default:
		}
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = s.cmd.Process.Kill()
		}
		go func() {
			timer := time.NewTimer(s.grace)
			defer timer.Stop()
			select {
			case <-s.exited:
			case <-timer.C:
				_ = s.cmd.Process.Kill()
				s.reap()
			}
		}()
	})
	return nil
}

func (s *commandStream) MimeType() string {
	return s.mime
}

// NoMicrophone denies every acquisition. It is used when the host has no
// capture device configured.
type NoMicrophone struct{}

func (NoMicrophone) Open(context.Context) (Stream, error) {
	return nil, fmt.Errorf("%w: no capture device configured", ErrPermissionDenied)
}
