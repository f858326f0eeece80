package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// maxClipBytes bounds a downloaded speech clip.
const maxClipBytes = 20 << 20

// FFPlayConfig configures FFPlayPlayer.
type FFPlayConfig struct {
	Path         string
	Volume       int
	FetchTimeout time.Duration
	HTTPClient   *http.Client
}

// FFPlayPlayer buffers a server-hosted clip and renders it through ffplay.
// The clip is fully fetched before ffplay starts, so started fires only
// once sound is about to be produced.
type FFPlayPlayer struct {
	cfg FFPlayConfig
}

func NewFFPlayPlayer(cfg FFPlayConfig) *FFPlayPlayer {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "ffplay"
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 80
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &FFPlayPlayer{cfg: cfg}
}

// Play implements Player.
func (p *FFPlayPlayer) Play(ctx context.Context, url string, started func()) error {
	clip, err := p.fetch(ctx, url)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, p.cfg.Path,
		"-nodisp", "-autoexit",
		"-loglevel", "error",
		"-volume", strconv.Itoa(p.cfg.Volume),
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(clip)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Path, err)
	}
	started()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("decode clip: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (p *FFPlayPlayer) fetch(ctx context.Context, url string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build clip request: %w", err)
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch clip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch clip: unexpected status %d", resp.StatusCode)
	}
	clip, err := io.ReadAll(io.LimitReader(resp.Body, maxClipBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	if len(clip) > maxClipBytes {
		return nil, fmt.Errorf("clip exceeds %d bytes", maxClipBytes)
	}
	if len(clip) == 0 {
		return nil, fmt.Errorf("clip is empty")
	}
	return clip, nil
}

// SilentPlayer reports every clip as played instantly. It is used when the
// surrounding UI renders audio itself.
type SilentPlayer struct{}

func (SilentPlayer) Play(ctx context.Context, url string, started func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started()
	return nil
}
