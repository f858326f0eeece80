package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/observability/logging"
	"soil-assistant-client/internal/schema"
)

const (
	schemaStartSession   = "start_session"
	schemaAdvanceSession = "advance_session"
	schemaSessionState   = "session_state"

	maxResponseBytes = 4 << 20
	requestIDHeader  = "X-Request-ID"
)

// Config configures the HTTP gateway.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Validate bool
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// Client talks to the collaborator over HTTP: JSON for session start and
// state, multipart for answers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validator  *schema.Validator
	logger     zerolog.Logger
}

// NewClient creates a Client. When cfg.Validate is set, responses are
// checked against schemas reflected from the wire structs before decoding.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid collaborator base url %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	c := &Client{
		baseURL:    base,
		httpClient: httpClient,
		logger:     logging.WithComponent("gateway"),
	}

	if cfg.Validate {
		v := schema.New()
		samples := map[string]any{
			schemaStartSession:   models.StartSessionResponse{},
			schemaAdvanceSession: models.AdvanceSessionResponse{},
			schemaSessionState:   models.SessionStateResponse{},
		}
		for name, sample := range samples {
			if err := v.Register(name, sample); err != nil {
				return nil, err
			}
		}
		c.validator = v
	}
	return c, nil
}

// StartSession implements Gateway.
func (c *Client) StartSession(ctx context.Context, language string) (models.StartSessionResponse, error) {
	var out models.StartSessionResponse

	body, err := json.Marshal(models.StartSessionRequest{Language: language})
	if err != nil {
		return out, fmt.Errorf("encode start request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/start", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	err = c.do(req, schemaStartSession, &out)
	return out, err
}

// AdvanceSession implements Gateway.
func (c *Client) AdvanceSession(ctx context.Context, sessionID string, answer Answer) (models.AdvanceSessionResponse, error) {
	var out models.AdvanceSessionResponse
	if err := answer.Validate(); err != nil {
		return out, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return out, fmt.Errorf("write session_id field: %w", err)
	}
	if answer.IsVoice() {
		fw, err := mw.CreateFormFile("audio_file", answer.Audio.Filename())
		if err != nil {
			return out, fmt.Errorf("create form file: %w", err)
		}
		if _, err := fw.Write(answer.Audio.Data); err != nil {
			return out, fmt.Errorf("write audio data: %w", err)
		}
	} else if err := mw.WriteField("user_text", strings.TrimSpace(answer.Text)); err != nil {
		return out, fmt.Errorf("write user_text field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return out, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/next", &buf)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = c.do(req, schemaAdvanceSession, &out)
	return out, err
}

// SessionState implements Gateway.
func (c *Client) SessionState(ctx context.Context, sessionID string) (models.SessionStateResponse, error) {
	var out models.SessionStateResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/state/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}

	err = c.do(req, schemaSessionState, &out)
	return out, err
}

func (c *Client) do(req *http.Request, schemaName string, out any) error {
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("collaborator request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().
		Str("requestId", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Collaborator call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, snippet(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, snippet(body))
	}

	if c.validator != nil {
		if err := c.validator.Validate(schemaName, body); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
