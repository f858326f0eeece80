package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/service/capture"
	"soil-assistant-client/internal/service/conversation"
	"soil-assistant-client/internal/service/timeline"
)

type handlers struct {
	conv           Conversation
	maxUploadBytes int64
	logger         zerolog.Logger
}

type startRequest struct {
	Language string `json:"language"`
}

type answerRequest struct {
	Text string `json:"text"`
}

// sessionView is returned by every mutating endpoint.
type sessionView struct {
	Session   *conversation.Session `json:"session,omitempty"`
	State     string                `json:"state"`
	Playback  string                `json:"playback"`
	Recording string                `json:"recording"`
}

type timelineView struct {
	Entries []timeline.Entry `json:"entries"`
}

type errorView struct {
	Error string `json:"error"`
}

func (h *handlers) view() sessionView {
	v := sessionView{
		State:     h.conv.State().String(),
		Playback:  h.conv.PlaybackState().String(),
		Recording: h.conv.RecordingState().String(),
	}
	if s, ok := h.conv.Session(); ok {
		v.Session = &s
	}
	return v
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if _, err := h.conv.Start(r.Context(), req.Language); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.view())
}

func (h *handlers) getSession(w http.ResponseWriter, _ *http.Request) {
	v := h.view()
	if v.Session == nil {
		h.writeError(w, http.StatusNotFound, conversation.ErrNoSession)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

func (h *handlers) refreshSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.conv.Refresh(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *handlers) getTimeline(w http.ResponseWriter, r *http.Request) {
	entries := h.conv.Timeline()
	if raw := r.URL.Query().Get("since"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("since must be a sequence number"))
			return
		}
		entries = h.conv.TimelineSince(seq)
	}
	if entries == nil {
		entries = []timeline.Entry{}
	}
	h.writeJSON(w, http.StatusOK, timelineView{Entries: entries})
}

func (h *handlers) submitText(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.conv.SubmitText(r.Context(), req.Text); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view())
}

// submitAudio accepts the recording as the raw request body, typed by its
// Content-Type header.
func (h *handlers) submitAudio(w http.ResponseWriter, r *http.Request) {
	mimeType := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if !strings.HasPrefix(mimeType, "audio/") {
		h.writeError(w, http.StatusUnsupportedMediaType, errors.New("content type must be audio/*"))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.conv.SubmitAudio(r.Context(), &models.Blob{Data: data, MimeType: mimeType}); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view())
}

func (h *handlers) requestHelp(w http.ResponseWriter, r *http.Request) {
	if err := h.conv.RequestHelp(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view())
}

func (h *handlers) startRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.conv.StartRecording(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view())
}

func (h *handlers) stopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.conv.StopRecording(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view())
}

func (h *handlers) clearRecording(w http.ResponseWriter, _ *http.Request) {
	h.conv.ClearRecording()
	h.writeJSON(w, http.StatusOK, h.view())
}

func (h *handlers) reset(w http.ResponseWriter, _ *http.Request) {
	h.conv.Reset()
	h.writeJSON(w, http.StatusOK, h.view())
}

// statusFor maps conversation and capture errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyInput),
		errors.Is(err, models.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrSubmissionInFlight),
		errors.Is(err, conversation.ErrSessionActive),
		errors.Is(err, conversation.ErrSessionComplete),
		errors.Is(err, conversation.ErrSessionReset),
		errors.Is(err, capture.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, conversation.ErrNetworkFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn().Err(err).Int("status", status).Msg("Request failed")
	}
	h.writeError(w, status, err)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorView{Error: err.Error()})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
