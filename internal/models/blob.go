package models

import (
	"strings"
	"time"
)

// Blob is a finished voice recording ready for submission.
type Blob struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Len returns the number of audio bytes held.
func (b *Blob) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Empty reports whether the blob carries no audio.
func (b *Blob) Empty() bool {
	return b.Len() == 0
}

// Filename returns the multipart filename the collaborator expects for
// the blob's container format.
func (b *Blob) Filename() string {
	mime := ""
	if b != nil {
		mime = b.MimeType
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch strings.TrimSpace(mime) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mpeg":
		return "audio.mp3"
	default:
		return "audio.webm"
	}
}
