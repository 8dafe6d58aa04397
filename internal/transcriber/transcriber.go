package transcriber

import (
	"context"
	"errors"
)

var (
	ErrUnavailable  = errors.New("transcriber: backend unavailable")
	ErrNoTranscript = errors.New("transcriber: no speech detected")
)

// Transcriber turns a voice note (OGG/Opus as delivered by WhatsApp) into text.
// Implementations must release every temporary resource before returning.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Available(ctx context.Context) bool
}
