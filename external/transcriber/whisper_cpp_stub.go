//go:build !whispercpp

package transcriber

import (
	"context"
	"fmt"

	"github.com/foxseedlab/kuchiguse/internal/audio"
	"github.com/foxseedlab/kuchiguse/internal/transcriber"
)

type unavailableTranscriber struct{}

func NewWhisperCPPTranscriber(_, _ string, _ audio.Decoder) transcriber.Transcriber {
	return unavailableTranscriber{}
}

func (unavailableTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	return "", fmt.Errorf("%w: built without whispercpp tag", transcriber.ErrUnavailable)
}

func (unavailableTranscriber) Available(_ context.Context) bool {
	return false
}
