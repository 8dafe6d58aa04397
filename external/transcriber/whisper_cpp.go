//go:build whispercpp

package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/foxseedlab/kuchiguse/internal/audio"
	"github.com/foxseedlab/kuchiguse/internal/transcriber"
	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const whisperSampleRate = 16000

// WhisperCPPTranscriber runs whisper.cpp in-process. The model is loaded
// lazily on first use and shared; contexts are per call.
type WhisperCPPTranscriber struct {
	modelPath string
	language  string
	decoder   audio.Decoder

	once    sync.Once
	model   whisper.Model
	loadErr error
	mu      sync.Mutex
}

func NewWhisperCPPTranscriber(modelPath, language string, decoder audio.Decoder) transcriber.Transcriber {
	return &WhisperCPPTranscriber{modelPath: modelPath, language: language, decoder: decoder}
}

func (t *WhisperCPPTranscriber) load() (whisper.Model, error) {
	t.once.Do(func() {
		t.model, t.loadErr = whisper.New(t.modelPath)
	})
	if t.loadErr != nil {
		return nil, fmt.Errorf("%w: load model: %v", transcriber.ErrUnavailable, t.loadErr)
	}
	return t.model, nil
}

func (t *WhisperCPPTranscriber) Transcribe(ctx context.Context, data []byte) (string, error) {
	model, err := t.load()
	if err != nil {
		return "", err
	}
	pcm, err := t.decoder.DecodeOggOpus(data)
	if err != nil {
		if errors.Is(err, audio.ErrDecoderUnavailable) {
			return "", fmt.Errorf("%w: %v", transcriber.ErrUnavailable, err)
		}
		return "", fmt.Errorf("decode voice note: %w", err)
	}
	samples := pcm.Float32(whisperSampleRate)
	if len(samples) == 0 {
		return "", transcriber.ErrNoTranscript
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new whisper context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	wctx.SetThreads(uint(runtime.NumCPU()))
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", transcriber.ErrNoTranscript
	}
	return strings.Join(parts, " "), nil
}

func (t *WhisperCPPTranscriber) Available(_ context.Context) bool {
	_, err := t.load()
	return err == nil
}
