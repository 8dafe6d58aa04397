package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/transcriber"
)

const (
	whisperHelpTimeout = 5 * time.Second
	// bounds how long a killed whisper's children may hold the output pipes
	whisperWaitDelay  = 2 * time.Second
	voiceNoteFilename = "audio.ogg"
)

type WhisperCLIConfig struct {
	Bin      string
	Model    string
	Language string
	TempDir  string
	Timeout  time.Duration
}

// WhisperCLITranscriber shells out to the openai-whisper command line tool.
type WhisperCLITranscriber struct {
	cfg WhisperCLIConfig
}

func NewWhisperCLITranscriber(cfg WhisperCLIConfig) *WhisperCLITranscriber {
	return &WhisperCLITranscriber{cfg: cfg}
}

func (t *WhisperCLITranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if err := os.MkdirAll(t.cfg.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	workDir, err := os.MkdirTemp(t.cfg.TempDir, "voice-*")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			slog.Warn("failed to remove transcription work dir", "error", err, "dir", workDir)
		}
	}()

	input := filepath.Join(workDir, voiceNoteFilename)
	if err := os.WriteFile(input, audio, 0o600); err != nil {
		return "", fmt.Errorf("write voice note: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.cfg.Bin, input,
		"--model", t.cfg.Model,
		"--language", t.cfg.Language,
		"--output_format", "txt",
		"--output_dir", workDir,
	)
	cmd.WaitDelay = whisperWaitDelay
	started := time.Now()
	if out, err := cmd.CombinedOutput(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", transcriber.ErrUnavailable, err)
		}
		if runCtx.Err() != nil {
			return "", fmt.Errorf("whisper timed out after %s: %w", t.cfg.Timeout, runCtx.Err())
		}
		return "", fmt.Errorf("whisper failed: %w: %s", err, tail(out, 512))
	}
	slog.Debug("whisper finished", "elapsed_ms", time.Since(started).Milliseconds(), "audio_bytes", len(audio))

	text, err := os.ReadFile(filepath.Join(workDir, strings.TrimSuffix(voiceNoteFilename, filepath.Ext(voiceNoteFilename))+".txt"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", transcriber.ErrNoTranscript
		}
		return "", fmt.Errorf("read transcript: %w", err)
	}
	transcript := strings.TrimSpace(string(text))
	if transcript == "" {
		return "", transcriber.ErrNoTranscript
	}
	return transcript, nil
}

func (t *WhisperCLITranscriber) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, whisperHelpTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, t.cfg.Bin, "--help")
	cmd.WaitDelay = whisperWaitDelay
	return cmd.Run() == nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
