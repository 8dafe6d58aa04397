package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/kuchiguse/internal/audio"
	"github.com/foxseedlab/kuchiguse/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort    = 443
	cloudAvailabilityTimeout = 5 * time.Second
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
	Timeout         time.Duration
}

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	language        string
	location        string
	model           string
	timeout         time.Duration
	decoder         audio.Decoder
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig, decoder audio.Decoder) *CloudSpeechTranscriber {
	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		language:        toBCP47(cfg.Language),
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
		timeout:         cfg.Timeout,
		decoder:         decoder,
	}
}

func (t *CloudSpeechTranscriber) newClient(ctx context.Context) (*speech.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: detect credentials: %v", transcriber.ErrUnavailable, err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}
	return speech.NewClient(ctx, opts...)
}

func (t *CloudSpeechTranscriber) Transcribe(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	client, err := t.newClient(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = client.Close()
	}()

	cfg := &speechpb.RecognitionConfig{
		Model:         t.model,
		LanguageCodes: []string{t.language},
		Features:      &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
	}
	content := data
	pcm, err := t.decoder.DecodeOggOpus(data)
	switch {
	case err == nil:
		cfg.DecodingConfig = &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(pcm.SampleRate),
				AudioChannelCount: 1,
			},
		}
		content = pcm.LittleEndian()
	case errors.Is(err, audio.ErrDecoderUnavailable):
		cfg.DecodingConfig = &speechpb.RecognitionConfig_AutoDecodingConfig{
			AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
		}
	default:
		return "", fmt.Errorf("decode voice note: %w", err)
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer:  fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location),
		Config:      cfg,
		AudioSource: &speechpb.RecognizeRequest_Content{Content: content},
	})
	if err != nil {
		if isUnavailableError(err) {
			return "", fmt.Errorf("%w: %v", transcriber.ErrUnavailable, err)
		}
		return "", err
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		if text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", transcriber.ErrNoTranscript
	}
	slog.Debug("cloud speech recognized voice note", "results", len(parts), "location", t.location, "model", t.model)
	return strings.Join(parts, " "), nil
}

func (t *CloudSpeechTranscriber) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, cloudAvailabilityTimeout)
	defer cancel()
	client, err := t.newClient(ctx)
	if err != nil {
		return false
	}
	_ = client.Close()
	return true
}

func isUnavailableError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// toBCP47 maps whisper's bare language codes onto Cloud Speech locales.
func toBCP47(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "pt":
		return "pt-BR"
	case "en":
		return "en-US"
	case "es":
		return "es-ES"
	}
	return lang
}
