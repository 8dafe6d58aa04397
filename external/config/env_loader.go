package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env         string   `env:"ENV" envDefault:"production"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string   `env:"DATABASE_URL"`
	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":3001"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"http://localhost:5173,http://localhost:3000" envSeparator:","`

	SessionDir           string        `env:"SESSION_DIR" envDefault:"sessions"`
	WhatsAppDeviceName   string        `env:"WHATSAPP_DEVICE_NAME" envDefault:"WhatsApp AI Bot"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"3"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	SendRatePerSec       float64       `env:"SEND_RATE_PER_SEC" envDefault:"2"`

	InferenceBackend     string        `env:"INFERENCE_BACKEND" envDefault:"openai"`
	LMStudioURL          string        `env:"LM_STUDIO_URL" envDefault:"http://localhost:1234"`
	LMStudioModel        string        `env:"LM_STUDIO_MODEL" envDefault:"mixtral"`
	LMStudioAPIKey       string        `env:"LM_STUDIO_API_KEY" envDefault:"lm-studio"`
	GeminiAPIKey         string        `env:"GEMINI_API_KEY"`
	GeminiModel          string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	InferenceTimeout     time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"30s"`
	InferenceMaxTokens   int           `env:"INFERENCE_MAX_TOKENS" envDefault:"500"`
	InferenceTemperature float64       `env:"INFERENCE_TEMPERATURE" envDefault:"0.7"`
	ConfidenceFloor      float64       `env:"CONFIDENCE_FLOOR" envDefault:"0.3"`
	HistoryLimit         int           `env:"HISTORY_LIMIT" envDefault:"10"`

	TranscriberBackend         string        `env:"TRANSCRIBER_BACKEND" envDefault:"whisper_cli"`
	WhisperBin                 string        `env:"WHISPER_BIN" envDefault:"whisper"`
	WhisperModel               string        `env:"WHISPER_MODEL" envDefault:"base"`
	WhisperLanguage            string        `env:"WHISPER_LANGUAGE" envDefault:"pt"`
	WhisperTimeout             time.Duration `env:"WHISPER_TIMEOUT" envDefault:"120s"`
	WhisperModelPath           string        `env:"WHISPER_MODEL_PATH"`
	TempDir                    string        `env:"TEMP_DIR" envDefault:"temp"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`

	StatusWebhookURL  string `env:"STATUS_WEBHOOK_URL"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`
}

// Load reads envFile (when present) into the process environment and then
// parses it into a validated Config. A missing envFile is not an error.
func Load(envFile string) (*internalconfig.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		LogLevel:                   raw.LogLevel,
		DatabaseURL:                raw.DatabaseURL,
		HTTPAddr:                   raw.HTTPAddr,
		CORSOrigins:                raw.CORSOrigins,
		SessionDir:                 raw.SessionDir,
		WhatsAppDeviceName:         raw.WhatsAppDeviceName,
		ReconnectMaxAttempts:       raw.ReconnectMaxAttempts,
		ReconnectDelay:             raw.ReconnectDelay,
		SendRatePerSec:             raw.SendRatePerSec,
		InferenceBackend:           raw.InferenceBackend,
		LMStudioURL:                raw.LMStudioURL,
		LMStudioModel:              raw.LMStudioModel,
		LMStudioAPIKey:             raw.LMStudioAPIKey,
		GeminiAPIKey:               raw.GeminiAPIKey,
		GeminiModel:                raw.GeminiModel,
		InferenceTimeout:           raw.InferenceTimeout,
		InferenceMaxTokens:         raw.InferenceMaxTokens,
		InferenceTemperature:       raw.InferenceTemperature,
		ConfidenceFloor:            raw.ConfidenceFloor,
		HistoryLimit:               raw.HistoryLimit,
		TranscriberBackend:         raw.TranscriberBackend,
		WhisperBin:                 raw.WhisperBin,
		WhisperModel:               raw.WhisperModel,
		WhisperLanguage:            raw.WhisperLanguage,
		WhisperTimeout:             raw.WhisperTimeout,
		WhisperModelPath:           raw.WhisperModelPath,
		TempDir:                    raw.TempDir,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		StatusWebhookURL:           raw.StatusWebhookURL,
		DiscordWebhookURL:          raw.DiscordWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
