package config

import (
	"fmt"
	"time"
)

const (
	InferenceBackendOpenAI = "openai"
	InferenceBackendGemini = "gemini"

	TranscriberBackendWhisperCLI  = "whisper_cli"
	TranscriberBackendCloudSpeech = "cloud_speech"
	TranscriberBackendWhisperCPP  = "whisper_cpp"
)

type Config struct {
	Env         string
	LogLevel    string
	DatabaseURL string
	HTTPAddr    string
	CORSOrigins []string

	SessionDir           string
	WhatsAppDeviceName   string
	ReconnectMaxAttempts int
	ReconnectDelay       time.Duration
	SendRatePerSec       float64

	InferenceBackend     string
	LMStudioURL          string
	LMStudioModel        string
	LMStudioAPIKey       string
	GeminiAPIKey         string
	GeminiModel          string
	InferenceTimeout     time.Duration
	InferenceMaxTokens   int
	InferenceTemperature float64
	ConfidenceFloor      float64
	HistoryLimit         int

	TranscriberBackend         string
	WhisperBin                 string
	WhisperModel               string
	WhisperLanguage            string
	WhisperTimeout             time.Duration
	WhisperModelPath           string
	TempDir                    string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	StatusWebhookURL  string
	DiscordWebhookURL string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.DatabaseURL == "" && !c.IsDevelopment() {
		return fmt.Errorf("DATABASE_URL is required outside development")
	}
	switch c.InferenceBackend {
	case InferenceBackendOpenAI:
	case InferenceBackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when INFERENCE_BACKEND=gemini")
		}
	default:
		return fmt.Errorf("INFERENCE_BACKEND is invalid: %q", c.InferenceBackend)
	}
	switch c.TranscriberBackend {
	case TranscriberBackendWhisperCLI:
	case TranscriberBackendWhisperCPP:
		if c.WhisperModelPath == "" {
			return fmt.Errorf("WHISPER_MODEL_PATH is required when TRANSCRIBER_BACKEND=whisper_cpp")
		}
	case TranscriberBackendCloudSpeech:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when TRANSCRIBER_BACKEND=cloud_speech")
		}
	default:
		return fmt.Errorf("TRANSCRIBER_BACKEND is invalid: %q", c.TranscriberBackend)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", c.ReconnectMaxAttempts)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("RECONNECT_DELAY must not be negative, got %s", c.ReconnectDelay)
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("CONFIDENCE_FLOOR must be within [0,1], got %v", c.ConfidenceFloor)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.InferenceMaxTokens <= 0 {
		return fmt.Errorf("INFERENCE_MAX_TOKENS must be positive, got %d", c.InferenceMaxTokens)
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive, got %s", c.InferenceTimeout)
	}
	if c.WhisperTimeout <= 0 {
		return fmt.Errorf("WHISPER_TIMEOUT must be positive, got %s", c.WhisperTimeout)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "SESSION_DIR", value: c.SessionDir},
		{name: "LM_STUDIO_URL", value: c.LMStudioURL},
		{name: "LM_STUDIO_MODEL", value: c.LMStudioModel},
		{name: "TEMP_DIR", value: c.TempDir},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ModelName is the model identifier recorded in bot_config.
func (c *Config) ModelName() string {
	if c.InferenceBackend == InferenceBackendGemini {
		return c.GeminiModel
	}
	return c.LMStudioModel
}
