package transcriber

import (
	"github.com/foxseedlab/kuchiguse/internal/audio"
	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		decoder := do.MustInvoke[audio.Decoder](i)
		switch c.TranscriberBackend {
		case config.TranscriberBackendCloudSpeech:
			return NewCloudSpeechTranscriber(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.WhisperLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
				Timeout:         c.WhisperTimeout,
			}, decoder), nil
		case config.TranscriberBackendWhisperCPP:
			return NewWhisperCPPTranscriber(c.WhisperModelPath, c.WhisperLanguage, decoder), nil
		default:
			return NewWhisperCLITranscriber(WhisperCLIConfig{
				Bin:      c.WhisperBin,
				Model:    c.WhisperModel,
				Language: c.WhisperLanguage,
				TempDir:  c.TempDir,
				Timeout:  c.WhisperTimeout,
			}), nil
		}
	})
}
