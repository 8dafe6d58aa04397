package inference

import (
	"context"

	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/inference"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (inference.Completer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.InferenceBackend == config.InferenceBackendGemini {
			return NewGeminiCompleter(context.Background(), c.GeminiAPIKey, c.GeminiModel)
		}
		return NewOpenAICompleter(c.LMStudioURL, c.LMStudioAPIKey, c.LMStudioModel), nil
	})
	do.Provide(injector, func(i do.Injector) (*inference.Adapter, error) {
		c := do.MustInvoke[*config.Config](i)
		completer := do.MustInvoke[inference.Completer](i)
		return inference.NewAdapter(completer, inference.AdapterConfig{
			Timeout:      c.InferenceTimeout,
			Temperature:  c.InferenceTemperature,
			MaxTokens:    c.InferenceMaxTokens,
			HistoryLimit: c.HistoryLimit,
		}), nil
	})
}
