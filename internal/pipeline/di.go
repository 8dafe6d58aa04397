package pipeline

import (
	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/inference"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/foxseedlab/kuchiguse/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Pipeline, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		adapter := do.MustInvoke[*inference.Adapter](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		return New(repo, adapter, stt, Config{
			ConfidenceFloor: cfg.ConfidenceFloor,
			HistoryLimit:    cfg.HistoryLimit,
		}), nil
	})
}
