package bot

import (
	"github.com/foxseedlab/kuchiguse/internal/connection"
	"github.com/foxseedlab/kuchiguse/internal/inference"
	"github.com/foxseedlab/kuchiguse/internal/notifier"
	"github.com/foxseedlab/kuchiguse/internal/pipeline"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/foxseedlab/kuchiguse/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		conn := do.MustInvoke[*connection.Manager](i)
		proc := do.MustInvoke[*pipeline.Pipeline](i)
		repo := do.MustInvoke[repository.Repository](i)
		n := do.MustInvoke[notifier.Notifier](i)
		adapter := do.MustInvoke[*inference.Adapter](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		return NewService(conn, proc, repo, n, adapter, stt), nil
	})
}
