package dashboard

import (
	"github.com/foxseedlab/kuchiguse/internal/bot"
	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/logstream"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		c := do.MustInvoke[*config.Config](i)
		svc := do.MustInvoke[*bot.Service](i)
		repo := do.MustInvoke[repository.Repository](i)
		hub := do.MustInvoke[*logstream.Hub](i)
		return NewServer(svc, repo, hub, c.CORSOrigins, c.IsDevelopment()), nil
	})
}
