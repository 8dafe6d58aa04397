package connection

import (
	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		dialer := do.MustInvoke[whatsapp.Dialer](i)
		repo := do.MustInvoke[repository.Repository](i)
		opts := whatsapp.OpenOptions{SessionDir: cfg.SessionDir, DeviceName: cfg.WhatsAppDeviceName}
		policy := Policy{MaxAttempts: cfg.ReconnectMaxAttempts, Delay: cfg.ReconnectDelay}
		return NewManager(dialer, repo, opts, policy), nil
	})
}
