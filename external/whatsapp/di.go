package whatsapp

import (
	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (whatsapp.Dialer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewDialer(cfg.SendRatePerSec, cfg.WhatsAppDeviceName), nil
	})
}
