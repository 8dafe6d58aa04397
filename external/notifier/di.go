package notifier

import (
	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/notifier"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (notifier.Notifier, error) {
		c := do.MustInvoke[*config.Config](i)
		var ns []notifier.Notifier
		if c.StatusWebhookURL != "" {
			ns = append(ns, NewHTTPNotifier(c.StatusWebhookURL))
		}
		if c.DiscordWebhookURL != "" {
			d, err := NewDiscordNotifier(c.DiscordWebhookURL)
			if err != nil {
				return nil, err
			}
			ns = append(ns, d)
		}
		return notifier.Combine(ns...), nil
	})
}
