package notifier

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/kuchiguse/internal/notifier"
)

const discordUsername = "kuchiguse"

type DiscordNotifier struct {
	session   *discordgo.Session
	webhookID string
	token     string
}

// NewDiscordNotifier accepts a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscordNotifier(webhookURL string) (*DiscordNotifier, error) {
	id, token, err := parseDiscordWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return &DiscordNotifier{session: s, webhookID: id, token: token}, nil
}

func (n *DiscordNotifier) NotifyStatus(ctx context.Context, change notifier.StatusChange) error {
	_, err := n.session.WebhookExecute(n.webhookID, n.token, false, &discordgo.WebhookParams{
		Username: discordUsername,
		Content:  formatStatusChange(change),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

func formatStatusChange(change notifier.StatusChange) string {
	switch change.Event {
	case notifier.EventQRPending:
		return "📱 QR code aguardando leitura no painel."
	case notifier.EventOnline:
		name := change.DisplayName
		if name == "" {
			name = change.PhoneNumber
		}
		return fmt.Sprintf("✅ Bot online como %s (%s).", name, change.PhoneNumber)
	case notifier.EventOffline:
		if change.Reason != "" {
			return fmt.Sprintf("⚠️ Bot offline (%s).", change.Reason)
		}
		return "⚠️ Bot offline."
	default:
		return string(change.Event)
	}
}

func parseDiscordWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid discord webhook url: missing id or token")
}
