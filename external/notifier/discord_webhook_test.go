package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/kuchiguse/internal/notifier"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestParseDiscordWebhookURL(t *testing.T) {
	id, token, err := parseDiscordWebhookURL("https://discord.com/api/webhooks/123456/abc-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "123456" || token != "abc-token" {
		t.Fatalf("unexpected id/token: %q/%q", id, token)
	}
	if _, _, err := parseDiscordWebhookURL("https://discord.com/api/channels/1"); err == nil {
		t.Fatal("expected error for non-webhook url")
	}
}

func TestDiscordNotifier_ExecutesWebhook(t *testing.T) {
	n, err := NewDiscordNotifier("https://discord.com/api/webhooks/123456/abc-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var params discordgo.WebhookParams
	n.session.Client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", req.Method)
		}
		if !strings.HasSuffix(req.URL.Path, "/webhooks/123456/abc-token") {
			t.Fatalf("unexpected request path: %s", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&params); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Status:     "204 No Content",
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})}

	change := notifier.StatusChange{Event: notifier.EventOnline, PhoneNumber: "5511999999999", DisplayName: "Ana"}
	if err := n.NotifyStatus(context.Background(), change); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Content != "✅ Bot online como Ana (5511999999999)." {
		t.Fatalf("unexpected content: %q", params.Content)
	}
	if params.Username != discordUsername {
		t.Fatalf("unexpected username: %q", params.Username)
	}
}

func TestFormatStatusChange(t *testing.T) {
	tests := []struct {
		change notifier.StatusChange
		want   string
	}{
		{change: notifier.StatusChange{Event: notifier.EventQRPending}, want: "📱 QR code aguardando leitura no painel."},
		{change: notifier.StatusChange{Event: notifier.EventOnline, PhoneNumber: "5511"}, want: "✅ Bot online como 5511 (5511)."},
		{change: notifier.StatusChange{Event: notifier.EventOffline, Reason: "logged_out"}, want: "⚠️ Bot offline (logged_out)."},
		{change: notifier.StatusChange{Event: notifier.EventOffline}, want: "⚠️ Bot offline."},
	}
	for _, tt := range tests {
		if got := formatStatusChange(tt.change); got != tt.want {
			t.Fatalf("formatStatusChange(%+v) = %q, want %q", tt.change, got, tt.want)
		}
	}
}
