package whatsapp

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

const keepAliveFailureLimit = 3

type downloader func(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)

func closeUpdate(reason whatsapp.DisconnectReason, err error) whatsapp.ConnectionUpdate {
	return whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: reason, Err: err}
}

// connectionUpdate maps whatsmeow lifecycle events. ok is false for events
// that do not change the connection state.
func connectionUpdate(raw any) (whatsapp.ConnectionUpdate, bool) {
	switch v := raw.(type) {
	case *events.Connected:
		return whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionOpen}, true
	case *events.LoggedOut:
		return closeUpdate(whatsapp.ReasonLoggedOut, fmt.Errorf("logged out: %v", v.Reason)), true
	case *events.StreamReplaced:
		return closeUpdate(whatsapp.ReasonConnectionReplaced, errors.New("stream replaced by another client")), true
	case *events.TemporaryBan:
		return closeUpdate(whatsapp.ReasonBanned, fmt.Errorf("temporary ban: %v", v.Code)), true
	case *events.ClientOutdated:
		return closeUpdate(whatsapp.ReasonBadSession, errors.New("client outdated")), true
	case *events.ManualLoginReconnect:
		// the post-pairing restart, surfaced because login auto-reconnect is off
		return closeUpdate(whatsapp.ReasonRestartRequired, nil), true
	case *events.StreamError:
		return closeUpdate(whatsapp.ReasonUnknown, fmt.Errorf("stream error %s", v.Code)), true
	case *events.ConnectFailure:
		return closeUpdate(whatsapp.ReasonConnectionLost, fmt.Errorf("connect failure %v: %s", v.Reason, v.Message)), true
	case *events.Disconnected:
		return closeUpdate(whatsapp.ReasonConnectionLost, nil), true
	case *events.KeepAliveTimeout:
		if v.ErrorCount >= keepAliveFailureLimit {
			return closeUpdate(whatsapp.ReasonTimedOut, fmt.Errorf("%d consecutive keepalive failures", v.ErrorCount)), true
		}
	}
	return whatsapp.ConnectionUpdate{}, false
}

func qrUpdate(item whatsmeow.QRChannelItem) (whatsapp.ConnectionUpdate, bool) {
	switch item.Event {
	case "code":
		if item.Code == "" {
			return whatsapp.ConnectionUpdate{}, false
		}
		return whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionConnecting, QR: item.Code}, true
	case "success":
		return whatsapp.ConnectionUpdate{}, false
	case "timeout":
		return closeUpdate(whatsapp.ReasonTimedOut, errors.New("pairing qr expired")), true
	case "err-client-outdated", "err-scanned-without-multidevice":
		return closeUpdate(whatsapp.ReasonBadSession, fmt.Errorf("pairing failed: %s", item.Event)), true
	default:
		err := item.Error
		if err == nil {
			err = fmt.Errorf("pairing failed: %s", item.Event)
		}
		return closeUpdate(whatsapp.ReasonUnknown, err), true
	}
}

// convertMessage validates an inbound event at the boundary. Events without
// a payload or ID, and status broadcasts, are dropped.
func convertMessage(evt *events.Message, download downloader) (whatsapp.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.ID == "" {
		return whatsapp.InboundMessage{}, false
	}
	if evt.Info.Chat.Server == types.BroadcastServer {
		return whatsapp.InboundMessage{}, false
	}
	return whatsapp.InboundMessage{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.String(),
		SenderID:  evt.Info.Sender.String(),
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
		Content:   convertContent(evt.Message, download),
	}, true
}

func convertContent(msg *waE2E.Message, download downloader) whatsapp.Content {
	switch {
	case msg.GetConversation() != "":
		return whatsapp.TextContent{Text: msg.GetConversation()}
	case msg.GetExtendedTextMessage() != nil:
		return whatsapp.TextContent{Text: msg.GetExtendedTextMessage().GetText(), Extended: true}
	case msg.GetImageMessage() != nil:
		return whatsapp.CaptionContent{Media: whatsapp.MediaImage, Caption: msg.GetImageMessage().GetCaption()}
	case msg.GetVideoMessage() != nil:
		return whatsapp.CaptionContent{Media: whatsapp.MediaVideo, Caption: msg.GetVideoMessage().GetCaption()}
	case msg.GetDocumentMessage() != nil:
		return whatsapp.DocumentContent{FileName: msg.GetDocumentMessage().GetFileName()}
	case msg.GetStickerMessage() != nil:
		return whatsapp.StickerContent{}
	case msg.GetLocationMessage() != nil:
		return whatsapp.LocationContent{Name: msg.GetLocationMessage().GetName()}
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		return whatsapp.AudioContent{
			Voice:   audio.GetPTT(),
			Seconds: audio.GetSeconds(),
			Fetch: func(ctx context.Context) ([]byte, error) {
				return download(ctx, audio)
			},
		}
	default:
		return whatsapp.UnsupportedContent{Kind: "unknown"}
	}
}
