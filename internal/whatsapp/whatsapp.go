// Package whatsapp defines the boundary between the messaging socket and the
// rest of the bot. Socket events are converted into the typed values below
// before they reach any business logic.
package whatsapp

import (
	"context"
	"errors"
	"time"
)

var ErrNotConnected = errors.New("whatsapp: socket is not connected")

type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
)

type DisconnectReason string

const (
	ReasonLoggedOut          DisconnectReason = "logged_out"
	ReasonRestartRequired    DisconnectReason = "restart_required"
	ReasonTimedOut           DisconnectReason = "timed_out"
	ReasonConnectionLost     DisconnectReason = "connection_lost"
	ReasonConnectionReplaced DisconnectReason = "connection_replaced"
	ReasonBanned             DisconnectReason = "banned"
	ReasonBadSession         DisconnectReason = "bad_session"
	ReasonUnknown            DisconnectReason = "unknown"
)

type Event interface {
	isEvent()
}

// ConnectionUpdate carries either a pairing QR payload (Connection is
// connecting and QR is set) or a connection state change.
type ConnectionUpdate struct {
	Connection ConnectionState
	QR         string
	Reason     DisconnectReason
	Err        error
}

// CredentialsUpdate signals that the auth credentials changed and should be saved.
type CredentialsUpdate struct{}

type MessagesUpsert struct {
	Messages []InboundMessage
}

func (ConnectionUpdate) isEvent()  {}
func (CredentialsUpdate) isEvent() {}
func (MessagesUpsert) isEvent()    {}

type InboundMessage struct {
	ID        string
	ChatID    string
	SenderID  string
	FromMe    bool
	IsGroup   bool
	PushName  string
	Timestamp time.Time
	Content   Content
}

// Identity is the account authenticated on the socket.
type Identity struct {
	JID         string
	PhoneKey    string
	DisplayName string
}

type EventHandler func(Event)

type OpenOptions struct {
	SessionDir string
	DeviceName string
}

// Socket is one connection attempt. Close releases local resources and
// keeps the credentials; Logout revokes them remotely.
type Socket interface {
	Connect(ctx context.Context) error
	Close() error
	Logout(ctx context.Context) error
	IsLoggedIn() bool
	Identity() Identity
	SaveCredentials(ctx context.Context) error
	SendText(ctx context.Context, chatID, text string) error
}

// Dialer builds a Socket with handler registered. No event is delivered
// before Connect is called on the returned Socket.
type Dialer interface {
	Open(ctx context.Context, opts OpenOptions, handler EventHandler) (Socket, error)
}
