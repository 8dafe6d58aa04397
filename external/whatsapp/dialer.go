package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/term"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"
)

const deviceStoreFile = "device.db"

type Dialer struct {
	limiter  *rate.Limiter
	qrOut    io.Writer
	renderQR bool
}

// NewDialer builds a whatsmeow backed dialer. Outbound text is limited to
// sendRatePerSec messages per second; zero or negative disables the limit.
func NewDialer(sendRatePerSec float64, deviceName string) *Dialer {
	limit := rate.Inf
	if sendRatePerSec > 0 {
		limit = rate.Limit(sendRatePerSec)
	}
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}
	return &Dialer{
		limiter:  rate.NewLimiter(limit, 1),
		qrOut:    os.Stdout,
		renderQR: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (d *Dialer) Open(ctx context.Context, opts whatsapp.OpenOptions, handler whatsapp.EventHandler) (whatsapp.Socket, error) {
	dbPath := filepath.Join(opts.SessionDir, deviceStoreFile)
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+dbPath+"?_foreign_keys=on", newLogger("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	client := whatsmeow.NewClient(device, newLogger("client"))
	client.EnableAutoReconnect = false
	client.DisableLoginAutoReconnect = true

	// the socket outlives the ctx it was opened with
	lifeCtx, cancel := context.WithCancel(context.Background())
	s := &socket{
		container: container,
		client:    client,
		handler:   handler,
		limiter:   d.limiter,
		qrOut:     d.qrOut,
		renderQR:  d.renderQR,
		ctx:       lifeCtx,
		cancel:    cancel,
	}
	client.AddEventHandler(s.handleEvent)
	return s, nil
}

type socket struct {
	container *sqlstore.Container
	client    *whatsmeow.Client
	handler   whatsapp.EventHandler
	limiter   *rate.Limiter
	qrOut     io.Writer
	renderQR  bool

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *socket) Connect(_ context.Context) error {
	if s.client.Store.ID == nil {
		qrCh, err := s.client.GetQRChannel(s.ctx)
		if err != nil {
			return fmt.Errorf("failed to get qr channel: %w", err)
		}
		go s.forwardQR(qrCh)
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (s *socket) forwardQR(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		upd, ok := qrUpdate(item)
		if !ok {
			continue
		}
		if upd.QR != "" && s.renderQR {
			qrterminal.GenerateHalfBlock(upd.QR, qrterminal.L, s.qrOut)
		}
		s.emit(upd)
	}
}

func (s *socket) handleEvent(raw any) {
	switch v := raw.(type) {
	case *events.Message:
		msg, ok := convertMessage(v, s.client.Download)
		if !ok {
			slog.Debug("dropping malformed inbound message")
			return
		}
		s.emit(whatsapp.MessagesUpsert{Messages: []whatsapp.InboundMessage{msg}})
	case *events.PairSuccess, *events.PushNameSetting:
		s.emit(whatsapp.CredentialsUpdate{})
	default:
		if upd, ok := connectionUpdate(raw); ok {
			s.emit(upd)
		}
	}
}

// emit forwards at most one close per socket and nothing after it.
func (s *socket) emit(ev whatsapp.Event) {
	if s.closed.Load() {
		return
	}
	if upd, ok := ev.(whatsapp.ConnectionUpdate); ok && upd.Connection == whatsapp.ConnectionClose {
		if !s.closed.CompareAndSwap(false, true) {
			return
		}
	}
	s.handler(ev)
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.client.Disconnect()
		if err := s.container.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close device store: %w", err)
		}
	})
	return s.closeErr
}

func (s *socket) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

func (s *socket) IsLoggedIn() bool {
	return s.client.IsLoggedIn()
}

func (s *socket) Identity() whatsapp.Identity {
	id := s.client.Store.ID
	if id == nil {
		return whatsapp.Identity{}
	}
	return whatsapp.Identity{
		JID:         id.ToNonAD().String(),
		PhoneKey:    id.User,
		DisplayName: s.client.Store.PushName,
	}
}

func (s *socket) SaveCredentials(ctx context.Context) error {
	if s.client.Store.ID == nil {
		return nil
	}
	return s.client.Store.Save(ctx)
}

func (s *socket) SendText(ctx context.Context, chatID, text string) error {
	if !s.client.IsConnected() {
		return whatsapp.ErrNotConnected
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	slog.Debug("message sent", "chat_id", chatID, "message_id", resp.ID)
	return nil
}
