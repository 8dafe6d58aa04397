// Package bot is the facade the process entrypoint and the dashboard talk to.
// It owns the current-user slot and wires connection events into the
// message pipeline.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/connection"
	"github.com/foxseedlab/kuchiguse/internal/notifier"
	"github.com/foxseedlab/kuchiguse/internal/pipeline"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
)

const diagnosticsTimeout = 5 * time.Second

type Connection interface {
	SetListener(l connection.Listener)
	Run(ctx context.Context)
	Initialize(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ClearSession(ctx context.Context) error
	Close(ctx context.Context) error
	IsConnected() bool
}

type MessageProcessor interface {
	SetCurrentUserFunc(f pipeline.CurrentUserFunc)
	Run(ctx context.Context)
	Enqueue(ctx context.Context, sender pipeline.Sender, batch whatsapp.MessagesUpsert) error
}

// HealthChecker reports whether a backend can currently serve requests.
type HealthChecker interface {
	Available(ctx context.Context) bool
}

type Status struct {
	IsConnected bool
	CurrentUser *repository.User
}

type Diagnostics struct {
	InferenceAvailable   bool
	TranscriberAvailable bool
}

type Service struct {
	conn        Connection
	pipeline    MessageProcessor
	repo        repository.Repository
	notifier    notifier.Notifier
	inference   HealthChecker
	transcriber HealthChecker
	now         func() time.Time

	// slot serializes current-user transitions so the store and memory agree.
	slot        sync.Mutex
	mu          sync.RWMutex
	currentUser *repository.User
	epoch       uint64
}

func NewService(
	conn Connection,
	proc MessageProcessor,
	repo repository.Repository,
	n notifier.Notifier,
	inferenceHealth HealthChecker,
	transcriberHealth HealthChecker,
) *Service {
	s := &Service{
		conn:        conn,
		pipeline:    proc,
		repo:        repo,
		notifier:    n,
		inference:   inferenceHealth,
		transcriber: transcriberHealth,
		now:         time.Now,
	}
	conn.SetListener(s)
	proc.SetCurrentUserFunc(s.CurrentUser)
	return s
}

// Start resets the persisted status left over from a previous process and
// launches the connection and pipeline loops. It does not connect.
func (s *Service) Start(ctx context.Context) error {
	if err := s.repo.UpdateBotStatus(ctx, repository.BotStatusOffline, ""); err != nil {
		return err
	}
	if err := s.repo.SetCurrentUser(ctx, ""); err != nil {
		return err
	}
	go s.conn.Run(ctx)
	go s.pipeline.Run(ctx)
	slog.Info("bot service started")
	return nil
}

func (s *Service) Initialize(ctx context.Context) error {
	return s.conn.Initialize(ctx)
}

func (s *Service) Disconnect(ctx context.Context) error {
	err := s.conn.Disconnect(ctx)
	s.clearCurrentUser(ctx)
	s.notify(ctx, notifier.StatusChange{Event: notifier.EventOffline, Reason: "disconnected"})
	return err
}

func (s *Service) ClearSession(ctx context.Context) error {
	err := s.conn.ClearSession(ctx)
	s.clearCurrentUser(ctx)
	s.notify(ctx, notifier.StatusChange{Event: notifier.EventOffline, Reason: "session_cleared"})
	return err
}

// Shutdown releases the connection on process exit without logging out.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.conn.Close(ctx)
	s.clearCurrentUser(ctx)
	return err
}

func (s *Service) ConnectionStatus() Status {
	return Status{IsConnected: s.conn.IsConnected(), CurrentUser: s.CurrentUser()}
}

// CurrentUser returns a copy of the authenticated user, or nil.
func (s *Service) CurrentUser() *repository.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return nil
	}
	u := *s.currentUser
	return &u
}

func (s *Service) StartupDiagnostics(ctx context.Context) Diagnostics {
	ctx, cancel := context.WithTimeout(ctx, diagnosticsTimeout)
	defer cancel()

	var d Diagnostics
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.InferenceAvailable = s.inference.Available(ctx)
	}()
	go func() {
		defer wg.Done()
		d.TranscriberAvailable = s.transcriber.Available(ctx)
	}()
	wg.Wait()

	if d.InferenceAvailable {
		slog.Info("inference backend available")
	} else {
		slog.Warn("inference backend unavailable; replies will fall back")
	}
	if d.TranscriberAvailable {
		slog.Info("transcription backend available")
	} else {
		slog.Warn("transcription backend unavailable; voice notes will use the placeholder")
	}
	return d
}

func (s *Service) OnQR(ctx context.Context, _ string) {
	s.notify(ctx, notifier.StatusChange{Event: notifier.EventQRPending})
}

func (s *Service) OnOpen(ctx context.Context, identity whatsapp.Identity) {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	user, err := s.repo.FindOrCreateUser(ctx, identity.PhoneKey, identity.DisplayName)
	if err != nil {
		slog.Error("failed to register connected user", "error", err, "phone", identity.PhoneKey)
		return
	}

	s.slot.Lock()
	s.mu.RLock()
	superseded := s.epoch != epoch
	s.mu.RUnlock()
	if superseded || !s.conn.IsConnected() {
		s.slot.Unlock()
		slog.Info("connection closed while registering user; not setting current user", "user_id", user.ID)
		if err := s.repo.MarkUserDisconnected(ctx, user.ID); err != nil {
			slog.Error("failed to mark user disconnected", "error", err, "user_id", user.ID)
		}
		return
	}
	if err := s.repo.SetCurrentUser(ctx, user.ID); err != nil {
		slog.Error("failed to persist current user", "error", err, "user_id", user.ID)
	}
	s.mu.Lock()
	s.currentUser = user
	s.mu.Unlock()
	s.slot.Unlock()

	slog.Info("current user set", "user_id", user.ID, "phone", user.PhoneNumber)
	s.notify(ctx, notifier.StatusChange{
		Event:       notifier.EventOnline,
		PhoneNumber: user.PhoneNumber,
		DisplayName: user.DisplayName,
	})
}

func (s *Service) OnTerminal(ctx context.Context, reason whatsapp.DisconnectReason) {
	s.clearCurrentUser(ctx)
	s.notify(ctx, notifier.StatusChange{Event: notifier.EventOffline, Reason: string(reason)})
}

func (s *Service) OnMessages(ctx context.Context, socket whatsapp.Socket, batch whatsapp.MessagesUpsert) {
	if err := s.pipeline.Enqueue(ctx, socket, batch); err != nil {
		slog.Warn("dropping message batch", "error", err, "count", len(batch.Messages))
	}
}

// clearCurrentUser also invalidates any OnOpen still resolving its user.
func (s *Service) clearCurrentUser(ctx context.Context) {
	s.slot.Lock()
	defer s.slot.Unlock()

	s.mu.Lock()
	prev := s.currentUser
	s.currentUser = nil
	s.epoch++
	s.mu.Unlock()

	if prev != nil {
		if err := s.repo.MarkUserDisconnected(ctx, prev.ID); err != nil {
			slog.Error("failed to mark user disconnected", "error", err, "user_id", prev.ID)
		}
	}
	if err := s.repo.SetCurrentUser(ctx, ""); err != nil {
		slog.Error("failed to clear current user", "error", err)
	}
}

func (s *Service) notify(ctx context.Context, change notifier.StatusChange) {
	change.OccurredAt = s.now()
	if err := s.notifier.NotifyStatus(ctx, change); err != nil {
		slog.Warn("status notification failed", "error", err, "event", change.Event)
	}
}
