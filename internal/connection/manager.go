package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
)

const eventQueueSize = 256

type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateQRPending       State = "qr_pending"
	StateOpen            State = "open"
	StateClosed          State = "closed"
	StateReconnecting    State = "reconnecting"
	StateTerminalOffline State = "terminal_offline"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Listener receives the transitions the owner of the session cares about.
// Callbacks run on the manager's event loop and must not call back into
// Initialize, Disconnect or ClearSession synchronously.
type Listener interface {
	OnQR(ctx context.Context, qr string)
	OnOpen(ctx context.Context, identity whatsapp.Identity)
	OnTerminal(ctx context.Context, reason whatsapp.DisconnectReason)
	OnMessages(ctx context.Context, socket whatsapp.Socket, batch whatsapp.MessagesUpsert)
}

type envelope struct {
	generation uint64
	event      whatsapp.Event
}

type Manager struct {
	dialer whatsapp.Dialer
	status repository.BotConfigRepository
	opts   whatsapp.OpenOptions
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error

	events  chan envelope
	stopped chan struct{}

	mu              sync.Mutex
	listener        Listener
	socket          whatsapp.Socket
	generation      uint64
	state           State
	attempts        int
	reconnecting    bool
	cancelReconnect context.CancelFunc
}

func NewManager(dialer whatsapp.Dialer, status repository.BotConfigRepository, opts whatsapp.OpenOptions, policy Policy) *Manager {
	return &Manager{
		dialer:  dialer,
		status:  status,
		opts:    opts,
		policy:  policy,
		sleep:   sleepContext,
		events:  make(chan envelope, eventQueueSize),
		stopped: make(chan struct{}),
		state:   StateIdle,
	}
}

func (m *Manager) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// Run consumes socket events until ctx is done. Reconnects scheduled from
// here inherit ctx.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.stopped)
	slog.Info("connection event loop started")
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.cancelReconnect != nil {
				m.cancelReconnect()
			}
			m.mu.Unlock()
			slog.Info("connection event loop stopped")
			return
		case env := <-m.events:
			m.dispatch(ctx, env)
		}
	}
}

func (m *Manager) enqueue(generation uint64, ev whatsapp.Event) {
	select {
	case m.events <- envelope{generation: generation, event: ev}:
	case <-m.stopped:
	}
}

// Initialize opens a new socket with the persisted credentials, or starts
// pairing when none exist. Any previous socket is released first.
func (m *Manager) Initialize(ctx context.Context) error {
	_, err := m.initialize(ctx)
	return err
}

func (m *Manager) initialize(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	m.stopReconnectLocked()
	prev := m.socket
	m.socket = nil
	m.generation++
	gen := m.generation
	m.state = StateConnecting
	m.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			slog.Warn("failed to release previous socket", "error", err)
		}
	}
	m.setStatus(ctx, repository.BotStatusConnecting, "")

	if err := os.MkdirAll(m.opts.SessionDir, 0o700); err != nil {
		m.failInitialize(ctx, gen)
		return gen, fmt.Errorf("create session dir: %w", err)
	}
	sock, err := m.dialer.Open(ctx, m.opts, func(ev whatsapp.Event) {
		m.enqueue(gen, ev)
	})
	if err != nil {
		m.failInitialize(ctx, gen)
		return gen, fmt.Errorf("open socket: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		slog.Info("socket superseded before connect; releasing", "generation", gen)
		return gen, sock.Close()
	}
	m.socket = sock
	m.mu.Unlock()

	if err := sock.Connect(ctx); err != nil {
		m.mu.Lock()
		if m.socket == sock {
			m.socket = nil
		}
		m.mu.Unlock()
		_ = sock.Close()
		m.failInitialize(ctx, gen)
		return gen, fmt.Errorf("connect socket: %w", err)
	}
	slog.Info("socket connecting", "generation", gen, "session_dir", m.opts.SessionDir)
	return gen, nil
}

func (m *Manager) failInitialize(ctx context.Context, gen uint64) {
	m.mu.Lock()
	current := gen == m.generation
	if current {
		m.state = StateClosed
	}
	m.mu.Unlock()
	if current {
		m.setStatus(ctx, repository.BotStatusError, "")
	}
}

// ClearSession releases the socket without logging out, deletes every
// credential file and leaves the manager offline. It is idempotent.
func (m *Manager) ClearSession(ctx context.Context) error {
	sock := m.detach(StateTerminalOffline)
	if sock != nil {
		if err := sock.Close(); err != nil {
			slog.Warn("failed to release socket during session clear", "error", err)
		}
	}
	err := m.removeCredentials()
	m.setStatus(ctx, repository.BotStatusOffline, "")
	if err != nil {
		return err
	}
	slog.Info("session cleared", "session_dir", m.opts.SessionDir)
	return nil
}

// Disconnect logs out of the remote session when authenticated and releases
// the socket.
func (m *Manager) Disconnect(ctx context.Context) error {
	sock := m.detach(StateTerminalOffline)
	var err error
	if sock != nil {
		if sock.IsLoggedIn() {
			if lerr := sock.Logout(ctx); lerr != nil {
				err = fmt.Errorf("logout: %w", lerr)
			}
		}
		if cerr := sock.Close(); cerr != nil {
			slog.Warn("failed to release socket during disconnect", "error", cerr)
		}
	}
	m.setStatus(ctx, repository.BotStatusOffline, "")
	return err
}

// Close releases the socket but keeps the remote session and stored
// credentials, so the next process resumes without pairing again.
func (m *Manager) Close(ctx context.Context) error {
	sock := m.detach(StateTerminalOffline)
	var err error
	if sock != nil {
		err = sock.Close()
	}
	m.setStatus(ctx, repository.BotStatusOffline, "")
	return err
}

// detach invalidates the current generation, cancels any pending reconnect
// and hands back the socket for the caller to release.
func (m *Manager) detach(next State) whatsapp.Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopReconnectLocked()
	m.generation++
	m.attempts = 0
	m.state = next
	sock := m.socket
	m.socket = nil
	return sock
}

// stopReconnectLocked cancels a pending reconnect. Callers bump the
// generation afterwards so the cancelled goroutine sees itself superseded.
func (m *Manager) stopReconnectLocked() {
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
	m.reconnecting = false
}

func (m *Manager) Socket() whatsapp.Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socket
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOpen && m.socket != nil && m.socket.Identity().JID != ""
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) dispatch(ctx context.Context, env envelope) {
	m.mu.Lock()
	stale := env.generation != m.generation
	sock := m.socket
	listener := m.listener
	m.mu.Unlock()
	if stale {
		slog.Debug("ignoring event from stale socket", "generation", env.generation)
		return
	}

	switch ev := env.event.(type) {
	case whatsapp.ConnectionUpdate:
		m.handleConnectionUpdate(ctx, env.generation, ev)
	case whatsapp.CredentialsUpdate:
		if sock == nil {
			return
		}
		if err := sock.SaveCredentials(ctx); err != nil {
			slog.Error("failed to save credentials", "error", err)
		}
	case whatsapp.MessagesUpsert:
		if sock == nil || listener == nil || len(ev.Messages) == 0 {
			return
		}
		listener.OnMessages(ctx, sock, ev)
	default:
		slog.Debug("ignoring unknown socket event", "type", fmt.Sprintf("%T", ev))
	}
}

func (m *Manager) handleConnectionUpdate(ctx context.Context, gen uint64, ev whatsapp.ConnectionUpdate) {
	switch {
	case ev.QR != "":
		m.setState(StateQRPending)
		m.setStatus(ctx, repository.BotStatusConnecting, ev.QR)
		slog.Info("pairing qr received")
		if l := m.currentListener(); l != nil {
			l.OnQR(ctx, ev.QR)
		}
	case ev.Connection == whatsapp.ConnectionOpen:
		m.handleOpen(ctx)
	case ev.Connection == whatsapp.ConnectionClose:
		m.handleClose(ctx, gen, ev)
	}
}

func (m *Manager) handleOpen(ctx context.Context) {
	m.mu.Lock()
	m.attempts = 0
	m.state = StateOpen
	sock := m.socket
	listener := m.listener
	m.mu.Unlock()
	if sock == nil {
		return
	}
	identity := sock.Identity()
	m.setStatus(ctx, repository.BotStatusOnline, "")
	slog.Info("connection open", "jid", identity.JID, "push_name", identity.DisplayName)
	if listener != nil {
		listener.OnOpen(ctx, identity)
	}
}

func (m *Manager) handleClose(ctx context.Context, gen uint64, ev whatsapp.ConnectionUpdate) {
	m.mu.Lock()
	sock := m.socket
	m.socket = nil
	m.state = StateClosed
	m.mu.Unlock()
	if sock != nil {
		if err := sock.Close(); err != nil {
			slog.Warn("failed to release closed socket", "error", err)
		}
	}
	slog.Warn("connection closed", "reason", ev.Reason, "error", ev.Err)

	switch ev.Reason {
	case whatsapp.ReasonLoggedOut:
		if err := m.removeCredentials(); err != nil {
			slog.Error("failed to remove credentials after logout", "error", err)
		}
		m.terminate(ctx, gen, ev.Reason)
	case whatsapp.ReasonRestartRequired:
		m.scheduleReconnect(ctx, gen, ev.Reason, false)
	default:
		m.scheduleReconnect(ctx, gen, ev.Reason, true)
	}
}

func (m *Manager) terminate(ctx context.Context, gen uint64, reason whatsapp.DisconnectReason) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.state = StateTerminalOffline
	m.attempts = 0
	listener := m.listener
	m.mu.Unlock()

	m.setStatus(ctx, repository.BotStatusOffline, "")
	slog.Warn("connection terminally offline", "reason", reason)
	if listener != nil {
		listener.OnTerminal(ctx, reason)
	}
}

// scheduleReconnect starts at most one delayed reconnect. Transient reasons
// consume the attempt budget; restart-required does not.
func (m *Manager) scheduleReconnect(ctx context.Context, gen uint64, reason whatsapp.DisconnectReason, consumeBudget bool) {
	m.mu.Lock()
	if m.reconnecting || gen != m.generation {
		m.mu.Unlock()
		return
	}
	if consumeBudget {
		if m.attempts >= m.policy.MaxAttempts {
			m.mu.Unlock()
			slog.Warn("reconnect attempts exhausted", "attempts", m.policy.MaxAttempts, "reason", reason)
			m.terminate(ctx, gen, reason)
			return
		}
		m.attempts++
	}
	attempt := m.attempts
	m.reconnecting = true
	m.state = StateReconnecting
	rctx, cancel := context.WithCancel(ctx)
	m.cancelReconnect = cancel
	m.mu.Unlock()

	slog.Info("scheduling reconnect", "reason", reason, "attempt", attempt, "max_attempts", m.policy.MaxAttempts, "delay", m.policy.Delay)
	go func() {
		defer cancel()
		err := m.sleep(rctx, m.policy.Delay)

		// the flag drops before Initialize so a close from the new socket
		// can schedule the next attempt
		m.mu.Lock()
		superseded := gen != m.generation
		if !superseded {
			m.reconnecting = false
			m.cancelReconnect = nil
		}
		m.mu.Unlock()
		if err != nil {
			slog.Info("reconnect cancelled", "reason", reason)
			return
		}
		if superseded {
			return
		}
		// a failed attempt is fed back as a transient close so the budget
		// still bounds the retries
		if next, err := m.initialize(rctx); err != nil {
			slog.Error("reconnect failed", "error", err, "attempt", attempt)
			m.enqueue(next, whatsapp.ConnectionUpdate{
				Connection: whatsapp.ConnectionClose,
				Reason:     whatsapp.ReasonConnectionLost,
				Err:        err,
			})
		}
	}()
}

func (m *Manager) removeCredentials() error {
	entries, err := os.ReadDir(m.opts.SessionDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read session dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(m.opts.SessionDir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *Manager) currentListener() Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

func (m *Manager) setStatus(ctx context.Context, status repository.BotStatus, qr string) {
	if err := m.status.UpdateBotStatus(ctx, status, qr); err != nil {
		slog.Error("failed to persist bot status", "error", err, "status", status)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
