package connection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
)

type statusUpdate struct {
	status repository.BotStatus
	qr     string
}

type mockStatusRepository struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func (m *mockStatusRepository) GetBotConfig(_ context.Context) (*repository.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := &repository.BotConfig{ID: 1, Status: repository.BotStatusOffline}
	if n := len(m.updates); n > 0 {
		cfg.Status = m.updates[n-1].status
		if cfg.Status == repository.BotStatusConnecting {
			cfg.QRCode = m.updates[n-1].qr
		}
	}
	return cfg, nil
}

func (m *mockStatusRepository) UpdateBotStatus(_ context.Context, status repository.BotStatus, qr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, statusUpdate{status: status, qr: qr})
	return nil
}

func (m *mockStatusRepository) SetCurrentUser(_ context.Context, _ string) error { return nil }
func (m *mockStatusRepository) SetBotFlags(_ context.Context, _, _ bool) error { return nil }

func (m *mockStatusRepository) last() statusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updates) == 0 {
		return statusUpdate{}
	}
	return m.updates[len(m.updates)-1]
}

type mockSocket struct {
	mu         sync.Mutex
	handler    whatsapp.EventHandler
	identity   whatsapp.Identity
	loggedIn   bool
	onConnect  func(s *mockSocket)
	closeCalls int
	logouts    int
	saves      int
}

func (s *mockSocket) emit(ev whatsapp.Event) { s.handler(ev) }

func (s *mockSocket) Connect(_ context.Context) error {
	if s.onConnect != nil {
		s.onConnect(s)
	}
	return nil
}

func (s *mockSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

func (s *mockSocket) Logout(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return nil
}

func (s *mockSocket) IsLoggedIn() bool { return s.loggedIn }
func (s *mockSocket) Identity() whatsapp.Identity { return s.identity }
func (s *mockSocket) SendText(_ context.Context, _, _ string) error { return nil }

func (s *mockSocket) SaveCredentials(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

type mockDialer struct {
	mu        sync.Mutex
	sockets   []*mockSocket
	openErrAt map[int]error
	configure func(index int, s *mockSocket)
}

func (d *mockDialer) Open(_ context.Context, _ whatsapp.OpenOptions, handler whatsapp.EventHandler) (whatsapp.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	index := len(d.sockets)
	if err, ok := d.openErrAt[index]; ok {
		d.sockets = append(d.sockets, nil)
		return nil, err
	}
	s := &mockSocket{handler: handler}
	if d.configure != nil {
		d.configure(index, s)
	}
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *mockDialer) opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *mockDialer) socket(i int) *mockSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[i]
}

type mockListener struct {
	mu        sync.Mutex
	qrs       []string
	opened    []whatsapp.Identity
	terminals []whatsapp.DisconnectReason
	batches   []whatsapp.MessagesUpsert
}

func (l *mockListener) OnQR(_ context.Context, qr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.qrs = append(l.qrs, qr)
}

func (l *mockListener) OnOpen(_ context.Context, id whatsapp.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, id)
}

func (l *mockListener) OnTerminal(_ context.Context, reason whatsapp.DisconnectReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminals = append(l.terminals, reason)
}

func (l *mockListener) OnMessages(_ context.Context, _ whatsapp.Socket, batch whatsapp.MessagesUpsert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, batch)
}

func (l *mockListener) terminalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.terminals)
}

type testHarness struct {
	manager  *Manager
	dialer   *mockDialer
	repo     *mockStatusRepository
	listener *mockListener
	dir      string
	sleeps   *int
	sleepMu  *sync.Mutex
}

func newHarness(t *testing.T, dialer *mockDialer) *testHarness {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sessions")
	repo := &mockStatusRepository{}
	listener := &mockListener{}
	m := NewManager(dialer, repo, whatsapp.OpenOptions{SessionDir: dir}, Policy{MaxAttempts: 3, Delay: 5 * time.Second})
	m.SetListener(listener)

	var mu sync.Mutex
	sleeps := 0
	m.sleep = func(ctx context.Context, _ time.Duration) error {
		mu.Lock()
		sleeps++
		mu.Unlock()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)

	return &testHarness{manager: m, dialer: dialer, repo: repo, listener: listener, dir: dir, sleeps: &sleeps, sleepMu: &mu}
}

func (h *testHarness) sleepCount() int {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return *h.sleeps
}

func writeCredentialFiles(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "keys"), 0o700); err != nil {
		t.Fatalf("failed to create session dir: %v", err)
	}
	for _, name := range []string{"device.db", "device.db-wal", filepath.Join("keys", "pre-key-1.json")} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("failed to write credential file: %v", err)
		}
	}
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to read dir: %v", err)
	}
	return len(entries)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

var ownIdentity = whatsapp.Identity{JID: "5511999999999@s.whatsapp.net", PhoneKey: "5511999999999", DisplayName: "Ana"}

func TestInitialize_QRThenOpenGoesOnline(t *testing.T) {
	dialer := &mockDialer{}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.repo.last(); got.status != repository.BotStatusConnecting {
		t.Fatalf("expected connecting, got %+v", got)
	}

	sock := dialer.socket(0)
	sock.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionConnecting, QR: "qr-payload"})
	waitUntil(t, time.Second, func() bool { return h.manager.State() == StateQRPending }, "expected qr_pending state")
	cfg, _ := h.repo.GetBotConfig(context.Background())
	if cfg.Status != repository.BotStatusConnecting || cfg.QRCode != "qr-payload" {
		t.Fatalf("expected pending qr to be persisted, got %+v", cfg)
	}

	sock.identity = ownIdentity
	sock.loggedIn = true
	sock.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionOpen})
	waitUntil(t, time.Second, h.manager.IsConnected, "expected manager to be connected")

	cfg, _ = h.repo.GetBotConfig(context.Background())
	if cfg.Status != repository.BotStatusOnline || cfg.QRCode != "" {
		t.Fatalf("expected online without qr, got %+v", cfg)
	}
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if len(h.listener.qrs) != 1 || len(h.listener.opened) != 1 || h.listener.opened[0] != ownIdentity {
		t.Fatalf("unexpected listener calls: qrs=%v opened=%v", h.listener.qrs, h.listener.opened)
	}
}

func TestLoggedOut_ClearsCredentialsAndNeverReconnects(t *testing.T) {
	dialer := &mockDialer{}
	h := newHarness(t, dialer)
	writeCredentialFiles(t, h.dir)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dialer.socket(0).emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: whatsapp.ReasonLoggedOut})

	waitUntil(t, time.Second, func() bool { return h.listener.terminalCount() == 1 }, "expected terminal callback")
	time.Sleep(50 * time.Millisecond)

	if dialer.opens() != 1 {
		t.Fatalf("expected no re-initialize after logout, got %d opens", dialer.opens())
	}
	if h.sleepCount() != 0 {
		t.Fatalf("expected no backoff after logout, got %d", h.sleepCount())
	}
	if n := dirEntries(t, h.dir); n != 0 {
		t.Fatalf("expected credential files to be deleted, found %d", n)
	}
	if got := h.repo.last().status; got != repository.BotStatusOffline {
		t.Fatalf("expected offline, got %s", got)
	}
	if h.manager.State() != StateTerminalOffline {
		t.Fatalf("expected terminal_offline, got %s", h.manager.State())
	}
}

func TestTransientClose_RetriesUpToCapThenOffline(t *testing.T) {
	dialer := &mockDialer{
		configure: func(_ int, s *mockSocket) {
			s.onConnect = func(s *mockSocket) {
				s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: whatsapp.ReasonTimedOut})
			}
		},
	}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return h.listener.terminalCount() == 1 }, "expected retries to be exhausted")
	time.Sleep(50 * time.Millisecond)

	if got := dialer.opens(); got != 4 {
		t.Fatalf("expected initial open plus 3 reconnects, got %d", got)
	}
	if got := h.sleepCount(); got != 3 {
		t.Fatalf("expected 3 backoff waits, got %d", got)
	}
	if got := h.repo.last().status; got != repository.BotStatusOffline {
		t.Fatalf("expected offline after exhausting retries, got %s", got)
	}
	if h.listener.terminals[0] != whatsapp.ReasonTimedOut {
		t.Fatalf("unexpected terminal reason: %s", h.listener.terminals[0])
	}
}

func TestRestartRequired_DoesNotConsumeBudget(t *testing.T) {
	dialer := &mockDialer{
		configure: func(index int, s *mockSocket) {
			if index == 0 {
				s.onConnect = func(s *mockSocket) {
					s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: whatsapp.ReasonRestartRequired})
				}
				return
			}
			s.identity = ownIdentity
			s.onConnect = func(s *mockSocket) {
				s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionOpen})
			}
		},
	}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, time.Second, h.manager.IsConnected, "expected reconnect to open")

	if dialer.opens() != 2 {
		t.Fatalf("expected exactly one reconnect, got %d opens", dialer.opens())
	}
	if h.manager.Attempts() != 0 {
		t.Fatalf("expected attempt counter to stay at 0, got %d", h.manager.Attempts())
	}
	if h.sleepCount() != 1 {
		t.Fatalf("expected restart to wait for backoff once, got %d", h.sleepCount())
	}
}

func TestOpen_ResetsAttemptCounter(t *testing.T) {
	dialer := &mockDialer{
		configure: func(index int, s *mockSocket) {
			s.identity = ownIdentity
			s.onConnect = func(s *mockSocket) {
				if index < 2 {
					s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: whatsapp.ReasonConnectionLost})
					return
				}
				s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionOpen})
			}
		},
	}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, time.Second, h.manager.IsConnected, "expected third socket to open")
	if h.manager.Attempts() != 0 {
		t.Fatalf("expected attempts reset on open, got %d", h.manager.Attempts())
	}
}

func TestReconnectInitializeFailure_CountsAgainstBudget(t *testing.T) {
	openErr := errors.New("store unavailable")
	dialer := &mockDialer{
		openErrAt: map[int]error{1: openErr, 2: openErr, 3: openErr},
		configure: func(_ int, s *mockSocket) {
			s.onConnect = func(s *mockSocket) {
				s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: whatsapp.ReasonConnectionLost})
			}
		},
	}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return h.listener.terminalCount() == 1 }, "expected retries to be exhausted")

	if dialer.opens() != 4 {
		t.Fatalf("expected 4 open attempts, got %d", dialer.opens())
	}
	if got := h.repo.last().status; got != repository.BotStatusOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}

func TestClearSession_IsIdempotent(t *testing.T) {
	dialer := &mockDialer{}
	h := newHarness(t, dialer)
	writeCredentialFiles(t, h.dir)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range 2 {
		if err := h.manager.ClearSession(context.Background()); err != nil {
			t.Fatalf("clear %d: unexpected error: %v", i, err)
		}
		if h.manager.State() != StateTerminalOffline {
			t.Fatalf("clear %d: expected terminal_offline, got %s", i, h.manager.State())
		}
		if h.manager.Socket() != nil {
			t.Fatalf("clear %d: expected socket to be released", i)
		}
		if n := dirEntries(t, h.dir); n != 0 {
			t.Fatalf("clear %d: expected no credential files, found %d", i, n)
		}
		if got := h.repo.last().status; got != repository.BotStatusOffline {
			t.Fatalf("clear %d: expected offline, got %s", i, got)
		}
	}
	if dialer.socket(0).logouts != 0 {
		t.Fatal("expected clear session not to log out remotely")
	}
}

func TestClearSession_CancelsPendingReconnect(t *testing.T) {
	dialer := &mockDialer{
		configure: func(_ int, s *mockSocket) {
			s.onConnect = func(s *mockSocket) {
				s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: whatsapp.ReasonTimedOut})
			}
		},
	}
	h := newHarness(t, dialer)
	block := make(chan struct{})
	h.manager.sleep = func(ctx context.Context, _ time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-block:
			return nil
		}
	}
	defer close(block)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return h.manager.State() == StateReconnecting }, "expected pending reconnect")

	if err := h.manager.ClearSession(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if dialer.opens() != 1 {
		t.Fatalf("expected pending reconnect to be cancelled, got %d opens", dialer.opens())
	}
}

func TestDisconnect_LogsOutWhenAuthenticated(t *testing.T) {
	dialer := &mockDialer{
		configure: func(_ int, s *mockSocket) {
			s.identity = ownIdentity
			s.loggedIn = true
			s.onConnect = func(s *mockSocket) {
				s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionOpen})
			}
		},
	}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, time.Second, h.manager.IsConnected, "expected connection to open")

	if err := h.manager.Disconnect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sock := dialer.socket(0)
	if sock.logouts != 1 || sock.closeCalls != 1 {
		t.Fatalf("expected one logout and one close, got %d/%d", sock.logouts, sock.closeCalls)
	}
	if h.manager.IsConnected() {
		t.Fatal("expected manager to be disconnected")
	}
	if got := h.repo.last().status; got != repository.BotStatusOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}

func TestClose_ReleasesSocketWithoutLogout(t *testing.T) {
	dialer := &mockDialer{
		configure: func(_ int, s *mockSocket) {
			s.identity = ownIdentity
			s.loggedIn = true
			s.onConnect = func(s *mockSocket) {
				s.emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionOpen})
			}
		},
	}
	h := newHarness(t, dialer)
	writeCredentialFiles(t, h.dir)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, time.Second, h.manager.IsConnected, "expected connection to open")

	if err := h.manager.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sock := dialer.socket(0)
	if sock.logouts != 0 || sock.closeCalls != 1 {
		t.Fatalf("expected no logout and one close, got %d/%d", sock.logouts, sock.closeCalls)
	}
	if dirEntries(t, h.dir) == 0 {
		t.Fatal("expected credentials to be kept")
	}
	if got := h.repo.last().status; got != repository.BotStatusOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}

func TestStaleSocketEventsAreIgnored(t *testing.T) {
	dialer := &mockDialer{}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dialer.socket(0).closeCalls != 1 {
		t.Fatalf("expected first socket to be released, got %d closes", dialer.socket(0).closeCalls)
	}

	dialer.socket(0).emit(whatsapp.ConnectionUpdate{Connection: whatsapp.ConnectionClose, Reason: whatsapp.ReasonTimedOut})
	time.Sleep(50 * time.Millisecond)

	if dialer.opens() != 2 {
		t.Fatalf("expected stale close to be ignored, got %d opens", dialer.opens())
	}
	if h.manager.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", h.manager.State())
	}
}

func TestCredentialsUpdateAndMessagesAreForwarded(t *testing.T) {
	dialer := &mockDialer{}
	h := newHarness(t, dialer)

	if err := h.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sock := dialer.socket(0)
	sock.emit(whatsapp.CredentialsUpdate{})
	sock.emit(whatsapp.MessagesUpsert{Messages: []whatsapp.InboundMessage{{ID: "m1"}}})
	sock.emit(whatsapp.MessagesUpsert{})

	waitUntil(t, time.Second, func() bool {
		h.listener.mu.Lock()
		defer h.listener.mu.Unlock()
		return len(h.listener.batches) == 1
	}, "expected one forwarded batch")
	waitUntil(t, time.Second, func() bool {
		sock.mu.Lock()
		defer sock.mu.Unlock()
		return sock.saves == 1
	}, "expected credentials to be saved")
}
