// Package pipeline turns inbound WhatsApp messages into persisted turns and,
// when learning is enabled, style-matched replies.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/inference"
	"github.com/foxseedlab/kuchiguse/internal/learning"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/foxseedlab/kuchiguse/internal/transcriber"
	"github.com/foxseedlab/kuchiguse/internal/whatsapp"
)

const (
	AudioPlaceholder = "[Áudio não pôde ser processado]"

	// backlog length past which each further batch logs a warning
	backlogWarnThreshold = 64
)

type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeStored     Outcome = "stored"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeReplied    Outcome = "replied"
	OutcomeFailed     Outcome = "failed"
)

type Responder interface {
	GenerateResponse(ctx context.Context, message string, profile *repository.LearningProfile, history []repository.Message) inference.Response
}

type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

type CurrentUserFunc func() *repository.User

type Config struct {
	ConfidenceFloor float64
	HistoryLimit    int
}

type job struct {
	sender Sender
	batch  whatsapp.MessagesUpsert
}

type Pipeline struct {
	repo        repository.Repository
	responder   Responder
	transcriber transcriber.Transcriber
	cfg         Config
	now         func() time.Time

	currentUser CurrentUserFunc

	mu      sync.Mutex
	pending []job
	wake    chan struct{}
}

func New(repo repository.Repository, responder Responder, stt transcriber.Transcriber, cfg Config) *Pipeline {
	return &Pipeline{
		repo:        repo,
		responder:   responder,
		transcriber: stt,
		cfg:         cfg,
		now:         time.Now,
		currentUser: func() *repository.User { return nil },
		wake:        make(chan struct{}, 1),
	}
}

// SetCurrentUserFunc must be called before Run.
func (p *Pipeline) SetCurrentUserFunc(f CurrentUserFunc) {
	p.currentUser = f
}

// Enqueue appends a batch to the worker's backlog. It never blocks, so the
// connection event loop keeps reading while a slow batch is processed.
func (p *Pipeline) Enqueue(ctx context.Context, sender Sender, batch whatsapp.MessagesUpsert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.pending = append(p.pending, job{sender: sender, batch: batch})
	backlog := len(p.pending)
	p.mu.Unlock()
	if backlog > backlogWarnThreshold {
		slog.Warn("message backlog growing", "pending_batches", backlog)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Backlog reports how many batches are waiting for the worker.
func (p *Pipeline) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Pipeline) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return job{}, false
	}
	j := p.pending[0]
	p.pending[0] = job{}
	p.pending = p.pending[1:]
	return j, true
}

// Run processes queued batches one at a time until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	slog.Info("message pipeline started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("message pipeline stopped", "pending_batches", p.Backlog())
			return
		case <-p.wake:
		}
		for ctx.Err() == nil {
			j, ok := p.next()
			if !ok {
				break
			}
			p.ProcessBatch(ctx, j.sender, j.batch)
		}
	}
}

// ProcessBatch handles messages sequentially so persisted order and
// learning updates follow arrival order.
func (p *Pipeline) ProcessBatch(ctx context.Context, sender Sender, batch whatsapp.MessagesUpsert) {
	for _, msg := range batch.Messages {
		outcome := p.ProcessMessage(ctx, sender, msg)
		slog.Debug("message processed", "message_id", msg.ID, "outcome", outcome)
	}
}

func (p *Pipeline) ProcessMessage(ctx context.Context, sender Sender, msg whatsapp.InboundMessage) Outcome {
	if msg.FromMe || msg.IsGroup {
		return OutcomeSkipped
	}
	user := p.currentUser()
	if user == nil {
		slog.Warn("no current user; skipping message", "message_id", msg.ID)
		return OutcomeSkipped
	}
	botCfg := p.botConfig(ctx)

	content, transcript, ok := p.extractContent(ctx, msg, botCfg.AudioEnabled)
	if !ok || strings.TrimSpace(content) == "" {
		return OutcomeSkipped
	}
	slog.Info("message received", "chat_id", msg.ChatID, "push_name", msg.PushName, "length", len(content))

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	if _, err := p.repo.SaveMessage(ctx, repository.SaveMessageInput{
		UserID:          user.ID,
		ChatID:          msg.ChatID,
		Content:         content,
		Direction:       repository.DirectionIncoming,
		Timestamp:       ts,
		AudioTranscript: transcript,
	}); err != nil {
		slog.Error("failed to store incoming message", "error", err, "message_id", msg.ID)
		return OutcomeFailed
	}
	if !botCfg.LearningEnabled {
		return OutcomeStored
	}

	profile := p.profile(ctx, user.ID)
	history, err := p.repo.GetRecentMessages(ctx, user.ID, p.cfg.HistoryLimit)
	if err != nil {
		slog.Warn("failed to load conversation history", "error", err, "user_id", user.ID)
	}

	resp := p.responder.GenerateResponse(ctx, content, profile, history)
	if resp.Confidence < p.cfg.ConfidenceFloor {
		slog.Info("response suppressed by confidence floor", "confidence", resp.Confidence, "floor", p.cfg.ConfidenceFloor, "chat_id", msg.ChatID)
		return OutcomeSuppressed
	}

	if err := sender.SendText(ctx, msg.ChatID, resp.Text); err != nil {
		slog.Error("failed to send reply", "error", err, "chat_id", msg.ChatID)
		if ferr := sender.SendText(ctx, msg.ChatID, inference.FallbackText); ferr != nil {
			slog.Error("failed to send apology", "error", ferr, "chat_id", msg.ChatID)
		}
		return OutcomeFailed
	}

	if _, err := p.repo.SaveMessage(ctx, repository.SaveMessageInput{
		UserID:    user.ID,
		ChatID:    msg.ChatID,
		Content:   resp.Text,
		Direction: repository.DirectionOutgoing,
		Timestamp: p.now(),
		Processed: true,
	}); err != nil {
		slog.Error("failed to store outgoing message", "error", err, "chat_id", msg.ChatID)
	}

	snap := learning.Learn(content, profile.Snapshot())
	if err := p.repo.UpdateLearningData(ctx, user.ID, snap); err != nil {
		slog.Error("failed to update learning profile", "error", err, "user_id", user.ID)
	}
	slog.Info("reply sent", "chat_id", msg.ChatID, "learning_applied", resp.LearningApplied, "message_count", snap.MessageCount)
	return OutcomeReplied
}

// extractContent returns the text to persist and, for voice notes, the
// transcript annotation. ok is false when the message must be skipped.
func (p *Pipeline) extractContent(ctx context.Context, msg whatsapp.InboundMessage, audioEnabled bool) (content, transcript string, ok bool) {
	audio, isAudio := msg.Content.(whatsapp.AudioContent)
	if !isAudio {
		text, ok := whatsapp.ExtractText(msg.Content)
		return text, "", ok
	}
	if !audioEnabled {
		slog.Info("audio processing disabled; skipping voice note", "message_id", msg.ID)
		return "", "", false
	}
	text, err := p.transcribe(ctx, audio)
	if err != nil {
		slog.Warn("audio transcription failed; using placeholder", "error", err, "message_id", msg.ID)
		return AudioPlaceholder, "", true
	}
	return text, text, true
}

func (p *Pipeline) transcribe(ctx context.Context, audio whatsapp.AudioContent) (string, error) {
	if audio.Fetch == nil {
		return "", errors.New("audio payload is not downloadable")
	}
	data, err := audio.Fetch(ctx)
	if err != nil {
		return "", err
	}
	text, err := p.transcriber.Transcribe(ctx, data)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", transcriber.ErrNoTranscript
	}
	return text, nil
}

func (p *Pipeline) botConfig(ctx context.Context) repository.BotConfig {
	cfg, err := p.repo.GetBotConfig(ctx)
	if err != nil {
		slog.Warn("failed to load bot config; assuming defaults", "error", err)
		return repository.BotConfig{LearningEnabled: true, AudioEnabled: true}
	}
	return *cfg
}

func (p *Pipeline) profile(ctx context.Context, userID string) *repository.LearningProfile {
	profile, err := p.repo.GetUserLearningData(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("failed to load learning profile", "error", err, "user_id", userID)
		}
		return nil
	}
	return profile
}
