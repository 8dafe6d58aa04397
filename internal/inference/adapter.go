package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/samber/lo"
)

const (
	FallbackText       = "Desculpe, não consegui processar sua mensagem no momento."
	FallbackConfidence = 0.1
	SuccessConfidence  = 0.8

	personaInstruction = "Você é um assistente que imita o estilo de comunicação de uma pessoa específica no WhatsApp."
	closingInstruction = "Responda de forma natural, mantendo o estilo da pessoa. Seja conciso e use a linguagem típica do WhatsApp."
)

type AdapterConfig struct {
	Timeout      time.Duration
	Temperature  float64
	MaxTokens    int
	HistoryLimit int
}

type Adapter struct {
	completer Completer
	cfg       AdapterConfig
}

func NewAdapter(completer Completer, cfg AdapterConfig) *Adapter {
	return &Adapter{completer: completer, cfg: cfg}
}

// GenerateResponse never fails: any backend problem yields the fallback
// response with confidence 0.1.
func (a *Adapter) GenerateResponse(ctx context.Context, message string, profile *repository.LearningProfile, history []repository.Message) Response {
	req := CompletionRequest{
		SystemPrompt: BuildSystemPrompt(profile),
		Turns:        BuildTurns(message, history, a.cfg.HistoryLimit),
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	started := time.Now()
	text, err := a.completer.Complete(ctx, req)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = ErrEmptyCompletion
		}
	}
	if err != nil {
		slog.Warn("inference failed; using fallback response", "error", err, "elapsed_ms", time.Since(started).Milliseconds())
		return Response{Text: FallbackText, Confidence: FallbackConfidence}
	}
	slog.Debug("inference completed", "elapsed_ms", time.Since(started).Milliseconds(), "turns", len(req.Turns))
	return Response{
		Text:            text,
		Confidence:      SuccessConfidence,
		LearningApplied: profile != nil,
	}
}

func (a *Adapter) Available(ctx context.Context) bool {
	return a.completer.Available(ctx)
}

func BuildSystemPrompt(profile *repository.LearningProfile) string {
	var b strings.Builder
	b.WriteString(personaInstruction)
	b.WriteString("\n\n")
	if profile != nil {
		fmt.Fprintf(&b, "Baseado em %d mensagens analisadas (progresso de aprendizado: %d%%):\n",
			profile.MessageCount, int(math.Round(profile.LearningProgress*100)))
		if !profile.Style.IsEmpty() {
			if raw, err := json.Marshal(profile.Style); err == nil {
				fmt.Fprintf(&b, "Estilo de comunicação: %s\n", raw)
			}
		}
		if !profile.Patterns.IsEmpty() {
			if raw, err := json.Marshal(profile.Patterns); err == nil {
				fmt.Fprintf(&b, "Padrões de conversa: %s\n", raw)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(closingInstruction)
	return b.String()
}

// BuildTurns maps up to limit history entries (oldest first) onto chat turns
// and appends message. A trailing incoming entry equal to message is the copy
// just persisted by the pipeline and is dropped.
func BuildTurns(message string, history []repository.Message, limit int) []Turn {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Direction == repository.DirectionIncoming && last.Content == message {
			history = history[:n-1]
		}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	turns := lo.Map(history, func(m repository.Message, _ int) Turn {
		if m.Direction == repository.DirectionOutgoing {
			return Turn{Role: RoleAssistant, Content: m.Content}
		}
		return Turn{Role: RoleUser, Content: m.Content}
	})
	return append(turns, Turn{Role: RoleUser, Content: message})
}
