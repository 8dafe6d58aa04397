package inference

import (
	"context"
	"errors"
)

var ErrEmptyCompletion = errors.New("inference: empty completion")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Content string
}

type CompletionRequest struct {
	SystemPrompt string
	Turns        []Turn
	Temperature  float64
	MaxTokens    int
}

// Completer is a chat-completion backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Available(ctx context.Context) bool
}

type Response struct {
	Text            string
	Confidence      float64
	LearningApplied bool
}
