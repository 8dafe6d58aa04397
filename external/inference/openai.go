package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/inference"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const availabilityTimeout = 5 * time.Second

// OpenAICompleter talks to any OpenAI-compatible server; by default the
// local LM Studio instance.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

func NewOpenAICompleter(baseURL, apiKey, model string) *OpenAICompleter {
	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/v1/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	return &OpenAICompleter{client: client, model: model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req inference.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	for _, turn := range req.Turns {
		if turn.Role == inference.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(turn.Content))
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", inference.ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAICompleter) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	_, err := c.client.Models.List(ctx)
	return err == nil
}
