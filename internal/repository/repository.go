package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/learning"
)

var ErrNotFound = errors.New("repository: not found")

type SaveMessageInput struct {
	UserID          string
	ChatID          string
	Content         string
	Direction       Direction
	Timestamp       time.Time
	Processed       bool
	AudioTranscript string
}

type BotConfigRepository interface {
	GetBotConfig(ctx context.Context) (*BotConfig, error)
	// UpdateBotStatus stores qr only while status is connecting.
	UpdateBotStatus(ctx context.Context, status BotStatus, qr string) error
	// SetCurrentUser with an empty userID clears the slot.
	SetCurrentUser(ctx context.Context, userID string) error
	SetBotFlags(ctx context.Context, learningEnabled, audioEnabled bool) error
}

type UserRepository interface {
	FindOrCreateUser(ctx context.Context, phoneNumber, displayName string) (*User, error)
	MarkUserDisconnected(ctx context.Context, userID string) error
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, input SaveMessageInput) (*Message, error)
	// GetRecentMessages returns at most limit messages, oldest first.
	GetRecentMessages(ctx context.Context, userID string, limit int) ([]Message, error)
}

type LearningRepository interface {
	// GetUserLearningData returns ErrNotFound when no profile exists.
	GetUserLearningData(ctx context.Context, userID string) (*LearningProfile, error)
	UpdateLearningData(ctx context.Context, userID string, snap learning.Snapshot) error
	ResetLearningData(ctx context.Context, userID string) error
}

type Repository interface {
	BotConfigRepository
	UserRepository
	MessageRepository
	LearningRepository
}
