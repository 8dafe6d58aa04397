package repository

import (
	"time"

	"github.com/foxseedlab/kuchiguse/internal/learning"
)

type BotStatus string

const (
	BotStatusOffline    BotStatus = "offline"
	BotStatusConnecting BotStatus = "connecting"
	BotStatusOnline     BotStatus = "online"
	BotStatusError      BotStatus = "error"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type BotConfig struct {
	ID              int
	Status          BotStatus
	QRCode          string
	CurrentUserID   string
	LearningEnabled bool
	AudioEnabled    bool
	ModelName       string
	UpdatedAt       time.Time
}

type User struct {
	ID           string
	PhoneNumber  string
	DisplayName  string
	IsConnected  bool
	ConnectedAt  *time.Time
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	ID              string
	UserID          string
	ChatID          string
	Content         string
	Direction       Direction
	Timestamp       time.Time
	Processed       bool
	AudioTranscript string
	CreatedAt       time.Time
}

type LearningProfile struct {
	UserID           string
	MessageCount     int
	VocabularySize   int
	LearningProgress float64
	Patterns         learning.ConversationPatterns
	Style            learning.StyleAnalysis
	LastTrainingAt   *time.Time
	UpdatedAt        time.Time
}

func (p *LearningProfile) Snapshot() learning.Snapshot {
	if p == nil {
		return learning.Snapshot{}
	}
	return learning.Snapshot{
		MessageCount:     p.MessageCount,
		VocabularySize:   p.VocabularySize,
		LearningProgress: p.LearningProgress,
		Patterns:         p.Patterns,
		Style:            p.Style,
	}
}
