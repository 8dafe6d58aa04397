package dashboard

import (
	"time"

	"github.com/foxseedlab/kuchiguse/internal/learning"
	"github.com/foxseedlab/kuchiguse/internal/repository"
)

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type userResponse struct {
	ID           string     `json:"id"`
	PhoneNumber  string     `json:"phoneNumber"`
	DisplayName  string     `json:"displayName"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty"`
	LastActivity time.Time  `json:"lastActivity"`
}

type statusResponse struct {
	Status          repository.BotStatus `json:"status"`
	QRCode          string               `json:"qrCode,omitempty"`
	CurrentUser     *userResponse        `json:"currentUser"`
	IsConnected     bool                 `json:"isConnected"`
	LearningEnabled bool                 `json:"learningEnabled"`
	AudioEnabled    bool                 `json:"audioEnabled"`
	ModelName       string               `json:"modelName"`
}

type settingsRequest struct {
	LearningEnabled *bool `json:"learningEnabled"`
	AudioEnabled    *bool `json:"audioEnabled"`
}

type settingsResponse struct {
	LearningEnabled bool `json:"learningEnabled"`
	AudioEnabled    bool `json:"audioEnabled"`
}

type learningResponse struct {
	MessageCount     int                           `json:"messageCount"`
	VocabularySize   int                           `json:"vocabularySize"`
	LearningProgress float64                       `json:"learningProgress"`
	Patterns         learning.ConversationPatterns `json:"conversationPatterns"`
	Style            learning.StyleAnalysis        `json:"styleAnalysis"`
	LastTrainingAt   *time.Time                    `json:"lastTrainingAt,omitempty"`
	UpdatedAt        time.Time                     `json:"updatedAt"`
}

func toUserResponse(u *repository.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:           u.ID,
		PhoneNumber:  u.PhoneNumber,
		DisplayName:  u.DisplayName,
		ConnectedAt:  u.ConnectedAt,
		LastActivity: u.LastActivity,
	}
}

func toLearningResponse(p *repository.LearningProfile) learningResponse {
	return learningResponse{
		MessageCount:     p.MessageCount,
		VocabularySize:   p.VocabularySize,
		LearningProgress: p.LearningProgress,
		Patterns:         p.Patterns,
		Style:            p.Style,
		LastTrainingAt:   p.LastTrainingAt,
		UpdatedAt:        p.UpdatedAt,
	}
}
