package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/learning"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory. It backs development
// runs without DATABASE_URL and the package tests.
type MemoryRepository struct {
	mu       sync.Mutex
	now      func() time.Time
	config   repository.BotConfig
	users    map[string]*repository.User
	byPhone  map[string]string
	messages []repository.Message
	learning map[string]*repository.LearningProfile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now: time.Now,
		config: repository.BotConfig{
			ID:              1,
			Status:          repository.BotStatusOffline,
			LearningEnabled: true,
			AudioEnabled:    true,
		},
		users:    make(map[string]*repository.User),
		byPhone:  make(map[string]string),
		learning: make(map[string]*repository.LearningProfile),
	}
}

func (r *MemoryRepository) GetBotConfig(_ context.Context) (*repository.BotConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.config
	return &c, nil
}

func (r *MemoryRepository) UpdateBotStatus(_ context.Context, status repository.BotStatus, qr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Status = status
	r.config.QRCode = ""
	if status == repository.BotStatusConnecting {
		r.config.QRCode = qr
	}
	r.config.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) SetCurrentUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.CurrentUserID = userID
	r.config.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) SetBotFlags(_ context.Context, learningEnabled, audioEnabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.LearningEnabled = learningEnabled
	r.config.AudioEnabled = audioEnabled
	r.config.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) SetModelName(_ context.Context, modelName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.ModelName = modelName
	return nil
}

func (r *MemoryRepository) FindOrCreateUser(_ context.Context, phoneNumber, displayName string) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if id, ok := r.byPhone[phoneNumber]; ok {
		u := r.users[id]
		if displayName != "" {
			u.DisplayName = displayName
		}
		u.IsConnected = true
		u.ConnectedAt = &now
		u.LastActivity = now
		u.UpdatedAt = now
		cp := *u
		return &cp, nil
	}
	u := &repository.User{
		ID:           uuid.NewString(),
		PhoneNumber:  phoneNumber,
		DisplayName:  displayName,
		IsConnected:  true,
		ConnectedAt:  &now,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.users[u.ID] = u
	r.byPhone[phoneNumber] = u.ID
	r.learning[u.ID] = &repository.LearningProfile{UserID: u.ID, UpdatedAt: now}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) MarkUserDisconnected(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.IsConnected = false
		u.UpdatedAt = r.now()
	}
	return nil
}

func (r *MemoryRepository) SaveMessage(_ context.Context, input repository.SaveMessageInput) (*repository.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	m := repository.Message{
		ID:              uuid.NewString(),
		UserID:          input.UserID,
		ChatID:          input.ChatID,
		Content:         input.Content,
		Direction:       input.Direction,
		Timestamp:       input.Timestamp,
		Processed:       input.Processed,
		AudioTranscript: input.AudioTranscript,
		CreatedAt:       now,
	}
	r.messages = append(r.messages, m)
	if u, ok := r.users[input.UserID]; ok {
		u.LastActivity = now
	}
	return &m, nil
}

func (r *MemoryRepository) GetRecentMessages(_ context.Context, userID string, limit int) ([]repository.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []repository.Message
	for _, m := range r.messages {
		if m.UserID == userID {
			list = append(list, m)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

func (r *MemoryRepository) GetUserLearningData(_ context.Context, userID string) (*repository.LearningProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.learning[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) UpdateLearningData(_ context.Context, userID string, snap learning.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.learning[userID] = &repository.LearningProfile{
		UserID:           userID,
		MessageCount:     snap.MessageCount,
		VocabularySize:   snap.VocabularySize,
		LearningProgress: snap.LearningProgress,
		Patterns:         snap.Patterns,
		Style:            snap.Style,
		LastTrainingAt:   &now,
		UpdatedAt:        now,
	}
	return nil
}

func (r *MemoryRepository) ResetLearningData(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.learning[userID]; !ok {
		return nil
	}
	r.learning[userID] = &repository.LearningProfile{UserID: userID, UpdatedAt: r.now()}
	return nil
}
