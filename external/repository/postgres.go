package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/learning"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetBotConfig(ctx context.Context) (*repository.BotConfig, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, bot_status, COALESCE(last_qr_code, ''), COALESCE(current_user_id::text, ''),
		        learning_enabled, audio_enabled, model_name, updated_at
		 FROM bot_config WHERE id = 1`)
	var c repository.BotConfig
	var status string
	err := row.Scan(&c.ID, &status, &c.QRCode, &c.CurrentUserID, &c.LearningEnabled, &c.AudioEnabled, &c.ModelName, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	c.Status = repository.BotStatus(status)
	return &c, nil
}

func (r *PostgresRepository) UpdateBotStatus(ctx context.Context, status repository.BotStatus, qr string) error {
	var qrValue *string
	if status == repository.BotStatusConnecting && qr != "" {
		qrValue = &qr
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE bot_config SET bot_status = $1, last_qr_code = $2, updated_at = NOW() WHERE id = 1`,
		string(status), qrValue)
	return err
}

func (r *PostgresRepository) SetCurrentUser(ctx context.Context, userID string) error {
	var id *string
	if userID != "" {
		id = &userID
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE bot_config SET current_user_id = $1::uuid, updated_at = NOW() WHERE id = 1`,
		id)
	return err
}

func (r *PostgresRepository) SetBotFlags(ctx context.Context, learningEnabled, audioEnabled bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE bot_config SET learning_enabled = $1, audio_enabled = $2, updated_at = NOW() WHERE id = 1`,
		learningEnabled, audioEnabled)
	return err
}

// SetModelName is not part of repository.Repository; it is called once at
// startup to record which model answers.
func (r *PostgresRepository) SetModelName(ctx context.Context, modelName string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE bot_config SET model_name = $1, updated_at = NOW() WHERE id = 1`,
		modelName)
	return err
}

func (r *PostgresRepository) FindOrCreateUser(ctx context.Context, phoneNumber, displayName string) (*repository.User, error) {
	row := r.pool.QueryRow(ctx,
		`WITH upserted AS (
			INSERT INTO whatsapp_users (phone_number, display_name, is_connected, connected_at, last_activity)
			VALUES ($1, $2, TRUE, NOW(), NOW())
			ON CONFLICT (phone_number) DO UPDATE
			SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), whatsapp_users.display_name),
			    is_connected = TRUE, connected_at = NOW(), last_activity = NOW(), updated_at = NOW()
			RETURNING id, phone_number, display_name, is_connected, connected_at, last_activity, created_at, updated_at
		), learning AS (
			INSERT INTO user_learning_data (user_id)
			SELECT id FROM upserted
			ON CONFLICT (user_id) DO NOTHING
		)
		SELECT id::text, phone_number, display_name, is_connected, connected_at, last_activity, created_at, updated_at
		FROM upserted`,
		phoneNumber, displayName)
	var u repository.User
	if err := row.Scan(&u.ID, &u.PhoneNumber, &u.DisplayName, &u.IsConnected, &u.ConnectedAt, &u.LastActivity, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepository) MarkUserDisconnected(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE whatsapp_users SET is_connected = FALSE, updated_at = NOW() WHERE id = $1::uuid`,
		userID)
	return err
}

func (r *PostgresRepository) SaveMessage(ctx context.Context, input repository.SaveMessageInput) (*repository.Message, error) {
	var transcript *string
	if input.AudioTranscript != "" {
		transcript = &input.AudioTranscript
	}
	row := r.pool.QueryRow(ctx,
		`WITH inserted AS (
			INSERT INTO conversation_history (user_id, chat_id, content, message_type, timestamp, processed, audio_transcript)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
			RETURNING id, user_id, chat_id, content, message_type, timestamp, processed, audio_transcript, created_at
		), touched AS (
			UPDATE whatsapp_users SET last_activity = NOW() WHERE id = $1::uuid
		)
		SELECT id::text, user_id::text, chat_id, content, message_type::text, timestamp, processed,
		       COALESCE(audio_transcript, ''), created_at
		FROM inserted`,
		input.UserID, input.ChatID, input.Content, string(input.Direction), input.Timestamp, input.Processed, transcript)
	return scanMessage(row)
}

func (r *PostgresRepository) GetRecentMessages(ctx context.Context, userID string, limit int) ([]repository.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, chat_id, content, message_type, timestamp, processed, audio_transcript, created_at
		 FROM (
			SELECT id::text, user_id::text, chat_id, content, message_type::text, timestamp, processed,
			       COALESCE(audio_transcript, '') AS audio_transcript, created_at
			FROM conversation_history WHERE user_id = $1::uuid
			ORDER BY timestamp DESC, created_at DESC
			LIMIT $2
		 ) recent
		 ORDER BY timestamp ASC, created_at ASC`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

func scanMessage(row pgx.Row) (*repository.Message, error) {
	var m repository.Message
	var direction string
	if err := row.Scan(&m.ID, &m.UserID, &m.ChatID, &m.Content, &direction, &m.Timestamp, &m.Processed, &m.AudioTranscript, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Direction = repository.Direction(direction)
	return &m, nil
}

func (r *PostgresRepository) GetUserLearningData(ctx context.Context, userID string) (*repository.LearningProfile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id::text, message_count, vocabulary_size, learning_progress,
		        conversation_patterns, style_analysis, last_training_at, updated_at
		 FROM user_learning_data WHERE user_id = $1::uuid`,
		userID)
	var p repository.LearningProfile
	var patterns, style []byte
	err := row.Scan(&p.UserID, &p.MessageCount, &p.VocabularySize, &p.LearningProgress, &patterns, &style, &p.LastTrainingAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(patterns, &p.Patterns); err != nil {
		return nil, fmt.Errorf("decode conversation_patterns: %w", err)
	}
	if err := json.Unmarshal(style, &p.Style); err != nil {
		return nil, fmt.Errorf("decode style_analysis: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) UpdateLearningData(ctx context.Context, userID string, snap learning.Snapshot) error {
	patterns, err := json.Marshal(snap.Patterns)
	if err != nil {
		return err
	}
	style, err := json.Marshal(snap.Style)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO user_learning_data
			(user_id, message_count, vocabulary_size, learning_progress, conversation_patterns, style_analysis, last_training_at, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
			message_count = EXCLUDED.message_count,
			vocabulary_size = EXCLUDED.vocabulary_size,
			learning_progress = EXCLUDED.learning_progress,
			conversation_patterns = EXCLUDED.conversation_patterns,
			style_analysis = EXCLUDED.style_analysis,
			last_training_at = EXCLUDED.last_training_at,
			updated_at = EXCLUDED.updated_at`,
		userID, snap.MessageCount, snap.VocabularySize, snap.LearningProgress, patterns, style, now)
	return err
}

func (r *PostgresRepository) ResetLearningData(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_learning_data SET message_count = 0, vocabulary_size = 0, learning_progress = 0,
			conversation_patterns = '{}'::jsonb, style_analysis = '{}'::jsonb, last_training_at = NULL, updated_at = NOW()
		 WHERE user_id = $1::uuid`,
		userID)
	return err
}
