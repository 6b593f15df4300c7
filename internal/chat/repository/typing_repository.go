package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TypingRepository short lived typing indicators
type TypingRepository interface {
	// Upsert keeps StartedAt of a user that is already typing.
	Upsert(ctx context.Context, conversationID, userID string, isTyping bool, now time.Time) (domain.TypingIndicator, error)
	List(ctx context.Context, conversationID string) ([]domain.TypingIndicator, error)
}

type redisTypingRepository struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisTypingRepository one hash typing:<conversation> with a field per
// user. Fields older than retention are pruned on read.
func NewRedisTypingRepository(client *redis.Client, retention time.Duration) TypingRepository {
	return &redisTypingRepository{client: client, retention: retention}
}

func typingKey(conversationID string) string { return "typing:" + conversationID }

func (r *redisTypingRepository) Upsert(ctx context.Context, conversationID, userID string, isTyping bool, now time.Time) (domain.TypingIndicator, error) {
	key := typingKey(conversationID)
	ind := domain.TypingIndicator{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		StartedAt:      now,
		UpdatedAt:      now,
	}

	prev, err := r.client.HGet(ctx, key, userID).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return ind, storeErr("typing.upsert", err)
	}
	if err == nil {
		var old domain.TypingIndicator
		if json.Unmarshal(prev, &old) == nil && old.IsTyping && isTyping && now.Sub(old.UpdatedAt) <= r.retention {
			ind.StartedAt = old.StartedAt
		}
	}

	data, err := json.Marshal(ind)
	if err != nil {
		return ind, err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, userID, data)
	pipe.Expire(ctx, key, r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return ind, storeErr("typing.upsert", err)
	}
	return ind, nil
}

func (r *redisTypingRepository) List(ctx context.Context, conversationID string) ([]domain.TypingIndicator, error) {
	key := typingKey(conversationID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, storeErr("typing.list", err)
	}

	now := time.Now()
	out := make([]domain.TypingIndicator, 0, len(fields))
	var stale []string
	for user, raw := range fields {
		var ind domain.TypingIndicator
		if err := json.Unmarshal([]byte(raw), &ind); err != nil {
			logger.Log.Warn("typing decode", zap.String("conversation_id", conversationID), zap.Error(err))
			stale = append(stale, user)
			continue
		}
		if now.Sub(ind.UpdatedAt) > r.retention {
			stale = append(stale, user)
			continue
		}
		out = append(out, ind)
	}
	if len(stale) > 0 {
		if err := r.client.HDel(ctx, key, stale...).Err(); err != nil {
			logger.Log.Warn("typing prune", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return out, nil
}
