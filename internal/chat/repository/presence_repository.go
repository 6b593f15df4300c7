package repository

import (
	"context"
	"errors"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/database"

	"github.com/go-redis/redis/v8"
)

// PresenceRepository one record per user, last write wins
type PresenceRepository interface {
	Set(ctx context.Context, rec domain.PresenceRecord) error
	// Get returns ok=false when the user has no record.
	Get(ctx context.Context, userID string) (domain.PresenceRecord, bool, error)
	GetMany(ctx context.Context, userIDs []string) (map[string]domain.PresenceRecord, error)
}

type redisPresenceRepository struct {
	store     database.RedisRepository[domain.PresenceRecord]
	retention time.Duration
}

// NewRedisPresenceRepository keys are presence:<user>. Records outlive the
// presence timeout by retention so last_seen stays readable.
func NewRedisPresenceRepository(client *redis.Client, retention time.Duration) PresenceRepository {
	return &redisPresenceRepository{
		store:     database.NewRedisRepository[domain.PresenceRecord](client),
		retention: retention,
	}
}

func presenceKey(userID string) string { return "presence:" + userID }

func (r *redisPresenceRepository) Set(ctx context.Context, rec domain.PresenceRecord) error {
	return storeErr("presence.set", r.store.Set(ctx, presenceKey(rec.UserID), rec, r.retention))
}

func (r *redisPresenceRepository) Get(ctx context.Context, userID string) (domain.PresenceRecord, bool, error) {
	rec, err := r.store.Get(ctx, presenceKey(userID))
	if errors.Is(err, database.ErrRedisNil) {
		return domain.PresenceRecord{}, false, nil
	}
	if err != nil {
		return domain.PresenceRecord{}, false, storeErr("presence.get", err)
	}
	return rec, true, nil
}

func (r *redisPresenceRepository) GetMany(ctx context.Context, userIDs []string) (map[string]domain.PresenceRecord, error) {
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	byKey, err := r.store.MGet(ctx, keys...)
	if err != nil {
		return nil, storeErr("presence.get_many", err)
	}
	out := make(map[string]domain.PresenceRecord, len(byKey))
	for _, rec := range byKey {
		out[rec.UserID] = rec
	}
	return out, nil
}
