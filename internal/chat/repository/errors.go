package repository

import (
	"errors"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/database"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
)

// storeErr maps driver errors into the domain taxonomy.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, redis.Nil) || errors.Is(err, database.ErrRedisNil) {
		return &domain.ChatError{Kind: domain.KindNotFound, Op: op, Err: err}
	}
	return domain.Transient(op, err)
}
