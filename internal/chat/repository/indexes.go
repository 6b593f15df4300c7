package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the mongo repositories rely on.
// direct_key is unique so two concurrent direct creates for the same
// pair cannot both succeed.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	conversations := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().
				SetName("uniq_direct_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"direct_key": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "participants.user_id", Value: 1}, {Key: "last_message_at", Value: -1}},
			Options: options.Index().SetName("participant_recent"),
		},
	}
	if _, err := db.Collection("conversations").Indexes().CreateMany(ctx, conversations); err != nil {
		return fmt.Errorf("conversations indexes: %w", err)
	}

	messages := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("conversation_order"),
		},
		{
			Keys:    bson.D{{Key: "parent_message_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("thread_order").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "content", Value: "text"}},
			Options: options.Index().SetName("content_text"),
		},
	}
	if _, err := db.Collection("messages").Indexes().CreateMany(ctx, messages); err != nil {
		return fmt.Errorf("messages indexes: %w", err)
	}
	return nil
}
