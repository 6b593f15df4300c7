package repository

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConversationRepository conversations and their embedded participants
type ConversationRepository interface {
	// Create inserts c. For a direct conversation whose DirectKey already
	// exists the stored one is returned with created=false.
	Create(ctx context.Context, c *domain.Conversation) (conv *domain.Conversation, created bool, err error)
	FindByID(ctx context.Context, id string) (*domain.Conversation, error)
	FindByDirectKey(ctx context.Context, key string) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID string, includeArchived bool) ([]domain.Conversation, error)
	// TouchLastMessage last_message_at = max(current, at)
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
	// MarkRead participant last_read_at = max(current, at)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	SetArchived(ctx context.Context, id string, archived bool) error
	// AddParticipant appends p, or re-activates a participant that left.
	AddParticipant(ctx context.Context, id string, p domain.Participant) error
	RemoveParticipant(ctx context.Context, id, userID string, at time.Time) error
}

type mongoConversationRepository struct {
	coll *mongo.Collection
}

// NewMongoConversationRepository create a ConversationRepository on "conversations"
func NewMongoConversationRepository(db *mongo.Database) ConversationRepository {
	return &mongoConversationRepository{coll: db.Collection("conversations")}
}

func (r *mongoConversationRepository) Create(ctx context.Context, c *domain.Conversation) (*domain.Conversation, bool, error) {
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) && c.DirectKey != "" {
			existing, ferr := r.FindByDirectKey(ctx, c.DirectKey)
			return existing, false, ferr
		}
		return nil, false, storeErr("conversation.create", err)
	}
	return c, true, nil
}

func (r *mongoConversationRepository) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, storeErr("conversation.find", err)
	}
	return &c, nil
}

func (r *mongoConversationRepository) FindByDirectKey(ctx context.Context, key string) (*domain.Conversation, error) {
	var c domain.Conversation
	filter := bson.M{"type": domain.ConversationDirect, "direct_key": key}
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, storeErr("conversation.find_direct", err)
	}
	return &c, nil
}

func (r *mongoConversationRepository) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]domain.Conversation, error) {
	filter := bson.M{
		"participants": bson.M{"$elemMatch": bson.M{
			"user_id": userID,
			"left_at": bson.M{"$exists": false},
		}},
	}
	if !includeArchived {
		filter["is_archived"] = false
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "last_message_at", Value: -1},
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: 1},
	})

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr("conversation.list", err)
	}
	var out []domain.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("conversation.list", err)
	}
	return out, nil
}

func (r *mongoConversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$max": bson.M{"last_message_at": at}})
	if err != nil {
		return storeErr("conversation.touch", err)
	}
	if res.MatchedCount == 0 {
		return domain.NewNotFoundError("conversation.touch", "conversation not found")
	}
	return nil
}

func (r *mongoConversationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	filter := bson.M{"_id": id, "participants.user_id": userID}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$max": bson.M{"participants.$.last_read_at": at}})
	if err != nil {
		return storeErr("conversation.mark_read", err)
	}
	if res.MatchedCount == 0 {
		return domain.NewNotFoundError("conversation.mark_read", "participant not found")
	}
	return nil
}

func (r *mongoConversationRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_archived": archived}})
	if err != nil {
		return storeErr("conversation.archive", err)
	}
	if res.MatchedCount == 0 {
		return domain.NewNotFoundError("conversation.archive", "conversation not found")
	}
	return nil
}

func (r *mongoConversationRepository) AddParticipant(ctx context.Context, id string, p domain.Participant) error {
	// 已離開的成員重新加入
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "participants": bson.M{"$elemMatch": bson.M{
			"user_id": p.UserID,
			"left_at": bson.M{"$exists": true},
		}}},
		bson.M{
			"$set":   bson.M{"participants.$.joined_at": p.JoinedAt},
			"$unset": bson.M{"participants.$.left_at": ""},
		})
	if err != nil {
		return storeErr("conversation.add_participant", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	res, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "participants.user_id": bson.M{"$ne": p.UserID}},
		bson.M{"$push": bson.M{"participants": p}})
	if err != nil {
		return storeErr("conversation.add_participant", err)
	}
	if res.MatchedCount == 0 {
		// either missing, or the user is already active
		_, err := r.FindByID(ctx, id)
		return err
	}
	return nil
}

func (r *mongoConversationRepository) RemoveParticipant(ctx context.Context, id, userID string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "participants.user_id": userID},
		bson.M{"$set": bson.M{"participants.$.left_at": at}})
	if err != nil {
		return storeErr("conversation.remove_participant", err)
	}
	if res.MatchedCount == 0 {
		return domain.NewNotFoundError("conversation.remove_participant", "participant not found")
	}
	return nil
}
