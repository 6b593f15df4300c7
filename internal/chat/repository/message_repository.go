package repository

import (
	"context"
	"errors"
	"time"

	"realtime_chat_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository messages with embedded reactions and attachments
type MessageRepository interface {
	Insert(ctx context.Context, m *domain.Message) error
	// FindByID returns deleted messages too.
	FindByID(ctx context.Context, id string) (*domain.Message, error)
	// List non-deleted messages of a conversation in canonical order: the
	// newest opts.Limit, or the opts.Limit right before message opts.Before.
	List(ctx context.Context, conversationID string, opts domain.ListOptions) ([]domain.Message, error)
	ListThread(ctx context.Context, parentID string, limit int) ([]domain.Message, error)
	// Latest newest non-deleted message per conversation.
	Latest(ctx context.Context, conversationIDs []string) (map[string]domain.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error)
	UpdateContent(ctx context.Context, id, content string, at time.Time) (*domain.Message, error)
	SoftDelete(ctx context.Context, id, deleterID string, at time.Time) (*domain.Message, error)
	// AddReaction is a no-op when (message, user, emoji) already exists.
	AddReaction(ctx context.Context, r domain.Reaction) (*domain.Message, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Message, error)
	AddAttachment(ctx context.Context, messageID string, a domain.Attachment) error
}

type mongoMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoMessageRepository create a MessageRepository on "messages"
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{coll: db.Collection("messages")}
}

var canonicalSort = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

var reverseSort = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (r *mongoMessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	if m.Reactions == nil {
		m.Reactions = []domain.Reaction{}
	}
	if m.Attachments == nil {
		m.Attachments = []domain.Attachment{}
	}
	_, err := r.coll.InsertOne(ctx, m)
	return storeErr("message.insert", err)
}

func (r *mongoMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, storeErr("message.find", err)
	}
	return &m, nil
}

func (r *mongoMessageRepository) List(ctx context.Context, conversationID string, opts domain.ListOptions) ([]domain.Message, error) {
	filter := bson.M{"conversation_id": conversationID, "is_deleted": false}
	if opts.Before != "" {
		cursor, err := r.FindByID(ctx, opts.Before)
		if err != nil {
			return nil, err
		}
		// (created_at, _id) < (cursor.created_at, cursor._id)
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": cursor.CreatedAt}},
			bson.M{"created_at": cursor.CreatedAt, "_id": bson.M{"$lt": cursor.ID}},
		}
	}

	// newest first, then flipped
	findOpts := options.Find().SetSort(reverseSort).SetLimit(int64(opts.Limit))
	cur, err := r.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, storeErr("message.list", err)
	}
	var out []domain.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("message.list", err)
	}
	domain.SortMessages(out)
	return out, nil
}

func (r *mongoMessageRepository) ListThread(ctx context.Context, parentID string, limit int) ([]domain.Message, error) {
	filter := bson.M{"parent_message_id": parentID, "is_deleted": false}
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(canonicalSort).SetLimit(int64(limit)))
	if err != nil {
		return nil, storeErr("message.thread", err)
	}
	var out []domain.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("message.thread", err)
	}
	return out, nil
}

func (r *mongoMessageRepository) Latest(ctx context.Context, conversationIDs []string) (map[string]domain.Message, error) {
	out := make(map[string]domain.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"conversation_id": bson.M{"$in": conversationIDs}, "is_deleted": false}}},
		{{Key: "$sort", Value: reverseSort}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "latest": bson.M{"$first": "$$ROOT"}}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeErr("message.latest", err)
	}
	var rows []struct {
		ID     string         `bson:"_id"`
		Latest domain.Message `bson:"latest"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storeErr("message.latest", err)
	}
	for _, row := range rows {
		out[row.ID] = row.Latest
	}
	return out, nil
}

func (r *mongoMessageRepository) CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"is_deleted":      false,
		"sender_id":       bson.M{"$ne": userID},
		"created_at":      bson.M{"$gt": since},
	})
	if err != nil {
		return 0, storeErr("message.count_unread", err)
	}
	return int(n), nil
}

// updateLive applies update to a non-deleted message and returns it.
func (r *mongoMessageRepository) updateLive(ctx context.Context, op string, filter bson.M, update bson.M) (*domain.Message, error) {
	filter["is_deleted"] = false
	var m domain.Message
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &m, nil
}

func (r *mongoMessageRepository) UpdateContent(ctx context.Context, id, content string, at time.Time) (*domain.Message, error) {
	return r.updateLive(ctx, "message.edit", bson.M{"_id": id}, bson.M{"$set": bson.M{
		"content":    content,
		"is_edited":  true,
		"edited_at":  at,
		"updated_at": at,
	}})
}

func (r *mongoMessageRepository) SoftDelete(ctx context.Context, id, deleterID string, at time.Time) (*domain.Message, error) {
	return r.updateLive(ctx, "message.delete", bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_deleted": true,
		"deleted_at": at,
		"deleted_by": deleterID,
		"updated_at": at,
	}})
}

func (r *mongoMessageRepository) AddReaction(ctx context.Context, re domain.Reaction) (*domain.Message, error) {
	m, err := r.updateLive(ctx, "message.react", bson.M{
		"_id": re.MessageID,
		"reactions": bson.M{"$not": bson.M{"$elemMatch": bson.M{
			"user_id": re.UserID,
			"emoji":   re.Emoji,
		}}},
	}, bson.M{"$push": bson.M{"reactions": re}})
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// already reacted, or message missing/deleted
	existing, ferr := r.FindByID(ctx, re.MessageID)
	if ferr != nil {
		return nil, ferr
	}
	if existing.IsDeleted {
		return nil, domain.NewNotFoundError("message.react", "message deleted")
	}
	return existing, nil
}

func (r *mongoMessageRepository) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Message, error) {
	return r.updateLive(ctx, "message.unreact", bson.M{"_id": messageID}, bson.M{"$pull": bson.M{
		"reactions": bson.M{"user_id": userID, "emoji": emoji},
	}})
}

func (r *mongoMessageRepository) AddAttachment(ctx context.Context, messageID string, a domain.Attachment) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": messageID, "is_deleted": false}, bson.M{"$push": bson.M{"attachments": a}})
	if err != nil {
		return storeErr("message.attach", err)
	}
	if res.MatchedCount == 0 {
		return domain.NewNotFoundError("message.attach", "message not found")
	}
	return nil
}
