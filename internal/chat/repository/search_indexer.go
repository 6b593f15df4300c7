package repository

import (
	"context"
	"strings"
	"unicode"

	"realtime_chat_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SearchIndexer full-text index over message content
type SearchIndexer interface {
	Index(ctx context.Context, m domain.Message) error
	Remove(ctx context.Context, messageID string) error
	// Search matches every query term, newest first, never deleted messages.
	Search(ctx context.Context, query string, conversationIDs []string, limit int) ([]domain.Message, error)
}

// Tokenize lower-cased letter/digit runs.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

type mongoSearchIndexer struct {
	coll *mongo.Collection
}

// NewMongoSearchIndexer searches the "content_text" index of messages; the
// index follows writes on its own so Index and Remove have nothing to do.
func NewMongoSearchIndexer(db *mongo.Database) SearchIndexer {
	return &mongoSearchIndexer{coll: db.Collection("messages")}
}

func (s *mongoSearchIndexer) Index(context.Context, domain.Message) error { return nil }

func (s *mongoSearchIndexer) Remove(context.Context, string) error { return nil }

func (s *mongoSearchIndexer) Search(ctx context.Context, query string, conversationIDs []string, limit int) ([]domain.Message, error) {
	terms := Tokenize(query)
	if len(terms) == 0 || len(conversationIDs) == 0 {
		return []domain.Message{}, nil
	}
	// quoted terms are ANDed by $text
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}

	filter := bson.M{
		"$text":           bson.M{"$search": strings.Join(quoted, " ")},
		"conversation_id": bson.M{"$in": conversationIDs},
		"is_deleted":      false,
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(reverseSort).SetLimit(int64(limit)))
	if err != nil {
		return nil, storeErr("search", err)
	}
	out := []domain.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("search", err)
	}
	return out, nil
}
