package app

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockConversationRepository Mock ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

// Create moke create conversation
func (m *MockConversationRepository) Create(ctx context.Context, c *domain.Conversation) (*domain.Conversation, bool, error) {
	args := m.Called(ctx, c)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

// FindByID moke find conversation by id
func (m *MockConversationRepository) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindByDirectKey moke find direct conversation
func (m *MockConversationRepository) FindByDirectKey(ctx context.Context, key string) (*domain.Conversation, error) {
	args := m.Called(ctx, key)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// ListForUser moke list conversations of a user
func (m *MockConversationRepository) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]domain.Conversation, error) {
	args := m.Called(ctx, userID, includeArchived)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// TouchLastMessage moke advance last_message_at
func (m *MockConversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

// MarkRead moke advance last_read_at
func (m *MockConversationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	return m.Called(ctx, id, userID, at).Error(0)
}

// SetArchived moke archive
func (m *MockConversationRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	return m.Called(ctx, id, archived).Error(0)
}

// AddParticipant moke add participant
func (m *MockConversationRepository) AddParticipant(ctx context.Context, id string, p domain.Participant) error {
	return m.Called(ctx, id, p).Error(0)
}

// RemoveParticipant moke remove participant
func (m *MockConversationRepository) RemoveParticipant(ctx context.Context, id, userID string, at time.Time) error {
	return m.Called(ctx, id, userID, at).Error(0)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) message(args mock.Arguments) (*domain.Message, error) {
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) messages(args mock.Arguments) ([]domain.Message, error) {
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// Insert moke insert msg
func (m *MockMessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// FindByID moke find msg
func (m *MockMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	return m.message(m.Called(ctx, id))
}

// List moke list msg page
func (m *MockMessageRepository) List(ctx context.Context, conversationID string, opts domain.ListOptions) ([]domain.Message, error) {
	return m.messages(m.Called(ctx, conversationID, opts))
}

// ListThread moke list thread
func (m *MockMessageRepository) ListThread(ctx context.Context, parentID string, limit int) ([]domain.Message, error) {
	return m.messages(m.Called(ctx, parentID, limit))
}

// Latest moke latest msg per conversation
func (m *MockMessageRepository) Latest(ctx context.Context, conversationIDs []string) (map[string]domain.Message, error) {
	args := m.Called(ctx, conversationIDs)
	if args.Get(0) != nil {
		return args.Get(0).(map[string]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// CountUnread moke count unread
func (m *MockMessageRepository) CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error) {
	args := m.Called(ctx, conversationID, userID, since)
	return args.Int(0), args.Error(1)
}

// UpdateContent moke edit
func (m *MockMessageRepository) UpdateContent(ctx context.Context, id, content string, at time.Time) (*domain.Message, error) {
	return m.message(m.Called(ctx, id, content, at))
}

// SoftDelete moke delete
func (m *MockMessageRepository) SoftDelete(ctx context.Context, id, deleterID string, at time.Time) (*domain.Message, error) {
	return m.message(m.Called(ctx, id, deleterID, at))
}

// AddReaction moke add reaction
func (m *MockMessageRepository) AddReaction(ctx context.Context, r domain.Reaction) (*domain.Message, error) {
	return m.message(m.Called(ctx, r))
}

// RemoveReaction moke remove reaction
func (m *MockMessageRepository) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Message, error) {
	return m.message(m.Called(ctx, messageID, userID, emoji))
}

// AddAttachment moke attach
func (m *MockMessageRepository) AddAttachment(ctx context.Context, messageID string, a domain.Attachment) error {
	return m.Called(ctx, messageID, a).Error(0)
}

// MockSearchIndexer Mock SearchIndexer
type MockSearchIndexer struct {
	mock.Mock
}

// Index moke index
func (m *MockSearchIndexer) Index(ctx context.Context, msg domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// Remove moke unindex
func (m *MockSearchIndexer) Remove(ctx context.Context, messageID string) error {
	return m.Called(ctx, messageID).Error(0)
}

// Search moke search
func (m *MockSearchIndexer) Search(ctx context.Context, query string, conversationIDs []string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, query, conversationIDs, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockBlobStore Mock BlobStore
type MockBlobStore struct {
	mock.Mock
}

// Put moke upload
func (m *MockBlobStore) Put(ctx context.Context, data []byte, meta domain.FileMeta) (string, error) {
	args := m.Called(ctx, data, meta)
	return args.String(0), args.Error(1)
}

// Get moke download
func (m *MockBlobStore) Get(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if args.Get(0) != nil {
		return args.Get(0).([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPresenceRepository Mock PresenceRepository
type MockPresenceRepository struct {
	mock.Mock
}

// Set moke set presence
func (m *MockPresenceRepository) Set(ctx context.Context, rec domain.PresenceRecord) error {
	return m.Called(ctx, rec).Error(0)
}

// Get moke get presence
func (m *MockPresenceRepository) Get(ctx context.Context, userID string) (domain.PresenceRecord, bool, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.PresenceRecord), args.Bool(1), args.Error(2)
}

// GetMany moke get presences
func (m *MockPresenceRepository) GetMany(ctx context.Context, userIDs []string) (map[string]domain.PresenceRecord, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) != nil {
		return args.Get(0).(map[string]domain.PresenceRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPublisher Mock Publisher
type MockPublisher struct {
	mock.Mock
}

// Publish moke publisher
func (m *MockPublisher) Publish(ctx context.Context, ev domain.Event) error {
	return m.Called(ctx, ev).Error(0)
}
