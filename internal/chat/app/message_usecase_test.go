package app

import (
	"context"
	"errors"
	"testing"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockedMessageUseCase struct {
	uc       *MessageUseCase
	convRepo *MockConversationRepository
	msgRepo  *MockMessageRepository
	indexer  *MockSearchIndexer
	blobs    *MockBlobStore
	pub      *MockPublisher
}

func newMockedMessageUseCase() mockedMessageUseCase {
	m := mockedMessageUseCase{
		convRepo: new(MockConversationRepository),
		msgRepo:  new(MockMessageRepository),
		indexer:  new(MockSearchIndexer),
		blobs:    new(MockBlobStore),
		pub:      new(MockPublisher),
	}
	dir := repository.NewMemoryUserDirectory(domain.UserProfile{ID: "alice", DisplayName: "Alice"})
	convUC := NewConversationUseCase(m.convRepo, m.msgRepo, dir, m.pub)
	m.uc = NewMessageUseCase(convUC, m.msgRepo, m.indexer, m.blobs, dir, m.pub, 0)
	return m
}

// 測試傳送訊息: 存檔後上傳附件, 失敗的附件回報但訊息保留
func TestMessageUseCase_SendWithFailedAttachment(t *testing.T) {
	m := newMockedMessageUseCase()
	conv := groupConversation("c1", map[string]domain.ParticipantRole{"alice": domain.RoleMember})
	m.convRepo.On("FindByID", mock.Anything, "c1").Return(conv, nil)
	m.convRepo.On("TouchLastMessage", mock.Anything, "c1", mock.Anything).Return(nil)
	m.msgRepo.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
	m.msgRepo.On("AddAttachment", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.blobs.On("Put", mock.Anything, mock.Anything, mock.MatchedBy(func(f domain.FileMeta) bool { return f.FileName == "a.png" })).
		Return("mem://attachments/x/a.png", nil)
	m.blobs.On("Put", mock.Anything, mock.Anything, mock.MatchedBy(func(f domain.FileMeta) bool { return f.FileName == "b.bin" })).
		Return("", domain.Transient("blob.put", errors.New("minio unavailable")))
	m.indexer.On("Index", mock.Anything, mock.Anything).Return(nil)
	m.pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev domain.Event) bool {
		return ev.Topic() == domain.TopicMessages && ev.Op() == domain.OpInsert
	})).Return(nil)

	res, err := m.uc.Send(context.Background(), domain.SendMessageInput{
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "see attached",
		Attachments: []domain.UploadFile{
			{FileMeta: domain.FileMeta{FileName: "a.png", MimeType: "image/png"}, Data: []byte{1, 2}},
			{FileMeta: domain.FileMeta{FileName: "b.bin"}, Data: []byte{3}},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.MessageText, res.Message.Type)
	require.Len(t, res.Message.Attachments, 1)
	assert.Equal(t, domain.MessageImage, res.Message.Attachments[0].FileType)
	assert.Equal(t, int64(2), res.Message.Attachments[0].Size)
	require.Len(t, res.FailedAttachments, 1)
	assert.Equal(t, "b.bin", res.FailedAttachments[0].FileName)
	require.NotNil(t, res.Message.Sender)
	assert.Equal(t, "Alice", res.Message.Sender.DisplayName)
	m.msgRepo.AssertNumberOfCalls(t, "AddAttachment", 1)
	m.pub.AssertExpectations(t)
}

func TestMessageUseCase_SendValidation(t *testing.T) {
	m := newMockedMessageUseCase()
	ctx := context.Background()

	_, err := m.uc.Send(ctx, domain.SendMessageInput{ConversationID: "c1", SenderID: "alice", Content: "  "})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = m.uc.Send(ctx, domain.SendMessageInput{ConversationID: "c1", SenderID: "alice", Content: "x", Type: "sticker"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	conv := groupConversation("c1", map[string]domain.ParticipantRole{"alice": domain.RoleMember})
	conv.IsArchived = true
	m.convRepo.On("FindByID", mock.Anything, "c1").Return(conv, nil)
	_, err = m.uc.Send(ctx, domain.SendMessageInput{ConversationID: "c1", SenderID: "alice", Content: "x"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = m.uc.Send(ctx, domain.SendMessageInput{ConversationID: "c1", SenderID: "bob", Content: "x"})
	assert.True(t, errors.Is(err, domain.ErrPermission))
	m.msgRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

// 測試回覆的訊息必須在同一個 conversation
func TestMessageUseCase_SendReplyOtherConversation(t *testing.T) {
	m := newMockedMessageUseCase()
	conv := groupConversation("c1", map[string]domain.ParticipantRole{"alice": domain.RoleMember})
	m.convRepo.On("FindByID", mock.Anything, "c1").Return(conv, nil)
	m.msgRepo.On("FindByID", mock.Anything, "m9").Return(&domain.Message{ID: "m9", ConversationID: "c2"}, nil)

	_, err := m.uc.Send(context.Background(), domain.SendMessageInput{
		ConversationID:   "c1",
		SenderID:         "alice",
		Content:          "re",
		ReplyToMessageID: "m9",
	})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestMessageUseCase_EditOnlySender(t *testing.T) {
	m := newMockedMessageUseCase()
	conv := groupConversation("c1", map[string]domain.ParticipantRole{"alice": domain.RoleMember, "bob": domain.RoleMember})
	m.convRepo.On("FindByID", mock.Anything, "c1").Return(conv, nil)
	m.msgRepo.On("FindByID", mock.Anything, "m1").Return(&domain.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}, nil)

	_, err := m.uc.Edit(context.Background(), "m1", "bob", "hijack")
	assert.True(t, errors.Is(err, domain.ErrPermission))

	_, err = m.uc.Edit(context.Background(), "m1", "alice", "")
	assert.True(t, errors.Is(err, domain.ErrValidation))
	m.msgRepo.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// 測試離開聊天室後不能再編輯自己的舊訊息
func TestMessageUseCase_EditAfterLeaving(t *testing.T) {
	m := newMockedMessageUseCase()
	conv := groupConversation("c1", map[string]domain.ParticipantRole{"alice": domain.RoleMember, "bob": domain.RoleMember})
	left := domain.Now()
	for i := range conv.Participants {
		if conv.Participants[i].UserID == "alice" {
			conv.Participants[i].LeftAt = &left
		}
	}
	m.convRepo.On("FindByID", mock.Anything, "c1").Return(conv, nil)
	m.msgRepo.On("FindByID", mock.Anything, "m1").Return(&domain.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "old"}, nil)

	_, err := m.uc.Edit(context.Background(), "m1", "alice", "rewritten")
	assert.True(t, errors.Is(err, domain.ErrPermission))
	m.msgRepo.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.indexer.AssertNotCalled(t, "Index", mock.Anything, mock.Anything)
}

// 測試 moderator 可刪除他人訊息, 回傳內容已遮蔽
func TestMessageUseCase_DeleteByModerator(t *testing.T) {
	m := newMockedMessageUseCase()
	conv := groupConversation("c1", map[string]domain.ParticipantRole{
		"alice": domain.RoleMember,
		"mod":   domain.RoleModerator,
		"bob":   domain.RoleMember,
	})
	orig := &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "oops"}
	now := domain.Now()
	deleted := *orig
	deleted.IsDeleted = true
	deleted.DeletedAt = &now
	deleted.DeletedBy = "mod"

	m.msgRepo.On("FindByID", mock.Anything, "m1").Return(orig, nil)
	m.convRepo.On("FindByID", mock.Anything, "c1").Return(conv, nil)
	m.msgRepo.On("SoftDelete", mock.Anything, "m1", "mod", mock.Anything).Return(&deleted, nil)
	m.indexer.On("Remove", mock.Anything, "m1").Return(nil)
	m.pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev domain.Event) bool {
		me, ok := ev.(domain.MessagesEvent)
		return ok && me.Message.IsDeleted && me.Message.Content == ""
	})).Return(nil)

	_, err := m.uc.Delete(context.Background(), "m1", "bob")
	assert.True(t, errors.Is(err, domain.ErrPermission))

	got, err := m.uc.Delete(context.Background(), "m1", "mod")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)
	m.indexer.AssertExpectations(t)
	m.pub.AssertExpectations(t)
}

func TestMessageUseCase_DeletedMessageIsNotFound(t *testing.T) {
	m := newMockedMessageUseCase()
	m.msgRepo.On("FindByID", mock.Anything, "m1").Return(&domain.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", IsDeleted: true}, nil)

	_, err := m.uc.Delete(context.Background(), "m1", "alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.uc.AddReaction(context.Background(), "m1", "alice", "👍")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.uc.AddReaction(context.Background(), "m1", "alice", "")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestMessageUseCase_ListClampsLimit(t *testing.T) {
	m := newMockedMessageUseCase()
	conv := groupConversation("c1", map[string]domain.ParticipantRole{"alice": domain.RoleMember})
	m.convRepo.On("FindByID", mock.Anything, "c1").Return(conv, nil)
	m.msgRepo.On("List", mock.Anything, "c1", domain.ListOptions{Limit: maxPageSize}).Return([]domain.Message{}, nil).Once()
	m.msgRepo.On("List", mock.Anything, "c1", domain.ListOptions{Limit: 50, Before: "m5"}).Return([]domain.Message{}, nil).Once()

	_, err := m.uc.List(context.Background(), "c1", "alice", domain.ListOptions{Limit: 10000})
	require.NoError(t, err)
	_, err = m.uc.List(context.Background(), "c1", "alice", domain.ListOptions{Before: "m5"})
	require.NoError(t, err)
	m.msgRepo.AssertExpectations(t)
}
