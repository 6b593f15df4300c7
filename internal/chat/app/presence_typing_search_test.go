package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClock returns a settable time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: domain.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newPresenceUseCase() (*PresenceUseCase, *MockPublisher, *fakeClock) {
	pub := new(MockPublisher)
	clock := newFakeClock()
	uc := NewPresenceUseCase(repository.NewMemoryPresenceRepository(), pub, time.Minute)
	uc.now = clock.Now
	return uc, pub, clock
}

// 測試 heartbeat 只在實際狀態改變時發布
func TestPresenceUseCase_HeartbeatPublishesOnChange(t *testing.T) {
	uc, pub, clock := newPresenceUseCase()
	ctx := context.Background()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	rec, err := uc.Heartbeat(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, rec.Status)
	pub.AssertNumberOfCalls(t, "Publish", 1)

	clock.Advance(10 * time.Second)
	_, err = uc.Heartbeat(ctx, "alice")
	require.NoError(t, err)
	pub.AssertNumberOfCalls(t, "Publish", 1)

	// 超過 timeout 後重新上線要再發布一次
	clock.Advance(5 * time.Minute)
	status, err := uc.EffectiveStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, status)
	_, err = uc.Heartbeat(ctx, "alice")
	require.NoError(t, err)
	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestPresenceUseCase_HeartbeatKeepsChosenStatus(t *testing.T) {
	uc, pub, _ := newPresenceUseCase()
	ctx := context.Background()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	_, err := uc.SetStatus(ctx, "alice", domain.StatusOffline, "")
	require.NoError(t, err)
	rec, err := uc.Heartbeat(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, rec.Status)

	_, err = uc.SetStatus(ctx, "alice", "sleeping", "")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestPresenceUseCase_EffectiveStatuses(t *testing.T) {
	uc, pub, clock := newPresenceUseCase()
	ctx := context.Background()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	_, err := uc.SetStatus(ctx, "alice", domain.StatusBusy, "in a meeting")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = uc.SetStatus(ctx, "bob", domain.StatusAway, "")
	require.NoError(t, err)

	got, err := uc.EffectiveStatuses(ctx, []string{"alice", "bob", "carol", "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.PresenceStatus{
		"alice": domain.StatusOffline,
		"bob":   domain.StatusAway,
		"carol": domain.StatusOffline,
	}, got)
}

func newMemoryConversation(t *testing.T, repo repository.ConversationRepository, users ...string) *domain.Conversation {
	t.Helper()
	conv := groupConversation("c1", map[string]domain.ParticipantRole{})
	for _, u := range users {
		conv.Participants = append(conv.Participants, domain.Participant{UserID: u, Role: domain.RoleMember, JoinedAt: conv.CreatedAt})
	}
	_, _, err := repo.Create(context.Background(), conv)
	require.NoError(t, err)
	return conv
}

func TestTypingUseCase_ActiveTypersExpire(t *testing.T) {
	convRepo := repository.NewMemoryConversationRepository()
	newMemoryConversation(t, convRepo, "alice", "bob", "carol")
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	convUC := NewConversationUseCase(convRepo, repository.NewMemoryMessageRepository(), repository.NewMemoryUserDirectory(), pub)
	clock := newFakeClock()
	uc := NewTypingUseCase(convUC, repository.NewMemoryTypingRepository(5*time.Second), pub, 5*time.Second)
	uc.now = clock.Now
	ctx := context.Background()

	_, err := uc.SetTyping(ctx, "c1", "alice", true)
	require.NoError(t, err)
	clock.Advance(3 * time.Second)
	_, err = uc.SetTyping(ctx, "c1", "bob", true)
	require.NoError(t, err)

	typers, err := uc.ActiveTypers(ctx, "c1", "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, typers)

	// 自己不在列表內
	typers, err = uc.ActiveTypers(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, typers)

	// alice 沒有更新, 過期
	clock.Advance(3 * time.Second)
	typers, err = uc.ActiveTypers(ctx, "c1", "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, typers)

	_, err = uc.RefreshTyping(ctx, "c1", "alice")
	require.NoError(t, err)
	_, err = uc.SetTyping(ctx, "c1", "bob", false)
	require.NoError(t, err)
	typers, err = uc.ActiveTypers(ctx, "c1", "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, typers)

	// refresh 不發布事件
	pub.AssertNumberOfCalls(t, "Publish", 3)

	_, err = uc.SetTyping(ctx, "c1", "mallory", true)
	assert.True(t, errors.Is(err, domain.ErrPermission))
}

func TestSearchUseCase_SkipsDeletedAndForeign(t *testing.T) {
	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	indexer := new(MockSearchIndexer)
	uc := NewSearchUseCase(convRepo, msgRepo, indexer, repository.NewMemoryUserDirectory(), 0)
	ctx := context.Background()

	_, err := uc.Search(ctx, "alice", "   ", 0)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	convRepo.On("ListForUser", mock.Anything, "alice", true).Return([]domain.Conversation{{ID: "c1"}}, nil)
	indexer.On("Search", mock.Anything, "deploy", []string{"c1"}, 20).Return([]domain.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "deploy now"},
		{ID: "m2", ConversationID: "c1", SenderID: "bob", IsDeleted: true},
		{ID: "m3", ConversationID: "c9", SenderID: "bob", Content: "deploy elsewhere"},
		{ID: "m4", ConversationID: "c1", SenderID: "bob", Content: "deploy later"},
		{ID: "m5", ConversationID: "c1", SenderID: "bob", Content: "deploy gone"},
	}, nil)
	msgRepo.On("FindByID", mock.Anything, "m1").Return(&domain.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "deploy now"}, nil)
	msgRepo.On("FindByID", mock.Anything, "m2").Return(&domain.Message{ID: "m2", ConversationID: "c1", SenderID: "bob", IsDeleted: true}, nil)
	msgRepo.On("FindByID", mock.Anything, "m3").Return(&domain.Message{ID: "m3", ConversationID: "c9", SenderID: "bob", Content: "deploy elsewhere"}, nil)
	// index 還留著, 但資料已刪除
	msgRepo.On("FindByID", mock.Anything, "m4").Return(&domain.Message{ID: "m4", ConversationID: "c1", SenderID: "bob", IsDeleted: true}, nil)
	msgRepo.On("FindByID", mock.Anything, "m5").Return(nil, domain.NewNotFoundError("message.find", "message not found"))

	res, err := uc.Search(ctx, "alice", "deploy", 500)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "m1", res[0].Message.ID)
	assert.Equal(t, "c1", res[0].Conversation.ID)
	require.NotNil(t, res[0].Message.Sender)
	indexer.AssertExpectations(t)
}

// gatedIndexer blocks Index for one content until released.
type gatedIndexer struct {
	repository.SearchIndexer
	hold    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedIndexer) Index(ctx context.Context, m domain.Message) error {
	if m.Content == g.hold {
		close(g.entered)
		<-g.release
	}
	return g.SearchIndexer.Index(ctx, m)
}

// 測試編輯的 reindex 晚於刪除完成時, 搜尋仍不會回傳已刪除訊息
func TestSearchUseCase_EditRacingDelete(t *testing.T) {
	stores := NewMemoryStores(5 * time.Second)
	gate := &gatedIndexer{
		SearchIndexer: stores.Indexer,
		hold:          "secret plan v2",
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	stores.Indexer = gate
	svc := NewChatService(config.Chat{}, stores)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Close()

	conv, _, err := svc.Conversations.Create(ctx, domain.CreateConversationInput{
		Type:           domain.ConversationDirect,
		CreatorID:      "alice",
		ParticipantIDs: []string{"bob"},
	})
	require.NoError(t, err)
	res, err := svc.Messages.Send(ctx, domain.SendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: "secret plan"})
	require.NoError(t, err)

	edited := make(chan error, 1)
	go func() {
		_, err := svc.Messages.Edit(ctx, res.Message.ID, "alice", "secret plan v2")
		edited <- err
	}()

	select {
	case <-gate.entered:
	case <-time.After(waitFor):
		t.Fatal("edit never reached the indexer")
	}
	_, err = svc.Messages.Delete(ctx, res.Message.ID, "alice")
	require.NoError(t, err)
	close(gate.release)
	require.NoError(t, <-edited)

	hits, err := svc.Search.Search(ctx, "bob", "secret", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchUseCase_NoConversations(t *testing.T) {
	convRepo := new(MockConversationRepository)
	indexer := new(MockSearchIndexer)
	uc := NewSearchUseCase(convRepo, new(MockMessageRepository), indexer, repository.NewMemoryUserDirectory(), 20)
	convRepo.On("ListForUser", mock.Anything, "alice", true).Return([]domain.Conversation{}, nil)

	res, err := uc.Search(context.Background(), "alice", "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, res)
	indexer.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
