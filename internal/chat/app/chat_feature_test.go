package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeChatScenario,
		Options: &godog.Options{
			Paths:    []string{"features"}, // 指向 feature 檔相對路徑
			Format:   "pretty",
			Strict:   true,
			TestingT: t,
		},
	}

	// 若 suite.Run() != 0 表示測試失敗
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// chatFeature 每個 scenario 一份狀態
type chatFeature struct {
	svc      *ChatService
	sessions map[string]*ChatSession

	conv     *domain.Conversation
	created  bool
	lastSent *domain.Message
	lastErr  error
}

// 這個函式用來註冊 Gherkin 與 Step Definition 的對應
func InitializeChatScenario(sc *godog.ScenarioContext) {
	f := &chatFeature{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		stores := NewMemoryStores(5 * time.Second)
		stores.Directory = repository.NewMemoryUserDirectory(
			domain.UserProfile{ID: "alice", DisplayName: "Alice"},
			domain.UserProfile{ID: "bob", DisplayName: "Bob"},
			domain.UserProfile{ID: "carol", DisplayName: "Carol"},
		)
		*f = chatFeature{
			svc:      NewChatService(config.Chat{}, stores),
			sessions: make(map[string]*ChatSession),
		}
		return ctx, f.svc.Start(ctx)
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		for _, s := range f.sessions {
			s.Close()
		}
		return ctx, f.svc.Close()
	})

	sc.Step(`^使用者 "([^"]*)" 已連線$`, f.userConnected)
	sc.Step(`^"([^"]*)" 建立與 "([^"]*)" 的 1對1 聊天$`, f.createDirect)
	sc.Step(`^"([^"]*)" 建立群組 "([^"]*)" 成員有 "([^"]*)" 和 "([^"]*)"$`, f.createGroup)
	sc.Step(`^"([^"]*)" 發送訊息 "([^"]*)"$`, f.sendMessage)
	sc.Step(`^"([^"]*)" 刪除最後一則訊息$`, f.deleteLast)
	sc.Step(`^"([^"]*)" 開啟聊天室$`, f.selectConversation)
	sc.Step(`^"([^"]*)" 離開聊天室$`, f.leaveConversation)
	sc.Step(`^"([^"]*)" 的聊天列表最新訊息為 "([^"]*)" 且未讀 (\d+) 則$`, f.latestAndUnread)
	sc.Step(`^"([^"]*)" 的未讀數為 (\d+)$`, f.unreadIs)
	sc.Step(`^"([^"]*)" 的聊天列表有 (\d+) 個聊天室$`, f.listLength)
	sc.Step(`^"([^"]*)" 看到 (\d+) 則訊息$`, f.loadedMessages)
	sc.Step(`^"([^"]*)" 搜尋 "([^"]*)" 應該找到 (\d+) 則$`, f.searchFinds)
	sc.Step(`^聊天室不是新建立的$`, f.notCreated)
	sc.Step(`^應該得到 "([^"]*)" 錯誤$`, f.errorKind)
}

// eventually 重試直到 check 回傳 nil 或逾時
func eventually(check func() error) error {
	deadline := time.Now().Add(waitFor)
	for {
		err := check()
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(tick)
	}
}

func (f *chatFeature) session(user string) (*ChatSession, error) {
	s, ok := f.sessions[user]
	if !ok {
		return nil, fmt.Errorf("user %s is not connected", user)
	}
	return s, nil
}

func (f *chatFeature) userConnected(user string) error {
	s, err := f.svc.NewSession(user, nil)
	if err != nil {
		return err
	}
	f.sessions[user] = s
	_, err = s.ListConversations(context.Background(), false)
	return err
}

func (f *chatFeature) waitEntries(users ...string) error {
	for _, u := range users {
		s, err := f.session(u)
		if err != nil {
			return err
		}
		err = eventually(func() error {
			if _, ok := s.Entry(f.conv.ID); !ok {
				return fmt.Errorf("%s has no entry for %s", u, f.conv.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *chatFeature) createDirect(user, other string) error {
	return f.create(user, domain.CreateConversationInput{
		Type:           domain.ConversationDirect,
		ParticipantIDs: []string{other},
	}, other)
}

func (f *chatFeature) createGroup(user, name, m1, m2 string) error {
	return f.create(user, domain.CreateConversationInput{
		Type:           domain.ConversationGroup,
		Name:           name,
		ParticipantIDs: []string{m1, m2},
	}, m1, m2)
}

func (f *chatFeature) create(user string, in domain.CreateConversationInput, others ...string) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	f.conv, f.created, err = s.CreateConversation(context.Background(), in)
	if err != nil {
		return err
	}
	return f.waitEntries(append(others, user)...)
}

func (f *chatFeature) sendMessage(user, content string) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	if f.conv == nil {
		return fmt.Errorf("no conversation in scenario")
	}
	res, err := s.Send(context.Background(), domain.SendMessageInput{ConversationID: f.conv.ID, Content: content})
	f.lastErr = err
	if err == nil {
		f.lastSent = &res.Message
	}
	return nil
}

func (f *chatFeature) deleteLast(user string) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	if f.lastSent == nil {
		return fmt.Errorf("nothing was sent")
	}
	_, err = s.Delete(context.Background(), f.lastSent.ID)
	return err
}

func (f *chatFeature) selectConversation(user string) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	_, err = s.SelectConversation(context.Background(), f.conv.ID)
	return err
}

func (f *chatFeature) leaveConversation(user string) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	_, err = s.Leave(context.Background(), f.conv.ID)
	return err
}

func (f *chatFeature) latestAndUnread(user, content string, unread int) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	return eventually(func() error {
		e, ok := s.Entry(f.conv.ID)
		if !ok {
			return fmt.Errorf("%s has no entry", user)
		}
		if e.LatestMessage == nil || e.LatestMessage.Content != content {
			return fmt.Errorf("expected latest %q, got %+v", content, e.LatestMessage)
		}
		if e.UnreadCount != unread {
			return fmt.Errorf("expected %d unread, got %d", unread, e.UnreadCount)
		}
		return nil
	})
}

func (f *chatFeature) unreadIs(user string, unread int) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	return eventually(func() error {
		e, _ := s.Entry(f.conv.ID)
		if e.UnreadCount != unread {
			return fmt.Errorf("expected %d unread, got %d", unread, e.UnreadCount)
		}
		return nil
	})
}

func (f *chatFeature) listLength(user string, n int) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	list, err := s.ListConversations(context.Background(), false)
	if err != nil {
		return err
	}
	if len(list) != n {
		return fmt.Errorf("expected %d conversations, got %d", n, len(list))
	}
	return nil
}

func (f *chatFeature) loadedMessages(user string, n int) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	if got := len(s.Messages()); got != n {
		return fmt.Errorf("expected %d messages, got %d", n, got)
	}
	return nil
}

func (f *chatFeature) searchFinds(user, query string, n int) error {
	s, err := f.session(user)
	if err != nil {
		return err
	}
	hits, err := s.Search(context.Background(), query, 0)
	if err != nil {
		return err
	}
	if len(hits) != n {
		return fmt.Errorf("expected %d hits for %q, got %d", n, query, len(hits))
	}
	return nil
}

func (f *chatFeature) notCreated() error {
	if f.created {
		return fmt.Errorf("expected the existing conversation to be returned")
	}
	return nil
}

func (f *chatFeature) errorKind(kind string) error {
	if f.lastErr == nil {
		return fmt.Errorf("expected a %s error, got none", kind)
	}
	if got := domain.KindOf(f.lastErr); string(got) != kind {
		return fmt.Errorf("expected a %s error, got %s: %v", kind, got, f.lastErr)
	}
	return nil
}
