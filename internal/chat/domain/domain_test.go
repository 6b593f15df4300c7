package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLess_CreatedAtThenID(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "c", CreatedAt: base.Add(time.Second)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}

	SortMessages(msgs)

	// 同一毫秒的訊息以 id 排序
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.False(t, MessageLess(&msgs[0], &msgs[0]))
}

func TestDirectKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, DirectKey("alice", "bob"), DirectKey("bob", "alice"))
	assert.Equal(t, "alice|bob", DirectKey("bob", "alice"))
	assert.NotEqual(t, DirectKey("alice", "bob"), DirectKey("alice", "carol"))
}

func TestMessage_Redacted(t *testing.T) {
	now := Now()
	m := Message{
		ID:          "m1",
		Content:     "secret",
		IsDeleted:   true,
		DeletedAt:   &now,
		Reactions:   []Reaction{{Emoji: "👍"}},
		Attachments: []Attachment{{FileName: "a.png"}},
	}

	r := m.Redacted()
	assert.Empty(t, r.Content)
	assert.Nil(t, r.Reactions)
	assert.Nil(t, r.Attachments)
	assert.True(t, r.IsDeleted)
	// 原本的值不受影響
	assert.Equal(t, "secret", m.Content)

	live := Message{ID: "m2", Content: "hello"}
	assert.Equal(t, "hello", live.Redacted().Content)
}

func TestFileTypeFromMIME(t *testing.T) {
	tests := map[string]MessageType{
		"image/png":       MessageImage,
		" Video/MP4":      MessageVideo,
		"audio/mpeg":      MessageAudio,
		"application/pdf": MessageFile,
		"":                MessageFile,
	}
	for mime, want := range tests {
		assert.Equal(t, want, FileTypeFromMIME(mime), mime)
	}
}

func TestPresenceRecord_EffectiveStatus(t *testing.T) {
	now := Now()
	timeout := time.Minute

	rec := PresenceRecord{UserID: "u1", Status: StatusBusy, LastSeen: now.Add(-30 * time.Second)}
	assert.Equal(t, StatusBusy, rec.EffectiveStatus(now, timeout))

	// 超過 timeout 一律視為離線
	rec.LastSeen = now.Add(-2 * time.Minute)
	assert.Equal(t, StatusOffline, rec.EffectiveStatus(now, timeout))

	assert.Equal(t, StatusOffline, PresenceRecord{}.EffectiveStatus(now, timeout))
}

func TestActiveTypers_ExpiredAndStopped(t *testing.T) {
	now := Now()
	expiry := 5 * time.Second
	indicators := []TypingIndicator{
		{UserID: "zoe", IsTyping: true, UpdatedAt: now.Add(-time.Second)},
		{UserID: "amy", IsTyping: true, UpdatedAt: now},
		{UserID: "old", IsTyping: true, UpdatedAt: now.Add(-10 * time.Second)},
		{UserID: "stop", IsTyping: false, UpdatedAt: now},
	}

	assert.Equal(t, []string{"amy", "zoe"}, ActiveTypers(indicators, now, expiry))
	assert.Empty(t, ActiveTypers(nil, now, expiry))
}

func TestDisplayName(t *testing.T) {
	profiles := map[string]UserProfile{"bob": {ID: "bob", DisplayName: "Bob"}}

	direct := &Conversation{Type: ConversationDirect, Participants: []Participant{{UserID: "alice"}, {UserID: "bob"}}}
	assert.Equal(t, "Bob", DisplayName(direct, "alice", profiles))
	// 沒有 profile 時回傳對方 id
	assert.Equal(t, "alice", DisplayName(direct, "bob", profiles))

	group := &Conversation{Type: ConversationGroup, Name: "team", Participants: []Participant{{UserID: "alice"}}}
	assert.Equal(t, "team", DisplayName(group, "alice", profiles))
}

func TestUnreadCount(t *testing.T) {
	read := Now()
	msgs := []Message{
		{ID: "1", SenderID: "bob", CreatedAt: read.Add(-time.Second)},
		{ID: "2", SenderID: "bob", CreatedAt: read.Add(time.Second)},
		{ID: "3", SenderID: "alice", CreatedAt: read.Add(time.Second)},
		{ID: "4", SenderID: "bob", CreatedAt: read.Add(2 * time.Second), IsDeleted: true},
		{ID: "5", SenderID: "carol", CreatedAt: read.Add(3 * time.Second)},
	}

	assert.Equal(t, 2, UnreadCount(msgs, "alice", read))
	assert.Equal(t, 4, UnreadCount(msgs, "alice", time.Time{}))
}

func TestSortSummaries(t *testing.T) {
	base := Now()
	list := []ConversationSummary{
		{Conversation: Conversation{ID: "old", CreatedAt: base, LastMessageAt: base}},
		{Conversation: Conversation{ID: "new", CreatedAt: base, LastMessageAt: base.Add(time.Minute)}},
		{Conversation: Conversation{ID: "b", CreatedAt: base.Add(time.Second), LastMessageAt: base}},
		{Conversation: Conversation{ID: "a", CreatedAt: base.Add(time.Second), LastMessageAt: base}},
	}

	SortSummaries(list)

	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"new", "a", "b", "old"}, ids)
}

func TestChatError_KindAndIs(t *testing.T) {
	err := NewPermissionError("delete", "not the sender")

	assert.True(t, errors.Is(err, ErrPermission))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindPermission, KindOf(err))
	assert.Equal(t, "delete: permission: not the sender", err.Error())

	wrapped := fmt.Errorf("session: %w", err)
	assert.Equal(t, KindPermission, KindOf(wrapped))

	// 非 ChatError 一律視為 transient
	raw := errors.New("connection reset")
	assert.Equal(t, KindTransient, KindOf(raw))
	tr := Transient("insert", raw)
	assert.True(t, errors.Is(tr, ErrTransient))
	assert.True(t, errors.Is(tr, raw))
	assert.True(t, tr.(*ChatError).Retryable())

	// 已有 kind 的錯誤不被覆寫
	assert.Equal(t, err, Transient("insert", err))
	assert.Nil(t, Transient("insert", nil))
}

func TestEncodeDecodeEvent(t *testing.T) {
	now := Now()
	events := []Event{
		MessagesEvent{Operation: OpInsert, Message: Message{ID: "m1", ConversationID: "c1", Content: "hi", CreatedAt: now}},
		TypingEvent{Operation: OpUpdate, Indicator: TypingIndicator{ConversationID: "c1", UserID: "u1", IsTyping: true, UpdatedAt: now}},
		PresenceEvent{Operation: OpUpdate, Record: PresenceRecord{UserID: "u1", Status: StatusAway, LastSeen: now}},
		ConversationsEvent{Operation: OpInsert, Conversation: Conversation{ID: "c1", Type: ConversationGroup, CreatedAt: now}},
	}

	for _, ev := range events {
		env, err := EncodeEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, ev.Topic(), env.Topic)

		back, err := DecodeEvent(env)
		require.NoError(t, err)
		assert.Equal(t, ev.ConversationID(), back.ConversationID())
		assert.Equal(t, ev.Op(), back.Op())
	}

	_, err := DecodeEvent(Envelope{Topic: "unknown"})
	assert.Error(t, err)
}
