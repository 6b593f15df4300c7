package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Loading operations tracked per session.
const (
	OpListing   = "listing"
	OpSending   = "sending"
	OpSearching = "searching"
)

const refreshTimeout = 5 * time.Second

// ChatSession state of one connected client: its conversation list, the
// open conversation and its loaded messages. Bus events are reconciled into
// that state one at a time and forwarded to push.
type ChatSession struct {
	svc    *ChatService
	userID string
	push   func(frame interface{})
	typing *rate.Limiter

	loading map[string]*atomic.Int32
	closed  *atomic.Bool

	// eventMu serialises event handling across topics.
	eventMu sync.Mutex

	mu         sync.Mutex
	entries    []domain.ConversationSummary
	openID     string
	messages   []domain.Message
	pending    map[string]bool // conversation id -> events arrived while loading
	foreign    map[string]struct{}
	deleted    map[string]struct{} // message ids whose deletion is applied
	subs       []*Subscription
	stopStatus func()
}

func newChatSession(svc *ChatService, userID string, push func(interface{}), typing *rate.Limiter) *ChatSession {
	if push == nil {
		push = func(interface{}) {}
	}
	return &ChatSession{
		svc:    svc,
		userID: userID,
		push:   push,
		typing: typing,
		loading: map[string]*atomic.Int32{
			OpListing:   atomic.NewInt32(0),
			OpSending:   atomic.NewInt32(0),
			OpSearching: atomic.NewInt32(0),
		},
		closed:  atomic.NewBool(false),
		pending: make(map[string]bool),
		foreign: make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

func (s *ChatSession) subscribe() error {
	for _, t := range domain.Topics {
		sub, err := s.svc.Bus.Subscribe(t, s.accepts, s.onEvent)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	stop := s.svc.Bus.OnStatus(s.onStatus)
	s.mu.Lock()
	s.stopStatus = stop
	s.mu.Unlock()
	return nil
}

// UserID of the session owner.
func (s *ChatSession) UserID() string { return s.userID }

// Close unsubscribes; safe to call more than once.
func (s *ChatSession) Close() {
	if !s.closed.CAS(false, true) {
		return
	}
	s.mu.Lock()
	subs, stop := s.subs, s.stopStatus
	s.subs, s.stopStatus = nil, nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if stop != nil {
		stop()
	}
	metrics.ActiveSessions.Dec()
}

// Loading reports whether an operation of kind op is in flight.
func (s *ChatSession) Loading(op string) bool {
	c, ok := s.loading[op]
	return ok && c.Load() > 0
}

func (s *ChatSession) track(op string) func() {
	c := s.loading[op]
	c.Inc()
	return func() { c.Dec() }
}

// Conversations the visible conversation list, most recent first.
func (s *ChatSession) Conversations() []domain.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConversationSummary, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.IsArchived {
			out = append(out, e)
		}
	}
	return out
}

// Entry list entry of one conversation, archived ones included.
func (s *ChatSession) Entry(conversationID string) (domain.ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.entryIndex(conversationID); i >= 0 {
		return s.entries[i], true
	}
	return domain.ConversationSummary{}, false
}

// OpenConversationID "" when nothing is selected.
func (s *ChatSession) OpenConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

// Messages loaded messages of the open conversation in canonical order.
func (s *ChatSession) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// ---- commands ----

// ListConversations fetches the list; the non-archived listing replaces
// local state.
func (s *ChatSession) ListConversations(ctx context.Context, includeArchived bool) ([]domain.ConversationSummary, error) {
	defer s.track(OpListing)()
	list, err := s.svc.Conversations.ListForUser(ctx, s.userID, includeArchived)
	if err != nil {
		return nil, err
	}
	if !includeArchived {
		s.mu.Lock()
		s.entries = append(s.entries[:0:0], list...)
		for _, e := range list {
			delete(s.foreign, e.ID)
		}
		s.mu.Unlock()
	}
	return list, nil
}

// CreateConversation with the session user as creator.
func (s *ChatSession) CreateConversation(ctx context.Context, in domain.CreateConversationInput) (*domain.Conversation, bool, error) {
	in.CreatorID = s.userID
	conv, created, err := s.svc.Conversations.Create(ctx, in)
	if err != nil {
		return nil, false, err
	}
	s.applyConversation(*conv)
	return conv, created, nil
}

// SelectConversation opens a conversation: loads its newest page, then
// marks it read.
func (s *ChatSession) SelectConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	defer s.track(OpListing)()
	s.mu.Lock()
	s.openID = conversationID
	s.messages = nil
	s.mu.Unlock()

	msgs, err := s.svc.Messages.List(ctx, conversationID, s.userID, domain.ListOptions{})
	if err != nil {
		s.mu.Lock()
		if s.openID == conversationID {
			s.openID = ""
		}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	if s.openID == conversationID {
		s.messages = mergeMessages(s.messages, msgs)
		msgs = append([]domain.Message(nil), s.messages...)
	}
	s.mu.Unlock()

	if err := s.MarkRead(ctx, conversationID, time.Time{}); err != nil {
		logger.Log.Warn("mark read on select", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return msgs, nil
}

// ListMessages one page; a page of the open conversation is merged into
// the loaded messages.
func (s *ChatSession) ListMessages(ctx context.Context, conversationID string, opts domain.ListOptions) ([]domain.Message, error) {
	defer s.track(OpListing)()
	msgs, err := s.svc.Messages.List(ctx, conversationID, s.userID, opts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.openID == conversationID {
		s.messages = mergeMessages(s.messages, msgs)
	}
	s.mu.Unlock()
	return msgs, nil
}

// LoadOlder the page right before the oldest loaded message.
func (s *ChatSession) LoadOlder(ctx context.Context, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	convID := s.openID
	var before string
	if len(s.messages) > 0 {
		before = s.messages[0].ID
	}
	s.mu.Unlock()
	if convID == "" {
		return nil, domain.NewValidationError("session.load_older", "no conversation selected")
	}
	return s.ListMessages(ctx, convID, domain.ListOptions{Limit: limit, Before: before})
}

// ListThread replies of a thread.
func (s *ChatSession) ListThread(ctx context.Context, parentID string, limit int) ([]domain.Message, error) {
	defer s.track(OpListing)()
	return s.svc.Messages.ListThread(ctx, parentID, s.userID, limit)
}

// Send as the session user. The message is applied locally right away;
// the echo from the bus is deduplicated by id.
func (s *ChatSession) Send(ctx context.Context, in domain.SendMessageInput) (*domain.SendResult, error) {
	defer s.track(OpSending)()
	in.SenderID = s.userID
	res, err := s.svc.Messages.Send(ctx, in)
	if err != nil {
		return nil, err
	}
	s.applyLocal(domain.OpInsert, res.Message)
	return res, nil
}

// Edit .
func (s *ChatSession) Edit(ctx context.Context, messageID, content string) (*domain.Message, error) {
	m, err := s.svc.Messages.Edit(ctx, messageID, s.userID, content)
	if err != nil {
		return nil, err
	}
	s.applyLocal(domain.OpUpdate, *m)
	return m, nil
}

// Delete .
func (s *ChatSession) Delete(ctx context.Context, messageID string) (*domain.Message, error) {
	m, err := s.svc.Messages.Delete(ctx, messageID, s.userID)
	if err != nil {
		return nil, err
	}
	s.applyLocal(domain.OpUpdate, *m)
	return m, nil
}

// AddReaction .
func (s *ChatSession) AddReaction(ctx context.Context, messageID, emoji string) (*domain.Message, error) {
	m, err := s.svc.Messages.AddReaction(ctx, messageID, s.userID, emoji)
	if err != nil {
		return nil, err
	}
	s.applyLocal(domain.OpUpdate, *m)
	return m, nil
}

// RemoveReaction .
func (s *ChatSession) RemoveReaction(ctx context.Context, messageID, emoji string) (*domain.Message, error) {
	m, err := s.svc.Messages.RemoveReaction(ctx, messageID, s.userID, emoji)
	if err != nil {
		return nil, err
	}
	s.applyLocal(domain.OpUpdate, *m)
	return m, nil
}

// MarkRead at, or now when at is zero, then recounts unread from the store.
func (s *ChatSession) MarkRead(ctx context.Context, conversationID string, at time.Time) error {
	if at.IsZero() {
		at = domain.Now()
	}
	if err := s.svc.Conversations.MarkRead(ctx, conversationID, s.userID, at); err != nil {
		return err
	}
	unread, err := s.svc.Conversations.UnreadCount(ctx, conversationID, s.userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.entryIndex(conversationID); i >= 0 {
		e := &s.entries[i]
		for j := range e.Participants {
			p := &e.Participants[j]
			if p.UserID == s.userID && at.After(p.LastReadAt) {
				p.LastReadAt = at
			}
		}
		e.UnreadCount = unread
	}
	return nil
}

// Search messages of the session user's conversations.
func (s *ChatSession) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	defer s.track(OpSearching)()
	return s.svc.Search.Search(ctx, s.userID, query, limit)
}

// SetTyping publishes at most once per rate interval; calls in between
// only refresh the stored indicator. A stop is always published.
func (s *ChatSession) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	var err error
	if !isTyping || s.typing.Allow() {
		_, err = s.svc.Typing.SetTyping(ctx, conversationID, s.userID, isTyping)
	} else {
		_, err = s.svc.Typing.RefreshTyping(ctx, conversationID, s.userID)
	}
	return err
}

// ActiveTypers other users typing in the conversation.
func (s *ChatSession) ActiveTypers(ctx context.Context, conversationID string) ([]string, error) {
	return s.svc.Typing.ActiveTypers(ctx, conversationID, s.userID)
}

// SetPresence .
func (s *ChatSession) SetPresence(ctx context.Context, status domain.PresenceStatus, custom string) (domain.PresenceRecord, error) {
	return s.svc.Presence.SetStatus(ctx, s.userID, status, custom)
}

// Heartbeat .
func (s *ChatSession) Heartbeat(ctx context.Context) (domain.PresenceRecord, error) {
	return s.svc.Presence.Heartbeat(ctx, s.userID)
}

// Presence effective statuses of userIDs.
func (s *ChatSession) Presence(ctx context.Context, userIDs []string) (map[string]domain.PresenceStatus, error) {
	return s.svc.Presence.EffectiveStatuses(ctx, userIDs)
}

// Archive .
func (s *ChatSession) Archive(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.conversationCommand(s.svc.Conversations.Archive(ctx, conversationID, s.userID))
}

// Join .
func (s *ChatSession) Join(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.conversationCommand(s.svc.Conversations.Join(ctx, conversationID, s.userID))
}

// Leave .
func (s *ChatSession) Leave(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.conversationCommand(s.svc.Conversations.Leave(ctx, conversationID, s.userID))
}

// AddParticipant .
func (s *ChatSession) AddParticipant(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	return s.conversationCommand(s.svc.Conversations.AddParticipant(ctx, conversationID, s.userID, userID))
}

func (s *ChatSession) conversationCommand(conv *domain.Conversation, err error) (*domain.Conversation, error) {
	if err != nil {
		return nil, err
	}
	s.applyConversation(*conv)
	return conv, nil
}

// Reconnect re-establishes a dropped bus subscription and refetches the
// list and the open conversation; events missed meanwhile are not replayed.
func (s *ChatSession) Reconnect(ctx context.Context) error {
	if err := s.svc.Bus.Resubscribe(ctx); err != nil {
		return err
	}
	if _, err := s.ListConversations(ctx, false); err != nil {
		return err
	}

	s.mu.Lock()
	convID := s.openID
	s.mu.Unlock()
	if convID == "" {
		return nil
	}

	defer s.track(OpListing)()
	msgs, err := s.svc.Messages.List(ctx, convID, s.userID, domain.ListOptions{})
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.openID == convID {
		s.messages = msgs
	}
	s.mu.Unlock()
	return nil
}

// ---- event reconciliation ----

func (s *ChatSession) accepts(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case domain.MessagesEvent:
		_, foreign := s.foreign[e.Message.ConversationID]
		return !foreign
	case domain.TypingEvent:
		return e.Indicator.UserID != s.userID && s.entryIndex(e.Indicator.ConversationID) >= 0
	case domain.PresenceEvent:
		return s.sharesConversation(e.Record.UserID)
	case domain.ConversationsEvent:
		_, ok := e.Conversation.Participant(s.userID)
		return ok || s.entryIndex(e.Conversation.ID) >= 0
	}
	return false
}

func (s *ChatSession) onEvent(ev domain.Event) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	switch e := ev.(type) {
	case domain.MessagesEvent:
		if !s.onMessage(e) {
			return
		}
	case domain.ConversationsEvent:
		s.applyConversation(e.Conversation)
	}
	s.pushEvent(ev)
}

// onMessage false when the conversation is not in the list yet; the entry
// is loaded from the store instead.
func (s *ChatSession) onMessage(ev domain.MessagesEvent) bool {
	m := ev.Message
	s.mu.Lock()
	if s.entryIndex(m.ConversationID) < 0 {
		load := s.markLoading(m.ConversationID)
		s.mu.Unlock()
		if load {
			go s.loadEntry(m.ConversationID)
		}
		return false
	}
	s.mu.Unlock()
	s.applyLocal(ev.Operation, m)
	return true
}

// applyLocal reconciles one message row into the list entry and, for the
// open conversation, the loaded messages.
func (s *ChatSession) applyLocal(op domain.Operation, m domain.Message) {
	s.mu.Lock()
	refresh := false
	if i := s.entryIndex(m.ConversationID); i >= 0 {
		refresh = s.applyToEntry(&s.entries[i], op, m)
		domain.SortSummaries(s.entries)
	}
	if m.ConversationID == s.openID {
		s.messages = applyToMessages(s.messages, op, m)
	}
	s.mu.Unlock()

	if refresh {
		go s.refreshPreview(m.ConversationID)
	}
}

// applyToEntry returns true when the preview must be reloaded. Caller holds mu.
func (s *ChatSession) applyToEntry(e *domain.ConversationSummary, op domain.Operation, m domain.Message) bool {
	if m.CreatedAt.After(e.LastMessageAt) {
		e.LastMessageAt = m.CreatedAt
	}
	var lastRead time.Time
	if p, ok := e.Participant(s.userID); ok {
		lastRead = p.LastReadAt
	}
	unread := m.SenderID != s.userID && m.CreatedAt.After(lastRead)
	isLatest := e.LatestMessage != nil && e.LatestMessage.ID == m.ID

	switch op {
	case domain.OpInsert:
		if m.IsDeleted || isLatest {
			return false
		}
		if e.LatestMessage == nil || domain.MessageLess(e.LatestMessage, &m) {
			latest := m
			e.LatestMessage = &latest
		}
		if unread {
			e.UnreadCount++
		}
	case domain.OpUpdate:
		if m.IsDeleted {
			// the local apply and the bus echo carry the same deletion
			if _, seen := s.deleted[m.ID]; seen {
				return false
			}
			s.deleted[m.ID] = struct{}{}
			if unread && e.UnreadCount > 0 {
				e.UnreadCount--
			}
			if isLatest {
				redacted := m.Redacted()
				e.LatestMessage = &redacted
				return true
			}
			return false
		}
		if isLatest {
			latest := m
			if latest.Sender == nil {
				latest.Sender = e.LatestMessage.Sender
			}
			e.LatestMessage = &latest
		}
	}
	return false
}

func applyToMessages(msgs []domain.Message, op domain.Operation, m domain.Message) []domain.Message {
	i := -1
	for j := range msgs {
		if msgs[j].ID == m.ID {
			i = j
			break
		}
	}
	switch {
	case m.IsDeleted:
		if i >= 0 {
			msgs = append(msgs[:i], msgs[i+1:]...)
		}
	case i >= 0:
		if m.Sender == nil {
			m.Sender = msgs[i].Sender
		}
		msgs[i] = m
	case op == domain.OpInsert:
		at := sort.Search(len(msgs), func(j int) bool { return domain.MessageLess(&m, &msgs[j]) })
		msgs = append(msgs, domain.Message{})
		copy(msgs[at+1:], msgs[at:])
		msgs[at] = m
	}
	return msgs
}

// applyConversation upserts or drops the list entry of c.
func (s *ChatSession) applyConversation(c domain.Conversation) {
	s.mu.Lock()
	i := s.entryIndex(c.ID)
	if !c.IsActiveParticipant(s.userID) {
		if i >= 0 {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
		}
		if s.openID == c.ID {
			s.openID = ""
			s.messages = nil
		}
		s.foreign[c.ID] = struct{}{}
		s.mu.Unlock()
		return
	}
	delete(s.foreign, c.ID)

	if i < 0 {
		load := s.markLoading(c.ID)
		s.mu.Unlock()
		if load {
			go s.loadEntry(c.ID)
		}
		return
	}

	e := &s.entries[i]
	if e.LastMessageAt.After(c.LastMessageAt) {
		c.LastMessageAt = e.LastMessageAt
	}
	if old, ok := e.Participant(s.userID); ok {
		for j := range c.Participants {
			p := &c.Participants[j]
			if p.UserID == s.userID && old.LastReadAt.After(p.LastReadAt) {
				p.LastReadAt = old.LastReadAt
			}
		}
	}
	e.Conversation = c
	if c.Type != domain.ConversationDirect && c.Name != "" {
		e.DisplayName = c.Name
	}
	domain.SortSummaries(s.entries)
	s.mu.Unlock()
}

// markLoading true when the caller must start the load. Caller holds mu.
func (s *ChatSession) markLoading(conversationID string) bool {
	if _, ok := s.pending[conversationID]; ok {
		s.pending[conversationID] = true
		return false
	}
	s.pending[conversationID] = false
	return true
}

// loadEntry fetches the list entry of a conversation the session did not
// know, repeating while events for it keep arriving.
func (s *ChatSession) loadEntry(conversationID string) {
	for !s.closed.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		sum, err := s.svc.Conversations.Summary(ctx, conversationID, s.userID)
		cancel()

		s.mu.Lock()
		if s.pending[conversationID] {
			s.pending[conversationID] = false
			s.mu.Unlock()
			continue
		}
		delete(s.pending, conversationID)
		if err != nil {
			if domain.KindOf(err) == domain.KindPermission {
				s.foreign[conversationID] = struct{}{}
			} else {
				logger.Log.Warn("load conversation entry",
					zap.String("user_id", s.userID),
					zap.String("conversation_id", conversationID),
					zap.Error(err))
			}
			s.mu.Unlock()
			return
		}
		added := s.upsertEntry(*sum)
		s.mu.Unlock()

		if added {
			s.pushEvent(domain.ConversationsEvent{Operation: domain.OpInsert, Conversation: sum.Conversation})
		}
		return
	}
}

// upsertEntry caller holds mu.
func (s *ChatSession) upsertEntry(sum domain.ConversationSummary) bool {
	i := s.entryIndex(sum.ID)
	if i < 0 {
		s.entries = append(s.entries, sum)
		domain.SortSummaries(s.entries)
		return true
	}
	e := &s.entries[i]
	if e.LastMessageAt.After(sum.LastMessageAt) {
		sum.LastMessageAt = e.LastMessageAt
	}
	if e.LatestMessage != nil && (sum.LatestMessage == nil || domain.MessageLess(sum.LatestMessage, e.LatestMessage)) {
		sum.LatestMessage = e.LatestMessage
	}
	*e = sum
	domain.SortSummaries(s.entries)
	return false
}

// refreshPreview reloads the latest message after the previewed one was deleted.
func (s *ChatSession) refreshPreview(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	latest, err := s.svc.Messages.Latest(ctx, conversationID)
	if err != nil {
		logger.Log.Warn("refresh preview", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.entryIndex(conversationID)
	if i < 0 {
		return
	}
	e := &s.entries[i]
	if e.LatestMessage == nil || e.LatestMessage.IsDeleted ||
		(latest != nil && domain.MessageLess(e.LatestMessage, latest)) {
		e.LatestMessage = latest
	}
}

func (s *ChatSession) onStatus(status ConnectionStatus) {
	s.push(domain.WSResponse{
		Action:  string(domain.ConnectionStatusAction),
		Success: status == StatusConnected,
		Payload: map[string]interface{}{"status": status},
	})
}

func (s *ChatSession) pushEvent(ev domain.Event) {
	env, err := domain.EncodeEvent(ev)
	if err != nil {
		logger.Log.Error("encode session event", zap.Error(err))
		return
	}
	s.push(domain.WSEvent{Action: string(domain.EventAction), Envelope: env})
}

// entryIndex caller holds mu.
func (s *ChatSession) entryIndex(conversationID string) int {
	for i := range s.entries {
		if s.entries[i].ID == conversationID {
			return i
		}
	}
	return -1
}

// sharesConversation caller holds mu.
func (s *ChatSession) sharesConversation(userID string) bool {
	if userID == s.userID {
		return true
	}
	for i := range s.entries {
		if s.entries[i].IsActiveParticipant(userID) {
			return true
		}
	}
	return false
}

// mergeMessages union by id, the later updated_at wins, canonical order.
func mergeMessages(local, fetched []domain.Message) []domain.Message {
	byID := make(map[string]int, len(local)+len(fetched))
	out := make([]domain.Message, 0, len(local)+len(fetched))
	for _, list := range [][]domain.Message{local, fetched} {
		for _, m := range list {
			if i, ok := byID[m.ID]; ok {
				if m.UpdatedAt.After(out[i].UpdatedAt) {
					out[i] = m
				}
				continue
			}
			byID[m.ID] = len(out)
			out = append(out, m)
		}
	}
	domain.SortMessages(out)
	return out
}
