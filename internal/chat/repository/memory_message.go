package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
)

// MemoryMessageRepository in-process MessageRepository
type MemoryMessageRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.Message
}

// NewMemoryMessageRepository .
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{byID: make(map[string]*domain.Message)}
}

func cloneMessage(m *domain.Message) domain.Message {
	cp := *m
	cp.Reactions = append([]domain.Reaction{}, m.Reactions...)
	cp.Attachments = append([]domain.Attachment{}, m.Attachments...)
	return cp
}

func (r *MemoryMessageRepository) Insert(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := cloneMessage(m)
	r.byID[m.ID] = &cp
	return nil
}

func (r *MemoryMessageRepository) FindByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, domain.NewNotFoundError("message.find", "message not found")
	}
	cp := cloneMessage(m)
	return &cp, nil
}

// collect live messages matching keep, canonical order
func (r *MemoryMessageRepository) collect(keep func(m *domain.Message) bool) []domain.Message {
	var out []domain.Message
	for _, m := range r.byID {
		if !m.IsDeleted && keep(m) {
			out = append(out, cloneMessage(m))
		}
	}
	domain.SortMessages(out)
	return out
}

func (r *MemoryMessageRepository) List(_ context.Context, conversationID string, opts domain.ListOptions) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cursor *domain.Message
	if opts.Before != "" {
		c, ok := r.byID[opts.Before]
		if !ok {
			return nil, domain.NewNotFoundError("message.find", "message not found")
		}
		cursor = c
	}
	out := r.collect(func(m *domain.Message) bool {
		if m.ConversationID != conversationID {
			return false
		}
		return cursor == nil || domain.MessageLess(m, cursor)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

func (r *MemoryMessageRepository) ListThread(_ context.Context, parentID string, limit int) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.collect(func(m *domain.Message) bool { return m.ParentMessageID == parentID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMessageRepository) Latest(_ context.Context, conversationIDs []string) (map[string]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		want[id] = true
	}
	out := make(map[string]domain.Message)
	for _, m := range r.byID {
		if m.IsDeleted || !want[m.ConversationID] {
			continue
		}
		if cur, ok := out[m.ConversationID]; !ok || domain.MessageLess(&cur, m) {
			out[m.ConversationID] = cloneMessage(m)
		}
	}
	return out, nil
}

func (r *MemoryMessageRepository) CountUnread(_ context.Context, conversationID, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.byID {
		if m.ConversationID == conversationID && !m.IsDeleted && m.SenderID != userID && m.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessageRepository) updateLive(op, id string, fn func(m *domain.Message)) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok || m.IsDeleted {
		return nil, domain.NewNotFoundError(op, "message not found")
	}
	fn(m)
	cp := cloneMessage(m)
	return &cp, nil
}

func (r *MemoryMessageRepository) UpdateContent(_ context.Context, id, content string, at time.Time) (*domain.Message, error) {
	return r.updateLive("message.edit", id, func(m *domain.Message) {
		edited := at
		m.Content = content
		m.IsEdited = true
		m.EditedAt = &edited
		m.UpdatedAt = at
	})
}

func (r *MemoryMessageRepository) SoftDelete(_ context.Context, id, deleterID string, at time.Time) (*domain.Message, error) {
	return r.updateLive("message.delete", id, func(m *domain.Message) {
		deleted := at
		m.IsDeleted = true
		m.DeletedAt = &deleted
		m.DeletedBy = deleterID
		m.UpdatedAt = at
	})
}

func (r *MemoryMessageRepository) AddReaction(_ context.Context, re domain.Reaction) (*domain.Message, error) {
	return r.updateLive("message.react", re.MessageID, func(m *domain.Message) {
		for _, cur := range m.Reactions {
			if cur.UserID == re.UserID && cur.Emoji == re.Emoji {
				return
			}
		}
		m.Reactions = append(m.Reactions, re)
	})
}

func (r *MemoryMessageRepository) RemoveReaction(_ context.Context, messageID, userID, emoji string) (*domain.Message, error) {
	return r.updateLive("message.unreact", messageID, func(m *domain.Message) {
		kept := m.Reactions[:0]
		for _, cur := range m.Reactions {
			if cur.UserID == userID && cur.Emoji == emoji {
				continue
			}
			kept = append(kept, cur)
		}
		m.Reactions = kept
	})
}

func (r *MemoryMessageRepository) AddAttachment(_ context.Context, messageID string, a domain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[messageID]
	if !ok || m.IsDeleted {
		return domain.NewNotFoundError("message.attach", "message not found")
	}
	m.Attachments = append(m.Attachments, a)
	return nil
}

// MemorySearchIndexer inverted token index
type MemorySearchIndexer struct {
	mu       sync.RWMutex
	postings map[string]map[string]struct{}
	docs     map[string]domain.Message
}

// NewMemorySearchIndexer .
func NewMemorySearchIndexer() *MemorySearchIndexer {
	return &MemorySearchIndexer{
		postings: make(map[string]map[string]struct{}),
		docs:     make(map[string]domain.Message),
	}
}

func (s *MemorySearchIndexer) Index(_ context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unindex(m.ID)
	if m.IsDeleted {
		return nil
	}
	s.docs[m.ID] = m
	for _, tok := range Tokenize(m.Content) {
		set, ok := s.postings[tok]
		if !ok {
			set = make(map[string]struct{})
			s.postings[tok] = set
		}
		set[m.ID] = struct{}{}
	}
	return nil
}

func (s *MemorySearchIndexer) unindex(id string) {
	old, ok := s.docs[id]
	if !ok {
		return
	}
	for _, tok := range Tokenize(old.Content) {
		delete(s.postings[tok], id)
		if len(s.postings[tok]) == 0 {
			delete(s.postings, tok)
		}
	}
	delete(s.docs, id)
}

func (s *MemorySearchIndexer) Remove(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unindex(messageID)
	return nil
}

func (s *MemorySearchIndexer) Search(_ context.Context, query string, conversationIDs []string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := Tokenize(query)
	out := []domain.Message{}
	if len(terms) == 0 {
		return out, nil
	}
	allowed := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		allowed[id] = true
	}

	for id := range s.postings[terms[0]] {
		doc := s.docs[id]
		if !allowed[doc.ConversationID] {
			continue
		}
		match := true
		for _, t := range terms[1:] {
			if _, ok := s.postings[t][id]; !ok {
				match = false
				break
			}
		}
		if match {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.MessageLess(&out[j], &out[i]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
