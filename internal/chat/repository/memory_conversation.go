package repository

import (
	"context"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
)

// MemoryConversationRepository in-process ConversationRepository
type MemoryConversationRepository struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Conversation
	byDirect map[string]string
}

// NewMemoryConversationRepository .
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		byID:     make(map[string]*domain.Conversation),
		byDirect: make(map[string]string),
	}
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Participants = make([]domain.Participant, len(c.Participants))
	for i, p := range c.Participants {
		if p.LeftAt != nil {
			left := *p.LeftAt
			p.LeftAt = &left
		}
		cp.Participants[i] = p
	}
	return &cp
}

func (r *MemoryConversationRepository) Create(_ context.Context, c *domain.Conversation) (*domain.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.DirectKey != "" {
		if id, ok := r.byDirect[c.DirectKey]; ok {
			return cloneConversation(r.byID[id]), false, nil
		}
		r.byDirect[c.DirectKey] = c.ID
	}
	r.byID[c.ID] = cloneConversation(c)
	return cloneConversation(c), true, nil
}

func (r *MemoryConversationRepository) FindByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, domain.NewNotFoundError("conversation.find", "conversation not found")
	}
	return cloneConversation(c), nil
}

func (r *MemoryConversationRepository) FindByDirectKey(_ context.Context, key string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byDirect[key]
	if !ok {
		return nil, domain.NewNotFoundError("conversation.find_direct", "conversation not found")
	}
	return cloneConversation(r.byID[id]), nil
}

func (r *MemoryConversationRepository) ListForUser(_ context.Context, userID string, includeArchived bool) ([]domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Conversation
	for _, c := range r.byID {
		if c.IsArchived && !includeArchived {
			continue
		}
		if c.IsActiveParticipant(userID) {
			out = append(out, *cloneConversation(c))
		}
	}
	return out, nil
}

func (r *MemoryConversationRepository) update(op, id string, fn func(c *domain.Conversation) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return domain.NewNotFoundError(op, "conversation not found")
	}
	return fn(c)
}

func (r *MemoryConversationRepository) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	return r.update("conversation.touch", id, func(c *domain.Conversation) error {
		if at.After(c.LastMessageAt) {
			c.LastMessageAt = at
		}
		return nil
	})
}

func (r *MemoryConversationRepository) MarkRead(_ context.Context, id, userID string, at time.Time) error {
	return r.update("conversation.mark_read", id, func(c *domain.Conversation) error {
		for i := range c.Participants {
			p := &c.Participants[i]
			if p.UserID != userID {
				continue
			}
			if at.After(p.LastReadAt) {
				p.LastReadAt = at
			}
			return nil
		}
		return domain.NewNotFoundError("conversation.mark_read", "participant not found")
	})
}

func (r *MemoryConversationRepository) SetArchived(_ context.Context, id string, archived bool) error {
	return r.update("conversation.archive", id, func(c *domain.Conversation) error {
		c.IsArchived = archived
		return nil
	})
}

func (r *MemoryConversationRepository) AddParticipant(_ context.Context, id string, p domain.Participant) error {
	return r.update("conversation.add_participant", id, func(c *domain.Conversation) error {
		for i := range c.Participants {
			cur := &c.Participants[i]
			if cur.UserID != p.UserID {
				continue
			}
			if cur.LeftAt != nil {
				cur.LeftAt = nil
				cur.JoinedAt = p.JoinedAt
			}
			return nil
		}
		c.Participants = append(c.Participants, p)
		return nil
	})
}

func (r *MemoryConversationRepository) RemoveParticipant(_ context.Context, id, userID string, at time.Time) error {
	return r.update("conversation.remove_participant", id, func(c *domain.Conversation) error {
		for i := range c.Participants {
			if c.Participants[i].UserID == userID {
				left := at
				c.Participants[i].LeftAt = &left
				return nil
			}
		}
		return domain.NewNotFoundError("conversation.remove_participant", "participant not found")
	})
}
