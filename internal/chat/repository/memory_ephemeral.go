package repository

import (
	"context"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
)

// MemoryPresenceRepository in-process PresenceRepository
type MemoryPresenceRepository struct {
	mu      sync.RWMutex
	records map[string]domain.PresenceRecord
}

// NewMemoryPresenceRepository .
func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{records: make(map[string]domain.PresenceRecord)}
}

func (r *MemoryPresenceRepository) Set(_ context.Context, rec domain.PresenceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.UserID] = rec
	return nil
}

func (r *MemoryPresenceRepository) Get(_ context.Context, userID string) (domain.PresenceRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[userID]
	return rec, ok, nil
}

func (r *MemoryPresenceRepository) GetMany(_ context.Context, userIDs []string) (map[string]domain.PresenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.PresenceRecord, len(userIDs))
	for _, id := range userIDs {
		if rec, ok := r.records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// MemoryTypingRepository in-process TypingRepository
type MemoryTypingRepository struct {
	mu        sync.Mutex
	retention time.Duration
	byConv    map[string]map[string]domain.TypingIndicator
}

// NewMemoryTypingRepository .
func NewMemoryTypingRepository(retention time.Duration) *MemoryTypingRepository {
	return &MemoryTypingRepository{
		retention: retention,
		byConv:    make(map[string]map[string]domain.TypingIndicator),
	}
}

func (r *MemoryTypingRepository) Upsert(_ context.Context, conversationID, userID string, isTyping bool, now time.Time) (domain.TypingIndicator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.byConv[conversationID]
	if !ok {
		users = make(map[string]domain.TypingIndicator)
		r.byConv[conversationID] = users
	}
	ind := domain.TypingIndicator{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if old, ok := users[userID]; ok && old.IsTyping && isTyping && now.Sub(old.UpdatedAt) <= r.retention {
		ind.StartedAt = old.StartedAt
	}
	users[userID] = ind
	return ind, nil
}

func (r *MemoryTypingRepository) List(_ context.Context, conversationID string) ([]domain.TypingIndicator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := r.byConv[conversationID]
	out := make([]domain.TypingIndicator, 0, len(users))
	for _, ind := range users {
		out = append(out, ind)
	}
	return out, nil
}

// LoopbackTransport in-process EventTransport for a single node
type LoopbackTransport struct {
	mu   sync.RWMutex
	subs map[*loopbackSubscription]struct{}
}

// NewLoopbackTransport .
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{subs: make(map[*loopbackSubscription]struct{})}
}

func (t *LoopbackTransport) Publish(_ context.Context, env domain.Envelope) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for s := range t.subs {
		if s.topics[env.Topic] {
			s.deliver(env)
		}
	}
	return nil
}

func (t *LoopbackTransport) Subscribe(_ context.Context, topics []domain.Topic, deliver func(domain.Envelope)) (TransportSubscription, error) {
	s := &loopbackSubscription{
		owner:   t,
		topics:  make(map[domain.Topic]bool, len(topics)),
		deliver: deliver,
		done:    make(chan struct{}),
	}
	for _, tp := range topics {
		s.topics[tp] = true
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	return s, nil
}

// Drop ends every live subscription with err, as a broken connection would.
func (t *LoopbackTransport) Drop(err error) {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[*loopbackSubscription]struct{})
	t.mu.Unlock()
	for s := range subs {
		s.end(err)
	}
}

type loopbackSubscription struct {
	owner   *LoopbackTransport
	topics  map[domain.Topic]bool
	deliver func(domain.Envelope)
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *loopbackSubscription) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *loopbackSubscription) Done() <-chan struct{} { return s.done }

func (s *loopbackSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *loopbackSubscription) Close() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	s.end(nil)
	return nil
}
