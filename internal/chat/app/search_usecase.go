package app

import (
	"context"
	"errors"
	"strings"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// SearchResult one hit with the conversation it belongs to.
type SearchResult struct {
	Message      domain.Message      `json:"message"`
	Conversation domain.Conversation `json:"conversation"`
}

// SearchUseCase 全文搜尋 over the conversations a user takes part in.
type SearchUseCase struct {
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	indexer   repository.SearchIndexer
	directory repository.UserDirectory
	limit     int
}

// NewSearchUseCase .
func NewSearchUseCase(c repository.ConversationRepository, m repository.MessageRepository, idx repository.SearchIndexer, d repository.UserDirectory, limit int) *SearchUseCase {
	if limit <= 0 {
		limit = 20
	}
	return &SearchUseCase{convRepo: c, msgRepo: m, indexer: idx, directory: d, limit: limit}
}

// Search messages containing every term of query, newest first. Archived
// conversations are searched too; deleted messages never match.
func (uc *SearchUseCase) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("search", "query is empty")
	}
	if limit <= 0 || limit > uc.limit {
		limit = uc.limit
	}
	convs, err := uc.convRepo.ListForUser(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []SearchResult{}, nil
	}
	byID := make(map[string]domain.Conversation, len(convs))
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	hits, err := uc.indexer.Search(ctx, query, ids, limit)
	if err != nil {
		return nil, err
	}
	if hits, err = uc.live(ctx, hits); err != nil {
		return nil, err
	}
	senders := make([]string, 0, len(hits))
	for _, m := range hits {
		senders = append(senders, m.SenderID)
	}
	profiles, err := uc.directory.ResolveMany(ctx, senders)
	if err != nil {
		logger.Log.Warn("resolve search senders", zap.Error(err))
	}

	out := make([]SearchResult, 0, len(hits))
	for _, m := range hits {
		c, ok := byID[m.ConversationID]
		if !ok || m.IsDeleted {
			continue
		}
		if p, ok := profiles[m.SenderID]; ok {
			m.Sender = &p
		}
		out = append(out, SearchResult{Message: m, Conversation: c})
	}
	return out, nil
}

// live replaces each hit with the stored row. The index can lag behind an
// edit or a delete, the message store cannot.
func (uc *SearchUseCase) live(ctx context.Context, hits []domain.Message) ([]domain.Message, error) {
	out := hits[:0:0]
	for _, h := range hits {
		m, err := uc.msgRepo.FindByID(ctx, h.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.IsDeleted {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}
