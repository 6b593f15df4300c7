package app

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// TypingUseCase typing indicators. An indicator not refreshed within expiry
// stops counting, so a client that vanishes mid-typing clears itself.
type TypingUseCase struct {
	convUC *ConversationUseCase
	repo   repository.TypingRepository
	pub    Publisher
	expiry time.Duration
	now    func() time.Time
}

// NewTypingUseCase .
func NewTypingUseCase(convUC *ConversationUseCase, repo repository.TypingRepository, pub Publisher, expiry time.Duration) *TypingUseCase {
	return &TypingUseCase{convUC: convUC, repo: repo, pub: pub, expiry: expiry, now: domain.Now}
}

// SetTyping stores and publishes the indicator.
func (uc *TypingUseCase) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) (domain.TypingIndicator, error) {
	ind, err := uc.store(ctx, "typing.set", conversationID, userID, isTyping)
	if err != nil {
		return ind, err
	}
	if err := uc.pub.Publish(ctx, domain.TypingEvent{Operation: domain.OpUpdate, Indicator: ind}); err != nil {
		logger.Log.Warn("publish typing event", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return ind, nil
}

// RefreshTyping extends the indicator without an event, used when a
// session publishes faster than its rate limit allows.
func (uc *TypingUseCase) RefreshTyping(ctx context.Context, conversationID, userID string) (domain.TypingIndicator, error) {
	return uc.store(ctx, "typing.refresh", conversationID, userID, true)
}

func (uc *TypingUseCase) store(ctx context.Context, op, conversationID, userID string, isTyping bool) (domain.TypingIndicator, error) {
	if _, _, err := uc.convUC.requireActive(ctx, op, conversationID, userID); err != nil {
		return domain.TypingIndicator{}, err
	}
	return uc.repo.Upsert(ctx, conversationID, userID, isTyping, uc.now())
}

// ActiveTypers fresh typers except the viewer, sorted.
func (uc *TypingUseCase) ActiveTypers(ctx context.Context, conversationID, viewerID string) ([]string, error) {
	if _, _, err := uc.convUC.requireActive(ctx, "typing.list", conversationID, viewerID); err != nil {
		return nil, err
	}
	list, err := uc.repo.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	all := domain.ActiveTypers(list, uc.now(), uc.expiry)
	out := all[:0]
	for _, id := range all {
		if id != viewerID {
			out = append(out, id)
		}
	}
	return out, nil
}
