package app

import (
	"context"
	"strings"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg"
	"realtime_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConversationUseCase conversation lifecycle and membership
type ConversationUseCase struct {
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	directory repository.UserDirectory
	pub       Publisher
	now       func() time.Time
}

// NewConversationUseCase init conversation use case
func NewConversationUseCase(
	c repository.ConversationRepository,
	m repository.MessageRepository,
	d repository.UserDirectory,
	pub Publisher,
) *ConversationUseCase {
	return &ConversationUseCase{convRepo: c, msgRepo: m, directory: d, pub: pub, now: domain.Now}
}

// requireActive loads the conversation and checks userID is an active participant.
func (uc *ConversationUseCase) requireActive(ctx context.Context, op, conversationID, userID string) (*domain.Conversation, domain.Participant, error) {
	conv, err := uc.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, domain.Participant{}, err
	}
	p, ok := conv.Participant(userID)
	if !ok || !p.Active() {
		return nil, domain.Participant{}, domain.NewPermissionError(op, "not a participant of the conversation")
	}
	return conv, p, nil
}

// Get conversation for an active participant
func (uc *ConversationUseCase) Get(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, _, err := uc.requireActive(ctx, "conversation.get", conversationID, userID)
	return conv, err
}

// ListForUser conversations of userID with latest message and unread count,
// most recent first.
func (uc *ConversationUseCase) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]domain.ConversationSummary, error) {
	convs, err := uc.convRepo.ListForUser(ctx, userID, includeArchived)
	if err != nil {
		return nil, err
	}
	out, err := uc.summarize(ctx, userID, convs)
	if err != nil {
		return nil, err
	}
	domain.SortSummaries(out)
	return out, nil
}

// Summary one list entry, as ListForUser would build it.
func (uc *ConversationUseCase) Summary(ctx context.Context, conversationID, userID string) (*domain.ConversationSummary, error) {
	conv, _, err := uc.requireActive(ctx, "conversation.summary", conversationID, userID)
	if err != nil {
		return nil, err
	}
	out, err := uc.summarize(ctx, userID, []domain.Conversation{*conv})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// UnreadCount for userID in the conversation, from the stored last_read_at.
func (uc *ConversationUseCase) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	_, p, err := uc.requireActive(ctx, "conversation.unread", conversationID, userID)
	if err != nil {
		return 0, err
	}
	return uc.msgRepo.CountUnread(ctx, conversationID, userID, p.LastReadAt)
}

func (uc *ConversationUseCase) summarize(ctx context.Context, userID string, convs []domain.Conversation) ([]domain.ConversationSummary, error) {
	ids := make([]string, len(convs))
	var people []string
	for i := range convs {
		ids[i] = convs[i].ID
		for _, p := range convs[i].Participants {
			people = append(people, p.UserID)
		}
	}
	latest, err := uc.msgRepo.Latest(ctx, ids)
	if err != nil {
		return nil, err
	}
	profiles, err := uc.directory.ResolveMany(ctx, pkg.Unique(people))
	if err != nil {
		logger.Log.Warn("resolve participants", zap.String("user_id", userID), zap.Error(err))
		profiles = map[string]domain.UserProfile{}
	}

	out := make([]domain.ConversationSummary, 0, len(convs))
	for i := range convs {
		c := convs[i]
		p, _ := c.Participant(userID)
		unread, err := uc.msgRepo.CountUnread(ctx, c.ID, userID, p.LastReadAt)
		if err != nil {
			return nil, err
		}
		s := domain.ConversationSummary{
			Conversation: c,
			DisplayName:  domain.DisplayName(&c, userID, profiles),
			UnreadCount:  unread,
		}
		if m, ok := latest[c.ID]; ok {
			if prof, ok := profiles[m.SenderID]; ok {
				m.Sender = &prof
			}
			s.LatestMessage = &m
		}
		out = append(out, s)
	}
	return out, nil
}

// Create a conversation. Direct conversations are idempotent for the
// unordered pair: the existing one is returned with created=false.
func (uc *ConversationUseCase) Create(ctx context.Context, in domain.CreateConversationInput) (*domain.Conversation, bool, error) {
	const op = "conversation.create"
	if in.CreatorID == "" {
		return nil, false, domain.NewValidationError(op, "creator is required")
	}
	if in.Type == "" {
		in.Type = domain.ConversationGroup
	}
	if !in.Type.Valid() {
		return nil, false, domain.NewValidationError(op, "unknown conversation type "+string(in.Type))
	}

	var others []string
	for _, id := range pkg.Unique(in.ParticipantIDs) {
		id = strings.TrimSpace(id)
		if id != "" && id != in.CreatorID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil, false, domain.NewValidationError(op, "participants are empty or only the creator")
	}
	if in.Type == domain.ConversationDirect && len(others) != 1 {
		return nil, false, domain.NewValidationError(op, "a direct conversation has exactly one other participant")
	}

	now := uc.now()
	conv := &domain.Conversation{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		Type:          in.Type,
		IsPrivate:     in.IsPrivate,
		CreatedBy:     in.CreatorID,
		CreatedAt:     now,
		LastMessageAt: now,
		Participants: []domain.Participant{
			{UserID: in.CreatorID, Role: domain.RoleAdmin, JoinedAt: now},
		},
	}
	for _, id := range others {
		conv.Participants = append(conv.Participants, domain.Participant{UserID: id, Role: domain.RoleMember, JoinedAt: now})
	}

	if in.Type == domain.ConversationDirect {
		conv.IsPrivate = true
		conv.Name = ""
		conv.DirectKey = domain.DirectKey(in.CreatorID, others[0])
		existing, err := uc.convRepo.FindByDirectKey(ctx, conv.DirectKey)
		if err == nil {
			return existing, false, nil
		}
		if domain.KindOf(err) != domain.KindNotFound {
			return nil, false, err
		}
	}

	stored, created, err := uc.convRepo.Create(ctx, conv)
	if err != nil {
		return nil, false, err
	}
	if created {
		uc.publish(ctx, domain.OpInsert, stored)
	}
	return stored, created, nil
}

// TouchLastMessage advances last_message_at, never backwards.
func (uc *ConversationUseCase) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	return uc.convRepo.TouchLastMessage(ctx, conversationID, at)
}

// MarkRead last_read_at = max(current, at)
func (uc *ConversationUseCase) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	if _, _, err := uc.requireActive(ctx, "conversation.mark_read", conversationID, userID); err != nil {
		return err
	}
	return uc.convRepo.MarkRead(ctx, conversationID, userID, at)
}

// Archive hides the conversation from listings; admins only.
func (uc *ConversationUseCase) Archive(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	const op = "conversation.archive"
	conv, p, err := uc.requireActive(ctx, op, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if p.Role != domain.RoleAdmin && conv.Type != domain.ConversationDirect {
		return nil, domain.NewPermissionError(op, "only admins can archive")
	}
	if err := uc.convRepo.SetArchived(ctx, conversationID, true); err != nil {
		return nil, err
	}
	return uc.reloadAndPublish(ctx, conversationID)
}

// Join a public channel or group.
func (uc *ConversationUseCase) Join(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	const op = "conversation.join"
	conv, err := uc.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type == domain.ConversationDirect {
		return nil, domain.NewValidationError(op, "direct conversations cannot be joined")
	}
	if conv.IsArchived {
		return nil, domain.NewValidationError(op, "conversation is archived")
	}
	if conv.IsActiveParticipant(userID) {
		return conv, nil
	}
	if conv.IsPrivate {
		return nil, domain.NewPermissionError(op, "private conversation requires an invitation")
	}
	p := domain.Participant{UserID: userID, Role: domain.RoleMember, JoinedAt: uc.now()}
	if err := uc.convRepo.AddParticipant(ctx, conversationID, p); err != nil {
		return nil, err
	}
	return uc.reloadAndPublish(ctx, conversationID)
}

// Leave a channel or group.
func (uc *ConversationUseCase) Leave(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	const op = "conversation.leave"
	conv, _, err := uc.requireActive(ctx, op, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.Type == domain.ConversationDirect {
		return nil, domain.NewValidationError(op, "direct conversations cannot be left")
	}
	if err := uc.convRepo.RemoveParticipant(ctx, conversationID, userID, uc.now()); err != nil {
		return nil, err
	}
	return uc.reloadAndPublish(ctx, conversationID)
}

// AddParticipant admins and moderators invite userID.
func (uc *ConversationUseCase) AddParticipant(ctx context.Context, conversationID, actorID, userID string) (*domain.Conversation, error) {
	const op = "conversation.add_participant"
	if strings.TrimSpace(userID) == "" {
		return nil, domain.NewValidationError(op, "user is required")
	}
	conv, p, err := uc.requireActive(ctx, op, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conv.Type == domain.ConversationDirect {
		return nil, domain.NewValidationError(op, "direct conversations have fixed participants")
	}
	if !p.Role.CanModerate() {
		return nil, domain.NewPermissionError(op, "only admins and moderators can add participants")
	}
	if conv.IsActiveParticipant(userID) {
		return conv, nil
	}
	np := domain.Participant{UserID: userID, Role: domain.RoleMember, JoinedAt: uc.now()}
	if err := uc.convRepo.AddParticipant(ctx, conversationID, np); err != nil {
		return nil, err
	}
	return uc.reloadAndPublish(ctx, conversationID)
}

func (uc *ConversationUseCase) reloadAndPublish(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	conv, err := uc.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	uc.publish(ctx, domain.OpUpdate, conv)
	return conv, nil
}

// publish failures are logged; the write is already durable.
func (uc *ConversationUseCase) publish(ctx context.Context, op domain.Operation, conv *domain.Conversation) {
	if err := uc.pub.Publish(ctx, domain.ConversationsEvent{Operation: op, Conversation: *conv}); err != nil {
		logger.Log.Warn("publish conversation event", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}
