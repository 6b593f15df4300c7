package app

import (
	"context"
	"strings"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxPageSize = 200

// MessageUseCase 負責處理聊天訊息
type MessageUseCase struct {
	convUC    *ConversationUseCase
	msgRepo   repository.MessageRepository
	indexer   repository.SearchIndexer
	blobs     repository.BlobStore
	directory repository.UserDirectory
	pub       Publisher
	pageSize  int
	now       func() time.Time
}

// NewMessageUseCase init message use case
func NewMessageUseCase(
	convUC *ConversationUseCase,
	msgRepo repository.MessageRepository,
	indexer repository.SearchIndexer,
	blobs repository.BlobStore,
	directory repository.UserDirectory,
	pub Publisher,
	pageSize int,
) *MessageUseCase {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &MessageUseCase{
		convUC:    convUC,
		msgRepo:   msgRepo,
		indexer:   indexer,
		blobs:     blobs,
		directory: directory,
		pub:       pub,
		pageSize:  pageSize,
		now:       domain.Now,
	}
}

func (uc *MessageUseCase) limit(n int) int {
	switch {
	case n <= 0:
		return uc.pageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}

// withSenders joins sender display info in place.
func (uc *MessageUseCase) withSenders(ctx context.Context, msgs []domain.Message) {
	if len(msgs) == 0 {
		return
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	profiles, err := uc.directory.ResolveMany(ctx, ids)
	if err != nil {
		logger.Log.Warn("resolve senders", zap.Error(err))
		return
	}
	for i := range msgs {
		if p, ok := profiles[msgs[i].SenderID]; ok {
			msgs[i].Sender = &p
		}
	}
}

// List a page of non-deleted messages, oldest to newest.
func (uc *MessageUseCase) List(ctx context.Context, conversationID, userID string, opts domain.ListOptions) ([]domain.Message, error) {
	if _, _, err := uc.convUC.requireActive(ctx, "message.list", conversationID, userID); err != nil {
		return nil, err
	}
	opts.Limit = uc.limit(opts.Limit)
	msgs, err := uc.msgRepo.List(ctx, conversationID, opts)
	if err != nil {
		return nil, err
	}
	uc.withSenders(ctx, msgs)
	return msgs, nil
}

// ListThread replies to parentID in canonical order.
func (uc *MessageUseCase) ListThread(ctx context.Context, parentID, userID string, limit int) ([]domain.Message, error) {
	parent, err := uc.msgRepo.FindByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := uc.convUC.requireActive(ctx, "message.thread", parent.ConversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := uc.msgRepo.ListThread(ctx, parentID, uc.limit(limit))
	if err != nil {
		return nil, err
	}
	uc.withSenders(ctx, msgs)
	return msgs, nil
}

// Latest non-deleted message of a conversation, nil when there is none.
func (uc *MessageUseCase) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	latest, err := uc.msgRepo.Latest(ctx, []string{conversationID})
	if err != nil {
		return nil, err
	}
	m, ok := latest[conversationID]
	if !ok {
		return nil, nil
	}
	one := []domain.Message{m}
	uc.withSenders(ctx, one)
	return &one[0], nil
}

// checkRef a referenced message must exist in the same conversation.
func (uc *MessageUseCase) checkRef(ctx context.Context, op, conversationID, id string) error {
	if id == "" {
		return nil
	}
	ref, err := uc.msgRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if ref.ConversationID != conversationID {
		return domain.NewValidationError(op, "referenced message belongs to another conversation")
	}
	return nil
}

// Send persists the message, then uploads attachments one by one. A failed
// upload is logged and reported in the result; the message stays.
func (uc *MessageUseCase) Send(ctx context.Context, in domain.SendMessageInput) (*domain.SendResult, error) {
	const op = "message.send"
	if in.Type == "" {
		in.Type = domain.MessageText
	}
	if !in.Type.Valid() {
		return nil, domain.NewValidationError(op, "unknown message type "+string(in.Type))
	}
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return nil, domain.NewValidationError(op, "message is empty")
	}

	conv, _, err := uc.convUC.requireActive(ctx, op, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if conv.IsArchived {
		return nil, domain.NewValidationError(op, "conversation is archived")
	}
	if err := uc.checkRef(ctx, op, conv.ID, in.ParentMessageID); err != nil {
		return nil, err
	}
	if err := uc.checkRef(ctx, op, conv.ID, in.ReplyToMessageID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, domain.Transient(op, err)
	}
	now := uc.now()
	msg := domain.Message{
		ID:               id.String(),
		ConversationID:   conv.ID,
		SenderID:         in.SenderID,
		Content:          in.Content,
		Type:             in.Type,
		ParentMessageID:  in.ParentMessageID,
		ReplyToMessageID: in.ReplyToMessageID,
		CreatedAt:        now,
		UpdatedAt:        now,
		Reactions:        []domain.Reaction{},
		Attachments:      []domain.Attachment{},
	}
	if err := uc.msgRepo.Insert(ctx, &msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	result := &domain.SendResult{}
	for _, f := range in.Attachments {
		a, err := uc.upload(ctx, msg.ID, f)
		if err != nil {
			metrics.AttachmentFailures.Inc()
			logger.Log.Warn("attachment skipped",
				zap.String("message_id", msg.ID),
				zap.String("file_name", f.FileName),
				zap.Error(err))
			result.FailedAttachments = append(result.FailedAttachments, domain.FailedAttachment{
				FileName: f.FileName,
				Error:    err.Error(),
			})
			continue
		}
		msg.Attachments = append(msg.Attachments, a)
	}

	if err := uc.convUC.TouchLastMessage(ctx, conv.ID, msg.CreatedAt); err != nil {
		logger.Log.Warn("touch last message", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	if err := uc.indexer.Index(ctx, msg); err != nil {
		logger.Log.Warn("index message", zap.String("message_id", msg.ID), zap.Error(err))
	}

	one := []domain.Message{msg}
	uc.withSenders(ctx, one)
	msg = one[0]
	uc.publish(ctx, domain.OpInsert, msg)

	result.Message = msg
	return result, nil
}

func (uc *MessageUseCase) upload(ctx context.Context, messageID string, f domain.UploadFile) (domain.Attachment, error) {
	if f.Size == 0 {
		f.Size = int64(len(f.Data))
	}
	url, err := uc.blobs.Put(ctx, f.Data, f.FileMeta)
	if err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:        uuid.NewString(),
		MessageID: messageID,
		FileName:  f.FileName,
		Size:      f.Size,
		MimeType:  f.MimeType,
		FileType:  domain.FileTypeFromMIME(f.MimeType),
		URL:       url,
		CreatedAt: uc.now(),
	}
	if err := uc.msgRepo.AddAttachment(ctx, messageID, a); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}

// loadLive message that is not deleted
func (uc *MessageUseCase) loadLive(ctx context.Context, op, messageID string) (*domain.Message, error) {
	m, err := uc.msgRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, domain.NewNotFoundError(op, "message deleted")
	}
	return m, nil
}

// Edit sender only, while still an active participant.
func (uc *MessageUseCase) Edit(ctx context.Context, messageID, editorID, content string) (*domain.Message, error) {
	const op = "message.edit"
	m, err := uc.loadLive(ctx, op, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != editorID {
		return nil, domain.NewPermissionError(op, "only the sender can edit a message")
	}
	if _, _, err := uc.convUC.requireActive(ctx, op, m.ConversationID, editorID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, domain.NewValidationError(op, "content is empty")
	}
	updated, err := uc.msgRepo.UpdateContent(ctx, messageID, content, uc.now())
	if err != nil {
		return nil, err
	}
	if err := uc.indexer.Index(ctx, *updated); err != nil {
		logger.Log.Warn("reindex message", zap.String("message_id", messageID), zap.Error(err))
	}
	uc.publish(ctx, domain.OpUpdate, *updated)
	return updated, nil
}

// Delete soft-deletes; the sender or a conversation admin/moderator may.
func (uc *MessageUseCase) Delete(ctx context.Context, messageID, deleterID string) (*domain.Message, error) {
	const op = "message.delete"
	m, err := uc.loadLive(ctx, op, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != deleterID {
		conv, err := uc.convUC.convRepo.FindByID(ctx, m.ConversationID)
		if err != nil {
			return nil, err
		}
		p, ok := conv.Participant(deleterID)
		if !ok || !p.Active() || !p.Role.CanModerate() {
			return nil, domain.NewPermissionError(op, "only the sender or a moderator can delete a message")
		}
	}
	deleted, err := uc.msgRepo.SoftDelete(ctx, messageID, deleterID, uc.now())
	if err != nil {
		return nil, err
	}
	if err := uc.indexer.Remove(ctx, messageID); err != nil {
		logger.Log.Warn("unindex message", zap.String("message_id", messageID), zap.Error(err))
	}
	redacted := deleted.Redacted()
	uc.publish(ctx, domain.OpUpdate, redacted)
	return &redacted, nil
}

// AddReaction idempotent per (message, user, emoji)
func (uc *MessageUseCase) AddReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Message, error) {
	const op = "message.react"
	if err := uc.checkReactable(ctx, op, messageID, userID, emoji); err != nil {
		return nil, err
	}
	m, err := uc.msgRepo.AddReaction(ctx, domain.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: uc.now(),
	})
	if err != nil {
		return nil, err
	}
	uc.publish(ctx, domain.OpUpdate, *m)
	return m, nil
}

// RemoveReaction a missing reaction is not an error.
func (uc *MessageUseCase) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Message, error) {
	const op = "message.unreact"
	if err := uc.checkReactable(ctx, op, messageID, userID, emoji); err != nil {
		return nil, err
	}
	m, err := uc.msgRepo.RemoveReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	uc.publish(ctx, domain.OpUpdate, *m)
	return m, nil
}

func (uc *MessageUseCase) checkReactable(ctx context.Context, op, messageID, userID, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return domain.NewValidationError(op, "emoji is required")
	}
	m, err := uc.loadLive(ctx, op, messageID)
	if err != nil {
		return err
	}
	_, _, err = uc.convUC.requireActive(ctx, op, m.ConversationID, userID)
	return err
}

func (uc *MessageUseCase) publish(ctx context.Context, op domain.Operation, m domain.Message) {
	if err := uc.pub.Publish(ctx, domain.MessagesEvent{Operation: op, Message: m}); err != nil {
		logger.Log.Warn("publish message event", zap.String("message_id", m.ID), zap.Error(err))
	}
}
