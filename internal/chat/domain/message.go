package domain

import (
	"sort"
	"strings"
	"time"
)

// MessageType definition message type
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageSystem MessageType = "system"
)

// Valid .
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageImage, MessageVideo, MessageAudio, MessageSystem:
		return true
	}
	return false
}

// Message 表示一則聊天訊息, one document per message
type Message struct {
	ID               string      `bson:"_id" json:"id"`
	ConversationID   string      `bson:"conversation_id" json:"conversation_id"`
	SenderID         string      `bson:"sender_id" json:"sender_id"`
	Content          string      `bson:"content" json:"content"`
	Type             MessageType `bson:"type" json:"type"`
	ParentMessageID  string      `bson:"parent_message_id,omitempty" json:"parent_message_id,omitempty"`
	ReplyToMessageID string      `bson:"reply_to_message_id,omitempty" json:"reply_to_message_id,omitempty"`

	IsEdited  bool       `bson:"is_edited" json:"is_edited"`
	EditedAt  *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	IsDeleted bool       `bson:"is_deleted" json:"is_deleted"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	DeletedBy string     `bson:"deleted_by,omitempty" json:"deleted_by,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`

	Reactions   []Reaction   `bson:"reactions" json:"reactions"`
	Attachments []Attachment `bson:"attachments" json:"attachments"`

	// joined on read, not stored
	Sender *UserProfile `bson:"-" json:"sender,omitempty"`
}

// MessageLess is the canonical (created_at, id) order.
func MessageLess(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortMessages sorts in place in canonical order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return MessageLess(&msgs[i], &msgs[j]) })
}

// Redacted hides content of a deleted message.
func (m Message) Redacted() Message {
	if m.IsDeleted {
		m.Content = ""
		m.Attachments = nil
		m.Reactions = nil
	}
	return m
}

// Reaction at most one per (message, user, emoji)
type Reaction struct {
	MessageID string    `bson:"message_id" json:"message_id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Attachment file stored in the blob store and owned by one message
type Attachment struct {
	ID        string      `bson:"id" json:"id"`
	MessageID string      `bson:"message_id" json:"message_id"`
	FileName  string      `bson:"file_name" json:"file_name"`
	Size      int64       `bson:"size" json:"size"`
	MimeType  string      `bson:"mime_type" json:"mime_type"`
	FileType  MessageType `bson:"file_type" json:"file_type"`
	URL       string      `bson:"url" json:"url"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}

// FileTypeFromMIME image/, video/, audio/ prefixes, file otherwise.
func FileTypeFromMIME(mime string) MessageType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageImage
	case strings.HasPrefix(mime, "video/"):
		return MessageVideo
	case strings.HasPrefix(mime, "audio/"):
		return MessageAudio
	}
	return MessageFile
}

// FileMeta caller supplied metadata of an upload
type FileMeta struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// UploadFile one attachment of a send
type UploadFile struct {
	FileMeta
	Data []byte `json:"data"`
}

// SendMessageInput .
type SendMessageInput struct {
	ConversationID   string
	SenderID         string
	Content          string
	Type             MessageType
	ParentMessageID  string
	ReplyToMessageID string
	Attachments      []UploadFile
}

// FailedAttachment an upload skipped during send
type FailedAttachment struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// SendResult the durable message plus the uploads that did not make it.
type SendResult struct {
	Message           Message            `json:"message"`
	FailedAttachments []FailedAttachment `json:"failed_attachments,omitempty"`
}

// ListOptions backward pagination, Before is a message id
type ListOptions struct {
	Limit  int
	Before string
}

// Now is the storage precision clock.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
