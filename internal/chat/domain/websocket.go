package domain

// Action websocket request action
type Action string

const (
	ListConversations   Action = "list_conversations"
	CreateConversation  Action = "create_conversation"
	SelectConversation  Action = "select_conversation"
	ListMessages        Action = "list_messages"
	ListThread          Action = "list_thread"
	SendMessage         Action = "send_message"
	EditMessage         Action = "edit_message"
	DeleteMessage       Action = "delete_message"
	AddReaction         Action = "add_reaction"
	RemoveReaction      Action = "remove_reaction"
	MarkRead            Action = "mark_read"
	Search              Action = "search"
	SetTyping           Action = "set_typing"
	ActiveTypersAction  Action = "active_typers"
	SetPresence         Action = "set_presence"
	GetPresence         Action = "get_presence"
	Heartbeat           Action = "heartbeat"
	ArchiveConversation Action = "archive_conversation"
	JoinConversation    Action = "join_conversation"
	LeaveConversation   Action = "leave_conversation"
	AddParticipant      Action = "add_participant"
	Reconnect           Action = "reconnect"

	// EventAction pushed frames carrying a bus event
	EventAction Action = "event"
	// ConnectionStatusAction pushed when the bus transport drops or recovers
	ConnectionStatusAction Action = "connection_status"
)

// WSRequest websocket Request
type WSRequest struct {
	Action         string `json:"action"`
	RequestID      string `json:"request_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`

	// create_conversation
	Type           string   `json:"type,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description,omitempty"`
	IsPrivate      bool     `json:"is_private,omitempty"`

	// messages
	Content          string       `json:"content,omitempty"`
	MessageType      string       `json:"message_type,omitempty"`
	ParentMessageID  string       `json:"parent_message_id,omitempty"`
	ReplyToMessageID string       `json:"reply_to_message_id,omitempty"`
	Attachments      []UploadFile `json:"attachments,omitempty"`
	Emoji            string       `json:"emoji,omitempty"`
	Limit            int          `json:"limit,omitempty"`
	Before           string       `json:"before,omitempty"`

	Query           string   `json:"query,omitempty"`
	IsTyping        bool     `json:"is_typing,omitempty"`
	Status          string   `json:"status,omitempty"`
	CustomStatus    string   `json:"custom_status,omitempty"`
	UserID          string   `json:"user_id,omitempty"`
	UserIDs         []string `json:"user_ids,omitempty"`
	IncludeArchived bool     `json:"include_archived,omitempty"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action    string                 `json:"action"`
	RequestID string                 `json:"request_id,omitempty"`
	Success   bool                   `json:"success"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind ErrorKind              `json:"error_kind,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
}

// WSEvent pushed event frame
type WSEvent struct {
	Action string `json:"action"`
	Envelope
}
