package domain

import (
	"sort"
	"strings"
	"time"
)

// ConversationType definition conversation type
type ConversationType string

const (
	// ConversationChannel named, joinable conversation
	ConversationChannel ConversationType = "channel"
	// ConversationDirect 1對1, exactly two participants
	ConversationDirect ConversationType = "direct"
	// ConversationGroup ad hoc group of users
	ConversationGroup ConversationType = "group"
)

// Valid reports whether t is a known type.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationChannel, ConversationDirect, ConversationGroup:
		return true
	}
	return false
}

// ParticipantRole role inside one conversation
type ParticipantRole string

const (
	RoleAdmin     ParticipantRole = "admin"
	RoleModerator ParticipantRole = "moderator"
	RoleMember    ParticipantRole = "member"
)

// CanModerate admins and moderators may delete others' messages and add members.
func (r ParticipantRole) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Participant membership of a user in a conversation
type Participant struct {
	UserID     string          `bson:"user_id" json:"user_id"`
	Role       ParticipantRole `bson:"role" json:"role"`
	JoinedAt   time.Time       `bson:"joined_at" json:"joined_at"`
	LastReadAt time.Time       `bson:"last_read_at" json:"last_read_at"`
	IsMuted    bool            `bson:"is_muted" json:"is_muted"`
	LeftAt     *time.Time      `bson:"left_at,omitempty" json:"left_at,omitempty"`
}

// Active a participant that has not left
func (p Participant) Active() bool {
	return p.LeftAt == nil
}

// Conversation definition conversation
type Conversation struct {
	ID            string           `bson:"_id" json:"id"`
	Name          string           `bson:"name,omitempty" json:"name,omitempty"`
	Description   string           `bson:"description,omitempty" json:"description,omitempty"`
	Type          ConversationType `bson:"type" json:"type"`
	IsPrivate     bool             `bson:"is_private" json:"is_private"`
	IsArchived    bool             `bson:"is_archived" json:"is_archived"`
	CreatedBy     string           `bson:"created_by" json:"created_by"`
	CreatedAt     time.Time        `bson:"created_at" json:"created_at"`
	LastMessageAt time.Time        `bson:"last_message_at" json:"last_message_at"`
	Participants  []Participant    `bson:"participants" json:"participants"`
	// DirectKey is set only for direct conversations, see DirectKey().
	DirectKey string `bson:"direct_key,omitempty" json:"-"`
}

// Participant returns the membership of userID, active or not.
func (c *Conversation) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// IsActiveParticipant .
func (c *Conversation) IsActiveParticipant(userID string) bool {
	p, ok := c.Participant(userID)
	return ok && p.Active()
}

// ActiveParticipantIDs .
func (c *Conversation) ActiveParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Active() {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// DirectKey is the order independent identity of a direct pair.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// ConversationSummary is a conversation as listed for one viewer.
type ConversationSummary struct {
	Conversation
	DisplayName   string   `json:"display_name"`
	LatestMessage *Message `json:"latest_message,omitempty"`
	UnreadCount   int      `json:"unread_count"`
}

// SortSummaries orders by last_message_at desc, then created_at desc, then id.
func SortSummaries(list []ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// CreateConversationInput .
type CreateConversationInput struct {
	Type           ConversationType
	CreatorID      string
	ParticipantIDs []string
	Name           string
	Description    string
	IsPrivate      bool
}
