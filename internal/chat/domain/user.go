package domain

import "time"

// UserProfile as resolved from the identity provider
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// PlaceholderProfile for ids the directory does not know.
func PlaceholderProfile(id string) UserProfile {
	return UserProfile{ID: id, DisplayName: id}
}

// DisplayName of a conversation for viewer: its name, or for a direct
// conversation the other participant's display name.
func DisplayName(c *Conversation, viewerID string, profiles map[string]UserProfile) string {
	if c.Name != "" && c.Type != ConversationDirect {
		return c.Name
	}
	for _, p := range c.Participants {
		if p.UserID == viewerID {
			continue
		}
		if prof, ok := profiles[p.UserID]; ok && prof.DisplayName != "" {
			return prof.DisplayName
		}
		return p.UserID
	}
	if c.Name != "" {
		return c.Name
	}
	return viewerID
}

// UnreadCount messages after lastReadAt not sent by the viewer and not deleted.
func UnreadCount(msgs []Message, viewerID string, lastReadAt time.Time) int {
	n := 0
	for i := range msgs {
		m := &msgs[i]
		if m.IsDeleted || m.SenderID == viewerID {
			continue
		}
		if m.CreatedAt.After(lastReadAt) {
			n++
		}
	}
	return n
}
