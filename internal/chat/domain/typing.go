package domain

import (
	"sort"
	"time"
)

// TypingIndicator ephemeral, keyed by (conversation, user)
type TypingIndicator struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Fresh an indicator that still counts as typing at now.
func (t TypingIndicator) Fresh(now time.Time, expiry time.Duration) bool {
	return t.IsTyping && now.Sub(t.UpdatedAt) <= expiry
}

// ActiveTypers user ids of fresh indicators, sorted.
func ActiveTypers(indicators []TypingIndicator, now time.Time, expiry time.Duration) []string {
	out := make([]string, 0, len(indicators))
	for _, t := range indicators {
		if t.Fresh(now, expiry) {
			out = append(out, t.UserID)
		}
	}
	sort.Strings(out)
	return out
}
