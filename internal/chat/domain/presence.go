package domain

import "time"

// PresenceStatus .
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Valid .
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// PresenceRecord one per user, last writer wins
type PresenceRecord struct {
	UserID       string         `bson:"user_id" json:"user_id"`
	Status       PresenceStatus `bson:"status" json:"status"`
	LastSeen     time.Time      `bson:"last_seen" json:"last_seen"`
	CustomStatus string         `bson:"custom_status,omitempty" json:"custom_status,omitempty"`
}

// EffectiveStatus is offline when the record is stale, whatever it says.
func (r PresenceRecord) EffectiveStatus(now time.Time, timeout time.Duration) PresenceStatus {
	if r.UserID == "" || now.Sub(r.LastSeen) > timeout {
		return StatusOffline
	}
	return r.Status
}
