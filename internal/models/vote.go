package models

import (
	"fmt"
	"time"
)

// Vote model - one row per ballot cast. Rows are immutable; they only go
// away when their poll is deleted.
//
// VoterKey is the deduplication key: the first-present of user id,
// session id, or client IP, prefixed by kind. The composite unique index
// with PollID turns a concurrent double-submit into a duplicate-key
// error instead of two rows.
type Vote struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	PollID    int       `gorm:"not null;uniqueIndex:idx_votes_poll_voter" json:"poll_id"`
	OptionID  int       `gorm:"not null;index" json:"option_id"`
	UserID    *int      `json:"user_id,omitempty"` // nil for anonymous votes
	SessionID string    `gorm:"index" json:"session_id,omitempty"`
	IPAddress string    `gorm:"index" json:"ip_address,omitempty"`
	VoterKey  string    `gorm:"not null;uniqueIndex:idx_votes_poll_voter" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// VoterKeyFor resolves the dedup key for a request identity, in
// precedence order: authenticated user, session token, client IP.
func VoterKeyFor(userID *int, sessionID, ipAddress string) string {
	switch {
	case userID != nil:
		return fmt.Sprintf("user:%d", *userID)
	case sessionID != "":
		return "session:" + sessionID
	default:
		return "ip:" + ipAddress
	}
}

type VoteRequest struct {
	OptionID int `json:"option_id" binding:"required"`
}
