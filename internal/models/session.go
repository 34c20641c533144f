package models

import "time"

// Session is the durable record of a conversation, keyed by session id.
// The stored message list excludes the system prompt.
type Session struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// NewSession returns an empty session for the given id.
func NewSession(sessionID string) *Session {
	return &Session{
		ID:        sessionID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Messages:  []Message{},
	}
}
