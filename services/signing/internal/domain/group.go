package domain

import "time"

type GroupStatus string

const (
	GroupDraft     GroupStatus = "draft"
	GroupLocked    GroupStatus = "locked"
	GroupCompleted GroupStatus = "completed"
)

// DocumentGroup is an ordered set of documents signed one after another.
// Items are immutable once the group is locked.
type DocumentGroup struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Status    GroupStatus `json:"status"`
	Items     []GroupItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}

type GroupItem struct {
	DocumentID string `json:"document_id"`
	Order      int    `json:"order"`
}

type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

func (s SessionStatus) Closed() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// GroupSigningSession binds one recipient to one group behind one token.
type GroupSigningSession struct {
	ID           string        `json:"id"`
	Token        string        `json:"token"`
	GroupID      string        `json:"group_id"`
	Recipient    string        `json:"recipient"`
	CurrentIndex int           `json:"current_index"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
