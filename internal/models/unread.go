package models

import "time"

// UnreadSnapshot is a user's unread count per source at a point in time.
// It is derived on every request and never persisted.
type UnreadSnapshot struct {
	System  int `json:"system"`
	Project int `json:"project"`
	Private int `json:"private"`
	Total   int `json:"total"`
}

// NewUnreadSnapshot builds a snapshot, clamping negative inputs to zero.
func NewUnreadSnapshot(system, project, private int) UnreadSnapshot {
	s := UnreadSnapshot{System: max(system, 0), Project: max(project, 0), Private: max(private, 0)}
	s.Total = s.System + s.Project + s.Private
	return s
}

// Set stores the count for kind and recomputes the total.
func (s *UnreadSnapshot) Set(kind Kind, n int) {
	n = max(n, 0)
	switch kind {
	case KindSystem:
		s.System = n
	case KindProject:
		s.Project = n
	case KindPrivate:
		s.Private = n
	}
	s.Total = s.System + s.Project + s.Private
}

// UnreadResponse is the wire shape of GET /notifications/unread.
type UnreadResponse struct {
	Total     int       `json:"total"`
	Breakdown Breakdown `json:"breakdown"`
}

type Breakdown struct {
	System  int `json:"system"`
	Project int `json:"project"`
	Private int `json:"private"`
}

// Response converts the snapshot to its wire shape.
func (s UnreadSnapshot) Response() UnreadResponse {
	return UnreadResponse{
		Total:     s.Total,
		Breakdown: Breakdown{System: s.System, Project: s.Project, Private: s.Private},
	}
}

// Snapshot converts the wire shape back to a snapshot.
func (r UnreadResponse) Snapshot() UnreadSnapshot {
	return NewUnreadSnapshot(r.Breakdown.System, r.Breakdown.Project, r.Breakdown.Private)
}

// RecentItem is one entry of the notification dropdown.
type RecentItem struct {
	ID             int64     `db:"id" json:"id"`
	Kind           Kind      `db:"kind" json:"messageType"`
	SenderID       *int64    `db:"sender_id" json:"senderId,omitempty"`
	ConversationID int64     `db:"conversation_id" json:"conversationId,omitempty"`
	Content        string    `db:"content" json:"-"`
	Preview        string    `db:"-" json:"preview"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}
