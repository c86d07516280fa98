// internal/domain/models/message.go
package models

import "time"

// MessageKind distinguishes user posts from lifecycle announcements.
type MessageKind string

const (
	MessageKindSystem MessageKind = "system"
	MessageKindUser   MessageKind = "user"
)

// Message is one entry in a pod's transcript. Messages are immutable once
// written and are never deleted; CreatedAt is assigned by the store at
// write time and is the sole ordering key, so caller clock skew cannot
// reorder a transcript.
type Message struct {
	ID     string      `json:"id"`
	PodID  string      `json:"pod_id"`
	Kind   MessageKind `json:"kind"`
	UserID string      `json:"user_id,omitempty"` // set iff Kind == MessageKindUser
	Text   string      `json:"text"`

	CreatedAt time.Time `json:"created_at"`
}
