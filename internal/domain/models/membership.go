// internal/domain/models/membership.go
package models

import "time"

// Membership is the authoritative join between users and pods.
// Exactly one row per (pod_id, user_id). The lifecycle manager keeps a
// stronger invariant on top of the store: a user holds at most one row
// pointing at an active, non-expired pod at any time.
type Membership struct {
	ID       string    `json:"id"`
	PodID    string    `json:"pod_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
