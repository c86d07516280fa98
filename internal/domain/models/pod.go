// internal/domain/models/pod.go
package models

import (
	"time"
)

// Capacity is the maximum number of simultaneous members a pod may hold.
const Capacity = 5

// DurationClass selects the fixed lifespan a pod receives at creation.
// The TTL is applied once and is never extended by activity.
type DurationClass string

const (
	// Duration24h pods live for one day.
	Duration24h DurationClass = "24h"
	// Duration7d pods live for one week.
	Duration7d DurationClass = "7d"
)

// TTL returns the fixed offset for the duration class and whether the
// class is a known value.
func (d DurationClass) TTL() (time.Duration, bool) {
	switch d {
	case Duration24h:
		return 24 * time.Hour, true
	case Duration7d:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ParseDurationClass validates a raw duration string from a caller.
func ParseDurationClass(s string) (DurationClass, bool) {
	d := DurationClass(s)
	_, ok := d.TTL()
	return d, ok
}

// Pod is a capacity-bounded, time-limited support group.
//
// NOTE:
//   - The member list is not embedded on Pod. All membership is stored
//     in the pod_members collection, one row per (pod, user).
//   - Active is advisory: a pod past ExpiresAt is expired no matter what
//     the stored flag says. Readers must check IsExpired.
type Pod struct {
	ID            string        `json:"id"`
	Topic         string        `json:"topic"`
	Style         string        `json:"style"` // advisory only, never matched on
	DurationClass DurationClass `json:"duration_class"`
	MemberCount   int           `json:"member_count"`
	Active        bool          `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the pod is past its ExpiresAt as of now.
// Expiry is computed, not flagged: the stored Active value is ignored.
func (p Pod) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Joinable reports whether the pod can accept one more member as of now.
func (p Pod) Joinable(now time.Time) bool {
	return p.Active && p.MemberCount < Capacity && !p.IsExpired(now)
}
