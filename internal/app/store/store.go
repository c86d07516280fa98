// internal/app/store/store.go
//
// Package store defines the durable-store contract the matchmaking and
// lifecycle engine is written against. The engine never touches a concrete
// backend: everything it needs from storage is expressed here as four kinds
// of primitive — create, read/query, conditional atomic update, and a live
// insert subscription.
//
// Two backends implement the contract:
//   - pods / members / messages: MongoDB collections (one package per
//     collection), with $inc-based conditional updates and change streams.
//   - memstore: a single in-process backend used by tests and by
//     single-process deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/quietcove/podhub/internal/domain/models"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("store: not found")

	// ErrNotJoinable is returned by PodStore.Join when the conditional
	// seat increment matched nothing: the pod filled up, expired, or was
	// deactivated between the search and the join. Callers treat it as
	// "candidate no longer eligible", never as a fatal error.
	ErrNotJoinable = errors.New("store: pod not joinable")

	// ErrDuplicateMember is returned by MemberStore.Add when a membership
	// row already exists for the (pod, user) pair.
	ErrDuplicateMember = errors.New("store: duplicate membership")
)

// PodStore holds pod documents. MemberCount and Active are the only fields
// mutated after creation, and only through the conditional updates below —
// the contract deliberately has no whole-document overwrite.
type PodStore interface {
	// Insert stores a new pod and returns its assigned id.
	Insert(ctx context.Context, pod models.Pod) (string, error)

	// Get returns the pod with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (models.Pod, error)

	// FindEligible returns the least-loaded pod for the topic that is
	// stored active with an open seat, or ErrNotFound. Expiry is computed
	// by the caller against wall-clock time; a stored-active-but-expired
	// pod may be returned.
	FindEligible(ctx context.Context, topic string) (models.Pod, error)

	// Join claims one seat with a single atomically-checked update: the
	// increment applies only while the pod is active, below capacity, and
	// not expired as of now. Returns ErrNotJoinable when the condition
	// fails, so two racing joiners can never push a pod past capacity.
	Join(ctx context.Context, id string, now time.Time) error

	// Leave releases one seat with a conditional decrement (never below
	// zero) and deactivates the pod when the count reaches zero. It
	// returns the remaining member count. ErrNotFound when the pod is
	// missing or already empty.
	Leave(ctx context.Context, id string) (remaining int, err error)

	// DeactivateExpired flips every active pod past its ExpiresAt to
	// inactive as of now and returns how many it touched. Expiry is
	// already enforced lazily on every read and join path; this exists
	// so a periodic sweep can keep matchmaking scans from re-visiting
	// long-dead pods. Membership rows are untouched — members are swept
	// off individually when they next look the pod up.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemberStore holds membership rows, one per (pod, user).
type MemberStore interface {
	// Add inserts a membership row. ErrDuplicateMember if one exists.
	Add(ctx context.Context, podID, userID string, joinedAt time.Time) error

	// Remove deletes the row for (pod, user) and reports whether a row
	// was actually removed. Removing an absent row is not an error.
	Remove(ctx context.Context, podID, userID string) (bool, error)

	// PodIDForUser returns the pod the user currently belongs to, or
	// ErrNotFound. The engine keeps at most one row per user.
	PodIDForUser(ctx context.Context, userID string) (string, error)
}

// MessageStore holds immutable transcript entries.
type MessageStore interface {
	// Append stores a message, assigning its id and CreatedAt at write
	// time. The input's CreatedAt is ignored so caller clocks can never
	// skew transcript order.
	Append(ctx context.Context, msg models.Message) (models.Message, error)

	// ListByPod returns every message posted to the pod in CreatedAt
	// ascending order.
	ListByPod(ctx context.Context, podID string) ([]models.Message, error)

	// Watch returns a channel of messages inserted into the pod after the
	// watch is established, in insert order. The channel closes when the
	// context ends or the returned stop function is called; stop is
	// idempotent.
	Watch(ctx context.Context, podID string) (<-chan models.Message, func(), error)
}
