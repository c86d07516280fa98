// internal/app/store/members/memberstore.go
package memberstore

import (
	"context"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quietcove/podhub/internal/app/store"
)

// Store persists membership rows in the "pod_members" collection.
// A unique index on (pod_id, user_id) — created at schema setup — backs
// the duplicate check.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("pod_members")}
}

var _ store.MemberStore = (*Store)(nil)

type memberDoc struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	PodID    primitive.ObjectID `bson:"pod_id"`
	UserID   string             `bson:"user_id"`
	JoinedAt time.Time          `bson:"joined_at"`
}

// Add inserts a membership row for (pod, user).
func (s *Store) Add(ctx context.Context, podID, userID string, joinedAt time.Time) error {
	oid, err := primitive.ObjectIDFromHex(podID)
	if err != nil {
		return store.ErrNotFound
	}
	_, err = s.c.InsertOne(ctx, memberDoc{
		PodID:    oid,
		UserID:   userID,
		JoinedAt: joinedAt.UTC(),
	})
	if wafflemongo.IsDup(err) {
		return store.ErrDuplicateMember
	}
	return err
}

// Remove deletes the row for (pod, user) and reports whether one existed.
func (s *Store) Remove(ctx context.Context, podID, userID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(podID)
	if err != nil {
		return false, nil
	}
	res, err := s.c.DeleteOne(ctx, bson.M{"pod_id": oid, "user_id": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// PodIDForUser returns the pod the user currently belongs to. The engine
// keeps at most one row per user; if stale extras exist the newest row wins.
func (s *Store) PodIDForUser(ctx context.Context, userID string) (string, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "joined_at", Value: -1}})
	var doc memberDoc
	err := s.c.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.PodID.Hex(), nil
}
