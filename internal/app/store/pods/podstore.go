// internal/app/store/pods/podstore.go
package podstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quietcove/podhub/internal/app/store"
	"github.com/quietcove/podhub/internal/domain/models"
)

// Store persists pods in the "pods" collection.
//
// MemberCount and Active are only ever changed through Join and Leave,
// which are conditional updates: the eligibility check and the increment
// happen in a single atomically-checked UpdateOne, so racing joiners can
// never drive a pod past capacity.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("pods")}
}

var _ store.PodStore = (*Store)(nil)

type podDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Topic         string             `bson:"topic"`
	Style         string             `bson:"style"`
	DurationClass string             `bson:"duration_class"`
	MemberCount   int                `bson:"member_count"`
	Active        bool               `bson:"active"`
	CreatedAt     time.Time          `bson:"created_at"`
	ExpiresAt     time.Time          `bson:"expires_at"`
}

func (d podDoc) model() models.Pod {
	return models.Pod{
		ID:            d.ID.Hex(),
		Topic:         d.Topic,
		Style:         d.Style,
		DurationClass: models.DurationClass(d.DurationClass),
		MemberCount:   d.MemberCount,
		Active:        d.Active,
		CreatedAt:     d.CreatedAt,
		ExpiresAt:     d.ExpiresAt,
	}
}

// Insert stores a new pod and returns its assigned id.
func (s *Store) Insert(ctx context.Context, pod models.Pod) (string, error) {
	doc := podDoc{
		Topic:         pod.Topic,
		Style:         pod.Style,
		DurationClass: string(pod.DurationClass),
		MemberCount:   pod.MemberCount,
		Active:        pod.Active,
		CreatedAt:     pod.CreatedAt.UTC(),
		ExpiresAt:     pod.ExpiresAt.UTC(),
	}
	res, err := s.c.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.New("podstore: unexpected inserted id type")
	}
	return oid.Hex(), nil
}

// Get returns the pod with the given id, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (models.Pod, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Pod{}, store.ErrNotFound
	}
	var doc podDoc
	err = s.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return models.Pod{}, store.ErrNotFound
	}
	if err != nil {
		return models.Pod{}, err
	}
	return doc.model(), nil
}

// FindEligible returns the least-loaded stored-active pod for the topic
// with an open seat. The expiry check is left to the caller: a pod can sit
// stored active while already past expires_at.
func (s *Store) FindEligible(ctx context.Context, topic string) (models.Pod, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "member_count", Value: 1}})
	var doc podDoc
	err := s.c.FindOne(ctx, bson.M{
		"topic":        topic,
		"active":       true,
		"member_count": bson.M{"$lt": models.Capacity},
	}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return models.Pod{}, store.ErrNotFound
	}
	if err != nil {
		return models.Pod{}, err
	}
	return doc.model(), nil
}

// Join claims one seat via a conditional increment. The filter carries the
// full eligibility predicate so a stale candidate simply fails to match.
func (s *Store) Join(ctx context.Context, id string, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotJoinable
	}
	res, err := s.c.UpdateOne(ctx,
		bson.M{
			"_id":          oid,
			"active":       true,
			"member_count": bson.M{"$lt": models.Capacity},
			"expires_at":   bson.M{"$gt": now.UTC()},
		},
		bson.M{"$inc": bson.M{"member_count": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotJoinable
	}
	return nil
}

// Leave releases one seat. The decrement is guarded by member_count > 0 so
// it can never go negative; deactivation applies only while the count is
// still zero, so a join that sneaks in between the two updates wins.
func (s *Store) Leave(ctx context.Context, id string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, store.ErrNotFound
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc podDoc
	err = s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "member_count": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"member_count": -1}},
		opts,
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	if doc.MemberCount == 0 {
		_, err = s.c.UpdateOne(ctx,
			bson.M{"_id": oid, "member_count": 0},
			bson.M{"$set": bson.M{"active": false}},
		)
		if err != nil {
			return 0, err
		}
	}
	return doc.MemberCount, nil
}

// DeactivateExpired flips every active pod past its expiry to inactive.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.c.UpdateMany(ctx,
		bson.M{"active": true, "expires_at": bson.M{"$lte": now.UTC()}},
		bson.M{"$set": bson.M{"active": false}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
