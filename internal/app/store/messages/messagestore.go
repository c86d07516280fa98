// internal/app/store/messages/messagestore.go
package messagestore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/store"
	"github.com/quietcove/podhub/internal/domain/models"
)

// watchBuffer is the per-watcher channel depth between the change stream
// and the consumer.
const watchBuffer = 256

// Store persists transcript entries in the "pod_messages" collection.
// Documents are append-only: nothing here updates or deletes a message.
//
// Watch is backed by a MongoDB change stream, which requires the server to
// run as a replica set (a single-node replica set is fine for local use).
type Store struct {
	c   *mongo.Collection
	log *zap.Logger
}

func New(db *mongo.Database, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{c: db.Collection("pod_messages"), log: logger}
}

var _ store.MessageStore = (*Store)(nil)

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	PodID     primitive.ObjectID `bson:"pod_id"`
	Kind      string             `bson:"kind"`
	UserID    string             `bson:"user_id,omitempty"`
	Text      string             `bson:"text"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d messageDoc) model() models.Message {
	return models.Message{
		ID:        d.ID.Hex(),
		PodID:     d.PodID.Hex(),
		Kind:      models.MessageKind(d.Kind),
		UserID:    d.UserID,
		Text:      d.Text,
		CreatedAt: d.CreatedAt,
	}
}

// Append stores a message. CreatedAt is assigned here, at the store layer,
// so transcript order never depends on caller clocks.
func (s *Store) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(msg.PodID)
	if err != nil {
		return models.Message{}, store.ErrNotFound
	}
	doc := messageDoc{
		PodID:     oid,
		Kind:      string(msg.Kind),
		UserID:    msg.UserID,
		Text:      msg.Text,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.c.InsertOne(ctx, doc)
	if err != nil {
		return models.Message{}, err
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return models.Message{}, errors.New("messagestore: unexpected inserted id type")
	}
	doc.ID = id
	return doc.model(), nil
}

// ListByPod returns the pod's transcript in created_at ascending order,
// with _id as the tiebreaker for equal timestamps.
func (s *Store) ListByPod(ctx context.Context, podID string) ([]models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(podID)
	if err != nil {
		return nil, store.ErrNotFound
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	cur, err := s.c.Find(ctx, bson.M{"pod_id": oid}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// Watch opens a change stream filtered to inserts for one pod and pumps
// the inserted documents to the returned channel in stream order.
func (s *Store) Watch(ctx context.Context, podID string) (<-chan models.Message, func(), error) {
	oid, err := primitive.ObjectIDFromHex(podID)
	if err != nil {
		return nil, nil, store.ErrNotFound
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":       "insert",
			"fullDocument.pod_id": oid,
		}}},
	}
	cs, err := s.c.Watch(ctx, pipeline)
	if err != nil {
		return nil, nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out := make(chan models.Message, watchBuffer)

	go func() {
		defer close(out)
		defer func() {
			// Detached from streamCtx so close-out still runs after cancel.
			if err := cs.Close(context.Background()); err != nil {
				s.log.Warn("messagestore: change stream close failed", zap.Error(err))
			}
		}()

		for cs.Next(streamCtx) {
			var ev struct {
				FullDocument messageDoc `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				s.log.Warn("messagestore: change stream decode failed",
					zap.String("pod_id", podID), zap.Error(err))
				continue
			}
			select {
			case out <- ev.FullDocument.model():
			case <-streamCtx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			s.log.Warn("messagestore: change stream ended",
				zap.String("pod_id", podID), zap.Error(err))
		}
	}()

	return out, cancel, nil
}
