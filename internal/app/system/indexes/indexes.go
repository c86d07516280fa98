// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.

Pod expiry is deliberately NOT a Mongo TTL index: a TTL reaper deletes pod
documents out from under their membership rows, and an expired pod must
stay readable until its members have been swept off it.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	if err := ensurePods(ctx, db); err != nil {
		problems = append(problems, "pods: "+err.Error())
	}
	if err := ensurePodMembers(ctx, db); err != nil {
		problems = append(problems, "pod_members: "+err.Error())
	}
	if err := ensurePodMessages(ctx, db); err != nil {
		problems = append(problems, "pod_messages: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func sameBoolPtr(a, b *bool) bool {
	av := false
	bv := false
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string

	for _, m := range models {
		var desiredName string
		var desiredUnique *bool
		if m.Options != nil {
			if m.Options.Name != nil {
				desiredName = *m.Options.Name
			}
			if m.Options.Unique != nil {
				desiredUnique = m.Options.Unique
			}
		}
		desiredSig := keySig(m.Keys.(bson.D))

		start := time.Now()

		// Load existing indexes keyed by signature.
		existing := map[string]existingIndex{}
		cur, err := coll.Indexes().List(ctx)
		if err == nil {
			for cur.Next(ctx) {
				var idx existingIndex
				if err := cur.Decode(&idx); err != nil {
					zap.L().Warn("failed to decode existing index",
						zap.String("collection", coll.Name()),
						zap.Error(err))
					continue
				}
				existing[keySig(idx.Key)] = idx
			}
			cur.Close(ctx)
		}

		if ex, ok := existing[desiredSig]; ok && sameBoolPtr(desiredUnique, ex.Unique) {
			// Same keys and options: reuse.
			continue
		} else if ok {
			// Options mismatch (e.g. upgrading to unique): drop and recreate.
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), desiredName, err))
				continue
			}
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			errs = append(errs, fmt.Sprintf("%s(%s): create failed: %v", coll.Name(), desiredName, err))
			continue
		}
		zap.L().Info("index created",
			zap.String("collection", coll.Name()),
			zap.String("name", desiredName),
			zap.String("keys", desiredSig),
			zap.Bool("unique", desiredUnique != nil && *desiredUnique),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Per-collection desired index sets                                          */
/* -------------------------------------------------------------------------- */

// pods: matchmaking scans by topic over open pods, least-loaded first; the
// sweep scans active pods by expiry.
func ensurePods(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("pods"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "topic", Value: 1}, {Key: "active", Value: 1}, {Key: "member_count", Value: 1}},
			Options: options.Index().SetName("topic_active_count"),
		},
		{
			Keys:    bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("active_expiry"),
		},
	})
}

// pod_members: one row per (pod, user). The unique index is what turns a
// duplicate join into a detectable store error instead of silent drift.
func ensurePodMembers(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("pod_members"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pod_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetName("pod_user_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("by_user"),
		},
	})
}

// pod_messages: transcript reads are ordered by creation time within a pod.
func ensurePodMessages(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("pod_messages"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pod_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("pod_created"),
		},
	})
}
