// internal/app/store/memstore/memstore.go
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/store"
	"github.com/quietcove/podhub/internal/domain/models"
)

// subscriberBuffer is the per-watcher channel depth. A watcher that falls
// this far behind is detached rather than allowed to stall writers.
const subscriberBuffer = 256

// Store is an in-process implementation of the full store contract
// (store.PodStore, store.MemberStore, store.MessageStore). It backs the
// engine's test suite and works as-is for single-process deployments.
//
// All state lives behind one mutex; message delivery to watchers happens
// under that lock so every watcher observes inserts in the same order the
// store committed them.
type Store struct {
	log *zap.Logger

	mu        sync.Mutex
	pods      map[string]models.Pod
	members   map[string]models.Membership // keyed by membership id
	messages  map[string][]models.Message  // pod id -> transcript, append order
	subs      map[string]map[int]*subscriber
	nextSubID int
	lastStamp time.Time
}

type subscriber struct {
	ch     chan models.Message
	done   chan struct{} // closed together with ch; releases the ctx watcher
	closed bool
}

// New returns an empty Store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		log:      logger,
		pods:     make(map[string]models.Pod),
		members:  make(map[string]models.Membership),
		messages: make(map[string][]models.Message),
		subs:     make(map[string]map[int]*subscriber),
	}
}

var (
	_ store.PodStore     = (*Store)(nil)
	_ store.MemberStore  = (*Store)(nil)
	_ store.MessageStore = (*Store)(nil)
)

// stamp returns a write timestamp that is strictly greater than every
// previously issued one, so CreatedAt alone is a total order per store.
// Caller must hold mu.
func (s *Store) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

/* ── PodStore ──────────────────────────────────────────────────────────── */

func (s *Store) Insert(_ context.Context, pod models.Pod) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pod.ID = uuid.NewString()
	s.pods[pod.ID] = pod
	return pod.ID, nil
}

func (s *Store) Get(_ context.Context, id string) (models.Pod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pod, ok := s.pods[id]
	if !ok {
		return models.Pod{}, store.ErrNotFound
	}
	return pod, nil
}

func (s *Store) FindEligible(_ context.Context, topic string) (models.Pod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  models.Pod
		found bool
	)
	for _, pod := range s.pods {
		if pod.Topic != topic || !pod.Active || pod.MemberCount >= models.Capacity {
			continue
		}
		if !found || pod.MemberCount < best.MemberCount {
			best = pod
			found = true
		}
	}
	if !found {
		return models.Pod{}, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) Join(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pod, ok := s.pods[id]
	if !ok || !pod.Joinable(now) {
		return store.ErrNotJoinable
	}
	pod.MemberCount++
	s.pods[id] = pod
	return nil
}

func (s *Store) Leave(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pod, ok := s.pods[id]
	if !ok || pod.MemberCount == 0 {
		return 0, store.ErrNotFound
	}
	pod.MemberCount--
	if pod.MemberCount == 0 {
		pod.Active = false
	}
	s.pods[id] = pod
	return pod.MemberCount, nil
}

func (s *Store) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	for id, pod := range s.pods {
		if pod.Active && pod.IsExpired(now) {
			pod.Active = false
			s.pods[id] = pod
			touched++
		}
	}
	return touched, nil
}

/* ── MemberStore ───────────────────────────────────────────────────────── */

func (s *Store) Add(_ context.Context, podID, userID string, joinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.members {
		if m.PodID == podID && m.UserID == userID {
			return store.ErrDuplicateMember
		}
	}
	m := models.Membership{
		ID:       uuid.NewString(),
		PodID:    podID,
		UserID:   userID,
		JoinedAt: joinedAt,
	}
	s.members[m.ID] = m
	return nil
}

func (s *Store) Remove(_ context.Context, podID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.members {
		if m.PodID == podID && m.UserID == userID {
			delete(s.members, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) PodIDForUser(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.members {
		if m.UserID == userID {
			return m.PodID, nil
		}
	}
	return "", store.ErrNotFound
}

/* ── MessageStore ──────────────────────────────────────────────────────── */

func (s *Store) Append(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.CreatedAt = s.stamp()
	s.messages[msg.PodID] = append(s.messages[msg.PodID], msg)

	// Deliver under the lock so all watchers see inserts in commit order.
	for id, sub := range s.subs[msg.PodID] {
		select {
		case sub.ch <- msg:
		default:
			// Watcher fell too far behind; detach it instead of
			// stalling every writer on the pod.
			s.log.Warn("memstore: dropping slow watcher",
				zap.String("pod_id", msg.PodID),
				zap.Int("subscriber", id))
			sub.closed = true
			close(sub.ch)
			close(sub.done)
			delete(s.subs[msg.PodID], id)
		}
	}
	return msg, nil
}

func (s *Store) ListByPod(_ context.Context, podID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.messages[podID]
	out := make([]models.Message, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Watch(ctx context.Context, podID string) (<-chan models.Message, func(), error) {
	s.mu.Lock()
	sub := &subscriber{
		ch:   make(chan models.Message, subscriberBuffer),
		done: make(chan struct{}),
	}
	s.nextSubID++
	id := s.nextSubID
	if s.subs[podID] == nil {
		s.subs[podID] = make(map[int]*subscriber)
	}
	s.subs[podID][id] = sub
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.subs[podID][id]; ok && !cur.closed {
			cur.closed = true
			close(cur.ch)
			close(cur.done)
			delete(s.subs[podID], id)
		}
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-sub.done:
			}
		}()
	}
	return sub.ch, stop, nil
}
