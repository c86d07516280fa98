package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/store"
	"github.com/quietcove/podhub/internal/app/store/memstore"
	"github.com/quietcove/podhub/internal/domain/models"
)

// fakeClock is a mutable wall clock for driving expiry in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *memstore.Store, *fakeClock) {
	t.Helper()
	st := memstore.New(zap.NewNop())
	clock := newFakeClock()
	svc := New(st, st, st, zap.NewNop(), WithClock(clock.Now))
	return svc, st, clock
}

func TestFindOrCreatePod_CreatesWhenNoneEligible(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	podID, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Just listening", "24h")
	require.NoError(t, err)
	require.NotEmpty(t, podID)

	pod, err := st.Get(ctx, podID)
	require.NoError(t, err)
	assert.Equal(t, 1, pod.MemberCount)
	assert.True(t, pod.Active)
	assert.Equal(t, "Anxiety", pod.Topic)
	assert.Equal(t, models.Duration24h, pod.DurationClass)

	msgs, err := st.ListByPod(ctx, podID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageKindSystem, msgs[0].Kind)
	assert.Equal(t, welcomeText, msgs[0].Text)
}

func TestFindOrCreatePod_JoinsExistingPod(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	podA, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Just listening", "24h")
	require.NoError(t, err)

	podB, err := svc.FindOrCreatePod(ctx, "user-b", "Anxiety", "Venting", "24h")
	require.NoError(t, err)
	assert.Equal(t, podA, podB, "second user should land in the first user's pod")

	pod, err := st.Get(ctx, podA)
	require.NoError(t, err)
	assert.Equal(t, 2, pod.MemberCount)

	msgs, err := st.ListByPod(ctx, podA)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, welcomeText, msgs[0].Text)
	assert.Equal(t, joinedText, msgs[1].Text)
	assert.True(t, !msgs[1].CreatedAt.Before(msgs[0].CreatedAt))
}

func TestFindOrCreatePod_TopicMustMatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	podA, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Just listening", "24h")
	require.NoError(t, err)

	podB, err := svc.FindOrCreatePod(ctx, "user-b", "Grief", "Just listening", "24h")
	require.NoError(t, err)
	assert.NotEqual(t, podA, podB, "different topics must not share a pod")
}

func TestFindOrCreatePod_PrefersLeastLoaded(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	ttl, _ := models.Duration24h.TTL()
	mk := func(count int) string {
		id, err := st.Insert(ctx, models.Pod{
			Topic:         "Anxiety",
			Style:         "Just listening",
			DurationClass: models.Duration24h,
			MemberCount:   count,
			Active:        true,
			CreatedAt:     clock.Now(),
			ExpiresAt:     clock.Now().Add(ttl),
		})
		require.NoError(t, err)
		return id
	}
	mk(4)
	lighter := mk(2)

	got, err := svc.FindOrCreatePod(ctx, "user-x", "Anxiety", "Venting", "24h")
	require.NoError(t, err)
	assert.Equal(t, lighter, got)

	pod, err := st.Get(ctx, lighter)
	require.NoError(t, err)
	assert.Equal(t, 3, pod.MemberCount)
}

func TestFindOrCreatePod_FullPodsAreSkipped(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	ttl, _ := models.Duration24h.TTL()
	fullID, err := st.Insert(ctx, models.Pod{
		Topic:         "Anxiety",
		Style:         "Just listening",
		DurationClass: models.Duration24h,
		MemberCount:   models.Capacity,
		Active:        true,
		CreatedAt:     clock.Now(),
		ExpiresAt:     clock.Now().Add(ttl),
	})
	require.NoError(t, err)

	got, err := svc.FindOrCreatePod(ctx, "user-x", "Anxiety", "Venting", "24h")
	require.NoError(t, err)
	assert.NotEqual(t, fullID, got, "a full pod must never be joined")
}

func TestFindOrCreatePod_ExpiredPodTriggersCreate(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	stale, err := st.Insert(ctx, models.Pod{
		Topic:         "Anxiety",
		Style:         "Just listening",
		DurationClass: models.Duration24h,
		MemberCount:   1,
		Active:        true,
		CreatedAt:     clock.Now().Add(-25 * time.Hour),
		ExpiresAt:     clock.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	got, err := svc.FindOrCreatePod(ctx, "user-x", "Anxiety", "Venting", "24h")
	require.NoError(t, err)
	assert.NotEqual(t, stale, got, "an expired pod must never be joined")
}

func TestFindOrCreatePod_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.FindOrCreatePod(ctx, "", "Anxiety", "Venting", "24h")
	assert.ErrorIs(t, err, ErrNoUser)

	_, err = svc.FindOrCreatePod(ctx, "u", "  ", "Venting", "24h")
	assert.ErrorIs(t, err, ErrInvalidTopic)

	_, err = svc.FindOrCreatePod(ctx, "u", "Anxiety", "", "24h")
	assert.ErrorIs(t, err, ErrInvalidStyle)

	_, err = svc.FindOrCreatePod(ctx, "u", "Anxiety", "Venting", "1h")
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestFindOrCreatePod_RejoiningLeavesCurrentPod(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "24h")
	require.NoError(t, err)

	second, err := svc.FindOrCreatePod(ctx, "user-a", "Grief", "Venting", "24h")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Only one membership row may remain.
	podID, err := st.PodIDForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, second, podID)

	// The first pod lost its last member and deactivated.
	old, err := st.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 0, old.MemberCount)
	assert.False(t, old.Active)
}

func TestCapacityInvariant_ConcurrentJoinStorm(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	const users = 23
	var wg sync.WaitGroup
	errs := make([]error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := "user-" + string(rune('a'+i))
			_, errs[i] = svc.FindOrCreatePod(ctx, userID, "Anxiety", "Venting", "24h")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "join %d", i)
	}

	// Every pod stays within capacity and counts agree with membership rows.
	counts := make(map[string]int)
	for i := 0; i < users; i++ {
		userID := "user-" + string(rune('a'+i))
		podID, err := st.PodIDForUser(ctx, userID)
		require.NoError(t, err)
		counts[podID]++
	}
	total := 0
	for podID, n := range counts {
		pod, err := st.Get(ctx, podID)
		require.NoError(t, err)
		assert.LessOrEqual(t, pod.MemberCount, models.Capacity, "pod %s", podID)
		assert.Equal(t, n, pod.MemberCount, "pod %s count must match membership rows", podID)
		total += n
	}
	assert.Equal(t, users, total)
}

func TestCurrentPod_ReturnsNilWhenNotAMember(t *testing.T) {
	svc, _, _ := newTestService(t)

	pod, err := svc.CurrentPod(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, pod)
}

func TestCurrentPod_SweepsExpiredPodLazily(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	podID, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "24h")
	require.NoError(t, err)

	pod, err := svc.CurrentPod(ctx, "user-a")
	require.NoError(t, err)
	require.NotNil(t, pod)
	assert.Equal(t, podID, pod.ID)

	clock.Advance(24*time.Hour + time.Minute)

	pod, err = svc.CurrentPod(ctx, "user-a")
	require.NoError(t, err)
	assert.Nil(t, pod, "an expired pod reads as absent with no reaper running")

	// The sweep released the seat and dropped the membership row.
	_, err = st.PodIDForUser(ctx, "user-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	swept, err := st.Get(ctx, podID)
	require.NoError(t, err)
	assert.Equal(t, 0, swept.MemberCount)
}

func TestCurrentPod_WeeklyPodOutlivesDay(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "7d")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	pod, err := svc.CurrentPod(ctx, "user-a")
	require.NoError(t, err)
	assert.NotNil(t, pod, "a 7d pod is still live after a day")

	clock.Advance(7 * 24 * time.Hour)
	pod, err = svc.CurrentPod(ctx, "user-a")
	require.NoError(t, err)
	assert.Nil(t, pod)
}

func TestLeave_Idempotent(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	podID, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "24h")
	require.NoError(t, err)
	_, err = svc.FindOrCreatePod(ctx, "user-b", "Anxiety", "Venting", "24h")
	require.NoError(t, err)

	require.NoError(t, svc.Leave(ctx, "user-a", podID))
	pod, err := st.Get(ctx, podID)
	require.NoError(t, err)
	require.Equal(t, 1, pod.MemberCount)
	msgs, err := st.ListByPod(ctx, podID)
	require.NoError(t, err)
	before := len(msgs)

	// Second leave is a no-op: same count, no extra announcement.
	require.NoError(t, svc.Leave(ctx, "user-a", podID))
	pod, err = st.Get(ctx, podID)
	require.NoError(t, err)
	assert.Equal(t, 1, pod.MemberCount)
	msgs, err = st.ListByPod(ctx, podID)
	require.NoError(t, err)
	assert.Len(t, msgs, before)
}

func TestScenario_JoinLeaveLifecycle(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	// A asks for a pod with no eligible candidates: one is created.
	podID, err := svc.FindOrCreatePod(ctx, "A", "Anxiety", "Just listening", "24h")
	require.NoError(t, err)
	pod, err := st.Get(ctx, podID)
	require.NoError(t, err)
	require.Equal(t, 1, pod.MemberCount)

	// B asks for the same topic and lands in A's pod.
	got, err := svc.FindOrCreatePod(ctx, "B", "Anxiety", "Venting", "24h")
	require.NoError(t, err)
	require.Equal(t, podID, got)
	pod, err = st.Get(ctx, podID)
	require.NoError(t, err)
	require.Equal(t, 2, pod.MemberCount)

	// A leaves: pod stays active with one member.
	require.NoError(t, svc.Leave(ctx, "A", podID))
	pod, err = st.Get(ctx, podID)
	require.NoError(t, err)
	assert.Equal(t, 1, pod.MemberCount)
	assert.True(t, pod.Active)

	// B leaves: pod empties and deactivates.
	require.NoError(t, svc.Leave(ctx, "B", podID))
	pod, err = st.Get(ctx, podID)
	require.NoError(t, err)
	assert.Equal(t, 0, pod.MemberCount)
	assert.False(t, pod.Active)

	// Transcript: welcome, joined, left — in order.
	msgs, err := st.ListByPod(ctx, podID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, welcomeText, msgs[0].Text)
	assert.Equal(t, joinedText, msgs[1].Text)
	assert.Equal(t, leftText, msgs[2].Text)
	for _, m := range msgs {
		assert.Equal(t, models.MessageKindSystem, m.Kind)
	}
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestSendMessage(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	podID, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "24h")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, podID, "user-a", "hello everyone")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero(), "CreatedAt is assigned by the store")
	assert.Equal(t, models.MessageKindUser, msg.Kind)
	assert.Equal(t, "user-a", msg.UserID)

	_, err = svc.SendMessage(ctx, podID, "user-a", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = svc.SendMessage(ctx, podID, "", "hi")
	assert.ErrorIs(t, err, ErrNoUser)

	msgs, err := st.ListByPod(ctx, podID)
	require.NoError(t, err)
	assert.Equal(t, "hello everyone", msgs[len(msgs)-1].Text)
}

// recordingPodStore remembers the id of the last pod it inserted.
type recordingPodStore struct {
	*memstore.Store
	lastID string
}

func (r *recordingPodStore) Insert(ctx context.Context, pod models.Pod) (string, error) {
	id, err := r.Store.Insert(ctx, pod)
	r.lastID = id
	return id, err
}

// failingMemberStore rejects every membership insert.
type failingMemberStore struct {
	*memstore.Store
}

func (f *failingMemberStore) Add(context.Context, string, string, time.Time) error {
	return errors.New("member insert rejected")
}

func TestFindOrCreatePod_MembershipFailureReleasesCreatedPod(t *testing.T) {
	st := memstore.New(zap.NewNop())
	pods := &recordingPodStore{Store: st}
	svc := New(pods, &failingMemberStore{Store: st}, st, zap.NewNop())
	ctx := context.Background()

	_, err := svc.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "24h")
	require.Error(t, err)
	require.NotEmpty(t, pods.lastID)

	// The creator's seat must not stay claimed on a pod nobody is a member of.
	pod, err := st.Get(ctx, pods.lastID)
	require.NoError(t, err)
	assert.Equal(t, 0, pod.MemberCount)
	assert.False(t, pod.Active)
}
