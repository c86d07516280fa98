// internal/app/engine/engine.go
//
// Package engine implements pod matchmaking, membership lifecycle, and the
// transcript channel. It is the only part of the application with real
// concurrency concerns: any number of callers act at once, and the durable
// store is the single point of synchronization — the engine itself holds
// no shared mutable state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/store"
	"github.com/quietcove/podhub/internal/domain/models"
)

// System message texts posted on lifecycle transitions.
const (
	welcomeText = "Welcome to your pod! 💙 Be kind and supportive."
	joinedText  = "Someone new joined the pod 👋"
	leftText    = "Someone left the pod 👋"
)

// joinAttempts bounds how many times matchmaking re-runs the search after
// losing a seat race before falling back to creating a fresh pod.
const joinAttempts = 3

var (
	ErrInvalidTopic    = errors.New("engine: topic must not be empty")
	ErrInvalidStyle    = errors.New("engine: style must not be empty")
	ErrInvalidDuration = errors.New("engine: unknown duration class")
	ErrEmptyMessage    = errors.New("engine: message text must not be empty")
	ErrNoUser          = errors.New("engine: user id must not be empty")
)

// Service is the matchmaking, lifecycle, and message-channel engine.
// All methods are safe for concurrent use.
type Service struct {
	pods     store.PodStore
	members  store.MemberStore
	messages store.MessageStore
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock. Tests use it to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service over the given store backends.
func New(pods store.PodStore, members store.MemberStore, messages store.MessageStore, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		pods:     pods,
		members:  members,
		messages: messages,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindOrCreatePod places the user into an eligible pod for the topic, or
// creates a fresh one. On return the user is a member of exactly one
// active, non-expired pod whose topic matches.
//
// The capacity check and the seat increment are one atomically-checked
// store update; a lost race reads as "candidate no longer eligible" and
// triggers a bounded re-search before falling back to creation.
func (s *Service) FindOrCreatePod(ctx context.Context, userID, topic, style string, durationClass string) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	if strings.TrimSpace(topic) == "" {
		return "", ErrInvalidTopic
	}
	if strings.TrimSpace(style) == "" {
		return "", ErrInvalidStyle
	}
	duration, ok := models.ParseDurationClass(durationClass)
	if !ok {
		return "", ErrInvalidDuration
	}

	// A user is in at most one pod: leave the current one first.
	current, err := s.CurrentPod(ctx, userID)
	if err != nil {
		return "", err
	}
	if current != nil {
		if err := s.Leave(ctx, userID, current.ID); err != nil {
			return "", err
		}
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		candidate, err := s.pods.FindEligible(ctx, topic)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("matchmaking search: %w", err)
		}

		now := s.now()
		if candidate.IsExpired(now) {
			// Stored active but already past expires_at: invisible to
			// joins. It gets swept the next time a member looks it up.
			s.log.Info("matchmaking: skipping expired pod",
				zap.String("pod_id", candidate.ID),
				zap.String("topic", topic))
			break
		}

		err = s.pods.Join(ctx, candidate.ID, now)
		if errors.Is(err, store.ErrNotJoinable) {
			// Lost the seat race; the candidate filled up or expired
			// between the search and the claim.
			s.log.Info("matchmaking: lost seat race, retrying",
				zap.String("pod_id", candidate.ID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("claim seat: %w", err)
		}

		if err := s.completeJoin(ctx, candidate.ID, userID, joinedText); err != nil {
			return "", err
		}
		s.log.Info("matchmaking: joined pod",
			zap.String("pod_id", candidate.ID),
			zap.String("topic", topic))
		return candidate.ID, nil
	}

	return s.createPod(ctx, userID, topic, style, duration)
}

// completeJoin records the membership row for a claimed seat and announces
// the arrival. A membership failure releases the seat again.
func (s *Service) completeJoin(ctx context.Context, podID, userID, announce string) error {
	if err := s.members.Add(ctx, podID, userID, s.now()); err != nil {
		if _, leaveErr := s.pods.Leave(ctx, podID); leaveErr != nil {
			s.log.Error("matchmaking: seat release after failed membership insert",
				zap.String("pod_id", podID), zap.Error(leaveErr))
		}
		return fmt.Errorf("record membership: %w", err)
	}
	if _, err := s.PostSystemMessage(ctx, podID, announce); err != nil {
		return err
	}
	return nil
}

func (s *Service) createPod(ctx context.Context, userID, topic, style string, duration models.DurationClass) (string, error) {
	now := s.now()
	ttl, _ := duration.TTL()
	pod := models.Pod{
		Topic:         topic,
		Style:         style,
		DurationClass: duration,
		MemberCount:   1,
		Active:        true,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	podID, err := s.pods.Insert(ctx, pod)
	if err != nil {
		return "", fmt.Errorf("create pod: %w", err)
	}
	if err := s.members.Add(ctx, podID, userID, now); err != nil {
		if _, leaveErr := s.pods.Leave(ctx, podID); leaveErr != nil {
			s.log.Error("matchmaking: seat release after failed membership insert",
				zap.String("pod_id", podID), zap.Error(leaveErr))
		}
		return "", fmt.Errorf("record membership: %w", err)
	}
	if _, err := s.PostSystemMessage(ctx, podID, welcomeText); err != nil {
		return "", err
	}
	s.log.Info("matchmaking: created pod",
		zap.String("pod_id", podID),
		zap.String("topic", topic),
		zap.String("duration_class", string(duration)))
	return podID, nil
}

// CurrentPod returns the user's pod, or nil when there is none. Expiry is
// discovered here, lazily: an expired pod is left as a side effect and
// reported as absent — there is no background reaper.
func (s *Service) CurrentPod(ctx context.Context, userID string) (*models.Pod, error) {
	if userID == "" {
		return nil, ErrNoUser
	}

	podID, err := s.members.PodIDForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup membership: %w", err)
	}

	pod, err := s.pods.Get(ctx, podID)
	if errors.Is(err, store.ErrNotFound) {
		// Orphaned row; drop it and report no pod.
		if _, rmErr := s.members.Remove(ctx, podID, userID); rmErr != nil {
			return nil, fmt.Errorf("remove orphaned membership: %w", rmErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pod: %w", err)
	}

	if !pod.Active || pod.IsExpired(s.now()) {
		s.log.Info("lifecycle: sweeping expired pod on lookup",
			zap.String("pod_id", pod.ID),
			zap.String("user_id", userID))
		if err := s.Leave(ctx, userID, pod.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &pod, nil
}

// Leave removes the user from the pod. Leaving a pod the user is not in is
// a no-op, so the operation is idempotent. When the last member leaves,
// the pod is deactivated; otherwise the departure is announced.
func (s *Service) Leave(ctx context.Context, userID, podID string) error {
	if userID == "" {
		return ErrNoUser
	}

	removed, err := s.members.Remove(ctx, podID, userID)
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	if !removed {
		return nil
	}

	remaining, err := s.pods.Leave(ctx, podID)
	if errors.Is(err, store.ErrNotFound) {
		// Pod already gone or empty; the membership row was stale.
		return nil
	}
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}

	s.log.Info("lifecycle: member left pod",
		zap.String("pod_id", podID),
		zap.Int("remaining", remaining))

	if remaining > 0 {
		// The departure itself is already durable; the announcement is
		// advisory, so a failed append only gets logged.
		if _, err := s.messages.Append(ctx, models.Message{
			PodID: podID,
			Kind:  models.MessageKindSystem,
			Text:  leftText,
		}); err != nil {
			s.log.Warn("lifecycle: departure announcement failed",
				zap.String("pod_id", podID), zap.Error(err))
		}
	}
	return nil
}

// SendMessage appends a user message to the pod's transcript. CreatedAt is
// assigned by the store, not here.
func (s *Service) SendMessage(ctx context.Context, podID, userID, text string) (models.Message, error) {
	if userID == "" {
		return models.Message{}, ErrNoUser
	}
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	msg, err := s.messages.Append(ctx, models.Message{
		PodID:  podID,
		Kind:   models.MessageKindUser,
		UserID: userID,
		Text:   text,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// PostSystemMessage appends a system message to the pod's transcript.
func (s *Service) PostSystemMessage(ctx context.Context, podID, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	msg, err := s.messages.Append(ctx, models.Message{
		PodID: podID,
		Kind:  models.MessageKindSystem,
		Text:  text,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("append system message: %w", err)
	}
	return msg, nil
}
