// internal/app/engine/subscribe.go
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/domain/models"
)

// SubscribeMessages opens a live transcript feed for the pod: every message
// ever posted, in CreatedAt ascending order, followed by every subsequent
// post as it lands. onMessage runs on a dedicated goroutine, one message at
// a time, so a slow consumer only delays its own feed.
//
// The returned cancel is idempotent and blocks until delivery has fully
// stopped: no callback fires after cancel returns. Because cancel waits
// for the delivery goroutine, it must not be called from inside onMessage.
// Every consumer that stops observing a pod must call cancel (or end ctx)
// or the subscription leaks.
func (s *Service) SubscribeMessages(ctx context.Context, podID string, onMessage func(models.Message)) (func(), error) {
	// Open the live feed before reading the backlog so nothing posted in
	// between is missed; anything that shows up in both is dropped from
	// the live side by id.
	live, stopWatch, err := s.messages.Watch(ctx, podID)
	if err != nil {
		return nil, fmt.Errorf("open message watch: %w", err)
	}

	backlog, err := s.messages.ListByPod(ctx, podID)
	if err != nil {
		stopWatch()
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	inBacklog := make(map[string]struct{}, len(backlog))
	for _, m := range backlog {
		inBacklog[m.ID] = struct{}{}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stopWatch()
			close(done)
		})
		<-stopped
	}

	s.log.Debug("subscription opened",
		zap.String("pod_id", podID),
		zap.Int("backlog", len(backlog)))

	go func() {
		defer close(stopped)
		defer s.log.Debug("subscription closed", zap.String("pod_id", podID))

		for _, m := range backlog {
			select {
			case <-done:
				return
			default:
			}
			onMessage(m)
		}

		for {
			select {
			case <-done:
				return
			case m, ok := <-live:
				if !ok {
					return
				}
				if _, dup := inBacklog[m.ID]; dup {
					// Landed between watch-open and the backlog read;
					// already delivered above.
					delete(inBacklog, m.ID)
					continue
				}
				onMessage(m)
			}
		}
	}()

	// Tie the subscription to the caller's context as well.
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				once.Do(func() {
					stopWatch()
					close(done)
				})
			case <-stopped:
			}
		}()
	}

	return cancel, nil
}
