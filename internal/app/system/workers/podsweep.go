// internal/app/system/workers/podsweep.go
package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Deactivator is the slice of the pod store the sweep needs.
type Deactivator interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// PodSweep is a background worker that flips expired pods to inactive.
//
// The read and join paths already treat expired pods as absent, so the
// system is correct without this worker running. Sweeping keeps the
// matchmaking scan from re-visiting long-dead pods on every request.
type PodSweep struct {
	pods     Deactivator
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPodSweep creates a pod sweep worker that runs every interval.
func NewPodSweep(pods Deactivator, logger *zap.Logger, interval time.Duration) *PodSweep {
	return &PodSweep{
		pods:     pods,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *PodSweep) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("pod sweep worker started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *PodSweep) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("pod sweep worker stopped")
}

func (w *PodSweep) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *PodSweep) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := w.pods.DeactivateExpired(ctx, time.Now().UTC())
	if err != nil {
		w.log.Error("pod sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		w.log.Info("deactivated expired pods", zap.Int64("count", count))
	}
}
