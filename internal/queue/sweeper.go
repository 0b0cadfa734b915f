package queue

import (
	"context"
	"time"

	logpkg "github.com/mood-agency/relay/pkg/log"
)

// StartSweeper launches the background loop that reclaims expired leases at
// the configured interval. Idempotent.
func (e *Engine) StartSweeper() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sweepStop != nil {
		return
	}
	e.sweepStop = make(chan struct{})
	e.sweepDone = make(chan struct{})
	go e.runSweeper(e.sweepStop, e.sweepDone)
	e.logger.Debug("lease sweeper started", logpkg.Dur("interval", e.sweepIntv))
}

// StopSweeper stops the background loop and waits for it to exit. Idempotent.
func (e *Engine) StopSweeper() {
	e.mu.Lock()
	stop, done := e.sweepStop, e.sweepDone
	e.sweepStop, e.sweepDone = nil, nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (e *Engine) runSweeper(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.sweepIntv)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := e.ReclaimExpired(context.Background(), 0, e.sweepBatch)
			if err != nil {
				e.logger.Error("lease sweep failed", logpkg.Err(err))
				continue
			}
			if n > 0 {
				e.logger.Info("reclaimed expired leases", logpkg.Int("count", n))
			}
		}
	}
}
