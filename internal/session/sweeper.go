package session

import (
	"context"
	"time"

	"canvas-gateway/internal/logger"
)

// Sweeper runs Store.Sweep on a fixed interval so idle sessions are
// reclaimed even when nobody looks them up.
type Sweeper struct {
	store    Store
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.store.Sweep(context.Background()); n > 0 {
					logger.Info("expired sessions reclaimed", map[string]any{
						"count": n,
					})
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
