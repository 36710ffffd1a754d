package kv

import (
	"context"
	"time"

	"github.com/fjordcrew/crewfront/internal/log"
)

// Sweeper periodically drops expired entries from a MemoryStore. Redis
// expires keys on its own and needs no sweeper.
type Sweeper struct {
	store    *MemoryStore
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store *MemoryStore, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep loop in a goroutine
func (s *Sweeper) Start(ctx context.Context) {
	log.LogDebugWithFields("kv", "Starting memory store sweeper", map[string]any{
		"interval": s.interval.String(),
	})
	go s.run(ctx)
}

// Stop ends the loop and waits for it to exit
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep() {
	if n := s.store.Sweep(); n > 0 {
		log.LogTraceWithFields("kv", "Swept expired entries", map[string]any{
			"count": n,
		})
	}
}
