package service

import (
	"context"
	"log"
	"time"
)

// RunIdleEvictionMonitor evicts idle sessions every sweep interval until ctx is done.
func (s *Service) RunIdleEvictionMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.config.SessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepIdleSessions(now)
		}
	}
}

func (s *Service) sweepIdleSessions(now time.Time) int {
	evicted := s.registry.EvictIdle(now)
	if evicted > 0 {
		st := s.registry.Stats()
		log.Printf("Evicted %d idle sessions (remaining: %d, connected: %d)", evicted, st.Sessions, st.Connected)
	}
	return evicted
}
