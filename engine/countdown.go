package engine

import (
	"context"
	"time"
)

// Seconds-remaining marks that force an announcement refresh and, for the
// larger ones, a one-shot warning to the room.
var warnThresholds = map[int]bool{
	60: true, 30: true, 15: true, 10: true,
	5: true, 4: true, 3: true, 2: true, 1: true,
}

// startCountdownLocked launches a countdown goroutine for the auction unless
// one is already running. Caller must hold a.mu.
func (s *Service) startCountdownLocked(a *Auction) {
	if a.countdownRunning {
		return
	}
	a.countdownRunning = true
	go s.runCountdown(a)
}

// runCountdown owns the auction's deadline until settlement or forced
// termination. Each wake re-reads the deadline under the auction lock, so a
// bid accepted between ticks always pushes expiry out. The expiry decision
// and the active flip happen in one critical section shared with the bid
// processor, which is what makes settlement exactly-once.
func (s *Service) runCountdown(a *Auction) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	lastRefresh := s.now()
	lastWarned := -1

	for range ticker.C {
		a.mu.Lock()
		if !a.active {
			// Forced finalize won the race; exit without settling.
			a.countdownRunning = false
			a.mu.Unlock()
			return
		}

		now := s.now()
		remaining := a.deadline.Sub(now)
		if remaining <= 0 {
			a.active = false
			a.countdownRunning = false
			snap := a.snapshotLocked()
			a.mu.Unlock()

			if _, err := s.commitOutcome(context.Background(), snap); err != nil {
				s.logger.Printf("WARN: settle room %s: %v", snap.RoomID, err)
			}
			return
		}
		snap := a.snapshotLocked()
		a.mu.Unlock()

		secs := int(remaining / time.Second)
		if now.Sub(lastRefresh) >= 10*time.Second || warnThresholds[secs] {
			s.refreshAnnouncement(context.Background(), a, snap)
			lastRefresh = now

			if warnThresholds[secs] && secs != lastWarned {
				if text := renderWarning(secs); text != "" {
					s.broadcast(context.Background(), snap.RoomID, text)
				}
				lastWarned = secs
			}
		}
	}
}
