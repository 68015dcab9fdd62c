package game

import (
	"time"

	"github.com/athleterace/backend/internal/models"
)

// startClockLocked launches the countdown goroutine. Callers hold s.mu and
// have already set endsAt; calling with a clock already running is a bug.
func (s *Session) startClockLocked() {
	stop := make(chan struct{})
	s.clockStop = stop
	go s.runClock(stop)
}

// stopClockLocked signals the countdown goroutine to exit. Safe to call when
// no clock is running.
func (s *Session) stopClockLocked() {
	if s.clockStop != nil {
		close(s.clockStop)
		s.clockStop = nil
	}
}

// runClock ticks once per second, broadcasting the remaining time and
// completing the session at expiry. State is only touched inside tick, under
// the session lock, so the goroutine never races operations.
func (s *Session) runClock(stop chan struct{}) {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if s.tick(stop) {
				return
			}
		}
	}
}

// tick evaluates one countdown step. Returns true when the goroutine should
// exit, either because the game expired or because this clock generation was
// stopped while the tick was waiting on the lock.
func (s *Session) tick(stop chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A pause or completion may have stopped this generation between the
	// ticker firing and the lock being acquired.
	if s.clockStop != stop {
		return true
	}
	if s.status != models.SessionStatusActive || s.paused {
		return true
	}

	now := s.clock.Now()
	remaining := s.endsAt.Sub(now)
	if remaining <= 0 {
		s.completeLocked()
		return true
	}

	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventTimerTick, now, TimerTickPayload{Remaining: int(remaining.Seconds())}))
	return false
}
