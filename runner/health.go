package runner

import (
	"sync"
	"time"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
)

// HealthMonitor tracks stdout/stderr activity for one child process and logs
// a heartbeat every 30 seconds (spec.md §4.B). Cleanup is idempotent and
// must be called on every exit path, including cancellation.
type HealthMonitor struct {
	sessionID string
	clock     config.Clock
	interval  time.Duration

	mu         sync.Mutex
	lastActive time.Time
	stopTick   func()
	stopped    bool
	done       chan struct{}
}

// NewHealthMonitor starts a monitor for sessionID and begins its heartbeat
// loop immediately. In test mode the clock never fires a ticker, so no
// background goroutine does real work (spec.md §8 invariant 6).
func NewHealthMonitor(sessionID string, clock config.Clock, interval time.Duration) *HealthMonitor {
	h := &HealthMonitor{
		sessionID:  sessionID,
		clock:      clock,
		interval:   interval,
		lastActive: clock.Now(),
		done:       make(chan struct{}),
	}

	ticks, stop := clock.NewTicker(interval)
	h.stopTick = stop

	go h.loop(ticks)

	return h
}

func (h *HealthMonitor) loop(ticks <-chan time.Time) {
	for {
		select {
		case <-ticks:
			h.mu.Lock()
			since := h.clock.Now().Sub(h.lastActive)
			h.mu.Unlock()
			log.Debug().
				Str("sessionId", h.sessionID).
				Dur("sinceLastActivity", since).
				Msg("runner: health monitor heartbeat")
		case <-h.done:
			return
		}
	}
}

// RecordActivity marks that a chunk of output was just processed.
func (h *HealthMonitor) RecordActivity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActive = h.clock.Now()
}

// Cleanup stops the heartbeat loop. Safe to call multiple times or
// concurrently; only the first call has any effect.
func (h *HealthMonitor) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.stopTick()
	close(h.done)
}
