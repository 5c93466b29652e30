// Package countdown renders the client half of the session lease: a
// local, advisory mirror of the server deadline. It drives UI state
// only; the server-side reconciler stays authoritative for expiry.
package countdown

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WarningThreshold is how much remaining time triggers the one-shot
// warning callback.
const WarningThreshold = 5 * time.Minute

// Reporter ticks against a locally held end time, firing a warning once
// when remaining time first drops to the threshold and a completion
// callback once at zero.
type Reporter struct {
	endTime    time.Time
	interval   time.Duration
	warnAt     time.Duration
	onWarning  func()
	onComplete func()
	now        func() time.Time

	mu        sync.Mutex
	warned    bool
	completed bool

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a reporter for the given end time. Either callback may be
// nil.
func New(endTime time.Time, onWarning, onComplete func()) *Reporter {
	return &Reporter{
		endTime:    endTime,
		interval:   time.Second,
		warnAt:     WarningThreshold,
		onWarning:  onWarning,
		onComplete: onComplete,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// Remaining returns the time left on the local clock, clamped at zero.
func (r *Reporter) Remaining() time.Duration {
	remaining := r.endTime.Sub(r.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Run ticks until the countdown completes, Stop is called, or ctx is
// canceled. The ticker is always released on return.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Evaluate once up front so an already-elapsed end time completes
	// without waiting a full tick.
	if r.step() {
		return
	}

	for {
		select {
		case <-ticker.C:
			if r.step() {
				return
			}
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the tick loop. Safe to call more than once and after Run
// has returned.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// step evaluates one tick and reports whether the countdown finished.
// The warning is edge-triggered: it fires exactly once as remaining
// crosses the threshold downward while still positive.
func (r *Reporter) step() bool {
	remaining := r.Remaining()

	r.mu.Lock()
	fireWarning := remaining > 0 && remaining <= r.warnAt && !r.warned
	if fireWarning {
		r.warned = true
	}
	fireComplete := remaining == 0 && !r.completed
	if fireComplete {
		r.completed = true
	}
	r.mu.Unlock()

	if fireWarning && r.onWarning != nil {
		r.onWarning()
	}
	if fireComplete {
		if r.onComplete != nil {
			r.onComplete()
		}
		return true
	}
	return false
}

// FormatRemaining renders a duration as HH:MM:SS for display.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "00:00:00"
	}

	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
