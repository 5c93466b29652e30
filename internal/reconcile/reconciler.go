// Package reconcile enforces lease expiry. The reconciler is the sole
// authority for ending sessions whose lease has passed; clients
// disconnecting or failing to poll never extends or shortens a lease.
package reconcile

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Sathwik-git/linux-playground/internal/registry"
	"github.com/Sathwik-git/linux-playground/internal/terminate"
	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// Reconciler scans the registry on a fixed interval, terminating
// expired sessions and retrying stuck terminations with bounded
// exponential backoff.
type Reconciler struct {
	registry    *registry.Registry
	coordinator *terminate.Coordinator
	log         *slog.Logger

	scanInterval time.Duration
	retryBase    time.Duration
	maxAttempts  int
	retention    time.Duration

	now func() time.Time
}

// New creates a reconciler.
func New(reg *registry.Registry, coord *terminate.Coordinator, log *slog.Logger,
	scanInterval, retryBase time.Duration, maxAttempts int, retention time.Duration) *Reconciler {
	return &Reconciler{
		registry:     reg,
		coordinator:  coord,
		log:          log,
		scanInterval: scanInterval,
		retryBase:    retryBase,
		maxAttempts:  maxAttempts,
		retention:    retention,
		now:          time.Now,
	}
}

// Start runs scan passes until ctx is canceled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	r.log.Info("reconciler started", "scan_interval", r.scanInterval)

	for {
		select {
		case <-ticker.C:
			r.pass(ctx)
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		}
	}
}

// pass takes a point-in-time snapshot of the registry and acts on each
// session independently. No lock is held across provider calls.
func (r *Reconciler) pass(ctx context.Context) {
	now := r.now()

	for _, snap := range r.registry.Snapshot() {
		switch snap.Session.State {
		case models.StateRunning:
			if snap.Session.Expired(now) {
				r.expire(ctx, snap.Session)
			}
		case models.StateTerminating:
			r.retry(ctx, snap, now)
		}
	}

	if evicted := r.registry.EvictTerminalBefore(now.Add(-r.retention)); evicted > 0 {
		r.log.Debug("evicted terminal sessions", "count", evicted)
	}
}

func (r *Reconciler) expire(ctx context.Context, sess models.Session) {
	r.log.Info("lease expired, terminating",
		"session_id", sess.ID,
		"lease_deadline", sess.LeaseDeadline,
	)

	if err := r.coordinator.Terminate(ctx, sess.ID, models.ReasonLeaseExpired); err != nil {
		// The session stays TERMINATING; the next pass retries it.
		r.log.Warn("expiry terminate failed", "session_id", sess.ID, "error", err)
	}
}

// retry re-issues terminate for a stuck session once its backoff has
// elapsed. After maxAttempts the session is marked FAILED and flagged
// for operator attention; the instance may still exist on the provider.
func (r *Reconciler) retry(ctx context.Context, snap registry.Snapshot, now time.Time) {
	if snap.TerminateAttempts == 0 {
		// First attempt still owned by the caller that started it.
		return
	}

	if snap.TerminateAttempts >= r.maxAttempts {
		if err := r.registry.MarkFailed(snap.Session.ID, models.ReasonProviderError); err != nil {
			r.log.Error("mark exhausted session failed", "session_id", snap.Session.ID, "error", err)
			return
		}
		r.log.Error("terminate retries exhausted, operator attention required",
			"session_id", snap.Session.ID,
			"instance_id", snap.Session.InstanceID,
			"attempts", snap.TerminateAttempts,
		)
		return
	}

	if now.Before(snap.LastTerminateAttempt.Add(r.backoff(snap.TerminateAttempts))) {
		return
	}

	if err := r.coordinator.Retry(ctx, snap.Session.ID); err != nil {
		r.log.Warn("terminate retry failed",
			"session_id", snap.Session.ID,
			"attempts", snap.TerminateAttempts+1,
			"error", err,
		)
	}
}

// backoff grows exponentially with the attempt count, with jitter so
// stuck sessions do not retry in lockstep.
func (r *Reconciler) backoff(attempts int) time.Duration {
	d := r.retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	if half := int64(r.retryBase) / 2; half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}
