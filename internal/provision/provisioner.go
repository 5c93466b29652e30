// Package provision drives the create, wait, describe sequence that
// turns a session request into a running, reachable instance.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Sathwik-git/linux-playground/internal/config"
	"github.com/Sathwik-git/linux-playground/internal/provider"
	"github.com/Sathwik-git/linux-playground/internal/registry"
	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// Provisioner owns provisioning timeouts and failure classification.
// Every failure path ends in a terminal session state with a reason and
// a best-effort cleanup terminate; no FAILED session ever leaves an
// instance behind on purpose.
type Provisioner struct {
	cfg      *config.Settings
	provider provider.Provider
	registry *registry.Registry
	log      *slog.Logger

	lease        time.Duration
	ceiling      time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// New creates a provisioner with the lifecycle timing from cfg.
func New(cfg *config.Settings, p provider.Provider, reg *registry.Registry, log *slog.Logger) *Provisioner {
	return &Provisioner{
		cfg:          cfg,
		provider:     p,
		registry:     reg,
		log:          log,
		lease:        cfg.LeaseDuration,
		ceiling:      cfg.ProvisionTimeout,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
}

// Provision launches one instance of the fixed profile for owner and
// returns the running session. The lease deadline is fixed at creation
// and never extended.
func (p *Provisioner) Provision(ctx context.Context, owner string) (models.Session, error) {
	if err := p.cfg.ValidateProvider(); err != nil {
		return models.Session{}, err
	}

	if err := p.registry.AcquireSlot(owner); err != nil {
		return models.Session{}, err
	}

	now := p.now()
	sess := models.Session{
		ID:            uuid.New().String(),
		Owner:         owner,
		State:         models.StateRequested,
		CreatedAt:     now,
		LeaseDeadline: now.Add(p.lease),
	}

	if err := p.registry.Add(sess); err != nil {
		p.registry.ReleaseSlot(owner)
		return models.Session{}, err
	}

	return p.launch(ctx, sess)
}

// launch drives a registered session through create, wait, and describe
// until it is running. A cancellation can land at any point; each stage
// re-checks before committing so the stop is never lost.
func (p *Provisioner) launch(ctx context.Context, sess models.Session) (models.Session, error) {
	if p.registry.CancelRequested(sess.ID) {
		// Stopped before an instance was ever requested.
		return models.Session{}, p.abortCanceled(sess.ID, "")
	}

	instanceID, err := p.provider.Create(ctx, sess.ID)
	if err != nil {
		p.failSession(sess.ID, "", models.ReasonProvisioningFailed)
		return models.Session{}, fmt.Errorf("create instance: %w", err)
	}
	if instanceID == "" {
		p.failSession(sess.ID, "", models.ReasonProvisioningFailed)
		return models.Session{}, fmt.Errorf("%w: create returned no instance id", models.ErrProviderInvariant)
	}

	if err := p.registry.BeginProvisioning(sess.ID, instanceID); err != nil {
		p.cleanup(instanceID)
		return models.Session{}, err
	}

	p.log.Info("instance created, waiting for running",
		"session_id", sess.ID,
		"instance_id", instanceID,
	)

	if err := p.waitRunning(ctx, sess.ID, instanceID); err != nil {
		return models.Session{}, err
	}

	// A stop issued during the final wait poll is seen here rather than
	// at the top of the next loop iteration that never comes.
	if p.registry.CancelRequested(sess.ID) {
		return models.Session{}, p.abortCanceled(sess.ID, instanceID)
	}

	desc, err := p.provider.Describe(ctx, instanceID)
	if err != nil {
		p.failSession(sess.ID, instanceID, models.ReasonProvisioningFailed)
		return models.Session{}, fmt.Errorf("describe instance: %w", err)
	}
	if desc.Address == "" {
		p.failSession(sess.ID, instanceID, models.ReasonProvisioningFailed)
		return models.Session{}, fmt.Errorf("%w: instance %s", models.ErrEndpointUnavailable, instanceID)
	}

	if err := p.registry.SetRunning(sess.ID, desc.Address); err != nil {
		if errors.Is(err, models.ErrCanceled) {
			// The stop won the race with SetRunning; honor it.
			return models.Session{}, p.abortCanceled(sess.ID, instanceID)
		}
		p.failSession(sess.ID, instanceID, models.ReasonProvisioningFailed)
		return models.Session{}, err
	}

	running, _ := p.registry.Get(sess.ID)
	p.log.Info("session running",
		"session_id", running.ID,
		"endpoint", running.Endpoint,
		"lease_deadline", running.LeaseDeadline,
	)
	return running, nil
}

// waitRunning waits for the instance to reach running, bounded by the
// provisioning ceiling. The wait is sliced into poll-interval segments
// so a user cancellation is noticed between polls rather than after the
// full ceiling.
func (p *Provisioner) waitRunning(ctx context.Context, sessionID, instanceID string) error {
	deadline := p.now().Add(p.ceiling)

	for {
		if p.registry.CancelRequested(sessionID) {
			return p.abortCanceled(sessionID, instanceID)
		}

		err := p.provider.WaitUntilRunning(ctx, instanceID, p.pollInterval)
		if err == nil {
			return nil
		}
		if !errors.Is(err, provider.ErrWaitDeadline) {
			p.failSession(sessionID, instanceID, models.ReasonProvisioningFailed)
			return fmt.Errorf("wait for running: %w", err)
		}

		if !p.now().Before(deadline) {
			p.failSession(sessionID, instanceID, models.ReasonProvisioningFailed)
			return fmt.Errorf("%w: instance %s after %s", models.ErrProvisioningTimeout, instanceID, p.ceiling)
		}
	}
}

// abortCanceled tears down an instance whose session was stopped while
// still provisioning. An empty instanceID means the stop landed before
// the create; there is nothing to clean up.
func (p *Provisioner) abortCanceled(sessionID, instanceID string) error {
	if instanceID != "" {
		p.cleanup(instanceID)
	}

	reason := p.registry.PendingReason(sessionID)
	if reason == "" {
		reason = models.ReasonUserRequested
	}
	if err := p.registry.MarkTerminated(sessionID, reason); err != nil {
		p.log.Error("mark canceled session terminated", "session_id", sessionID, "error", err)
	}

	p.log.Info("provisioning canceled", "session_id", sessionID, "instance_id", instanceID)
	return fmt.Errorf("%w: session %s", models.ErrCanceled, sessionID)
}

// failSession moves a session to FAILED and attempts cleanup of any
// instance that was created.
func (p *Provisioner) failSession(sessionID, instanceID string, reason models.TerminationReason) {
	if err := p.registry.MarkFailed(sessionID, reason); err != nil {
		p.log.Error("mark session failed", "session_id", sessionID, "error", err)
	}
	if instanceID != "" {
		p.cleanup(instanceID)
	}
}

// cleanup issues a best-effort terminate. Failure is logged, never
// surfaced: the caller already has a more specific error to report.
func (p *Provisioner) cleanup(instanceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.provider.Terminate(ctx, instanceID); err != nil {
		p.log.Error("cleanup terminate failed", "instance_id", instanceID, "error", err)
	}
}
