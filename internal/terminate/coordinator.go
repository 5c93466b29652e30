// Package terminate resolves a session by id or endpoint and issues an
// idempotent provider terminate, updating the registry exactly once.
package terminate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sathwik-git/linux-playground/internal/provider"
	"github.com/Sathwik-git/linux-playground/internal/registry"
	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// Coordinator is the single terminate entry point. The API layer, the
// reconciler and provisioning cleanup all end here.
type Coordinator struct {
	provider provider.Provider
	registry *registry.Registry
	log      *slog.Logger
}

// New creates a coordinator.
func New(p provider.Provider, reg *registry.Registry, log *slog.Logger) *Coordinator {
	return &Coordinator{provider: p, registry: reg, log: log}
}

// TerminateByEndpoint resolves the session currently holding endpoint
// and terminates it. The endpoint is the weak identifier the playground
// UI holds; the reverse index makes resolution a lookup, not a scan.
func (c *Coordinator) TerminateByEndpoint(ctx context.Context, endpoint string, reason models.TerminationReason) error {
	if endpoint == "" {
		return fmt.Errorf("%w: empty endpoint", models.ErrNotFound)
	}

	id, err := c.registry.ResolveEndpoint(endpoint)
	if err != nil {
		return err
	}
	return c.Terminate(ctx, id, reason)
}

// Terminate tears down a session by id. Repeat calls on a session that
// is already terminating or terminated succeed without another provider
// call. A stop during provisioning flags the session for cancellation
// and the provisioner finishes the teardown.
func (c *Coordinator) Terminate(ctx context.Context, id string, reason models.TerminationReason) error {
	sess, started, err := c.registry.BeginTermination(id, reason)
	if err != nil {
		return err
	}
	if !started {
		// Idempotent repeat, or a cancellation flag set on an
		// in-flight provisioning attempt.
		return nil
	}

	return c.issueTerminate(ctx, id, sess.InstanceID)
}

// Retry issues another provider terminate for a session stuck in
// TERMINATING. The reconciler owns backoff and retry budgets; this only
// performs one attempt.
func (c *Coordinator) Retry(ctx context.Context, id string) error {
	sess, ok := c.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if sess.State != models.StateTerminating {
		return nil
	}
	return c.issueTerminate(ctx, id, sess.InstanceID)
}

// issueTerminate makes the provider call with no registry lock held,
// then records the outcome. The state flips to TERMINATED only after
// the call completes; a failure leaves the session in TERMINATING for
// the reconciler to retry.
func (c *Coordinator) issueTerminate(ctx context.Context, id, instanceID string) error {
	if err := c.provider.Terminate(ctx, instanceID); err != nil {
		attempts := c.registry.RecordTerminateAttempt(id)
		c.log.Warn("provider terminate failed",
			"session_id", id,
			"instance_id", instanceID,
			"attempts", attempts,
			"error", err,
		)
		return fmt.Errorf("%w: session %s: %v", models.ErrTermination, id, err)
	}

	if err := c.registry.CompleteTermination(id); err != nil {
		return err
	}

	c.log.Info("session terminated", "session_id", id, "instance_id", instanceID)
	return nil
}
