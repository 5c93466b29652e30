package models

import "errors"

// Lifecycle error taxonomy. Callers classify with errors.Is; the API
// layer maps each sentinel to a stable code and HTTP status.
var (
	// ErrConfiguration means provider configuration is missing or
	// invalid. Fatal, never retried, and no provider call is attempted.
	ErrConfiguration = errors.New("provider configuration invalid")

	// ErrProviderInvariant means the provider violated its contract,
	// e.g. a create call that reported success without an instance id.
	ErrProviderInvariant = errors.New("provider invariant violated")

	// ErrProvisioningTimeout means the instance did not reach running
	// within the provisioning ceiling.
	ErrProvisioningTimeout = errors.New("provisioning timed out")

	// ErrEndpointUnavailable means the instance is running but never
	// reported a reachable address.
	ErrEndpointUnavailable = errors.New("instance endpoint unavailable")

	// ErrNotFound means the termination target could not be resolved.
	ErrNotFound = errors.New("session not found")

	// ErrConflict means a weak identifier resolved ambiguously.
	ErrConflict = errors.New("ambiguous session reference")

	// ErrTermination means the provider terminate call failed. The
	// session stays in TERMINATING and the reconciler retries it.
	ErrTermination = errors.New("terminate failed")

	// ErrCanceled means the user aborted the session while it was
	// still provisioning.
	ErrCanceled = errors.New("session canceled during provisioning")
)
