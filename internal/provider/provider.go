// Package provider is a thin adapter over the compute backend. It owns
// no session state; every call is keyed by instance id and safe to
// retry at least once.
package provider

import (
	"context"
	"errors"
	"time"
)

// InstanceState is the provider-side view of an instance.
type InstanceState string

const (
	StatePending InstanceState = "pending"
	StateRunning InstanceState = "running"
	StateStopped InstanceState = "stopped"
	// StateGone means the provider no longer knows the instance.
	StateGone InstanceState = "gone"
)

// Description is the result of a describe call. Address is empty until
// the instance is running and reachable.
type Description struct {
	State   InstanceState
	Address string
}

// ErrWaitDeadline is returned by WaitUntilRunning when the instance did
// not reach running within the given timeout. Callers decide whether to
// keep waiting or give up.
var ErrWaitDeadline = errors.New("instance not running within wait deadline")

// Provider launches and reclaims compute instances of the one fixed
// playground profile.
type Provider interface {
	// Create launches exactly one instance and returns its id.
	Create(ctx context.Context, sessionID string) (string, error)

	// Describe reports the instance state and, once running, its
	// reachable address.
	Describe(ctx context.Context, instanceID string) (Description, error)

	// Terminate stops and removes the instance. Terminating an
	// instance that is already gone succeeds.
	Terminate(ctx context.Context, instanceID string) error

	// WaitUntilRunning blocks until the instance reports running or
	// the timeout elapses, returning ErrWaitDeadline in the latter
	// case. It polls, yielding between polls.
	WaitUntilRunning(ctx context.Context, instanceID string, timeout time.Duration) error
}
