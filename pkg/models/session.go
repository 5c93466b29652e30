package models

import "time"

// SessionState represents where a session is in its lifecycle.
// Transitions are monotonic: a session never re-enters an earlier state.
type SessionState string

const (
	StateRequested    SessionState = "REQUESTED"
	StateProvisioning SessionState = "PROVISIONING"
	StateRunning      SessionState = "RUNNING"
	StateTerminating  SessionState = "TERMINATING"
	StateTerminated   SessionState = "TERMINATED"
	StateFailed       SessionState = "FAILED"
)

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// TerminationReason records why a session reached a terminal state.
type TerminationReason string

const (
	ReasonUserRequested      TerminationReason = "USER_REQUESTED"
	ReasonLeaseExpired       TerminationReason = "LEASE_EXPIRED"
	ReasonProvisioningFailed TerminationReason = "PROVISIONING_FAILED"
	ReasonProviderError      TerminationReason = "PROVIDER_ERROR"
)

// Session is the canonical record for one ephemeral playground instance.
// The registry owns the authoritative copy; everything handed out is a
// value snapshot.
type Session struct {
	ID            string            `json:"id"`
	Owner         string            `json:"owner"`
	InstanceID    string            `json:"-"`
	Endpoint      string            `json:"endpoint,omitempty"`
	State         SessionState      `json:"state"`
	CreatedAt     time.Time         `json:"createdAt"`
	LeaseDeadline time.Time         `json:"leaseDeadline"`
	Reason        TerminationReason `json:"reason,omitempty"`
}

// Expired reports whether the lease deadline has passed. The deadline is
// set once at creation and never extended.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.LeaseDeadline)
}

// SessionView is the payload pushed to the client when a session starts.
// The client derives all of its countdown state from EndTime; the server
// lease stays authoritative.
type SessionView struct {
	SessionID string    `json:"sessionId"`
	Endpoint  string    `json:"endpoint"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// View builds the client-facing projection of a session.
func (s *Session) View() SessionView {
	return SessionView{
		SessionID: s.ID,
		Endpoint:  s.Endpoint,
		StartTime: s.CreatedAt,
		EndTime:   s.LeaseDeadline,
	}
}

// TerminateRequest is the payload for terminating a session by its
// endpoint, the weak identifier the playground UI holds.
type TerminateRequest struct {
	Endpoint string `json:"endpoint"`
}
