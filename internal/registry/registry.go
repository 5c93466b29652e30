// Package registry is the single source of truth for which sessions
// exist and when their leases expire. It owns the canonical Session
// records; callers only ever see value snapshots.
package registry

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// record is one canonical session plus its bookkeeping. Field access is
// serialized by mu; map membership and the endpoint index are guarded
// by the registry lock. Lock order is always registry before record.
type record struct {
	mu sync.Mutex

	sess models.Session

	// cancelRequested marks a stop issued while the session was still
	// provisioning. The provisioner checks it between polls.
	cancelRequested bool

	// pendingReason is the reason termination was started with; it is
	// applied when the session finally reaches TERMINATED.
	pendingReason models.TerminationReason

	terminateAttempts    int
	lastTerminateAttempt time.Time

	terminalAt   time.Time
	slotReleased bool
}

// Snapshot is a point-in-time copy of one session and the bookkeeping
// the reconciler needs.
type Snapshot struct {
	Session              models.Session
	CancelRequested      bool
	PendingReason        models.TerminationReason
	TerminateAttempts    int
	LastTerminateAttempt time.Time
	TerminalAt           time.Time
}

// Registry maps session ids to records and maintains a reverse index
// from endpoint to session id, kept consistent under the registry lock.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*record
	byEndpoint map[string]string

	slotMu      sync.Mutex
	slots       map[string]*semaphore.Weighted
	maxPerOwner int64

	now func() time.Time
}

// New creates an empty registry with the given per-owner session cap.
func New(maxPerOwner int64) *Registry {
	return &Registry{
		byID:        make(map[string]*record),
		byEndpoint:  make(map[string]string),
		slots:       make(map[string]*semaphore.Weighted),
		maxPerOwner: maxPerOwner,
		now:         time.Now,
	}
}

// AcquireSlot reserves one of the owner's session slots. The slot is
// released when the session reaches a terminal state.
func (r *Registry) AcquireSlot(owner string) error {
	r.slotMu.Lock()
	sem, ok := r.slots[owner]
	if !ok {
		sem = semaphore.NewWeighted(r.maxPerOwner)
		r.slots[owner] = sem
	}
	r.slotMu.Unlock()

	if !sem.TryAcquire(1) {
		return fmt.Errorf("session limit reached for %s", owner)
	}
	return nil
}

// ReleaseSlot returns an owner slot without a session having been
// registered, for create paths that fail before Add.
func (r *Registry) ReleaseSlot(owner string) {
	r.slotMu.Lock()
	sem := r.slots[owner]
	r.slotMu.Unlock()

	if sem != nil {
		sem.Release(1)
	}
}

// Add registers a freshly requested session.
func (r *Registry) Add(sess models.Session) error {
	if sess.State != models.StateRequested {
		return fmt.Errorf("session %s added in state %s", sess.ID, sess.State)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[sess.ID]; exists {
		return fmt.Errorf("session %s already registered", sess.ID)
	}
	r.byID[sess.ID] = &record{sess: sess}
	return nil
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (models.Session, bool) {
	rec := r.lookup(id)
	if rec == nil {
		return models.Session{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.sess, true
}

// ResolveEndpoint maps an endpoint to the session that currently owns
// it. Only sessions in RUNNING or TERMINATING hold index entries, so a
// stale endpoint resolves to ErrNotFound.
func (r *Registry) ResolveEndpoint(endpoint string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEndpoint[endpoint]
	if !ok {
		return "", fmt.Errorf("%w: endpoint %s", models.ErrNotFound, endpoint)
	}
	return id, nil
}

// List returns snapshots of every session belonging to owner, or all
// sessions when owner is empty.
func (r *Registry) List(owner string) []models.Session {
	var out []models.Session
	for _, rec := range r.records() {
		rec.mu.Lock()
		if owner == "" || rec.sess.Owner == owner {
			out = append(out, rec.sess)
		}
		rec.mu.Unlock()
	}
	return out
}

// Snapshot returns a point-in-time copy of every session. The reconciler
// scans this instead of holding any lock across provider calls.
func (r *Registry) Snapshot() []Snapshot {
	var out []Snapshot
	for _, rec := range r.records() {
		rec.mu.Lock()
		out = append(out, Snapshot{
			Session:              rec.sess,
			CancelRequested:      rec.cancelRequested,
			PendingReason:        rec.pendingReason,
			TerminateAttempts:    rec.terminateAttempts,
			LastTerminateAttempt: rec.lastTerminateAttempt,
			TerminalAt:           rec.terminalAt,
		})
		rec.mu.Unlock()
	}
	return out
}

// BeginProvisioning records the provider-assigned instance id and moves
// the session to PROVISIONING.
func (r *Registry) BeginProvisioning(id, instanceID string) error {
	rec := r.lookup(id)
	if rec == nil {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := checkTransition(rec.sess.State, models.StateProvisioning); err != nil {
		return err
	}
	rec.sess.State = models.StateProvisioning
	rec.sess.InstanceID = instanceID
	return nil
}

// SetRunning moves a provisioning session to RUNNING and claims its
// endpoint in the reverse index. A taken endpoint is a conflict: two
// active sessions must never share an address. A session flagged for
// cancellation never reaches RUNNING: the flag is set under the record
// lock, so either the stop sees PROVISIONING and flags it before this
// check, or it sees RUNNING and terminates through the normal flip.
func (r *Registry) SetRunning(id, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	if holder, taken := r.byEndpoint[endpoint]; taken && holder != id {
		// A terminal session may still hold the index entry for
		// observability; an address the provider reuses goes to the
		// new session. Two live sessions sharing one is a conflict.
		holderRec := r.byID[holder]
		if holderRec != nil {
			holderRec.mu.Lock()
			live := !holderRec.sess.State.Terminal()
			holderRec.mu.Unlock()
			if live {
				return fmt.Errorf("%w: endpoint %s held by session %s", models.ErrConflict, endpoint, holder)
			}
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.cancelRequested {
		return fmt.Errorf("%w: session %s", models.ErrCanceled, id)
	}
	if err := checkTransition(rec.sess.State, models.StateRunning); err != nil {
		return err
	}
	rec.sess.State = models.StateRunning
	rec.sess.Endpoint = endpoint
	r.byEndpoint[endpoint] = id
	return nil
}

// BeginTermination flips a RUNNING session to TERMINATING and stashes
// the reason for when termination completes. It returns the session as
// it was at the decision point and whether this caller won the flip:
// exactly one caller gets started=true, so at most one provider
// terminate is issued per attempt. Already-terminating and terminal
// sessions report started=false with no error, which is what makes
// repeat termination idempotent.
func (r *Registry) BeginTermination(id string, reason models.TerminationReason) (models.Session, bool, error) {
	rec := r.lookup(id)
	if rec == nil {
		return models.Session{}, false, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.sess.State {
	case models.StateTerminating, models.StateTerminated, models.StateFailed:
		return rec.sess, false, nil
	case models.StateRequested, models.StateProvisioning:
		// Provisioning is still in flight; flag it and let the
		// provisioner finish the teardown so no instance is orphaned.
		rec.cancelRequested = true
		rec.pendingReason = reason
		return rec.sess, false, nil
	case models.StateRunning:
		rec.sess.State = models.StateTerminating
		rec.pendingReason = reason
		return rec.sess, true, nil
	default:
		return models.Session{}, false, fmt.Errorf("session %s in unknown state %s", id, rec.sess.State)
	}
}

// CompleteTermination finishes a termination that BeginTermination
// started, releasing the endpoint and the owner slot.
func (r *Registry) CompleteTermination(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := checkTransition(rec.sess.State, models.StateTerminated); err != nil {
		return err
	}
	reason := rec.pendingReason
	if reason == "" {
		reason = models.ReasonUserRequested
	}
	r.markTerminalLocked(rec, models.StateTerminated, reason)
	return nil
}

// MarkTerminated moves a session that never finished provisioning
// straight to TERMINATED, for cancellations where no instance survives.
func (r *Registry) MarkTerminated(id string, reason models.TerminationReason) error {
	return r.finish(id, models.StateTerminated, reason)
}

// MarkFailed moves a session to FAILED with the given reason.
func (r *Registry) MarkFailed(id string, reason models.TerminationReason) error {
	return r.finish(id, models.StateFailed, reason)
}

func (r *Registry) finish(id string, state models.SessionState, reason models.TerminationReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := checkTransition(rec.sess.State, state); err != nil {
		return err
	}
	r.markTerminalLocked(rec, state, reason)
	return nil
}

// markTerminalLocked applies a terminal state. Both the registry lock
// and the record lock are held.
func (r *Registry) markTerminalLocked(rec *record, state models.SessionState, reason models.TerminationReason) {
	rec.sess.State = state
	rec.sess.Reason = reason
	rec.terminalAt = r.now()

	// The endpoint index entry survives into the terminal state so a
	// repeat terminate-by-endpoint still resolves and succeeds
	// idempotently. Eviction clears it.

	if !rec.slotReleased {
		rec.slotReleased = true
		r.ReleaseSlot(rec.sess.Owner)
	}
}

// RequestCancel flags a session for cancellation if it has not finished
// provisioning. It reports whether the flag was set.
func (r *Registry) RequestCancel(id string, reason models.TerminationReason) bool {
	rec := r.lookup(id)
	if rec == nil {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.sess.State != models.StateRequested && rec.sess.State != models.StateProvisioning {
		return false
	}
	rec.cancelRequested = true
	rec.pendingReason = reason
	return true
}

// CancelRequested reports whether a stop was issued for a session that
// is still provisioning.
func (r *Registry) CancelRequested(id string) bool {
	rec := r.lookup(id)
	if rec == nil {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.cancelRequested
}

// PendingReason returns the reason termination was requested with.
func (r *Registry) PendingReason(id string) models.TerminationReason {
	rec := r.lookup(id)
	if rec == nil {
		return ""
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.pendingReason
}

// RecordTerminateAttempt notes one failed provider terminate and
// returns the total attempt count for the session.
func (r *Registry) RecordTerminateAttempt(id string) int {
	rec := r.lookup(id)
	if rec == nil {
		return 0
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.terminateAttempts++
	rec.lastTerminateAttempt = r.now()
	return rec.terminateAttempts
}

// EvictTerminalBefore removes terminal sessions that reached their
// final state before cutoff, and reports how many were evicted. Records
// linger for a retention window so operators can still inspect them.
func (r *Registry) EvictTerminalBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, rec := range r.byID {
		rec.mu.Lock()
		expired := rec.sess.State.Terminal() && !rec.terminalAt.IsZero() && rec.terminalAt.Before(cutoff)
		endpoint := rec.sess.Endpoint
		rec.mu.Unlock()

		if expired {
			delete(r.byID, id)
			if endpoint != "" && r.byEndpoint[endpoint] == id {
				delete(r.byEndpoint, endpoint)
			}
			evicted++
		}
	}
	return evicted
}

func (r *Registry) lookup(id string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *Registry) records() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]*record, 0, len(r.byID))
	for _, rec := range r.byID {
		recs = append(recs, rec)
	}
	return recs
}

// validNext encodes the monotonic lifecycle: no state is ever
// re-entered once left.
var validNext = map[models.SessionState][]models.SessionState{
	models.StateRequested:    {models.StateProvisioning, models.StateTerminated, models.StateFailed},
	models.StateProvisioning: {models.StateRunning, models.StateTerminated, models.StateFailed},
	models.StateRunning:      {models.StateTerminating, models.StateFailed},
	models.StateTerminating:  {models.StateTerminated, models.StateFailed},
}

func checkTransition(from, to models.SessionState) error {
	for _, next := range validNext[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", from, to)
}
