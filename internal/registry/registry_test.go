package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/Sathwik-git/linux-playground/pkg/models"
)

func newSession(id, owner string) models.Session {
	now := time.Now()
	return models.Session{
		ID:            id,
		Owner:         owner,
		State:         models.StateRequested,
		CreatedAt:     now,
		LeaseDeadline: now.Add(time.Hour),
	}
}

func addRunning(t *testing.T, r *Registry, id, endpoint string) {
	t.Helper()
	if err := r.Add(newSession(id, "alice")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.BeginProvisioning(id, "i-"+id); err != nil {
		t.Fatalf("BeginProvisioning: %v", err)
	}
	if err := r.SetRunning(id, endpoint); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	r := New(10)
	addRunning(t, r, "s1", "10.0.0.5:7681")

	sess, ok := r.Get("s1")
	if !ok {
		t.Fatal("session not found after add")
	}
	if sess.State != models.StateRunning {
		t.Fatalf("state = %s, want RUNNING", sess.State)
	}
	if sess.Endpoint != "10.0.0.5:7681" {
		t.Fatalf("endpoint = %q", sess.Endpoint)
	}
	if sess.InstanceID != "i-s1" {
		t.Fatalf("instance id = %q", sess.InstanceID)
	}

	if _, started, err := r.BeginTermination("s1", models.ReasonUserRequested); err != nil || !started {
		t.Fatalf("BeginTermination: started=%v err=%v", started, err)
	}
	if err := r.CompleteTermination("s1"); err != nil {
		t.Fatalf("CompleteTermination: %v", err)
	}

	sess, _ = r.Get("s1")
	if sess.State != models.StateTerminated {
		t.Fatalf("state = %s, want TERMINATED", sess.State)
	}
	if sess.Reason != models.ReasonUserRequested {
		t.Fatalf("reason = %s", sess.Reason)
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	r := New(10)
	addRunning(t, r, "s1", "10.0.0.5:7681")

	// A running session can never go back to provisioning.
	if err := r.BeginProvisioning("s1", "i-other"); err == nil {
		t.Fatal("re-entering PROVISIONING should fail")
	}
	// Nor can it become running again with a new endpoint.
	if err := r.SetRunning("s1", "10.0.0.6:7681"); err == nil {
		t.Fatal("re-entering RUNNING should fail")
	}

	if _, _, err := r.BeginTermination("s1", models.ReasonUserRequested); err != nil {
		t.Fatalf("BeginTermination: %v", err)
	}
	if err := r.CompleteTermination("s1"); err != nil {
		t.Fatalf("CompleteTermination: %v", err)
	}
	// Terminal states are final.
	if err := r.MarkFailed("s1", models.ReasonProviderError); err == nil {
		t.Fatal("TERMINATED -> FAILED should fail")
	}
}

func TestBeginTerminationIsIdempotent(t *testing.T) {
	r := New(10)
	addRunning(t, r, "s1", "10.0.0.5:7681")

	_, started, err := r.BeginTermination("s1", models.ReasonUserRequested)
	if err != nil || !started {
		t.Fatalf("first BeginTermination: started=%v err=%v", started, err)
	}

	// Second caller loses the flip and must not issue a provider call.
	_, started, err = r.BeginTermination("s1", models.ReasonUserRequested)
	if err != nil {
		t.Fatalf("second BeginTermination: %v", err)
	}
	if started {
		t.Fatal("second BeginTermination should not start")
	}
}

func TestBeginTerminationDuringProvisioningFlagsCancel(t *testing.T) {
	r := New(10)
	if err := r.Add(newSession("s1", "alice")); err != nil {
		t.Fatal(err)
	}
	if err := r.BeginProvisioning("s1", "i-s1"); err != nil {
		t.Fatal(err)
	}

	_, started, err := r.BeginTermination("s1", models.ReasonUserRequested)
	if err != nil {
		t.Fatalf("BeginTermination: %v", err)
	}
	if started {
		t.Fatal("termination must not race an in-flight provisioning attempt")
	}
	if !r.CancelRequested("s1") {
		t.Fatal("cancel flag not set")
	}
	if got := r.PendingReason("s1"); got != models.ReasonUserRequested {
		t.Fatalf("pending reason = %s", got)
	}
}

func TestSetRunningRefusesCanceledSession(t *testing.T) {
	r := New(10)
	if err := r.Add(newSession("s1", "alice")); err != nil {
		t.Fatal(err)
	}
	if err := r.BeginProvisioning("s1", "i-s1"); err != nil {
		t.Fatal(err)
	}
	if !r.RequestCancel("s1", models.ReasonUserRequested) {
		t.Fatal("RequestCancel should flag a provisioning session")
	}

	// A flagged session never reaches RUNNING; the stop already
	// reported success to its caller.
	if err := r.SetRunning("s1", "10.0.0.5:7681"); !errors.Is(err, models.ErrCanceled) {
		t.Fatalf("SetRunning err = %v, want ErrCanceled", err)
	}

	sess, _ := r.Get("s1")
	if sess.State != models.StateProvisioning {
		t.Fatalf("state = %s, want PROVISIONING", sess.State)
	}
	if _, err := r.ResolveEndpoint("10.0.0.5:7681"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("endpoint index err = %v, want ErrNotFound", err)
	}
}

func TestEndpointReverseIndex(t *testing.T) {
	r := New(10)
	addRunning(t, r, "s1", "10.0.0.5:7681")
	addRunning(t, r, "s2", "10.0.0.6:7681")

	id, err := r.ResolveEndpoint("10.0.0.5:7681")
	if err != nil || id != "s1" {
		t.Fatalf("ResolveEndpoint = %q, %v", id, err)
	}

	// Two live sessions never share an endpoint.
	if err := r.Add(newSession("s3", "alice")); err != nil {
		t.Fatal(err)
	}
	if err := r.BeginProvisioning("s3", "i-s3"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetRunning("s3", "10.0.0.5:7681"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("duplicate endpoint err = %v, want ErrConflict", err)
	}

	// After the holder terminates, the entry is retained so a repeat
	// terminate-by-endpoint still resolves to it.
	if _, _, err := r.BeginTermination("s1", models.ReasonUserRequested); err != nil {
		t.Fatal(err)
	}
	if err := r.CompleteTermination("s1"); err != nil {
		t.Fatal(err)
	}
	if id, err := r.ResolveEndpoint("10.0.0.5:7681"); err != nil || id != "s1" {
		t.Fatalf("ResolveEndpoint after termination = %q, %v", id, err)
	}

	// A provider reusing the address hands it to the new live session.
	if err := r.SetRunning("s3", "10.0.0.5:7681"); err != nil {
		t.Fatalf("SetRunning on released endpoint: %v", err)
	}
	if id, err := r.ResolveEndpoint("10.0.0.5:7681"); err != nil || id != "s3" {
		t.Fatalf("ResolveEndpoint after reuse = %q, %v", id, err)
	}

	// s2 is untouched.
	if id, err := r.ResolveEndpoint("10.0.0.6:7681"); err != nil || id != "s2" {
		t.Fatalf("ResolveEndpoint(s2) = %q, %v", id, err)
	}
}

func TestResolveUnknownEndpoint(t *testing.T) {
	r := New(10)
	if _, err := r.ResolveEndpoint("203.0.113.9:7681"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOwnerSlots(t *testing.T) {
	r := New(2)

	if err := r.AcquireSlot("alice"); err != nil {
		t.Fatal(err)
	}
	if err := r.AcquireSlot("alice"); err != nil {
		t.Fatal(err)
	}
	if err := r.AcquireSlot("alice"); err == nil {
		t.Fatal("third slot should be refused")
	}
	// Other owners are unaffected.
	if err := r.AcquireSlot("bob"); err != nil {
		t.Fatal(err)
	}

	// Finishing a session frees its owner's slot.
	addRunning(t, r, "s1", "10.0.0.5:7681")
	if _, _, err := r.BeginTermination("s1", models.ReasonUserRequested); err != nil {
		t.Fatal(err)
	}
	if err := r.CompleteTermination("s1"); err != nil {
		t.Fatal(err)
	}
	if err := r.AcquireSlot("alice"); err != nil {
		t.Fatalf("slot not released on terminal state: %v", err)
	}
}

func TestSnapshotIsPointInTime(t *testing.T) {
	r := New(10)
	addRunning(t, r, "s1", "10.0.0.5:7681")

	snaps := r.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("snapshot len = %d", len(snaps))
	}

	// Mutating the registry afterwards does not change the snapshot.
	if _, _, err := r.BeginTermination("s1", models.ReasonLeaseExpired); err != nil {
		t.Fatal(err)
	}
	if snaps[0].Session.State != models.StateRunning {
		t.Fatalf("snapshot mutated: %s", snaps[0].Session.State)
	}
}

func TestEvictTerminalBefore(t *testing.T) {
	r := New(10)
	addRunning(t, r, "s1", "10.0.0.5:7681")
	addRunning(t, r, "s2", "10.0.0.6:7681")

	if _, _, err := r.BeginTermination("s1", models.ReasonUserRequested); err != nil {
		t.Fatal(err)
	}
	if err := r.CompleteTermination("s1"); err != nil {
		t.Fatal(err)
	}

	// Nothing is evicted inside the retention window.
	if n := r.EvictTerminalBefore(time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("evicted %d, want 0", n)
	}

	if n := r.EvictTerminalBefore(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if _, ok := r.Get("s1"); ok {
		t.Fatal("s1 still present after eviction")
	}
	// Eviction finally clears the endpoint index entry.
	if _, err := r.ResolveEndpoint("10.0.0.5:7681"); !errors.Is(err, models.ErrNotFound) {
		t.Fatal("endpoint still resolvable after eviction")
	}
	// Running sessions are never evicted.
	if _, ok := r.Get("s2"); !ok {
		t.Fatal("s2 evicted while running")
	}
}

func TestListScopedToOwner(t *testing.T) {
	r := New(10)
	addRunning(t, r, "s1", "10.0.0.5:7681")

	if err := r.Add(newSession("s2", "bob")); err != nil {
		t.Fatal(err)
	}

	if got := len(r.List("alice")); got != 1 {
		t.Fatalf("alice sessions = %d, want 1", got)
	}
	if got := len(r.List("bob")); got != 1 {
		t.Fatalf("bob sessions = %d, want 1", got)
	}
	if got := len(r.List("")); got != 2 {
		t.Fatalf("all sessions = %d, want 2", got)
	}
}
