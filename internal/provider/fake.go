package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Provider used by tests across the lifecycle
// packages. Describe reports pending for a configurable number of polls
// before running, and terminate failures can be injected.
type Fake struct {
	mu sync.Mutex

	// RunningAfterPolls is how many wait polls an instance stays
	// pending before reporting running.
	RunningAfterPolls int

	// Address is what Describe reports once running.
	Address string

	CreateErr    error
	TerminateErr error

	// EmptyIDOnCreate makes Create report success without an instance
	// id, for exercising provider contract violations.
	EmptyIDOnCreate bool

	// DescribeHook runs at the start of every Describe call.
	DescribeHook func(instanceID string)

	CreateCalls    int
	TerminateCalls int

	nextID    int
	instances map[string]*fakeInstance
}

type fakeInstance struct {
	pollsLeft int
	gone      bool
}

// NewFake creates a fake whose instances run immediately at the given
// address.
func NewFake(address string) *Fake {
	return &Fake{
		Address:   address,
		instances: make(map[string]*fakeInstance),
	}
}

func (f *Fake) Create(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	if f.EmptyIDOnCreate {
		return "", nil
	}

	f.nextID++
	id := fmt.Sprintf("i-%04d", f.nextID)
	f.instances[id] = &fakeInstance{pollsLeft: f.RunningAfterPolls}
	return id, nil
}

func (f *Fake) Describe(_ context.Context, instanceID string) (Description, error) {
	if f.DescribeHook != nil {
		f.DescribeHook(instanceID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.instances[instanceID]
	if !ok || inst.gone {
		return Description{State: StateGone}, nil
	}
	if inst.pollsLeft > 0 {
		return Description{State: StatePending}, nil
	}
	return Description{State: StateRunning, Address: f.Address}, nil
}

func (f *Fake) Terminate(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.TerminateCalls++
	if f.TerminateErr != nil {
		return f.TerminateErr
	}
	if inst, ok := f.instances[instanceID]; ok {
		inst.gone = true
	}
	return nil
}

// WaitUntilRunning consumes one poll per call and never sleeps, so
// tests drive the provisioner's wait loop without real time passing.
func (f *Fake) WaitUntilRunning(_ context.Context, instanceID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.instances[instanceID]
	if !ok || inst.gone {
		return fmt.Errorf("unknown instance %s", instanceID)
	}
	if inst.pollsLeft > 0 {
		inst.pollsLeft--
		if inst.pollsLeft > 0 {
			return ErrWaitDeadline
		}
	}
	return nil
}
