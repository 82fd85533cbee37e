package fsm

import (
	"context"
	"sync"

	"github.com/quadgate/fsmregistry/pkg/concurrency"
)

// instanceState is the mutable state of one machine instance, guarded by mu.
// Its state, entity, version and completion flag are only mutated inside
// applyTransition (the accessors only read them under mu), which always holds
// mu for the duration of one full transition cycle -- this is what gives
// the instance its serialization guarantee, independent of the inbox.
type instanceState struct {
	mu sync.Mutex

	id            MachineID
	machineType   string
	correlationID string

	state    StateName
	entity   PersistentEntity
	volatile VolatileContext
	version  uint64
	complete bool

	registryStatus RegistryStatus
}

// sendRequest is one enqueued unit of work for a machine's inbox: an event
// to dispatch, plus a channel the caller blocks on for the outcome.
type sendRequest struct {
	ev     Event
	result chan error
}

// MachineInstance is a single running machine: a graph reference, its two
// contexts, and a bounded, serialized inbox that guarantees events are
// applied one at a time and in the order they were accepted.
type MachineInstance struct {
	graph *StateGraph
	deps  engineDeps

	state *instanceState
	inbox concurrency.Mailbox

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

// newMachineInstance constructs a MachineInstance in its graph's initial
// state, wired to deps, and starts its inbox-draining goroutine.
func newMachineInstance(id MachineID, machineType string, graph *StateGraph, entity PersistentEntity, volatile VolatileContext, deps engineDeps, inboxCapacity int) *MachineInstance {
	st := &instanceState{
		id:             id,
		machineType:    machineType,
		state:          graph.Initial,
		entity:         entity,
		volatile:       volatile,
		registryStatus: RegistryStatusActive,
	}
	mi := &MachineInstance{
		graph: graph,
		deps:  deps,
		state: st,
		inbox: concurrency.NewBounded(inboxCapacity),
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
	go mi.run()
	return mi
}

// resumeMachineInstance constructs a MachineInstance from a previously
// persisted record, marking its registry status as rehydrated for the next
// transition it handles.
func resumeMachineInstance(rec PersistenceRecord, graph *StateGraph, volatile VolatileContext, deps engineDeps, inboxCapacity int) *MachineInstance {
	st := &instanceState{
		id:             rec.MachineID,
		machineType:    rec.MachineType,
		state:          rec.State,
		entity:         rec.Entity,
		volatile:       volatile,
		version:        rec.Version,
		complete:       rec.Complete,
		registryStatus: RegistryStatusNotRegistered,
	}
	mi := &MachineInstance{
		graph: graph,
		deps:  deps,
		state: st,
		inbox: concurrency.NewBounded(inboxCapacity),
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
	go mi.run()
	return mi
}

// Send enqueues ev for serialized processing and blocks until it has been
// applied (or rejected). It never runs ev on the caller's goroutine.
func (m *MachineInstance) Send(ctx context.Context, ev Event) error {
	req := &sendRequest{ev: ev, result: make(chan error, 1)}
	if err := m.inbox.Send(req); err != nil {
		if err == concurrency.ErrMailboxFull {
			return Overloaded(m.state.id)
		}
		return UnknownMachine(m.state.id)
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the machine's identifier.
func (m *MachineInstance) ID() MachineID { return m.state.id }

// State returns the machine's current state name.
func (m *MachineInstance) State() StateName {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.state
}

// Complete reports whether the machine has reached a final state.
func (m *MachineInstance) Complete() bool {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.complete
}

// Version returns the machine's current transition sequence number.
func (m *MachineInstance) Version() uint64 {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.version
}

// Stop closes the instance's inbox and waits for its goroutine to exit.
// Requests already queued are still applied before the goroutine exits;
// Send calls made after Stop fail with an UnknownMachine error.
func (m *MachineInstance) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopC)
		m.inbox.Close()
	})
	<-m.doneC
}

// CloseVolatileContext releases the instance's volatile context. Callers
// must call Stop first: volatile is read without locking state.mu, which is
// only safe once the run goroutine has exited.
func (m *MachineInstance) CloseVolatileContext() error {
	return m.state.volatile.Close()
}

func (m *MachineInstance) run() {
	defer close(m.doneC)
	ctx := context.Background()
	for {
		raw, err := m.inbox.Receive(ctx)
		if err != nil {
			return
		}
		req := raw.(*sendRequest)
		evict, applyErr := applyTransition(ctx, m.deps, m.graph, m.state, req.ev)
		req.result <- applyErr
		if evict && m.deps.onOffline != nil {
			// onOffline (Registry.Evict) calls Stop, which blocks on doneC --
			// closed only by this goroutine's own deferred close above. Run
			// it on its own goroutine so that join can never deadlock against
			// the very loop that triggered it.
			go m.deps.onOffline(m.state.id)
		}
	}
}
