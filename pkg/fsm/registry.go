package fsm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster receives every completed transition record, in addition to
// whatever Recorders are configured, while live debug mode is enabled. The
// concrete websocket fan-out lives in pkg/debug; this package only needs
// the interface to avoid importing it back.
type Broadcaster interface {
	Broadcast(rec TransitionRecord)
}

// RegistryConfig configures a Registry's shared collaborators. Persistence
// is required; the rest default to inert implementations.
type RegistryConfig struct {
	InboxCapacity int
	Persistence   PersistencePort
	Recorders     []Recorder
	Redactor      Redactor
	Clock         Clock
	Metrics       MetricsSink
	Logger        interface {
		Errorf(format string, args ...interface{})
		Infof(format string, args ...interface{})
	}
}

// MachineSnapshot is a point-in-time, read-only view of one live instance,
// used by snapshot debug mode.
type MachineSnapshot struct {
	ID          MachineID
	MachineType string
	State       StateName
	Version     uint64
	Complete    bool
}

// Registry is the directory of every live machine instance in one process.
// It owns the shared Scheduler and routes events to the right
// MachineInstance, rehydrating from persistence and creating fresh
// instances on demand.
type Registry struct {
	cfg   RegistryConfig
	runID string

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[MachineID]*MachineInstance

	scheduler *Scheduler

	debugMu     sync.RWMutex
	broadcaster Broadcaster
	snapshotOn  bool

	shutdownOnce sync.Once
}

// NewRegistry constructs a Registry. cfg.Persistence must not be nil.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	r := &Registry{
		cfg:       cfg,
		runID:     uuid.NewString(),
		factories: make(map[string]Factory),
		instances: make(map[MachineID]*MachineInstance),
	}
	r.scheduler = NewScheduler(cfg.Clock, r.deliverTimeout)
	return r
}

// RegisterFactory makes machineType available to CreateOrGet/Send.
func (r *Registry) RegisterFactory(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.MachineType()] = f
}

// EnableSnapshotDebug turns on the point-in-time Snapshot() introspection
// surface. It has no runtime cost beyond the read-lock Snapshot already
// takes, so enabling it is cheap and reversible.
func (r *Registry) EnableSnapshotDebug() {
	r.debugMu.Lock()
	defer r.debugMu.Unlock()
	r.snapshotOn = true
}

// EnableLiveDebug fans every transition record out to b in addition to the
// configured Recorders, for as long as it remains set. Pass nil to disable.
func (r *Registry) EnableLiveDebug(b Broadcaster) {
	r.debugMu.Lock()
	defer r.debugMu.Unlock()
	r.broadcaster = b
}

// Snapshot returns a point-in-time view of every live instance. Returns nil
// if snapshot debug mode has not been enabled.
func (r *Registry) Snapshot() []MachineSnapshot {
	r.debugMu.RLock()
	on := r.snapshotOn
	r.debugMu.RUnlock()
	if !on {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MachineSnapshot, 0, len(r.instances))
	for _, mi := range r.instances {
		out = append(out, MachineSnapshot{
			ID:          mi.ID(),
			MachineType: mi.state.machineType,
			State:       mi.State(),
			Version:     mi.Version(),
			Complete:    mi.Complete(),
		})
	}
	return out
}

// CreateOrGet returns the live instance for id, creating it (rehydrating
// from persistence if a record exists, or initializing a fresh entity
// otherwise) if it is not already resident.
func (r *Registry) CreateOrGet(ctx context.Context, machineType string, id MachineID, correlationID string) (*MachineInstance, error) {
	r.mu.RLock()
	if mi, ok := r.instances[id]; ok {
		r.mu.RUnlock()
		return mi, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if mi, ok := r.instances[id]; ok {
		return mi, nil
	}

	factory, ok := r.factories[machineType]
	if !ok {
		return nil, newError(CodeUnknownMachine, id, fmt.Sprintf("no factory registered for machine type %q", machineType), nil)
	}

	deps := engineDeps{
		persistence: r.cfg.Persistence,
		recorders:   r.recordersSnapshot,
		redactor:    r.cfg.Redactor,
		runID:       r.runID,
		scheduler:   r.scheduler,
		logger:      r.cfg.Logger,
		onOffline:   r.Evict,
		metrics:     r.cfg.Metrics,
	}

	var mi *MachineInstance

	exists, err := r.cfg.Persistence.Exists(ctx, id)
	if err != nil {
		return nil, PersistenceFailure(id, err)
	}

	if exists {
		rec, err := r.cfg.Persistence.Load(ctx, id)
		if err != nil {
			return nil, PersistenceFailure(id, err)
		}
		if rec.Complete {
			return nil, MachineComplete(id)
		}
		vctx, err := factory.NewVolatileContext(ctx, id, rec.Entity)
		if err != nil {
			return nil, HookFailure(id, err)
		}
		if err := factory.OnRehydrate(ctx, id, rec.Entity); err != nil {
			return nil, HookFailure(id, err)
		}
		mi = resumeMachineInstance(rec, factory.Graph(), vctx, deps, r.cfg.InboxCapacity)
	} else {
		entity, err := factory.NewEntity(ctx, id)
		if err != nil {
			return nil, HookFailure(id, err)
		}
		vctx, err := factory.NewVolatileContext(ctx, id, entity)
		if err != nil {
			return nil, HookFailure(id, err)
		}
		mi = newMachineInstance(id, machineType, factory.Graph(), entity, vctx, deps, r.cfg.InboxCapacity)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	mi.state.correlationID = correlationID

	r.instances[id] = mi
	return mi, nil
}

// Send routes ev to the instance for id, creating or rehydrating it first
// if necessary.
func (r *Registry) Send(ctx context.Context, machineType string, id MachineID, ev Event) error {
	mi, err := r.CreateOrGet(ctx, machineType, id, "")
	if err != nil {
		return err
	}
	return mi.Send(ctx, ev)
}

// Evict removes id from the in-memory directory without deleting its
// persisted record. A subsequent CreateOrGet rehydrates it.
func (r *Registry) Evict(id MachineID) {
	r.mu.Lock()
	mi, ok := r.instances[id]
	if ok {
		delete(r.instances, id)
	}
	r.mu.Unlock()
	if ok {
		mi.Stop()
		if err := mi.CloseVolatileContext(); err != nil && r.cfg.Logger != nil {
			r.cfg.Logger.Errorf("close volatile context for %s: %v", id, err)
		}
	}
}

// Delete evicts id (if live) and removes its persisted record entirely.
func (r *Registry) Delete(ctx context.Context, id MachineID) error {
	r.Evict(id)
	if err := r.cfg.Persistence.Delete(ctx, id); err != nil {
		return PersistenceFailure(id, err)
	}
	return nil
}

// Shutdown stops every live instance and the shared scheduler. It is safe
// to call more than once.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		instances := make([]*MachineInstance, 0, len(r.instances))
		for _, mi := range r.instances {
			instances = append(instances, mi)
		}
		r.instances = make(map[MachineID]*MachineInstance)
		r.mu.Unlock()

		for _, mi := range instances {
			mi.Stop()
			if err := mi.CloseVolatileContext(); err != nil && r.cfg.Logger != nil {
				r.cfg.Logger.Errorf("close volatile context for %s: %v", mi.ID(), err)
			}
		}
		r.scheduler.Stop()
	})
	return nil
}

func (r *Registry) deliverTimeout(id MachineID, armedInState StateName, ev Event) {
	r.mu.RLock()
	mi, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	_ = mi.Send(context.Background(), ev)
}

func (r *Registry) recordersSnapshot() []Recorder {
	r.debugMu.RLock()
	b := r.broadcaster
	r.debugMu.RUnlock()

	recorders := make([]Recorder, 0, len(r.cfg.Recorders)+1)
	recorders = append(recorders, r.cfg.Recorders...)
	if b != nil {
		recorders = append(recorders, RecorderFunc(func(ctx context.Context, rec TransitionRecord) error {
			b.Broadcast(rec)
			return nil
		}))
	}
	return recorders
}
