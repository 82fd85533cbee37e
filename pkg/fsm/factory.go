package fsm

import "context"

// Factory describes one machine type to a Registry: the graph every
// instance of the type shares, how to build a brand-new persistent entity,
// and how to recreate a volatile context on demand (whether the instance is
// brand new or rehydrated from storage).
type Factory interface {
	// MachineType names the type this factory builds, used to route
	// persisted records back to the right factory on rehydration.
	MachineType() string

	// Graph returns the shared StateGraph for this machine type.
	Graph() *StateGraph

	// NewEntity returns a freshly initialized PersistentEntity for a
	// brand-new machine.
	NewEntity(ctx context.Context, id MachineID) (PersistentEntity, error)

	// NewVolatileContext builds the volatile context for a machine,
	// whether it is brand new or being rehydrated. entity reflects the
	// entity's state at the moment the context is built.
	NewVolatileContext(ctx context.Context, id MachineID, entity PersistentEntity) (VolatileContext, error)

	// UnmarshalEntity reconstructs a concrete PersistentEntity from the
	// bytes a PersistencePort implementation stored for it. Storage
	// adapters that keep entities as native Go values (MemoryPersistence)
	// do not need this; adapters that serialize to JSON do.
	UnmarshalEntity(data []byte) (PersistentEntity, error)

	// OnRehydrate is called once, after NewVolatileContext, whenever a
	// machine is loaded from persistence to handle an event rather than
	// created fresh. Implementations use it to replay side effects that
	// only make sense once per rehydration, e.g. re-subscribing to an
	// external feed. A nil OnRehydrate is never called.
	OnRehydrate(ctx context.Context, id MachineID, entity PersistentEntity) error
}

// BaseFactory provides a no-op OnRehydrate so concrete factories only need
// to embed it and implement the remaining methods.
type BaseFactory struct{}

func (BaseFactory) OnRehydrate(ctx context.Context, id MachineID, entity PersistentEntity) error {
	return nil
}
