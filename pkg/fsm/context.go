package fsm

import "context"

// MachineID identifies one machine instance within a registry. It is unique
// per registry, not globally.
type MachineID string

// PersistentEntity is the durable half of a machine's state: everything that
// survives a process restart. Implementations must support a deep copy so
// the engine can snapshot the entity before and after each transition.
type PersistentEntity interface {
	// DeepCopy returns an independent copy of the entity. The engine calls
	// it before the hooks run and again afterwards to build the transition
	// record's before/after snapshots, so hook mutations cannot alter the
	// "before" snapshot. Hooks themselves receive the live entity through
	// MachineHandle, not a copy.
	DeepCopy() PersistentEntity
}

// BaseEntity is an embeddable PersistentEntity carrying the one field every
// concrete entity needs: a label identifying which factory produced it, so
// a rehydrated record can be routed back to the right factory. Concrete
// entities embed BaseEntity and add their own fields; embedding is a plain
// struct field, not the source system's class inheritance, so DeepCopy must
// still be implemented per concrete type.
type BaseEntity struct {
	MachineType string
}

// VolatileContext is the non-persistent half of a machine's state: handles,
// caches, and other process-local resources that a Factory recreates from
// scratch on every rehydration rather than ever serializing.
type VolatileContext interface {
	// Close releases any resources (connections, timers, goroutines) held
	// by the context. Called once when a machine is evicted or deleted.
	Close() error
}

// NopVolatileContext is a VolatileContext with nothing to release, useful
// for machine types that keep no process-local resources.
type NopVolatileContext struct{}

func (NopVolatileContext) Close() error { return nil }

// MachineHandle is the read/mutate surface hooks and stay actions receive.
// It intentionally does not expose Send: hooks run on the machine's own
// serialized inbox goroutine, and recursing back through Send would
// deadlock against that same goroutine.
type MachineHandle interface {
	ID() MachineID
	State() StateName
	Entity() PersistentEntity
	SetEntity(PersistentEntity)
	VolatileContext() VolatileContext
	Version() uint64
	Context() context.Context
}
