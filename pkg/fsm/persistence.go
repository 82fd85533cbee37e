package fsm

import (
	"context"
	"sync"
)

// PersistenceRecord is what PersistencePort stores and loads: a machine's
// current state name plus its persistent entity, snapshotted whole. The
// volatile context never appears here; Factory recreates it on load.
type PersistenceRecord struct {
	MachineID   MachineID
	MachineType string
	State       StateName
	Entity      PersistentEntity
	Version     uint64
	Complete    bool
}

// PersistencePort is the storage abstraction the engine uses to make each
// transition durable before it is considered committed. Implementations
// must guarantee that, for a single MachineID, Save calls are applied in
// the order they are issued; the engine relies on this rather than on any
// locking of its own at the storage layer.
type PersistencePort interface {
	Save(ctx context.Context, rec PersistenceRecord) error
	Load(ctx context.Context, id MachineID) (PersistenceRecord, error)
	Exists(ctx context.Context, id MachineID) (bool, error)
	Delete(ctx context.Context, id MachineID) error
	IsComplete(ctx context.Context, id MachineID) (bool, error)
}

// MemoryPersistence is an in-process PersistencePort backed by a map,
// useful for tests and for machine types that opt out of durability.
type MemoryPersistence struct {
	mu      sync.Mutex
	records map[MachineID]PersistenceRecord
}

// NewMemoryPersistence returns an empty MemoryPersistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{records: make(map[MachineID]PersistenceRecord)}
}

func (p *MemoryPersistence) Save(ctx context.Context, rec PersistenceRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[rec.MachineID] = rec
	return nil
}

func (p *MemoryPersistence) Load(ctx context.Context, id MachineID) (PersistenceRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return PersistenceRecord{}, UnknownMachine(id)
	}
	return rec, nil
}

func (p *MemoryPersistence) Exists(ctx context.Context, id MachineID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.records[id]
	return ok, nil
}

func (p *MemoryPersistence) Delete(ctx context.Context, id MachineID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, id)
	return nil
}

func (p *MemoryPersistence) IsComplete(ctx context.Context, id MachineID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return false, UnknownMachine(id)
	}
	return rec.Complete, nil
}
