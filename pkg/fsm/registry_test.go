package fsm

import (
	"context"
	"testing"
	"time"
)

type testFactory struct {
	BaseFactory
	graph *StateGraph
}

func newTestFactory(t *testing.T) *testFactory {
	return &testFactory{graph: buildTestGraph(t)}
}

func (f *testFactory) MachineType() string { return "test" }
func (f *testFactory) Graph() *StateGraph  { return f.graph }

func (f *testFactory) NewEntity(ctx context.Context, id MachineID) (PersistentEntity, error) {
	return stringEntity{Value: "fresh"}, nil
}

func (f *testFactory) NewVolatileContext(ctx context.Context, id MachineID, entity PersistentEntity) (VolatileContext, error) {
	return NopVolatileContext{}, nil
}

func (f *testFactory) UnmarshalEntity(data []byte) (PersistentEntity, error) {
	return stringEntity{}, nil
}

func TestRegistryCreateOrGetCreatesOnFirstSend(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Persistence: NewMemoryPersistence()})
	defer reg.Shutdown(context.Background())
	reg.RegisterFactory(newTestFactory(t))

	ctx := context.Background()
	if err := reg.Send(ctx, "test", "m1", NewEvent("start", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}

	mi, err := reg.CreateOrGet(ctx, "test", "m1", "")
	if err != nil {
		t.Fatalf("create or get: %v", err)
	}
	if mi.State() != "running" {
		t.Fatalf("expected running, got %v", mi.State())
	}
}

func TestRegistryUnknownMachineTypeErrors(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Persistence: NewMemoryPersistence()})
	defer reg.Shutdown(context.Background())

	ctx := context.Background()
	err := reg.Send(ctx, "nope", "m1", NewEvent("start", nil))
	if !isErrCode(err, CodeUnknownMachine) {
		t.Fatalf("expected UnknownMachine, got %v", err)
	}
}

func TestRegistryRehydratesAfterEvict(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Persistence: NewMemoryPersistence()})
	defer reg.Shutdown(context.Background())
	reg.RegisterFactory(newTestFactory(t))

	ctx := context.Background()
	if err := reg.Send(ctx, "test", "m1", NewEvent("start", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}

	reg.Evict("m1")

	mi, err := reg.CreateOrGet(ctx, "test", "m1", "")
	if err != nil {
		t.Fatalf("create or get after evict: %v", err)
	}
	if mi.State() != "running" {
		t.Fatalf("expected rehydrated state running, got %v", mi.State())
	}
}

func TestRegistryDeleteRemovesPersistedRecord(t *testing.T) {
	persistence := NewMemoryPersistence()
	reg := NewRegistry(RegistryConfig{Persistence: persistence})
	defer reg.Shutdown(context.Background())
	reg.RegisterFactory(newTestFactory(t))

	ctx := context.Background()
	if err := reg.Send(ctx, "test", "m1", NewEvent("start", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := reg.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if ok, _ := persistence.Exists(ctx, "m1"); ok {
		t.Fatal("expected persisted record to be gone")
	}
}

func TestRegistrySnapshotRequiresDebugEnabled(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Persistence: NewMemoryPersistence()})
	defer reg.Shutdown(context.Background())
	reg.RegisterFactory(newTestFactory(t))

	ctx := context.Background()
	reg.Send(ctx, "test", "m1", NewEvent("start", nil))

	if snap := reg.Snapshot(); snap != nil {
		t.Fatalf("expected nil snapshot before enabling debug, got %v", snap)
	}

	reg.EnableSnapshotDebug()
	snap := reg.Snapshot()
	if len(snap) != 1 || snap[0].ID != "m1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

// trackingVolatileContext records whether it was closed, so tests can
// confirm eviction releases volatile resources rather than just forgetting
// about them.
type trackingVolatileContext struct {
	closed chan struct{}
}

func (v *trackingVolatileContext) Close() error {
	close(v.closed)
	return nil
}

type offlineTestFactory struct {
	BaseFactory
	graph    *StateGraph
	volatile *trackingVolatileContext
}

func newOfflineTestFactory(t *testing.T) *offlineTestFactory {
	t.Helper()
	g, err := NewGraphBuilder().
		Initial("a").
		State("a").On("park", "parked").Done().
		State("parked").Offline().Done().
		Build()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return &offlineTestFactory{graph: g, volatile: &trackingVolatileContext{closed: make(chan struct{})}}
}

func (f *offlineTestFactory) MachineType() string { return "offline-test" }
func (f *offlineTestFactory) Graph() *StateGraph  { return f.graph }

func (f *offlineTestFactory) NewEntity(ctx context.Context, id MachineID) (PersistentEntity, error) {
	return stringEntity{Value: "fresh"}, nil
}

func (f *offlineTestFactory) NewVolatileContext(ctx context.Context, id MachineID, entity PersistentEntity) (VolatileContext, error) {
	return f.volatile, nil
}

func (f *offlineTestFactory) UnmarshalEntity(data []byte) (PersistentEntity, error) {
	return stringEntity{}, nil
}

// TestRegistryAutoEvictsAndClosesVolatileOnOfflineTransition drives an
// offline transition through Registry.Send, the same path a real caller
// uses. Before the onOffline dispatch was made asynchronous, this deadlocked:
// the run goroutine called Evict -> Stop -> <-doneC from inside itself.
func TestRegistryAutoEvictsAndClosesVolatileOnOfflineTransition(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Persistence: NewMemoryPersistence()})
	defer reg.Shutdown(context.Background())
	factory := newOfflineTestFactory(t)
	reg.RegisterFactory(factory)

	ctx := context.Background()
	if err := reg.Send(ctx, "offline-test", "m1", NewEvent("park", nil)); err != nil {
		t.Fatalf("send park: %v", err)
	}

	select {
	case <-factory.volatile.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected volatile context to be closed after auto-eviction")
	}

	reg.mu.RLock()
	_, stillResident := reg.instances["m1"]
	reg.mu.RUnlock()
	if stillResident {
		t.Fatal("expected machine to be evicted from the registry after offline transition")
	}
}
