package sql

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

type orderEntity struct {
	fsm.BaseEntity
	Total int `json:"total"`
}

func (e orderEntity) DeepCopy() fsm.PersistentEntity {
	cp := e
	return cp
}

func unmarshalOrder(machineType string, data []byte) (fsm.PersistentEntity, error) {
	var e orderEntity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := NewPool(DefaultPoolConfig("sqlite3", ":memory:"))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store := NewStore(pool, unmarshalOrder)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return store
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := fsm.PersistenceRecord{
		MachineID:   "o1",
		MachineType: "order",
		State:       "placed",
		Entity:      orderEntity{Total: 42},
		Version:     1,
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, "o1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != "placed" {
		t.Fatalf("expected state placed, got %v", got.State)
	}
	if got.Entity.(orderEntity).Total != 42 {
		t.Fatalf("expected total 42, got %+v", got.Entity)
	}
}

func TestStoreSaveUpsertsOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, fsm.PersistenceRecord{MachineID: "o1", MachineType: "order", State: "placed", Entity: orderEntity{Total: 1}, Version: 1})
	store.Save(ctx, fsm.PersistenceRecord{MachineID: "o1", MachineType: "order", State: "shipped", Entity: orderEntity{Total: 1}, Version: 2})

	got, err := store.Load(ctx, "o1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != "shipped" || got.Version != 2 {
		t.Fatalf("expected upserted record, got %+v", got)
	}
}

func TestStoreLoadUnknownMachine(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, fsm.ErrUnknownMachine) {
		t.Fatalf("expected ErrUnknownMachine, got %v", err)
	}
}

func TestStoreDeleteRemovesRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, fsm.PersistenceRecord{MachineID: "o1", MachineType: "order", State: "placed", Entity: orderEntity{Total: 1}, Version: 1})
	if err := store.Delete(ctx, "o1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := store.Exists(ctx, "o1"); ok {
		t.Fatal("expected record to be gone")
	}
}
