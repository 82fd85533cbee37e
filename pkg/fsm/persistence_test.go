package fsm

import (
	"context"
	"errors"
	"testing"
)

type stringEntity struct {
	BaseEntity
	Value string
}

func (e stringEntity) DeepCopy() PersistentEntity {
	cp := e
	return cp
}

func TestMemoryPersistenceSaveLoad(t *testing.T) {
	p := NewMemoryPersistence()
	ctx := context.Background()
	id := MachineID("m1")

	if ok, err := p.Exists(ctx, id); err != nil || ok {
		t.Fatalf("expected not exists, got ok=%v err=%v", ok, err)
	}

	rec := PersistenceRecord{MachineID: id, State: "start", Entity: stringEntity{Value: "a"}}
	if err := p.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := p.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != "start" {
		t.Fatalf("expected state start, got %v", got.State)
	}

	if ok, err := p.Exists(ctx, id); err != nil || !ok {
		t.Fatalf("expected exists, got ok=%v err=%v", ok, err)
	}

	if err := p.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := p.Load(ctx, id); !errors.Is(err, ErrUnknownMachine) {
		t.Fatalf("expected ErrUnknownMachine after delete, got %v", err)
	}
}

func TestMemoryPersistenceIsComplete(t *testing.T) {
	p := NewMemoryPersistence()
	ctx := context.Background()
	id := MachineID("m2")

	if _, err := p.IsComplete(ctx, id); !errors.Is(err, ErrUnknownMachine) {
		t.Fatalf("expected ErrUnknownMachine, got %v", err)
	}

	if err := p.Save(ctx, PersistenceRecord{MachineID: id, Complete: true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	complete, err := p.IsComplete(ctx, id)
	if err != nil {
		t.Fatalf("is complete: %v", err)
	}
	if !complete {
		t.Fatalf("expected complete")
	}
}
