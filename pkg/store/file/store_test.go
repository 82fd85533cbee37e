package file

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

type widgetEntity struct {
	fsm.BaseEntity
	Label string `json:"label"`
}

func (w widgetEntity) DeepCopy() fsm.PersistentEntity {
	return widgetEntity{BaseEntity: w.BaseEntity, Label: w.Label}
}

func unmarshalWidget(machineType string, data []byte) (fsm.PersistentEntity, error) {
	var w widgetEntity
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), unmarshalWidget)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entity := widgetEntity{BaseEntity: fsm.BaseEntity{MachineType: "widget"}, Label: "gadget"}
	rec := fsm.PersistenceRecord{
		MachineID:   "w1",
		MachineType: "widget",
		State:       "running",
		Entity:      entity,
		Version:     3,
		Complete:    false,
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, "w1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != "running" || got.Version != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
	loaded, ok := got.Entity.(widgetEntity)
	if !ok || loaded.Label != "gadget" {
		t.Fatalf("unexpected entity: %+v", got.Entity)
	}
}

func TestStoreLoadUnknownMachine(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "missing")
	if !errors.Is(err, fsm.ErrUnknownMachine) {
		t.Fatalf("expected unknown machine error, got %v", err)
	}
}

func TestStoreDeleteRemovesRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	entity := widgetEntity{BaseEntity: fsm.BaseEntity{MachineType: "widget"}, Label: "x"}
	if err := s.Save(ctx, fsm.PersistenceRecord{MachineID: "w2", MachineType: "widget", State: "new", Entity: entity}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(ctx, "w2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, err := s.Exists(ctx, "w2")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected record to be gone after delete")
	}
}

func TestStoreExistsFalseForMissing(t *testing.T) {
	s := newTestStore(t)
	exists, err := s.Exists(context.Background(), "nope")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected false for missing machine")
	}
}
