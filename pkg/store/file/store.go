// Package file implements fsm.PersistencePort by writing one JSON document
// per machine into a directory, adapted from the teacher's in-process file
// persistence adapter but generalized to the registry's entity model instead
// of a bare state/context map.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

// EntityUnmarshaler rebuilds a concrete fsm.PersistentEntity from its stored
// JSON representation, dispatching on machineType. The store stays agnostic
// of concrete entity types; the caller supplies this from its registered
// factories.
type EntityUnmarshaler func(machineType string, data []byte) (fsm.PersistentEntity, error)

type record struct {
	MachineType string          `json:"machine_type"`
	State       fsm.StateName   `json:"state"`
	Entity      json.RawMessage `json:"entity"`
	Version     uint64          `json:"version"`
	Complete    bool            `json:"complete"`
}

// Store persists one JSON file per machine under a base directory.
type Store struct {
	basePath  string
	unmarshal EntityUnmarshaler

	mu sync.RWMutex
}

// NewStore creates the base directory if needed and returns a Store rooted
// there. unmarshal is used to decode stored entities back into their
// concrete Go types on Load.
func NewStore(basePath string, unmarshal EntityUnmarshaler) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("file: create base directory: %w", err)
	}
	return &Store{basePath: basePath, unmarshal: unmarshal}, nil
}

func (s *Store) pathFor(id fsm.MachineID) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s.json", string(id)))
}

// Save implements fsm.PersistencePort.
func (s *Store) Save(ctx context.Context, rec fsm.PersistenceRecord) error {
	entityBytes, err := json.Marshal(rec.Entity)
	if err != nil {
		return fmt.Errorf("file: marshal entity: %w", err)
	}

	data, err := json.MarshalIndent(record{
		MachineType: rec.MachineType,
		State:       rec.State,
		Entity:      entityBytes,
		Version:     rec.Version,
		Complete:    rec.Complete,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.pathFor(rec.MachineID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.pathFor(rec.MachineID)); err != nil {
		return fmt.Errorf("file: rename into place: %w", err)
	}
	return nil
}

func (s *Store) read(id fsm.MachineID) (record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return record{}, false, nil
		}
		return record{}, false, fmt.Errorf("file: read %s: %w", id, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false, fmt.Errorf("file: unmarshal %s: %w", id, err)
	}
	return rec, true, nil
}

// Load implements fsm.PersistencePort.
func (s *Store) Load(ctx context.Context, id fsm.MachineID) (fsm.PersistenceRecord, error) {
	rec, ok, err := s.read(id)
	if err != nil {
		return fsm.PersistenceRecord{}, err
	}
	if !ok {
		return fsm.PersistenceRecord{}, fsm.UnknownMachine(id)
	}

	entity, err := s.unmarshal(rec.MachineType, rec.Entity)
	if err != nil {
		return fsm.PersistenceRecord{}, fmt.Errorf("file: unmarshal entity for %s: %w", id, err)
	}

	return fsm.PersistenceRecord{
		MachineID:   id,
		MachineType: rec.MachineType,
		State:       rec.State,
		Entity:      entity,
		Version:     rec.Version,
		Complete:    rec.Complete,
	}, nil
}

// Exists implements fsm.PersistencePort.
func (s *Store) Exists(ctx context.Context, id fsm.MachineID) (bool, error) {
	_, ok, err := s.read(id)
	return ok, err
}

// Delete implements fsm.PersistencePort.
func (s *Store) Delete(ctx context.Context, id fsm.MachineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file: delete %s: %w", id, err)
	}
	return nil
}

// IsComplete implements fsm.PersistencePort.
func (s *Store) IsComplete(ctx context.Context, id fsm.MachineID) (bool, error) {
	rec, ok, err := s.read(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fsm.UnknownMachine(id)
	}
	return rec.Complete, nil
}
