package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

// EntityUnmarshaler reconstructs a concrete fsm.PersistentEntity from the
// JSON bytes Store persisted for it, keyed by machine type. The store
// package has no notion of concrete entity types; callers supply this so
// Load can hand the engine a real value instead of raw bytes.
type EntityUnmarshaler func(machineType string, data []byte) (fsm.PersistentEntity, error)

// Store implements fsm.PersistencePort on top of a SQL database, storing
// one row per machine in a single "fsm_machines" table.
type Store struct {
	pool      *Pool
	unmarshal EntityUnmarshaler
	postgres  bool
}

// NewStore wraps pool as a PersistencePort. unmarshal must not be nil.
func NewStore(pool *Pool, unmarshal EntityUnmarshaler) *Store {
	driver := pool.config.DriverName
	return &Store{
		pool:      pool,
		unmarshal: unmarshal,
		postgres:  driver == "postgres" || driver == "pgx",
	}
}

// EnsureSchema creates the backing table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS fsm_machines (
	machine_id   TEXT PRIMARY KEY,
	machine_type TEXT NOT NULL,
	state        TEXT NOT NULL,
	entity       TEXT NOT NULL,
	version      BIGINT NOT NULL,
	complete     BOOLEAN NOT NULL,
	updated_at   TIMESTAMP NOT NULL
)`
	_, err := s.pool.DB().ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("sql: ensure schema: %w", err)
	}
	return nil
}

// bind rewrites "?" placeholders to "$1, $2, ..." for Postgres drivers.
func (s *Store) bind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Save(ctx context.Context, rec fsm.PersistenceRecord) error {
	data, err := json.Marshal(rec.Entity)
	if err != nil {
		return fmt.Errorf("sql: marshal entity: %w", err)
	}

	query := s.bind(`
INSERT INTO fsm_machines (machine_id, machine_type, state, entity, version, complete, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (machine_id) DO UPDATE SET
	machine_type = excluded.machine_type,
	state        = excluded.state,
	entity       = excluded.entity,
	version      = excluded.version,
	complete     = excluded.complete,
	updated_at   = excluded.updated_at`)

	_, err = s.pool.DB().ExecContext(ctx, query,
		string(rec.MachineID), rec.MachineType, string(rec.State), string(data), rec.Version, rec.Complete, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sql: save machine %s: %w", rec.MachineID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id fsm.MachineID) (fsm.PersistenceRecord, error) {
	query := s.bind(`SELECT machine_type, state, entity, version, complete FROM fsm_machines WHERE machine_id = ?`)
	row := s.pool.DB().QueryRowContext(ctx, query, string(id))

	var machineType, state, entityJSON string
	var version uint64
	var complete bool
	if err := row.Scan(&machineType, &state, &entityJSON, &version, &complete); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fsm.PersistenceRecord{}, fsm.UnknownMachine(id)
		}
		return fsm.PersistenceRecord{}, fmt.Errorf("sql: load machine %s: %w", id, err)
	}

	entity, err := s.unmarshal(machineType, []byte(entityJSON))
	if err != nil {
		return fsm.PersistenceRecord{}, fmt.Errorf("sql: unmarshal entity for %s: %w", id, err)
	}

	return fsm.PersistenceRecord{
		MachineID:   id,
		MachineType: machineType,
		State:       fsm.StateName(state),
		Entity:      entity,
		Version:     version,
		Complete:    complete,
	}, nil
}

func (s *Store) Exists(ctx context.Context, id fsm.MachineID) (bool, error) {
	query := s.bind(`SELECT 1 FROM fsm_machines WHERE machine_id = ?`)
	row := s.pool.DB().QueryRowContext(ctx, query, string(id))
	var discard int
	if err := row.Scan(&discard); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("sql: exists machine %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id fsm.MachineID) error {
	query := s.bind(`DELETE FROM fsm_machines WHERE machine_id = ?`)
	if _, err := s.pool.DB().ExecContext(ctx, query, string(id)); err != nil {
		return fmt.Errorf("sql: delete machine %s: %w", id, err)
	}
	return nil
}

func (s *Store) IsComplete(ctx context.Context, id fsm.MachineID) (bool, error) {
	query := s.bind(`SELECT complete FROM fsm_machines WHERE machine_id = ?`)
	row := s.pool.DB().QueryRowContext(ctx, query, string(id))
	var complete bool
	if err := row.Scan(&complete); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fsm.UnknownMachine(id)
		}
		return false, fmt.Errorf("sql: is complete machine %s: %w", id, err)
	}
	return complete, nil
}
