package fsm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// RegistryStatus describes where a machine stood in the registry at the
// moment a transition record was produced.
type RegistryStatus string

const (
	// RegistryStatusActive means the instance was resident in memory
	// before and after the transition.
	RegistryStatusActive RegistryStatus = "REGISTERED_ACTIVE"

	// RegistryStatusInactive means the instance entered an offline state
	// during this transition and is about to be evicted from memory.
	RegistryStatusInactive RegistryStatus = "REGISTERED_INACTIVE"

	// RegistryStatusNotRegistered means the instance was loaded from
	// persistence solely to handle this one event, rather than being
	// resident in the registry beforehand.
	RegistryStatusNotRegistered RegistryStatus = "NOT_REGISTERED"
)

// TransitionRecord is the durable, wire-format description of a single
// transition. Fields are populated by the engine itself, except
// DebugSessionID, which the engine never sets; recorders only ever observe
// completed records, never build them.
type TransitionRecord struct {
	MachineID      MachineID `json:"machine_id"`
	MachineType    string    `json:"machine_type"`
	RunID          string    `json:"run_id"`
	CorrelationID  string    `json:"correlation_id"`
	DebugSessionID string    `json:"debug_session_id,omitempty"`

	Sequence    uint64         `json:"sequence"`
	FromState   StateName      `json:"from_state"`
	ToState     StateName      `json:"to_state"`
	EventName   string         `json:"event_name"`

	// EventPayload is the redacted, JSON-serialized form of the event's
	// opaque Payload, distinct from EventParams.
	EventPayload json.RawMessage `json:"event_payload,omitempty"`
	EventParams  map[string]any  `json:"event_params,omitempty"`

	// EntityBefore/EntityAfter are redacted, JSON-serialized snapshots of
	// the persistent entity immediately before and after the transition.
	EntityBefore json.RawMessage `json:"entity_before"`
	EntityAfter  json.RawMessage `json:"entity_after"`

	// EntityBeforeHash/EntityAfterHash are SHA-256 hashes computed over the
	// *redacted* snapshot bytes, so recorders can detect tampering or drift
	// without ever seeing the unredacted content.
	EntityBeforeHash string `json:"entity_before_hash"`
	EntityAfterHash  string `json:"entity_after_hash"`

	RegistryStatus RegistryStatus `json:"registry_status"`
	MachineOnline  bool           `json:"machine_online"`
	Final          bool           `json:"final"`
	Offline        bool           `json:"offline"`

	HookError string `json:"hook_error,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// DurationMs returns the transition's wall-clock duration in whole
// milliseconds, the unit the wire schema and live-debug protocol use.
func (r TransitionRecord) DurationMs() uint64 {
	return uint64(r.Duration.Milliseconds())
}

// hashHex returns the hex-encoded SHA-256 digest of data.
func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
