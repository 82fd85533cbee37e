package fsm

import (
	"context"
	"encoding/json"
	"time"
)

// engineDeps bundles the collaborators the transition algorithm needs,
// separate from the instance so it can be unit tested without a full
// machine/registry wired up.
type engineDeps struct {
	persistence PersistencePort
	recorders   func() []Recorder
	redactor    Redactor
	runID       string
	scheduler   *Scheduler
	logger      interface {
		Errorf(format string, args ...interface{})
	}
	// onOffline is invoked (outside any instance lock) whenever a
	// transition enters an offline state, so the registry can evict the
	// instance from memory once persistence has been acknowledged.
	onOffline func(MachineID)

	metrics MetricsSink
}

// MetricsSink receives instrumentation about completed transitions. The
// concrete Prometheus-backed implementation lives in pkg/metrics; this
// package only needs the interface to avoid importing it back.
type MetricsSink interface {
	RecordTransition(machineType, event string, d time.Duration, errCode string)
}

// applyTransition runs one complete cycle of the engine algorithm described
// for a machine's serialized inbox: completeness check, before-snapshot,
// resolution (transition, stay, or unhandled), hooks, persistence, recording,
// and offline eviction signaling. It returns whether the caller should evict
// the instance from the registry afterward.
func applyTransition(ctx context.Context, deps engineDeps, graph *StateGraph, inst *instanceState, ev Event) (evict bool, err error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.complete {
		return false, MachineComplete(inst.id)
	}

	startedAt := time.Now()
	fromState := inst.state
	beforeEntity := inst.entity.DeepCopy()
	beforeBytes := redactedJSON(deps.redactor, beforeEntity)

	desc, ok := graph.State(fromState)
	if !ok {
		return false, newError(CodeInvalidGraph, inst.id, "current state not found in graph", nil)
	}

	handle := &machineHandle{inst: inst, ctx: ctx}

	var toState StateName
	var hookErr error
	registryStatus := inst.registryStatus

	switch {
	case ev.Name == EventTimeout:
		armedInState, _ := ev.Params["armedInState"].(string)
		if StateName(armedInState) != fromState {
			// Stale fire from a cancel/rearm race; discard silently.
			return false, nil
		}
		if desc.Timeout == nil {
			return false, nil
		}
		toState = desc.Timeout.Target

	default:
		if target, ok := desc.Transitions[ev.Name]; ok {
			toState = target
		} else if stay, ok := desc.StayActions[ev.Name]; ok {
			if err := stay(handle, ev); err != nil {
				hookErr = err
			}
			toState = fromState
		} else {
			// Unhandled event: no transition, no stay action. Per the
			// completion/final-state contract this is not an error; the
			// event is simply dropped.
			return false, nil
		}
	}

	// Hook failures do not roll back the transition: the state change is
	// still applied and persisted, and the failure is reported in the record
	// and to the caller.
	if toState != fromState {
		if desc.Exit != nil {
			if err := desc.Exit(handle, ev); err != nil {
				hookErr = err
			}
		}
	}

	nextDesc, descOK := graph.State(toState)
	if hookErr == nil && !descOK {
		hookErr = newError(CodeInvalidGraph, inst.id, "transition target not found in graph", nil)
	}

	if descOK && toState != fromState && nextDesc.Entry != nil {
		if err := nextDesc.Entry(handle, ev); err != nil && hookErr == nil {
			hookErr = err
		}
	}

	wasComplete := inst.complete
	beforeVersion := inst.version

	if descOK {
		inst.state = toState
		inst.version++
		if nextDesc.Offline {
			registryStatus = RegistryStatusInactive
		}
		if nextDesc.Final {
			inst.complete = true
		}
	}

	assertVersionMonotonic(inst.id, beforeVersion, inst.version)
	assertCompleteIsTerminal(inst.id, wasComplete, inst.complete)
	if nextDesc != nil {
		assertOfflineImpliesInactive(inst.id, nextDesc.Offline, registryStatus)
	}

	afterEntity := inst.entity.DeepCopy()
	afterBytes := redactedJSON(deps.redactor, afterEntity)

	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = inst.correlationID
	}

	eventPayload := redactedEventPayload(deps.redactor, ev.Payload)

	rec := TransitionRecord{
		MachineID:        inst.id,
		MachineType:      inst.machineType,
		RunID:            deps.runID,
		CorrelationID:    correlationID,
		Sequence:         inst.version,
		FromState:        fromState,
		ToState:          toState,
		EventName:        ev.Name,
		EventPayload:     eventPayload,
		EventParams:      ev.Params,
		EntityBefore:     beforeBytes,
		EntityAfter:      afterBytes,
		EntityBeforeHash: hashHex(beforeBytes),
		EntityAfterHash:  hashHex(afterBytes),
		RegistryStatus:   registryStatus,
		MachineOnline:    registryStatus != RegistryStatusInactive,
		Final:            inst.complete,
		Offline:          nextDesc != nil && nextDesc.Offline,
		StartedAt:        startedAt,
		FinishedAt:       time.Now(),
	}
	if hookErr != nil {
		rec.HookError = hookErr.Error()
	}
	rec.Duration = rec.FinishedAt.Sub(rec.StartedAt)

	// A rehydrated instance reports NOT_REGISTERED only for the first event
	// it handles; from then on it is resident.
	inst.registryStatus = RegistryStatusActive

	if descOK {
		persistErr := deps.persistence.Save(ctx, PersistenceRecord{
			MachineID:   inst.id,
			MachineType: inst.machineType,
			State:       inst.state,
			Entity:      inst.entity,
			Version:     inst.version,
			Complete:    inst.complete,
		})
		if persistErr != nil {
			return false, PersistenceFailure(inst.id, persistErr)
		}
	}

	var recorderList []Recorder
	if deps.recorders != nil {
		recorderList = deps.recorders()
	}
	for _, r := range recorderList {
		if recErr := r.Record(ctx, rec); recErr != nil && deps.logger != nil {
			deps.logger.Errorf("recorder failed for machine %s: %v", inst.id, recErr)
		}
	}

	if deps.metrics != nil {
		errCode := ""
		if hookErr != nil {
			errCode = CodeHook
		}
		deps.metrics.RecordTransition(inst.machineType, ev.Name, rec.Duration, errCode)
	}

	if nextDesc != nil && desc.Timeout != nil && (toState != fromState) {
		deps.scheduler.Cancel(inst.id)
	}
	if nextDesc != nil && nextDesc.Timeout != nil && toState != fromState {
		deps.scheduler.Arm(inst.id, toState, nextDesc.Timeout.Duration)
	}

	evict = nextDesc != nil && nextDesc.Offline
	if hookErr != nil {
		return evict, HookFailure(inst.id, hookErr)
	}
	return evict, nil
}

func redactedJSON(redactor Redactor, entity PersistentEntity) json.RawMessage {
	data, err := json.Marshal(entity)
	if err != nil {
		data = []byte(`{"error":"serialization failed"}`)
	}
	if redactor != nil {
		data = redactor.Redact(data)
	}
	return json.RawMessage(data)
}

// redactedEventPayload serializes an event's opaque payload the same way
// redactedJSON does for entity snapshots. A nil payload serializes to
// nothing, matching EventPayload's omitempty tag.
func redactedEventPayload(redactor Redactor, payload interface{}) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"error":"serialization failed"}`)
	}
	if redactor != nil {
		data = redactor.Redact(data)
	}
	return json.RawMessage(data)
}

// machineHandle is the concrete MachineHandle given to hooks while
// inst.mu is held by applyTransition.
type machineHandle struct {
	inst *instanceState
	ctx  context.Context
}

func (h *machineHandle) ID() MachineID               { return h.inst.id }
func (h *machineHandle) State() StateName             { return h.inst.state }
func (h *machineHandle) Entity() PersistentEntity     { return h.inst.entity }
func (h *machineHandle) SetEntity(e PersistentEntity) { h.inst.entity = e }
func (h *machineHandle) VolatileContext() VolatileContext { return h.inst.volatile }
func (h *machineHandle) Version() uint64              { return h.inst.version }
func (h *machineHandle) Context() context.Context     { return h.ctx }
