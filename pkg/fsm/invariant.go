package fsm

import (
	"github.com/antithesishq/antithesis-sdk-go/assert"
)

// Invariant checks the transition engine expects to hold for every machine,
// every time, regardless of which graph or factory produced it. These lean
// on antithesis-sdk-go's assert package instead of panicking on violation:
// a broken invariant here points at a
// bug in the engine itself rather than bad caller input, so it is more
// useful reported as a property for fuzzing/exploration than as a crash.
// The default no-op build makes every call below a cheap label comparison
// when no Antithesis instrumentation is attached.

// assertVersionMonotonic records that a machine's version counter only ever
// moves forward. A regression here would mean applyTransition somehow ran
// concurrently against the same instance, which the per-machine mailbox is
// supposed to make impossible.
func assertVersionMonotonic(id MachineID, before, after uint64) {
	assert.Always(after >= before, "machine version never decreases", map[string]any{
		"machine_id": string(id),
		"before":     before,
		"after":      after,
	})
}

// assertCompleteIsTerminal records that once a machine is marked complete it
// never leaves that state. applyTransition already refuses new events against
// a complete machine; this is the belt to that suspender.
func assertCompleteIsTerminal(id MachineID, wasComplete, isComplete bool) {
	assert.Always(!wasComplete || isComplete, "completion is terminal", map[string]any{
		"machine_id":   string(id),
		"was_complete": wasComplete,
		"is_complete":  isComplete,
	})
}

// assertOfflineImpliesInactive records that a state descriptor flagged
// Offline always produces a registry status of inactive, never active. The
// registry relies on this to decide when it is safe to evict an instance
// from memory.
func assertOfflineImpliesInactive(id MachineID, offline bool, status RegistryStatus) {
	assert.Always(!offline || status == RegistryStatusInactive, "offline state implies inactive registry status", map[string]any{
		"machine_id": string(id),
		"offline":    offline,
		"status":     string(status),
	})
}
