package fsm

import (
	"context"
	"errors"
	"testing"
)

func TestApplyTransitionRunsHooksAndPersists(t *testing.T) {
	var entered, exited []StateName

	graph, err := NewGraphBuilder().
		Initial("a").
		State("a").
		Exit(func(m MachineHandle, ev Event) error { exited = append(exited, "a"); return nil }).
		On("go", "b").Done().
		State("b").
		Entry(func(m MachineHandle, ev Event) error { entered = append(entered, "b"); return nil }).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	persistence := NewMemoryPersistence()
	var recorded []TransitionRecord
	recorder := RecorderFunc(func(ctx context.Context, rec TransitionRecord) error {
		recorded = append(recorded, rec)
		return nil
	})

	deps := engineDeps{
		persistence: persistence,
		recorders:   func() []Recorder { return []Recorder{recorder} },
		scheduler:   NewScheduler(RealClock{}, func(MachineID, StateName, Event) {}),
	}
	defer deps.scheduler.Stop()

	inst := &instanceState{id: "m1", machineType: "test", state: graph.Initial, entity: stringEntity{Value: "x"}}

	evict, err := applyTransition(context.Background(), deps, graph, inst, NewEvent("go", nil))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if evict {
		t.Fatal("did not expect eviction")
	}
	if inst.state != "b" {
		t.Fatalf("expected state b, got %v", inst.state)
	}
	if len(exited) != 1 || len(entered) != 1 {
		t.Fatalf("expected exactly one exit and one entry hook call, got exited=%v entered=%v", exited, entered)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected one recorded transition, got %d", len(recorded))
	}
	if recorded[0].FromState != "a" || recorded[0].ToState != "b" {
		t.Fatalf("unexpected record: %+v", recorded[0])
	}

	persisted, err := persistence.Load(context.Background(), "m1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if persisted.State != "b" {
		t.Fatalf("expected persisted state b, got %v", persisted.State)
	}
}

func TestApplyTransitionRecordsEventPayload(t *testing.T) {
	graph, err := NewGraphBuilder().
		Initial("a").
		State("a").On("go", "b").Done().
		State("b").Done().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var recorded []TransitionRecord
	deps := engineDeps{
		persistence: NewMemoryPersistence(),
		recorders: func() []Recorder {
			return []Recorder{RecorderFunc(func(ctx context.Context, rec TransitionRecord) error {
				recorded = append(recorded, rec)
				return nil
			})}
		},
		scheduler: NewScheduler(RealClock{}, func(MachineID, StateName, Event) {}),
	}
	defer deps.scheduler.Stop()

	inst := &instanceState{id: "m1", machineType: "test", state: graph.Initial, entity: stringEntity{Value: "x"}}

	ev := NewEvent("go", map[string]string{"reason": "manual"})
	if _, err := applyTransition(context.Background(), deps, graph, inst, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(recorded) != 1 {
		t.Fatalf("expected one recorded transition, got %d", len(recorded))
	}
	if string(recorded[0].EventPayload) != `{"reason":"manual"}` {
		t.Fatalf("unexpected event payload: %s", recorded[0].EventPayload)
	}
}

func TestApplyTransitionHookErrorStillRecordsAndPersistsPriorTransition(t *testing.T) {
	graph, err := NewGraphBuilder().
		Initial("a").
		State("a").On("go", "b").Done().
		State("b").
		Entry(func(m MachineHandle, ev Event) error { return errors.New("boom") }).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var recorded []TransitionRecord
	deps := engineDeps{
		persistence: NewMemoryPersistence(),
		recorders: func() []Recorder {
			return []Recorder{RecorderFunc(func(ctx context.Context, rec TransitionRecord) error {
				recorded = append(recorded, rec)
				return nil
			})}
		},
		scheduler: NewScheduler(RealClock{}, func(MachineID, StateName, Event) {}),
	}
	defer deps.scheduler.Stop()

	inst := &instanceState{id: "m1", machineType: "test", state: graph.Initial, entity: stringEntity{Value: "x"}}

	_, err = applyTransition(context.Background(), deps, graph, inst, NewEvent("go", nil))
	if !isErrCode(err, CodeHook) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(recorded) != 1 || recorded[0].HookError == "" {
		t.Fatalf("expected a record carrying the hook error, got %+v", recorded)
	}

	persisted, err := deps.persistence.Load(context.Background(), "m1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if persisted.State != "b" {
		t.Fatalf("expected persisted state b despite the hook error, got %v", persisted.State)
	}
}

func TestApplyTransitionEntersFinalState(t *testing.T) {
	graph, err := NewGraphBuilder().
		Initial("a").
		State("a").On("finish", "done").Done().
		State("done").Final().Done().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	deps := engineDeps{
		persistence: NewMemoryPersistence(),
		scheduler:   NewScheduler(RealClock{}, func(MachineID, StateName, Event) {}),
	}
	defer deps.scheduler.Stop()

	inst := &instanceState{id: "m1", machineType: "test", state: graph.Initial, entity: stringEntity{Value: "x"}}
	if _, err := applyTransition(context.Background(), deps, graph, inst, NewEvent("finish", nil)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !inst.complete {
		t.Fatal("expected machine to be marked complete")
	}

	_, err = applyTransition(context.Background(), deps, graph, inst, NewEvent("finish", nil))
	if !isErrCode(err, CodeMachineComplete) {
		t.Fatalf("expected MachineComplete on event after completion, got %v", err)
	}
}

func TestApplyTransitionSignalsEvictionForOfflineState(t *testing.T) {
	graph, err := NewGraphBuilder().
		Initial("a").
		State("a").On("park", "parked").Done().
		State("parked").Offline().Done().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	deps := engineDeps{
		persistence: NewMemoryPersistence(),
		scheduler:   NewScheduler(RealClock{}, func(MachineID, StateName, Event) {}),
	}
	defer deps.scheduler.Stop()

	inst := &instanceState{id: "m1", machineType: "test", state: graph.Initial, entity: stringEntity{Value: "x"}}
	evict, err := applyTransition(context.Background(), deps, graph, inst, NewEvent("park", nil))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !evict {
		t.Fatal("expected offline state to signal eviction")
	}
}

func TestApplyTransitionStaleTimeoutIsDiscarded(t *testing.T) {
	graph, err := NewGraphBuilder().
		Initial("a").
		State("a").On("go", "b").Done().
		State("b").Done().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	deps := engineDeps{
		persistence: NewMemoryPersistence(),
		scheduler:   NewScheduler(RealClock{}, func(MachineID, StateName, Event) {}),
	}
	defer deps.scheduler.Stop()

	inst := &instanceState{id: "m1", machineType: "test", state: "b", entity: stringEntity{Value: "x"}}

	// Timeout tagged as armed in "a", but the instance has already moved on
	// to "b"; it must be silently discarded rather than misapplied.
	evict, err := applyTransition(context.Background(), deps, graph, inst, newTimeoutEvent("a"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if evict {
		t.Fatal("did not expect eviction")
	}
	if inst.state != "b" {
		t.Fatalf("expected state to remain b, got %v", inst.state)
	}
}
