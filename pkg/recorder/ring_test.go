package recorder

import (
	"context"
	"testing"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

func TestRingKeepsMostRecentOnOverflow(t *testing.T) {
	r := NewRing(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Record(ctx, fsm.TransitionRecord{Sequence: uint64(i)})
	}

	recent := r.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if recent[0].Sequence != 4 || recent[1].Sequence != 3 || recent[2].Sequence != 2 {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func TestRingRecentLimitsCount(t *testing.T) {
	r := NewRing(10)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		r.Record(ctx, fsm.TransitionRecord{Sequence: uint64(i)})
	}

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].Sequence != 3 || recent[1].Sequence != 2 {
		t.Fatalf("unexpected order: %+v", recent)
	}
}
