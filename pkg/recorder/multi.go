package recorder

import (
	"context"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

// Multi fans a transition record out to every configured Recorder. A
// sub-recorder's error never stops the others from running; Multi returns
// the first non-nil error for visibility, and the engine only logs it, so a
// failing sink never affects the transition that produced the record.
type Multi struct {
	recorders []fsm.Recorder
}

// NewMulti returns a Recorder that fans out to every recorder in recorders.
func NewMulti(recorders ...fsm.Recorder) *Multi {
	return &Multi{recorders: recorders}
}

func (m *Multi) Record(ctx context.Context, rec fsm.TransitionRecord) error {
	var first error
	for _, r := range m.recorders {
		if err := r.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
