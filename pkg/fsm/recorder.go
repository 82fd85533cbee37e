package fsm

import "context"

// Redactor strips sensitive fields from a serialized entity snapshot before
// the engine computes its hash and hands it to recorders. Concrete
// implementations live outside this package (see pkg/recorder) to avoid
// this package depending on a redaction configuration format.
type Redactor interface {
	Redact(data []byte) []byte
}

// Recorder observes completed transitions on a best-effort basis. A
// Recorder must never block the transition that produced the record it is
// given, and a failing Recorder must never fail the transition itself; the
// engine logs recorder errors and moves on.
type Recorder interface {
	Record(ctx context.Context, rec TransitionRecord) error
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(ctx context.Context, rec TransitionRecord) error

func (f RecorderFunc) Record(ctx context.Context, rec TransitionRecord) error { return f(ctx, rec) }

// NopRecorder discards every record.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, rec TransitionRecord) error { return nil }
