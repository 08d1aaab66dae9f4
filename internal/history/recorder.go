package history

import (
	"context"
	"time"

	"github.com/harrison/harbor/internal/models"
)

// Recorder adapts the store to the orchestrator's cycle hook and the
// escalation gate's sink.
type Recorder struct {
	store *Store
}

// NewRecorder wraps store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// AfterTask records a finished task cycle.
func (r *Recorder) AfterTask(ctx context.Context, spec models.TaskSpec, res models.ToolResult, d time.Duration) error {
	run := &TaskRun{
		TaskID:        spec.ID,
		Domain:        spec.Domain,
		Success:       res.Success,
		ErrorKind:     res.ErrorKind,
		ErrorMessage:  res.Error,
		ObservedState: res.ObservedState,
		ExpectedState: res.ExpectedState,
		Duration:      d,
		StartedAt:     r.store.now().Add(-d),
	}
	if res.Diagnostics != nil {
		run.Actions = res.Diagnostics.Actions
	}
	return r.store.RecordRun(context.WithoutCancel(ctx), run)
}

// AfterInterrupt records a handled interrupt.
func (r *Recorder) AfterInterrupt(ctx context.Context, in models.Interrupt, res models.ToolResult) error {
	return r.store.RecordInterrupt(context.WithoutCancel(ctx), InterruptRecord{
		Trigger:    in.Trigger,
		Class:      in.Class,
		Task:       in.Task,
		Checkpoint: in.Checkpoint,
		Step:       in.Step,
		Success:    res.Success,
		OccurredAt: r.store.now(),
	})
}

// Deliver records a takeover event.
func (r *Recorder) Deliver(ctx context.Context, ev models.TakeoverEvent) error {
	return r.store.RecordTakeover(context.WithoutCancel(ctx), ev)
}
