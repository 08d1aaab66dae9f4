package agent

import (
	"context"
	"time"

	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/state"
)

// toggler flips tasks on the scheduler and mirrors the change into the
// snapshot and the enabled gauge. The gate and the enhance engine both
// disable through it.
type toggler struct {
	agent *Agent
}

func (t *toggler) Disable(id models.TaskID, reason string) error {
	a := t.agent
	if err := a.sched.Disable(id, reason); err != nil {
		return err
	}
	t.mirror(id, false)
	if a.state == nil {
		return nil
	}
	return a.state.Update(func(s *state.Snapshot) {
		s.Disabled[id] = reason
	})
}

func (t *toggler) Enable(id models.TaskID) error {
	a := t.agent
	if err := a.sched.Enable(id); err != nil {
		return err
	}
	t.mirror(id, true)
	if a.state == nil {
		return nil
	}
	return a.state.Update(func(s *state.Snapshot) {
		delete(s.Disabled, id)
	})
}

func (t *toggler) IsEnabled(id models.TaskID) bool {
	return t.agent.sched.IsEnabled(id)
}

func (t *toggler) mirror(id models.TaskID, enabled bool) {
	a := t.agent
	if a.metrics == nil {
		return
	}
	if spec, ok := a.sched.Spec(id); ok {
		a.metrics.SetEnabled(spec.Domain, enabled)
	}
}

// persistHook saves task timing and the retirement state after every cycle.
type persistHook struct {
	agent *Agent
}

func (h *persistHook) AfterTask(_ context.Context, spec models.TaskSpec, _ models.ToolResult, _ time.Duration) error {
	a := h.agent
	cur, ok := a.sched.Spec(spec.ID)
	if !ok {
		return nil
	}
	st := a.Retirement()
	return a.state.Update(func(s *state.Snapshot) {
		s.Timings[spec.ID] = state.Timing{LastRun: cur.LastRun, LastSuccess: cur.LastSuccess}
		s.Retirement = &st
	})
}

func (h *persistHook) AfterInterrupt(context.Context, models.Interrupt, models.ToolResult) error {
	return nil
}
