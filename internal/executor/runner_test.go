package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harrison/harbor/internal/interrupt"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/tool/tooltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearTask(steps ...Step) Task {
	return Task{ID: "combat", Domain: models.DomainCombat, Steps: steps}
}

func TestRunnerHappyPath(t *testing.T) {
	p := tooltest.New().
		Queue("goto", tooltest.OK("page_campaign")).
		Queue("select", tooltest.OK("stage_selected"))
	r := NewRunner(p, nil)

	res := r.Run(context.Background(), linearTask(
		Step{Name: "goto campaign", Tool: "goto", Expect: "page_campaign"},
		Step{Name: "select stage", Tool: "select", Expect: "stage_selected"},
	))

	assert.True(t, res.Success)
	assert.Equal(t, models.State("stage_selected"), res.ObservedState)
	assert.Equal(t, models.State("stage_selected"), res.ExpectedState)
	require.NotNil(t, res.Diagnostics)
	assert.Equal(t, []string{"goto campaign", "select stage"}, res.Diagnostics.Actions)
	assert.Equal(t, 0, r.LiveCursors())
}

func TestRunnerStopsOnUnverifiedStep(t *testing.T) {
	tests := []struct {
		name  string
		reply tooltest.Reply
		kind  models.Kind
	}{
		{
			name:  "absent observed state is incomplete",
			reply: tooltest.Reply{Result: models.ToolResult{Success: true}},
			kind:  models.KindIncomplete,
		},
		{
			name:  "unexpected state",
			reply: tooltest.OK(models.StateMain),
			kind:  models.KindStateMismatch,
		},
		{
			name:  "device failure",
			reply: tooltest.Fail("tap rejected"),
			kind:  models.KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tooltest.New().
				Queue("goto", tt.reply).
				Queue("select", tooltest.OK("stage_selected"))
			r := NewRunner(p, nil)

			res := r.Run(context.Background(), linearTask(
				Step{Name: "goto campaign", Tool: "goto", Expect: "page_campaign"},
				Step{Name: "select stage", Tool: "select", Expect: "stage_selected"},
			))

			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, models.State("page_campaign"), res.ExpectedState)
			assert.Zero(t, p.Count("select"), "never continues past the failed step")
			assert.Contains(t, res.Error, "goto campaign")
			assert.Contains(t, res.Data, "actions_taken")
			assert.Contains(t, res.Data, "elapsed_ms")
		})
	}
}

func TestRunnerRetriesTransientFailures(t *testing.T) {
	p := tooltest.New().Queue("goto",
		tooltest.Err(errors.New("connection reset")),
		tooltest.Fail("busy"),
		tooltest.OK("page_campaign"),
	)
	r := NewRunner(p, nil, WithRetries(2))

	res := r.Run(context.Background(), linearTask(Step{Name: "goto", Tool: "goto", Expect: "page_campaign"}))
	assert.True(t, res.Success)
	assert.Equal(t, 3, p.Count("goto"))

	p = tooltest.New().Queue("goto", tooltest.Err(errors.New("connection reset")))
	r = NewRunner(p, nil, WithRetries(1))
	res = r.Run(context.Background(), linearTask(Step{Name: "goto", Tool: "goto", Expect: "page_campaign"}))
	assert.False(t, res.Success)
	assert.Equal(t, models.KindTransient, res.ErrorKind)
	assert.Equal(t, 2, p.Count("goto"))
}

func TestRunnerPollsUntilExpected(t *testing.T) {
	p := tooltest.New().Queue("wait_result",
		tooltest.OK("battle_running"),
		tooltest.OK("battle_running"),
		tooltest.OK("result_screen"),
	)
	r := NewRunner(p, nil)

	res := r.Run(context.Background(), linearTask(Step{
		Name:         "wait result",
		Tool:         "wait_result",
		Expect:       "result_screen",
		MaxWait:      2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, p.Count("wait_result"))
	assert.Equal(t, 2.0, p.Calls()[0].Args["max_wait_s"])
}

func TestRunnerPollTimeout(t *testing.T) {
	p := tooltest.New().Queue("wait_result", tooltest.OK("battle_running"))
	r := NewRunner(p, nil)

	start := time.Now()
	res := r.Run(context.Background(), linearTask(Step{
		Name:         "wait result",
		Tool:         "wait_result",
		Expect:       "result_screen",
		MaxWait:      40 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}))

	assert.Less(t, time.Since(start), time.Second, "wait is abandoned at its bound")
	assert.False(t, res.Success)
	assert.Equal(t, models.KindTimeout, res.ErrorKind)
	assert.Equal(t, models.State("battle_running"), res.ObservedState)
	assert.Contains(t, res.Error, "last observed battle_running")
	assert.Greater(t, p.Count("wait_result"), 1)
}

// recordingChecker records the step index of every evaluation.
type recordingChecker struct {
	steps []int
	fire  map[int]models.Interrupt
}

func (c *recordingChecker) Check(_ models.Checkpoint, _ models.State, scope interrupt.Scope) (models.Interrupt, bool) {
	c.steps = append(c.steps, scope.Step)
	in, ok := c.fire[scope.Step]
	if ok {
		delete(c.fire, scope.Step)
	}
	return in, ok
}

func sixStepTask() Task {
	steps := make([]Step, 6)
	for i := range steps {
		steps[i] = Step{Name: string(rune('a' + i)), Tool: "step", Expect: models.StateMain}
	}
	steps[1].Checkpoint = models.CheckpointBeforeConstrained
	steps[3].Checkpoint = models.CheckpointAfterReward
	steps[5].Checkpoint = models.CheckpointAfterResult
	return linearTask(steps...)
}

func TestCheckpointsOnlyAtDeclaredSteps(t *testing.T) {
	checker := &recordingChecker{}
	p := tooltest.New().Queue("step", tooltest.OK(models.StateMain))
	r := NewRunner(p, checker)

	res := r.Run(context.Background(), sixStepTask())
	require.True(t, res.Success)
	assert.Equal(t, []int{1, 3, 5}, checker.steps)

	ctrl := interrupt.NewController()
	require.NoError(t, ctrl.Register(interrupt.Trigger{
		Name:  "dock_full",
		Class: interrupt.ClassCapacityBlocking,
		When:  interrupt.ObservedIs(models.StateDockFull),
		Task:  "retirement",
	}))
	r = NewRunner(p, ctrl)
	r.Run(context.Background(), sixStepTask())
	assert.Equal(t, 3, ctrl.Evaluations())
}

// fakeInterruptHandler records the runner state seen while handling.
type fakeInterruptHandler struct {
	runner  *Runner
	live    []int
	handled []models.Interrupt
	result  models.ToolResult
}

func (h *fakeInterruptHandler) HandleInterrupt(_ context.Context, in models.Interrupt) models.ToolResult {
	h.handled = append(h.handled, in)
	h.live = append(h.live, h.runner.LiveCursors())
	return h.result
}

func TestInterruptSuspendsAndResumesAtCursor(t *testing.T) {
	p := tooltest.New().Queue("step", tooltest.OK(models.StateMain))
	checker := &recordingChecker{fire: map[int]models.Interrupt{
		3: {Trigger: "dock_full", Task: "retirement", Step: 3},
	}}
	r := NewRunner(p, checker)
	h := &fakeInterruptHandler{runner: r, result: models.Succeeded(models.StateRetireDone, models.StateRetireDone, nil)}
	r.SetInterruptHandler(h)

	res := r.Run(context.Background(), sixStepTask())
	require.True(t, res.Success, res.Error)

	require.Len(t, h.handled, 1)
	assert.Equal(t, []int{0}, h.live, "suspended cursor is not live")
	assert.Equal(t, 6, p.Count("step"), "every step ran exactly once")
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, res.Diagnostics.Actions)
	assert.Equal(t, []models.ResumePoint{{Step: 3, Interrupt: "dock_full"}}, res.Diagnostics.Resumes)
	assert.Equal(t, 1, r.MaxLiveCursors())
}

func TestInterruptUnresolvedStopsTask(t *testing.T) {
	p := tooltest.New().Queue("step", tooltest.OK(models.StateMain))
	checker := &recordingChecker{fire: map[int]models.Interrupt{
		1: {Trigger: "dock_full", Task: "retirement", Step: 1},
	}}
	r := NewRunner(p, checker)
	r.SetInterruptHandler(&fakeInterruptHandler{
		runner: r,
		result: models.Failed(models.Errorf(models.KindEscalationExhausted, "ladder exhausted"), models.StateDockFull, models.StateUnknown, nil),
	})

	res := r.Run(context.Background(), sixStepTask())
	assert.False(t, res.Success)
	assert.Equal(t, models.KindInterruptUnresolved, res.ErrorKind)
	assert.Equal(t, 1, p.Count("step"), "cursor stays at step 1")
	assert.Contains(t, res.Error, "ladder exhausted")
}

func TestProbeFeedsCheckpoint(t *testing.T) {
	p := tooltest.New().
		Queue("step", tooltest.OK(models.StateMain)).
		Queue("get_current_state", tooltest.OK(models.StateDockFull))
	var seen []models.State
	checker := checkerFunc(func(_ models.Checkpoint, observed models.State, _ interrupt.Scope) (models.Interrupt, bool) {
		seen = append(seen, observed)
		return models.Interrupt{}, false
	})
	r := NewRunner(p, checker, WithProbe("get_current_state"))

	res := r.Run(context.Background(), sixStepTask())
	require.True(t, res.Success)
	assert.Equal(t, []models.State{models.StateDockFull, models.StateDockFull, models.StateDockFull}, seen)
	assert.Equal(t, 3, p.Count("get_current_state"))
}

type checkerFunc func(models.Checkpoint, models.State, interrupt.Scope) (models.Interrupt, bool)

func (f checkerFunc) Check(cp models.Checkpoint, s models.State, scope interrupt.Scope) (models.Interrupt, bool) {
	return f(cp, s, scope)
}

func TestRunnerRejectsInvalidTask(t *testing.T) {
	r := NewRunner(tooltest.New(), nil)
	res := r.Run(context.Background(), Task{ID: "empty"})
	assert.False(t, res.Success)
	assert.Equal(t, models.KindConfigurationInvalid, res.ErrorKind)
}

func TestTimeoutErrorUnwrapsToDeadline(t *testing.T) {
	err := NewTaskError("combat", "wait", 3, NewTimeoutError("combat", "wait", time.Second))
	assert.True(t, IsTaskError(err))
	assert.True(t, IsTimeoutError(err))
	assert.Equal(t, models.KindTimeout, models.KindOf(err))
	assert.False(t, IsTimeoutError(nil))
}

func TestRunnerAbandonsHungCallAtMaxWait(t *testing.T) {
	p := tooltest.New().On("wait_result", func(ctx context.Context, _ map[string]any) tooltest.Reply {
		select {
		case <-ctx.Done():
			return tooltest.Err(ctx.Err())
		case <-time.After(2 * time.Second):
			return tooltest.OK("result_screen")
		}
	})
	r := NewRunner(p, nil)

	start := time.Now()
	res := r.Run(context.Background(), linearTask(Step{
		Name:    "wait result",
		Tool:    "wait_result",
		Expect:  "result_screen",
		MaxWait: 100 * time.Millisecond,
	}))

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, models.KindTimeout, res.ErrorKind)
	assert.Contains(t, res.Error, "timed out after 100ms")
	assert.Equal(t, 1, p.Count("wait_result"))
}

func TestRunnerMaxWaitCoversFirstCallAndPolls(t *testing.T) {
	maxWait := 200 * time.Millisecond
	p := tooltest.New().On("wait_result", func(ctx context.Context, args map[string]any) tooltest.Reply {
		// The server waits out its own max_wait_s before reporting
		wait := time.Duration(args["max_wait_s"].(float64) * float64(time.Second))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		return tooltest.OK("in_battle")
	})
	r := NewRunner(p, nil)

	start := time.Now()
	res := r.Run(context.Background(), linearTask(Step{
		Name:         "wait result",
		Tool:         "wait_result",
		Expect:       "result_screen",
		MaxWait:      maxWait,
		PollInterval: 10 * time.Millisecond,
	}))

	assert.Less(t, time.Since(start), maxWait*3/2, "one window for the whole step")
	assert.False(t, res.Success)
	assert.Equal(t, models.KindTimeout, res.ErrorKind)
	assert.Equal(t, models.State("in_battle"), res.ObservedState)
}

func TestFailedRunsCarryExpectedState(t *testing.T) {
	unresolved := models.Failed(models.Errorf(models.KindEscalationExhausted, "ladder exhausted"), models.StateDockFull, models.StateRetireDone, nil)
	checkpointed := func() Task {
		return linearTask(
			Step{Name: "goto", Tool: "goto", Expect: models.StateMain},
			Step{Name: "enter", Tool: "enter", Expect: "in_battle", Checkpoint: models.CheckpointBeforeConstrained},
		)
	}
	fireAt1 := func() *recordingChecker {
		return &recordingChecker{fire: map[int]models.Interrupt{1: {Trigger: "dock_full", Task: "retirement", Step: 1}}}
	}

	tests := []struct {
		name   string
		run    func() models.ToolResult
		expect models.State
	}{
		{
			name: "invalid task",
			run: func() models.ToolResult {
				return NewRunner(tooltest.New(), nil).Run(context.Background(), Task{ID: "empty"})
			},
			expect: models.StateMain,
		},
		{
			name: "step failure",
			run: func() models.ToolResult {
				p := tooltest.New().Queue("goto", tooltest.Fail("no device"))
				return NewRunner(p, nil).Run(context.Background(), checkpointed())
			},
			expect: models.StateMain,
		},
		{
			name: "interrupt without handler",
			run: func() models.ToolResult {
				p := tooltest.New().Queue("goto", tooltest.OK(models.StateMain))
				return NewRunner(p, fireAt1()).Run(context.Background(), checkpointed())
			},
			expect: "in_battle",
		},
		{
			name: "interrupt unresolved",
			run: func() models.ToolResult {
				p := tooltest.New().Queue("goto", tooltest.OK(models.StateMain))
				r := NewRunner(p, fireAt1())
				r.SetInterruptHandler(&fakeInterruptHandler{runner: r, result: unresolved})
				return r.Run(context.Background(), checkpointed())
			},
			expect: "in_battle",
		},
		{
			name: "timeout",
			run: func() models.ToolResult {
				p := tooltest.New().Queue("wait", tooltest.OK("in_battle"))
				return NewRunner(p, nil).Run(context.Background(), linearTask(Step{
					Name: "wait", Tool: "wait", Expect: "result_screen", MaxWait: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond,
				}))
			},
			expect: "result_screen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.run()
			assert.False(t, res.Success)
			assert.True(t, res.ExpectedState.IsKnown(), "expected_state is always present")
			assert.Equal(t, tt.expect, res.ExpectedState)
		})
	}
}
