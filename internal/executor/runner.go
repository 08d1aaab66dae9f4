package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/harbor/internal/interrupt"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/tool"
)

// DefaultPollInterval is used when a waiting step sets no interval.
const DefaultPollInterval = time.Second

// Step is one tool invocation in a task's sequence.
type Step struct {
	Name         string
	Tool         string
	Args         map[string]any
	Expect       models.State      // Required postcondition
	Checkpoint   models.Checkpoint // Evaluated before the step when set
	MaxWait      time.Duration     // Poll for Expect up to this bound; 0 means no waiting
	PollInterval time.Duration
}

// Task is an ordered step sequence.
type Task struct {
	ID      models.TaskID
	Domain  models.Domain
	Steps   []Step
	Timeout time.Duration // Whole-task bound; 0 means none
}

// Validate checks the task has steps and every step names a tool.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("task %s: no steps", t.ID)
	}
	for i, s := range t.Steps {
		if s.Tool == "" {
			return fmt.Errorf("task %s: step %d has no tool", t.ID, i)
		}
		if s.MaxWait < 0 || s.PollInterval < 0 {
			return fmt.Errorf("task %s: step %d has a negative wait", t.ID, i)
		}
	}
	return nil
}

// ExpectAt returns the postcondition of step i. Out of range or unset, it
// falls back to the nearest later step and finally to page_main.
func (t Task) ExpectAt(i int) models.State {
	if i < 0 {
		i = 0
	}
	for ; i < len(t.Steps); i++ {
		if t.Steps[i].Expect.IsKnown() {
			return t.Steps[i].Expect
		}
	}
	return models.StateMain
}

// Checker evaluates interrupt triggers at a checkpoint.
type Checker interface {
	Check(cp models.Checkpoint, observed models.State, scope interrupt.Scope) (models.Interrupt, bool)
}

// InterruptHandler runs an interrupt task to completion.
type InterruptHandler interface {
	HandleInterrupt(ctx context.Context, in models.Interrupt) models.ToolResult
}

// cursor tracks where a task is in its step sequence.
type cursor struct {
	task      models.TaskID
	step      int
	suspended bool
}

// Runner executes task step sequences against a Tool Provider.
// Only one cursor is live at a time; a cursor suspended for an interrupt is
// not live until the interrupt task returns.
type Runner struct {
	provider  tool.Provider
	checker   Checker
	handler   InterruptHandler
	logger    Logger
	retries   int
	probeTool string

	mu      sync.Mutex
	cursors []*cursor
	maxLive int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRetries sets how many times a transient tool failure is retried.
func WithRetries(n int) RunnerOption { return func(r *Runner) { r.retries = n } }

// WithProbe reads the current state through the named tool at each checkpoint.
// Without a probe the last observed state is used.
func WithProbe(name string) RunnerOption { return func(r *Runner) { r.probeTool = name } }

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

// NewRunner creates a Runner. checker may be nil when no triggers apply.
func NewRunner(provider tool.Provider, checker Checker, opts ...RunnerOption) *Runner {
	if provider == nil {
		panic("tool provider cannot be nil")
	}
	r := &Runner{provider: provider, checker: checker}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetInterruptHandler installs the component that runs interrupt tasks.
func (r *Runner) SetInterruptHandler(h InterruptHandler) {
	r.handler = h
}

// LiveCursors returns how many cursors are currently live.
func (r *Runner) LiveCursors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked()
}

// MaxLiveCursors returns the highest number of live cursors ever observed.
func (r *Runner) MaxLiveCursors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxLive
}

// Cursor returns the step index the top-most cursor of task is at.
func (r *Runner) Cursor(task models.TaskID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.cursors) - 1; i >= 0; i-- {
		if r.cursors[i].task == task {
			return r.cursors[i].step, true
		}
	}
	return 0, false
}

func (r *Runner) liveLocked() int {
	n := 0
	for _, c := range r.cursors {
		if !c.suspended {
			n++
		}
	}
	return n
}

func (r *Runner) push(task models.TaskID) (*cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveLocked() > 0 {
		return nil, fmt.Errorf("task %s: another cursor is live", task)
	}
	c := &cursor{task: task}
	r.cursors = append(r.cursors, c)
	if n := r.liveLocked(); n > r.maxLive {
		r.maxLive = n
	}
	return c, nil
}

func (r *Runner) pop(c *cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.cursors) - 1; i >= 0; i-- {
		if r.cursors[i] == c {
			r.cursors = append(r.cursors[:i], r.cursors[i+1:]...)
			return
		}
	}
}

func (r *Runner) setSuspended(c *cursor, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.suspended = v
	if n := r.liveLocked(); n > r.maxLive {
		r.maxLive = n
	}
}

func (r *Runner) setStep(c *cursor, i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.step = i
}

// Run executes task. It never advances past a step whose postcondition was
// not verified; the result of a failed run carries the diagnostic context.
func (r *Runner) Run(ctx context.Context, task Task) models.ToolResult {
	start := time.Now()
	diag := &models.Diagnostics{Domain: task.Domain, Task: task.ID}

	if err := task.Validate(); err != nil {
		return models.Failed(models.NewError(models.KindConfigurationInvalid, "invalid task", err), models.StateUnknown, task.ExpectAt(0), diag)
	}

	cur, err := r.push(task.ID)
	if err != nil {
		return models.Failed(models.NewError(models.KindInterruptUnresolved, "cursor busy", err), models.StateUnknown, task.ExpectAt(0), diag)
	}
	defer r.pop(cur)

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	var last models.ToolResult
	for i := 0; i < len(task.Steps); i++ {
		step := task.Steps[i]
		r.setStep(cur, i)

		if step.Checkpoint != "" {
			if res, ok := r.checkpoint(ctx, cur, task, i, step.Checkpoint, last, diag); !ok {
				return r.finish(res, start, diag)
			}
		}

		res, err := r.execStep(ctx, task, step, diag)
		if err != nil {
			terr := NewTaskError(task.ID, step.Name, i, err)
			out := models.Failed(terr, diag.LastObserved, task.ExpectAt(i), nil)
			out.Data = map[string]any{"step": step.Name, "index": i}
			return r.finish(out, start, diag)
		}
		last = res
	}

	final := task.Steps[len(task.Steps)-1]
	out := models.Succeeded(last.ObservedState, final.Expect, map[string]any{
		"steps": len(task.Steps),
	})
	return r.finish(out, start, diag)
}

// checkpoint evaluates triggers before step i. It returns ok=false with a
// failure result when a raised interrupt could not be resolved.
func (r *Runner) checkpoint(ctx context.Context, cur *cursor, task Task, i int, cp models.Checkpoint, last models.ToolResult, diag *models.Diagnostics) (models.ToolResult, bool) {
	if r.checker == nil {
		return models.ToolResult{}, true
	}

	observed := r.probe(ctx, last.ObservedState, diag)
	in, fired := r.checker.Check(cp, observed, interrupt.Scope{
		Task:   task.ID,
		Domain: task.Domain,
		Step:   i,
		Data:   last.Data,
	})
	if !fired {
		return models.ToolResult{}, true
	}

	diag.Marker(fmt.Sprintf("interrupt %s at %s", in.Trigger, cp))
	if r.logger != nil {
		r.logger.LogInterrupt(in)
	}
	if r.handler == nil {
		err := models.Errorf(models.KindInterruptUnresolved, "no handler for interrupt %s", in.Trigger)
		return models.Failed(err, observed, task.ExpectAt(i), nil), false
	}

	r.setSuspended(cur, true)
	res := r.handler.HandleInterrupt(ctx, in)
	r.setSuspended(cur, false)

	if !res.Success {
		err := models.NewError(models.KindInterruptUnresolved, fmt.Sprintf("interrupt %s -> %s failed", in.Trigger, in.Task), errors.New(res.Error))
		return models.Failed(err, observed, task.ExpectAt(i), nil), false
	}

	diag.Resumes = append(diag.Resumes, models.ResumePoint{Step: i, Interrupt: in.Trigger})
	if r.logger != nil {
		r.logger.LogResume(task.ID, i)
	}
	return models.ToolResult{}, true
}

// probe reads the current state for checkpoint evaluation. A failed probe
// falls back to the last observed state.
func (r *Runner) probe(ctx context.Context, last models.State, diag *models.Diagnostics) models.State {
	if r.probeTool == "" {
		return last
	}
	res, err := r.provider.Invoke(ctx, r.probeTool, nil)
	diag.Action(r.probeTool)
	if err != nil || !res.Success || !res.ObservedState.IsKnown() {
		return last
	}
	diag.LastObserved = res.ObservedState
	return res.ObservedState
}

// execStep invokes one step, retrying transient failures and polling when
// the step allows waiting for its postcondition. A step with MaxWait gets a
// single deadline covering the first call and every poll.
func (r *Runner) execStep(ctx context.Context, task Task, step Step, diag *models.Diagnostics) (models.ToolResult, error) {
	args := step.Args
	wctx := ctx
	if step.MaxWait > 0 {
		args = tool.CopyArgs(step.Args, map[string]any{"max_wait_s": step.MaxWait.Seconds()})
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, step.MaxWait)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		res, err := r.invoke(wctx, step, args, diag)
		if err == nil {
			return res, nil
		}
		if r.waitExpired(ctx, wctx) {
			return res, r.timeout(task, step, diag)
		}

		switch models.KindOf(err) {
		case models.KindTransient:
			if attempt < r.retries && ctx.Err() == nil {
				if r.logger != nil {
					r.logger.Debugf("Retry %s (%d/%d): %v", step.Name, attempt+1, r.retries, err)
				}
				continue
			}
			return res, err
		case models.KindStateMismatch:
			if step.MaxWait > 0 {
				return r.poll(ctx, wctx, task, step, args, diag)
			}
			return res, err
		default:
			return res, err
		}
	}
}

// poll re-invokes step until Expect is observed or the step deadline on
// wctx passes.
func (r *Runner) poll(ctx, wctx context.Context, task Task, step Step, args map[string]any, diag *models.Diagnostics) (models.ToolResult, error) {
	interval := step.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return models.ToolResult{}, ctx.Err()
			}
			return models.ToolResult{}, r.timeout(task, step, diag)
		case <-ticker.C:
		}

		res, err := r.invoke(wctx, step, args, diag)
		if err == nil {
			return res, nil
		}
		if r.waitExpired(ctx, wctx) {
			return res, r.timeout(task, step, diag)
		}
		switch models.KindOf(err) {
		case models.KindStateMismatch, models.KindTransient:
			continue
		default:
			return res, err
		}
	}
}

// waitExpired reports whether the step deadline passed while the caller's
// context is still live.
func (r *Runner) waitExpired(ctx, wctx context.Context) bool {
	return wctx != ctx && wctx.Err() != nil && ctx.Err() == nil
}

func (r *Runner) timeout(task Task, step Step, diag *models.Diagnostics) error {
	te := NewTimeoutError(task.ID, step.Name, step.MaxWait)
	te.LastObserved = diag.LastObserved
	te.Expected = step.Expect
	return te
}

func (r *Runner) invoke(ctx context.Context, step Step, args map[string]any, diag *models.Diagnostics) (models.ToolResult, error) {
	res, err := tool.Expect(ctx, r.provider, step.Tool, args, step.Expect)
	diag.Action(step.Name)
	if res.ObservedState.IsKnown() {
		diag.LastObserved = res.ObservedState
	}
	return res, err
}

// finish attaches diagnostics and elapsed time to a result.
func (r *Runner) finish(res models.ToolResult, start time.Time, diag *models.Diagnostics) models.ToolResult {
	diag.Elapsed = time.Since(start)
	res.Diagnostics = diag
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	res.Data["elapsed_ms"] = diag.Elapsed.Milliseconds()
	if !res.Success {
		res.Data["actions_taken"] = append([]string(nil), diag.Actions...)
		res.Data["markers_seen"] = append([]string(nil), diag.Markers...)
		if !res.ObservedState.IsKnown() {
			res.ObservedState = diag.LastObserved
		}
	}
	return res
}
