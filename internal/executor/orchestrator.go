package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harrison/harbor/internal/models"
)

// Logger defines the logging surface of the runner and orchestrator.
type Logger interface {
	LogTaskStart(spec models.TaskSpec)
	LogTaskResult(spec models.TaskSpec, res models.ToolResult, duration time.Duration)
	LogInterrupt(in models.Interrupt)
	LogResume(task models.TaskID, step int)
	LogSummary(summary models.RunSummary)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Scheduler is the task selection surface the orchestrator drives.
type Scheduler interface {
	NextTask() (models.TaskID, bool)
	NextEligible() (time.Time, bool)
	RecordResult(id models.TaskID, success bool) error
	Spec(id models.TaskID) (models.TaskSpec, bool)
}

// InterruptControl brackets interrupt tasks so triggers are not evaluated
// while one runs.
type InterruptControl interface {
	Begin(in models.Interrupt) error
	End()
}

// Handler executes one task cycle for a TaskSpec.
type Handler interface {
	Handle(ctx context.Context, spec models.TaskSpec) models.ToolResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, spec models.TaskSpec) models.ToolResult

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, spec models.TaskSpec) models.ToolResult {
	return f(ctx, spec)
}

// Recovery is a domain-specific branch for state mismatches. It reports
// whether the device is back in a known state.
type Recovery interface {
	Recover(ctx context.Context, spec models.TaskSpec, res models.ToolResult) bool
}

// RecoveryFunc adapts a function to Recovery.
type RecoveryFunc func(ctx context.Context, spec models.TaskSpec, res models.ToolResult) bool

// Recover calls f.
func (f RecoveryFunc) Recover(ctx context.Context, spec models.TaskSpec, res models.ToolResult) bool {
	return f(ctx, spec, res)
}

// VisionRecovery is the external collaborator asked for help when no domain
// recovery applies.
type VisionRecovery interface {
	RequestRecovery(ctx context.Context, spec models.TaskSpec, res models.ToolResult) error
}

// Hook observes completed cycles: persistence, history, metrics.
type Hook interface {
	AfterTask(ctx context.Context, spec models.TaskSpec, res models.ToolResult, duration time.Duration) error
	AfterInterrupt(ctx context.Context, in models.Interrupt, res models.ToolResult) error
}

// Orchestrator runs the single-cursor scheduling loop.
type Orchestrator struct {
	scheduler  Scheduler
	control    InterruptControl
	logger     Logger
	handlers   map[models.TaskID]Handler
	recoveries map[models.Domain]Recovery
	vision     VisionRecovery
	hooks      []Hook
	between    []func(ctx context.Context)
	idlePoll   time.Duration
	wake       <-chan struct{}

	mu      sync.Mutex
	running bool
	summary models.RunSummary
}

// NewOrchestrator creates a new Orchestrator instance.
// The logger parameter is optional and can be nil.
func NewOrchestrator(scheduler Scheduler, control InterruptControl, logger Logger) *Orchestrator {
	if scheduler == nil {
		panic("scheduler cannot be nil")
	}
	if control == nil {
		panic("interrupt control cannot be nil")
	}
	return &Orchestrator{
		scheduler:  scheduler,
		control:    control,
		logger:     logger,
		handlers:   make(map[models.TaskID]Handler),
		recoveries: make(map[models.Domain]Recovery),
		idlePoll:   30 * time.Second,
		summary:    models.RunSummary{FailedRuns: make(map[models.TaskID]int)},
	}
}

// Handle registers the handler for a task.
func (o *Orchestrator) Handle(id models.TaskID, h Handler) {
	o.handlers[id] = h
}

// Recover registers a domain-specific mismatch recovery.
func (o *Orchestrator) Recover(d models.Domain, r Recovery) {
	o.recoveries[d] = r
}

// SetVisionRecovery installs the fallback recovery collaborator.
func (o *Orchestrator) SetVisionRecovery(v VisionRecovery) {
	o.vision = v
}

// AddHook registers a cycle observer.
func (o *Orchestrator) AddHook(h Hook) {
	o.hooks = append(o.hooks, h)
}

// Between registers work run before every cycle, never mid-task.
func (o *Orchestrator) Between(fn func(ctx context.Context)) {
	o.between = append(o.between, fn)
}

// SetIdlePoll bounds how long the loop sleeps when no task is eligible.
func (o *Orchestrator) SetIdlePoll(d time.Duration) {
	if d > 0 {
		o.idlePoll = d
	}
}

// SetWake installs a channel that cuts an idle wait short.
func (o *Orchestrator) SetWake(ch <-chan struct{}) {
	o.wake = ch
}

// Summary returns a copy of the session summary so far.
func (o *Orchestrator) Summary() models.RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.summary
	s.FailedRuns = make(map[models.TaskID]int, len(o.summary.FailedRuns))
	for k, v := range o.summary.FailedRuns {
		s.FailedRuns[k] = v
	}
	return s
}

// Run executes cycles until ctx is cancelled, a signal arrives, or, with
// once set, a single task has run. It handles SIGINT/SIGTERM and returns the
// session summary.
func (o *Orchestrator) Run(ctx context.Context, once bool) (models.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			GracefulInfo(o.logger, "Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	var runErr error
	for ctx.Err() == nil {
		for _, fn := range o.between {
			fn(ctx)
		}

		ran, err := o.RunCycle(ctx)
		if err != nil {
			runErr = err
			break
		}
		if ran {
			if once {
				break
			}
			continue
		}
		if once {
			GracefulInfo(o.logger, "No task eligible")
			break
		}
		o.idle(ctx)
	}

	o.mu.Lock()
	o.summary.Duration = time.Since(start)
	o.mu.Unlock()

	summary := o.Summary()
	if o.logger != nil {
		o.logger.LogSummary(summary)
	}
	return summary, runErr
}

// idle sleeps until the next task becomes eligible, bounded by idlePoll.
func (o *Orchestrator) idle(ctx context.Context) {
	wait := o.idlePoll
	if next, ok := o.scheduler.NextEligible(); ok {
		if until := time.Until(next); until < wait {
			wait = until
		}
	}
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-o.wake:
	}
}

// RunCycle runs the next eligible task. It reports whether a task ran.
func (o *Orchestrator) RunCycle(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return false, fmt.Errorf("a task cycle is already running")
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	id, ok := o.scheduler.NextTask()
	if !ok {
		return false, nil
	}
	spec, _ := o.scheduler.Spec(id)
	handler, ok := o.handlers[id]
	if !ok {
		return false, models.Errorf(models.KindConfigurationInvalid, "no handler registered for task %s", id)
	}

	if o.logger != nil {
		o.logger.LogTaskStart(spec)
	}
	start := time.Now()
	res := handler.Handle(ctx, spec)
	duration := time.Since(start)

	if !res.Success && ctx.Err() != nil {
		// Shutdown mid-task; the cooldown is not charged
		GracefulWarn(o.logger, "Task `%s` abandoned: %v", id, ctx.Err())
		return true, nil
	}

	o.complete(ctx, spec, res, duration)
	return true, nil
}

// HandleInterrupt runs the interrupt task while trigger evaluation is
// suspended. It implements InterruptHandler.
func (o *Orchestrator) HandleInterrupt(ctx context.Context, in models.Interrupt) models.ToolResult {
	if err := o.control.Begin(in); err != nil {
		return models.Failed(models.NewError(models.KindInterruptUnresolved, "begin interrupt", err), models.StateUnknown, interruptExpect(in), nil)
	}
	defer o.control.End()

	o.mu.Lock()
	o.summary.Interrupts++
	o.mu.Unlock()

	spec, ok := o.scheduler.Spec(in.Task)
	handler, hok := o.handlers[in.Task]
	if !ok || !hok {
		err := models.Errorf(models.KindConfigurationInvalid, "interrupt task %s is not registered", in.Task)
		return models.Failed(err, models.StateUnknown, interruptExpect(in), nil)
	}

	if o.logger != nil {
		o.logger.LogTaskStart(spec)
	}
	start := time.Now()
	res := handler.Handle(ctx, spec)
	o.complete(ctx, spec, res, time.Since(start))

	for _, h := range o.hooks {
		if err := h.AfterInterrupt(ctx, in, res); err != nil {
			GracefulWarn(o.logger, "Hook after interrupt %s: %v", in.Trigger, err)
		}
	}
	return res
}

// interruptExpect is the state an interrupt task must leave behind.
func interruptExpect(in models.Interrupt) models.State {
	if in.Task == models.TaskID(models.DomainRetirement) {
		return models.StateRetireDone
	}
	return models.StateMain
}

// complete applies propagation policy and records the result.
func (o *Orchestrator) complete(ctx context.Context, spec models.TaskSpec, res models.ToolResult, duration time.Duration) {
	if !res.Success {
		o.propagate(ctx, spec, res)
	}

	if err := o.scheduler.RecordResult(spec.ID, res.Success); err != nil {
		GracefulWarn(o.logger, "Record result for %s: %v", spec.ID, err)
	}
	if o.logger != nil {
		o.logger.LogTaskResult(spec, res, duration)
	}

	o.mu.Lock()
	o.summary.Runs++
	if res.Success {
		o.summary.Succeeded++
	} else {
		o.summary.Failed++
		o.summary.FailedRuns[spec.ID]++
		if res.ErrorKind == models.KindEscalationExhausted {
			o.summary.Takeovers++
		}
	}
	o.mu.Unlock()

	for _, h := range o.hooks {
		if err := h.AfterTask(ctx, spec, res, duration); err != nil {
			GracefulWarn(o.logger, "Hook after task %s: %v", spec.ID, err)
		}
	}
}

// propagate routes a failed result by kind.
func (o *Orchestrator) propagate(ctx context.Context, spec models.TaskSpec, res models.ToolResult) {
	switch res.ErrorKind {
	case models.KindStateMismatch:
		if rec, ok := o.recoveries[spec.Domain]; ok {
			if rec.Recover(ctx, spec, res) {
				GracefulInfo(o.logger, "Recovered `%s` after state mismatch", spec.Domain)
				return
			}
		}
		if o.vision != nil {
			if err := o.vision.RequestRecovery(ctx, spec, res); err != nil {
				GracefulWarn(o.logger, "Vision recovery for `%s` failed: %v", spec.Domain, err)
			}
			return
		}
		GracefulWarn(o.logger, "Unresolved state mismatch in `%s`: observed %s, expected %s", spec.Domain, res.ObservedState, res.ExpectedState)
	case models.KindEscalationExhausted, models.KindConfigurationInvalid:
		if o.logger != nil {
			o.logger.Errorf("Task `%s` needs operator attention [%s]: %s", spec.ID, res.ErrorKind, res.Error)
		}
	}
}
