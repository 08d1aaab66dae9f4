// Package agent wires the scheduler, task runner, interrupt controller,
// decision engines and escalation gate into one runnable agent.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/harbor/internal/config"
	"github.com/harrison/harbor/internal/escalation"
	"github.com/harrison/harbor/internal/executor"
	"github.com/harrison/harbor/internal/history"
	"github.com/harrison/harbor/internal/interrupt"
	"github.com/harrison/harbor/internal/metrics"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/report"
	"github.com/harrison/harbor/internal/retire"
	"github.com/harrison/harbor/internal/scheduler"
	"github.com/harrison/harbor/internal/state"
	"github.com/harrison/harbor/internal/tasks"
	"github.com/harrison/harbor/internal/tool"
)

// Logger is everything the agent logs to.
type Logger interface {
	executor.Logger
	LogTakeover(ev models.TakeoverEvent)
}

// Deps are the collaborators an agent is built from. Only Provider and
// Logger are required.
type Deps struct {
	Provider tool.Provider
	Logger   Logger
	State    *state.Manager
	History  *history.Store
	Metrics  *metrics.Metrics
	Reports  *report.Writer
	Clock    func() time.Time
}

// Agent is one configured automation agent.
type Agent struct {
	cfg      *config.Config
	provider tool.Provider
	logger   Logger
	state    *state.Manager
	metrics  *metrics.Metrics

	sched   *scheduler.Scheduler
	ctrl    *interrupt.Controller
	runner  *executor.Runner
	orch    *executor.Orchestrator
	gate    *escalation.Gate
	engine  *retire.Engine
	toggles *toggler

	mu         sync.Mutex
	retirement models.RetirementState
}

// New validates cfg, builds every component and restores persisted state.
func New(cfg *config.Config, deps Deps) (*Agent, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("tool provider is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:        cfg,
		provider:   deps.Provider,
		logger:     deps.Logger,
		state:      deps.State,
		metrics:    deps.Metrics,
		sched:      scheduler.New(deps.Clock),
		ctrl:       interrupt.NewController(),
		retirement: models.NewRetirementState(cfg.RetireMode(), cfg.Retirement.EnhanceIndex),
	}
	a.toggles = &toggler{agent: a}

	for _, spec := range cfg.TaskSpecs() {
		if err := a.sched.Register(spec); err != nil {
			return nil, fmt.Errorf("register %s: %w", spec.ID, err)
		}
		if a.metrics != nil {
			a.metrics.SetEnabled(spec.Domain, spec.Enabled)
		}
	}
	if err := tasks.RegisterTriggers(a.ctrl); err != nil {
		return nil, fmt.Errorf("register triggers: %w", err)
	}

	a.gate = escalation.NewGate(a.toggles, a.logger)
	a.gate.AddSink(escalation.SinkFunc(func(_ context.Context, ev models.TakeoverEvent) error {
		a.logger.LogTakeover(ev)
		return nil
	}))
	if a.state != nil {
		a.gate.AddSink(escalation.SinkFunc(a.persistTakeover))
	}

	a.runner = executor.NewRunner(a.provider, a.ctrl,
		executor.WithRetries(cfg.TransientRetries),
		executor.WithProbe(tasks.ToolCurrentState),
		executor.WithRunnerLogger(a.logger),
	)
	a.orch = executor.NewOrchestrator(a.sched, a.ctrl, a.logger)
	a.orch.SetIdlePoll(cfg.IdlePoll)
	a.runner.SetInterruptHandler(a.orch)

	engineOpts := []retire.Option{retire.WithLogger(a.logger)}
	if a.metrics != nil {
		engineOpts = append(engineOpts, retire.WithRecorder(a.metrics))
	}
	a.engine = retire.NewEngine(a.retireConfig(), retire.NewToolDock(a.provider), a.gate, a.toggles, engineOpts...)

	a.registerHandlers()

	if a.state != nil {
		a.orch.AddHook(&persistHook{agent: a})
		a.orch.Between(a.ProcessResumes)
	}
	if deps.History != nil {
		rec := history.NewRecorder(deps.History)
		a.orch.AddHook(rec)
		a.gate.AddSink(rec)
	}
	if a.metrics != nil {
		a.orch.AddHook(a.metrics)
		a.gate.AddSink(a.metrics)
	}
	if deps.Reports != nil {
		a.gate.AddSink(deps.Reports)
	}

	if err := a.restore(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Agent) retireConfig() retire.Config {
	r := a.cfg.Retirement
	return retire.Config{
		ShipToEnhance: a.cfg.ShipFilter(),
		MaxFeedLevel:  r.MaxFeedLevel,
		MinFreeSlots:  r.MinFreeSlotsRequired,
		MinBalance:    r.ResourceMinBalance,
		MaxIndex:      config.MaxEnhanceIndex,
		MaxBatches:    r.MaxBatches,
	}
}

func (a *Agent) catalogOptions() tasks.Options {
	opts := tasks.DefaultOptions()
	if a.cfg.BattleWait > 0 {
		opts.BattleWait = a.cfg.BattleWait
	}
	return opts
}

// restore seeds the scheduler, gate and retirement state from the snapshot.
func (a *Agent) restore() error {
	if a.state == nil {
		return nil
	}
	snap, err := a.state.Load()
	if err != nil {
		return err
	}

	if snap.Retirement != nil {
		st := *snap.Retirement
		// Mode always follows the config; the rest is engine-owned
		st.Mode = a.cfg.RetireMode()
		if st.EnhanceIndex < 1 || st.EnhanceIndex > config.MaxEnhanceIndex {
			st.EnhanceIndex = a.cfg.Retirement.EnhanceIndex
		}
		a.retirement = st
	}
	for id, t := range snap.Timings {
		if err := a.sched.Restore(id, t.LastRun, t.LastSuccess); err != nil {
			a.logger.Warnf("Restore timing for %s: %v", id, err)
		}
	}
	for id, reason := range snap.Disabled {
		if err := a.sched.Disable(id, reason); err != nil {
			a.logger.Warnf("Restore disabled %s: %v", id, err)
			continue
		}
		if spec, ok := a.sched.Spec(id); ok && a.metrics != nil {
			a.metrics.SetEnabled(spec.Domain, false)
		}
	}
	for _, ev := range snap.Takeovers {
		a.gate.Restore(ev)
		a.logger.Warnf("Outstanding takeover for `%s` since %s: %s", ev.Domain, ev.Timestamp.Format(time.RFC3339), ev.Reason)
	}
	return nil
}

// WakeOn cuts idle waits short whenever ch fires.
func (a *Agent) WakeOn(ch <-chan struct{}) {
	a.orch.SetWake(ch)
}

// Run drives the scheduling loop until ctx ends or, with once set, after a
// single cycle.
func (a *Agent) Run(ctx context.Context, once bool) (models.RunSummary, error) {
	return a.orch.Run(ctx, once)
}

// ProcessResumes applies queued resume requests. It runs between task
// cycles.
func (a *Agent) ProcessResumes(ctx context.Context) {
	if a.state == nil {
		return
	}
	domains, err := a.state.TakeResumes()
	if err != nil {
		a.logger.Warnf("Read resume requests: %v", err)
		return
	}
	for _, d := range domains {
		a.Resume(d)
	}
}

// Resume re-enables a domain's task, clears its takeover and resets any
// engine state the takeover left sticky. It reports whether a takeover was
// outstanding.
func (a *Agent) Resume(d models.Domain) bool {
	id := models.TaskID(d)
	if _, ok := a.sched.Spec(id); !ok {
		a.logger.Warnf("Resume: unknown domain `%s`", d)
		return false
	}

	cleared := a.gate.Clear(d)
	if !a.sched.IsEnabled(id) {
		if err := a.toggles.Enable(id); err != nil {
			a.logger.Warnf("Resume: enable %s failed: %v", id, err)
		}
	}

	a.mu.Lock()
	switch d {
	case models.DomainRetirement:
		a.retirement.Stage = models.StageInitial
	case models.DomainEnhance:
		a.retirement.EnhanceIndex = a.cfg.Retirement.EnhanceIndex
		a.retirement.UnableToEnhance = false
	}
	st := a.retirement
	a.mu.Unlock()

	if a.state != nil {
		err := a.state.Update(func(s *state.Snapshot) {
			delete(s.Takeovers, d)
			s.Retirement = &st
		})
		if err != nil {
			a.logger.Warnf("Resume: persist %s failed: %v", d, err)
		}
	}
	a.logger.Infof("Resumed `%s` (takeover cleared: %t)", d, cleared)
	return cleared
}

// Retirement returns the current retirement state.
func (a *Agent) Retirement() models.RetirementState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retirement
}

func (a *Agent) setRetirement(st models.RetirementState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retirement = st
}

// Scheduler exposes the task table.
func (a *Agent) Scheduler() *scheduler.Scheduler {
	return a.sched
}

// Gate exposes the escalation gate.
func (a *Agent) Gate() *escalation.Gate {
	return a.gate
}

// Runner exposes the task runner.
func (a *Agent) Runner() *executor.Runner {
	return a.runner
}

// Controller exposes the interrupt controller.
func (a *Agent) Controller() *interrupt.Controller {
	return a.ctrl
}

func (a *Agent) persistTakeover(_ context.Context, ev models.TakeoverEvent) error {
	return a.state.Update(func(s *state.Snapshot) {
		s.Takeovers[ev.Domain] = ev
	})
}
