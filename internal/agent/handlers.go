package agent

import (
	"context"

	"github.com/harrison/harbor/internal/executor"
	"github.com/harrison/harbor/internal/fodder"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/tasks"
	"github.com/harrison/harbor/internal/tool"
)

func (a *Agent) registerHandlers() {
	opts := a.catalogOptions()
	for _, d := range tasks.StepDomains() {
		task, ok := tasks.Sequence(d, opts)
		if !ok {
			continue
		}
		a.orch.Handle(task.ID, a.stepHandler(task))
		a.orch.Recover(d, executor.RecoveryFunc(a.recoverToMain))
	}
	a.orch.Handle(models.TaskID(models.DomainRetirement), executor.HandlerFunc(a.handleRetirement))
	a.orch.Handle(models.TaskID(models.DomainEnhance), executor.HandlerFunc(a.handleEnhance))
	a.orch.Handle(models.TaskID(models.DomainMeowfficer), executor.HandlerFunc(a.handleMeowfficer))
}

func (a *Agent) stepHandler(task executor.Task) executor.Handler {
	return executor.HandlerFunc(func(ctx context.Context, _ models.TaskSpec) models.ToolResult {
		return a.runner.Run(ctx, task)
	})
}

// handleRetirement runs the full decision engine with its fallback ladder.
func (a *Agent) handleRetirement(ctx context.Context, _ models.TaskSpec) models.ToolResult {
	next, out, err := a.engine.Resolve(ctx, a.Retirement())
	if err != nil {
		return models.Failed(err, models.StateUnknown, models.StateRetireDone, nil)
	}
	a.setRetirement(next)
	if out.Freed > 0 {
		a.logger.Infof("Retirement freed %d slots via %s", out.Freed, out.Branch)
	}
	return out.Result
}

// handleEnhance keeps the buffer topped up between capacity interrupts.
func (a *Agent) handleEnhance(ctx context.Context, _ models.TaskSpec) models.ToolResult {
	next, out, err := a.engine.EnhancePass(ctx, a.Retirement())
	if err != nil {
		return models.Failed(err, models.StateUnknown, models.StateRetireDone, nil)
	}
	a.setRetirement(next)
	return out.Result
}

// handleMeowfficer feeds companion-unit fodder under its own balance guard.
func (a *Agent) handleMeowfficer(ctx context.Context, _ models.TaskSpec) models.ToolResult {
	r := a.cfg.Retirement
	fe := &fodder.Engine{
		Domain:     models.DomainMeowfficer,
		MinBalance: r.MeowfficerMinBalance,
		MaxBatches: r.MaxBatches,
		Logger:     a.logger,
	}
	res, err := fe.Consume(ctx, fodder.MeowfficerSource(a.provider), r.MeowfficerMaxLevel)
	if res.Consumed > 0 && a.metrics != nil {
		a.metrics.FodderConsumed(models.DomainMeowfficer, res.Consumed)
	}
	if err != nil {
		return models.Failed(err, models.StateUnknown, models.StateMain, nil)
	}
	if err := res.Err(); err != nil {
		return models.Failed(err, models.StateUnknown, models.StateMain, nil)
	}
	return models.Succeeded(models.StateMain, models.StateMain, map[string]any{
		"batches":  res.Batches,
		"consumed": res.Consumed,
		"stop":     string(res.Stop),
	})
}

// recoverToMain brings the device back to the main page after a mismatch.
func (a *Agent) recoverToMain(ctx context.Context, spec models.TaskSpec, res models.ToolResult) bool {
	args := map[string]any{"page": string(models.StateMain)}
	if _, err := tool.Expect(ctx, a.provider, tasks.ToolGoto, args, models.StateMain); err != nil {
		a.logger.Warnf("Recovery `%s`: %v", spec.Domain, err)
		return false
	}
	return true
}
