// Package tasks declares the step sequences of the step-driven domains and
// the interrupt triggers wired into their checkpoints.
package tasks

import (
	"time"

	"github.com/harrison/harbor/internal/executor"
	"github.com/harrison/harbor/internal/interrupt"
	"github.com/harrison/harbor/internal/models"
)

// Pages and postconditions used by the catalog
const (
	PageCampaign   models.State = "page_campaign"
	PageCommission models.State = "page_commission"
	PageReward     models.State = "page_reward"

	StateStageSelected models.State = "stage_selected"
	StateBattleRunning models.State = "battle_running"
	StateResultScreen  models.State = "result_screen"
	StateDispatched    models.State = "commission_dispatched"
	StateCollected     models.State = "reward_collected"
)

// ToolGoto navigates to a page. ToolCurrentState probes the current page.
const (
	ToolGoto         = "alas_goto"
	ToolCurrentState = "alas_get_current_state"
)

// Options tunes the waits in the catalog.
type Options struct {
	BattleWait   time.Duration // Bound for the result-screen wait
	PollInterval time.Duration
	TaskTimeout  time.Duration // Whole-task bound
}

// DefaultOptions returns the catalog defaults.
func DefaultOptions() Options {
	return Options{
		BattleWait:   5 * time.Minute,
		PollInterval: 2 * time.Second,
		TaskTimeout:  15 * time.Minute,
	}
}

func gotoStep(name string, page models.State) executor.Step {
	return executor.Step{
		Name:   name,
		Tool:   ToolGoto,
		Args:   map[string]any{"page": string(page)},
		Expect: page,
	}
}

// StepDomains lists the domains driven by step sequences. The remaining
// domains are driven by the decision engines.
func StepDomains() []models.Domain {
	return []models.Domain{models.DomainCombat, models.DomainCommission, models.DomainReward}
}

// Sequence returns the step task for a step-driven domain.
func Sequence(d models.Domain, opts Options) (executor.Task, bool) {
	task := executor.Task{ID: models.TaskID(d), Domain: d, Timeout: opts.TaskTimeout}
	switch d {
	case models.DomainCombat:
		task.Steps = []executor.Step{
			gotoStep("goto campaign", PageCampaign),
			{Name: "select stage", Tool: "campaign_select_stage", Expect: StateStageSelected},
			{
				Name:       "enter battle",
				Tool:       "battle_enter",
				Expect:     StateBattleRunning,
				Checkpoint: models.CheckpointBeforeConstrained,
			},
			{
				Name:         "wait result",
				Tool:         "battle_wait_result",
				Expect:       StateResultScreen,
				MaxWait:      opts.BattleWait,
				PollInterval: opts.PollInterval,
			},
			{
				Name:       "confirm result",
				Tool:       "battle_confirm_result",
				Expect:     PageCampaign,
				Checkpoint: models.CheckpointAfterResult,
			},
		}
	case models.DomainCommission:
		task.Steps = []executor.Step{
			gotoStep("goto commission", PageCommission),
			{
				Name:       "dispatch",
				Tool:       "commission_dispatch",
				Expect:     StateDispatched,
				Checkpoint: models.CheckpointBeforeConstrained,
			},
			{
				Name:       "collect",
				Tool:       "commission_collect",
				Expect:     PageCommission,
				Checkpoint: models.CheckpointAfterReward,
			},
		}
	case models.DomainReward:
		task.Steps = []executor.Step{
			gotoStep("goto reward", PageReward),
			{Name: "collect all", Tool: "reward_collect_all", Expect: StateCollected},
			gotoStep("back to main", models.StateMain),
		}
	default:
		return executor.Task{}, false
	}
	return task, true
}

// Triggers returns the interrupt registry in declared priority order.
func Triggers() []interrupt.Trigger {
	return []interrupt.Trigger{
		{
			Name:  "dock_full",
			Class: interrupt.ClassCapacityBlocking,
			When:  interrupt.ObservedIs(models.StateDockFull),
			Task:  models.TaskID(models.DomainRetirement),
		},
		{
			Name:        "dock_low_buffer",
			Class:       interrupt.ClassSoftBuffer,
			Checkpoints: []models.Checkpoint{models.CheckpointBeforeConstrained},
			When:        interrupt.ObservedIs(models.StateDockLowBuffer),
			Task:        models.TaskID(models.DomainRetirement),
		},
		{
			Name:        "meowfficer_box_full",
			Class:       interrupt.ClassSoftBuffer,
			Checkpoints: []models.Checkpoint{models.CheckpointAfterReward, models.CheckpointAfterResult},
			When:        interrupt.ObservedIs(models.StateMeowfficerBoxFull),
			Task:        models.TaskID(models.DomainMeowfficer),
		},
		{
			Name:        "reward_pending",
			Class:       interrupt.ClassPostTaskReward,
			Checkpoints: []models.Checkpoint{models.CheckpointAfterReward, models.CheckpointAfterResult},
			When:        interrupt.ObservedIs(models.StateRewardPending),
			Task:        models.TaskID(models.DomainReward),
		},
	}
}

// RegisterTriggers adds every trigger to ctrl.
func RegisterTriggers(ctrl *interrupt.Controller) error {
	for _, t := range Triggers() {
		if err := ctrl.Register(t); err != nil {
			return err
		}
	}
	return nil
}
