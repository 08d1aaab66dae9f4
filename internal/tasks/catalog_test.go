package tasks

import (
	"testing"

	"github.com/harrison/harbor/internal/interrupt"
	"github.com/harrison/harbor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencesAreValid(t *testing.T) {
	for _, d := range StepDomains() {
		t.Run(string(d), func(t *testing.T) {
			task, ok := Sequence(d, DefaultOptions())
			require.True(t, ok)
			assert.NoError(t, task.Validate())
			assert.Equal(t, models.TaskID(d), task.ID)
			for _, s := range task.Steps {
				assert.True(t, s.Expect.IsKnown(), "step %s has a postcondition", s.Name)
			}
		})
	}

	_, ok := Sequence(models.DomainRetirement, DefaultOptions())
	assert.False(t, ok)
}

func TestCombatCheckpoints(t *testing.T) {
	task, _ := Sequence(models.DomainCombat, DefaultOptions())

	var cps []models.Checkpoint
	for _, s := range task.Steps {
		if s.Checkpoint != "" {
			cps = append(cps, s.Checkpoint)
		}
	}
	assert.Equal(t, []models.Checkpoint{models.CheckpointBeforeConstrained, models.CheckpointAfterResult}, cps)
	assert.Equal(t, DefaultOptions().BattleWait, task.Steps[3].MaxWait)
}

func TestRegisterTriggersOrder(t *testing.T) {
	ctrl := interrupt.NewController()
	require.NoError(t, RegisterTriggers(ctrl))

	in, ok := ctrl.Check(models.CheckpointAfterResult, models.StateDockFull, interrupt.Scope{Task: "combat"})
	require.True(t, ok)
	assert.Equal(t, models.TaskID("retirement"), in.Task)

	in, ok = ctrl.Check(models.CheckpointAfterResult, models.StateRewardPending, interrupt.Scope{Task: "combat"})
	require.True(t, ok)
	assert.Equal(t, models.TaskID("reward"), in.Task)

	_, ok = ctrl.Check(models.CheckpointAfterResult, models.StateRewardPending, interrupt.Scope{Task: "reward"})
	assert.False(t, ok)
}
