package agent

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/harbor/internal/config"
	"github.com/harrison/harbor/internal/history"
	"github.com/harrison/harbor/internal/logger"
	"github.com/harrison/harbor/internal/metrics"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/report"
	"github.com/harrison/harbor/internal/retire"
	"github.com/harrison/harbor/internal/state"
	"github.com/harrison/harbor/internal/tasks"
	"github.com/harrison/harbor/internal/tool/tooltest"
)

// onlyEnabled returns a default config with just the given domains enabled.
func onlyEnabled(domains ...models.Domain) *config.Config {
	cfg := config.DefaultConfig()
	for _, d := range models.AllDomains() {
		cfg.TasksEnabled[d] = false
	}
	for _, d := range domains {
		cfg.TasksEnabled[d] = true
	}
	return cfg
}

// navigation answers alas_goto with the requested page.
func navigation(p *tooltest.Provider) *tooltest.Provider {
	return p.On(tasks.ToolGoto, func(_ context.Context, args map[string]any) tooltest.Reply {
		page, _ := args["page"].(string)
		return tooltest.OK(models.State(page))
	})
}

func combatProvider() *tooltest.Provider {
	p := navigation(tooltest.New())
	p.Queue("campaign_select_stage", tooltest.OK(tasks.StateStageSelected))
	p.Queue("battle_enter", tooltest.OK(tasks.StateBattleRunning))
	p.Queue("battle_wait_result", tooltest.OK(tasks.StateResultScreen))
	p.Queue("battle_confirm_result", tooltest.OK(tasks.PageCampaign))
	return p
}

func exhaustedDock(p *tooltest.Provider) *tooltest.Provider {
	p.Queue(retire.ToolDockStatus, tooltest.OK(models.StateDockFull))
	p.Queue(retire.ToolRetireOneClick, tooltest.OKData(models.StateRetireDone, map[string]any{"freed": 0}))
	p.Queue(retire.ToolResetFilters, tooltest.OK(models.StateFiltersReset))
	p.Queue(retire.ToolWidenKeep, tooltest.OK(models.StateKeepWidened))
	return p
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func TestNewRequiresProviderAndLogger(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := New(cfg, Deps{Logger: logger.NewNoOpLogger()})
	assert.Error(t, err)

	_, err = New(cfg, Deps{Provider: tooltest.New()})
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retirement.RetireMode = "scrap_everything"

	_, err := New(cfg, Deps{Provider: tooltest.New(), Logger: logger.NewNoOpLogger()})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfigurationInvalid))
}

func TestCombatResumesAfterDockFullInterrupt(t *testing.T) {
	p := combatProvider()
	// dock_full at the pre-battle checkpoint, page_main afterwards
	p.Queue(tasks.ToolCurrentState, tooltest.OK(models.StateDockFull), tooltest.OK(models.StateMain))
	p.Queue(retire.ToolDockStatus, tooltest.OK(models.StateDockFull))
	p.Queue(retire.ToolRetireOneClick, tooltest.OKData(models.StateRetireDone, map[string]any{"freed": 5}))

	var buf bytes.Buffer
	mgr := state.NewManager(t.TempDir())
	a, err := New(onlyEnabled(models.DomainCombat), Deps{
		Provider: p,
		Logger:   logger.NewConsoleLogger(&buf, "debug"),
		State:    mgr,
	})
	require.NoError(t, err)

	summary, err := a.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Runs)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Interrupts)
	assert.Equal(t, 1, a.Runner().MaxLiveCursors())
	assert.Equal(t, 0, a.Runner().LiveCursors())

	// The combat sequence was not restarted: navigation and stage selection ran once
	names := p.Names()
	assert.Equal(t, 1, p.Count("campaign_select_stage"))
	assert.Equal(t, 1, p.Count(tasks.ToolGoto))
	assert.Less(t, indexOf(names, retire.ToolRetireOneClick), indexOf(names, "battle_enter"))
	assert.Equal(t, 1, p.Count("battle_confirm_result"))

	assert.Contains(t, buf.String(), "Interrupt `dock_full` -> task `retirement`")
	assert.Contains(t, buf.String(), "Resume task `combat` at step 2")

	st := a.Retirement()
	assert.Equal(t, models.StageInitial, st.Stage)
	assert.False(t, st.UnableToEnhance)

	snap, err := mgr.Load()
	require.NoError(t, err)
	assert.Contains(t, snap.Timings, models.TaskID(models.DomainCombat))
	assert.Contains(t, snap.Timings, models.TaskID(models.DomainRetirement))
	assert.True(t, snap.Timings[models.TaskID(models.DomainCombat)].LastSuccess)
	require.NotNil(t, snap.Retirement)
	assert.Equal(t, models.StageInitial, snap.Retirement.Stage)
}

func TestFailedInterruptFailsSuspendedTask(t *testing.T) {
	p := exhaustedDock(combatProvider())
	p.Queue(tasks.ToolCurrentState, tooltest.OK(models.StateDockFull))

	a, err := New(onlyEnabled(models.DomainCombat), Deps{Provider: p, Logger: logger.NewNoOpLogger()})
	require.NoError(t, err)

	summary, err := a.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 0, p.Count("battle_enter"))
	assert.Equal(t, 1, summary.Takeovers)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.FailedRuns[models.TaskID(models.DomainCombat)])

	_, active := a.Gate().Active(models.DomainRetirement)
	assert.True(t, active)
	assert.False(t, a.Scheduler().IsEnabled(models.TaskID(models.DomainRetirement)))
}

func TestTakeoverPersistsAndResumes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := afero.NewMemMapFs()

	store, err := history.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	m := metrics.New()
	mgr := state.NewManager(filepath.Join(dir, "state"))
	cfg := onlyEnabled(models.DomainRetirement)

	a, err := New(cfg, Deps{
		Provider: exhaustedDock(tooltest.New()),
		Logger:   logger.NewNoOpLogger(),
		State:    mgr,
		History:  store,
		Metrics:  m,
		Reports:  report.NewWriter(fs, "/reports"),
	})
	require.NoError(t, err)

	summary, err := a.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Takeovers)

	ev, ok := a.Gate().Active(models.DomainRetirement)
	require.True(t, ok)
	assert.Equal(t, models.StageEscalate, a.Retirement().Stage)

	snap, err := mgr.Load()
	require.NoError(t, err)
	assert.Contains(t, snap.Disabled[models.TaskID(models.DomainRetirement)], "human takeover")
	assert.Equal(t, ev.ID, snap.Takeovers[models.DomainRetirement].ID)
	require.NotNil(t, snap.Retirement)
	assert.Equal(t, models.StageEscalate, snap.Retirement.Stage)

	exists, err := afero.Exists(fs, filepath.Join("/reports", report.BaseName(ev)+".md"))
	require.NoError(t, err)
	assert.True(t, exists)

	recorded, err := store.Takeovers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, ev.ID, recorded[0].ID)

	n, err := testutil.GatherAndCount(m.Registry(), "harbor_takeovers_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A restarted agent picks the takeover back up
	b, err := New(cfg, Deps{Provider: tooltest.New(), Logger: logger.NewNoOpLogger(), State: mgr})
	require.NoError(t, err)
	_, ok = b.Gate().Active(models.DomainRetirement)
	assert.True(t, ok)
	assert.False(t, b.Scheduler().IsEnabled(models.TaskID(models.DomainRetirement)))
	assert.Equal(t, models.StageEscalate, b.Retirement().Stage)

	require.NoError(t, mgr.RequestResume(models.DomainRetirement))
	b.ProcessResumes(ctx)

	_, ok = b.Gate().Active(models.DomainRetirement)
	assert.False(t, ok)
	assert.True(t, b.Scheduler().IsEnabled(models.TaskID(models.DomainRetirement)))
	assert.Equal(t, models.StageInitial, b.Retirement().Stage)

	snap, err = mgr.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Takeovers)
	assert.Empty(t, snap.Disabled)
	assert.Empty(t, snap.ResumeRequests)
	assert.Equal(t, models.StageInitial, snap.Retirement.Stage)
}

func TestResumeUnknownDomain(t *testing.T) {
	a, err := New(config.DefaultConfig(), Deps{Provider: tooltest.New(), Logger: logger.NewNoOpLogger()})
	require.NoError(t, err)
	assert.False(t, a.Resume(models.Domain("fishing")))
}

func TestMeowfficerConsumesUnderLevelCap(t *testing.T) {
	p := tooltest.New()
	p.Queue("meowfficer_balance", tooltest.OKData(models.StateMain, map[string]any{"balance": 5000}))
	p.Queue("meowfficer_scan",
		tooltest.OKData(models.StateMain, map[string]any{"candidates": []models.FodderCandidate{
			{ID: "a", Level: 1},
			{ID: "b", Level: 3},
			{ID: "c", Level: 1, Selected: true},
		}}),
		tooltest.OKData(models.StateMain, map[string]any{"candidates": []models.FodderCandidate{}}),
	)
	p.Queue("meowfficer_confirm", tooltest.OKData(models.StateMain, map[string]any{"consumed": 1}))

	m := metrics.New()
	a, err := New(onlyEnabled(models.DomainMeowfficer), Deps{Provider: p, Logger: logger.NewNoOpLogger(), Metrics: m})
	require.NoError(t, err)

	summary, err := a.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, p.Count("meowfficer_confirm"))

	calls := p.Calls()
	for _, c := range calls {
		if c.Name == "meowfficer_confirm" {
			assert.Equal(t, []string{"a"}, c.Args["ids"])
		}
	}

	n, err := testutil.GatherAndCount(m.Registry(), "harbor_fodder_consumed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMeowfficerLowBalanceFails(t *testing.T) {
	p := tooltest.New()
	p.Queue("meowfficer_balance", tooltest.OKData(models.StateMain, map[string]any{"balance": 10}))

	a, err := New(onlyEnabled(models.DomainMeowfficer), Deps{Provider: p, Logger: logger.NewNoOpLogger()})
	require.NoError(t, err)

	summary, err := a.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, p.Count("meowfficer_scan"))
}

func TestStateMismatchRecoversToMain(t *testing.T) {
	p := navigation(tooltest.New())
	p.Queue("reward_collect_all", tooltest.OK(models.StateMain))

	var buf bytes.Buffer
	a, err := New(onlyEnabled(models.DomainReward), Deps{Provider: p, Logger: logger.NewConsoleLogger(&buf, "info")})
	require.NoError(t, err)

	summary, err := a.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	// goto reward, then the recovery goto main
	assert.Equal(t, 2, p.Count(tasks.ToolGoto))
	assert.Contains(t, buf.String(), "Recovered `reward` after state mismatch")
}
