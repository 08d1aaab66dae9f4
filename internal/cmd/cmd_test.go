package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/harbor/internal/filelock"
	"github.com/harrison/harbor/internal/history"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/state"
)

// setupHome points HARBOR_HOME at a temp dir and optionally writes a config.
func setupHome(t *testing.T, configYAML string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HARBOR_HOME", home)
	if configYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(configYAML), 0644))
	}
	return home
}

// executeCommand runs the root command with args and captures its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "validate", "status", "resume", "logs"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestLoadDotEnvMissingIsFine(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HARBOR_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("HARBOR_TEST_DOTENV") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("HARBOR_TEST_DOTENV"))
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name        string
		config      string
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "defaults",
			wantContain: []string{"✓ Configuration valid", "mode=one_click_retire", "combat", "enhance"},
		},
		{
			name: "enhance mode from file",
			config: `retirement:
  retire_mode: enhance
  enhance_index: 4
tasks_enabled:
  enhance: true
`,
			wantContain: []string{"mode=enhance", "enhance_index=4"},
		},
		{
			name: "index out of range",
			config: `retirement:
  enhance_index: 13
`,
			wantErr:     true,
			wantContain: []string{"✗ Configuration invalid"},
		},
		{
			name: "unknown domain",
			config: `task_priority:
  fishing: 3
`,
			wantErr:     true,
			wantContain: []string{"unknown task domain"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupHome(t, tt.config)
			out, err := executeCommand(t, "validate")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, want := range tt.wantContain {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestValidateMissingExplicitConfig(t *testing.T) {
	setupHome(t, "")
	_, err := executeCommand(t, "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResumeQueuesRequest(t *testing.T) {
	home := setupHome(t, "")
	mgr := state.NewManager(filepath.Join(home, "state"))
	require.NoError(t, mgr.Update(func(s *state.Snapshot) {
		s.Takeovers[models.DomainRetirement] = models.TakeoverEvent{ID: "ev-1", Domain: models.DomainRetirement, Reason: "ladder exhausted"}
	}))

	out, err := executeCommand(t, "resume", "retirement")
	require.NoError(t, err)
	assert.Contains(t, out, "clears takeover ev-1")

	snap, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, []models.Domain{models.DomainRetirement}, snap.ResumeRequests)
}

func TestResumeRejectsUnknownDomain(t *testing.T) {
	setupHome(t, "")
	_, err := executeCommand(t, "resume", "fishing")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfigurationInvalid))
}

func TestStatusShowsStateAndHistory(t *testing.T) {
	home := setupHome(t, "")
	mgr := state.NewManager(filepath.Join(home, "state"))
	rs := models.RetirementState{Mode: models.RetireModeOneClick, Stage: models.StageEscalate, EnhanceIndex: 1}
	require.NoError(t, mgr.Update(func(s *state.Snapshot) {
		s.Retirement = &rs
		s.Disabled["retirement"] = "human takeover: ladder exhausted"
		s.Takeovers[models.DomainRetirement] = models.TakeoverEvent{
			ID:        "ev-2",
			Domain:    models.DomainRetirement,
			Reason:    "ladder exhausted",
			Timestamp: time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC),
		}
	}))

	store, err := history.NewStore(filepath.Join(home, "history.db"))
	require.NoError(t, err)
	require.NoError(t, store.RecordRun(context.Background(), &history.TaskRun{
		TaskID:    "combat",
		Domain:    models.DomainCombat,
		Success:   false,
		ErrorKind: models.KindInterruptUnresolved,
		Duration:  3 * time.Second,
		StartedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	out, err := executeCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "stage=3 (escalate)")
	assert.Contains(t, out, "retirement: human takeover: ladder exhausted")
	assert.Contains(t, out, "harbor resume retirement")
	assert.Contains(t, out, "Recent runs")
	assert.Contains(t, out, "[interrupt_unresolved]")
}

func TestStatusEmptyHome(t *testing.T) {
	setupHome(t, "")
	out, err := executeCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "no state saved yet")
	assert.NotContains(t, out, "Recent runs")
}

const runLog = `=== Harbor Run Log ===
Started at: 2026-10-14T10:00:00Z

[10:00:01] [INFO] Start task ` + "`reward`" + ` (priority 4)
[10:00:05] [INFO] Task ` + "`reward`" + ` succeeded in 4s (observed page_main)
[10:01:00] [INFO] Start task ` + "`combat`" + ` (priority 5)
[10:01:30] [ERROR] Task ` + "`combat`" + ` failed [timeout] in 30s: wait result timed out
`

func writeRunLog(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "run-20261014-100000.log")
	require.NoError(t, os.WriteFile(path, []byte(runLog), 0644))
	return path
}

func TestLogsCommand(t *testing.T) {
	setupHome(t, "")
	path := writeRunLog(t, t.TempDir())

	out, err := executeCommand(t, "logs", path)
	require.NoError(t, err)
	assert.Contains(t, out, "HARBOR LOG SUMMARY")

	out, err = executeCommand(t, "logs", path, "--errors")
	require.NoError(t, err)
	assert.Contains(t, out, "wait result timed out")

	out, err = executeCommand(t, "logs", path, "--json")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	runs, ok := decoded["runs"].([]any)
	require.True(t, ok)
	assert.Len(t, runs, 2)
}

func TestLogsDefaultsToLatest(t *testing.T) {
	home := setupHome(t, "")
	logDir := filepath.Join(home, "logs")
	path := writeRunLog(t, logDir)
	require.NoError(t, os.Symlink(filepath.Base(path), filepath.Join(logDir, "latest.log")))

	out, err := executeCommand(t, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "HARBOR LOG SUMMARY")
}

func TestLogsRejectsConflictingFlags(t *testing.T) {
	setupHome(t, "")
	path := writeRunLog(t, t.TempDir())
	_, err := executeCommand(t, "logs", path, "--json", "--errors")
	assert.Error(t, err)
}

func TestRunRefusesSecondInstance(t *testing.T) {
	home := setupHome(t, "")
	lock, err := filelock.Acquire(filepath.Join(home, "state"))
	require.NoError(t, err)
	defer lock.Unlock()

	_, err = executeCommand(t, "run", "--once")
	require.Error(t, err)
	assert.ErrorIs(t, err, filelock.ErrLocked)
}

func TestRunRejectsInvalidLogLevel(t *testing.T) {
	setupHome(t, "")
	_, err := executeCommand(t, "run", "--once", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunFailsWithoutToolServer(t *testing.T) {
	setupHome(t, `mcp:
  command: /nonexistent/harbor-tool-server
`)
	_, err := executeCommand(t, "run", "--once")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "tool server"))
}

func TestRunFlagsRegistered(t *testing.T) {
	cmd := NewRunCommand()
	for _, name := range []string{"log-level", "log-dir", "metrics-addr", "once"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}
}
