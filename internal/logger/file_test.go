package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/harbor/internal/models"
)

func TestNewFileLoggerCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLoggerWithDirAndLevel(dir, "debug")
	require.NoError(t, err)
	defer fl.Close()

	info, err := os.Stat(filepath.Join(dir, "tasks"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	target, err := os.Readlink(filepath.Join(dir, LatestLog))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(fl.RunFile()), target)

	data, err := os.ReadFile(fl.RunFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "=== Harbor Run Log ===")
}

func TestFileLoggerReplacesLatestSymlink(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileLoggerWithDirAndLevel(dir, "info")
	require.NoError(t, err)
	first.Close()

	// Run files are named to the second.
	time.Sleep(1100 * time.Millisecond)

	second, err := NewFileLoggerWithDirAndLevel(dir, "info")
	require.NoError(t, err)
	defer second.Close()

	target, err := os.Readlink(filepath.Join(dir, LatestLog))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(second.RunFile()), target)
	assert.NotEqual(t, first.RunFile(), second.RunFile())
}

func TestFileLoggerWritesEvents(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLoggerWithDirAndLevel(dir, "info")
	require.NoError(t, err)

	spec := models.TaskSpec{ID: "retirement", Domain: models.DomainRetirement, Priority: 8}
	fl.LogTaskStart(spec)
	fl.Debugf("hidden %d", 1)
	fl.LogInterrupt(models.Interrupt{Trigger: "dock_full", Task: "retirement", Checkpoint: models.CheckpointBeforeConstrained, Step: 2})
	fl.LogResume("combat", 2)
	fl.LogSummary(models.RunSummary{Runs: 1, Succeeded: 1})
	require.NoError(t, fl.Close())

	data, err := os.ReadFile(fl.RunFile())
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "[INFO] Start task `retirement` (priority 8)")
	assert.Contains(t, out, "[INFO] Interrupt `dock_full` -> task `retirement`")
	assert.Contains(t, out, "[INFO] Resume task `combat` at step 2")
	assert.Contains(t, out, "=== SESSION SUMMARY ===")
	assert.NotContains(t, out, "hidden")
}

func TestFileLoggerTaskLogOnFailure(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLoggerWithDirAndLevel(dir, "info")
	require.NoError(t, err)
	defer fl.Close()

	spec := models.TaskSpec{ID: "retirement", Domain: models.DomainRetirement}
	diag := &models.Diagnostics{Actions: []string{"dock_status", "retire_one_click"}, Markers: []string{"dock_full"}}
	res := models.Failed(models.Errorf(models.KindEscalationExhausted, "ladder exhausted"), models.StateDockFull, models.StateRetireDone, diag)

	fl.LogTaskResult(spec, models.Succeeded("retire_done", "retire_done", nil), time.Second)
	fl.LogTaskResult(spec, res, 3*time.Second)
	fl.LogTaskResult(spec, res, 3*time.Second)

	entries, err := os.ReadDir(filepath.Join(dir, "tasks"))
	require.NoError(t, err)
	require.Len(t, entries, 2, "only failures get a detail log")

	data, err := os.ReadFile(filepath.Join(dir, "tasks", "retirement-1.log"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "Kind: escalation_exhausted")
	assert.Contains(t, out, "1. dock_status")
	assert.Contains(t, out, "- dock_full")
	assert.FileExists(t, filepath.Join(dir, "tasks", "retirement-2.log"))
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	m := NewMultiLogger(NewConsoleLogger(a, "info"), nil, NewConsoleLogger(b, "warn"))

	m.Infof("hello")
	m.Warnf("careful")

	assert.Contains(t, a.String(), "hello")
	assert.Contains(t, a.String(), "careful")
	assert.NotContains(t, b.String(), "hello")
	assert.Contains(t, b.String(), "careful")
}
