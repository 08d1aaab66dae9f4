package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/harbor/internal/models"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "state"))
	s, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, s.Retirement)
	assert.NotNil(t, s.Disabled)
	assert.NotNil(t, s.Timings)
}

func TestUpdateRoundTripsRetirementState(t *testing.T) {
	m := NewManager(t.TempDir())
	rs := models.RetirementState{Mode: models.RetireModeEnhance, UnableToEnhance: true, Stage: models.StageResetFilters, EnhanceIndex: 7}
	last := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	require.NoError(t, m.Update(func(s *Snapshot) {
		s.Retirement = &rs
		s.Disabled["enhance"] = "enhance targets exhausted"
		s.Timings["combat"] = Timing{LastRun: last, LastSuccess: true}
	}))

	got, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, got.Retirement)
	assert.Equal(t, rs, *got.Retirement)
	assert.Equal(t, "enhance targets exhausted", got.Disabled["enhance"])
	assert.True(t, got.Timings["combat"].LastRun.Equal(last))
	assert.False(t, got.SavedAt.IsZero())
}

func TestMalformedSnapshotIsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SnapshotFile), []byte("{not json"), 0644))

	_, err := NewManager(dir).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse snapshot")
}

func TestResumeRequestsSurviveAgentSaves(t *testing.T) {
	m := NewManager(t.TempDir())

	require.NoError(t, m.RequestResume(models.DomainRetirement))
	require.NoError(t, m.RequestResume(models.DomainRetirement))
	// The agent's own save must not drop a pending request.
	require.NoError(t, m.Update(func(s *Snapshot) {
		s.Disabled["combat"] = "x"
	}))

	taken, err := m.TakeResumes()
	require.NoError(t, err)
	assert.Equal(t, []models.Domain{models.DomainRetirement}, taken)

	again, err := m.TakeResumes()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestWatcherSignalsSnapshotWrites(t *testing.T) {
	m := NewManager(t.TempDir())
	w, err := Watch(m)
	require.NoError(t, err)
	defer w.Close()
	w.SetDebounceDelay(10 * time.Millisecond)

	require.NoError(t, m.RequestResume(models.DomainCombat))

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change signal after the snapshot was written")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	m := NewManager(t.TempDir())
	w, err := Watch(m)
	require.NoError(t, err)
	defer w.Close()
	w.SetDebounceDelay(10 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "other.txt"), []byte("x"), 0644))

	select {
	case <-w.Changes():
		t.Fatal("unrelated files must not signal")
	case <-time.After(200 * time.Millisecond):
	}
}
