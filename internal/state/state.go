// Package state persists what the agent must remember across restarts:
// the retirement state machine, disabled tasks with their reasons, task
// timings, outstanding takeovers and operator resume requests.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/harbor/internal/filelock"
	"github.com/harrison/harbor/internal/models"
)

// SnapshotFile is the snapshot's file name inside the state directory.
const SnapshotFile = "snapshot.json"

// Timing is the persisted scheduling record of one task.
type Timing struct {
	LastRun     time.Time `json:"last_run"`
	LastSuccess bool      `json:"last_success"`
}

// Snapshot is the persisted agent state.
type Snapshot struct {
	Retirement *models.RetirementState                `json:"retirement,omitempty"`
	Disabled   map[models.TaskID]string               `json:"disabled,omitempty"`
	Timings    map[models.TaskID]Timing               `json:"timings,omitempty"`
	Takeovers  map[models.Domain]models.TakeoverEvent `json:"takeovers,omitempty"`
	// ResumeRequests is written by the resume command and drained by the agent.
	ResumeRequests []models.Domain `json:"resume_requests,omitempty"`
	SavedAt        time.Time       `json:"saved_at"`
}

func (s *Snapshot) init() {
	if s.Disabled == nil {
		s.Disabled = make(map[models.TaskID]string)
	}
	if s.Timings == nil {
		s.Timings = make(map[models.TaskID]Timing)
	}
	if s.Takeovers == nil {
		s.Takeovers = make(map[models.Domain]models.TakeoverEvent)
	}
}

// Manager reads and writes the snapshot under a file lock.
type Manager struct {
	dir  string
	path string
	now  func() time.Time
}

// NewManager creates a Manager for the state directory dir.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:  dir,
		path: filepath.Join(dir, SnapshotFile),
		now:  time.Now,
	}
}

// Dir returns the state directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the snapshot path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (m *Manager) Load() (Snapshot, error) {
	data, err := filelock.LockAndRead(m.path)
	if errors.Is(err, os.ErrNotExist) {
		var s Snapshot
		s.init()
		return s, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	return decode(m.path, data)
}

// Update applies fn to the current snapshot and writes the result, all
// while holding the snapshot lock.
func (m *Manager) Update(fn func(*Snapshot)) error {
	lock := filelock.NewFileLock(m.path + ".lock")
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	var s Snapshot
	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		if s, err = decode(m.path, data); err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	s.init()

	fn(&s)
	s.SavedAt = m.now()

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return filelock.AtomicWrite(m.path, out)
}

// RequestResume queues a resume for domain. The running agent picks it up
// between task cycles.
func (m *Manager) RequestResume(d models.Domain) error {
	return m.Update(func(s *Snapshot) {
		for _, r := range s.ResumeRequests {
			if r == d {
				return
			}
		}
		s.ResumeRequests = append(s.ResumeRequests, d)
	})
}

// TakeResumes removes and returns the queued resume requests. The snapshot
// is not rewritten when nothing is queued.
func (m *Manager) TakeResumes() ([]models.Domain, error) {
	current, err := m.Load()
	if err != nil {
		return nil, err
	}
	if len(current.ResumeRequests) == 0 {
		return nil, nil
	}
	var taken []models.Domain
	err = m.Update(func(s *Snapshot) {
		taken = s.ResumeRequests
		s.ResumeRequests = nil
	})
	return taken, err
}

func decode(path string, data []byte) (Snapshot, error) {
	var s Snapshot
	if len(data) == 0 {
		s.init()
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	s.init()
	return s, nil
}
