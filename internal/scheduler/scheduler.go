// Package scheduler owns the recurring task definitions and picks the single
// next task to run.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/harrison/harbor/internal/models"
)

// Scheduler selects among registered tasks by eligibility and priority.
// It is the only component that mutates TaskSpec timing fields.
type Scheduler struct {
	mu    sync.Mutex
	specs []*models.TaskSpec // registration order
	index map[models.TaskID]int
	clock func() time.Time
}

// New creates a Scheduler. A nil clock uses time.Now.
func New(clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		index: make(map[models.TaskID]int),
		clock: clock,
	}
}

// Register adds a task definition. Registration order breaks priority ties.
func (s *Scheduler) Register(spec models.TaskSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[spec.ID]; exists {
		return fmt.Errorf("task %s already registered", spec.ID)
	}
	s.index[spec.ID] = len(s.specs)
	cp := spec
	s.specs = append(s.specs, &cp)
	return nil
}

// NextTask returns the highest-priority enabled task that is off cooldown.
// Ties are broken by registration order.
func (s *Scheduler) NextTask() (models.TaskID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var best *models.TaskSpec
	for _, spec := range s.specs {
		if !spec.IsEligible(now) {
			continue
		}
		// Strictly greater keeps the earlier registration on ties
		if best == nil || spec.Priority > best.Priority {
			best = spec
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// NextEligible returns the earliest time any enabled task becomes eligible.
// The boolean is false when every task is disabled.
func (s *Scheduler) NextEligible() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	found := false
	for _, spec := range s.specs {
		if !spec.Enabled {
			continue
		}
		at := spec.EligibleAt()
		if !found || at.Before(earliest) {
			earliest = at
			found = true
		}
	}
	return earliest, found
}

// RecordResult stamps the run time and outcome used for the next eligibility check.
func (s *Scheduler) RecordResult(id models.TaskID, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.lookup(id)
	if err != nil {
		return err
	}
	spec.LastRun = s.clock()
	spec.LastSuccess = success
	return nil
}

// Restore seeds timing fields from persisted state at startup.
func (s *Scheduler) Restore(id models.TaskID, lastRun time.Time, lastSuccess bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.lookup(id)
	if err != nil {
		return err
	}
	spec.LastRun = lastRun
	spec.LastSuccess = lastSuccess
	return nil
}

// Disable excludes a task from selection until it is re-enabled.
func (s *Scheduler) Disable(id models.TaskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.lookup(id)
	if err != nil {
		return err
	}
	spec.Enabled = false
	spec.DisabledReason = reason
	return nil
}

// Enable makes a task selectable again.
func (s *Scheduler) Enable(id models.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.lookup(id)
	if err != nil {
		return err
	}
	spec.Enabled = true
	spec.DisabledReason = ""
	return nil
}

// IsEnabled reports whether a task is registered and enabled.
func (s *Scheduler) IsEnabled(id models.TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.lookup(id)
	return err == nil && spec.Enabled
}

// Spec returns a copy of a registered task definition.
func (s *Scheduler) Spec(id models.TaskID) (models.TaskSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.lookup(id)
	if err != nil {
		return models.TaskSpec{}, false
	}
	return *spec, true
}

// Specs returns copies of all task definitions in registration order.
func (s *Scheduler) Specs() []models.TaskSpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.TaskSpec, len(s.specs))
	for i, spec := range s.specs {
		out[i] = *spec
	}
	return out
}

func (s *Scheduler) lookup(id models.TaskID) (*models.TaskSpec, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("unknown task %s", id)
	}
	return s.specs[i], nil
}
