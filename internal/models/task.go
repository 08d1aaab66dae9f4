package models

import (
	"errors"
	"fmt"
	"time"
)

// TaskID identifies a registered task.
type TaskID string

// Domain tags the area of the game a task works in.
type Domain string

// Known task domains
const (
	DomainCombat     Domain = "combat"
	DomainCommission Domain = "commission"
	DomainReward     Domain = "reward"
	DomainRetirement Domain = "retirement"
	DomainEnhance    Domain = "enhance"
	DomainMeowfficer Domain = "meowfficer"
)

// AllDomains lists the known domains in registration order.
func AllDomains() []Domain {
	return []Domain{
		DomainCombat,
		DomainCommission,
		DomainReward,
		DomainRetirement,
		DomainEnhance,
		DomainMeowfficer,
	}
}

// TaskSpec represents a recurring task definition.
// Timing fields are owned by the scheduler; Enabled may also be flipped by
// the decision engine that controls the task's domain.
type TaskSpec struct {
	ID              TaskID        // Task identity
	Domain          Domain        // Domain tag
	SuccessInterval time.Duration // Cooldown after a successful run
	FailureInterval time.Duration // Cooldown after a failed run
	Priority        int           // Higher runs first
	Enabled         bool          // Disabled tasks are never selected
	DisabledReason  string        // Why the task was disabled (empty when enabled)
	LastRun         time.Time     // Zero if never run
	LastSuccess     bool          // Outcome of the last run
}

// Validate checks if the task spec has all required fields
func (t *TaskSpec) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Domain == "" {
		return fmt.Errorf("task %s: domain is required", t.ID)
	}
	if t.SuccessInterval < 0 || t.FailureInterval < 0 {
		return fmt.Errorf("task %s: intervals must be >= 0", t.ID)
	}
	return nil
}

// Interval returns the cooldown that applies after the last run.
func (t *TaskSpec) Interval() time.Duration {
	if t.LastSuccess {
		return t.SuccessInterval
	}
	return t.FailureInterval
}

// EligibleAt returns the earliest time the task may run again.
// A task that has never run is eligible immediately (zero time).
func (t *TaskSpec) EligibleAt() time.Time {
	if t.LastRun.IsZero() {
		return time.Time{}
	}
	return t.LastRun.Add(t.Interval())
}

// IsEligible reports whether the task is enabled and off cooldown at now.
func (t *TaskSpec) IsEligible(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	return !now.Before(t.EligibleAt())
}
