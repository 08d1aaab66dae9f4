// Package interrupt evaluates trigger predicates at declared checkpoints and
// decides which interrupt task, if any, preempts the running task.
package interrupt

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harrison/harbor/internal/models"
)

// Class is a declared priority class. Lower values outrank higher ones.
type Class int

// Priority classes in declared order
const (
	ClassCapacityBlocking Class = iota + 1
	ClassSoftBuffer
	ClassPostTaskReward
)

// String returns the class name used in logs and metrics.
func (c Class) String() string {
	switch c {
	case ClassCapacityBlocking:
		return "capacity_blocking"
	case ClassSoftBuffer:
		return "soft_buffer"
	case ClassPostTaskReward:
		return "post_task_reward"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Scope is the context a predicate may read.
type Scope struct {
	Task   models.TaskID
	Domain models.Domain
	Step   int
	Data   map[string]any // Payload of the last step result
}

// Predicate decides whether a trigger fires. It must be pure.
type Predicate func(cp models.Checkpoint, observed models.State, scope Scope) bool

// Trigger is a condition plus the interrupt task it activates.
type Trigger struct {
	Name        string
	Class       Class
	Checkpoints []models.Checkpoint // Empty means every checkpoint
	When        Predicate
	Task        models.TaskID
}

func (t Trigger) appliesAt(cp models.Checkpoint) bool {
	if len(t.Checkpoints) == 0 {
		return true
	}
	for _, c := range t.Checkpoints {
		if c == cp {
			return true
		}
	}
	return false
}

// ObservedIs returns a predicate that fires when the observed state equals s.
func ObservedIs(s models.State) Predicate {
	return func(_ models.Checkpoint, observed models.State, _ Scope) bool {
		return observed == s
	}
}

// Controller holds the trigger registry.
// It does not run interrupt tasks; callers bracket them with Begin and End.
type Controller struct {
	mu          sync.Mutex
	triggers    []Trigger
	active      *models.Interrupt
	evaluations int
	deferred    int
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{}
}

// Register adds a trigger. Triggers are kept sorted by class; registration
// order breaks ties within a class.
func (c *Controller) Register(t Trigger) error {
	if t.Name == "" {
		return fmt.Errorf("trigger name is required")
	}
	if t.When == nil {
		return fmt.Errorf("trigger %s: predicate is required", t.Name)
	}
	if t.Task == "" {
		return fmt.Errorf("trigger %s: interrupt task is required", t.Name)
	}
	if t.Class < ClassCapacityBlocking || t.Class > ClassPostTaskReward {
		return fmt.Errorf("trigger %s: unknown class %d", t.Name, int(t.Class))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.triggers {
		if existing.Name == t.Name {
			return fmt.Errorf("trigger %s already registered", t.Name)
		}
	}
	c.triggers = append(c.triggers, t)
	sort.SliceStable(c.triggers, func(i, j int) bool {
		return c.triggers[i].Class < c.triggers[j].Class
	})
	return nil
}

// Check evaluates the triggers registered for cp and returns the first that
// fires in declared priority order. While an interrupt task is running no
// trigger is evaluated; the call is counted as deferred instead.
func (c *Controller) Check(cp models.Checkpoint, observed models.State, scope Scope) (models.Interrupt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.deferred++
		return models.Interrupt{}, false
	}

	c.evaluations++
	for _, t := range c.triggers {
		if t.Task == scope.Task {
			continue
		}
		if !t.appliesAt(cp) {
			continue
		}
		if t.When(cp, observed, scope) {
			return models.Interrupt{
				Trigger:    t.Name,
				Class:      t.Class.String(),
				Task:       t.Task,
				Checkpoint: cp,
				Step:       scope.Step,
			}, true
		}
	}
	return models.Interrupt{}, false
}

// Begin marks an interrupt task as running. It fails if one already is.
func (c *Controller) Begin(in models.Interrupt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return fmt.Errorf("interrupt %s already active", c.active.Trigger)
	}
	cp := in
	c.active = &cp
	return nil
}

// End clears the running interrupt.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
}

// Active returns the running interrupt, if any.
func (c *Controller) Active() (models.Interrupt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return models.Interrupt{}, false
	}
	return *c.active, true
}

// Evaluations returns how many checks actually evaluated triggers.
func (c *Controller) Evaluations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluations
}

// Deferred returns how many checks were skipped during interrupt handling.
func (c *Controller) Deferred() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deferred
}

// Triggers returns the registry in evaluation order.
func (c *Controller) Triggers() []Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Trigger(nil), c.triggers...)
}
