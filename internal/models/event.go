package models

import "time"

// Checkpoint names a point in a task's step sequence where interrupt
// conditions are evaluated.
type Checkpoint string

// Declared checkpoints
const (
	CheckpointBeforeConstrained Checkpoint = "before_constrained_action"
	CheckpointAfterReward       Checkpoint = "after_reward_action"
	CheckpointAfterResult       Checkpoint = "after_result_screen"
)

// Interrupt describes a trigger that fired at a checkpoint.
type Interrupt struct {
	Trigger    string     // Trigger name
	Class      string     // Declared priority class
	Task       TaskID     // Interrupt task to run
	Checkpoint Checkpoint // Where it fired
	Step       int        // Step index the suspended task was about to attempt
}

// EventKindHumanTakeover is the kind of every escalation event.
const EventKindHumanTakeover = "HumanTakeover"

// TakeoverEvent is the diagnostic event emitted when automatic operation halts.
type TakeoverEvent struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	Domain            Domain    `json:"domain"`
	Task              TaskID    `json:"task"`
	Reason            string    `json:"reason"`
	LastObservedState State     `json:"last_observed_state"`
	ActionsTaken      []string  `json:"actions_taken"`
	MarkersSeen       []string  `json:"markers_seen"`
	Timestamp         time.Time `json:"timestamp"`
}
