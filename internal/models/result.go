package models

import "time"

// State is a semantic label describing what is currently true on the device,
// e.g. "page_main" or "dock_full". The empty State means unknown.
type State string

// StateUnknown marks an absent observation.
const StateUnknown State = ""

// Observed states the core reacts to
const (
	StateMain              State = "page_main"
	StateDockFull          State = "dock_full"
	StateDockLowBuffer     State = "dock_low_buffer"
	StateMeowfficerBoxFull State = "meowfficer_box_full"
	StateRewardPending     State = "reward_pending"
	StateRetireDone        State = "retire_done"
	StateFiltersReset      State = "filters_reset"
	StateKeepWidened       State = "keep_policy_widened"
)

// IsKnown reports whether the state was actually observed.
func (s State) IsKnown() bool {
	return s != StateUnknown
}

// ToolResult is the envelope every tool invocation returns.
// ExpectedState is always set; an empty ObservedState means the result is
// incomplete and must never be read as implicit success.
type ToolResult struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     Kind           `json:"error_kind,omitempty"`
	ObservedState State          `json:"observed_state,omitempty"`
	ExpectedState State          `json:"expected_state"`
	Diagnostics   *Diagnostics   `json:"diagnostics,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(observed, expected State, data map[string]any) ToolResult {
	return ToolResult{
		Success:       true,
		Data:          data,
		ObservedState: observed,
		ExpectedState: expected,
	}
}

// Failed builds a failed result from an error, classifying it by kind.
func Failed(err error, observed, expected State, diag *Diagnostics) ToolResult {
	res := ToolResult{
		Success:       false,
		ErrorKind:     KindOf(err),
		ObservedState: observed,
		ExpectedState: expected,
		Diagnostics:   diag,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Complete reports whether the result succeeded with a known observation.
func (r ToolResult) Complete() bool {
	return r.Success && r.ObservedState.IsKnown()
}

// ResumePoint records where a suspended task picked up again after an interrupt.
type ResumePoint struct {
	Step      int    `json:"step"`
	Interrupt string `json:"interrupt"`
}

// Diagnostics is the context attached to failures and takeover events so a
// reviewer can reconstruct what the core attempted.
type Diagnostics struct {
	Domain       Domain        `json:"domain"`
	Task         TaskID        `json:"task"`
	LastObserved State         `json:"last_observed_state"`
	Actions      []string      `json:"actions_taken"`
	Markers      []string      `json:"markers_seen"`
	Resumes      []ResumePoint `json:"resumes,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Action appends an action taken.
func (d *Diagnostics) Action(name string) {
	d.Actions = append(d.Actions, name)
}

// Marker appends a marker observed.
func (d *Diagnostics) Marker(m string) {
	d.Markers = append(d.Markers, m)
}

// Clone returns a deep copy so callers can keep appending to the original.
func (d *Diagnostics) Clone() *Diagnostics {
	if d == nil {
		return nil
	}
	c := *d
	c.Actions = append([]string(nil), d.Actions...)
	c.Markers = append([]string(nil), d.Markers...)
	c.Resumes = append([]ResumePoint(nil), d.Resumes...)
	return &c
}

// Merge appends another diagnostic record's actions and markers.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	d.Actions = append(d.Actions, other.Actions...)
	d.Markers = append(d.Markers, other.Markers...)
	if other.LastObserved.IsKnown() {
		d.LastObserved = other.LastObserved
	}
}

// RunSummary aggregates the runs of one agent session.
type RunSummary struct {
	Runs       int            // Task cycles executed
	Succeeded  int            // Cycles that succeeded
	Failed     int            // Cycles that failed
	Interrupts int            // Interrupts raised
	Takeovers  int            // HumanTakeover events emitted
	Duration   time.Duration  // Session wall time
	FailedRuns map[TaskID]int // Failures per task
}
