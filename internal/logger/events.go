package logger

import (
	"fmt"
	"time"

	"github.com/harrison/harbor/internal/models"
)

// The run log is parsed back by logscan; keep these formats in sync with it.

func taskStartMessage(spec models.TaskSpec) string {
	return fmt.Sprintf("Start task `%s` (priority %d)", spec.ID, spec.Priority)
}

// taskResultMessage returns the level and message for a finished task.
// Terminal failures are logged at ERROR so they reach the operator.
func taskResultMessage(spec models.TaskSpec, res models.ToolResult, d time.Duration) (string, string) {
	if res.Success {
		observed := string(res.ObservedState)
		if observed == "" {
			observed = "unknown"
		}
		return "INFO", fmt.Sprintf("Task `%s` succeeded in %s (observed %s)", spec.ID, formatDuration(d), observed)
	}
	level := "WARN"
	if res.ErrorKind.Terminal() {
		level = "ERROR"
	}
	kind := string(res.ErrorKind)
	if kind == "" {
		kind = "unclassified"
	}
	return level, fmt.Sprintf("Task `%s` failed [%s] in %s: %s", spec.ID, kind, formatDuration(d), res.Error)
}

func interruptMessage(in models.Interrupt) string {
	return fmt.Sprintf("Interrupt `%s` -> task `%s` at checkpoint %s (step %d)", in.Trigger, in.Task, in.Checkpoint, in.Step)
}

func resumeMessage(task models.TaskID, step int) string {
	return fmt.Sprintf("Resume task `%s` at step %d", task, step)
}

func takeoverMessage(ev models.TakeoverEvent) string {
	return fmt.Sprintf("HUMAN TAKEOVER `%s`: %s (%s)", ev.Domain, ev.Reason, ev.ID)
}

func summaryLines(s models.RunSummary) []string {
	status := "OK"
	switch {
	case s.Takeovers > 0:
		status = "TAKEOVER"
	case s.Failed > 0:
		status = "DEGRADED"
	}
	return []string{
		"=== SESSION SUMMARY ===",
		fmt.Sprintf("Runs:       %d", s.Runs),
		fmt.Sprintf("Succeeded:  %d", s.Succeeded),
		fmt.Sprintf("Failed:     %d", s.Failed),
		fmt.Sprintf("Interrupts: %d", s.Interrupts),
		fmt.Sprintf("Takeovers:  %d", s.Takeovers),
		fmt.Sprintf("Total time: %s", formatDuration(s.Duration)),
		fmt.Sprintf("Status:     %s", status),
	}
}
