package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/harbor/internal/models"
)

// RunLogPrefix names the timestamped per-run log files.
const RunLogPrefix = "run-"

// LatestLog is the symlink that points at the most recent run log.
const LatestLog = "latest.log"

// FileLogger logs agent events to files in the log directory.
// It creates timestamped per-run log files, per-task detail logs for
// failures, and maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and implements the executor.Logger interface.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	tasksDir string
	logLevel string
	mu       sync.Mutex
	runs     map[models.TaskID]int
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log directory and log level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	tasksDir := filepath.Join(logDir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("%s%s.log", RunLogPrefix, stamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, LatestLog)
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		tasksDir: tasksDir,
		logLevel: normalizeLogLevel(logLevel),
		runs:     make(map[models.TaskID]int),
	}

	logger.writeRunLog("=== Harbor Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return enabled(fl.logLevel, messageLevel)
}

// Debugf logs at DEBUG level.
func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs at INFO level.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs at WARN level.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs at ERROR level.
func (fl *FileLogger) Errorf(format string, args ...interface{}) {
	fl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(level) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogTaskStart logs the selection of a task.
func (fl *FileLogger) LogTaskStart(spec models.TaskSpec) {
	fl.logWithLevel("INFO", taskStartMessage(spec))
}

// LogTaskResult logs a finished task to the run log. Failures also get a
// detail file under tasks/ named <task>-<n>.log.
func (fl *FileLogger) LogTaskResult(spec models.TaskSpec, res models.ToolResult, d time.Duration) {
	level, msg := taskResultMessage(spec, res, d)
	fl.logWithLevel(level, msg)
	if res.Success {
		return
	}
	if path, err := fl.writeTaskLog(spec, res, d); err != nil {
		fl.logWithLevel("WARN", fmt.Sprintf("Could not write task log for `%s`: %v", spec.ID, err))
	} else {
		fl.logWithLevel("DEBUG", fmt.Sprintf("Task log written to %s", path))
	}
}

// LogInterrupt logs a trigger firing at a checkpoint.
func (fl *FileLogger) LogInterrupt(in models.Interrupt) {
	fl.logWithLevel("INFO", interruptMessage(in))
}

// LogResume logs a suspended task resuming at its saved step.
func (fl *FileLogger) LogResume(task models.TaskID, step int) {
	fl.logWithLevel("INFO", resumeMessage(task, step))
}

// LogTakeover logs a HumanTakeover event at ERROR level.
func (fl *FileLogger) LogTakeover(ev models.TakeoverEvent) {
	fl.logWithLevel("ERROR", takeoverMessage(ev))
}

// LogSummary logs the session summary.
func (fl *FileLogger) LogSummary(s models.RunSummary) {
	if !fl.shouldLog("info") {
		return
	}
	ts := timestamp()
	var sb strings.Builder
	sb.WriteString("\n")
	for _, line := range summaryLines(s) {
		sb.WriteString(fmt.Sprintf("[%s] [INFO] %s\n", ts, line))
	}
	sb.WriteString(fmt.Sprintf("[%s] [INFO] Completed at: %s\n", ts, time.Now().Format(time.RFC3339)))
	fl.writeRunLog(sb.String())
}

func (fl *FileLogger) writeTaskLog(spec models.TaskSpec, res models.ToolResult, d time.Duration) (string, error) {
	fl.mu.Lock()
	fl.runs[spec.ID]++
	n := fl.runs[spec.ID]
	fl.mu.Unlock()

	path := filepath.Join(fl.tasksDir, fmt.Sprintf("%s-%d.log", spec.ID, n))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create task log file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== Task %s (%s) ===\n", spec.ID, spec.Domain))
	sb.WriteString(fmt.Sprintf("Kind: %s\n", res.ErrorKind))
	sb.WriteString(fmt.Sprintf("Duration: %.1fs\n", d.Seconds()))
	sb.WriteString(fmt.Sprintf("Expected state: %s\n", res.ExpectedState))
	sb.WriteString(fmt.Sprintf("Observed state: %s\n", res.ObservedState))
	sb.WriteString(fmt.Sprintf("\nError:\n%s\n", res.Error))

	if diag := res.Diagnostics; diag != nil {
		if len(diag.Actions) > 0 {
			sb.WriteString("\nActions taken:\n")
			for i, a := range diag.Actions {
				sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, a))
			}
		}
		if len(diag.Markers) > 0 {
			sb.WriteString("\nMarkers seen:\n")
			for _, m := range diag.Markers {
				sb.WriteString(fmt.Sprintf("  - %s\n", m))
			}
		}
		for _, r := range diag.Resumes {
			sb.WriteString(fmt.Sprintf("\nResumed at step %d after %s\n", r.Step, r.Interrupt))
		}
	}
	sb.WriteString(fmt.Sprintf("\nCompleted at: %s\n", time.Now().Format(time.RFC3339)))

	if _, err := file.WriteString(sb.String()); err != nil {
		return "", fmt.Errorf("failed to write task log: %w", err)
	}
	return path, nil
}

// writeRunLog writes a message to the run log file in a thread-safe manner.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
	}
}

// Close closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		err := fl.runLog.Close()
		fl.runLog = nil
		return err
	}
	return nil
}
