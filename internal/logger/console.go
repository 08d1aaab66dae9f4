// Package logger provides the console and file loggers used by the agent loop.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/harrison/harbor/internal/models"
)

// ConsoleLogger logs agent progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] [LEVEL].
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	scheme      *colorScheme
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		scheme:      newColorScheme(),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if w == os.Stdout || w == os.Stderr {
		// NO_COLOR and non-TTY output are folded into color.NoColor
		return !color.NoColor
	}
	return false
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return enabled(cl.logLevel, messageLevel)
}

// Tracef logs at TRACE level.
func (cl *ConsoleLogger) Tracef(format string, args ...interface{}) {
	cl.logWithLevel("TRACE", fmt.Sprintf(format, args...))
}

// Debugf logs at DEBUG level.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs at INFO level.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs at WARN level.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs at ERROR level.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string
	if cl.colorOutput {
		formatted = cl.formatWithColor(ts, level, message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}
	cl.writer.Write([]byte(formatted))
}

// formatWithColor formats a log message with ANSI color codes.
func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	var coloredLevel string

	switch strings.ToUpper(level) {
	case "TRACE":
		coloredLevel = color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		coloredLevel = color.New(color.FgCyan).Sprint(level)
	case "INFO":
		coloredLevel = color.New(color.FgBlue).Sprint(level)
	case "WARN":
		coloredLevel = color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		coloredLevel = color.New(color.FgRed).Sprint(level)
	default:
		coloredLevel = level
	}

	return fmt.Sprintf("[%s] [%s] %s\n", ts, coloredLevel, message)
}

// LogTaskStart logs the selection of a task at INFO level.
func (cl *ConsoleLogger) LogTaskStart(spec models.TaskSpec) {
	cl.logWithLevel("INFO", taskStartMessage(spec))
}

// LogTaskResult logs a finished task. Failures are logged at WARN, or ERROR
// for terminal kinds.
func (cl *ConsoleLogger) LogTaskResult(spec models.TaskSpec, res models.ToolResult, d time.Duration) {
	level, msg := taskResultMessage(spec, res, d)
	if cl.colorOutput {
		if res.Success {
			msg = strings.Replace(msg, "succeeded", cl.scheme.success.Sprint("succeeded"), 1)
		} else {
			msg = strings.Replace(msg, "failed", cl.scheme.fail.Sprint("failed"), 1)
		}
	}
	cl.logWithLevel(level, msg)
}

// LogInterrupt logs a trigger firing at a checkpoint.
func (cl *ConsoleLogger) LogInterrupt(in models.Interrupt) {
	cl.logWithLevel("INFO", interruptMessage(in))
}

// LogResume logs a suspended task resuming at its saved step.
func (cl *ConsoleLogger) LogResume(task models.TaskID, step int) {
	cl.logWithLevel("INFO", resumeMessage(task, step))
}

// LogTakeover logs a HumanTakeover event at ERROR level.
func (cl *ConsoleLogger) LogTakeover(ev models.TakeoverEvent) {
	msg := takeoverMessage(ev)
	if cl.colorOutput {
		msg = color.New(color.Bold, color.FgRed).Sprint(msg)
	}
	cl.logWithLevel("ERROR", msg)
}

// LogSummary logs the session summary at INFO level.
func (cl *ConsoleLogger) LogSummary(s models.RunSummary) {
	for i, line := range summaryLines(s) {
		if cl.colorOutput {
			line = cl.colorizeSummaryLine(i, line, s)
		}
		cl.logWithLevel("INFO", line)
	}
}

func (cl *ConsoleLogger) colorizeSummaryLine(i int, line string, s models.RunSummary) string {
	switch {
	case i == 0:
		return color.New(color.Bold).Sprint(line)
	case strings.HasPrefix(line, "Succeeded"):
		return cl.scheme.success.Sprint(line)
	case strings.HasPrefix(line, "Failed") && s.Failed > 0:
		return cl.scheme.fail.Sprint(line)
	case strings.HasPrefix(line, "Takeovers") && s.Takeovers > 0:
		return cl.scheme.fail.Sprint(line)
	case strings.HasPrefix(line, "Interrupts"):
		return cl.scheme.label.Sprint(line)
	}
	return line
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debugf(format string, args ...interface{}) {}
func (n *NoOpLogger) Infof(format string, args ...interface{})  {}
func (n *NoOpLogger) Warnf(format string, args ...interface{})  {}
func (n *NoOpLogger) Errorf(format string, args ...interface{}) {}

func (n *NoOpLogger) LogTaskStart(spec models.TaskSpec)                                         {}
func (n *NoOpLogger) LogTaskResult(spec models.TaskSpec, res models.ToolResult, d time.Duration) {}
func (n *NoOpLogger) LogInterrupt(in models.Interrupt)                                          {}
func (n *NoOpLogger) LogResume(task models.TaskID, step int)                                    {}
func (n *NoOpLogger) LogTakeover(ev models.TakeoverEvent)                                       {}
func (n *NoOpLogger) LogSummary(s models.RunSummary)                                            {}
