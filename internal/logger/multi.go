package logger

import (
	"time"

	"github.com/harrison/harbor/internal/models"
)

// Sink is the full set of events a logger receives.
type Sink interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	LogTaskStart(spec models.TaskSpec)
	LogTaskResult(spec models.TaskSpec, res models.ToolResult, d time.Duration)
	LogInterrupt(in models.Interrupt)
	LogResume(task models.TaskID, step int)
	LogTakeover(ev models.TakeoverEvent)
	LogSummary(s models.RunSummary)
}

// MultiLogger fans every event out to a list of sinks, in order.
type MultiLogger struct {
	sinks []Sink
}

// NewMultiLogger builds a MultiLogger. Nil sinks are skipped.
func NewMultiLogger(sinks ...Sink) *MultiLogger {
	m := &MultiLogger{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiLogger) Debugf(format string, args ...interface{}) {
	for _, s := range m.sinks {
		s.Debugf(format, args...)
	}
}

func (m *MultiLogger) Infof(format string, args ...interface{}) {
	for _, s := range m.sinks {
		s.Infof(format, args...)
	}
}

func (m *MultiLogger) Warnf(format string, args ...interface{}) {
	for _, s := range m.sinks {
		s.Warnf(format, args...)
	}
}

func (m *MultiLogger) Errorf(format string, args ...interface{}) {
	for _, s := range m.sinks {
		s.Errorf(format, args...)
	}
}

func (m *MultiLogger) LogTaskStart(spec models.TaskSpec) {
	for _, s := range m.sinks {
		s.LogTaskStart(spec)
	}
}

func (m *MultiLogger) LogTaskResult(spec models.TaskSpec, res models.ToolResult, d time.Duration) {
	for _, s := range m.sinks {
		s.LogTaskResult(spec, res, d)
	}
}

func (m *MultiLogger) LogInterrupt(in models.Interrupt) {
	for _, s := range m.sinks {
		s.LogInterrupt(in)
	}
}

func (m *MultiLogger) LogResume(task models.TaskID, step int) {
	for _, s := range m.sinks {
		s.LogResume(task, step)
	}
}

func (m *MultiLogger) LogTakeover(ev models.TakeoverEvent) {
	for _, s := range m.sinks {
		s.LogTakeover(ev)
	}
}

func (m *MultiLogger) LogSummary(summary models.RunSummary) {
	for _, s := range m.sinks {
		s.LogSummary(summary)
	}
}
