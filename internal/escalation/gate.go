// Package escalation is the terminal sink that halts automatic operation for
// a domain and hands a diagnostic snapshot to a human reviewer.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/harbor/internal/models"
)

// Toggler disables and re-enables the task owning a domain.
type Toggler interface {
	Disable(id models.TaskID, reason string) error
	Enable(id models.TaskID) error
	IsEnabled(id models.TaskID) bool
}

// Sink receives takeover events: logs, history, reports.
type Sink interface {
	Deliver(ctx context.Context, ev models.TakeoverEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev models.TakeoverEvent) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev models.TakeoverEvent) error {
	return f(ctx, ev)
}

// Logger receives sink delivery failures. It may be nil.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// Context describes what is being escalated.
type Context struct {
	Domain      models.Domain
	Task        models.TaskID
	Reason      string
	Expected    models.State // State the escalated work required; page_main when unset
	Diagnostics *models.Diagnostics
}

// Gate emits at most one takeover per domain until the domain is cleared.
type Gate struct {
	mu      sync.Mutex
	toggler Toggler
	sinks   []Sink
	logger  Logger
	clock   func() time.Time
	active  map[models.Domain]models.TakeoverEvent
}

// NewGate creates a gate. toggler may be nil when no task must be paused.
func NewGate(toggler Toggler, logger Logger, sinks ...Sink) *Gate {
	return &Gate{
		toggler: toggler,
		sinks:   sinks,
		logger:  logger,
		clock:   time.Now,
		active:  make(map[models.Domain]models.TakeoverEvent),
	}
}

// AddSink registers another event sink.
func (g *Gate) AddSink(s Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks = append(g.sinks, s)
}

// Escalate disables the task, delivers the takeover event and returns the
// terminal result. Repeated calls for an active domain only return the result.
func (g *Gate) Escalate(ctx context.Context, ec Context) models.ToolResult {
	g.mu.Lock()
	ev, already := g.active[ec.Domain]
	if !already {
		ev = g.newEvent(ec)
		g.active[ec.Domain] = ev
	}
	sinks := append([]Sink(nil), g.sinks...)
	g.mu.Unlock()

	if !already {
		if g.toggler != nil && ec.Task != "" {
			if err := g.toggler.Disable(ec.Task, "human takeover: "+ec.Reason); err != nil && g.logger != nil {
				g.logger.Warnf("Escalation: disable %s failed: %v", ec.Task, err)
			}
		}
		for _, s := range sinks {
			if err := s.Deliver(ctx, ev); err != nil && g.logger != nil {
				g.logger.Warnf("Escalation: deliver %s failed: %v", ev.ID, err)
			}
		}
	}

	return result(ev, ec)
}

// Active returns the outstanding takeover for a domain.
func (g *Gate) Active(d models.Domain) (models.TakeoverEvent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.active[d]
	return ev, ok
}

// Clear records that an external actor resolved the takeover and re-enables
// the task. It reports whether a takeover was outstanding.
func (g *Gate) Clear(d models.Domain) bool {
	g.mu.Lock()
	ev, ok := g.active[d]
	delete(g.active, d)
	g.mu.Unlock()

	if ok && g.toggler != nil && ev.Task != "" {
		if err := g.toggler.Enable(ev.Task); err != nil && g.logger != nil {
			g.logger.Warnf("Escalation: enable %s failed: %v", ev.Task, err)
		}
	}
	return ok
}

// Restore marks a domain as escalated without re-delivering the event.
// Used when persisted state shows an uncleared takeover at startup.
func (g *Gate) Restore(ev models.TakeoverEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[ev.Domain] = ev
}

func (g *Gate) newEvent(ec Context) models.TakeoverEvent {
	ev := models.TakeoverEvent{
		ID:        uuid.New().String(),
		Kind:      models.EventKindHumanTakeover,
		Domain:    ec.Domain,
		Task:      ec.Task,
		Reason:    ec.Reason,
		Timestamp: g.clock(),
	}
	if d := ec.Diagnostics; d != nil {
		ev.LastObservedState = d.LastObserved
		ev.ActionsTaken = append([]string(nil), d.Actions...)
		ev.MarkersSeen = append([]string(nil), d.Markers...)
	}
	return ev
}

func result(ev models.TakeoverEvent, ec Context) models.ToolResult {
	expected := ec.Expected
	if !expected.IsKnown() {
		expected = models.StateMain
	}
	err := models.Errorf(models.KindEscalationExhausted, "human takeover required: %s", ev.Reason).WithDomain(ev.Domain)
	res := models.Failed(err, ev.LastObservedState, expected, ec.Diagnostics.Clone())
	if res.Diagnostics == nil {
		res.Diagnostics = &models.Diagnostics{
			Domain:       ev.Domain,
			Task:         ev.Task,
			LastObserved: ev.LastObservedState,
			Actions:      ev.ActionsTaken,
			Markers:      ev.MarkersSeen,
		}
	}
	res.Data = map[string]any{
		"event_id": ev.ID,
		"kind":     ev.Kind,
		"domain":   string(ev.Domain),
		"reason":   ev.Reason,
	}
	return res
}

// String renders an event on one line.
func String(ev models.TakeoverEvent) string {
	return fmt.Sprintf("HUMAN TAKEOVER `%s`: %s (%s)", ev.Domain, ev.Reason, ev.ID)
}
