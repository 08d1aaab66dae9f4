package escalation

import (
	"context"
	"testing"

	"github.com/harrison/harbor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToggler struct {
	disabled map[models.TaskID]string
	disables int
	enables  int
}

func newFakeToggler() *fakeToggler {
	return &fakeToggler{disabled: make(map[models.TaskID]string)}
}

func (f *fakeToggler) Disable(id models.TaskID, reason string) error {
	f.disables++
	f.disabled[id] = reason
	return nil
}

func (f *fakeToggler) Enable(id models.TaskID) error {
	f.enables++
	delete(f.disabled, id)
	return nil
}

func (f *fakeToggler) IsEnabled(id models.TaskID) bool {
	_, off := f.disabled[id]
	return !off
}

func TestEscalateIsIdempotent(t *testing.T) {
	toggler := newFakeToggler()
	var events []models.TakeoverEvent
	sink := SinkFunc(func(_ context.Context, ev models.TakeoverEvent) error {
		events = append(events, ev)
		return nil
	})
	g := NewGate(toggler, nil, sink)

	diag := &models.Diagnostics{
		Domain:       models.DomainRetirement,
		Task:         "retirement",
		LastObserved: models.StateDockFull,
		Actions:      []string{"retire_one_click", "retire_reset_filters", "retire_widen_keep"},
		Markers:      []string{"freed=0"},
	}
	ec := Context{Domain: models.DomainRetirement, Task: "retirement", Reason: "ladder exhausted", Diagnostics: diag}

	first := g.Escalate(context.Background(), ec)
	second := g.Escalate(context.Background(), ec)

	assert.False(t, first.Success)
	assert.Equal(t, models.KindEscalationExhausted, first.ErrorKind)
	assert.Equal(t, models.StateDockFull, first.ObservedState)
	require.NotNil(t, first.Diagnostics)
	assert.Equal(t, diag.Actions, first.Diagnostics.Actions)
	assert.Equal(t, first.Data["event_id"], second.Data["event_id"])

	require.Len(t, events, 1, "side effects run once")
	assert.Equal(t, 1, toggler.disables)
	assert.False(t, toggler.IsEnabled("retirement"))

	ev := events[0]
	assert.Equal(t, models.EventKindHumanTakeover, ev.Kind)
	assert.Equal(t, models.StateDockFull, ev.LastObservedState)
	assert.Equal(t, diag.Markers, ev.MarkersSeen)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestClearReenables(t *testing.T) {
	toggler := newFakeToggler()
	g := NewGate(toggler, nil)
	ctx := context.Background()

	assert.False(t, g.Clear(models.DomainEnhance))

	g.Escalate(ctx, Context{Domain: models.DomainEnhance, Task: "enhance", Reason: "stuck"})
	_, active := g.Active(models.DomainEnhance)
	assert.True(t, active)

	assert.True(t, g.Clear(models.DomainEnhance))
	assert.True(t, toggler.IsEnabled("enhance"))
	_, active = g.Active(models.DomainEnhance)
	assert.False(t, active)

	g.Escalate(ctx, Context{Domain: models.DomainEnhance, Task: "enhance", Reason: "stuck again"})
	assert.Equal(t, 2, toggler.disables, "cleared domain escalates again")
}

func TestRestoreSuppressesDelivery(t *testing.T) {
	delivered := 0
	g := NewGate(nil, nil, SinkFunc(func(context.Context, models.TakeoverEvent) error {
		delivered++
		return nil
	}))
	g.Restore(models.TakeoverEvent{ID: "prev", Domain: models.DomainCombat, Reason: "old"})

	res := g.Escalate(context.Background(), Context{Domain: models.DomainCombat, Reason: "new"})
	assert.Zero(t, delivered)
	assert.Equal(t, "prev", res.Data["event_id"])
	assert.Contains(t, String(models.TakeoverEvent{ID: "x", Domain: "combat", Reason: "r"}), "HUMAN TAKEOVER `combat`")
}

func TestEscalateResultCarriesExpectedState(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	res := g.Escalate(ctx, Context{Domain: models.DomainRetirement, Task: "retirement", Reason: "ladder exhausted", Expected: models.StateRetireDone})
	assert.Equal(t, models.StateRetireDone, res.ExpectedState)

	res = g.Escalate(ctx, Context{Domain: models.DomainCombat, Reason: "stuck"})
	assert.True(t, res.ExpectedState.IsKnown())
	assert.Equal(t, models.StateMain, res.ExpectedState)
}
