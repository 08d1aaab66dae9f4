// Package retire frees dock capacity by retiring or enhancing ships and
// escalates through a bounded fallback ladder when nothing can be freed.
package retire

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison/harbor/internal/escalation"
	"github.com/harrison/harbor/internal/fodder"
	"github.com/harrison/harbor/internal/models"
)

// Dock is the device surface the engine operates on.
type Dock interface {
	// Blocked reports whether the dock is full or has fewer than minFree slots.
	Blocked(ctx context.Context, minFree int) (bool, error)
	// OneClickRetire retires every ship the in-game filter allows and returns the slots freed.
	OneClickRetire(ctx context.Context) (int, error)
	// Target reads the enhancement target at index.
	Target(ctx context.Context, index int) (models.EnhancementTarget, error)
	// Balance reads the resource spent on enhancement.
	Balance(ctx context.Context) (int, error)
	// Scan lists fodder offered for target under filter.
	Scan(ctx context.Context, filter models.ShipFilter, target models.EnhancementTarget) ([]models.FodderCandidate, error)
	// Confirm feeds selected fodder into target and returns how many were consumed.
	Confirm(ctx context.Context, target models.EnhancementTarget, selected []models.FodderCandidate) (int, error)
	// ResetFilters clears soft inclusion filters and favourite exclusions.
	ResetFilters(ctx context.Context) error
	// WidenKeepPolicy changes a persistent in-game setting.
	WidenKeepPolicy(ctx context.Context) error
}

// Escalator receives ladder exhaustion.
type Escalator interface {
	Escalate(ctx context.Context, ec escalation.Context) models.ToolResult
}

// TaskDisabler pauses the enhance task once targets are exhausted.
type TaskDisabler interface {
	Disable(id models.TaskID, reason string) error
}

// Logger receives ladder progress. It may be nil.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Recorder observes ladder stages and fodder use. It may be nil.
type Recorder interface {
	LadderStage(stage models.LadderStage)
	FodderConsumed(domain models.Domain, n int)
}

// Config holds the engine settings.
type Config struct {
	ShipToEnhance models.ShipFilter
	MaxFeedLevel  int
	MinFreeSlots  int // Below this an enhance pass counts as insufficient
	MinBalance    int // Balance guard for the enhance fodder loop
	MaxIndex      int // Highest enhancement target index
	MaxBatches    int // Bound on fodder batches per pass
}

// Validate fails fast on out-of-range settings.
func (c Config) Validate() error {
	switch {
	case c.ShipToEnhance != models.ShipFilterAll && c.ShipToEnhance != models.ShipFilterFavourite:
		return models.Errorf(models.KindConfigurationInvalid, "unknown ship filter %d", int(c.ShipToEnhance))
	case c.MaxFeedLevel < 1:
		return models.Errorf(models.KindConfigurationInvalid, "max feed level must be >= 1, got %d", c.MaxFeedLevel)
	case c.MinFreeSlots < 1:
		return models.Errorf(models.KindConfigurationInvalid, "min free slots must be >= 1, got %d", c.MinFreeSlots)
	case c.MinBalance < 0:
		return models.Errorf(models.KindConfigurationInvalid, "min balance must be >= 0, got %d", c.MinBalance)
	case c.MaxIndex < 1:
		return models.Errorf(models.KindConfigurationInvalid, "max index must be >= 1, got %d", c.MaxIndex)
	case c.MaxBatches < 1:
		return models.Errorf(models.KindConfigurationInvalid, "max batches must be >= 1, got %d", c.MaxBatches)
	}
	return nil
}

// Outcome describes one engine invocation.
type Outcome struct {
	Blocked          bool                 // Dock was blocked on entry
	Branch           models.RetireMode    // Branch of the final attempt
	Freed            int                  // Slots freed
	Stages           []models.LadderStage // Stages visited in order
	Escalated        bool                 // Ladder ended in a takeover
	IndexAdvanced    int                  // Enhancement index steps taken
	EnhanceExhausted bool                 // Index ran past the maximum
	EnhanceShort     bool                 // An enhance pass freed fewer than the minimum
	Result           models.ToolResult
}

// Engine is the retirement/enhancement decision engine.
// It owns RetirementState; callers persist what Resolve returns.
type Engine struct {
	cfg         Config
	dock        Dock
	gate        Escalator
	disabler    TaskDisabler
	logger      Logger
	recorder    Recorder
	retireTask  models.TaskID
	enhanceTask models.TaskID
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the ladder logger.
func WithLogger(l Logger) Option { return func(e *Engine) { e.logger = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithTasks overrides the task IDs the engine pauses.
func WithTasks(retire, enhance models.TaskID) Option {
	return func(e *Engine) {
		e.retireTask = retire
		e.enhanceTask = enhance
	}
}

// NewEngine creates an engine. The config is validated on every Resolve.
func NewEngine(cfg Config, dock Dock, gate Escalator, disabler TaskDisabler, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		dock:        dock,
		gate:        gate,
		disabler:    disabler,
		retireTask:  models.TaskID(models.DomainRetirement),
		enhanceTask: models.TaskID(models.DomainEnhance),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries per-invocation bookkeeping.
type run struct {
	st   models.RetirementState
	out  Outcome
	diag *models.Diagnostics
}

// Resolve frees dock capacity. The returned state must be passed to the next
// call. A ConfigurationInvalid error is returned before any device action.
func (e *Engine) Resolve(ctx context.Context, st models.RetirementState) (models.RetirementState, Outcome, error) {
	if err := e.check(st); err != nil {
		return st, Outcome{}, err
	}

	r := &run{
		st:   st,
		diag: &models.Diagnostics{Domain: models.DomainRetirement, Task: e.retireTask},
	}

	if st.Escalated() {
		r.out.Escalated = true
		r.out.Stages = []models.LadderStage{models.StageEscalate}
		r.out.Result = e.gate.Escalate(ctx, escalation.Context{
			Domain:      models.DomainRetirement,
			Task:        e.retireTask,
			Reason:      "retirement ladder exhausted",
			Expected:    models.StateRetireDone,
			Diagnostics: r.diag,
		})
		return r.st, r.out, nil
	}

	blocked, err := e.dock.Blocked(ctx, e.cfg.MinFreeSlots)
	if err != nil {
		return st, Outcome{}, fmt.Errorf("detect dock capacity: %w", err)
	}
	r.out.Blocked = blocked
	r.diag.Action("dock_status")
	if !blocked {
		r.st.Stage = models.StageInitial
		r.out.Result = models.Succeeded(models.StateMain, models.StateMain, map[string]any{"freed_slots": 0})
		return r.st, r.out, nil
	}

	// One-step hysteresis: the flag is read once here and rewritten below
	branch := st.Mode
	forced := st.UnableToEnhance
	if forced {
		branch = models.RetireModeOneClick
	}

	freed := 0
	for stage := models.StageInitial; stage < models.StageEscalate; stage++ {
		if err := e.enterStage(ctx, r, stage); err != nil {
			return st, Outcome{}, err
		}
		n, used, err := e.attempt(ctx, r, branch)
		if err != nil {
			return st, Outcome{}, err
		}
		branch = used
		if n > 0 {
			freed = n
			break
		}
	}

	r.out.Branch = branch
	r.out.Freed = freed

	switch {
	case r.out.EnhanceShort:
		r.st.UnableToEnhance = true
	case forced, freed >= e.cfg.MinFreeSlots:
		r.st.UnableToEnhance = false
	}

	if freed == 0 {
		return e.escalate(ctx, r)
	}

	r.st.Stage = models.StageInitial
	r.diag.LastObserved = models.StateRetireDone
	r.out.Result = models.Succeeded(models.StateRetireDone, models.StateRetireDone, map[string]any{
		"freed_slots":   freed,
		"branch":        branch.String(),
		"stages":        len(r.out.Stages),
		"enhance_index": r.st.EnhanceIndex,
	})
	r.out.Result.Diagnostics = r.diag
	return r.st, r.out, nil
}

// EnhancePass runs the enhance branch once without the ladder. It keeps the
// dock buffer topped up between capacity interrupts.
func (e *Engine) EnhancePass(ctx context.Context, st models.RetirementState) (models.RetirementState, Outcome, error) {
	if err := e.check(st); err != nil {
		return st, Outcome{}, err
	}
	r := &run{
		st:   st,
		diag: &models.Diagnostics{Domain: models.DomainEnhance, Task: e.enhanceTask},
	}
	r.out.Branch = models.RetireModeEnhance

	n, fellBack, err := e.enhance(ctx, r)
	if err != nil {
		return st, Outcome{}, err
	}
	r.out.Freed = n
	if r.out.EnhanceShort {
		r.st.UnableToEnhance = true
	} else if n >= e.cfg.MinFreeSlots {
		r.st.UnableToEnhance = false
	}

	if fellBack {
		err := models.Errorf(models.KindResourceExhausted, "enhance pass stopped after %d consumed", n).WithDomain(models.DomainEnhance)
		r.out.Result = models.Failed(err, models.StateUnknown, models.StateRetireDone, r.diag)
		return r.st, r.out, nil
	}
	r.out.Result = models.Succeeded(models.StateRetireDone, models.StateRetireDone, map[string]any{
		"freed_slots":   n,
		"enhance_index": r.st.EnhanceIndex,
	})
	return r.st, r.out, nil
}

func (e *Engine) check(st models.RetirementState) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	switch st.Mode {
	case models.RetireModeOneClick, models.RetireModeEnhance:
	default:
		return models.Errorf(models.KindConfigurationInvalid, "unknown retire mode %d", int(st.Mode)).WithDomain(models.DomainRetirement)
	}
	if st.EnhanceIndex < 1 || st.EnhanceIndex > e.cfg.MaxIndex {
		return models.Errorf(models.KindConfigurationInvalid, "enhance index %d outside 1..%d", st.EnhanceIndex, e.cfg.MaxIndex).WithDomain(models.DomainRetirement)
	}
	if st.Stage < models.StageInitial || st.Stage > models.StageEscalate {
		return models.Errorf(models.KindConfigurationInvalid, "ladder stage %d outside 0..3", int(st.Stage)).WithDomain(models.DomainRetirement)
	}
	return nil
}

func (e *Engine) enterStage(ctx context.Context, r *run, stage models.LadderStage) error {
	r.st.Stage = stage
	r.out.Stages = append(r.out.Stages, stage)
	if e.recorder != nil {
		e.recorder.LadderStage(stage)
	}

	switch stage {
	case models.StageInitial:
		e.infof("Ladder `%s` stage %d: %s", models.DomainRetirement, stage, stage)
		return nil
	case models.StageResetFilters:
		e.infof("Ladder `%s` stage %d: %s", models.DomainRetirement, stage, stage)
		r.diag.Action("retire_reset_filters")
		return e.tolerate(ctx, r, e.dock.ResetFilters(ctx))
	case models.StageWidenKeep:
		e.warnf("Ladder `%s` stage %d: %s (changes a persistent in-game setting)", models.DomainRetirement, stage, stage)
		r.diag.Action("retire_widen_keep")
		return e.tolerate(ctx, r, e.dock.WidenKeepPolicy(ctx))
	default:
		return fmt.Errorf("stage %d is not a retry stage", stage)
	}
}

// attempt runs branch once. It returns the slots freed and the branch that
// actually ran, which differs from branch when enhance fell back.
func (e *Engine) attempt(ctx context.Context, r *run, branch models.RetireMode) (int, models.RetireMode, error) {
	// Only the pass that ends the invocation decides the flag
	r.out.EnhanceShort = false
	switch branch {
	case models.RetireModeEnhance:
		n, fellBack, err := e.enhance(ctx, r)
		if err != nil {
			return 0, branch, err
		}
		if !fellBack {
			return n, branch, nil
		}
		if n > 0 {
			return n, branch, nil
		}
		e.infof("Ladder `%s`: enhance unavailable, switching to %s", models.DomainRetirement, models.RetireModeOneClick)
		n, err = e.oneClick(ctx, r)
		return n, models.RetireModeOneClick, err
	case models.RetireModeOneClick:
		n, err := e.oneClick(ctx, r)
		return n, branch, err
	default:
		return 0, branch, models.Errorf(models.KindConfigurationInvalid, "unknown retire mode %d", int(branch))
	}
}

func (e *Engine) oneClick(ctx context.Context, r *run) (int, error) {
	r.diag.Action("retire_one_click")
	n, err := e.dock.OneClickRetire(ctx)
	if err != nil {
		return 0, e.tolerate(ctx, r, err)
	}
	r.diag.Marker(fmt.Sprintf("one_click freed=%d", n))
	return n, nil
}

// enhance advances past capped targets and feeds fodder into the first
// uncapped one. fellBack is true when the branch cannot continue this
// invocation: targets exhausted or balance too low.
func (e *Engine) enhance(ctx context.Context, r *run) (freed int, fellBack bool, err error) {
	var target models.EnhancementTarget
	for {
		r.diag.Action(fmt.Sprintf("enhance_target[%d]", r.st.EnhanceIndex))
		target, err = e.dock.Target(ctx, r.st.EnhanceIndex)
		if err != nil {
			return 0, true, e.tolerate(ctx, r, err)
		}
		if !target.Capped() {
			break
		}
		r.diag.Marker(fmt.Sprintf("target %d capped at %d", target.Index, target.Cap))
		if r.st.EnhanceIndex+1 > e.cfg.MaxIndex {
			r.out.EnhanceExhausted = true
			e.warnf("Enhance targets exhausted at index %d; disabling %s", r.st.EnhanceIndex, e.enhanceTask)
			if e.disabler != nil {
				if err := e.disabler.Disable(e.enhanceTask, "enhance targets exhausted"); err != nil {
					e.warnf("Enhance: disable %s failed: %v", e.enhanceTask, err)
				}
			}
			return 0, true, nil
		}
		r.st.EnhanceIndex++
		r.out.IndexAdvanced++
	}

	fe := &fodder.Engine{
		Domain:     models.DomainEnhance,
		MinBalance: e.cfg.MinBalance,
		MaxBatches: e.cfg.MaxBatches,
		Logger:     e.logger,
	}
	src := &targetSource{dock: e.dock, filter: e.cfg.ShipToEnhance, target: target}
	res, err := fe.Consume(ctx, src, e.cfg.MaxFeedLevel)
	if err != nil {
		return 0, true, e.tolerate(ctx, r, err)
	}
	r.diag.Action(fmt.Sprintf("enhance_confirm x%d", res.Batches))
	r.diag.Marker(fmt.Sprintf("enhance consumed=%d stop=%s", res.Consumed, res.Stop))
	if e.recorder != nil && res.Consumed > 0 {
		e.recorder.FodderConsumed(models.DomainEnhance, res.Consumed)
	}
	if res.Consumed < e.cfg.MinFreeSlots {
		r.out.EnhanceShort = true
	}
	if res.Stop == fodder.StopBelowBalance {
		e.warnf("Enhance: balance %d below %d after %d consumed", res.LastBalance, e.cfg.MinBalance, res.Consumed)
		return res.Consumed, true, nil
	}
	return res.Consumed, false, nil
}

func (e *Engine) escalate(ctx context.Context, r *run) (models.RetirementState, Outcome, error) {
	r.st.Stage = models.StageEscalate
	r.out.Stages = append(r.out.Stages, models.StageEscalate)
	r.out.Escalated = true
	if e.recorder != nil {
		e.recorder.LadderStage(models.StageEscalate)
	}
	e.warnf("Ladder `%s` stage %d: %s", models.DomainRetirement, models.StageEscalate, models.StageEscalate)
	r.diag.LastObserved = models.StateDockFull
	r.out.Result = e.gate.Escalate(ctx, escalation.Context{
		Domain:      models.DomainRetirement,
		Task:        e.retireTask,
		Reason:      "retirement ladder exhausted: no slots freed",
		Expected:    models.StateRetireDone,
		Diagnostics: r.diag,
	})
	return r.st, r.out, nil
}

// tolerate turns a device-level failure into a zero-progress attempt so the
// ladder can advance. Cancellation and invalid configuration still abort.
func (e *Engine) tolerate(ctx context.Context, r *run, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return models.NewError(models.KindTimeout, "retirement abandoned", ctx.Err()).WithDomain(models.DomainRetirement)
	}
	if models.IsKind(err, models.KindConfigurationInvalid) || errors.Is(err, context.Canceled) {
		return err
	}
	r.diag.Marker("error: " + err.Error())
	e.warnf("Ladder `%s`: attempt failed [%s]: %v", models.DomainRetirement, models.KindOf(err), err)
	return nil
}

func (e *Engine) infof(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Infof(format, args...)
	}
}

func (e *Engine) warnf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Warnf(format, args...)
	}
}

// targetSource binds the dock to one enhancement target for the fodder loop.
type targetSource struct {
	dock   Dock
	filter models.ShipFilter
	target models.EnhancementTarget
}

func (s *targetSource) Balance(ctx context.Context) (int, error) {
	return s.dock.Balance(ctx)
}

func (s *targetSource) Scan(ctx context.Context) ([]models.FodderCandidate, error) {
	return s.dock.Scan(ctx, s.filter, s.target)
}

func (s *targetSource) Confirm(ctx context.Context, selected []models.FodderCandidate) (int, error) {
	return s.dock.Confirm(ctx, s.target, selected)
}
