package retire

import (
	"context"

	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/tool"
)

// Tool names used by ToolDock
const (
	ToolDockStatus      = "dock_status"
	ToolRetireOneClick  = "retire_one_click"
	ToolEnhanceTarget   = "enhance_target"
	ToolFodderScan      = "fodder_scan"
	ToolEnhanceConfirm  = "enhance_confirm"
	ToolResourceBalance = "resource_balance"
	ToolResetFilters    = "retire_reset_filters"
	ToolWidenKeep       = "retire_widen_keep"
)

// ToolDock implements Dock over a Tool Provider.
type ToolDock struct {
	provider tool.Provider
}

// NewToolDock creates a dock backed by p.
func NewToolDock(p tool.Provider) *ToolDock {
	return &ToolDock{provider: p}
}

// Blocked implements Dock. A dock_full observation is blocking on its own;
// otherwise used/capacity from the payload decide.
func (d *ToolDock) Blocked(ctx context.Context, minFree int) (bool, error) {
	res, err := tool.Expect(ctx, d.provider, ToolDockStatus, nil, models.StateUnknown)
	if err != nil {
		return false, err
	}
	if res.ObservedState == models.StateDockFull {
		return true, nil
	}
	used, uerr := tool.Int(res.Data, "used")
	capacity, cerr := tool.Int(res.Data, "capacity")
	if uerr != nil || cerr != nil {
		return false, nil
	}
	return capacity-used < minFree, nil
}

// OneClickRetire implements Dock.
func (d *ToolDock) OneClickRetire(ctx context.Context) (int, error) {
	res, err := tool.Expect(ctx, d.provider, ToolRetireOneClick, nil, models.StateRetireDone)
	if err != nil {
		return 0, err
	}
	return tool.Int(res.Data, "freed")
}

// Target implements Dock.
func (d *ToolDock) Target(ctx context.Context, index int) (models.EnhancementTarget, error) {
	res, err := tool.Expect(ctx, d.provider, ToolEnhanceTarget, map[string]any{"index": index}, models.StateUnknown)
	if err != nil {
		return models.EnhancementTarget{}, err
	}
	level, err := tool.Int(res.Data, "level")
	if err != nil {
		return models.EnhancementTarget{}, err
	}
	return models.EnhancementTarget{
		Index: index,
		Level: level,
		Cap:   tool.IntOr(res.Data, "cap", 0),
	}, nil
}

// Balance implements Dock.
func (d *ToolDock) Balance(ctx context.Context) (int, error) {
	res, err := tool.Expect(ctx, d.provider, ToolResourceBalance, nil, models.StateUnknown)
	if err != nil {
		return 0, err
	}
	return tool.Int(res.Data, "balance")
}

// Scan implements Dock.
func (d *ToolDock) Scan(ctx context.Context, filter models.ShipFilter, target models.EnhancementTarget) ([]models.FodderCandidate, error) {
	args := map[string]any{"filter": filter.String(), "index": target.Index}
	res, err := tool.Expect(ctx, d.provider, ToolFodderScan, args, models.StateUnknown)
	if err != nil {
		return nil, err
	}
	return tool.Candidates(res.Data)
}

// Confirm implements Dock.
func (d *ToolDock) Confirm(ctx context.Context, target models.EnhancementTarget, selected []models.FodderCandidate) (int, error) {
	ids := make([]string, len(selected))
	for i, c := range selected {
		ids[i] = c.ID
	}
	args := map[string]any{"index": target.Index, "ids": ids}
	res, err := tool.Expect(ctx, d.provider, ToolEnhanceConfirm, args, models.StateUnknown)
	if err != nil {
		return 0, err
	}
	return tool.IntOr(res.Data, "consumed", len(selected)), nil
}

// ResetFilters implements Dock.
func (d *ToolDock) ResetFilters(ctx context.Context) error {
	_, err := tool.Expect(ctx, d.provider, ToolResetFilters, nil, models.StateFiltersReset)
	return err
}

// WidenKeepPolicy implements Dock.
func (d *ToolDock) WidenKeepPolicy(ctx context.Context) error {
	_, err := tool.Expect(ctx, d.provider, ToolWidenKeep, nil, models.StateKeepWidened)
	return err
}
